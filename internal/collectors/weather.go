package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEATHER ENSEMBLE COLLECTOR - Open-Meteo ensemble with deterministic fallback
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fetches hourly 2m temperatures per ensemble member and reduces each member
// to a daily max over the measurement window. When the ensemble endpoint
// succeeds, the deterministic forecast is still fetched and stored with a
// det_ member prefix as a cross-reference; when it fails, the deterministic
// forecast is the hard fallback.
//
// ═══════════════════════════════════════════════════════════════════════════════

const weatherHTTPTimeout = 20 * time.Second

// Open-Meteo has changed ensemble hosts over time; try both.
var ensembleEndpoints = []string{
	"https://ensemble-api.open-meteo.com/v1/ensemble",
	"https://api.open-meteo.com/v1/ensemble",
}

const forecastEndpoint = "https://api.open-meteo.com/v1/forecast"

var memberIndexRe = regexp.MustCompile(`(?i)member[_-]?(\d+)`)

// WeatherCollector fetches ensemble daily-max temperature samples.
type WeatherCollector struct {
	client       *http.Client
	latitude     float64
	longitude    float64
	location     *time.Location
	tzName       string
	models       []string
	forecastDays int
}

// NewWeatherCollector creates the collector. The timezone must resolve or
// the collector cannot compute local measurement windows.
func NewWeatherCollector(latitude, longitude float64, tzName string, modelList []string, forecastDays int) (*WeatherCollector, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}
	return &WeatherCollector{
		client:       &http.Client{Timeout: weatherHTTPTimeout},
		latitude:     latitude,
		longitude:    longitude,
		location:     loc,
		tzName:       tzName,
		models:       modelList,
		forecastDays: forecastDays,
	}, nil
}

type hourlyPayload struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

// Collect fetches ensemble and deterministic samples for today's local date.
func (w *WeatherCollector) Collect(ctx context.Context) []models.EnsembleSample {
	collectedAt := time.Now().UTC().Truncate(time.Second)
	targetDate := collectedAt.In(w.location)

	var samples []models.EnsembleSample

	for _, endpoint := range ensembleEndpoints {
		payload, err := w.fetch(ctx, endpoint, strings.Join(w.models, ","))
		if err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("⚠️ Ensemble fetch failed")
			continue
		}
		extracted := w.extractSamples(payload, targetDate, collectedAt, "ensemble")
		if len(extracted) > 0 {
			samples = append(samples, extracted...)
			break
		}
	}

	payload, err := w.fetch(ctx, forecastEndpoint, deterministicModels(w.models))
	if err != nil {
		log.Warn().Err(err).Str("endpoint", forecastEndpoint).Msg("⚠️ Forecast fetch failed")
		return samples
	}
	deterministic := w.extractSamples(payload, targetDate, collectedAt, "best_match")

	if len(samples) > 0 {
		// Ensemble succeeded; keep deterministic members as a prefixed
		// cross-reference so the natural key cannot collide.
		for _, s := range deterministic {
			s.Member = "det_" + s.Member
			samples = append(samples, s)
		}
	} else {
		samples = append(samples, deterministic...)
	}

	log.Info().Int("samples", len(samples)).Str("date", targetDate.Format("2006-01-02")).Msg("🌡️ Weather ensemble collected")
	return samples
}

func (w *WeatherCollector) fetch(ctx context.Context, endpoint, modelCSV string) (*hourlyPayload, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(w.latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(w.longitude, 'f', 4, 64))
	q.Set("hourly", "temperature_2m")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("models", modelCSV)
	q.Set("forecast_days", strconv.Itoa(w.forecastDays))
	q.Set("timezone", w.tzName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
	}

	var payload hourlyPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// extractSamples reduces every temperature_2m* member series to its daily
// max over the measurement window.
func (w *WeatherCollector) extractSamples(payload *hourlyPayload, targetDate, collectedAt time.Time, fallbackModel string) []models.EnsembleSample {
	if payload == nil || payload.Hourly == nil {
		return nil
	}

	var times []string
	if raw, ok := payload.Hourly["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil || len(times) == 0 {
			return nil
		}
	} else {
		return nil
	}

	dateStr := targetDate.Format("2006-01-02")
	var samples []models.EnsembleSample
	for key, raw := range payload.Hourly {
		if key == "time" || !strings.HasPrefix(strings.ToLower(key), "temperature_2m") {
			continue
		}
		var values []*float64
		if err := json.Unmarshal(raw, &values); err != nil || len(values) != len(times) {
			continue
		}
		dayMax, ok := w.dailyMax(values, times, targetDate)
		if !ok {
			continue
		}
		samples = append(samples, models.EnsembleSample{
			CollectedAt: collectedAt,
			TargetDate:  dateStr,
			Model:       modelFromMemberKey(key, fallbackModel),
			Member:      memberName(key),
			MaxTempF:    dayMax,
		})
	}
	return samples
}

func (w *WeatherCollector) dailyMax(values []*float64, times []string, targetDate time.Time) (float64, bool) {
	start, end := MeasurementWindow(targetDate, w.location)

	var max float64
	found := false
	for i, raw := range times {
		ts, ok := parseLocalTime(raw, w.location)
		if !ok || ts.Before(start) || !ts.Before(end) {
			continue
		}
		if values[i] == nil {
			continue
		}
		if !found || *values[i] > max {
			max = *values[i]
			found = true
		}
	}
	return max, found
}

// MeasurementWindow is the local interval whose hourly temperatures define a
// day's maximum: [01:00, next-day 01:00) during DST, [00:00, next-day 00:00)
// otherwise. Deviating from this rule breaks calibration against the
// official daily climate record.
func MeasurementWindow(targetDate time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := targetDate.In(loc).Date()
	startHour := 0
	if time.Date(y, m, d, 12, 0, 0, 0, loc).IsDST() {
		startHour = 1
	}
	start := time.Date(y, m, d, startHour, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func parseLocalTime(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02T15:04", time.RFC3339} {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts.In(loc), true
		}
	}
	return time.Time{}, false
}

func modelFromMemberKey(key, fallback string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "ecmwf"):
		return "ecmwf_ifs025_ensemble"
	case strings.Contains(lower, "gfs"):
		return "gfs_ensemble"
	case strings.Contains(lower, "icon"):
		return "icon_seamless"
	case strings.Contains(lower, "hrrr"):
		return "hrrr_conus"
	case strings.Contains(lower, "best_match"):
		return "best_match"
	}
	return fallback
}

// memberName normalizes temperature_2m_member3 style keys to member03.
func memberName(key string) string {
	if m := memberIndexRe.FindStringSubmatch(key); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil {
			return fmt.Sprintf("member%02d", idx)
		}
	}
	return key
}

// deterministicModels maps ensemble model names onto their deterministic
// counterparts for the cross-reference fetch.
func deterministicModels(ensembleModels []string) string {
	out := []string{"best_match", "hrrr_conus"}
	seen := map[string]bool{"best_match": true, "hrrr_conus": true}
	for _, m := range ensembleModels {
		normalized := strings.ToLower(strings.TrimSpace(m))
		if normalized == "" {
			continue
		}
		switch normalized {
		case "gfs_ensemble":
			normalized = "gfs_seamless"
		case "ecmwf_ifs025_ensemble":
			normalized = "ecmwf_ifs025"
		default:
			normalized = strings.ReplaceAll(normalized, "_ensemble", "")
		}
		if !seen[normalized] {
			seen[normalized] = true
			out = append(out, normalized)
		}
	}
	return strings.Join(out, ",")
}
