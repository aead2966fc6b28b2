package collectors

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestMeasurementWindowDST(t *testing.T) {
	t.Parallel()
	loc := nyLocation(t)

	day := time.Date(2026, 7, 8, 15, 0, 0, 0, loc)
	start, end := MeasurementWindow(day, loc)

	assert.Equal(t, time.Date(2026, 7, 8, 1, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 7, 9, 1, 0, 0, 0, loc), end)
}

func TestMeasurementWindowStandardTime(t *testing.T) {
	t.Parallel()
	loc := nyLocation(t)

	day := time.Date(2026, 2, 8, 15, 0, 0, 0, loc)
	start, end := MeasurementWindow(day, loc)

	assert.Equal(t, time.Date(2026, 2, 8, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 2, 9, 0, 0, 0, 0, loc), end)
}

func TestExtractSamplesPerMemberDailyMax(t *testing.T) {
	t.Parallel()

	w := &WeatherCollector{location: nyLocation(t), tzName: "America/New_York"}

	hourly := map[string]any{
		"time": []string{"2026-07-08T10:00", "2026-07-08T14:00", "2026-07-08T18:00"},
		"temperature_2m_member01": []any{80.0, 92.5, 88.0},
		"temperature_2m_member02": []any{79.0, nil, 85.5},
	}
	raw := make(map[string]json.RawMessage)
	for k, v := range hourly {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		raw[k] = b
	}

	target := time.Date(2026, 7, 8, 12, 0, 0, 0, nyLocation(t))
	samples := w.extractSamples(&hourlyPayload{Hourly: raw}, target, time.Now(), "ensemble")

	require.Len(t, samples, 2)
	byMember := map[string]float64{}
	for _, s := range samples {
		byMember[s.Member] = s.MaxTempF
	}
	assert.Equal(t, 92.5, byMember["member01"])
	assert.Equal(t, 85.5, byMember["member02"], "nil hours are skipped, not zeroed")
}

func TestExtractSamplesIgnoresHoursOutsideWindow(t *testing.T) {
	t.Parallel()

	w := &WeatherCollector{location: nyLocation(t), tzName: "America/New_York"}

	raw := map[string]json.RawMessage{
		"time":                    mustJSON(t, []string{"2026-07-08T00:30", "2026-07-08T12:00"}),
		"temperature_2m_member01": mustJSON(t, []float64{99, 85}),
	}

	// 00:30 precedes the DST window start of 01:00.
	target := time.Date(2026, 7, 8, 12, 0, 0, 0, nyLocation(t))
	samples := w.extractSamples(&hourlyPayload{Hourly: raw}, target, time.Now(), "ensemble")

	require.Len(t, samples, 1)
	assert.Equal(t, 85.0, samples[0].MaxTempF)
}

func TestMemberName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "member03", memberName("temperature_2m_member3"))
	assert.Equal(t, "member12", memberName("temperature_2m_member_12"))
	assert.Equal(t, "temperature_2m", memberName("temperature_2m"))
}

func TestModelFromMemberKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gfs_ensemble", modelFromMemberKey("temperature_2m_gfs_seamless_member01", "x"))
	assert.Equal(t, "ecmwf_ifs025_ensemble", modelFromMemberKey("temperature_2m_ECMWF_member04", "x"))
	assert.Equal(t, "fallback", modelFromMemberKey("temperature_2m_member01", "fallback"))
}

func TestDeterministicModels(t *testing.T) {
	t.Parallel()

	csv := deterministicModels([]string{"gfs_ensemble", "ecmwf_ifs025_ensemble", "gfs_ensemble"})
	assert.Equal(t, "best_match,hrrr_conus,gfs_seamless,ecmwf_ifs025", csv)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
