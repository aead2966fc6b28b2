package signals

import (
	"regexp"
	"strconv"

	"github.com/web3guy0/kalshibot/internal/models"
)

// Bounds is a half-open temperature bracket [Low, High). A nil side is
// unbounded.
type Bounds struct {
	Low  *float64
	High *float64
}

var (
	belowRe = regexp.MustCompile(`(?i)below\s+(-?\d+(?:\.\d+)?)`)
	aboveRe = regexp.MustCompile(`(?i)(?:above|at least|or above|and above)\s+(-?\d+(?:\.\d+)?)`)
	plusRe  = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*(?:\+|or\s+higher)`)
	rangeRe = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*(?:to|through|-|–)\s*(-?\d+(?:\.\d+)?)`)
)

// ParseBounds resolves a market's bracket bounds from structured strikes
// when present, else from the subtitle/title text. Integer "X to Y" ranges
// are inclusive in market copy, so the upper bound becomes Y+1.
func ParseBounds(m models.Market) (Bounds, bool) {
	if m.FloorStrike != nil || m.CapStrike != nil {
		return Bounds{Low: m.FloorStrike, High: m.CapStrike}, true
	}

	for _, text := range []string{m.Subtitle, m.Title} {
		if text == "" {
			continue
		}
		if match := belowRe.FindStringSubmatch(text); match != nil {
			high := mustFloat(match[1])
			return Bounds{High: &high}, true
		}
		if match := aboveRe.FindStringSubmatch(text); match != nil {
			low := mustFloat(match[1])
			return Bounds{Low: &low}, true
		}
		if match := plusRe.FindStringSubmatch(text); match != nil {
			low := mustFloat(match[1])
			return Bounds{Low: &low}, true
		}
		if match := rangeRe.FindStringSubmatch(text); match != nil {
			low := mustFloat(match[1])
			high := mustFloat(match[2])
			if low == float64(int64(low)) && high == float64(int64(high)) {
				high++
			}
			return Bounds{Low: &low, High: &high}, true
		}
	}
	return Bounds{}, false
}

// Contains reports whether a value falls inside the half-open bracket.
func (b Bounds) Contains(v float64) bool {
	if b.Low != nil && v < *b.Low {
		return false
	}
	if b.High != nil && v >= *b.High {
		return false
	}
	return true
}

// ResultForBounds maps an observed value to a market result.
func ResultForBounds(v float64, b Bounds) string {
	if b.Contains(v) {
		return "yes"
	}
	return "no"
}

func mustFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
