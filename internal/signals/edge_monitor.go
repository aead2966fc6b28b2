package signals

import (
	"fmt"
	"strings"

	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EDGE MONITOR - Alerts when open positions lose their signal
// ═══════════════════════════════════════════════════════════════════════════════

// OpenPosition is one held (ticker, side) exposure.
type OpenPosition struct {
	Ticker string
	Side   string // "yes" or "no"
}

// BuildEdgeDecayAlerts flags open positions whose current signal vanished,
// flipped direction, or decayed below the threshold. Tickers holding both
// sides are boxed (likely arbitrage) and are skipped; directional alerts
// are not actionable there. activeTickers, when non-nil, suppresses
// no-signal alerts for markets that are no longer being evaluated.
func BuildEdgeDecayAlerts(positions []OpenPosition, current []models.Signal, thresholdBps float64, activeTickers map[string]bool) []string {
	signalByTicker := make(map[string]models.Signal, len(current))
	for _, s := range current {
		signalByTicker[s.Ticker] = s
	}

	sidesByTicker := make(map[string]map[string]bool)
	for _, p := range positions {
		side := strings.ToLower(p.Side)
		if p.Ticker == "" || (side != "yes" && side != "no") {
			continue
		}
		if sidesByTicker[p.Ticker] == nil {
			sidesByTicker[p.Ticker] = make(map[string]bool)
		}
		sidesByTicker[p.Ticker][side] = true
	}

	var alerts []string
	noSignalNotified := make(map[string]bool)

	for _, p := range positions {
		side := strings.ToLower(p.Side)
		if p.Ticker == "" || (side != "yes" && side != "no") {
			continue
		}
		if len(sidesByTicker[p.Ticker]) > 1 {
			continue // hedged
		}

		sig, hasSignal := signalByTicker[p.Ticker]
		if !hasSignal {
			if activeTickers != nil && !activeTickers[p.Ticker] {
				continue
			}
			if noSignalNotified[p.Ticker] {
				continue
			}
			alerts = append(alerts, fmt.Sprintf("⚠️ No current signal for %s while a position is open.", p.Ticker))
			noSignalNotified[p.Ticker] = true
			continue
		}

		expected := models.DirectionBuyYes
		if side == "no" {
			expected = models.DirectionBuyNo
		}
		if sig.Direction != models.DirectionFlat && sig.Direction != expected {
			alerts = append(alerts, fmt.Sprintf("🔴 Signal flipped on %s: open side=%s current=%s edge=%.2f bps",
				p.Ticker, strings.ToUpper(side), sig.Direction, sig.EdgeBps))
			continue
		}

		if absFloat(sig.EdgeBps) < thresholdBps {
			alerts = append(alerts, fmt.Sprintf("⚠️ Edge decayed on %s: current edge=%.2f bps (< %.0f bps)",
				p.Ticker, sig.EdgeBps, thresholdBps))
		}
	}
	return alerts
}
