// controller.go - Command surface driven by the Telegram command loop.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/web3guy0/kalshibot/internal/analysis"
	"github.com/web3guy0/kalshibot/internal/models"
)

// Status reports mode, toggles and pipeline recency.
func (p *Pipeline) Status() string {
	mode, paused, autoTrading := p.Modes.Snapshot()

	pauseText := "▶️ running"
	if paused {
		pauseText = "⏸️ paused"
	}
	autoText := "🔴 OFF"
	if autoTrading {
		autoText = "🟢 ON"
	}

	lastPoll := "never"
	if v, ok := p.store.GetState(lastPollKey); ok {
		lastPoll = v
	}

	openCount := 0
	if rollups, err := p.store.OpenPositions(); err == nil {
		openCount = len(rollups)
	}

	return fmt.Sprintf(`📊 *Bot Status*

*Mode:* %s
*Trading:* %s
*Auto-trade:* %s
*Provider:* %s

*Open positions:* %d
*Last poll:* %s`,
		mode, pauseText, autoText, p.cfg.PaperTradingMode, openCount, lastPoll)
}

// Pause suspends trading.
func (p *Pipeline) Pause() string { return p.Modes.Pause() }

// Resume re-enables trading.
func (p *Pipeline) Resume() string { return p.Modes.Resume() }

// SetMode requests a mode switch.
func (p *Pipeline) SetMode(mode string) string { return p.Modes.SetMode(mode) }

// Confirm applies a pending live-mode switch.
func (p *Pipeline) Confirm() string { return p.Modes.Confirm() }

// Report renders the weather calibration and per-type accuracy summaries.
func (p *Pipeline) Report() string {
	var sb strings.Builder
	sb.WriteString("📈 *Performance Report*\n")

	rows, err := p.store.WeatherBacktestRows(calibrationLookback)
	if err == nil && len(rows) > 0 {
		cal := analysis.WeatherCalibration(rows, calibrationLookback)
		fmt.Fprintf(&sb, "\n*Weather calibration* (%dd)\n", cal.Days)
		fmt.Fprintf(&sb, "├ Brackets: %d over %d resolved days\n", cal.Brackets, cal.ResolvedDays)
		if cal.ModelBrier != nil && cal.MarketBrier != nil {
			fmt.Fprintf(&sb, "├ Brier: model %.4f vs market %.4f\n", *cal.ModelBrier, *cal.MarketBrier)
		}
		if cal.EdgeHitRate != nil {
			fmt.Fprintf(&sb, "├ Edge hit rate: %.0f%%\n", *cal.EdgeHitRate*100)
		}
		fmt.Fprintf(&sb, "└ Sim PnL: %+.0f¢\n", cal.SimPnLCents)

		if gates, ok := p.checkWeatherGates(); ok {
			verdict := "❌ closed"
			if gates.AllPassed() {
				verdict = "✅ open"
			}
			fmt.Fprintf(&sb, "\n*Live gates:* %s\n", verdict)
		}
	} else {
		sb.WriteString("\n_No weather calibration data yet._\n")
	}

	for _, signalType := range []string{models.SignalTypeWeather, models.SignalTypeBTC} {
		accRows, err := p.store.AccuracyRows(signalType, reportLookbackDays)
		if err != nil || len(accRows) == 0 {
			continue
		}
		report := analysis.BuildAccuracyReport(accRows, signalType, reportLookbackDays)
		fmt.Fprintf(&sb, "\n*%s accuracy* (%dd, %d signals)\n", signalType, report.Days, report.Signals)
		if report.HitRate != nil {
			fmt.Fprintf(&sb, "├ Hit rate: %.0f%%\n", *report.HitRate*100)
		}
		if report.BrierScore != nil {
			fmt.Fprintf(&sb, "├ Brier: %.4f\n", *report.BrierScore)
		}
		fmt.Fprintf(&sb, "├ Total PnL: %+.0f¢\n", report.TotalPnLCents)
		if report.SharpeProxy != nil {
			fmt.Fprintf(&sb, "└ sharpe_proxy: %.3f\n", *report.SharpeProxy)
		}
	}

	for _, series := range p.cfg.TargetSeriesTickers {
		fm, err := p.store.FillMetrics(series, reportLookbackDays)
		if err != nil || fm.Orders == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n*%s fills* (%dd, %d orders)\n", series, reportLookbackDays, fm.Orders)
		fmt.Fprintf(&sb, "├ Fill rate: %.0f%%\n", fm.FillRate*100)
		fmt.Fprintf(&sb, "└ Avg time to fill: %.1f min\n", fm.AvgFillMinutes)
	}
	return strings.TrimRight(sb.String(), "\n")
}
