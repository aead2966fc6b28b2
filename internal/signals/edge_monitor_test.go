package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/kalshibot/internal/models"
)

func TestEdgeDecayNoSignalAlert(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{{Ticker: "MKT-1", Side: "yes"}},
		nil, 300, nil,
	)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "No current signal for MKT-1")
}

func TestEdgeDecayNoSignalSuppressedForInactiveMarket(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{{Ticker: "MKT-1", Side: "yes"}},
		nil, 300,
		map[string]bool{"MKT-2": true},
	)
	assert.Empty(t, alerts, "markets no longer evaluated do not alert")
}

func TestEdgeDecayFlippedDirection(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{{Ticker: "MKT-1", Side: "yes"}},
		[]models.Signal{{Ticker: "MKT-1", Direction: models.DirectionBuyNo, EdgeBps: -800}},
		300, nil,
	)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "Signal flipped on MKT-1")
}

func TestEdgeDecayBelowThreshold(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{{Ticker: "MKT-1", Side: "yes"}},
		[]models.Signal{{Ticker: "MKT-1", Direction: models.DirectionBuyYes, EdgeBps: 120}},
		300, nil,
	)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "Edge decayed on MKT-1")
}

func TestEdgeDecayHealthyPositionSilent(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{{Ticker: "MKT-1", Side: "yes"}},
		[]models.Signal{{Ticker: "MKT-1", Direction: models.DirectionBuyYes, EdgeBps: 900}},
		300, nil,
	)
	assert.Empty(t, alerts)
}

func TestEdgeDecayHedgedPositionSkipped(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{
			{Ticker: "MKT-1", Side: "yes"},
			{Ticker: "MKT-1", Side: "no"},
		},
		[]models.Signal{{Ticker: "MKT-1", Direction: models.DirectionBuyNo, EdgeBps: -900}},
		300, nil,
	)
	assert.Empty(t, alerts, "boxed positions never produce directional alerts")
}

func TestEdgeDecayNoSignalAlertDeduplicatedPerTicker(t *testing.T) {
	t.Parallel()

	alerts := BuildEdgeDecayAlerts(
		[]OpenPosition{
			{Ticker: "MKT-1", Side: "yes"},
			{Ticker: "MKT-1", Side: "yes"},
		},
		nil, 300, nil,
	)
	assert.Len(t, alerts, 1)
}
