package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_MODE", "")
	t.Setenv("TRADING_PROFILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeCustom, cfg.BotMode)
	assert.Equal(t, ProfileBalanced, cfg.TradingProfile)
	assert.Equal(t, "simulate", cfg.PaperTradingMode)
	assert.Equal(t, 500.0, cfg.SignalMinEdgeBps)
	assert.Equal(t, 1, cfg.MinPriceCents)
	assert.Equal(t, 99, cfg.MaxPriceCents)
	assert.True(t, cfg.MakerOnly)
}

func TestLoadConservativeProfile(t *testing.T) {
	t.Setenv("TRADING_PROFILE", ProfileConservative)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 800.0, cfg.SignalMinEdgeBps)
	assert.Equal(t, 0.4, cfg.MinConfidence)
	assert.Equal(t, 0.15, cfg.KellyFractionScale)
	assert.Equal(t, 3, cfg.MaxOrdersPerCycle)
}

func TestExplicitEnvWinsOverProfile(t *testing.T) {
	t.Setenv("TRADING_PROFILE", ProfileAggressive)
	t.Setenv("SIGNAL_MIN_EDGE_BPS", "1200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1200.0, cfg.SignalMinEdgeBps)
	// Untouched profile values still apply.
	assert.Equal(t, 0.4, cfg.KellyFractionScale)
}

func TestDemoSafeModeForcesSandbox(t *testing.T) {
	t.Setenv("BOT_MODE", ModeDemoSafe)
	t.Setenv("KALSHI_ACCESS_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "kalshi_demo", cfg.PaperTradingMode)
	assert.True(t, cfg.AutoTradingEnabled)
}

func TestLiveSafeModeDisablesAutoTrading(t *testing.T) {
	t.Setenv("BOT_MODE", ModeLiveSafe)
	t.Setenv("KALSHI_ACCESS_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.AutoTradingEnabled)
	assert.True(t, cfg.IsLiveMode())
}

func TestSandboxRequiresAccessKey(t *testing.T) {
	t.Setenv("BOT_MODE", ModeDemoSafe)
	t.Setenv("KALSHI_ACCESS_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KALSHI_ACCESS_KEY")
}

func TestInvalidModeRejected(t *testing.T) {
	t.Setenv("BOT_MODE", "yolo")

	_, err := Load()
	require.Error(t, err)
}

func TestInvalidKellyScaleRejected(t *testing.T) {
	t.Setenv("KELLY_FRACTION_SCALE", "1.5")

	_, err := Load()
	require.Error(t, err)
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TARGET_SERIES_TICKERS", "KXHIGHNY, KXBTC15M ,KXETH15M")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"KXHIGHNY", "KXBTC15M", "KXETH15M"}, cfg.TargetSeriesTickers)
}
