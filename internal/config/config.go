package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION - Environment-driven settings with profile/mode overlays
// ═══════════════════════════════════════════════════════════════════════════════

// Bot modes. Any transition into a live_* mode requires a second explicit
// confirmation (see pipeline.ModeState).
const (
	ModeCustom   = "custom"
	ModeDemoSafe = "demo_safe"
	ModeLiveSafe = "live_safe"
	ModeLiveAuto = "live_auto"
)

// Trading profiles overlay threshold defaults.
const (
	ProfileConservative = "conservative"
	ProfileBalanced     = "balanced"
	ProfileAggressive   = "aggressive"
)

// Config holds all configuration for the bot
type Config struct {
	// Telegram
	TelegramToken      string
	TelegramChatID     int64
	TelegramMinEdgeBps float64

	// Mode / profile
	BotMode        string
	TradingProfile string
	Debug          bool

	// Kalshi API
	KalshiAPIBase        string
	KalshiAccessKey      string
	KalshiPrivateKeyPath string

	// Market discovery
	PollInterval        time.Duration
	MarketLimit         int
	TargetSeriesTickers []string
	TargetMarketStatus  string
	LifecyclePrefix     string

	// Signals
	SignalMinEdgeBps float64
	SignalStoreAll   bool
	MinConfidence    float64
	WeatherEnabled   bool
	BTCEnabled       bool

	// Weather ensemble
	WeatherLatitude     float64
	WeatherLongitude    float64
	WeatherTimezone     string
	WeatherModels       []string
	WeatherForecastDays int

	// Paper trading
	PaperTradingMode     string // "simulate" or "kalshi_demo"
	SizingMode           string // "fixed" or "kelly"
	FixedContractCount   int
	KellyFractionScale   float64
	Bankroll             decimal.Decimal
	MaxPositionDollars   decimal.Decimal
	MaxPortfolioDollars  decimal.Decimal
	CooldownMinutes      int
	MakerOnly            bool
	MinPriceCents        int
	MaxPriceCents        int
	MaxOrdersPerCycle    int
	FillProbDefault      float64
	FillProbLookbackDays int

	// Queue management / reprice
	QueueManagementEnabled bool
	QueueMaxDepth          int
	QueueStaleMinutes      int
	RepriceCooldownMinutes int
	RepriceMaxPerWindow    int
	RepriceWindowMinutes   int

	// Bracket arbitrage
	BracketArbEnabled             bool
	BracketArbMinProfitAfterFees  int
	BracketArbAlertEnabled        bool

	// Weather live gates
	WeatherGateMinResolvedDays     int
	WeatherGateMinBrierAdvantage   float64
	WeatherGateMinSimProfitCents   float64
	WeatherGateMaxCalibrationError float64

	// Historical backfill
	HistoricalBackfillEnabled bool
	HistoricalDays            int
	HistoricalMarkets         int

	// Runtime
	Paused             bool
	AutoTradingEnabled bool
	HealthAuditEnabled bool

	// Database
	DatabaseURL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Telegram
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramMinEdgeBps: getEnvFloat("TELEGRAM_MIN_EDGE_BPS", 300),

		// Mode
		BotMode:        getEnv("BOT_MODE", ModeCustom),
		TradingProfile: getEnv("TRADING_PROFILE", ProfileBalanced),
		Debug:          getEnvBool("DEBUG", false),

		// Kalshi API
		KalshiAPIBase:        getEnv("KALSHI_API_BASE", "https://demo-api.kalshi.co/trade-api/v2"),
		KalshiAccessKey:      os.Getenv("KALSHI_ACCESS_KEY"),
		KalshiPrivateKeyPath: os.Getenv("KALSHI_PRIVATE_KEY_PATH"),

		// Discovery
		PollInterval:        getEnvDuration("POLL_INTERVAL", 300*time.Second),
		MarketLimit:         getEnvInt("MARKET_LIMIT", 40),
		TargetSeriesTickers: getEnvList("TARGET_SERIES_TICKERS", []string{"KXHIGHNY", "KXBTC15M"}),
		TargetMarketStatus:  getEnv("TARGET_MARKET_STATUS", "open"),
		LifecyclePrefix:     getEnv("LIFECYCLE_AUTOSUBSCRIBE_PREFIX", "KXBTC15M"),

		// Signals
		SignalMinEdgeBps: getEnvFloat("SIGNAL_MIN_EDGE_BPS", 500),
		SignalStoreAll:   getEnvBool("SIGNAL_STORE_ALL", false),
		MinConfidence:    getEnvFloat("SIGNAL_MIN_CONFIDENCE", 0.25),
		WeatherEnabled:   getEnvBool("WEATHER_SIGNALS_ENABLED", true),
		BTCEnabled:       getEnvBool("BTC_SIGNALS_ENABLED", true),

		// Weather ensemble (Central Park station)
		WeatherLatitude:     getEnvFloat("WEATHER_LATITUDE", 40.7794),
		WeatherLongitude:    getEnvFloat("WEATHER_LONGITUDE", -73.9692),
		WeatherTimezone:     getEnv("WEATHER_TIMEZONE", "America/New_York"),
		WeatherModels:       getEnvList("WEATHER_MODELS", []string{"gfs_seamless", "ecmwf_ifs025"}),
		WeatherForecastDays: getEnvInt("WEATHER_FORECAST_DAYS", 3),

		// Paper trading
		PaperTradingMode:     getEnv("PAPER_TRADING_MODE", "simulate"),
		SizingMode:           getEnv("PAPER_TRADE_SIZING_MODE", "kelly"),
		FixedContractCount:   getEnvInt("PAPER_TRADE_FIXED_COUNT", 10),
		KellyFractionScale:   getEnvFloat("KELLY_FRACTION_SCALE", 0.25),
		Bankroll:             getEnvDecimal("BANKROLL", decimal.NewFromInt(1000)),
		MaxPositionDollars:   getEnvDecimal("PAPER_TRADE_MAX_POSITION_DOLLARS", decimal.NewFromInt(50)),
		MaxPortfolioDollars:  getEnvDecimal("PAPER_TRADE_MAX_PORTFOLIO_EXPOSURE_DOLLARS", decimal.NewFromInt(250)),
		CooldownMinutes:      getEnvInt("PAPER_TRADE_COOLDOWN_MINUTES", 30),
		MakerOnly:            getEnvBool("PAPER_TRADE_MAKER_ONLY", true),
		MinPriceCents:        getEnvInt("PAPER_TRADE_MIN_PRICE_CENTS", 1),
		MaxPriceCents:        getEnvInt("PAPER_TRADE_MAX_PRICE_CENTS", 99),
		MaxOrdersPerCycle:    getEnvInt("PAPER_TRADE_MAX_ORDERS_PER_CYCLE", 5),
		FillProbDefault:      getEnvFloat("PAPER_TRADE_FILL_PROB_DEFAULT", 0.6),
		FillProbLookbackDays: getEnvInt("PAPER_TRADE_FILL_PROB_LOOKBACK_DAYS", 14),

		// Queue management
		QueueManagementEnabled: getEnvBool("PAPER_TRADE_QUEUE_MANAGEMENT", true),
		QueueMaxDepth:          getEnvInt("PAPER_TRADE_QUEUE_MAX_DEPTH", 200),
		QueueStaleMinutes:      getEnvInt("PAPER_TRADE_QUEUE_STALE_MINUTES", 10),
		RepriceCooldownMinutes: getEnvInt("PAPER_TRADE_REPRICE_COOLDOWN_MINUTES", 15),
		RepriceMaxPerWindow:    getEnvInt("PAPER_TRADE_REPRICE_MAX_PER_WINDOW", 3),
		RepriceWindowMinutes:   getEnvInt("PAPER_TRADE_REPRICE_WINDOW_MINUTES", 60),

		// Bracket arbitrage
		BracketArbEnabled:            getEnvBool("BRACKET_ARB_ENABLED", true),
		BracketArbMinProfitAfterFees: getEnvInt("BRACKET_ARB_MIN_PROFIT_AFTER_FEES_CENTS", 2),
		BracketArbAlertEnabled:       getEnvBool("BRACKET_ARB_ALERTS_ENABLED", true),

		// Weather live gates
		WeatherGateMinResolvedDays:     getEnvInt("WEATHER_LIVE_GATE_MIN_RESOLVED_DAYS", 10),
		WeatherGateMinBrierAdvantage:   getEnvFloat("WEATHER_LIVE_GATE_MIN_BRIER_ADVANTAGE", 0.01),
		WeatherGateMinSimProfitCents:   getEnvFloat("WEATHER_LIVE_GATE_MIN_SIM_PROFIT_CENTS", 0),
		WeatherGateMaxCalibrationError: getEnvFloat("WEATHER_LIVE_GATE_MAX_CALIBRATION_ERROR", 0.25),

		// Historical backfill
		HistoricalBackfillEnabled: getEnvBool("HISTORICAL_BACKFILL_ENABLED", false),
		HistoricalDays:            getEnvInt("HISTORICAL_BACKFILL_DAYS", 7),
		HistoricalMarkets:         getEnvInt("HISTORICAL_BACKFILL_MARKETS", 5),

		// Runtime
		Paused:             getEnvBool("START_PAUSED", false),
		AutoTradingEnabled: getEnvBool("AUTO_TRADING_ENABLED", true),
		HealthAuditEnabled: getEnvBool("HEALTH_AUDIT_ENABLED", true),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "data/kalshibot.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	cfg.applyProfile()
	cfg.applyMode()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyProfile overlays threshold defaults for the selected trading profile.
// Explicit env vars still win because the overlay only tightens or loosens
// values that were left at their defaults.
func (c *Config) applyProfile() {
	switch c.TradingProfile {
	case ProfileConservative:
		c.SignalMinEdgeBps = getEnvFloat("SIGNAL_MIN_EDGE_BPS", 800)
		c.MinConfidence = getEnvFloat("SIGNAL_MIN_CONFIDENCE", 0.4)
		c.KellyFractionScale = getEnvFloat("KELLY_FRACTION_SCALE", 0.15)
		c.MaxOrdersPerCycle = getEnvInt("PAPER_TRADE_MAX_ORDERS_PER_CYCLE", 3)
	case ProfileAggressive:
		c.SignalMinEdgeBps = getEnvFloat("SIGNAL_MIN_EDGE_BPS", 300)
		c.MinConfidence = getEnvFloat("SIGNAL_MIN_CONFIDENCE", 0.15)
		c.KellyFractionScale = getEnvFloat("KELLY_FRACTION_SCALE", 0.4)
		c.MaxOrdersPerCycle = getEnvInt("PAPER_TRADE_MAX_ORDERS_PER_CYCLE", 8)
	}
}

// applyMode overlays provider and trading toggles for the selected bot mode.
func (c *Config) applyMode() {
	switch c.BotMode {
	case ModeDemoSafe:
		c.PaperTradingMode = "kalshi_demo"
		c.AutoTradingEnabled = true
	case ModeLiveSafe:
		c.PaperTradingMode = "kalshi_demo"
		c.AutoTradingEnabled = false
	case ModeLiveAuto:
		c.PaperTradingMode = "kalshi_demo"
		c.AutoTradingEnabled = true
	}
}

func (c *Config) validate() error {
	switch c.BotMode {
	case ModeCustom, ModeDemoSafe, ModeLiveSafe, ModeLiveAuto:
	default:
		return fmt.Errorf("invalid BOT_MODE: %q", c.BotMode)
	}
	switch c.TradingProfile {
	case ProfileConservative, ProfileBalanced, ProfileAggressive:
	default:
		return fmt.Errorf("invalid TRADING_PROFILE: %q", c.TradingProfile)
	}
	if c.PaperTradingMode != "simulate" && c.PaperTradingMode != "kalshi_demo" {
		return fmt.Errorf("invalid PAPER_TRADING_MODE: %q", c.PaperTradingMode)
	}
	if c.PaperTradingMode == "kalshi_demo" && c.KalshiAccessKey == "" {
		return fmt.Errorf("KALSHI_ACCESS_KEY is required in kalshi_demo mode")
	}
	if c.KellyFractionScale < 0 || c.KellyFractionScale > 1 {
		return fmt.Errorf("KELLY_FRACTION_SCALE must be in [0,1], got %v", c.KellyFractionScale)
	}
	if c.MinPriceCents < 1 || c.MaxPriceCents > 99 || c.MinPriceCents > c.MaxPriceCents {
		return fmt.Errorf("invalid price bounds [%d,%d]", c.MinPriceCents, c.MaxPriceCents)
	}
	return nil
}

// IsLiveMode reports whether the current mode is one of the live modes.
func (c *Config) IsLiveMode() bool {
	return c.BotMode == ModeLiveSafe || c.BotMode == ModeLiveAuto
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
