package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CORE DOMAIN TYPES - Markets, ticks, signals, orders
// ═══════════════════════════════════════════════════════════════════════════════

// Signal directions
const (
	DirectionBuyYes = "buy_yes"
	DirectionBuyNo  = "buy_no"
	DirectionFlat   = "flat"
)

// Signal types
const (
	SignalTypeWeather = "weather"
	SignalTypeBTC     = "btc"
	SignalTypeArb     = "arb"
)

// Data-source tiers recorded on each signal
const (
	DataSourceWS           = "ws"
	DataSourceMixed        = "mixed"
	DataSourceRESTFallback = "rest_fallback"
	DataSourceREST         = "rest"
)

// Order providers
const (
	ProviderSimulate = "simulate"
	ProviderSandbox  = "sandbox"
)

// Order lifecycle statuses. Simulated and the right-hand terminal states
// never transition again.
const (
	OrderStatusSimulated       = "simulated"
	OrderStatusSubmitted       = "submitted"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusFailed          = "failed"
)

// Market is a tradeable binary market as discovered from the exchange.
type Market struct {
	Ticker       string
	Title        string
	Subtitle     string
	Status       string
	CloseTime    time.Time
	SeriesTicker string
	EventTicker  string
	YesBid       int
	YesAsk       int
	NoBid        int
	NoAsk        int
	Volume       int64
	FloorStrike  *float64
	CapStrike    *float64
	Result       string
	SettledTime  *time.Time
}

// MarketSnapshot is one observed price point for a market.
// Idempotent on (Ticker, TS).
type MarketSnapshot struct {
	Ticker   string
	TS       time.Time
	YesPrice float64 // [0,1]
	NoPrice  float64 // [0,1]
	Volume   int64
	Source   string
}

// SpotTick is one spot price observation from a crypto venue.
// Idempotent on (TS, Source, Symbol).
type SpotTick struct {
	TS       time.Time
	Source   string
	Symbol   string
	PriceUSD decimal.Decimal
}

// EnsembleSample is one ensemble member's daily-max forecast.
// Idempotent on (CollectedAt, TargetDate, Model, Member).
type EnsembleSample struct {
	CollectedAt time.Time
	TargetDate  string // YYYY-MM-DD local
	Model       string
	Member      string
	MaxTempF    float64
}

// Signal is a fair-value vs market-price comparison for one market.
type Signal struct {
	Type                string
	Ticker              string
	Direction           string
	ModelProb           float64
	MarketProb          float64
	EdgeBps             float64
	Confidence          float64
	DataSource          string
	VWAPCents           *float64
	FillableQty         *int
	LiquiditySufficient *bool
	CreatedAt           time.Time
}

// ArbLeg is one leg of a bracket arbitrage candidate.
type ArbLeg struct {
	Ticker     string
	Side       string // "yes" or "no"
	PriceCents int
	Depth      int
	FeeCents   int
}

// BracketArbOpportunity is a detected cross-bracket arbitrage.
type BracketArbOpportunity struct {
	EventTicker          string
	ArbType              string // "all_yes" or "all_no"
	Legs                 []ArbLeg
	CostCents            int
	PayoutCents          int
	ProfitCents          int
	ProfitAfterFeesCents int
	MaxSets              int
	DetectedAt           time.Time
	Executed             bool
}

// PaperOrder is a simulated or sandbox limit order.
type PaperOrder struct {
	ID              int64
	MarketTicker    string
	SignalType      string
	Direction       string
	Side            string // "yes" or "no"
	Count           int
	LimitPriceCents int
	Provider        string
	Status          string
	ExternalOrderID string
	RequestPayload  string
	ResponsePayload string
	CreatedAt       time.Time
}

// OrderEvent is one append-only lifecycle event for an order.
type OrderEvent struct {
	OrderID       int64
	TS            time.Time
	Status        string
	QueuePosition *int
	Details       string
}

// Resolution is a settled market outcome. Upsert by ticker.
type Resolution struct {
	Ticker      string
	ResolvedAt  time.Time
	Result      string // "yes", "no", "unknown"
	ActualValue *float64
}

// AlertEvent records one notifier delivery outcome.
type AlertEvent struct {
	TS      time.Time
	Kind    string // "signal_digest", "execution_digest", "operational", ...
	Status  string // "sent" or "failed"
	Message string
}

// LifecycleEvent is an exchange market-lifecycle notification (open/close/
// settle) observed on the websocket.
type LifecycleEvent struct {
	MarketTicker string
	EventType    string
	TS           time.Time
}

// IsTerminalOrderStatus reports whether an order can never transition again.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusSimulated, OrderStatusFilled, OrderStatusCanceled, OrderStatusFailed:
		return true
	}
	return false
}
