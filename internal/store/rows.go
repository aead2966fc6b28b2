package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/kalshibot/internal/models"
)

// Row types. Natural keys carry unique indexes so inserts stay idempotent
// under ON CONFLICT DO NOTHING.

type MarketRow struct {
	Ticker       string `gorm:"primaryKey"`
	Title        string
	Subtitle     string
	Status       string `gorm:"index"`
	CloseTime    time.Time
	SeriesTicker string `gorm:"index"`
	EventTicker  string `gorm:"index"`
	Volume       int64
	FloorStrike  *float64
	CapStrike    *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SnapshotRow struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	Ticker   string    `gorm:"uniqueIndex:idx_snapshot_key"`
	TS       time.Time `gorm:"uniqueIndex:idx_snapshot_key"`
	YesPrice float64
	NoPrice  float64
	Volume   int64
	Source   string
}

type SpotTickRow struct {
	ID       int64     `gorm:"primaryKey;autoIncrement"`
	TS       time.Time `gorm:"uniqueIndex:idx_spot_key;index"`
	Source   string    `gorm:"uniqueIndex:idx_spot_key"`
	Symbol   string    `gorm:"uniqueIndex:idx_spot_key"`
	PriceUSD decimal.Decimal `gorm:"type:decimal(20,8)"`
}

type EnsembleRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	CollectedAt time.Time `gorm:"uniqueIndex:idx_ensemble_key"`
	TargetDate  string    `gorm:"uniqueIndex:idx_ensemble_key;index"`
	Model       string    `gorm:"uniqueIndex:idx_ensemble_key"`
	Member      string    `gorm:"uniqueIndex:idx_ensemble_key"`
	MaxTempF    float64
}

type SignalRow struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement"`
	Type                string `gorm:"index"`
	Ticker              string `gorm:"index"`
	Direction           string
	ModelProb           float64
	MarketProb          float64
	EdgeBps             float64
	Confidence          float64
	DataSource          string
	VWAPCents           *float64
	FillableQty         *int
	LiquiditySufficient *bool
	CreatedAt           time.Time `gorm:"index"`
}

type OrderRow struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	MarketTicker    string `gorm:"index"`
	SignalType      string
	Direction       string
	Side            string
	Count           int
	LimitPriceCents int
	Provider        string
	Status          string `gorm:"index"`
	ExternalOrderID string `gorm:"index"`
	RequestPayload  string
	ResponsePayload string
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

type OrderEventRow struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	OrderID       int64 `gorm:"index"`
	TS            time.Time
	Status        string
	QueuePosition *int
	Details       string
}

type ResolutionRow struct {
	Ticker      string `gorm:"primaryKey"`
	ResolvedAt  time.Time
	Result      string
	ActualValue *float64
	UpdatedAt   time.Time
}

type BracketProbRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TargetDate string `gorm:"index:idx_bracket_prob"`
	Ticker     string `gorm:"index:idx_bracket_prob"`
	ModelProb  float64
	MarketProb float64
	Samples    int
	CreatedAt  time.Time
}

type ArbRow struct {
	ID                   int64 `gorm:"primaryKey;autoIncrement"`
	EventTicker          string `gorm:"index"`
	ArbType              string
	CostCents            int
	PayoutCents          int
	ProfitCents          int
	ProfitAfterFeesCents int
	MaxSets              int
	LegsJSON             string
	Executed             bool
	DetectedAt           time.Time
}

type AlertEventRow struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	TS      time.Time
	Kind    string
	Status  string
	Message string
}

type AccuracyRow struct {
	Ticker     string `gorm:"primaryKey"`
	SignalType string `gorm:"index"`
	Direction  string
	ModelProb  float64
	MarketProb float64
	Result     string
	PnLCents   float64
	ResolvedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type StateRow struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// FillMetrics is the fill-behavior rollup for one series prefix.
type FillMetrics struct {
	Orders         int
	Filled         int
	FillRate       float64
	AvgFillMinutes float64
}

// PositionRollup aggregates open orders by ticker and side.
type PositionRollup struct {
	Ticker   string
	Side     string
	Count    int
	AvgPrice float64
}

// BacktestRow is the latest stored probability for a (date, ticker) pair
// joined with its resolution.
type BacktestRow struct {
	TargetDate string
	Ticker     string
	ModelProb  float64
	MarketProb float64
	Result     string
}

func signalToRow(s models.Signal) SignalRow {
	return SignalRow{
		Type:                s.Type,
		Ticker:              s.Ticker,
		Direction:           s.Direction,
		ModelProb:           s.ModelProb,
		MarketProb:          s.MarketProb,
		EdgeBps:             s.EdgeBps,
		Confidence:          s.Confidence,
		DataSource:          s.DataSource,
		VWAPCents:           s.VWAPCents,
		FillableQty:         s.FillableQty,
		LiquiditySufficient: s.LiquiditySufficient,
		CreatedAt:           s.CreatedAt,
	}
}

func rowToSignal(r SignalRow) models.Signal {
	return models.Signal{
		Type:                r.Type,
		Ticker:              r.Ticker,
		Direction:           r.Direction,
		ModelProb:           r.ModelProb,
		MarketProb:          r.MarketProb,
		EdgeBps:             r.EdgeBps,
		Confidence:          r.Confidence,
		DataSource:          r.DataSource,
		VWAPCents:           r.VWAPCents,
		FillableQty:         r.FillableQty,
		LiquiditySufficient: r.LiquiditySufficient,
		CreatedAt:           r.CreatedAt,
	}
}

func rowToOrder(r OrderRow) models.PaperOrder {
	return models.PaperOrder{
		ID:              r.ID,
		MarketTicker:    r.MarketTicker,
		SignalType:      r.SignalType,
		Direction:       r.Direction,
		Side:            r.Side,
		Count:           r.Count,
		LimitPriceCents: r.LimitPriceCents,
		Provider:        r.Provider,
		Status:          r.Status,
		ExternalOrderID: r.ExternalOrderID,
		RequestPayload:  r.RequestPayload,
		ResponsePayload: r.ResponsePayload,
		CreatedAt:       r.CreatedAt,
	}
}
