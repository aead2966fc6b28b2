package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Persistent state behind idempotent inserts and rollup reads
// ═══════════════════════════════════════════════════════════════════════════════

// DB wraps the database handle.
type DB struct {
	db *gorm.DB
}

// New opens PostgreSQL when the DSN carries a postgres scheme, otherwise a
// SQLite file, and migrates the schema.
func New(dsn string) (*DB, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&MarketRow{}, &SnapshotRow{}, &SpotTickRow{}, &EnsembleRow{},
		&SignalRow{}, &OrderRow{}, &OrderEventRow{}, &ResolutionRow{},
		&BracketProbRow{}, &ArbRow{}, &AlertEventRow{}, &AccuracyRow{}, &StateRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// WRITES
// ═══════════════════════════════════════════════════════════════════════════════

// UpsertMarkets updates markets on conflict by ticker.
func (d *DB) UpsertMarkets(markets []models.Market) (int, error) {
	if len(markets) == 0 {
		return 0, nil
	}
	rows := make([]MarketRow, 0, len(markets))
	for _, m := range markets {
		rows = append(rows, MarketRow{
			Ticker:       m.Ticker,
			Title:        m.Title,
			Subtitle:     m.Subtitle,
			Status:       m.Status,
			CloseTime:    m.CloseTime,
			SeriesTicker: m.SeriesTicker,
			EventTicker:  m.EventTicker,
			Volume:       m.Volume,
			FloorStrike:  m.FloorStrike,
			CapStrike:    m.CapStrike,
		})
	}
	res := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "subtitle", "status", "close_time", "volume", "updated_at"}),
	}).Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertSnapshots inserts snapshots, ignoring (ticker, ts) duplicates.
func (d *DB) InsertSnapshots(snaps []models.MarketSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	rows := make([]SnapshotRow, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, SnapshotRow{
			Ticker:   s.Ticker,
			TS:       s.TS,
			YesPrice: s.YesPrice,
			NoPrice:  s.NoPrice,
			Volume:   s.Volume,
			Source:   s.Source,
		})
	}
	res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertSpotTicks inserts ticks, ignoring (ts, source, symbol) duplicates.
func (d *DB) InsertSpotTicks(ticks []models.SpotTick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}
	rows := make([]SpotTickRow, 0, len(ticks))
	for _, t := range ticks {
		rows = append(rows, SpotTickRow{TS: t.TS, Source: t.Source, Symbol: t.Symbol, PriceUSD: t.PriceUSD})
	}
	res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertEnsembleSamples inserts samples, ignoring natural-key duplicates.
func (d *DB) InsertEnsembleSamples(samples []models.EnsembleSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	rows := make([]EnsembleRow, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, EnsembleRow{
			CollectedAt: s.CollectedAt,
			TargetDate:  s.TargetDate,
			Model:       s.Model,
			Member:      s.Member,
			MaxTempF:    s.MaxTempF,
		})
	}
	res := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertSignals persists emitted signals.
func (d *DB) InsertSignals(signals []models.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	rows := make([]SignalRow, 0, len(signals))
	for _, s := range signals {
		rows = append(rows, signalToRow(s))
	}
	res := d.db.Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertBracketProbs stores per-market model probabilities for calibration.
func (d *DB) InsertBracketProbs(rows []BracketProbRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := d.db.Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertPaperOrder persists an order and its initial lifecycle event.
func (d *DB) InsertPaperOrder(order models.PaperOrder) (int64, error) {
	row := OrderRow{
		MarketTicker:    order.MarketTicker,
		SignalType:      order.SignalType,
		Direction:       order.Direction,
		Side:            order.Side,
		Count:           order.Count,
		LimitPriceCents: order.LimitPriceCents,
		Provider:        order.Provider,
		Status:          order.Status,
		ExternalOrderID: order.ExternalOrderID,
		RequestPayload:  order.RequestPayload,
		ResponsePayload: order.ResponsePayload,
		CreatedAt:       order.CreatedAt,
	}

	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&OrderEventRow{
			OrderID: row.ID,
			TS:      order.CreatedAt,
			Status:  order.Status,
			Details: "order created",
		}).Error
	})
	return row.ID, err
}

// InsertOrderEvent appends one lifecycle event.
func (d *DB) InsertOrderEvent(ev models.OrderEvent) error {
	return d.db.Create(&OrderEventRow{
		OrderID:       ev.OrderID,
		TS:            ev.TS,
		Status:        ev.Status,
		QueuePosition: ev.QueuePosition,
		Details:       ev.Details,
	}).Error
}

// UpdateOrderStatus moves an order to a new status.
func (d *DB) UpdateOrderStatus(orderID int64, status, responsePayload string) error {
	updates := map[string]any{"status": status, "updated_at": time.Now()}
	if responsePayload != "" {
		updates["response_payload"] = responsePayload
	}
	return d.db.Model(&OrderRow{}).Where("id = ?", orderID).Updates(updates).Error
}

// UpsertResolutions updates resolutions on conflict by ticker.
func (d *DB) UpsertResolutions(resolutions []models.Resolution) (int, error) {
	if len(resolutions) == 0 {
		return 0, nil
	}
	rows := make([]ResolutionRow, 0, len(resolutions))
	for _, r := range resolutions {
		rows = append(rows, ResolutionRow{
			Ticker:      r.Ticker,
			ResolvedAt:  r.ResolvedAt,
			Result:      r.Result,
			ActualValue: r.ActualValue,
		})
	}
	res := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"resolved_at", "result", "actual_value", "updated_at"}),
	}).Create(&rows)
	return int(res.RowsAffected), res.Error
}

// InsertArbOpportunity persists a detected arbitrage with its outcome.
func (d *DB) InsertArbOpportunity(opp models.BracketArbOpportunity) error {
	legs, err := json.Marshal(opp.Legs)
	if err != nil {
		return err
	}
	return d.db.Create(&ArbRow{
		EventTicker:          opp.EventTicker,
		ArbType:              opp.ArbType,
		CostCents:            opp.CostCents,
		PayoutCents:          opp.PayoutCents,
		ProfitCents:          opp.ProfitCents,
		ProfitAfterFeesCents: opp.ProfitAfterFeesCents,
		MaxSets:              opp.MaxSets,
		LegsJSON:             string(legs),
		Executed:             opp.Executed,
		DetectedAt:           opp.DetectedAt,
	}).Error
}

// InsertAlertEvents persists notifier delivery outcomes.
func (d *DB) InsertAlertEvents(events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]AlertEventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, AlertEventRow{TS: e.TS, Kind: e.Kind, Status: e.Status, Message: e.Message})
	}
	return d.db.Create(&rows).Error
}

// SetState stores one key-value state entry (e.g. last_poll_at).
func (d *DB) SetState(key, value string) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&StateRow{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}

// GetState reads one state entry.
func (d *DB) GetState(key string) (string, bool) {
	var row StateRow
	if err := d.db.First(&row, "key = ?", key).Error; err != nil {
		return "", false
	}
	return row.Value, true
}

// ═══════════════════════════════════════════════════════════════════════════════
// READS
// ═══════════════════════════════════════════════════════════════════════════════

// RecentSignals returns the newest signals, newest first.
func (d *DB) RecentSignals(limit int) ([]models.Signal, error) {
	var rows []SignalRow
	err := d.db.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Signal, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToSignal(r))
	}
	return out, nil
}

// OpenOrders returns submitted/partially-filled orders created after since.
func (d *DB) OpenOrders(since time.Time) ([]models.PaperOrder, error) {
	var rows []OrderRow
	err := d.db.
		Where("status IN ?", []string{models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled}).
		Where("created_at > ?", since).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.PaperOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToOrder(r))
	}
	return out, nil
}

// RecentOrders returns the newest orders regardless of status.
func (d *DB) RecentOrders(limit int) ([]models.PaperOrder, error) {
	var rows []OrderRow
	err := d.db.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.PaperOrder, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToOrder(r))
	}
	return out, nil
}

// OpenPositions groups open orders by (ticker, side), summing counts and
// averaging limit prices.
func (d *DB) OpenPositions() ([]PositionRollup, error) {
	var rollups []PositionRollup
	err := d.db.Model(&OrderRow{}).
		Select("market_ticker as ticker, side, SUM(count) as count, AVG(limit_price_cents) as avg_price").
		Where("status IN ?", []string{models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled}).
		Group("market_ticker, side").
		Scan(&rollups).Error
	return rollups, err
}

// HasRecentOrder reports whether a (ticker, direction) order exists inside
// the cooldown window.
func (d *DB) HasRecentOrder(ticker, direction string, window time.Duration) (bool, error) {
	var count int64
	err := d.db.Model(&OrderRow{}).
		Where("market_ticker = ? AND direction = ?", ticker, direction).
		Where("created_at > ?", time.Now().Add(-window)).
		Count(&count).Error
	return count > 0, err
}

// CurrentExposureDollars sums the committed dollars across open orders.
func (d *DB) CurrentExposureDollars() (decimal.Decimal, error) {
	var result struct{ Total float64 }
	err := d.db.Model(&OrderRow{}).
		Select("COALESCE(SUM(count * limit_price_cents), 0) / 100.0 as total").
		Where("status IN ?", []string{models.OrderStatusSubmitted, models.OrderStatusPartiallyFilled}).
		Scan(&result).Error
	return decimal.NewFromFloat(result.Total), err
}

// LatestSpotTick returns the newest tick for one source.
func (d *DB) LatestSpotTick(source string) (*models.SpotTick, error) {
	var row SpotTickRow
	err := d.db.Where("source = ?", source).Order("ts DESC").First(&row).Error
	if err != nil {
		return nil, err
	}
	return &models.SpotTick{TS: row.TS, Source: row.Source, Symbol: row.Symbol, PriceUSD: row.PriceUSD}, nil
}

// SpotTicksBefore returns, per source, the newest tick at or before cutoff.
func (d *DB) SpotTicksBefore(cutoff time.Time, maxLookback time.Duration) (map[string]models.SpotTick, error) {
	var rows []SpotTickRow
	err := d.db.
		Where("ts <= ? AND ts > ?", cutoff, cutoff.Add(-maxLookback)).
		Order("ts DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.SpotTick)
	for _, r := range rows {
		if _, seen := out[r.Source]; !seen {
			out[r.Source] = models.SpotTick{TS: r.TS, Source: r.Source, Symbol: r.Symbol, PriceUSD: r.PriceUSD}
		}
	}
	return out, nil
}

// RecentSpotTicks returns one source's ticks inside a trailing window,
// oldest first. Used for momentum when the live feed is down.
func (d *DB) RecentSpotTicks(source string, window time.Duration) ([]models.SpotTick, error) {
	var rows []SpotTickRow
	err := d.db.
		Where("source = ? AND ts > ?", source, time.Now().Add(-window)).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.SpotTick, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SpotTick{TS: r.TS, Source: r.Source, Symbol: r.Symbol, PriceUSD: r.PriceUSD})
	}
	return out, nil
}

// EstimateFillProbability computes the historical fill ratio for a series
// near a price. Falls back to def below minSamples.
func (d *DB) EstimateFillProbability(tickerPrefix string, lookbackDays, priceCents, minSamples int, def float64) (float64, error) {
	var rows []OrderRow
	err := d.db.
		Where("market_ticker LIKE ?", tickerPrefix+"%").
		Where("created_at > ?", time.Now().AddDate(0, 0, -lookbackDays)).
		Where("limit_price_cents BETWEEN ? AND ?", priceCents-10, priceCents+10).
		Where("status IN ?", []string{
			models.OrderStatusFilled, models.OrderStatusPartiallyFilled,
			models.OrderStatusCanceled, models.OrderStatusFailed,
		}).
		Find(&rows).Error
	if err != nil {
		return def, err
	}
	if len(rows) < minSamples {
		return def, nil
	}

	filled := 0
	for _, r := range rows {
		if r.Status == models.OrderStatusFilled || r.Status == models.OrderStatusPartiallyFilled {
			filled++
		}
	}
	return float64(filled) / float64(len(rows)), nil
}

// FillMetrics summarizes terminal orders for a series: how many filled and
// the mean minutes from order creation to the first fill event.
func (d *DB) FillMetrics(tickerPrefix string, lookbackDays int) (FillMetrics, error) {
	var rows []OrderRow
	err := d.db.
		Where("market_ticker LIKE ?", tickerPrefix+"%").
		Where("created_at > ?", time.Now().AddDate(0, 0, -lookbackDays)).
		Where("status IN ?", []string{
			models.OrderStatusFilled, models.OrderStatusPartiallyFilled,
			models.OrderStatusCanceled, models.OrderStatusFailed,
		}).
		Find(&rows).Error
	if err != nil {
		return FillMetrics{}, err
	}

	m := FillMetrics{Orders: len(rows)}
	var minutes float64
	timed := 0
	for _, r := range rows {
		if r.Status != models.OrderStatusFilled && r.Status != models.OrderStatusPartiallyFilled {
			continue
		}
		m.Filled++
		var ev OrderEventRow
		err := d.db.
			Where("order_id = ? AND status IN ?", r.ID,
				[]string{models.OrderStatusFilled, models.OrderStatusPartiallyFilled}).
			Order("ts ASC").
			First(&ev).Error
		if err != nil {
			continue
		}
		minutes += ev.TS.Sub(r.CreatedAt).Minutes()
		timed++
	}
	if m.Orders > 0 {
		m.FillRate = float64(m.Filled) / float64(m.Orders)
	}
	if timed > 0 {
		m.AvgFillMinutes = minutes / float64(timed)
	}
	return m, nil
}

// MaterializePredictionAccuracy joins each resolved market's latest signal
// with its resolution, computing per-contract PnL at the signal's market
// price. Upserts by ticker.
func (d *DB) MaterializePredictionAccuracy() (int, error) {
	var resolutions []ResolutionRow
	if err := d.db.Where("result IN ?", []string{"yes", "no"}).Find(&resolutions).Error; err != nil {
		return 0, err
	}

	updated := 0
	for _, res := range resolutions {
		var sig SignalRow
		err := d.db.
			Where("ticker = ? AND direction <> ?", res.Ticker, models.DirectionFlat).
			Order("created_at DESC").
			First(&sig).Error
		if err != nil {
			continue
		}

		row := AccuracyRow{
			Ticker:     res.Ticker,
			SignalType: sig.Type,
			Direction:  sig.Direction,
			ModelProb:  sig.ModelProb,
			MarketProb: sig.MarketProb,
			Result:     res.Result,
			PnLCents:   contractPnLCents(sig.Direction, sig.MarketProb, res.Result),
			ResolvedAt: res.ResolvedAt,
		}
		err = d.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ticker"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"signal_type", "direction", "model_prob", "market_prob", "result", "pn_l_cents", "resolved_at", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// AccuracyRows returns materialized accuracy rows for one signal type.
func (d *DB) AccuracyRows(signalType string, lookbackDays int) ([]AccuracyRow, error) {
	var rows []AccuracyRow
	q := d.db.Where("resolved_at > ?", time.Now().AddDate(0, 0, -lookbackDays))
	if signalType != "" {
		q = q.Where("signal_type = ?", signalType)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// WeatherBacktestRows joins the latest bracket probability per (date,
// ticker) with its resolution.
func (d *DB) WeatherBacktestRows(lookbackDays int) ([]BacktestRow, error) {
	var probs []BracketProbRow
	err := d.db.
		Where("created_at > ?", time.Now().AddDate(0, 0, -lookbackDays)).
		Order("created_at ASC").
		Find(&probs).Error
	if err != nil {
		return nil, err
	}

	// Latest probability wins per (date, ticker).
	latest := make(map[string]BracketProbRow)
	for _, p := range probs {
		latest[p.TargetDate+"|"+p.Ticker] = p
	}

	out := make([]BacktestRow, 0, len(latest))
	for _, p := range latest {
		var res ResolutionRow
		if err := d.db.First(&res, "ticker = ?", p.Ticker).Error; err != nil {
			continue
		}
		if res.Result != "yes" && res.Result != "no" {
			continue
		}
		out = append(out, BacktestRow{
			TargetDate: p.TargetDate,
			Ticker:     p.Ticker,
			ModelProb:  p.ModelProb,
			MarketProb: p.MarketProb,
			Result:     res.Result,
		})
	}
	return out, nil
}

// contractPnLCents is the per-contract outcome for one resolved direction at
// the market price observed when the signal was emitted.
func contractPnLCents(direction string, marketProb float64, result string) float64 {
	priceCents := marketProb * 100
	switch direction {
	case models.DirectionBuyYes:
		if result == "yes" {
			return 100 - priceCents
		}
		return -priceCents
	case models.DirectionBuyNo:
		noPrice := 100 - priceCents
		if result == "no" {
			return 100 - noPrice
		}
		return -noPrice
	}
	return 0
}
