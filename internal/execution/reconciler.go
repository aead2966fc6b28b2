package execution

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILER - Open-order lifecycle and queue-depth repricing
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs against the sandbox only. Terminal transitions update the store once;
// still-open orders get queue positions refreshed, and orders buried deep in
// the queue are cancelled and repriced at the current maker price when the
// signal still supports them.
//
// ═══════════════════════════════════════════════════════════════════════════════

const openOrderWindow = 24 * time.Hour

// ReconcileStore is the persistence slice the reconciler needs.
type ReconcileStore interface {
	OpenOrders(since time.Time) ([]models.PaperOrder, error)
	UpdateOrderStatus(orderID int64, status, responsePayload string) error
	InsertOrderEvent(ev models.OrderEvent) error
	InsertPaperOrder(order models.PaperOrder) (int64, error)
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Checked      int
	Transitions  int
	Repriced     int
	CheckFailed  int
	QueueFailed  int
}

type orderState struct {
	status        string
	queuePosition *int
}

// Reconciler tracks open sandbox orders across cycles.
type Reconciler struct {
	cfg    *config.Config
	client kalshi.API
	store  ReconcileStore

	known        map[int64]orderState
	lastReprice  map[string]time.Time
	repriceTimes []time.Time
}

// NewReconciler creates the reconciler.
func NewReconciler(cfg *config.Config, client kalshi.API, store ReconcileStore) *Reconciler {
	return &Reconciler{
		cfg:         cfg,
		client:      client,
		store:       store,
		known:       make(map[int64]orderState),
		lastReprice: make(map[string]time.Time),
	}
}

// NormalizeStatus folds the exchange's status vocabulary onto the order
// lifecycle states. An empty status means still submitted.
func NormalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "resting", "open", "pending", "submitted":
		return models.OrderStatusSubmitted
	case "partially_filled", "partially-filled":
		return models.OrderStatusPartiallyFilled
	case "filled", "executed", "complete", "completed", "matched":
		return models.OrderStatusFilled
	case "canceled", "cancelled", "expired", "voided":
		return models.OrderStatusCanceled
	case "failed", "rejected", "error":
		return models.OrderStatusFailed
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// Reconcile runs one pass over open orders within the 24h window.
// allowReprice reflects the current paused/auto-trade state.
func (r *Reconciler) Reconcile(ctx context.Context, signals []models.Signal, books map[string]*book.OrderBook, allowReprice bool, now time.Time) ReconcileStats {
	var stats ReconcileStats
	if r.cfg.PaperTradingMode != "kalshi_demo" || !r.cfg.QueueManagementEnabled {
		return stats
	}

	orders, err := r.store.OpenOrders(now.Add(-openOrderWindow))
	if err != nil {
		log.Error().Err(err).Msg("Open-order fetch failed")
		return stats
	}
	if len(orders) == 0 {
		return stats
	}

	signalByTicker := make(map[string]models.Signal, len(signals))
	for _, s := range signals {
		signalByTicker[s.Ticker] = s
	}

	var stillOpen []models.PaperOrder
	for _, order := range orders {
		stats.Checked++
		if order.ExternalOrderID == "" {
			continue
		}

		payload, err := r.client.GetOrder(ctx, order.ExternalOrderID)
		if err != nil {
			stats.CheckFailed++
			r.appendEvent(order.ID, now, "status_check_failed", err.Error(), nil)
			continue
		}
		raw, _ := models.ExtractOrderStatus(payload)
		status := NormalizeStatus(raw)

		if status != order.Status {
			stats.Transitions++
			respJSON, _ := json.Marshal(payload)
			if err := r.store.UpdateOrderStatus(order.ID, status, string(respJSON)); err != nil {
				log.Error().Err(err).Int64("order", order.ID).Msg("Status update failed")
			}
			r.appendEvent(order.ID, now, status, "status transition", nil)
			order.Status = status
		}
		if !models.IsTerminalOrderStatus(status) {
			stillOpen = append(stillOpen, order)
		}
		r.known[order.ID] = orderState{status: status, queuePosition: r.known[order.ID].queuePosition}
	}

	if len(stillOpen) > 0 {
		r.refreshQueuePositions(ctx, stillOpen, signalByTicker, books, allowReprice, now, &stats)
	}
	return stats
}

func (r *Reconciler) refreshQueuePositions(ctx context.Context, orders []models.PaperOrder, signalByTicker map[string]models.Signal, books map[string]*book.OrderBook, allowReprice bool, now time.Time, stats *ReconcileStats) {
	tickers := make([]string, 0, len(orders))
	seen := make(map[string]bool)
	for _, o := range orders {
		if !seen[o.MarketTicker] {
			seen[o.MarketTicker] = true
			tickers = append(tickers, o.MarketTicker)
		}
	}

	payload, err := r.client.GetQueuePositions(ctx, tickers)
	if err != nil {
		stats.QueueFailed++
		for _, o := range orders {
			r.appendEvent(o.ID, now, "queue_refresh_failed", err.Error(), nil)
		}
		return
	}

	for _, order := range orders {
		pos, ok := models.ExtractQueuePosition(payload, order.ExternalOrderID, order.MarketTicker)
		if !ok {
			continue
		}

		prev := r.known[order.ID]
		if prev.queuePosition == nil || *prev.queuePosition != pos {
			p := pos
			r.appendEvent(order.ID, now, "resting", "queue position update", &p)
			r.known[order.ID] = orderState{status: prev.status, queuePosition: &p}
		}

		if r.shouldReprice(order, pos, signalByTicker, allowReprice, now) {
			r.reprice(ctx, order, books[order.MarketTicker], now, stats)
		}
	}
}

// shouldReprice gates the cancel/replace path: deep queue, stale order,
// signal still pointing the same way, per-market cooldown, per-window cap.
func (r *Reconciler) shouldReprice(order models.PaperOrder, queuePos int, signalByTicker map[string]models.Signal, allowReprice bool, now time.Time) bool {
	if !allowReprice || queuePos <= r.cfg.QueueMaxDepth {
		return false
	}
	if now.Sub(order.CreatedAt) < time.Duration(r.cfg.QueueStaleMinutes)*time.Minute {
		return false
	}
	sig, ok := signalByTicker[order.MarketTicker]
	if !ok || sig.Direction != order.Direction {
		return false
	}
	if last, ok := r.lastReprice[order.MarketTicker]; ok {
		if now.Sub(last) < time.Duration(r.cfg.RepriceCooldownMinutes)*time.Minute {
			return false
		}
	}
	return r.repricesInWindow(now) < r.cfg.RepriceMaxPerWindow
}

func (r *Reconciler) repricesInWindow(now time.Time) int {
	cutoff := now.Add(-time.Duration(r.cfg.RepriceWindowMinutes) * time.Minute)
	kept := r.repriceTimes[:0]
	for _, ts := range r.repriceTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.repriceTimes = kept
	return len(kept)
}

// reprice cancels the resting order and resubmits at the current maker
// price.
func (r *Reconciler) reprice(ctx context.Context, order models.PaperOrder, b *book.OrderBook, now time.Time, stats *ReconcileStats) {
	if b == nil {
		return
	}
	newPrice, ok := MakerPrice(order.Side, b, true, r.cfg.MinPriceCents, r.cfg.MaxPriceCents)
	if !ok || newPrice == order.LimitPriceCents {
		return
	}

	if _, err := r.client.CancelOrder(ctx, order.ExternalOrderID); err != nil {
		r.appendEvent(order.ID, now, "reprice_cancel_failed", err.Error(), nil)
		return
	}
	if err := r.store.UpdateOrderStatus(order.ID, models.OrderStatusCanceled, ""); err != nil {
		log.Error().Err(err).Int64("order", order.ID).Msg("Cancel status update failed")
	}
	r.appendEvent(order.ID, now, models.OrderStatusCanceled, "repriced away", nil)

	req := kalshi.OrderRequest{
		Ticker:     order.MarketTicker,
		Side:       order.Side,
		Count:      order.Count,
		PriceCents: newPrice,
	}
	reqJSON, _ := json.Marshal(req)
	replacement := models.PaperOrder{
		MarketTicker:    order.MarketTicker,
		SignalType:      order.SignalType,
		Direction:       order.Direction,
		Side:            order.Side,
		Count:           order.Count,
		LimitPriceCents: newPrice,
		Provider:        models.ProviderSandbox,
		RequestPayload:  string(reqJSON),
		CreatedAt:       now,
	}

	resp, err := r.client.CreateOrder(ctx, req)
	if err != nil {
		replacement.Status = models.OrderStatusFailed
		replacement.ResponsePayload = err.Error()
	} else {
		replacement.Status = models.OrderStatusSubmitted
		if id, found := models.ExtractOrderID(resp); found {
			replacement.ExternalOrderID = id
		}
		respJSON, _ := json.Marshal(resp)
		replacement.ResponsePayload = string(respJSON)
	}

	newID, insertErr := r.store.InsertPaperOrder(replacement)
	if insertErr != nil {
		log.Error().Err(insertErr).Str("ticker", order.MarketTicker).Msg("Replacement persist failed")
		return
	}
	if err == nil {
		r.appendEvent(newID, now, "reprice_submitted", "replaced order at new maker price", nil)
		stats.Repriced++
		r.lastReprice[order.MarketTicker] = now
		r.repriceTimes = append(r.repriceTimes, now)
		log.Info().Str("ticker", order.MarketTicker).Int("old", order.LimitPriceCents).Int("new", newPrice).Msg("🔁 Order repriced")
	}
}

func (r *Reconciler) appendEvent(orderID int64, ts time.Time, status, details string, queuePos *int) {
	err := r.store.InsertOrderEvent(models.OrderEvent{
		OrderID:       orderID,
		TS:            ts,
		Status:        status,
		QueuePosition: queuePos,
		Details:       details,
	})
	if err != nil {
		log.Error().Err(err).Int64("order", orderID).Msg("Order event persist failed")
	}
}
