// Package runtime supervises the long-lived loops: websocket feeds, the
// poll cycle, lifecycle auto-subscription, and the WS/REST health audit.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/book"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/models"
	"github.com/web3guy0/kalshibot/internal/pipeline"
)

const (
	healthAuditInterval   = 60 * time.Second
	healthAuditTickers    = 10
	healthDivergenceCents = 2
)

// Feed is one long-lived websocket connection.
type Feed interface {
	Run()
	Close()
}

// BookSource is the Kalshi websocket surface the supervisor manages.
type BookSource interface {
	Subscribe(tickers []string) error
	BookTickers() []string
	Book(ticker string) (*book.OrderBook, bool)
	Lifecycle() <-chan models.LifecycleEvent
}

// runner executes one poll cycle.
type runner interface {
	RunOnce(ctx context.Context, now time.Time) pipeline.CycleStats
}

// alerter carries operational findings out of the audit loop.
type alerter interface {
	SendOperationalAlerts(messages []string)
}

// Supervisor owns every background loop and their shutdown.
type Supervisor struct {
	cfg      *config.Config
	client   kalshi.API
	pipeline runner
	books    BookSource
	feeds    []Feed
	notifier alerter

	subscribed map[string]bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// New creates the supervisor. Feeds and the book source may be nil when a
// venue is disabled.
func New(cfg *config.Config, client kalshi.API, p runner, books BookSource, feedList []Feed, notifier alerter) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		client:     client,
		pipeline:   p,
		books:      books,
		feeds:      feedList,
		notifier:   notifier,
		subscribed: make(map[string]bool),
	}
}

// Run starts every loop and blocks until ctx is canceled. Feeds close
// first; the in-flight poll cycle finishes before return.
func (s *Supervisor) Run(ctx context.Context) {
	for _, f := range s.feeds {
		f := f
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			f.Run()
		}()
	}

	loops := []func(context.Context){s.pollLoop}
	if s.books != nil {
		loops = append(loops, s.lifecycleLoop)
		if s.cfg.HealthAuditEnabled {
			loops = append(loops, s.healthAuditLoop)
		}
	}
	var loopWG sync.WaitGroup
	for _, loop := range loops {
		loop := loop
		loopWG.Add(1)
		go func() {
			defer loopWG.Done()
			loop(ctx)
		}()
	}

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down: closing feeds")
	for _, f := range s.feeds {
		f.Close()
	}
	s.wg.Wait()
	loopWG.Wait()
	log.Info().Msg("✅ Supervisor stopped")
}

// pollLoop drives run_once on the configured interval, with one immediate
// cycle at startup.
func (s *Supervisor) pollLoop(ctx context.Context) {
	s.cycle(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) cycle(ctx context.Context) {
	stats := s.pipeline.RunOnce(ctx, time.Now())
	s.subscribeNew(stats.Tickers)
}

// subscribeNew subscribes the book feed to tickers it has not seen yet.
func (s *Supervisor) subscribeNew(tickers []string) {
	if s.books == nil {
		return
	}
	s.mu.Lock()
	var fresh []string
	for _, t := range tickers {
		if !s.subscribed[t] {
			s.subscribed[t] = true
			fresh = append(fresh, t)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	if err := s.books.Subscribe(fresh); err != nil {
		log.Warn().Err(err).Int("tickers", len(fresh)).Msg("⚠️ Book subscribe failed")
		return
	}
	log.Info().Int("tickers", len(fresh)).Msg("🔌 Subscribed to new market books")
}

// lifecycleLoop auto-subscribes markets the exchange announces for the
// configured series prefix, so short-lived brackets are tracked from birth.
func (s *Supervisor) lifecycleLoop(ctx context.Context) {
	for {
		select {
		case ev, ok := <-s.books.Lifecycle():
			if !ok {
				return
			}
			if s.cfg.LifecyclePrefix == "" ||
				!strings.HasPrefix(strings.ToUpper(ev.MarketTicker), strings.ToUpper(s.cfg.LifecyclePrefix)) {
				continue
			}
			log.Info().
				Str("ticker", ev.MarketTicker).
				Str("event", ev.EventType).
				Msg("📡 Lifecycle event")
			s.subscribeNew([]string{ev.MarketTicker})
		case <-ctx.Done():
			return
		}
	}
}

// healthAuditLoop compares the websocket book against a REST read for a
// small subset of subscribed tickers. Persistent divergence means a stuck
// or corrupted book.
func (s *Supervisor) healthAuditLoop(ctx context.Context) {
	ticker := time.NewTicker(healthAuditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if findings := s.auditBooks(ctx); len(findings) > 0 && s.notifier != nil {
				s.notifier.SendOperationalAlerts(findings)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) auditBooks(ctx context.Context) []string {
	tickers := s.books.BookTickers()
	if len(tickers) > healthAuditTickers {
		tickers = tickers[:healthAuditTickers]
	}

	var findings []string
	for _, t := range tickers {
		b, ok := s.books.Book(t)
		if !ok {
			continue
		}
		wsBid, ok := b.BestYesBid()
		if !ok {
			continue
		}
		m, err := s.client.GetMarket(ctx, t)
		if err != nil {
			log.Debug().Err(err).Str("ticker", t).Msg("Audit REST read failed")
			continue
		}
		if diff := absInt(wsBid - m.YesBid); diff > healthDivergenceCents {
			findings = append(findings, fmt.Sprintf(
				"🌡️ Book divergence on %s: ws yes bid %d¢ vs REST %d¢", t, wsBid, m.YesBid))
			log.Warn().
				Str("ticker", t).
				Int("ws_bid", wsBid).
				Int("rest_bid", m.YesBid).
				Msg("🌡️ WS/REST divergence")
		}
	}
	return findings
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
