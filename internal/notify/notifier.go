// Package notify delivers Telegram digests and operational alerts.
//
// notifier.go - Outbound deliveries: signal digests, execution digests,
// operational alerts. Every delivery attempt is recorded as one alert
// event (sent or failed); delivery failures never propagate to the
// pipeline.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/execution"
	"github.com/web3guy0/kalshibot/internal/models"
)

// digestSignalLimit caps how many signals one digest message carries.
const digestSignalLimit = 5

// sender is the slice of the Telegram API the notifier sends through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// alertStore records delivery outcomes.
type alertStore interface {
	InsertAlertEvents(events []models.AlertEvent) error
}

// Notifier sends Telegram messages to the configured chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	api    sender
	store  alertStore
	chatID int64

	minEdgeBps float64

	ctrl   Controller
	stopCh chan struct{}
}

// New creates a Telegram notifier. With no token configured it returns a
// disabled notifier whose sends are no-ops.
func New(cfg *config.Config, store alertStore, ctrl Controller) (*Notifier, error) {
	n := &Notifier{
		store:      store,
		chatID:     cfg.TelegramChatID,
		minEdgeBps: cfg.TelegramMinEdgeBps,
		ctrl:       ctrl,
		stopCh:     make(chan struct{}),
	}

	if cfg.TelegramToken == "" {
		log.Info().Msg("📴 Telegram disabled (no token configured)")
		return n, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Info().Str("username", bot.Self.UserName).Msg("🤖 Telegram bot connected")

	n.bot = bot
	n.api = bot
	return n, nil
}

// Enabled reports whether the notifier can actually deliver.
func (n *Notifier) Enabled() bool {
	return n != nil && n.api != nil && n.chatID != 0
}

// SendSignalDigest delivers the top-edge signal summary for one cycle.
func (n *Notifier) SendSignalDigest(signals []models.Signal) {
	if !n.Enabled() {
		return
	}
	n.deliver("signal_digest", BuildSignalDigest(signals, n.minEdgeBps))
}

// SendExecutionDigest delivers the order-activity summary for one cycle.
func (n *Notifier) SendExecutionDigest(stats execution.Stats, rec execution.ReconcileStats) {
	if !n.Enabled() {
		return
	}
	n.deliver("execution_digest", BuildExecutionDigest(stats, rec))
}

// SendOperationalAlerts delivers each alert as its own message.
func (n *Notifier) SendOperationalAlerts(messages []string) {
	if !n.Enabled() {
		return
	}
	for _, msg := range messages {
		n.deliver("operational", msg)
	}
}

// deliver sends one markdown message and records the outcome. Empty text
// means nothing to say this cycle.
func (n *Notifier) deliver(kind, text string) {
	if text == "" {
		return
	}

	status := "sent"
	if err := n.sendMarkdown(n.chatID, text); err != nil {
		status = "failed"
		log.Warn().Err(err).Str("kind", kind).Msg("⚠️ Telegram delivery failed")
	}

	if n.store == nil {
		return
	}
	event := models.AlertEvent{TS: time.Now(), Kind: kind, Status: status, Message: text}
	if err := n.store.InsertAlertEvents([]models.AlertEvent{event}); err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to record alert event")
	}
}

// BuildSignalDigest formats the actionable signals past the alert edge
// threshold, strongest first, capped at five. Returns "" when there is
// nothing worth a message.
func BuildSignalDigest(signals []models.Signal, minEdgeBps float64) string {
	var picked []models.Signal
	for _, s := range signals {
		if s.Direction == models.DirectionFlat {
			continue
		}
		if absEdge(s.EdgeBps) < minEdgeBps {
			continue
		}
		picked = append(picked, s)
	}
	if len(picked) == 0 {
		return ""
	}

	sort.SliceStable(picked, func(i, j int) bool {
		return absEdge(picked[i].EdgeBps) > absEdge(picked[j].EdgeBps)
	})

	total := len(picked)
	if len(picked) > digestSignalLimit {
		picked = picked[:digestSignalLimit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Signal Digest* (%d actionable)\n\n", total)
	for _, s := range picked {
		emoji := "🟢"
		if s.Direction == models.DirectionBuyNo {
			emoji = "🔴"
		}
		fmt.Fprintf(&sb, "%s `%s` %s %+.0fbps\n├ model %.0f%% / market %.0f%%\n└ conf %.2f · %s · %s\n\n",
			emoji, s.Ticker, s.Direction, s.EdgeBps,
			s.ModelProb*100, s.MarketProb*100,
			s.Confidence, s.Type, s.DataSource,
		)
	}
	if total > digestSignalLimit {
		fmt.Fprintf(&sb, "_...and %d more_", total-digestSignalLimit)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BuildExecutionDigest formats the order activity of one cycle. Returns ""
// when no orders moved.
func BuildExecutionDigest(stats execution.Stats, rec execution.ReconcileStats) string {
	quiet := stats.Attempted == 0 && stats.ArbLegs == 0 &&
		rec.Transitions == 0 && rec.Repriced == 0 &&
		rec.CheckFailed == 0 && rec.QueueFailed == 0
	if quiet {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("💼 *Execution Digest*\n\n")
	fmt.Fprintf(&sb, "Candidates: %d | Attempted: %d\n", stats.Candidates, stats.Attempted)
	fmt.Fprintf(&sb, "Submitted: %d | Simulated: %d\nFailed: %d | Skipped: %d\n",
		stats.Submitted, stats.Simulated, stats.Failed, stats.Skipped)
	if stats.ArbLegs > 0 {
		fmt.Fprintf(&sb, "Arb legs: %d (%d arbs executed)\n", stats.ArbLegs, stats.ArbExecuted)
	}
	if rec.Checked > 0 || rec.CheckFailed > 0 || rec.QueueFailed > 0 {
		fmt.Fprintf(&sb, "\nReconcile: %d checked, %d transitioned, %d repriced",
			rec.Checked, rec.Transitions, rec.Repriced)
		if rec.CheckFailed > 0 || rec.QueueFailed > 0 {
			fmt.Fprintf(&sb, "\n⚠️ Failures: %d status checks, %d queue refreshes",
				rec.CheckFailed, rec.QueueFailed)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Helpers

func (n *Notifier) sendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	_, err := n.api.Send(msg)
	return err
}

func absEdge(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
