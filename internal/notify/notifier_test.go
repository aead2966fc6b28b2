package notify

import (
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/kalshibot/internal/execution"
	"github.com/web3guy0/kalshibot/internal/models"
)

type fakeSender struct {
	sent    []string
	sendErr error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, f.sendErr
}

type fakeAlertStore struct {
	events []models.AlertEvent
}

func (f *fakeAlertStore) InsertAlertEvents(events []models.AlertEvent) error {
	f.events = append(f.events, events...)
	return nil
}

type fakeController struct {
	lastMode string
}

func (f *fakeController) Status() string { return "status-ok" }
func (f *fakeController) Pause() string  { return "paused" }
func (f *fakeController) Resume() string { return "resumed" }
func (f *fakeController) SetMode(mode string) string {
	f.lastMode = mode
	return "mode set: " + mode
}
func (f *fakeController) Confirm() string { return "confirmed" }
func (f *fakeController) Report() string  { return "report-body" }

func testNotifier(api sender, store alertStore, ctrl Controller) *Notifier {
	return &Notifier{
		api:        api,
		store:      store,
		chatID:     1234,
		minEdgeBps: 300,
		ctrl:       ctrl,
		stopCh:     make(chan struct{}),
	}
}

func sig(ticker, direction string, edgeBps float64) models.Signal {
	return models.Signal{
		Type:       models.SignalTypeWeather,
		Ticker:     ticker,
		Direction:  direction,
		ModelProb:  0.6,
		MarketProb: 0.5,
		EdgeBps:    edgeBps,
		Confidence: 0.5,
		DataSource: models.DataSourceWS,
	}
}

func TestBuildSignalDigestFiltersAndSorts(t *testing.T) {
	t.Parallel()

	signals := []models.Signal{
		sig("SMALL", models.DirectionBuyYes, 200),  // below threshold
		sig("FLAT", models.DirectionFlat, 900),     // flat never alerts
		sig("MED", models.DirectionBuyYes, 500),
		sig("BIG", models.DirectionBuyNo, -1200),
	}
	digest := BuildSignalDigest(signals, 300)

	require.NotEmpty(t, digest)
	assert.Contains(t, digest, "(2 actionable)")
	assert.Less(t, strings.Index(digest, "BIG"), strings.Index(digest, "MED"),
		"strongest edge listed first")
	assert.NotContains(t, digest, "SMALL")
	assert.NotContains(t, digest, "FLAT")
	assert.Contains(t, digest, "🔴 `BIG`")
}

func TestBuildSignalDigestCapsAtFive(t *testing.T) {
	t.Parallel()

	var signals []models.Signal
	for i := 0; i < 7; i++ {
		signals = append(signals, sig("T"+string(rune('A'+i)), models.DirectionBuyYes, 400+float64(i)))
	}
	digest := BuildSignalDigest(signals, 300)

	assert.Contains(t, digest, "(7 actionable)")
	assert.Contains(t, digest, "and 2 more")
	assert.NotContains(t, digest, "`TA`", "weakest two fall off the digest")
	assert.NotContains(t, digest, "`TB`")
}

func TestBuildSignalDigestEmptyWhenNothingActionable(t *testing.T) {
	t.Parallel()

	digest := BuildSignalDigest([]models.Signal{sig("X", models.DirectionBuyYes, 100)}, 300)
	assert.Empty(t, digest)
	assert.Empty(t, BuildSignalDigest(nil, 300))
}

func TestBuildExecutionDigestQuietCycle(t *testing.T) {
	t.Parallel()

	digest := BuildExecutionDigest(execution.Stats{Candidates: 3}, execution.ReconcileStats{Checked: 2})
	assert.Empty(t, digest, "candidates without attempts are not worth a message")
}

func TestBuildExecutionDigestActivity(t *testing.T) {
	t.Parallel()

	stats := execution.Stats{Candidates: 4, Attempted: 2, Submitted: 1, Failed: 1, ArbLegs: 3, ArbExecuted: 1}
	rec := execution.ReconcileStats{Checked: 5, Transitions: 1, Repriced: 1, QueueFailed: 1}
	digest := BuildExecutionDigest(stats, rec)

	assert.Contains(t, digest, "Candidates: 4 | Attempted: 2")
	assert.Contains(t, digest, "Arb legs: 3 (1 arbs executed)")
	assert.Contains(t, digest, "5 checked, 1 transitioned, 1 repriced")
	assert.Contains(t, digest, "1 queue refreshes")
}

func TestDeliverRecordsSentEvent(t *testing.T) {
	t.Parallel()

	api := &fakeSender{}
	store := &fakeAlertStore{}
	n := testNotifier(api, store, nil)

	n.SendSignalDigest([]models.Signal{sig("MKT", models.DirectionBuyYes, 800)})

	require.Len(t, api.sent, 1)
	require.Len(t, store.events, 1)
	assert.Equal(t, "signal_digest", store.events[0].Kind)
	assert.Equal(t, "sent", store.events[0].Status)
}

func TestDeliverRecordsFailedEvent(t *testing.T) {
	t.Parallel()

	api := &fakeSender{sendErr: errors.New("429")}
	store := &fakeAlertStore{}
	n := testNotifier(api, store, nil)

	n.SendOperationalAlerts([]string{"⚠️ feed down"})

	require.Len(t, store.events, 1)
	assert.Equal(t, "operational", store.events[0].Kind)
	assert.Equal(t, "failed", store.events[0].Status)
	assert.Equal(t, "⚠️ feed down", store.events[0].Message)
}

func TestDeliverSkipsEmptyDigest(t *testing.T) {
	t.Parallel()

	api := &fakeSender{}
	store := &fakeAlertStore{}
	n := testNotifier(api, store, nil)

	n.SendSignalDigest(nil)
	n.SendExecutionDigest(execution.Stats{}, execution.ReconcileStats{})

	assert.Empty(t, api.sent)
	assert.Empty(t, store.events)
}

func TestDisabledNotifierNeverSends(t *testing.T) {
	t.Parallel()

	var n *Notifier
	assert.False(t, n.Enabled())
	n.SendSignalDigest([]models.Signal{sig("MKT", models.DirectionBuyYes, 800)})

	n = &Notifier{} // no api, no chat
	assert.False(t, n.Enabled())
	n.SendOperationalAlerts([]string{"x"})
}

func TestHandleCommandAuthorization(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	n := testNotifier(&fakeSender{}, nil, ctrl)

	assert.Empty(t, n.handleCommand(9999, "status", ""), "foreign chats get silence")
	assert.Equal(t, "status-ok", n.handleCommand(1234, "status", ""))
}

func TestHandleCommandDispatch(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	n := testNotifier(&fakeSender{}, nil, ctrl)

	assert.Equal(t, "paused", n.handleCommand(1234, "pause", ""))
	assert.Equal(t, "resumed", n.handleCommand(1234, "resume", ""))
	assert.Equal(t, "confirmed", n.handleCommand(1234, "confirm", ""))
	assert.Equal(t, "report-body", n.handleCommand(1234, "report", ""))

	assert.Equal(t, "mode set: live_safe", n.handleCommand(1234, "mode", " LIVE_SAFE "))
	assert.Equal(t, "live_safe", ctrl.lastMode)

	assert.Contains(t, n.handleCommand(1234, "mode", ""), "Usage")
	assert.Contains(t, n.handleCommand(1234, "nonsense", ""), "Unknown command")
	assert.Contains(t, n.handleCommand(1234, "help", ""), "/status")
}
