package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayDoublesAndCaps(t *testing.T) {
	t.Parallel()

	max := 60 * time.Second
	d := 1 * time.Second

	d = nextDelay(d, max)
	assert.Equal(t, 2*time.Second, d)
	d = nextDelay(d, max)
	assert.Equal(t, 4*time.Second, d)

	for i := 0; i < 10; i++ {
		d = nextDelay(d, max)
	}
	assert.Equal(t, max, d)
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	m := New(Config{Name: "test", URL: "wss://example.invalid", QueueSize: defaultQueueSize}, nil)

	for i := 0; i < defaultQueueSize; i++ {
		m.enqueue(map[string]any{"seq": i})
	}
	// One past capacity: the oldest message must make room for the newest.
	m.enqueue(map[string]any{"seq": defaultQueueSize})

	first := <-m.inbound
	assert.Equal(t, 1, first["seq"])

	m.mu.RLock()
	dropped := m.dropped
	m.mu.RUnlock()
	assert.Equal(t, int64(1), dropped)
}

func TestSubscribeBuffersWhenDisconnected(t *testing.T) {
	t.Parallel()

	m := New(Config{Name: "test", URL: "wss://example.invalid"}, nil)

	err := m.Subscribe(map[string]any{"cmd": "subscribe", "channels": []string{"ticker"}})
	assert.NoError(t, err)
	err = m.Subscribe(map[string]any{"cmd": "subscribe", "channels": []string{"orderbook_delta"}})
	assert.NoError(t, err)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.subs, 2)
	assert.Contains(t, string(m.subs[0]), "ticker")
	assert.Contains(t, string(m.subs[1]), "orderbook_delta")
}

func TestDefaultsApplied(t *testing.T) {
	t.Parallel()

	m := New(Config{URL: "wss://example.invalid"}, nil)
	assert.Equal(t, defaultHeartbeatInterval, m.cfg.HeartbeatInterval)
	assert.Equal(t, defaultPongTimeout, m.cfg.PongTimeout)
	assert.Equal(t, defaultReconnectDelay, m.cfg.ReconnectDelay)
	assert.Equal(t, defaultReconnectMax, m.cfg.ReconnectMaxDelay)
	assert.Equal(t, defaultQueueSize, cap(m.inbound))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	m := New(Config{URL: "wss://example.invalid"}, nil)
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.Close()
	m.Close() // second call must not panic on the closed channel
}
