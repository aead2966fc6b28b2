package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WS MANAGER - Reconnecting WebSocket with subscription replay
// ═══════════════════════════════════════════════════════════════════════════════
//
// Single-connection client shared by all feeds:
//   - Auth headers are re-evaluated on every reconnect so signed timestamps
//     stay fresh
//   - Subscriptions are buffered and replayed in order after each reconnect
//   - Heartbeat pings with a pong deadline force a reconnect on silence
//   - Backoff doubles per consecutive failure, resets on success
//   - Inbound queue is bounded; overflow drops the oldest message
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPongTimeout       = 10 * time.Second
	defaultReconnectDelay    = 1 * time.Second
	defaultReconnectMax      = 60 * time.Second
	defaultQueueSize         = 4096
)

// Handler receives each decoded JSON object message.
type Handler func(msg map[string]any)

// Config parameterizes a Manager.
type Config struct {
	Name              string
	URL               string
	HeaderProvider    func() (http.Header, error)
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	QueueSize         int
}

// Manager maintains one reconnecting WebSocket connection.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	handler Handler
	onError func(error)

	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	subs    [][]byte
	inbound chan map[string]any
	dropped int64
}

// New creates a manager. Defaults are applied for zero-valued settings.
func New(cfg Config, handler Handler) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = defaultReconnectMax
	}
	if cfg.QueueSize < defaultQueueSize {
		cfg.QueueSize = defaultQueueSize
	}
	return &Manager{
		cfg:     cfg,
		handler: handler,
		stopCh:  make(chan struct{}),
		inbound: make(chan map[string]any, cfg.QueueSize),
	}
}

// OnError sets a hook invoked for connection-level failures. Errors never
// terminate the manager.
func (m *Manager) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// IsConnected reports whether a live connection exists.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Subscribe buffers a subscription message for replay and sends it now when
// connected.
func (m *Manager) Subscribe(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.subs = append(m.subs, data)
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()

	if connected && conn != nil {
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	return nil
}

// Run connects and processes messages until Close is called.
func (m *Manager) Run() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.dispatchLoop()

	delay := m.cfg.ReconnectDelay
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if err := m.connect(); err != nil {
			log.Warn().Err(err).Str("feed", m.cfg.Name).Dur("retry_in", delay).Msg("WebSocket connect failed")
			m.dispatchError(err)
			if !m.sleep(delay) {
				return
			}
			delay = nextDelay(delay, m.cfg.ReconnectMaxDelay)
			continue
		}

		delay = m.cfg.ReconnectDelay
		m.readLoop()

		select {
		case <-m.stopCh:
			return
		default:
		}
		if !m.sleep(delay) {
			return
		}
		delay = nextDelay(delay, m.cfg.ReconnectMaxDelay)
	}
}

// Close stops the manager and closes the connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)

	if m.conn != nil {
		m.conn.Close()
	}
	log.Info().Str("feed", m.cfg.Name).Msg("WebSocket closed")
}

// connect dials with freshly-evaluated headers and replays subscriptions.
func (m *Manager) connect() error {
	var headers http.Header
	if m.cfg.HeaderProvider != nil {
		h, err := m.cfg.HeaderProvider()
		if err != nil {
			return err
		}
		headers = h
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(m.cfg.URL, headers)
	if err != nil {
		return err
	}

	pongWait := m.cfg.HeartbeatInterval + m.cfg.PongTimeout
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	subs := make([][]byte, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	log.Info().Str("feed", m.cfg.Name).Str("url", m.cfg.URL).Msg("🔌 WebSocket connected")

	for _, sub := range subs {
		if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
			conn.Close()
			return err
		}
	}

	go m.heartbeatLoop(conn)
	return nil
}

// heartbeatLoop pings until the connection is replaced or the manager stops.
func (m *Manager) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.RLock()
			current := m.conn == conn && m.connected
			m.mu.RUnlock()
			if !current {
				return
			}
			deadline := time.Now().Add(m.cfg.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// readLoop decodes inbound JSON and enqueues object messages.
func (m *Manager) readLoop() {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return
	}

	defer func() {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.stopCh:
			default:
				log.Warn().Err(err).Str("feed", m.cfg.Name).Msg("WebSocket read error")
				m.dispatchError(err)
			}
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			// Non-object frames are dropped silently.
			continue
		}
		m.enqueue(msg)
	}
}

// enqueue pushes a message, dropping the oldest when the queue is full.
func (m *Manager) enqueue(msg map[string]any) {
	select {
	case m.inbound <- msg:
		return
	default:
	}

	select {
	case <-m.inbound:
	default:
	}

	select {
	case m.inbound <- msg:
	default:
	}

	m.mu.Lock()
	m.dropped++
	dropped := m.dropped
	m.mu.Unlock()
	if dropped%100 == 1 {
		log.Warn().Str("feed", m.cfg.Name).Int64("dropped", dropped).Msg("⚠️ Inbound queue overflow, dropping oldest")
	}
}

// dispatchLoop delivers queued messages to the handler.
func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case msg := <-m.inbound:
			if m.handler != nil {
				m.handler(msg)
			}
		}
	}
}

func (m *Manager) dispatchError(err error) {
	m.mu.RLock()
	hook := m.onError
	m.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// sleep waits for d or until Close; returns false when closed.
func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// nextDelay doubles the backoff up to max.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
