package wsclient

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

const (
	// DefaultHeartbeatInterval is how often a ping control message is sent
	// while connected.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultPongTimeout is how long the manager waits for a pong before
	// forcing a reconnect.
	DefaultPongTimeout = 65 * time.Second

	// MaxReconnectDelay caps the linear reconnect backoff.
	MaxReconnectDelay = 10 * time.Second
)

// ReconnectDelay returns the backoff before reconnect attempt n:
// min(n*1000ms, 10000ms).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * time.Second
	if delay > MaxReconnectDelay {
		delay = MaxReconnectDelay
	}
	return delay
}

// Handler receives decoded push payloads for a subscribed channel.
type Handler func(payload map[string]interface{})

// Subscription identifies one registered handler. The zero value is inactive
// and safe to unsubscribe.
type Subscription struct {
	id      uuid.UUID
	channel string
}

// Channel returns the channel this subscription is registered on.
func (s Subscription) Channel() string { return s.channel }

// Active reports whether the subscription refers to a registered handler.
func (s Subscription) Active() bool { return s.channel != "" && s.id != uuid.Nil }

type controlMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type pingMessage struct {
	Type string `json:"type"`
}

// Manager owns at most one physical WebSocket connection to the push
// endpoint, shared by all channel subscribers, with heartbeat liveness
// monitoring and backoff-based recovery. Instances are independent; tests run
// their own.
type Manager struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  arbor.ILogger

	heartbeatInterval time.Duration
	pongTimeout       time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	attempts    int
	gen         uint64 // bumped per dial; stale read/heartbeat loops bail out
	urlOverride string
	subscribers map[string]map[uuid.UUID]Handler
	observers   map[uuid.UUID]func(State, int)
	reconnect   *time.Timer
	hbStop      chan struct{}
	lastPong    time.Time
	dialing     bool
	closed      bool

	writeMu sync.Mutex
}

// Option configures the Manager.
type Option func(*Manager)

// WithDialer sets a custom WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = dialer
	}
}

// WithHeartbeat overrides the ping interval and pong timeout. Used by tests
// to shrink the liveness windows.
func WithHeartbeat(interval, pongTimeout time.Duration) Option {
	return func(m *Manager) {
		m.heartbeatInterval = interval
		m.pongTimeout = pongTimeout
	}
}

// NewManager creates a connection manager for the given push endpoint base
// URL. An empty URL disables the manager entirely: subscriptions become
// no-ops and the state stays disconnected.
func NewManager(baseURL string, logger arbor.ILogger, opts ...Option) *Manager {
	m := &Manager{
		baseURL:           NormalizeURL(baseURL),
		dialer:            websocket.DefaultDialer,
		logger:            logger,
		heartbeatInterval: DefaultHeartbeatInterval,
		pongTimeout:       DefaultPongTimeout,
		subscribers:       make(map[string]map[uuid.UUID]Handler),
		observers:         make(map[uuid.UUID]func(State, int)),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NormalizeURL coerces an http(s) or schemeless endpoint into a ws(s) URL.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(trimmed, "ws://"), strings.HasPrefix(trimmed, "wss://"):
		return trimmed
	case strings.HasPrefix(trimmed, "https://"):
		return "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		return "ws://" + strings.TrimPrefix(trimmed, "http://")
	default:
		return "ws://" + trimmed
	}
}

// Enabled reports whether a push endpoint is configured at all. A disabled
// manager is a silent no-op, not an error.
func (m *Manager) Enabled() bool {
	return m.baseURL != ""
}

// BaseURL returns the normalized push endpoint base URL, empty when disabled.
func (m *Manager) BaseURL() string {
	return m.baseURL
}

// ConnState returns the current connection state and the reconnect attempt
// count.
func (m *Manager) ConnState() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.attempts
}

// OnStateChange registers an observer called on every state transition.
// The returned function removes the observer.
func (m *Manager) OnStateChange(fn func(state State, attempts int)) func() {
	id := uuid.New()

	m.mu.Lock()
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Subscribe registers a handler for a channel, establishing the connection if
// needed. If the connection is already open and no URL override is in effect,
// a subscribe control message is sent. Empty channels are a no-op and return
// an inactive subscription.
func (m *Manager) Subscribe(channel string, handler Handler) Subscription {
	normalized := strings.TrimSpace(channel)
	if normalized == "" || handler == nil {
		return Subscription{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.Enabled() {
		return Subscription{}
	}

	set, ok := m.subscribers[normalized]
	if !ok {
		set = make(map[uuid.UUID]Handler)
		m.subscribers[normalized] = set
	}

	sub := Subscription{id: uuid.New(), channel: normalized}
	set[sub.id] = handler

	m.connectLocked()

	if m.conn != nil && m.state == StateConnected && m.urlOverride == "" {
		m.sendLocked(controlMessage{Action: "subscribe", Channel: normalized})
		m.logger.Debug().Str("channel", normalized).Msg("Subscribed to channel")
	}

	return sub
}

// Unsubscribe removes a handler. When the last handler for a channel goes, an
// unsubscribe control message is sent; when no channels remain at all, the
// physical connection is torn down. Safe to call twice or with an inactive
// subscription.
func (m *Manager) Unsubscribe(sub Subscription) {
	if !sub.Active() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subscribers[sub.channel]
	if !ok {
		return
	}
	if _, ok := set[sub.id]; !ok {
		return
	}

	delete(set, sub.id)

	if len(set) == 0 {
		delete(m.subscribers, sub.channel)
		if m.conn != nil && m.state == StateConnected && m.urlOverride == "" {
			m.sendLocked(controlMessage{Action: "unsubscribe", Channel: sub.channel})
		}
	}

	if len(m.subscribers) == 0 {
		m.urlOverride = ""
		m.teardownLocked()
		m.attempts = 0
		m.setStateLocked(StateDisconnected)
	}
}

// Connect establishes the transport against the configured base URL. Calling
// it while already open or connecting is a no-op.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

// ConnectTo establishes the transport against an override URL (keyword
// embedded in the query string). While an override is active, automatic
// resubscription on reconnect is skipped: the URL itself encodes the topic.
func (m *Manager) ConnectTo(url string) {
	normalized := strings.TrimSpace(url)
	if normalized == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.urlOverride = normalized
	m.connectLocked()
}

// Reconnect force-closes the current transport and dials again.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.connectLocked()
}

// Close shuts the manager down permanently.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.teardownLocked()
	m.subscribers = make(map[string]map[uuid.UUID]Handler)
	m.setStateLocked(StateDisconnected)
}

func (m *Manager) targetURLLocked() string {
	if m.urlOverride != "" {
		return m.urlOverride
	}
	return m.baseURL
}

func (m *Manager) connectLocked() {
	if m.closed {
		return
	}

	url := m.targetURLLocked()
	if url == "" || len(m.subscribers) == 0 {
		return
	}

	// Idempotent connect: already open or mid-handshake.
	if m.conn != nil || m.dialing {
		return
	}

	m.stopTimersLocked()

	m.gen++
	gen := m.gen
	if m.attempts > 0 {
		m.setStateLocked(StateReconnecting)
	} else {
		m.setStateLocked(StateConnecting)
	}

	m.logger.Debug().Str("url", url).Msg("WebSocket connecting")

	m.dialing = true
	go m.dial(url, gen)
}

func (m *Manager) dial(url string, gen uint64) {
	conn, resp, err := m.dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.dialing = false

	if err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("WebSocket dial failed")
		m.conn = nil
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastPong = time.Now()
	m.setStateLocked(StateConnected)
	m.logger.Debug().Str("url", url).Msg("WebSocket connected")

	m.resubscribeLocked()

	stop := make(chan struct{})
	m.hbStop = stop
	m.mu.Unlock()

	go m.heartbeat(stop, gen)
	go m.readLoop(conn, gen)
}

// resubscribeLocked re-sends subscribe control messages for every registered
// channel after a (re)connect. Skipped under a URL override, where the
// endpoint derives the topic from the query string.
func (m *Manager) resubscribeLocked() {
	if m.urlOverride != "" {
		return
	}
	for channel := range m.subscribers {
		m.sendLocked(controlMessage{Action: "subscribe", Channel: channel})
		m.logger.Debug().Str("channel", channel).Msg("Subscribed to channel")
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(gen, err)
			return
		}
		m.handleMessage(data)
	}
}

func (m *Manager) handleDisconnect(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A stale read loop from a superseded connection must not trigger a
	// second reconnect storm.
	if m.gen != gen || m.closed {
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		m.logger.Warn().Err(err).Msg("WebSocket closed unexpectedly")
	} else {
		m.logger.Debug().Msg("WebSocket disconnected")
	}

	m.conn = nil
	m.stopHeartbeatLocked()

	if len(m.subscribers) > 0 {
		m.scheduleReconnectLocked()
	} else {
		m.setStateLocked(StateDisconnected)
	}
}

func (m *Manager) handleMessage(data []byte) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		// Unparseable frames are dropped, never fatal.
		return
	}

	if msgType, _ := payload["type"].(string); msgType == "pong" {
		m.mu.Lock()
		m.lastPong = time.Now()
		m.mu.Unlock()
		return
	}

	channel, _ := payload["channel"].(string)

	m.mu.Lock()
	var handlers []Handler
	if channel == "" {
		// No channel means broadcast to every subscriber (legacy frames).
		for _, set := range m.subscribers {
			for _, h := range set {
				handlers = append(handlers, h)
			}
		}
	} else {
		for _, h := range m.subscribers[channel] {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	if channel != "" && len(handlers) > 0 {
		m.logger.Debug().Str("channel", channel).Msg("Received channel event")
	}

	for _, handler := range handlers {
		m.invoke(handler, payload)
	}
}

// invoke shields the manager from panicking subscriber callbacks.
func (m *Manager) invoke(handler Handler, payload map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			m.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Recovered from panic in subscriber callback")
		}
	}()
	handler(payload)
}

func (m *Manager) heartbeat(stop chan struct{}, gen uint64) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.gen != gen || m.closed {
				m.mu.Unlock()
				return
			}
			alive := m.conn != nil && time.Since(m.lastPong) <= m.pongTimeout
			if !alive {
				m.logger.Warn().Msg("Heartbeat timeout, reconnecting")
				m.teardownLocked()
				m.connectLocked()
				m.mu.Unlock()
				return
			}
			m.sendLocked(pingMessage{Type: "ping"})
			m.mu.Unlock()
		}
	}
}

func (m *Manager) scheduleReconnectLocked() {
	if m.closed || len(m.subscribers) == 0 || !m.Enabled() {
		m.setStateLocked(StateDisconnected)
		return
	}

	m.stopReconnectLocked()

	m.attempts++
	delay := ReconnectDelay(m.attempts)
	m.setStateLocked(StateReconnecting)

	m.logger.Debug().
		Int("attempt", m.attempts).
		Dur("delay", delay).
		Msg("WebSocket reconnect scheduled")

	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.reconnect = nil
		m.connectLocked()
	})
}

// sendLocked marshals and writes a message on the current connection. Callers
// hold m.mu; the separate write mutex keeps concurrent writers off the wire.
func (m *Manager) sendLocked(message interface{}) {
	conn := m.conn
	if conn == nil {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to marshal outbound message")
		return
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()

	if err != nil {
		m.logger.Warn().Err(err).Msg("WebSocket write failed")
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

func (m *Manager) stopTimersLocked() {
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
}

// teardownLocked closes the transport and invalidates in-flight loops without
// touching the subscriber registry.
func (m *Manager) teardownLocked() {
	m.stopTimersLocked()
	m.gen++
	m.dialing = false

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.setStateLocked(StateDisconnected)
	}
}

func (m *Manager) setStateLocked(next State) {
	if m.state == next {
		return
	}
	m.state = next
	attempts := m.attempts

	observers := make([]func(State, int), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}

	// Observers run off the lock; they may call back into the manager.
	go func() {
		for _, fn := range observers {
			fn(next, attempts)
		}
	}()
}
