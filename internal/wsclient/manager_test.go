package wsclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsServer is a minimal push endpoint for tests: it records inbound frames,
// answers pings with pongs, and lets the test push frames to every client.
type wsServer struct {
	server *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	inbound  []map[string]interface{}
	upgrades int32
	pongs    bool
}

func newWSServer(t *testing.T, pongs bool) *wsServer {
	t.Helper()

	s := &wsServer{pongs: pongs}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&s.upgrades, 1)

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}

			s.mu.Lock()
			s.inbound = append(s.inbound, msg)
			s.mu.Unlock()

			if msgType, _ := msg["type"].(string); msgType == "ping" && s.pongs {
				s.mu.Lock()
				conn.WriteJSON(map[string]interface{}{"type": "pong"})
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.server.Close)

	return s
}

func (s *wsServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *wsServer) Upgrades() int {
	return int(atomic.LoadInt32(&s.upgrades))
}

func (s *wsServer) Inbound() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]interface{}, len(s.inbound))
	copy(out, s.inbound)
	return out
}

func (s *wsServer) Push(frame interface{}) {
	data, _ := json.Marshal(frame)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (s *wsServer) PushRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (s *wsServer) CloseClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, _ := m.ConnState()
		return state == want
	}, 2*time.Second, 10*time.Millisecond, "expected state %s", want)
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Second},
		{attempt: 1, want: 1 * time.Second},
		{attempt: 3, want: 3 * time.Second},
		{attempt: 10, want: 10 * time.Second},
		{attempt: 100, want: 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ReconnectDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "ws://host/ws", want: "ws://host/ws"},
		{raw: "wss://host/ws", want: "wss://host/ws"},
		{raw: "http://host/ws", want: "ws://host/ws"},
		{raw: "https://host/ws", want: "wss://host/ws"},
		{raw: "host:8085/ws", want: "ws://host:8085/ws"},
		{raw: "  ", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.raw), "raw %q", tt.raw)
	}
}

func TestDisabledManagerIsNoop(t *testing.T) {
	m := NewManager("", arbor.NewLogger())
	defer m.Close()

	assert.False(t, m.Enabled())

	sub := m.Subscribe("jobs:updated:go", func(map[string]interface{}) {})
	assert.False(t, sub.Active())

	state, attempts := m.ConnState()
	assert.Equal(t, StateDisconnected, state)
	assert.Equal(t, 0, attempts)
}

func TestSubscribeConnectsAndRoutesChannelEvents(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	received := make(chan map[string]interface{}, 4)
	sub := m.Subscribe("jobs:updated:go", func(payload map[string]interface{}) {
		received <- payload
	})
	require.True(t, sub.Active())

	waitForState(t, m, StateConnected)

	// The subscribe control frame reaches the endpoint
	require.Eventually(t, func() bool {
		for _, msg := range server.Inbound() {
			if msg["action"] == "subscribe" && msg["channel"] == "jobs:updated:go" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	server.Push(map[string]interface{}{
		"type":     "jobs_updated",
		"channel":  "jobs:updated:go",
		"keyword":  "go",
		"new_jobs": 2,
	})

	select {
	case payload := <-received:
		assert.Equal(t, "go", payload["keyword"])
	case <-time.After(2 * time.Second):
		t.Fatal("channel event never delivered")
	}

	// Events for other channels are not routed here
	server.Push(map[string]interface{}{
		"type":    "jobs_updated",
		"channel": "jobs:updated:rust",
	})
	select {
	case payload := <-received:
		t.Fatalf("unexpected delivery: %v", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFramesWithoutChannelBroadcastToAllSubscribers(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	var count int32
	m.Subscribe("jobs:updated:go", func(map[string]interface{}) { atomic.AddInt32(&count, 1) })
	m.Subscribe("jobs:updated:rust", func(map[string]interface{}) { atomic.AddInt32(&count, 1) })

	waitForState(t, m, StateConnected)

	server.Push(map[string]interface{}{"type": "jobs_updated", "keyword": "any"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnparseableFramesAreDropped(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	received := make(chan map[string]interface{}, 4)
	m.Subscribe("jobs:updated:go", func(payload map[string]interface{}) {
		received <- payload
	})
	waitForState(t, m, StateConnected)

	server.PushRaw([]byte("{not json"))
	server.Push(map[string]interface{}{"type": "jobs_updated", "channel": "jobs:updated:go"})

	select {
	case payload := <-received:
		assert.Equal(t, "jobs_updated", payload["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after garbage never delivered")
	}

	state, _ := m.ConnState()
	assert.Equal(t, StateConnected, state)
}

func TestPanickingHandlerDoesNotKillConnection(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	received := make(chan struct{}, 4)
	m.Subscribe("jobs:updated:go", func(map[string]interface{}) {
		panic("subscriber bug")
	})
	m.Subscribe("jobs:updated:go", func(map[string]interface{}) {
		received <- struct{}{}
	})
	waitForState(t, m, StateConnected)

	server.Push(map[string]interface{}{"type": "jobs_updated", "channel": "jobs:updated:go"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler never ran")
	}

	state, _ := m.ConnState()
	assert.Equal(t, StateConnected, state)
}

func TestUnsubscribeIsIdempotentAndTearsDownWhenEmpty(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	sub := m.Subscribe("jobs:updated:go", func(map[string]interface{}) {})
	waitForState(t, m, StateConnected)

	m.Unsubscribe(sub)
	waitForState(t, m, StateDisconnected)

	// Double unsubscribe and zero-value unsubscribe are safe
	m.Unsubscribe(sub)
	m.Unsubscribe(Subscription{})

	state, attempts := m.ConnState()
	assert.Equal(t, StateDisconnected, state)
	assert.Equal(t, 0, attempts)
}

func TestServerDropTriggersReconnect(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	var sawReconnecting int32
	unobserve := m.OnStateChange(func(state State, attempts int) {
		if state == StateReconnecting && attempts > 0 {
			atomic.AddInt32(&sawReconnecting, 1)
		}
	})
	defer unobserve()

	m.Subscribe("jobs:updated:go", func(map[string]interface{}) {})
	waitForState(t, m, StateConnected)

	server.CloseClients()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sawReconnecting) > 0
	}, 2*time.Second, 10*time.Millisecond)

	// The backoff timer redials against the same endpoint
	require.Eventually(t, func() bool {
		state, _ := m.ConnState()
		return state == StateConnected && server.Upgrades() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHeartbeatTimeoutForcesReconnect(t *testing.T) {
	// Endpoint that never answers pings
	server := newWSServer(t, false)

	m := NewManager(server.URL(), arbor.NewLogger(),
		WithHeartbeat(20*time.Millisecond, 40*time.Millisecond))
	defer m.Close()

	m.Subscribe("jobs:updated:go", func(map[string]interface{}) {})
	waitForState(t, m, StateConnected)

	require.Eventually(t, func() bool {
		return server.Upgrades() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHeartbeatKeepsHealthyConnectionAlive(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger(),
		WithHeartbeat(20*time.Millisecond, 100*time.Millisecond))
	defer m.Close()

	m.Subscribe("jobs:updated:go", func(map[string]interface{}) {})
	waitForState(t, m, StateConnected)

	time.Sleep(300 * time.Millisecond)

	state, _ := m.ConnState()
	assert.Equal(t, StateConnected, state)
	assert.Equal(t, 1, server.Upgrades())
}

func TestConnectToOverrideSkipsResubscribe(t *testing.T) {
	server := newWSServer(t, true)

	m := NewManager(server.URL(), arbor.NewLogger())
	defer m.Close()

	m.ConnectTo(server.URL() + "?keyword=go")
	m.Subscribe("jobs:updated:go", func(map[string]interface{}) {})
	waitForState(t, m, StateConnected)

	time.Sleep(100 * time.Millisecond)

	for _, msg := range server.Inbound() {
		assert.NotEqual(t, "subscribe", msg["action"], "override connections must not resubscribe")
	}
}

func TestStateStringer(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}
