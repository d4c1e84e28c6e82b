package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/tokenstore"

	"github.com/fasthttp/websocket"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const waitFor = 5 * time.Second

// pushServer is a minimal /api/ws endpoint with scriptable handshakes.
type pushServer struct {
	upgrader websocket.Upgrader

	mu         sync.Mutex
	handshakes int
	tokens     []string
	reject     func(n int) bool
	hold       chan struct{}

	conns      chan *websocket.Conn
	closeCodes chan int
}

func newPushServer() *pushServer {
	return &pushServer{
		conns:      make(chan *websocket.Conn, 16),
		closeCodes: make(chan int, 16),
	}
}

func (s *pushServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/ws" {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.handshakes++
	n := s.handshakes
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	reject := s.reject
	hold := s.hold
	s.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if reject != nil && reject(n) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.conns <- conn
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				code := -1
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					code = closeErr.Code
				}
				s.closeCodes <- code
				return
			}
		}
	}()
}

func (s *pushServer) handshakeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

func (s *pushServer) lastToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return ""
	}
	return s.tokens[len(s.tokens)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	delays []time.Duration
}

func (r *recorder) addEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) addDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func (r *recorder) ofKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) delayList() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type channelEnv struct {
	ch    *Channel
	store *tokenstore.MemoryStore
	bus   *signals.Bus
	rec   *recorder
}

func newChannelEnv(t *testing.T, srv *httptest.Server, maxAttempts int, maxFrame int) *channelEnv {
	t.Helper()
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.SetCredential(context.Background(), tokenstore.NewCredential("access-1", "refresh-1")))
	bus := signals.NewBus(logger.NewNopLogger())
	t.Cleanup(func() { _ = bus.Close() })

	ch, err := NewChannel(Options{
		APIBaseURL:           srv.URL + "/api",
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: maxAttempts,
		HandshakeTimeout:     2 * time.Second,
		MaxFrameBytes:        maxFrame,
		Store:                store,
		Bus:                  bus,
		Logger:               logger.NewNopLogger(),
	})
	require.NoError(t, err)

	rec := &recorder{}
	// Reconnects fire immediately; only the requested delay is recorded.
	ch.afterFunc = func(d time.Duration, f func()) func() bool {
		rec.addDelay(d)
		go f()
		return func() bool { return false }
	}
	ch.OnEvent(rec.addEvent)
	t.Cleanup(ch.Disconnect)

	return &channelEnv{ch: ch, store: store, bus: bus, rec: rec}
}

func waitConn(t *testing.T, s *pushServer) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("no websocket connection")
		return nil
	}
}

func waitCloseCode(t *testing.T, s *pushServer) int {
	t.Helper()
	select {
	case code := <-s.closeCodes:
		return code
	case <-time.After(waitFor):
		t.Fatal("server saw no close")
		return 0
	}
}

func TestConnectRequiresToken(t *testing.T) {
	srv := httptest.NewServer(newPushServer())
	defer srv.Close()
	env := newChannelEnv(t, srv, 3, 0)
	require.NoError(t, env.store.Clear(context.Background()))

	err := env.ch.Connect(context.Background())

	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, StateClosed, env.ch.State())
}

func TestReconnectDelaysGrowAndCounterResets(t *testing.T) {
	s := newPushServer()
	s.reject = func(n int) bool { return n == 2 || n == 3 }
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 10, 0)

	require.NoError(t, env.ch.Connect(context.Background()))
	first := waitConn(t, s)
	require.Eventually(t, func() bool { return env.ch.State() == StateOpen }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 0, env.ch.ReconnectAttempt())
	assert.Equal(t, "access-1", s.lastToken())

	// Every dial reads the current token.
	require.NoError(t, env.store.SetCredential(context.Background(), tokenstore.NewCredential("access-2", "refresh-2")))
	require.NoError(t, first.Close())

	waitConn(t, s)
	require.Eventually(t, func() bool {
		return env.ch.State() == StateOpen && len(env.rec.delayList()) == 3
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, env.rec.delayList())
	assert.Equal(t, 0, env.ch.ReconnectAttempt())
	assert.Equal(t, 4, s.handshakeCount())
	assert.Equal(t, "access-2", s.lastToken())

	scheduled := env.rec.ofKind(EventReconnectScheduled)
	require.Len(t, scheduled, 3)
	for i, e := range scheduled {
		assert.Equal(t, i+1, e.Attempt)
	}
	for _, e := range env.rec.ofKind(EventClosed) {
		assert.False(t, e.Intentional)
		assert.Equal(t, CloseAbnormal, e.Code)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	s := newPushServer()
	s.reject = func(int) bool { return true }
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 2, 0)

	var unavailable atomic.Int32
	unsubscribe, err := signals.Subscribe(env.bus, signals.RealtimeUnavailableTopic, func(u signals.RealtimeUnavailable) {
		assert.Equal(t, 2, u.Attempts)
		unavailable.Add(1)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, env.ch.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return len(env.rec.ofKind(EventReconnectExhausted)) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, env.rec.delayList())
	assert.Len(t, env.rec.ofKind(EventClosed), 3)
	assert.Equal(t, StateClosed, env.ch.State())
	require.Eventually(t, func() bool { return unavailable.Load() == 1 }, waitFor, 5*time.Millisecond)

	// An explicit connect does not reset the counter.
	require.NoError(t, env.ch.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return len(env.rec.ofKind(EventReconnectExhausted)) == 2
	}, waitFor, 5*time.Millisecond)
	assert.Len(t, env.rec.delayList(), 2)
	assert.Equal(t, 4, s.handshakeCount())
}

func TestDisconnectWhileConnectingClosesNormally(t *testing.T) {
	s := newPushServer()
	s.hold = make(chan struct{})
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 10, 0)

	require.NoError(t, env.ch.Connect(context.Background()))
	require.Eventually(t, func() bool { return s.handshakeCount() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, env.ch.State())

	env.ch.Disconnect()
	close(s.hold)

	waitConn(t, s)
	assert.Equal(t, websocket.CloseNormalClosure, waitCloseCode(t, s))
	require.Eventually(t, func() bool { return env.ch.State() == StateClosed }, waitFor, 5*time.Millisecond)

	closed := env.rec.ofKind(EventClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, CloseNormal, closed[0].Code)
	assert.True(t, closed[0].Intentional)
	assert.Empty(t, env.rec.ofKind(EventReconnectScheduled))
	assert.Equal(t, 1, s.handshakeCount())
}

func TestDisconnectWhileConnectingAndDialFails(t *testing.T) {
	s := newPushServer()
	s.hold = make(chan struct{})
	s.reject = func(int) bool { return true }
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 10, 0)

	require.NoError(t, env.ch.Connect(context.Background()))
	require.Eventually(t, func() bool { return s.handshakeCount() == 1 }, waitFor, 5*time.Millisecond)
	env.ch.Disconnect()
	close(s.hold)

	require.Eventually(t, func() bool { return len(env.rec.ofKind(EventClosed)) == 1 }, waitFor, 5*time.Millisecond)
	closed := env.rec.ofKind(EventClosed)
	assert.Equal(t, CloseNormal, closed[0].Code)
	assert.Empty(t, env.rec.ofKind(EventReconnectScheduled))
}

func TestDisconnectWhileOpen(t *testing.T) {
	s := newPushServer()
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 10, 0)

	require.NoError(t, env.ch.Connect(context.Background()))
	waitConn(t, s)
	require.Eventually(t, func() bool { return env.ch.State() == StateOpen }, waitFor, 5*time.Millisecond)

	env.ch.Disconnect()

	assert.Equal(t, websocket.CloseNormalClosure, waitCloseCode(t, s))
	require.Eventually(t, func() bool { return env.ch.State() == StateClosed }, waitFor, 5*time.Millisecond)
	closed := env.rec.ofKind(EventClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, CloseNormal, closed[0].Code)
	assert.Empty(t, env.rec.ofKind(EventReconnectScheduled))

	var states []State
	for _, e := range env.rec.ofKind(EventStateChanged) {
		states = append(states, e.State)
	}
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosing, StateClosed}, states)
}

func TestInvalidFramesNeverReachHandlers(t *testing.T) {
	s := newPushServer()
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 10, 1024)

	received := make(chan NotificationMessage, 8)
	env.ch.OnNotification(func(m NotificationMessage) { received <- m })
	env.ch.OnNotification(func(NotificationMessage) { panic("handler bug") })

	require.NoError(t, env.ch.Connect(context.Background()))
	conn := waitConn(t, s)
	require.Eventually(t, func() bool { return env.ch.State() == StateOpen }, waitFor, 5*time.Millisecond)

	oversize := strings.Replace(validNotification, "Ana shared a note with you", strings.Repeat("x", 2048), 1)
	frames := []struct {
		messageType int
		data        string
	}{
		{websocket.TextMessage, "not valid json {{{"},
		{websocket.TextMessage, `{"type":"notification"}`},
		{websocket.TextMessage, `{"type":"system","data":{}}`},
		{websocket.BinaryMessage, `{"type":"unread_count","data":{"count":99}}`},
		{websocket.TextMessage, oversize},
		{websocket.TextMessage, `{"type":"unread_count","data":{"count":4}}`},
		{websocket.TextMessage, validNotification},
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(f.messageType, []byte(f.data)))
	}

	var got []NotificationMessage
	for len(got) < 2 {
		select {
		case m := <-received:
			got = append(got, m)
		case <-time.After(waitFor):
			t.Fatalf("expected 2 messages, got %d", len(got))
		}
	}

	count, ok := got[0].UnreadCount()
	require.True(t, ok)
	assert.EqualValues(t, 4, count)
	n, ok := got[1].Notification()
	require.True(t, ok)
	assert.Equal(t, "Note shared", n.Title)

	select {
	case m := <-received:
		t.Fatalf("unexpected message %v", m.Type())
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateOpen, env.ch.State())
}

func TestReconnectWithoutCredentialIsTerminal(t *testing.T) {
	s := newPushServer()
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 5, 0)

	var got []signals.RealtimeUnavailable
	var mu sync.Mutex
	unsubscribe, err := signals.Subscribe(env.bus, signals.RealtimeUnavailableTopic, func(u signals.RealtimeUnavailable) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, env.ch.Connect(context.Background()))
	conn := waitConn(t, s)
	require.Eventually(t, func() bool { return env.ch.State() == StateOpen }, waitFor, 5*time.Millisecond)

	// The session goes away without a Disconnect, then the socket drops.
	require.NoError(t, env.store.Clear(context.Background()))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(env.rec.ofKind(EventReconnectExhausted)) == 1
	}, waitFor, 5*time.Millisecond)

	exhausted := env.rec.ofKind(EventReconnectExhausted)[0]
	assert.Equal(t, 1, exhausted.Attempt)
	assert.Equal(t, ErrNoCredential.Error(), exhausted.Reason)
	assert.Len(t, env.rec.ofKind(EventReconnectScheduled), 1)
	assert.Equal(t, StateClosed, env.ch.State())
	assert.Equal(t, 1, s.handshakeCount())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got[0].Attempts)
	assert.Equal(t, CloseAbnormal, got[0].LastCode)
	assert.Equal(t, ErrNoCredential.Error(), got[0].LastError)
}

func TestExpiredTokenIsOfferedAndLogged(t *testing.T) {
	s := newPushServer()
	srv := httptest.NewServer(s)
	defer srv.Close()
	env := newChannelEnv(t, srv, 5, 0)

	core, logs := observer.New(zapcore.WarnLevel)
	env.ch.logger = logger.NewFromZap(zap.New(core))

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u-7",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, env.store.SetCredential(context.Background(), tokenstore.NewCredential(expired, "refresh-1")))

	require.NoError(t, env.ch.Connect(context.Background()))
	waitConn(t, s)
	require.Eventually(t, func() bool { return env.ch.State() == StateOpen }, waitFor, 5*time.Millisecond)
	assert.Equal(t, expired, s.lastToken())

	entries := logs.FilterMessage("Access token expired").All()
	require.Len(t, entries, 1)
	details, ok := entries[0].ContextMap()["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "u-7", details["user_id"])
}
