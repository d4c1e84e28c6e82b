// Package realtime keeps the single push-notification websocket alive and
// reconnects it after unintentional drops.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/tokenstore"

	"github.com/fasthttp/websocket"
)

const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure

	// A reconnect never waits longer than base * maxDelayFactor.
	maxDelayFactor = 5

	closeWait         = 5 * time.Second
	defaultFrameBytes = 64 << 10
	hardReadLimit     = 1 << 20
)

var (
	ErrNoCredential = errors.New("realtime: no access token")
	ErrClosing      = errors.New("realtime: channel is closing")
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	}
	return "CLOSED"
}

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventClosed
	EventReconnectScheduled
	EventReconnectExhausted
)

// Event is what listeners observe. Fields beyond Kind depend on the kind:
// State for EventStateChanged, Code/Reason/Intentional for EventClosed,
// Attempt/Delay for EventReconnectScheduled, Attempt/Reason for
// EventReconnectExhausted.
type Event struct {
	Kind        EventKind
	State       State
	Code        int
	Reason      string
	Intentional bool
	Attempt     int
	Delay       time.Duration
}

type Options struct {
	APIBaseURL           string
	HostOverride         string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	MaxFrameBytes        int

	Store  tokenstore.TokenStore
	Bus    *signals.Bus
	Logger logger.ILogger
}

type Channel struct {
	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	reconnectAttempt int
	lastCloseCode    int
	intentionalClose bool
	pendingClose     bool
	generation       uint64
	stopTimer        func() bool

	queue    []Event
	draining bool

	listeners        map[int]func(Event)
	handlers         map[int]func(NotificationMessage)
	nextSubscription int

	apiBaseURL   string
	hostOverride string
	baseDelay    time.Duration
	maxAttempts  int
	maxFrame     int

	dialer    *websocket.Dialer
	validator *FrameValidator
	store     tokenstore.TokenStore
	bus       *signals.Bus
	logger    logger.ILogger
	afterFunc func(d time.Duration, f func()) (stop func() bool)
}

func NewChannel(opts Options) (*Channel, error) {
	validator, err := NewFrameValidator()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	baseDelay := opts.ReconnectBaseDelay
	if baseDelay <= 0 {
		baseDelay = 3 * time.Second
	}
	maxAttempts := opts.MaxReconnectAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	maxFrame := opts.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = defaultFrameBytes
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	return &Channel{
		state:        StateClosed,
		listeners:    make(map[int]func(Event)),
		handlers:     make(map[int]func(NotificationMessage)),
		apiBaseURL:   opts.APIBaseURL,
		hostOverride: opts.HostOverride,
		baseDelay:    baseDelay,
		maxAttempts:  maxAttempts,
		maxFrame:     maxFrame,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshake,
		},
		validator: validator,
		store:     opts.Store,
		bus:       opts.Bus,
		logger:    log,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempt
}

// OnEvent registers a lifecycle listener and returns its remover.
func (c *Channel) OnEvent(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubscription
	c.nextSubscription++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// OnNotification registers a handler for validated frames and returns its remover.
func (c *Channel) OnNotification(fn func(NotificationMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubscription
	c.nextSubscription++
	c.handlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// Connect opens the channel with the stored access token. It returns once
// the dial has started; progress is reported through OnEvent.
func (c *Channel) Connect(ctx context.Context) error {
	token := c.accessToken(ctx)
	if token == "" {
		return ErrNoCredential
	}
	endpoint, err := BuildEndpoint(c.apiBaseURL, c.hostOverride, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		// Undo a Disconnect issued while this dial was in flight.
		c.intentionalClose = false
		c.pendingClose = false
		c.mu.Unlock()
		return nil
	case StateClosing:
		c.mu.Unlock()
		return ErrClosing
	}

	c.cancelTimerLocked()
	c.intentionalClose = false
	c.pendingClose = false
	c.startDialLocked(endpoint)
	c.mu.Unlock()

	c.flush()
	return nil
}

// Disconnect closes the channel with code 1000 and cancels any scheduled
// reconnect. While CONNECTING the close happens as soon as the socket opens.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.cancelTimerLocked()
	c.intentionalClose = true

	switch c.state {
	case StateClosed:
		// Invalidate a reconnect timer that already fired.
		c.generation++
		c.mu.Unlock()
		return
	case StateConnecting:
		c.pendingClose = true
		c.mu.Unlock()
		return
	case StateClosing:
		c.mu.Unlock()
		return
	}

	conn := c.conn
	c.setStateLocked(StateClosing)
	c.mu.Unlock()
	c.flush()

	c.sendClose(conn)
}

func (c *Channel) sendClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(CloseNormal, "client disconnect")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
		c.logger.Debug("REALTIME", "Failed to write close frame", map[string]interface{}{
			"error": err.Error(),
		})
		_ = conn.Close()
		return
	}
	// The read loop finishes once the peer echoes the close or the deadline passes.
	_ = conn.SetReadDeadline(time.Now().Add(closeWait))
}

func (c *Channel) startDialLocked(endpoint string) {
	c.generation++
	gen := c.generation
	c.setStateLocked(StateConnecting)
	go c.dial(gen, endpoint)
}

func (c *Channel) dial(gen uint64, endpoint string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	cancel()

	if err != nil {
		c.logger.Warn("REALTIME", "Dial failed", map[string]interface{}{
			"error": err.Error(),
		})
		c.onClosed(gen, CloseAbnormal, err.Error())
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	if c.pendingClose {
		c.pendingClose = false
		c.setStateLocked(StateClosing)
		c.mu.Unlock()
		c.flush()
		c.sendClose(conn)
		c.readLoop(gen, conn)
		return
	}
	c.reconnectAttempt = 0
	c.setStateLocked(StateOpen)
	c.mu.Unlock()
	c.flush()

	c.logger.Info("REALTIME", "Connected", nil)
	c.readLoop(gen, conn)
}

func (c *Channel) readLoop(gen uint64, conn *websocket.Conn) {
	conn.SetReadLimit(hardReadLimit)
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			code, reason := closeDetails(err)
			c.onClosed(gen, code, reason)
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("REALTIME", "Dropped non-text frame", map[string]interface{}{
				"message_type": msgType,
			})
			continue
		}
		if len(raw) > c.maxFrame {
			c.logger.Warn("REALTIME", "Dropped oversize frame", map[string]interface{}{
				"size": len(raw),
			})
			continue
		}
		msg, err := c.validator.Parse(raw)
		if err != nil {
			c.logger.Warn("REALTIME", "Dropped invalid frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		c.deliver(msg)
	}
}

func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return CloseAbnormal, err.Error()
}

func (c *Channel) onClosed(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}

	c.conn = nil
	c.lastCloseCode = code
	intentional := c.intentionalClose || c.pendingClose
	c.pendingClose = false
	if intentional {
		code = CloseNormal
	}
	c.setStateLocked(StateClosed)
	c.queue = append(c.queue, Event{Kind: EventClosed, Code: code, Reason: reason, Intentional: intentional})

	var unavailable *signals.RealtimeUnavailable
	if !intentional {
		if c.reconnectAttempt < c.maxAttempts {
			c.reconnectAttempt++
			factor := c.reconnectAttempt
			if factor > maxDelayFactor {
				factor = maxDelayFactor
			}
			delay := c.baseDelay * time.Duration(factor)
			c.queue = append(c.queue, Event{Kind: EventReconnectScheduled, Attempt: c.reconnectAttempt, Delay: delay})
			c.stopTimer = c.afterFunc(delay, func() { c.reconnect(gen) })
		} else {
			unavailable = c.giveUpLocked(reason)
		}
	}
	attempt := c.reconnectAttempt
	c.mu.Unlock()

	c.logger.Info("REALTIME", "Closed", map[string]interface{}{
		"code":        code,
		"reason":      reason,
		"intentional": intentional,
		"attempt":     attempt,
	})
	c.flush()
	c.publishUnavailable(unavailable)
}

func (c *Channel) reconnect(gen uint64) {
	token := c.accessToken(context.Background())

	c.mu.Lock()
	if gen != c.generation || c.state != StateClosed || c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.stopTimer = nil

	endpoint, err := "", ErrNoCredential
	if token != "" {
		endpoint, err = BuildEndpoint(c.apiBaseURL, c.hostOverride, token)
	}
	if err != nil {
		// Nothing to dial with; later timers would fail the same way.
		unavailable := c.giveUpLocked(err.Error())
		c.mu.Unlock()
		c.logger.Warn("REALTIME", "Reconnect abandoned", map[string]interface{}{
			"error": err.Error(),
		})
		c.flush()
		c.publishUnavailable(unavailable)
		return
	}
	c.startDialLocked(endpoint)
	c.mu.Unlock()
	c.flush()
}

// giveUpLocked queues the terminal event and returns the signal to publish
// once the lock is released.
func (c *Channel) giveUpLocked(reason string) *signals.RealtimeUnavailable {
	c.queue = append(c.queue, Event{Kind: EventReconnectExhausted, Attempt: c.reconnectAttempt, Reason: reason})
	return &signals.RealtimeUnavailable{Attempts: c.reconnectAttempt, LastCode: c.lastCloseCode, LastError: reason}
}

func (c *Channel) publishUnavailable(unavailable *signals.RealtimeUnavailable) {
	if unavailable == nil || c.bus == nil {
		return
	}
	if err := signals.Publish(context.Background(), c.bus, signals.RealtimeUnavailableTopic, *unavailable); err != nil {
		c.logger.Error("REALTIME", "Failed to publish realtime unavailable", map[string]interface{}{
			"error": err,
		})
	}
}

// accessToken reads the stored token for a handshake. An expired token is
// still offered, since a refresh may land before the server checks it.
func (c *Channel) accessToken(ctx context.Context) string {
	cred, err := c.store.GetCredential(ctx)
	if err != nil || cred == nil || cred.AccessToken == "" {
		return ""
	}
	if !cred.Valid() {
		c.logger.Warn("REALTIME", "Access token expired", map[string]interface{}{
			"user_id":    tokenstore.SubjectOf(cred.AccessToken),
			"expired_at": cred.Expiry,
		})
	}
	return cred.AccessToken
}

func (c *Channel) cancelTimerLocked() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Channel) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.queue = append(c.queue, Event{Kind: EventStateChanged, State: state})
}

// flush delivers queued events in order. Only one goroutine drains at a
// time, so a listener may call back into the channel.
func (c *Channel) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue = c.queue[1:]
		listeners := make([]func(Event), 0, len(c.listeners))
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
		c.mu.Unlock()
		for _, fn := range listeners {
			c.safeCall("event listener", func() { fn(ev) })
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Channel) deliver(msg NotificationMessage) {
	c.mu.Lock()
	handlers := make([]func(NotificationMessage), 0, len(c.handlers))
	for _, fn := range c.handlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		c.safeCall("notification handler", func() { fn(msg) })
	}
}

func (c *Channel) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("REALTIME", "Recovered panic in "+what, map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
		}
	}()
	fn()
}
