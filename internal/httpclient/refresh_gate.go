package httpclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ai-notetaking-client/internal/apierror"
	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/tokenstore"

	"github.com/google/uuid"
)

type GateState int

const (
	StateIdle GateState = iota
	StateRefreshing
)

func (s GateState) String() string {
	if s == StateRefreshing {
		return "REFRESHING"
	}
	return "IDLE"
}

// RefreshFunc exchanges a refresh token for a new session.
type RefreshFunc func(ctx context.Context, refreshToken string) (*dto.LoginResponse, error)

// refreshFlight is the shared handle every caller of one refresh episode waits on.
type refreshFlight struct {
	done chan struct{}
	err  error
}

// RefreshGate turns any number of concurrent auth failures into a single
// refresh call. Callers that arrive while a refresh is running wait for its
// result instead of starting another one.
type RefreshGate struct {
	mu      sync.Mutex
	state   GateState
	flight  *refreshFlight
	pending int

	store   tokenstore.TokenStore
	bus     *signals.Bus
	logger  logger.ILogger
	refresh RefreshFunc
	timeout time.Duration
}

func NewRefreshGate(store tokenstore.TokenStore, bus *signals.Bus, log logger.ILogger, refresh RefreshFunc, timeout time.Duration) *RefreshGate {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RefreshGate{
		state:   StateIdle,
		store:   store,
		bus:     bus,
		logger:  log,
		refresh: refresh,
		timeout: timeout,
	}
}

func (g *RefreshGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending is the number of callers queued behind the running refresh.
func (g *RefreshGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Recover is called by a request that failed with usedToken. A nil result
// means a fresh credential is stored and the request should be replayed;
// otherwise the error is an Authentication error and the session is gone.
func (g *RefreshGate) Recover(ctx context.Context, usedToken string) error {
	g.mu.Lock()
	if g.state == StateIdle {
		// An episode that settled after this request went out already
		// replaced the token; replaying is enough.
		if current := tokenstore.AccessToken(ctx, g.store); current != "" && current != usedToken {
			g.mu.Unlock()
			return nil
		}

		flight := &refreshFlight{done: make(chan struct{})}
		g.state = StateRefreshing
		g.flight = flight
		g.mu.Unlock()

		g.lead(ctx, flight)
		return flight.err
	}

	flight := g.flight
	g.pending++
	g.mu.Unlock()

	select {
	case <-flight.done:
		return flight.err
	case <-ctx.Done():
		return apierror.NewAuthenticationError(http.StatusUnauthorized, "request cancelled while waiting for session refresh", ctx.Err())
	}
}

func (g *RefreshGate) lead(ctx context.Context, flight *refreshFlight) {
	flight.err = g.runRefresh(context.WithoutCancel(ctx))

	g.mu.Lock()
	waiters := g.pending
	g.state = StateIdle
	g.flight = nil
	g.pending = 0
	g.mu.Unlock()

	// The credential is already stored (or cleared) at this point.
	close(flight.done)

	if flight.err != nil {
		g.logger.Warn("AUTH", "Session refresh failed", map[string]interface{}{
			"waiters": waiters,
			"error":   flight.err.Error(),
		})
		return
	}
	g.logger.Info("AUTH", "Session refreshed", map[string]interface{}{
		"waiters": waiters,
	})
}

func (g *RefreshGate) runRefresh(ctx context.Context) error {
	// 1. Read refresh credential
	cred, err := g.store.GetCredential(ctx)
	if err != nil {
		return g.fail(ctx, false, err)
	}
	if cred.RefreshToken == "" {
		return g.fail(ctx, true, nil)
	}

	// 2. Single refresh call, detached from the caller's cancellation
	refreshCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.refresh(refreshCtx, cred.RefreshToken)
	if err != nil {
		return g.fail(ctx, true, err)
	}

	// 3. Store the new pair before anyone replays
	refreshToken := res.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	if err := g.store.SetCredential(ctx, tokenstore.NewCredential(res.AccessToken, refreshToken)); err != nil {
		return g.fail(ctx, true, err)
	}
	if res.User.Id != uuid.Nil {
		user := res.User
		if err := g.store.SetUser(ctx, &user); err != nil {
			g.logger.Warn("AUTH", "Failed to store user snapshot", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return nil
}

// fail tears the session down. SessionExpired is only raised when there was
// a session to lose.
func (g *RefreshGate) fail(ctx context.Context, hadSession bool, cause error) error {
	if err := g.store.Clear(ctx); err != nil {
		g.logger.Error("AUTH", "Failed to clear credential", map[string]interface{}{
			"error": err,
		})
	}
	if hadSession && g.bus != nil {
		reason := "refresh token missing"
		if cause != nil {
			reason = cause.Error()
		}
		if err := signals.Publish(ctx, g.bus, signals.SessionExpiredTopic, signals.SessionExpired{Reason: reason}); err != nil {
			g.logger.Error("AUTH", "Failed to publish session expired", map[string]interface{}{
				"error": err,
			})
		}
	}
	return apierror.NewAuthenticationError(http.StatusUnauthorized, "session expired, please sign in again", cause)
}
