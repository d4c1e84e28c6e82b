package bootstrap

import (
	"context"
	"fmt"

	"ai-notetaking-client/internal/config"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/realtime"
	"ai-notetaking-client/internal/service"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/tokenstore"
	"ai-notetaking-client/internal/tracer"
	"ai-notetaking-client/internal/usage"
)

type Container struct {
	Config         *config.Config
	Logger         logger.ILogger
	RealtimeLogger logger.ILogger

	// Runtime core
	Bus     *signals.Bus
	Store   tokenstore.TokenStore
	Client  *httpclient.Client
	Guard   *usage.Guard
	Channel *realtime.Channel

	// Feature services
	AuthService         service.IAuthService
	UserService         service.IUserService
	NotebookService     service.INotebookService
	NoteService         service.INoteService
	ChatbotService      service.IChatbotService
	NotificationService service.INotificationService

	closers []func() error
}

// NewContainer wires the client runtime. Loggers may be nil, in which case
// the file-backed zap loggers from cfg are used.
func NewContainer(cfg *config.Config, sysLogger, wsLogger logger.ILogger) (*Container, error) {
	c := &Container{Config: cfg}

	// 1. Logging
	if sysLogger == nil {
		sysLogger = logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	}
	if wsLogger == nil {
		wsLogger = logger.NewIsolatedLogger(cfg.App.RealtimeLogFilePath)
	}
	c.Logger = sysLogger
	c.RealtimeLogger = wsLogger
	// Sync on a console core fails with EINVAL on most terminals; not worth surfacing.
	c.closers = append(c.closers, func() error {
		_ = wsLogger.Sync()
		_ = sysLogger.Sync()
		return nil
	})

	shutdownTracer := tracer.InitTracer(cfg.Tracing, sysLogger)
	c.closers = append(c.closers, func() error { return shutdownTracer(context.Background()) })

	// 2. Signal bus
	c.Bus = signals.NewBus(sysLogger)
	c.closers = append(c.closers, c.Bus.Close)

	// 3. Token store
	store, err := newTokenStore(cfg.Store, sysLogger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Store = store
	if rs, ok := store.(*tokenstore.RedisStore); ok {
		c.closers = append(c.closers, rs.Close)
	}

	// 4. HTTP pipeline and usage guard
	c.Client = httpclient.NewClient(httpclient.Options{
		BaseURL:        cfg.API.BaseURL,
		RetryCount:     cfg.API.RetryCount,
		RetryBaseDelay: cfg.API.RetryBaseDelay,
		RetryMaxDelay:  cfg.API.RetryMaxDelay,
		Timeout:        cfg.API.Timeout,
		Store:          c.Store,
		Bus:            c.Bus,
		Logger:         sysLogger,
	})
	c.Guard = usage.NewGuard(c.Client, c.Bus, sysLogger)

	// 5. Realtime channel
	c.Channel, err = realtime.NewChannel(realtime.Options{
		APIBaseURL:           cfg.API.BaseURL,
		HostOverride:         cfg.WebSocket.HostOverride,
		ReconnectBaseDelay:   cfg.WebSocket.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.WebSocket.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.WebSocket.HandshakeTimeout,
		Store:                c.Store,
		Bus:                  c.Bus,
		Logger:               wsLogger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to build realtime channel: %w", err)
	}

	// An expired session must not keep the push channel alive.
	unsubscribe, err := signals.Subscribe(c.Bus, signals.SessionExpiredTopic, func(signals.SessionExpired) {
		c.Channel.Disconnect()
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to subscribe to session expiry: %w", err)
	}
	c.closers = append(c.closers, func() error { unsubscribe(); return nil })

	// 6. Services
	c.AuthService = service.NewAuthService(c.Client, c.Store, c.Channel, sysLogger)
	c.UserService = service.NewUserService(c.Client, c.Guard)
	c.NotebookService = service.NewNotebookService(c.Client, c.Guard)
	c.NoteService = service.NewNoteService(c.Client, c.Guard)
	c.ChatbotService = service.NewChatbotService(c.Client, c.Guard)
	c.NotificationService = service.NewNotificationService(c.Client, c.Bus)

	return c, nil
}

func newTokenStore(cfg config.StoreConfig, log logger.ILogger) (tokenstore.TokenStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return tokenstore.NewMemoryStore(), nil
	case "redis":
		store := tokenstore.NewRedisStoreFromURL(cfg.RedisURL, cfg.Namespace)
		if err := store.Ping(context.Background()); err != nil {
			log.Warn("BOOTSTRAP", "Redis token store is unreachable", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown token store driver %q", cfg.Driver)
	}
}

// Close disconnects the channel and releases resources in reverse order.
func (c *Container) Close() error {
	if c.Channel != nil {
		c.Channel.Disconnect()
	}
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
