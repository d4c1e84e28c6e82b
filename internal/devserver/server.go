// Package devserver is an in-memory stand-in for the NoteFiber backend. It
// speaks the same envelope, auth, quota and push contract, so the client
// runtime can be developed and tested end to end without the real stack.
package devserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ai-notetaking-client/internal/config"
	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type Options struct {
	JWTSecret string
	AccessTTL time.Duration
	Plan      Plan
	Logger    logger.ILogger
}

// httpError is rendered as the failure envelope by errorHandler.
type httpError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func unauthorized(message string) error {
	return &httpError{Status: fiber.StatusUnauthorized, Message: message}
}

func badRequest(message string) error {
	return &httpError{Status: fiber.StatusBadRequest, Message: message}
}

func notFound(message string) error {
	return &httpError{Status: fiber.StatusNotFound, Message: message}
}

func validationFailed(fields map[string][]string) error {
	return &httpError{Status: fiber.StatusUnprocessableEntity, Message: "Validation failed", Fields: fields}
}

func limitReached(message string) error {
	return &httpError{Status: fiber.StatusForbidden, Message: message}
}

type fault struct {
	status    int
	remaining int
}

type Server struct {
	app       *fiber.App
	state     *state
	hub       *Hub
	validate  *validator.Validate
	secret    []byte
	accessTTL time.Duration
	logger    logger.ILogger

	faultsMu sync.Mutex
	faults   map[string]*fault

	refreshCount atomic.Int64
}

func NewFromConfig(cfg config.DevServerConfig, log logger.ILogger) *Server {
	return New(Options{
		JWTSecret: cfg.JWTSecret,
		AccessTTL: cfg.AccessTTL,
		Plan:      FreePlan(),
		Logger:    log,
	})
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	ttl := opts.AccessTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	plan := opts.Plan
	if plan.Slug == "" {
		plan = FreePlan()
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		state:     newState(plan),
		hub:       NewHub(log),
		validate:  validate,
		secret:    []byte(opts.JWTSecret),
		accessTTL: ttl,
		logger:    log,
		faults:    make(map[string]*fault),
	}
	go s.hub.Run()

	s.app = fiber.New(fiber.Config{
		BodyLimit:             10 * 1024 * 1024, // 10MB
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
	})

	// OpenTelemetry tracing middleware (continues the client's trace context)
	s.app.Use(otelfiber.Middleware())
	s.app.Use(s.faultMiddleware)

	s.registerRoutes()
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("DevServer", "Listening", map[string]interface{}{"addr": addr})
	return s.app.Listen(addr)
}

func (s *Server) Listener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown closes push sockets first so hijacked connections do not hold
// the HTTP server open.
func (s *Server) Shutdown() error {
	s.hub.Stop()
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

func (s *Server) registerRoutes() {
	api := s.app.Group("/api")

	s.registerAuthRoutes(api)
	s.registerUserRoutes(api)
	s.registerNotebookRoutes(api)
	s.registerNoteRoutes(api)
	s.registerChatbotRoutes(api)
	s.registerNotificationRoutes(api)

	debug := api.Group("/debug")
	debug.Post("/expire-access-tokens", s.debugExpireAccessTokens)
	debug.Post("/trigger-notification", s.jwtMiddleware, s.debugTriggerNotification)

	// WebSocket
	api.Get("/ws", s.serveWs)
}

func (s *Server) errorHandler(ctx *fiber.Ctx, err error) error {
	var he *httpError
	var fe *fiber.Error
	switch {
	case errors.As(err, &he):
		if len(he.Fields) > 0 {
			return ctx.Status(he.Status).JSON(dto.NewValidationErrorResponse(he.Status, he.Message, he.Fields))
		}
		return ctx.Status(he.Status).JSON(dto.NewErrorResponse(he.Status, he.Message))
	case errors.As(err, &fe):
		return ctx.Status(fe.Code).JSON(dto.NewErrorResponse(fe.Code, fe.Message))
	}

	s.logger.Error("DevServer", "Unhandled error", map[string]interface{}{
		"path":  ctx.Path(),
		"error": err,
	})
	return ctx.Status(fiber.StatusInternalServerError).JSON(dto.NewErrorResponse(fiber.StatusInternalServerError, "Internal server error"))
}

// parseAndValidate decodes the JSON body into req and applies its validate tags.
func (s *Server) parseAndValidate(ctx *fiber.Ctx, req interface{}) error {
	if err := ctx.BodyParser(req); err != nil {
		return badRequest("Invalid request body")
	}
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest(err.Error())
	}
	fields := make(map[string][]string)
	for _, fe := range verrs {
		fields[fe.Field()] = append(fields[fe.Field()], validationMessage(fe))
	}
	return validationFailed(fields)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Must be a valid email address"
	case "min":
		return fmt.Sprintf("Must be at least %s characters", fe.Param())
	}
	return fmt.Sprintf("Failed the %s rule", fe.Tag())
}

func parseID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, badRequest("Invalid ID")
	}
	return id, nil
}

// Fault injection

// InjectFault makes the next times requests to method+path answer status
// with an error envelope before reaching the handler.
func (s *Server) InjectFault(method, path string, status, times int) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[method+" "+path] = &fault{status: status, remaining: times}
}

func (s *Server) faultMiddleware(ctx *fiber.Ctx) error {
	key := ctx.Method() + " " + ctx.Path()
	s.faultsMu.Lock()
	f, ok := s.faults[key]
	status := 0
	if ok && f.remaining > 0 {
		f.remaining--
		status = f.status
		if f.remaining == 0 {
			delete(s.faults, key)
		}
	}
	s.faultsMu.Unlock()

	if status == 0 {
		return ctx.Next()
	}
	return ctx.Status(status).JSON(dto.NewErrorResponse(status, http.StatusText(status)))
}

// Test and debug controls

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.state.bumpAccessEpoch(uuid.Nil)
}

// RevokeRefreshTokens makes the next refresh attempt of every session fail.
func (s *Server) RevokeRefreshTokens() {
	s.state.revokeAllRefreshTokens()
}

// RefreshCount is the number of successful token refreshes served.
func (s *Server) RefreshCount() int64 {
	return s.refreshCount.Load()
}

// DropRealtime severs every push socket abruptly.
func (s *Server) DropRealtime() int {
	return s.hub.DropAll()
}

// Notify stores a notification and pushes it with the new unread count.
func (s *Server) Notify(userID uuid.UUID, typeCode, title, message string) dto.NotificationResponse {
	n := s.state.addNotification(userID, typeCode, title, message, nil)
	s.hub.SendNotification(userID, n)
	s.hub.SendUnreadCount(userID, s.state.unreadCount(userID))
	return n
}

// UserIDByEmail looks up a registered account.
func (s *Server) UserIDByEmail(email string) (uuid.UUID, bool) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	id, ok := s.state.usersByEmail[strings.ToLower(email)]
	return id, ok
}

func (s *Server) debugExpireAccessTokens(ctx *fiber.Ctx) error {
	s.ExpireAccessTokens()
	return ctx.JSON(dto.SuccessResponse[any]("Access tokens expired", nil))
}

func (s *Server) debugTriggerNotification(ctx *fiber.Ctx) error {
	type request struct {
		TypeCode string `json:"type_code"`
		Title    string `json:"title" validate:"required"`
		Message  string `json:"message" validate:"required"`
	}
	var req request
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}
	if req.TypeCode == "" {
		req.TypeCode = notificationTypes["TEST_EVENT"].Code
	}

	n := s.Notify(currentUserID(ctx), req.TypeCode, req.Title, req.Message)
	return ctx.JSON(dto.SuccessResponse("Notification sent", n))
}

// serveWs authenticates the handshake and hands the socket to the hub.
func (s *Server) serveWs(ctx *fiber.Ctx) error {
	// 1. Token: query param (browser) or Authorization header (tooling)
	tokenStr := ctx.Query("token")
	if tokenStr == "" {
		tokenStr = bearerToken(ctx)
	}
	if tokenStr == "" {
		return unauthorized("Missing token (Query 'token' or Header 'Authorization')")
	}

	// 2. Verify
	userID, err := s.parseAccessToken(tokenStr)
	if err != nil {
		s.logger.Warn("DevServer", "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return unauthorized("Invalid token")
	}

	// 3. Upgrade
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		s.logger.Info("DevServer", "Starting WebSocket session", map[string]interface{}{"user_id": userID})
		serveWs(s.hub, conn, userID)
		s.logger.Info("DevServer", "WebSocket session ended", map[string]interface{}{"user_id": userID})
	})(ctx)
}
