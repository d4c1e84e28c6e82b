// Package httpclient is the single outbound HTTP path of the client runtime:
// auth injection, the network call, classification, retry and session
// refresh, in that order. Callers get decoded data or an *apierror.Error.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"ai-notetaking-client/internal/apierror"
	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/signals"
	"ai-notetaking-client/internal/tokenstore"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	maxResponseBytes = 8 << 20
	tracerName       = "ai-notetaking-client/httpclient"
)

type Options struct {
	BaseURL        string
	RetryCount     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Timeout        time.Duration
	RefreshTimeout time.Duration

	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client

	Store  tokenstore.TokenStore
	Bus    *signals.Bus
	Logger logger.ILogger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	store      tokenstore.TokenStore
	bus        *signals.Bus
	logger     logger.ILogger
	retry      *RetryPolicy
	gate       *RefreshGate
	validate   *validator.Validate
	tracer     trace.Tracer
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	store := opts.Store
	if store == nil {
		store = tokenstore.NewMemoryStore()
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		store:      store,
		bus:        opts.Bus,
		logger:     log,
		retry:      NewRetryPolicy(opts.RetryCount, opts.RetryBaseDelay, opts.RetryMaxDelay),
		validate:   validator.New(),
		tracer:     otel.Tracer(tracerName),
	}
	c.gate = NewRefreshGate(store, opts.Bus, log, c.refreshSession, opts.RefreshTimeout)
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Store() tokenstore.TokenStore {
	return c.store
}

func (c *Client) Gate() *RefreshGate {
	return c.gate
}

// Request describes one logical call. Path is relative to the API base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header

	// SkipAuthRefresh marks calls whose 401 must not start a refresh
	// (login, register, the refresh call itself).
	SkipAuthRefresh bool

	anonymous bool
}

// call carries the per-logical-request state across a replay.
type call struct {
	req       Request
	body      []byte
	requestID string
	replayed  bool
	upgraded  bool
}

// Do runs req through the pipeline and decodes the envelope's data into out
// (which may be nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	ctx, span := c.tracer.Start(ctx, req.Method+" "+req.Path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	cl := &call{req: req, requestID: uuid.NewString()}
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
		attribute.String("request.id", cl.requestID),
	)

	if req.Body != nil {
		body, err := json.Marshal(req.Body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode request")
			return apierror.NewAPIError(0, "failed to encode request body", err)
		}
		cl.body = body
	}

	err := c.execute(ctx, cl, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", string(apierror.KindOf(err))))
	}
	return err
}

func (c *Client) execute(ctx context.Context, cl *call, out any) error {
	var usedToken string
	outcome := c.retry.Do(ctx, cl.req.Method, func(ctx context.Context) apierror.Outcome {
		var o apierror.Outcome
		o, usedToken = c.send(ctx, cl.req, cl.body, cl.requestID)
		return o
	})

	if outcome.Succeeded() {
		return c.decode(outcome, out)
	}

	classified := apierror.Classify(outcome)
	c.logger.Debug("HTTP", "Request failed", map[string]interface{}{
		"method":     cl.req.Method,
		"path":       cl.req.Path,
		"request_id": cl.requestID,
		"status":     outcome.StatusCode,
		"kind":       string(classified.Kind),
		"replayed":   cl.replayed,
	})

	if outcome.StatusCode == http.StatusForbidden && !cl.upgraded {
		cl.upgraded = true
		c.publishUpgradeRequired(ctx, classified)
	}

	if cl.replayed || cl.req.SkipAuthRefresh {
		return classified
	}

	switch outcome.StatusCode {
	case http.StatusUnauthorized:
	case http.StatusForbidden:
		// Without a refresh token a 403 is only a plan restriction.
		if !c.hasRefreshToken(ctx) {
			return classified
		}
	default:
		return classified
	}

	if err := c.gate.Recover(ctx, usedToken); err != nil {
		return err
	}
	cl.replayed = true
	return c.execute(ctx, cl, out)
}

// send is one network attempt. It returns the outcome and the access token
// that was attached.
func (c *Client) send(ctx context.Context, req Request, body []byte, requestID string) (apierror.Outcome, string) {
	// 1. Inject credential, read fresh for every attempt
	var cred *oauth2.Token
	if !req.anonymous {
		if stored, err := c.store.GetCredential(ctx); err == nil && stored != nil && stored.AccessToken != "" {
			cred = stored
		}
	}
	token := ""
	if cred != nil {
		token = cred.AccessToken
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.url(req), bodyReader)
	if err != nil {
		return apierror.Outcome{Err: err}, token
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		cred.SetAuthHeader(httpReq)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	// 2. Network call
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apierror.Outcome{Err: err}, token
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apierror.Outcome{Err: fmt.Errorf("read response body: %w", err)}, token
	}
	return apierror.Outcome{StatusCode: resp.StatusCode, Body: raw}, token
}

func (c *Client) url(req Request) string {
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

type successEnvelope struct {
	Success *bool           `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// decode unwraps the success envelope. Anything that does not decode or
// validate is an Api error; bad data never reaches the caller.
func (c *Client) decode(outcome apierror.Outcome, out any) error {
	if out == nil {
		return nil
	}

	var envelope successEnvelope
	if err := json.Unmarshal(outcome.Body, &envelope); err != nil {
		return apierror.NewAPIError(outcome.StatusCode, "malformed response envelope", err)
	}
	if envelope.Success != nil && !*envelope.Success {
		code := envelope.Code
		if code == 0 {
			code = outcome.StatusCode
		}
		return apierror.NewAPIError(code, envelope.Message, errors.New("server reported success=false"))
	}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return apierror.NewAPIError(outcome.StatusCode, "malformed response data", err)
		}
	}

	var err error
	switch value := reflect.Indirect(reflect.ValueOf(out)); value.Kind() {
	case reflect.Struct:
		err = c.validate.Struct(out)
	case reflect.Slice:
		err = c.validate.Var(value.Interface(), "dive")
	}
	if err != nil {
		return apierror.NewAPIError(outcome.StatusCode, "response failed validation", err)
	}
	return nil
}

func (c *Client) hasRefreshToken(ctx context.Context) bool {
	cred, err := c.store.GetCredential(ctx)
	return err == nil && cred.RefreshToken != ""
}

func (c *Client) publishUpgradeRequired(ctx context.Context, classified *apierror.Error) {
	if c.bus == nil {
		return
	}
	err := signals.Publish(ctx, c.bus, signals.UpgradeRequiredTopic, signals.UpgradeRequired{
		Reason:     classified.Message,
		StatusCode: http.StatusForbidden,
		Origin:     signals.OriginHTTP,
	})
	if err != nil {
		c.logger.Error("HTTP", "Failed to publish upgrade required", map[string]interface{}{
			"error": err,
		})
	}
}

// refreshSession is the raw refresh call: no credential header, no retry,
// never gated.
func (c *Client) refreshSession(ctx context.Context, refreshToken string) (*dto.LoginResponse, error) {
	body, err := json.Marshal(dto.RefreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}
	req := Request{Method: http.MethodPost, Path: "/auth/refresh", SkipAuthRefresh: true, anonymous: true}

	outcome, _ := c.send(ctx, req, body, uuid.NewString())
	if !outcome.Succeeded() {
		return nil, apierror.Classify(outcome)
	}

	var res dto.LoginResponse
	if err := c.decode(outcome, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
