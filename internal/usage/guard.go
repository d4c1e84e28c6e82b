// Package usage gates quota-limited actions behind a fresh server check.
package usage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ai-notetaking-client/internal/dto"
	"ai-notetaking-client/internal/httpclient"
	"ai-notetaking-client/internal/pkg/logger"
	"ai-notetaking-client/internal/signals"
)

var (
	ErrUnknownFeature = errors.New("unknown usage feature")
	ErrLimitReached   = errors.New("usage limit reached")
)

type IUsageGuard interface {
	Fetch(ctx context.Context) (*dto.UsageStatusResponse, error)
	CheckCanPerform(ctx context.Context, feature string) (bool, error)
	Run(ctx context.Context, feature string, action func(ctx context.Context) error) error
}

// Guard never caches: every check fetches the snapshot again, and it keeps
// no state between calls.
type Guard struct {
	client *httpclient.Client
	bus    *signals.Bus
	logger logger.ILogger
}

func NewGuard(client *httpclient.Client, bus *signals.Bus, log logger.ILogger) *Guard {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Guard{client: client, bus: bus, logger: log}
}

// Fetch loads the authoritative usage snapshot, bypassing any HTTP cache.
func (g *Guard) Fetch(ctx context.Context) (*dto.UsageStatusResponse, error) {
	status, err := httpclient.Send[dto.UsageStatusResponse](ctx, g.client, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/user/usage-status",
		Header: http.Header{
			"Cache-Control": {"no-cache"},
			"Pragma":        {"no-cache"},
		},
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// CheckCanPerform reports whether feature may be used right now. On denial
// it raises exactly one UpgradeRequired signal. A failed fetch denies
// without a signal and returns the error.
func (g *Guard) CheckCanPerform(ctx context.Context, feature string) (bool, error) {
	// 1. Reject names we cannot look up before touching the network
	if !IsKnownFeature(feature) {
		return false, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	// 2. Fresh snapshot
	status, err := g.Fetch(ctx)
	if err != nil {
		g.logger.Warn("USAGE", "Usage status unavailable", map[string]interface{}{
			"feature": feature,
			"error":   err.Error(),
		})
		return false, err
	}

	// 3. Decide
	limit, err := LimitFor(status, feature)
	if err != nil {
		return false, err
	}
	if limit.CanUse {
		return true, nil
	}

	g.logger.Info("USAGE", "Usage limit reached", map[string]interface{}{
		"feature": feature,
		"used":    limit.Used,
		"limit":   limit.Limit,
	})
	g.promptUpgrade(ctx, feature, limit)
	return false, nil
}

// Run performs action only if the check allows it.
func (g *Guard) Run(ctx context.Context, feature string, action func(ctx context.Context) error) error {
	ok, err := g.CheckCanPerform(ctx, feature)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLimitReached, feature)
	}
	return action(ctx)
}

func (g *Guard) promptUpgrade(ctx context.Context, feature string, limit dto.UsageLimit) {
	if g.bus == nil {
		return
	}
	err := signals.Publish(ctx, g.bus, signals.UpgradeRequiredTopic, signals.UpgradeRequired{
		FeatureName: feature,
		Used:        limit.Used,
		Limit:       limit.Limit,
		ResetsAt:    limit.ResetsAt,
		Origin:      signals.OriginUsageGuard,
	})
	if err != nil {
		g.logger.Error("USAGE", "Failed to publish upgrade required", map[string]interface{}{
			"error": err,
		})
	}
}

func IsKnownFeature(feature string) bool {
	switch feature {
	case dto.LimitTypeNotebooks, dto.LimitTypeNotes, dto.LimitTypeAiChat, dto.LimitTypeSemanticSearch:
		return true
	}
	return false
}

// LimitFor picks the quota for feature out of a snapshot.
func LimitFor(status *dto.UsageStatusResponse, feature string) (dto.UsageLimit, error) {
	switch feature {
	case dto.LimitTypeNotebooks:
		return status.Storage.Notebooks, nil
	case dto.LimitTypeNotes:
		return status.Storage.Notes, nil
	case dto.LimitTypeAiChat:
		return status.Daily.AiChat, nil
	case dto.LimitTypeSemanticSearch:
		return status.Daily.SemanticSearch, nil
	}
	return dto.UsageLimit{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
}
