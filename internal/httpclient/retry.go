package httpclient

import (
	"context"
	"net/http"
	"time"

	"ai-notetaking-client/internal/apierror"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy repeats idempotent requests that got no response or a 5xx.
// Delays double from BaseDelay up to MaxDelay, without jitter, so they never
// shrink between attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	wait func(ctx context.Context, delay time.Duration) error
}

func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		wait:       waitWithContext,
	}
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (p *RetryPolicy) ShouldRetry(method string, outcome apierror.Outcome) bool {
	if !isIdempotent(method) {
		return false
	}
	return !outcome.HasResponse() || outcome.StatusCode >= http.StatusInternalServerError
}

func (p *RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}

// Do runs attempt once plus up to MaxRetries repeats and returns the last
// outcome. A cancelled context ends the loop with a no-response outcome
// carrying ctx.Err(), unless the attempt already succeeded.
func (p *RetryPolicy) Do(ctx context.Context, method string, attempt func(ctx context.Context) apierror.Outcome) apierror.Outcome {
	b := p.newBackOff()
	for retry := 0; ; retry++ {
		outcome := attempt(ctx)
		if outcome.Succeeded() {
			return outcome
		}
		if ctx.Err() != nil {
			return apierror.Outcome{Err: ctx.Err()}
		}
		if retry >= p.MaxRetries || !p.ShouldRetry(method, outcome) {
			return outcome
		}
		if err := p.wait(ctx, b.NextBackOff()); err != nil {
			return apierror.Outcome{Err: err}
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
