// Package genclient wraps the external image generation capability with
// per-user rate limiting, balance enforcement, bounded retry, and
// debit-on-success billing. One successful Invoke produces exactly one
// image and exactly one ledger debit.
package genclient

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"pixelmint/internal/domain"
	"pixelmint/internal/providers/image"
)

const (
	// maxCallAttempts bounds the inline retry for transient failures.
	maxCallAttempts = 3
)

// Options configures the client.
type Options struct {
	Provider     image.Generator
	Ledger       domain.TokenLedger
	CostPerImage int
	CallsPerMin  int
	RetryBackoff time.Duration // first retry delay; doubles per attempt
	CallTimeout  time.Duration // deadline for a single provider call
	Logger       zerolog.Logger
}

// Result is one successfully generated and billed image.
type Result struct {
	Asset            *image.Asset
	TokensCharged    int
	RemainingBalance int
}

// Client is safe for concurrent use across jobs; the limiter and breaker
// are shared so per-user and per-provider pressure is enforced globally.
type Client struct {
	provider     image.Generator
	ledger       domain.TokenLedger
	limiter      *SlidingWindow
	breaker      *gobreaker.CircuitBreaker
	costPerImage int
	retryBackoff time.Duration
	callTimeout  time.Duration
	logger       zerolog.Logger
}

// New builds a generation client from options, applying defaults.
func New(opts Options) *Client {
	callsPerMin := opts.CallsPerMin
	if callsPerMin <= 0 {
		callsPerMin = 15
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	cost := opts.CostPerImage
	if cost <= 0 {
		cost = 100
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 2 * time.Minute
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "image-generation",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})
	return &Client{
		provider:     opts.Provider,
		ledger:       opts.Ledger,
		limiter:      NewSlidingWindow(callsPerMin, time.Minute),
		breaker:      breaker,
		costPerImage: cost,
		retryBackoff: backoff,
		callTimeout:  callTimeout,
		logger:       opts.Logger,
	}
}

// CostPerImage reports the configured per-image token cost.
func (c *Client) CostPerImage() int { return c.costPerImage }

// Invoke runs one generation call for the user: rate-limit check,
// balance check, the external call with retry, then the ledger debit.
// The debit happens only after the provider succeeded, immediately, in
// the same call; a crash inside that narrow window is the documented
// acceptable failure mode and is logged for reconciliation.
func (c *Client) Invoke(ctx context.Context, userID string, req image.GenerateRequest, reasonCode, referenceID string) (*Result, error) {
	if !c.limiter.Allow(userID) {
		return nil, domain.ErrRateLimited
	}

	balance, err := c.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientUpstream, "Could not read token balance", err)
	}
	if balance < c.costPerImage {
		return nil, domain.ErrInsufficientBalance
	}

	asset, err := c.generateWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("user_id", userID).
		Str("reference_id", referenceID).
		Int("cost", c.costPerImage).
		Msg("genclient: image generated, debiting ledger")

	remaining, err := c.ledger.Debit(ctx, userID, c.costPerImage, reasonCode, referenceID)
	if err != nil {
		// Concurrent spend can drain the balance between the pre-check
		// and the conditional debit; the debit fails closed either way.
		c.logger.Error().Err(err).
			Str("user_id", userID).
			Str("reference_id", referenceID).
			Msg("genclient: debit after successful generation failed, needs reconciliation")
		if domain.KindOf(err) == domain.KindInsufficientBalance {
			return nil, err
		}
		return nil, domain.NewError(domain.KindTransientUpstream, "Could not record token debit", err)
	}

	return &Result{Asset: asset, TokensCharged: c.costPerImage, RemainingBalance: remaining}, nil
}

// Regenerate repeats the provider call for an image a prior job attempt
// already debited. The rate limit, deadline, and retry envelope still
// apply; the ledger is not touched.
func (c *Client) Regenerate(ctx context.Context, userID string, req image.GenerateRequest) (*image.Asset, error) {
	if !c.limiter.Allow(userID) {
		return nil, domain.ErrRateLimited
	}
	return c.generateWithRetry(ctx, req)
}

func (c *Client) generateWithRetry(ctx context.Context, req image.GenerateRequest) (*image.Asset, error) {
	var lastErr error
	delay := c.retryBackoff
	for attempt := 1; attempt <= maxCallAttempts; attempt++ {
		out, err := c.breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			return c.provider.Generate(callCtx, req)
		})
		if err == nil {
			return out.(*image.Asset), nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			err = domain.NewError(domain.KindTransientUpstream, "Image provider temporarily unavailable", err)
		}
		if !domain.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if attempt == maxCallAttempts {
			break
		}
		c.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("request_id", req.RequestID).
			Msg("genclient: transient provider failure, retrying")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
