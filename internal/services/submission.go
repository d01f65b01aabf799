package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// SubmissionBackend accepts materialized orders. A business rejection is a
// result with status rejected; transport failures are errors.
type SubmissionBackend interface {
	SubmitOrder(ctx context.Context, order *models.MaterializedOrder) (*models.SubmissionResult, error)
}

// StatusChecker is implemented by backends that can report order progress
type StatusChecker interface {
	OrderStatus(ctx context.Context, tenantID, orderRef string) (*models.OrderStatus, error)
}

// SubmissionError is a classified submission failure
type SubmissionError struct {
	Kind   models.SubmissionStatus
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("submission %s (%s): %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("submission %s (%s)", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("submission %s: %v", e.Kind, e.Err)
	}
	return "submission " + string(e.Kind)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Rejected reports whether the backend refused the order on business grounds
func (e *SubmissionError) Rejected() bool { return e.Kind == models.SubmissionRejected }

// RetryConfig configures exponential backoff between submission attempts
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// SubmissionCoordinator submits orders with per-attempt timeouts, retries
// transient failures, and falls back to a secondary backend when the primary
// stays down. Rejections are never retried.
type SubmissionCoordinator struct {
	backend  SubmissionBackend
	fallback SubmissionBackend
	timeout  time.Duration
	retry    RetryConfig
}

// NewSubmissionCoordinator creates a coordinator. fallback may be nil.
func NewSubmissionCoordinator(backend, fallback SubmissionBackend, timeout time.Duration, retry RetryConfig) *SubmissionCoordinator {
	if retry.Multiplier <= 0 {
		retry.Multiplier = 2.0
	}
	return &SubmissionCoordinator{
		backend:  backend,
		fallback: fallback,
		timeout:  timeout,
		retry:    retry,
	}
}

// StatusChecker returns the primary backend's status lookup, if it has one
func (c *SubmissionCoordinator) StatusChecker() (StatusChecker, bool) {
	sc, ok := c.backend.(StatusChecker)
	return sc, ok
}

// Submit returns the successful result, or a *SubmissionError
func (c *SubmissionCoordinator) Submit(ctx context.Context, order *models.MaterializedOrder) (*models.SubmissionResult, error) {
	start := time.Now()
	result, err := c.submitWithRetry(ctx, c.backend, order)
	if err == nil {
		return result, nil
	}

	var subErr *SubmissionError
	if errors.As(err, &subErr) && subErr.Rejected() {
		return nil, err
	}
	if c.fallback == nil || ctx.Err() != nil {
		return nil, err
	}

	logger.Warn().
		Err(err).
		Str("tenant_id", order.TenantID).
		Str("idempotency_key", order.IdempotencyKey).
		Dur("elapsed", time.Since(start)).
		Msg("Primary submission backend failed, using fallback")

	result, fbErr := c.attempt(ctx, c.fallback, order)
	if fbErr != nil {
		logger.Error().Err(fbErr).Str("tenant_id", order.TenantID).Msg("Fallback submission failed")
		return nil, err
	}
	return result, nil
}

func (c *SubmissionCoordinator) submitWithRetry(ctx context.Context, backend SubmissionBackend, order *models.MaterializedOrder) (*models.SubmissionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		result, err := c.attempt(ctx, backend, order)
		if err == nil {
			if attempt > 0 {
				logger.Info().
					Str("tenant_id", order.TenantID).
					Int("attempts", attempt+1).
					Msg("Order submitted after retries")
			}
			return result, nil
		}
		lastErr = err

		var subErr *SubmissionError
		if errors.As(err, &subErr) && subErr.Rejected() {
			return nil, err
		}
		if attempt >= c.retry.MaxRetries {
			break
		}

		delay := c.delay(attempt)
		logger.Warn().
			Err(err).
			Str("tenant_id", order.TenantID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Order submission failed, retrying")

		select {
		case <-ctx.Done():
			return nil, &SubmissionError{Kind: models.SubmissionTimeout, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// attempt makes one bounded call and classifies the outcome
func (c *SubmissionCoordinator) attempt(ctx context.Context, backend SubmissionBackend, order *models.MaterializedOrder) (*models.SubmissionResult, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := backend.SubmitOrder(callCtx, order)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &SubmissionError{Kind: models.SubmissionTimeout, Err: err}
		}
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			return nil, subErr
		}
		return nil, &SubmissionError{Kind: models.SubmissionBackendError, Err: err}
	}
	if result == nil {
		return nil, &SubmissionError{Kind: models.SubmissionBackendError, Err: errors.New("empty result")}
	}

	switch result.Status {
	case models.SubmissionSuccess:
		return result, nil
	case models.SubmissionRejected:
		return nil, &SubmissionError{Kind: models.SubmissionRejected, Reason: result.Reason}
	case models.SubmissionTimeout:
		return nil, &SubmissionError{Kind: models.SubmissionTimeout, Reason: result.Reason}
	default:
		return nil, &SubmissionError{Kind: models.SubmissionBackendError, Reason: result.Reason}
	}
}

// delay is baseDelay * multiplier^attempt, capped, with up to 10% jitter
func (c *SubmissionCoordinator) delay(attempt int) time.Duration {
	d := float64(c.retry.BaseDelay) * math.Pow(c.retry.Multiplier, float64(attempt))
	if c.retry.MaxDelay > 0 && d > float64(c.retry.MaxDelay) {
		d = float64(c.retry.MaxDelay)
	}
	if c.retry.Jitter {
		jitterRange := d * 0.1
		d += (rand.Float64() - 0.5) * 2 * jitterRange
		if d < 0 {
			d = float64(c.retry.BaseDelay)
		}
	}
	return time.Duration(d)
}
