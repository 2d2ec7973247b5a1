package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// ResilientDetector wraps a detector with rate limiting, a circuit breaker and retry of
// transient failures. Timeouts and permanent failures are never retried.
type ResilientDetector struct {
	next    domain.Detector
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries int
	backoff time.Duration
	logger  *logrus.Logger
}

// NewResilientDetector creates a resilient detector from the detection configuration.
func NewResilientDetector(next domain.Detector, cfg domain.DetectionConfig, logger *logrus.Logger) *ResilientDetector {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	trips := cfg.BreakerTrips
	if trips == 0 {
		trips = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "detection",
		MaxRequests: cfg.BreakerMaxReqs,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})

	return &ResilientDetector{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		retries: cfg.RetryCount,
		backoff: cfg.RetryBackoff,
		logger:  logger,
	}
}

// Detect runs inference, retrying transient failures with exponential backoff.
func (r *ResilientDetector) Detect(ctx context.Context, input domain.Tensor) ([][]float32, error) {
	for attempt := 0; ; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			// Wait fails early when the deadline would pass before a token is available.
			return nil, &domain.InferenceError{Op: "rate_limit", Err: err, Timeout: !errors.Is(ctx.Err(), context.Canceled)}
		}

		result, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.Detect(ctx, input)
		})
		if err == nil {
			return result.([][]float32), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.InferenceError{Op: "detect", Err: fmt.Errorf("detection service unavailable: %w", err)}
		}
		if !domain.IsTransientInference(err) || attempt >= r.retries {
			return nil, err
		}

		wait := r.backoff << attempt
		r.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"wait":    wait,
			"error":   err,
		}).Warn("Retrying transient detection failure")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, &domain.InferenceError{
				Op:      "detect",
				Err:     ctx.Err(),
				Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
			}
		}
	}
}

// State returns the circuit breaker state.
func (r *ResilientDetector) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns the circuit breaker counters.
func (r *ResilientDetector) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}
