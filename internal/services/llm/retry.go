package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/services"
)

const (
	defaultRetryAttempts = 2
	defaultRetryDelay    = 2 * time.Second
)

// RetryPolicy bounds a sequence of attempts with a fixed delay between them.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Jitter adds up to Jitter*Delay of extra wait. Zero keeps cadence fixed.
	Jitter  float64
	Sleeper func(ctx context.Context, d time.Duration) error
	Logger  *slog.Logger
}

// DefaultRetryPolicy returns two attempts separated by two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultRetryAttempts, Delay: defaultRetryDelay}
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

// Unwrap exposes the final attempt's error. When that error carries no
// failure marker of its own it is classified as transient.
func (e *ExhaustedError) Unwrap() []error {
	if e.Last != nil && services.FailureKind(e.Last) != "unknown" {
		return []error{e.Last}
	}
	return []error{services.ErrTransient, e.Last}
}

// Execute runs fn under the policy. See Retry.
func (p RetryPolicy) Execute(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	_, err := Retry(ctx, p, op, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Retry calls fn until it succeeds or MaxAttempts attempts have failed.
// Attempts are sequential and 1-based. The delay is applied between attempts
// only, so a policy of N attempts sleeps at most N-1 times. Cancellation of
// ctx stops the loop and returns the context error.
func Retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := policy.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	sleep := policy.Sleeper
	if sleep == nil {
		sleep = sleepContext
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := safeCall(ctx, attempt, fn)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded",
					logging.String("op", op),
					logging.Int("attempt", attempt),
				)
			}
			return result, nil
		}
		last = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
		}
		if attempt == attempts {
			break
		}
		wait := policy.wait()
		logging.WarnWithContext(logging.WithContext(ctx, logger), "attempt failed; retrying", "retry_attempt_failed",
			logging.String("op", op),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", wait),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "transient provider or parse failure; will retry"),
		)
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Last: last}
}

func (p RetryPolicy) wait() time.Duration {
	delay := p.Delay
	if delay < 0 {
		delay = 0
	}
	if p.Jitter > 0 && delay > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}

// safeCall converts a panic inside fn into an error so the policy never
// raises past its boundary.
func safeCall[T any](ctx context.Context, attempt int, fn func(ctx context.Context, attempt int) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt %d panicked: %v", attempt, r)
		}
	}()
	return fn(ctx, attempt)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
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
