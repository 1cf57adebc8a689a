// Package retry re-runs units of work that lost a row-lock race.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/domain"
)

type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// Retryable overrides the default ConflictRace check.
	Retryable func(error) bool
}

var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Backoff is the wait after the given failed attempt (1-based).
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay *= 0.8 + rand.Float64()*0.4
	}
	return time.Duration(delay)
}

func retryable(err error, cfg Config) bool {
	if cfg.Retryable != nil {
		return cfg.Retryable(err)
	}
	return errors.Is(err, domain.ErrConflictRace)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is used up. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err, cfg) || attempt == attempts {
			break
		}
		if d := Backoff(attempt, cfg); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	return err
}
