package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/GPTx-global/near-oracle/oracle/log"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

type Func func(ctx context.Context) error

// IsRetryable reports whether another attempt may succeed.
type IsRetryable func(error) bool

func Always(err error) bool {
	return err != nil
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. Delays grow by Multiplier up to MaxDelay.
func Do(ctx context.Context, cfg *Config, fn Func, isRetryable IsRetryable) error {
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive: %d", cfg.MaxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if !isRetryable(err) {
			return err
		}

		delay := Delay(cfg, attempt)
		log.Infof("attempt %d/%d failed: %v; retrying in %s", attempt, cfg.MaxAttempts, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed, last error: %w", cfg.MaxAttempts, lastErr)
}

// Delay is the wait after the given failed attempt, starting at 1.
func Delay(cfg *Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}
