package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds how many balance reads one wait performs.
const DefaultMaxAttempts = 15

// ErrTimeout means the balance never reached the threshold within the
// attempt budget. Distinct from context cancellation.
var ErrTimeout = errors.New("balance wait timed out")

// ReadBalance reads the current balance of whatever asset is being watched.
type ReadBalance func(ctx context.Context) (decimal.Decimal, error)

// Watcher polls a balance until it reaches a threshold. Settlement after a
// swap is not instant on BSC, so every post-trade confirmation goes through
// here rather than trusting the receipt alone.
type Watcher struct {
	logger      *zap.Logger
	maxAttempts int
	delay       func(attempt int) time.Duration
}

func New(logger *zap.Logger) *Watcher {
	return &Watcher{logger: logger, maxAttempts: DefaultMaxAttempts, delay: delayFor}
}

// WaitForAtLeast polls read until it returns a balance >= threshold, then
// returns that balance. label names the asset in log lines. Read errors
// count as attempts and are retried. Returns ErrTimeout after the attempt
// budget, or ctx.Err() as soon as ctx is cancelled.
func (w *Watcher) WaitForAtLeast(ctx context.Context, read ReadBalance, threshold decimal.Decimal, label string) (decimal.Decimal, error) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}

		balance, err := read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return decimal.Zero, ctx.Err()
			}
			w.logger.Warn("balance read failed",
				zap.String("asset", label),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			if balance.GreaterThanOrEqual(threshold) {
				w.logger.Info("balance confirmed",
					zap.String("asset", label),
					zap.String("balance", balance.String()),
					zap.Int("attempt", attempt))
				return balance, nil
			}
			w.logger.Debug("balance below threshold",
				zap.String("asset", label),
				zap.String("balance", balance.String()),
				zap.String("threshold", threshold.String()),
				zap.Int("attempt", attempt))
		}

		if attempt == w.maxAttempts {
			break
		}
		if err := sleep(ctx, w.delay(attempt)); err != nil {
			return decimal.Zero, err
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s did not reach %s after %d attempts",
		ErrTimeout, label, threshold.String(), w.maxAttempts)
}

// delayFor widens the poll interval as attempts accumulate: early attempts
// catch fast settlement, later ones stop hammering the node.
func delayFor(attempt int) time.Duration {
	switch {
	case attempt <= 3:
		return 2 * time.Second
	case attempt <= 6:
		return 3 * time.Second
	default:
		return 4 * time.Second
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
