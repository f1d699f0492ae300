package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReconnectConfig controls the reconnect loop used around store calls that
// must eventually succeed for the pipeline to make progress.
type ReconnectConfig struct {
	// Delay is the fixed wait between reconnect attempts. Default: 30s.
	Delay time.Duration

	// MaxAttempts bounds the loop; 0 means retry until the context ends.
	MaxAttempts int

	// Reconnect re-establishes the underlying connection before the next
	// attempt. Nil means the call is simply retried.
	Reconnect func(ctx context.Context) error
}

// WithReconnect runs fn, and on transient failure tears down and rebuilds
// the connection before trying again. Non-transient errors return
// immediately. The loop respects context cancellation.
func WithReconnect(ctx context.Context, cfg ReconnectConfig, fn func(ctx context.Context) error) error {
	if cfg.Delay <= 0 {
		cfg.Delay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; cfg.MaxAttempts == 0 || attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !IsTransient(lastErr) {
			return lastErr
		}

		zap.L().Warn("connection lost, reconnecting",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", cfg.Delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		if cfg.Reconnect != nil {
			if err := cfg.Reconnect(ctx); err != nil {
				zap.L().Warn("reconnect failed", zap.Error(err))
				lastErr = err
			}
		}
	}
	return lastErr
}
