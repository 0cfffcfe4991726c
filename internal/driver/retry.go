package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// RetryConfig bounds the exponential backoff applied to transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// RetryingDriver decorates a GraphDriver with bounded exponential backoff
// for transient connectivity failures. Auth and other permanent failures
// surface immediately.
type RetryingDriver struct {
	inner  GraphDriver
	cfg    RetryConfig
	logger *zap.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryingDriver(inner GraphDriver, cfg RetryConfig, logger *zap.Logger) *RetryingDriver {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryingDriver{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

func (d *RetryingDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	var lastErr error
	delay := d.cfg.BaseDelay

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		result, err := d.inner.ExecuteQuery(ctx, query, params)
		if err == nil {
			return result, nil
		}

		if IsAuthError(err) {
			return neo4j.EagerResult{}, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		if !IsTransient(err) {
			return neo4j.EagerResult{}, err
		}

		lastErr = err
		if attempt == d.cfg.MaxAttempts {
			break
		}

		d.logger.Warn("transient query failure, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if err := d.sleep(ctx, delay); err != nil {
			return neo4j.EagerResult{}, err
		}
		delay *= 2
		if delay > d.cfg.MaxDelay {
			delay = d.cfg.MaxDelay
		}
	}

	return neo4j.EagerResult{}, fmt.Errorf("%w: %d attempts exhausted: %v", ErrConnectivity, d.cfg.MaxAttempts, lastErr)
}

func (d *RetryingDriver) VerifyConnectivity(ctx context.Context) error {
	return d.inner.VerifyConnectivity(ctx)
}

func (d *RetryingDriver) Close(ctx context.Context) error {
	return d.inner.Close(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
