// Package retry wraps transport operations with the per-attempt timeout and
// bounded-retry discipline every radio call must follow. An operation either
// resolves within its budget, fails with a non-retryable error and propagates
// immediately, or is retried with exponential backoff until the attempt
// budget is exhausted.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/david-ria/pmscanv2-sub000/internal/transport"
)

// Policy bounds a wrapped operation. Zero fields take their defaults.
type Policy struct {
	Attempts       int           `default:"3"`
	Timeout        time.Duration `default:"5s"`
	InitialBackoff time.Duration `default:"250ms"`
	MaxBackoff     time.Duration `default:"2s"`
}

// ConnectPolicy returns the policy used for connection establishment
func ConnectPolicy() Policy {
	return Policy{Timeout: transport.DefaultConnectTimeout}
}

// ReadWritePolicy returns the policy used for characteristic reads and writes
func ReadWritePolicy() Policy {
	return Policy{Timeout: transport.DefaultReadWriteTimeout}
}

// SubscribePolicy returns the policy used for notification subscriptions
func SubscribePolicy() Policy {
	return Policy{Timeout: transport.DefaultSubscribeTimeout}
}

func (p *Policy) normalize() {
	defaults.SetDefaults(p)
}

// Do runs op under the policy. Every attempt gets its own timeout context;
// an attempt that outlives its budget fails with transport.ErrTimeout and is
// retried like any other transient failure. Errors matching the fixed
// non-retryable classes propagate immediately.
func Do(ctx context.Context, logger *logrus.Logger, name string, p Policy, op func(ctx context.Context) error) error {
	p.normalize()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.RandomizationFactor = 0.2

	attempt := 0
	wrapped := func() error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s did not resolve within %s", transport.ErrTimeout, name, p.Timeout)
		}
		if !transport.IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"operation": name,
				"attempt":   attempt,
				"error":     err,
			}).Warn("Operation failed, will retry")
		}
		return err
	}

	retries := uint64(0)
	if p.Attempts > 1 {
		retries = uint64(p.Attempts - 1)
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}

// DoValue is Do for operations that produce a value
func DoValue[T any](ctx context.Context, logger *logrus.Logger, name string, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, logger, name, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
