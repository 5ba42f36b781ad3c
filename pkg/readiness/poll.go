// Package readiness decides when a freshly started stack is usable: it polls
// for certificate issuance and probes DNS and HTTPS routes.
package readiness

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrTimeout = errors.New("timed out waiting for readiness")

// CheckFunc reports whether the awaited condition holds. Returning an error
// stops polling.
type CheckFunc func(ctx context.Context) (bool, error)

// Poll runs check immediately and then once every interval until it reports
// true, returns an error, ctx is done, or timeout has elapsed.
func Poll(ctx context.Context, interval, timeout time.Duration, check CheckFunc) error {
	if interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := check(ctx)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return ErrTimeout
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrTimeout
			}
			return ctx.Err()
		}
	}
}
