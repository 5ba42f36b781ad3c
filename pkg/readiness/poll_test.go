package readiness

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/pkg/errors"
)

func TestPollTimeout(t *testing.T) {
	is := is.New(t)
	var (
		calls   int
		timeout = 60 * time.Millisecond
		start   = time.Now()
	)
	err := Poll(context.Background(), 10*time.Millisecond, timeout, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	elapsed := time.Since(start)
	is.True(errors.Is(err, ErrTimeout))
	is.True(elapsed >= timeout)
	is.True(elapsed < timeout+time.Second)
	is.True(calls > 1)
}

func TestPollSuccess(t *testing.T) {
	is := is.New(t)
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Minute, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	is.NoErr(err)
	is.Equal(calls, 3)
}

func TestPollImmediate(t *testing.T) {
	is := is.New(t)
	start := time.Now()
	err := Poll(context.Background(), time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	is.NoErr(err)
	is.True(time.Since(start) < time.Second)
}

func TestPollError(t *testing.T) {
	is := is.New(t)
	errTest := errors.New("test error")
	err := Poll(context.Background(), time.Millisecond, time.Minute, func(ctx context.Context) (bool, error) {
		return false, errTest
	})
	is.Equal(err, errTest)
	err = Poll(context.Background(), 0, time.Minute, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	is.True(err != nil)
}

func TestPollCancel(t *testing.T) {
	is := is.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Poll(ctx, 5*time.Millisecond, time.Minute, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	is.True(errors.Is(err, context.Canceled))
}
