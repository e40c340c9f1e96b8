package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mneme/pkg/utils/backoff"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func fastPolicy(attempts int) backoff.Policy {
	return backoff.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := backoff.Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	gt.NoError(t, err)
	gt.Equal(t, calls, 1)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := backoff.Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(err error) bool {
		return errors.Is(err, errTransient)
	})

	gt.NoError(t, err)
	gt.Equal(t, calls, 3)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := backoff.Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return errFatal
	}, func(err error) bool {
		return errors.Is(err, errTransient)
	})

	gt.Error(t, err)
	gt.True(t, errors.Is(err, errFatal))
	gt.Equal(t, calls, 1)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := backoff.Do(context.Background(), fastPolicy(4), func(ctx context.Context) error {
		calls++
		return errTransient
	}, nil)

	gt.Error(t, err)
	gt.True(t, errors.Is(err, errTransient))
	gt.Equal(t, calls, 4)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	policy := backoff.Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Minute,
		MaxDelay:    time.Minute,
	}
	err := backoff.Do(ctx, policy, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	}, nil)

	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, calls, 1)
}

func TestDoCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := backoff.Do(ctx, fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, calls, 0)
}
