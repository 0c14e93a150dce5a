package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

// busyFor возвращает try, занятый первые n попыток.
func busyFor(n int, calls *int) func(context.Context, string) (func(), error) {
	return func(ctx context.Context, key string) (func(), error) {
		*calls++
		if *calls <= n {
			return nil, ErrLockNotAcquired
		}
		return func() {}, nil
	}
}

func TestPollLock(t *testing.T) {
	fast := PollConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond}

	t.Run("free lock is taken at once", func(t *testing.T) {
		var calls int
		unlock, err := pollLock(context.Background(), "t:u", fast, busyFor(0, &calls))
		if err != nil || unlock == nil {
			t.Fatalf("pollLock() = %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("busy lock is retried until free", func(t *testing.T) {
		var calls int
		if _, err := pollLock(context.Background(), "t:u", fast, busyFor(3, &calls)); err != nil {
			t.Fatalf("pollLock() = %v", err)
		}
		if calls != 4 {
			t.Errorf("calls = %d, want 4", calls)
		}
	})

	t.Run("other errors are returned", func(t *testing.T) {
		boom := errors.New("connection refused")
		var calls int
		_, err := pollLock(context.Background(), "t:u", fast, func(context.Context, string) (func(), error) {
			calls++
			return nil, boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Errorf("err = %v, calls = %d", err, calls)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		var calls int
		_, err := pollLock(ctx, "t:u", fast, busyFor(1<<30, &calls))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
		if calls < 2 {
			t.Errorf("calls = %d, want several attempts", calls)
		}
	})
}

func TestPollConfig_Defaults(t *testing.T) {
	cfg := PollConfig{}.withDefaults()
	if cfg.Initial != 20*time.Millisecond || cfg.Max != 500*time.Millisecond {
		t.Errorf("defaults = %+v", cfg)
	}
	if got := (PollConfig{Initial: time.Second}).withDefaults(); got.Max != time.Second {
		t.Errorf("Max below Initial: got %+v", got)
	}
}
