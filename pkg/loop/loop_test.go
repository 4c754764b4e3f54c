package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opst/bertpretrain/pkg/loop"
)

func TestStart(t *testing.T) {
	t.Run("it repeats task until Break(nil)", func(t *testing.T) {
		got, err := loop.Start(context.Background(), 1, func(_ context.Context, v int) (int, loop.Next) {
			v += 1
			if 10 <= v {
				return v, loop.Break(nil)
			}
			return v, loop.Continue(0)
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != 10 {
			t.Errorf("unexpected value: %d", got)
		}
	})

	t.Run("it stops with the error of Break", func(t *testing.T) {
		expected := errors.New("fake error")
		got, err := loop.Start(context.Background(), 0, func(_ context.Context, v int) (int, loop.Next) {
			if v == 3 {
				return v, loop.Break(expected)
			}
			return v + 1, loop.Next{}
		})
		if !errors.Is(err, expected) {
			t.Errorf("unexpected error: %v", err)
		}
		if got != 3 {
			t.Errorf("unexpected value: %d", got)
		}
	})

	t.Run("it does not start with done context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		got, err := loop.Start(ctx, 7, func(_ context.Context, v int) (int, loop.Next) {
			called = true
			return v, loop.Continue(0)
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
		if called || got != 7 {
			t.Errorf("task is called: %v, %d", called, got)
		}
	})

	t.Run("it stops when context is cancelled between tasks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		got, err := loop.Start(ctx, 0, func(_ context.Context, v int) (int, loop.Next) {
			if v == 5 {
				cancel()
			}
			return v + 1, loop.Continue(0)
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
		if got != 6 {
			t.Errorf("unexpected value: %d", got)
		}
	})

	t.Run("it waits interval", func(t *testing.T) {
		interval := 20 * time.Millisecond
		before := time.Now()
		_, err := loop.Start(context.Background(), 0, func(_ context.Context, v int) (int, loop.Next) {
			if v == 3 {
				return v, loop.Break(nil)
			}
			return v + 1, loop.Continue(interval)
		})
		if err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(before); elapsed < 3*interval {
			t.Errorf("too fast: %s", elapsed)
		}
	})

	t.Run("Next describes itself", func(t *testing.T) {
		for n, want := range map[loop.Next]string{
			loop.Continue(time.Second): "[continue] interval: 1s",
			loop.Break(nil):            "[break] without error",
		} {
			if got := n.String(); got != want {
				t.Errorf("got %s, want %s", got, want)
			}
		}
	})
}
