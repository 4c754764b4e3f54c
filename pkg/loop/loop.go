// Package loop runs a task repeatedly until it says to stop.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task.
type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}

	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Continue the loop after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break the loop. Pass non-nil err to break with error.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value returned last time, and returns a new one and what to do next.
type Task[T any] func(context.Context, T) (T, Next)

// Start runs task in loop.
//
// The task is called with init at first, then with the value it returned
// last time, until it returns Break. Zero value of Next equals Continue(0).
//
// Example: counting steps of a run.
//
//	Start(ctx, 0, func(ctx context.Context, step int) (int, Next) {
//		if err := train(ctx, step); err != nil {
//			return step, Break(err)
//		}
//		step += 1
//		if total <= step {
//			return step, Break(nil)
//		}
//		return step, Continue(0)
//	})
//
// returns:
//
// - T: the value the task returned last. It is returned even with error.
//
// - error: error in Break, or ctx.Err() if ctx is done before the task breaks.
func Start[T any](ctx context.Context, init T, task Task[T]) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		v, n := task(ctx, value)
		if n.err != nil {
			return v, n.err
		} else if n.quit {
			return v, nil
		}
		value = v

		if n.interval <= 0 {
			select {
			case <-ctx.Done():
				return value, ctx.Err()
			default:
				continue
			}
		}

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}
