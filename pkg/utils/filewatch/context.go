package filewatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// ErrChanged is the cancel cause of contexts made by CancelOnChange.
var ErrChanged = errors.New("watched file is changed")

// CancelOnChange returns a context that is canceled when one of the
// target files is written, created, removed or renamed.
// Attribute-only changes (chmod) are ignored.
//
// # Args
//
// - ctx: parent context.
//
// - targets ...string: files (or directories) to be watched.
//
// # Returns
//
// - context.Context: context canceled on change. Its cause
// (context.Cause) wraps ErrChanged and names the file.
//
// - func(): stops watching and releases the context.
//
// - error: error caused when it fails to start watching.
// If error is not nil, both of the context and the func are nil.
func CancelOnChange(ctx context.Context, targets ...string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	for _, f := range targets {
		if err := w.Add(f); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, err
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				cancel(fmt.Errorf("%w: %s (%s)", ErrChanged, event.Name, event.Op.String()))
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(err)
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
