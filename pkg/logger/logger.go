// Package logger builds the loggers handed to every component of a run.
//
// There is no process-wide handler: callers construct one logger in main
// and pass it down explicitly.
package logger

import (
	"io"
	"log"
	"os"
)

// Null returns a logger which discards everything.
func Null() *log.Logger {
	return log.New(io.Discard, "", log.LstdFlags)
}

// Default returns a logger writing to stderr with the given prefix.
func Default(prefix string) *log.Logger {
	return New(os.Stderr, prefix)
}

// New returns a logger writing to w.
func New(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags|log.Lmsgprefix)
}
