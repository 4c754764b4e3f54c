// Package commandline has a fake flarc.Commandline for testing command tasks.
package commandline

import (
	"bytes"
	"io"
	"strings"

	"github.com/youta-t/flarc"
)

// Fake is a flarc.Commandline with fixed flags and arguments.
//
// Nil streams are replaced: stdin with an empty reader, stdout and stderr with io.Discard.
type Fake[T any] struct {
	Command string
	Values  T
	Argv    map[string][]string

	In  io.Reader
	Out io.Writer
	Err io.Writer
}

var _ flarc.Commandline[struct{}] = Fake[struct{}]{}

// Capture returns a Fake with values, and buffers receiving its stdout and stderr.
func Capture[T any](command string, values T) (Fake[T], *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	return Fake[T]{Command: command, Values: values, Out: stdout, Err: stderr}, stdout, stderr
}

func (f Fake[T]) Fullname() string { return f.Command }

func (f Fake[T]) Flags() T { return f.Values }

func (f Fake[T]) Args() map[string][]string {
	if f.Argv == nil {
		return map[string][]string{}
	}
	return f.Argv
}

func (f Fake[T]) Stdin() io.Reader {
	if f.In == nil {
		return strings.NewReader("")
	}
	return f.In
}

func (f Fake[T]) Stdout() io.Writer {
	if f.Out == nil {
		return io.Discard
	}
	return f.Out
}

func (f Fake[T]) Stderr() io.Writer {
	if f.Err == nil {
		return io.Discard
	}
	return f.Err
}
