package main

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/opst/bertpretrain/internal/testutils/commandline"
	"github.com/opst/bertpretrain/pkg/buildtime"
	"github.com/opst/bertpretrain/pkg/configs/run"
	"github.com/opst/bertpretrain/pkg/driver"
	"github.com/opst/bertpretrain/pkg/logger"
	"github.com/youta-t/flarc"
)

func TestTask(t *testing.T) {
	type When struct {
		Flags     func(*run.Flags)
		RunnerErr error
	}
	type Then struct {
		RunnerIsInvoked bool
		Stdout          string
		Err             error
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			flags := run.DefaultFlags()
			if when.Flags != nil {
				when.Flags(&flags)
			}
			cl, stdout, stderr := commandline.Capture(COMMAND, flags)

			runnerIsInvoked := false
			testee := Task(logger.Null(), func(
				ctx context.Context, _ *log.Logger, cfg *run.RunConfig, opts driver.Options,
			) (driver.Result, error) {
				runnerIsInvoked = true
				if cfg.BatchSize() != flags.BatchSize || cfg.LR() != flags.LR {
					t.Errorf("config does not follow flags: %+v", cfg)
				}
				if opts.Progress != stderr {
					t.Error("progress should be shown on stderr")
				}
				return driver.Result{}, when.RunnerErr
			}, driver.Options{})

			err := testee(context.Background(), cl, nil)
			if then.Err == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			} else if !errors.Is(err, then.Err) {
				t.Errorf("expected error %v, but got %v", then.Err, err)
			}

			if runnerIsInvoked != then.RunnerIsInvoked {
				t.Errorf("runner is invoked: %v, want %v", runnerIsInvoked, then.RunnerIsInvoked)
			}
			if !strings.Contains(stdout.String(), then.Stdout) {
				t.Errorf("stdout: %q does not contain %q", stdout.String(), then.Stdout)
			}
		}
	}

	t.Run("it runs with valid flags", theory(
		When{Flags: func(f *run.Flags) { f.BatchSize = 32; f.LR = 0.1 }},
		Then{RunnerIsInvoked: true},
	))

	expected := errors.New("fake error")
	t.Run("it returns error of the runner", theory(
		When{RunnerErr: expected},
		Then{RunnerIsInvoked: true, Err: expected},
	))

	t.Run("invalid flags are usage error", theory(
		When{Flags: func(f *run.Flags) { f.DModel = 100; f.NumHeads = 12 }},
		Then{Err: flarc.ErrUsage},
	))

	t.Run("invalid flags are also invalid config", theory(
		When{Flags: func(f *run.Flags) { f.BatchSize = 0 }},
		Then{Err: run.ErrInvalidConfig},
	))

	t.Run("--version shows the banner", theory(
		When{Flags: func(f *run.Flags) { f.Version = true }},
		Then{Stdout: buildtime.Banner(COMMAND)},
	))

	t.Run("--license shows credits", theory(
		When{Flags: func(f *run.Flags) { f.License = true }},
		Then{Stdout: "github.com/youta-t/flarc"},
	))
}

func TestNew(t *testing.T) {
	t.Run("it builds a command from defaults", func(t *testing.T) {
		cmd, err := New(logger.Null(), WithDefaults(func() (run.Flags, error) {
			return run.DefaultFlags(), nil
		}))
		if err != nil {
			t.Fatal(err)
		}
		if cmd == nil {
			t.Error("command is nil")
		}
	})

	t.Run("broken defaults are error", func(t *testing.T) {
		_, err := New(logger.Null(), WithDefaults(func() (run.Flags, error) {
			return run.Flags{}, run.ErrInvalidConfig
		}))
		if !errors.Is(err, run.ErrInvalidConfig) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
