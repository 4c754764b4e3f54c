package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opst/bertpretrain/pkg/buildtime"
	"github.com/opst/bertpretrain/pkg/configs/run"
	"github.com/opst/bertpretrain/pkg/driver"
	"github.com/youta-t/flarc"
)

const COMMAND = "bert_pretraining"

// Runner runs a pretraining.
type Runner func(ctx context.Context, logger *log.Logger, cfg *run.RunConfig, opts driver.Options) (driver.Result, error)

type Option struct {
	runner   Runner
	defaults func() (run.Flags, error)
	options  driver.Options
}

func WithRunner(r Runner) func(*Option) *Option {
	return func(opt *Option) *Option {
		opt.runner = r
		return opt
	}
}

// WithDefaults replaces the source of default flags.
func WithDefaults(defaults func() (run.Flags, error)) func(*Option) *Option {
	return func(opt *Option) *Option {
		opt.defaults = defaults
		return opt
	}
}

func New(logger *log.Logger, options ...func(*Option) *Option) (flarc.Command, error) {
	option := &Option{
		runner:   driver.Run,
		defaults: run.DefaultFlagsFromEnv,
		options:  driver.DefaultOptions(),
	}
	for _, opt := range options {
		option = opt(option)
	}

	defaults, err := option.defaults()
	if err != nil {
		return nil, fmt.Errorf("defaults from $%s: %w", run.EnvDefaults, err)
	}

	return flarc.NewCommand(
		fmt.Sprintf(
			`Pretrain BERT with masked language modeling.

Defaults of flags can be overridden by a YAML file named in $%s.
Keys are flag names in snake_case (for example, "batch_size: 32").`,
			run.EnvDefaults,
		),
		defaults,
		flarc.Args{},
		Task(logger, option.runner, option.options),
	)
}

func Task(
	logger *log.Logger,
	runner Runner,
	options driver.Options,
) func(context.Context, flarc.Commandline[run.Flags], []any) error {
	return func(ctx context.Context, cl flarc.Commandline[run.Flags], _ []any) error {
		flags := cl.Flags()
		if flags.License {
			fmt.Fprintln(cl.Stdout(), CREDITS)
			return nil
		}
		if flags.Version {
			fmt.Fprintln(cl.Stdout(), buildtime.Banner(COMMAND))
			return nil
		}

		cfg, err := flags.Seal()
		if errors.Is(err, run.ErrInvalidConfig) {
			return fmt.Errorf("%w: %w", flarc.ErrUsage, err)
		} else if err != nil {
			return err
		}

		logger.Println(buildtime.Banner(COMMAND))
		options.Progress = cl.Stderr()
		_, err = runner(ctx, logger, cfg, options)
		return err
	}
}
