// Package driver runs a BERT pretraining from a sealed RunConfig.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/opst/bertpretrain/pkg/artifacts"
	"github.com/opst/bertpretrain/pkg/callbacks"
	"github.com/opst/bertpretrain/pkg/configs/run"
	"github.com/opst/bertpretrain/pkg/lrpolicy"
	"github.com/opst/bertpretrain/pkg/metrics"
	"github.com/opst/bertpretrain/pkg/pipeline"
	"github.com/opst/bertpretrain/pkg/runname"
	"github.com/opst/bertpretrain/pkg/tokenizer"
	"github.com/opst/bertpretrain/pkg/trainer"
	"github.com/opst/bertpretrain/pkg/trainer/worker"
	"github.com/opst/bertpretrain/pkg/utils/filewatch"
)

// ErrNoWorker is returned when training is requested without a worker command.
var ErrNoWorker = errors.New("no worker command is given")

// TokenizerLoader loads a tokenizer from a file.
type TokenizerLoader func(path string) (tokenizer.Tokenizer, error)

// BackendStarter starts a training backend for the run.
//
// manifest is the path to pipeline.yaml of the run.
type BackendStarter func(ctx context.Context, logger *log.Logger, cfg *run.RunConfig, runId string, manifest string) (trainer.Backend, error)

// LoadTokenizer is the default TokenizerLoader.
func LoadTokenizer(path string) (tokenizer.Tokenizer, error) {
	tok, err := tokenizer.FromFile(path)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// StartWorker is the default BackendStarter. It spawns the command of cfg.Worker().
func StartWorker(ctx context.Context, logger *log.Logger, cfg *run.RunConfig, runId string, manifest string) (trainer.Backend, error) {
	command := cfg.Worker()
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: set --worker, or use --dry-run", ErrNoWorker)
	}
	p, err := worker.Start(ctx, logger, command, runId, manifest)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Options struct {
	LoadTokenizer TokenizerLoader
	StartBackend  BackendStarter

	// MetricsRoot is where the run-name directory of metrics is created.
	MetricsRoot string

	// LossLogFrequency is the step interval of loss logging.
	LossLogFrequency int

	// Progress receives the progress bar of training, if not nil.
	Progress io.Writer

	// NewRunId generates the run id.
	NewRunId func() string
}

// DefaultOptions returns Options for the command.
func DefaultOptions() Options {
	return Options{
		LoadTokenizer:    LoadTokenizer,
		StartBackend:     StartWorker,
		MetricsRoot:      ".",
		LossLogFrequency: callbacks.DefaultLossLogFrequency,
		NewRunId:         uuid.NewString,
	}
}

// Result describes what Run did.
type Result struct {
	RunId   string
	RunName string

	StepsPerEpoch int
	TotalSteps    int

	ModelConfig        string
	ModelConfigWritten bool
	Manifest           string
	Graph              string

	// Metrics is the path to the metrics file, or empty if metrics are disabled.
	Metrics string

	Summary trainer.Summary
}

// Run names the run, assembles the pipeline, selects the learning rate policy,
// writes artifacts into the checkpoint directory and trains.
//
// When cfg.DryRun() is true, it returns before starting the backend.
//
// If a sentence index cache changes while training, the run is stopped
// with an error wrapping filewatch.ErrChanged.
func Run(ctx context.Context, logger *log.Logger, cfg *run.RunConfig, opts Options) (Result, error) {
	result := Result{RunId: opts.NewRunId(), RunName: runname.Resolve(cfg)}
	logger.Printf("run: %s (id: %s)", result.RunName, result.RunId)

	tok, err := opts.LoadTokenizer(cfg.TokenizerModel())
	if err != nil {
		return result, fmt.Errorf("tokenizer %s: %w", cfg.TokenizerModel(), err)
	}

	p, err := pipeline.Assemble(logger, cfg, tok)
	if err != nil {
		return result, err
	}
	defer p.Close()
	logger.Printf("vocabulary: %d (raw: %d)", p.VocabSize, tok.VocabSize())

	sink := openMetrics(logger, cfg, filepath.Join(opts.MetricsRoot, result.RunName))
	defer sink.Close()
	if f, ok := sink.(*metrics.File); ok {
		result.Metrics = f.Path()
	}

	result.StepsPerEpoch = lrpolicy.StepsPerEpoch(
		p.Train.Data.Len(), cfg.BatchSize(), cfg.NumGPUs(), cfg.BatchPerStep(),
	)
	result.TotalSteps = cfg.NumEpochs() * result.StepsPerEpoch
	policy, err := lrpolicy.Select(cfg.LRDecayPolicy(), result.TotalSteps, cfg.LRWarmupProportion())
	if err != nil {
		return result, err
	}
	logger.Printf(
		"lr policy: %s, %d steps (%d epochs x %d steps)",
		cfg.LRDecayPolicy(), result.TotalSteps, cfg.NumEpochs(), result.StepsPerEpoch,
	)

	if err := writeArtifacts(logger, cfg, p, &result); err != nil {
		return result, err
	}
	if cfg.DryRun() {
		logger.Printf("dry run: stop before training")
		return result, nil
	}

	wctx, stopWatch, err := filewatch.CancelOnChange(
		ctx,
		filepath.Join(p.Train.DataDir, p.Train.IndexFilename),
		filepath.Join(p.Dev.DataDir, p.Dev.IndexFilename),
	)
	if err != nil {
		return result, fmt.Errorf("watching sentence indices: %w", err)
	}
	defer stopWatch()

	backend, err := opts.StartBackend(wctx, logger, cfg, result.RunId, result.Manifest)
	if err != nil {
		return result, err
	}
	defer backend.Close()

	observers := []trainer.Observer{
		callbacks.NewLossLogger(logger, sink, opts.LossLogFrequency),
		callbacks.NewCheckpoint(logger, backend, cfg.CheckpointDirectory(), cfg.CheckpointSaveFrequency()),
		callbacks.NewEvaluator(logger, sink, backend, p.Dev.Data, result.StepsPerEpoch),
	}

	opt := []trainer.Option{}
	if opts.Progress != nil {
		opt = append(opt, trainer.WithProgress(opts.Progress))
	}
	summary, err := trainer.New(logger, backend, opt...).Train(wctx, trainer.Request{
		Data:           p.Train.Data,
		Policy:         policy,
		BaseLR:         cfg.LR(),
		NumEpochs:      cfg.NumEpochs(),
		StepsPerEpoch:  result.StepsPerEpoch,
		BatchesPerStep: cfg.BatchPerStep(),
		Observers:      observers,
	})
	result.Summary = summary
	if err != nil {
		if cause := context.Cause(wctx); errors.Is(cause, filewatch.ErrChanged) {
			return result, cause
		}
		return result, err
	}
	if err := backend.Close(); err != nil {
		return result, err
	}

	logger.Printf("done: %d steps, last loss: %.3f", summary.Steps, summary.LastLoss)
	return result, nil
}

// openMetrics opens a metrics file in dir. When it is disabled or fails, it returns metrics.Nop.
func openMetrics(logger *log.Logger, cfg *run.RunConfig, dir string) metrics.Sink {
	if !cfg.MetricsEnabled() {
		logger.Printf("metrics are disabled")
		return metrics.Nop{}
	}
	f, err := metrics.Open(dir)
	if err != nil {
		logger.Printf("metrics are disabled: %s", err)
		return metrics.Nop{}
	}
	logger.Printf("metrics: %s", f.Path())
	return f
}

func writeArtifacts(logger *log.Logger, cfg *run.RunConfig, p *pipeline.Pipeline, result *Result) error {
	dir := cfg.CheckpointDirectory()
	if err := artifacts.Prepare(dir); err != nil {
		return fmt.Errorf("checkpoint directory: %w", err)
	}

	path, written, err := artifacts.SaveModelConfig(dir, p.Encoder.BertConfig())
	if err != nil {
		return fmt.Errorf("model config: %w", err)
	}
	result.ModelConfig = path
	result.ModelConfigWritten = written
	if written {
		logger.Printf("model config saved: %s", path)
	} else {
		logger.Printf("model config exists: %s", path)
	}

	manifest, err := artifacts.SaveManifest(dir, p.Manifest(result.RunId, result.RunName, cfg))
	if err != nil {
		return fmt.Errorf("pipeline manifest: %w", err)
	}
	result.Manifest = manifest

	graph, err := artifacts.SaveGraph(dir, p.Graph)
	if err != nil {
		return fmt.Errorf("pipeline graph: %w", err)
	}
	result.Graph = graph
	return nil
}
