// Package callbacks provides trainer.Observers of a pretraining run.
package callbacks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/metrics"
	"github.com/opst/bertpretrain/pkg/trainer"
)

// DefaultLossLogFrequency is the step interval of LossLogger when not specified.
const DefaultLossLogFrequency = 25

const (
	TagLoss          = "loss"
	TagDevLoss       = "Dev MLM loss"
	TagDevPerplexity = "Dev MLM perplexity"
)

// due reports whether step is on an interval of every.
func due(step int, every int) bool {
	return 0 < every && 0 < step && step%every == 0
}

// scalar writes a value into sink. Failures are logged and not returned.
func scalar(logger *log.Logger, sink metrics.Sink, tag string, value float64, step int) {
	if err := sink.Scalar(tag, value, step); err != nil {
		logger.Printf("metrics: %s: %s", tag, err)
	}
}

// LossLogger logs the training loss every Every steps.
type LossLogger struct {
	logger *log.Logger
	sink   metrics.Sink
	every  int
}

var _ trainer.Observer = &LossLogger{}

// NewLossLogger creates a LossLogger.
//
// If every is not positive, DefaultLossLogFrequency is used.
func NewLossLogger(logger *log.Logger, sink metrics.Sink, every int) *LossLogger {
	if every <= 0 {
		every = DefaultLossLogFrequency
	}
	return &LossLogger{logger: logger, sink: sink, every: every}
}

func (l *LossLogger) OnStep(_ context.Context, r trainer.StepResult) error {
	if !due(r.Step, l.every) {
		return nil
	}
	l.logger.Printf("Loss: %.3f", r.Loss)
	scalar(l.logger, l.sink, TagLoss, r.Loss, r.Step)
	return nil
}

// Checkpointer is the part of trainer.Backend saving checkpoints.
type Checkpointer interface {
	Checkpoint(ctx context.Context, dir string, step int) error
}

// Checkpoint saves the model into a directory periodically.
type Checkpoint struct {
	logger  *log.Logger
	backend Checkpointer
	dir     string
	every   int
}

var _ trainer.Observer = &Checkpoint{}

// NewCheckpoint creates a Checkpoint saving every steps into dir.
//
// If every is not positive, it never saves.
func NewCheckpoint(logger *log.Logger, backend Checkpointer, dir string, every int) *Checkpoint {
	return &Checkpoint{logger: logger, backend: backend, dir: dir, every: every}
}

func (c *Checkpoint) OnStep(ctx context.Context, r trainer.StepResult) error {
	if !due(r.Step, c.every) {
		return nil
	}
	if err := c.backend.Checkpoint(ctx, c.dir, r.Step); err != nil {
		return fmt.Errorf("checkpoint at step %d: %w", r.Step, err)
	}
	c.logger.Printf("checkpoint saved: %s (step %d)", c.dir, r.Step)
	return nil
}

// Evaluation is the result of an evaluation over the dev data.
type Evaluation struct {
	Step int

	// Losses are per-batch losses.
	Losses []float64
}

// Mean is the mean of losses. It is NaN if there are no losses.
func (e Evaluation) Mean() float64 {
	if len(e.Losses) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, l := range e.Losses {
		sum += l
	}
	return sum / float64(len(e.Losses))
}

// Perplexity is exp(Mean()) rounded to 3 decimal places.
func (e Evaluation) Perplexity() float64 {
	return math.Round(math.Exp(e.Mean())*1000) / 1000
}

// Scorer is the part of trainer.Backend computing dev losses.
type Scorer interface {
	Evaluate(ctx context.Context, batch dataset.Batch) (float64, error)
}

// Evaluator evaluates the model with dev data periodically.
type Evaluator struct {
	logger  *log.Logger
	sink    metrics.Sink
	backend Scorer
	data    *dataset.DataLayer
	every   int

	// OnEvaluated is called after each evaluation, if not nil.
	OnEvaluated func(Evaluation)
}

var _ trainer.Observer = &Evaluator{}

// NewEvaluator creates an Evaluator running every steps over data.
//
// If every is not positive, it never evaluates.
func NewEvaluator(
	logger *log.Logger,
	sink metrics.Sink,
	backend Scorer,
	data *dataset.DataLayer,
	every int,
) *Evaluator {
	return &Evaluator{logger: logger, sink: sink, backend: backend, data: data, every: every}
}

func (e *Evaluator) OnStep(ctx context.Context, r trainer.StepResult) error {
	if !due(r.Step, e.every) {
		return nil
	}
	ev, err := e.Evaluate(ctx, r.Step)
	if err != nil {
		return err
	}
	e.done(ev)
	return nil
}

// Evaluate runs a whole epoch of dev data and collects losses of batches.
func (e *Evaluator) Evaluate(ctx context.Context, step int) (Evaluation, error) {
	ev := Evaluation{Step: step}
	epoch := e.data.Epoch()
	for {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		batch, err := epoch.Next()
		if errors.Is(err, io.EOF) {
			return ev, nil
		} else if err != nil {
			return ev, fmt.Errorf("evaluation at step %d: %w", step, err)
		}
		loss, err := e.backend.Evaluate(ctx, batch)
		if err != nil {
			return ev, fmt.Errorf("evaluation at step %d: %w", step, err)
		}
		ev.Losses = append(ev.Losses, loss)
	}
}

func (e *Evaluator) done(ev Evaluation) {
	if len(ev.Losses) == 0 {
		e.logger.Printf("no dev data evaluated at step %d", ev.Step)
		return
	}
	loss := ev.Mean()
	ppl := ev.Perplexity()
	e.logger.Printf("Dev MLM loss: %.3f", loss)
	e.logger.Printf("Dev MLM perplexity: %.3f", ppl)
	scalar(e.logger, e.sink, TagDevLoss, loss, ev.Step)
	scalar(e.logger, e.sink, TagDevPerplexity, ppl, ev.Step)

	if e.OnEvaluated != nil {
		e.OnEvaluated(ev)
	}
}
