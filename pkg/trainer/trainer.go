// Package trainer drives optimization steps of a run on a Backend.
//
// Numerical work (forward, backward and optimizer updates) is done by the
// Backend. Trainer feeds batches, schedules learning rate and notifies
// Observers.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cheggaaa/pb/v3"
	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/loop"
	"github.com/opst/bertpretrain/pkg/lrpolicy"
)

// TrainStep is an optimizer step: micro batches to be accumulated and the learning rate.
type TrainStep struct {
	Step    int             `json:"step"`
	Epoch   int             `json:"epoch"`
	LR      float64         `json:"lr"`
	Batches []dataset.Batch `json:"batches"`
}

// Backend computes losses and updates the model.
type Backend interface {
	// Step runs forward and backward of batches and updates parameters once.
	//
	// It returns the training loss.
	Step(ctx context.Context, step TrainStep) (float64, error)

	// Evaluate computes the loss of a batch without updating parameters.
	Evaluate(ctx context.Context, batch dataset.Batch) (float64, error)

	// Checkpoint saves the state of the model and the optimizer into dir.
	Checkpoint(ctx context.Context, dir string, step int) error

	Close() error
}

// StepResult is what an optimizer step resulted in.
type StepResult struct {
	// Step is the count of optimizer steps done, including this one.
	Step  int
	Epoch int
	LR    float64
	Loss  float64
}

// Observer is notified after every optimizer step.
type Observer interface {
	OnStep(ctx context.Context, result StepResult) error
}

// ObserverFunc is an Observer in a func.
type ObserverFunc func(context.Context, StepResult) error

func (f ObserverFunc) OnStep(ctx context.Context, r StepResult) error {
	return f(ctx, r)
}

// Request is a training to be done.
type Request struct {
	Data   *dataset.DataLayer
	Policy lrpolicy.Policy
	BaseLR float64

	NumEpochs      int
	StepsPerEpoch  int
	BatchesPerStep int

	Observers []Observer
}

// TotalSteps is the count of optimizer steps of the request.
func (r Request) TotalSteps() int {
	return r.NumEpochs * r.StepsPerEpoch
}

// Summary is the result of Train.
type Summary struct {
	Steps    int
	LastLoss float64
}

type Trainer struct {
	logger   *log.Logger
	backend  Backend
	progress io.Writer
}

type Option func(*Trainer)

// WithProgress shows a progress bar on w.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) {
		t.progress = w
	}
}

func New(logger *log.Logger, backend Backend, options ...Option) *Trainer {
	t := &Trainer{logger: logger, backend: backend}
	for _, o := range options {
		o(t)
	}
	return t
}

const bar pb.ProgressBarTemplate = `{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }} {{etime . }}{{with string . "suffix"}} {{.}}{{end}}`

type state struct {
	step  int
	epoch int
	iter  *dataset.Epoch
	loss  float64
}

// Train runs optimizer steps of req, epoch by epoch.
//
// At each step, it gathers BatchesPerStep batches, calls Backend.Step with
// BaseLR * Policy(step), then notifies observers in order. An error from
// the backend or an observer stops training.
//
// When ctx is done, Train stops before the next step and returns ctx.Err().
func (t *Trainer) Train(ctx context.Context, req Request) (Summary, error) {
	total := req.TotalSteps()
	if total <= 0 {
		return Summary{}, fmt.Errorf("%w: %d epochs x %d steps", lrpolicy.ErrNoSteps, req.NumEpochs, req.StepsPerEpoch)
	}
	if req.BatchesPerStep <= 0 {
		return Summary{}, fmt.Errorf("batches per step should be positive, but %d", req.BatchesPerStep)
	}

	var progress *pb.ProgressBar
	if t.progress != nil {
		progress = bar.New(total)
		progress.SetWriter(t.progress)
		progress.Set("prefix", "training:")
		progress.Start()
		defer progress.Finish()
	}

	last, err := loop.Start(
		ctx, state{},
		func(ctx context.Context, s state) (state, loop.Next) {
			if s.iter == nil || s.step%req.StepsPerEpoch == 0 {
				s.epoch = s.step / req.StepsPerEpoch
				s.iter = req.Data.Epoch()
				t.logger.Printf("epoch %d/%d", s.epoch+1, req.NumEpochs)
			}

			batches := make([]dataset.Batch, 0, req.BatchesPerStep)
			for range req.BatchesPerStep {
				b, err := s.iter.Next()
				if errors.Is(err, io.EOF) {
					// the epoch is shorter than StepsPerEpoch expects. start the next one.
					s.iter = req.Data.Epoch()
					b, err = s.iter.Next()
				}
				if err != nil {
					return s, loop.Break(fmt.Errorf("step %d: reading batch: %w", s.step, err))
				}
				batches = append(batches, b)
			}

			lr := req.BaseLR * req.Policy(s.step)
			loss, err := t.backend.Step(ctx, TrainStep{
				Step: s.step, Epoch: s.epoch, LR: lr, Batches: batches,
			})
			if err != nil {
				return s, loop.Break(fmt.Errorf("step %d: %w", s.step, err))
			}
			s.step += 1
			s.loss = loss

			if progress != nil {
				progress.Increment()
				progress.Set("suffix", fmt.Sprintf("loss: %.3f", loss))
			}

			result := StepResult{Step: s.step, Epoch: s.epoch, LR: lr, Loss: loss}
			for _, o := range req.Observers {
				if err := o.OnStep(ctx, result); err != nil {
					return s, loop.Break(fmt.Errorf("step %d: %w", s.step, err))
				}
			}

			if total <= s.step {
				return s, loop.Break(nil)
			}
			return s, loop.Continue(0)
		},
	)
	return Summary{Steps: last.step, LastLoss: last.loss}, err
}
