// Package fakebackend is a trainer.Backend recording calls, for tests.
package fakebackend

import (
	"context"
	"sync"

	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/trainer"
)

type Checkpointed struct {
	Dir  string
	Step int
}

type Backend struct {
	mu sync.Mutex

	// StepLoss computes a loss of a step. If nil, the loss is 1/(step+1).
	StepLoss func(trainer.TrainStep) (float64, error)

	// EvalLoss computes a loss of an evaluation. If nil, the loss is 2.
	EvalLoss func(dataset.Batch) (float64, error)

	// CheckpointErr is returned from Checkpoint, if not nil.
	CheckpointErr error

	Steps        []trainer.TrainStep
	Evaluated    []dataset.Batch
	Checkpointed []Checkpointed
	Closed       bool
}

var _ trainer.Backend = &Backend{}

func (b *Backend) Step(_ context.Context, step trainer.TrainStep) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Steps = append(b.Steps, step)
	if b.StepLoss != nil {
		return b.StepLoss(step)
	}
	return 1 / float64(step.Step+1), nil
}

func (b *Backend) Evaluate(_ context.Context, batch dataset.Batch) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Evaluated = append(b.Evaluated, batch)
	if b.EvalLoss != nil {
		return b.EvalLoss(batch)
	}
	return 2, nil
}

func (b *Backend) Checkpoint(_ context.Context, dir string, step int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CheckpointErr != nil {
		return b.CheckpointErr
	}
	b.Checkpointed = append(b.Checkpointed, Checkpointed{Dir: dir, Step: step})
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}
