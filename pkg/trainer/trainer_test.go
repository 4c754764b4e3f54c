package trainer_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/bertpretrain/internal/testutils/fakebackend"
	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/logger"
	"github.com/opst/bertpretrain/pkg/lrpolicy"
	"github.com/opst/bertpretrain/pkg/trainer"
	"github.com/opst/bertpretrain/pkg/utils/try"
)

type numbered int

func (n numbered) Len() int { return int(n) }

func (n numbered) Example(i int) (dataset.Example, error) {
	return dataset.Example{IsNext: i}, nil
}

func TestTrain(t *testing.T) {
	t.Run("it steps over epochs with scheduled learning rate", func(t *testing.T) {
		backend := &fakebackend.Backend{}
		data := dataset.NewDataLayer("train", numbered(12), 2, 1)
		policy := try.To(lrpolicy.Select("cosine", 6, 0)).OrFatal(t)

		results := []trainer.StepResult{}
		progress := new(bytes.Buffer)
		testee := trainer.New(logger.Null(), backend, trainer.WithProgress(progress))

		summary, err := testee.Train(context.Background(), trainer.Request{
			Data:           data,
			Policy:         policy,
			BaseLR:         0.5,
			NumEpochs:      2,
			StepsPerEpoch:  3,
			BatchesPerStep: 2,
			Observers: []trainer.Observer{
				trainer.ObserverFunc(func(_ context.Context, r trainer.StepResult) error {
					results = append(results, r)
					return nil
				}),
			},
		})
		if err != nil {
			t.Fatal(err)
		}

		if summary.Steps != 6 || summary.LastLoss != 1.0/6 {
			t.Errorf("unexpected summary: %+v", summary)
		}
		if len(backend.Steps) != 6 {
			t.Fatalf("unexpected steps: %d", len(backend.Steps))
		}
		for i, s := range backend.Steps {
			if s.Step != i {
				t.Errorf("step %d: unexpected step number %d", i, s.Step)
			}
			if s.Epoch != i/3 {
				t.Errorf("step %d: unexpected epoch %d", i, s.Epoch)
			}
			if want := 0.5 * policy(i); math.Abs(s.LR-want) > 1e-12 {
				t.Errorf("step %d: lr = %g, want %g", i, s.LR, want)
			}
			if len(s.Batches) != 2 {
				t.Errorf("step %d: unexpected micro batches: %d", i, len(s.Batches))
			}
		}

		// an epoch of 3 steps x 2 micro batches x 2 examples consumes every example once.
		seen := map[int]int{}
		for _, s := range backend.Steps[:3] {
			for _, b := range s.Batches {
				for _, l := range b.Labels {
					seen[l] += 1
				}
			}
		}
		if len(seen) != 12 {
			t.Errorf("first epoch does not cover the dataset: %v", seen)
		}

		wantSteps := []int{1, 2, 3, 4, 5, 6}
		gotSteps := []int{}
		for _, r := range results {
			gotSteps = append(gotSteps, r.Step)
		}
		if diff := cmp.Diff(wantSteps, gotSteps); diff != "" {
			t.Errorf("observed steps (-want +got):\n%s", diff)
		}
		if progress.Len() == 0 {
			t.Error("no progress is shown")
		}
	})

	t.Run("it restarts an epoch when data runs out", func(t *testing.T) {
		backend := &fakebackend.Backend{}
		data := dataset.NewDataLayer("train", numbered(3), 2, 1)

		_, err := trainer.New(logger.Null(), backend).Train(context.Background(), trainer.Request{
			Data: data, Policy: func(int) float64 { return 1 }, BaseLR: 1,
			NumEpochs: 1, StepsPerEpoch: 4, BatchesPerStep: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(backend.Steps) != 4 {
			t.Errorf("unexpected steps: %d", len(backend.Steps))
		}
	})

	t.Run("errors stop training", func(t *testing.T) {
		expected := errors.New("fake error")
		for name, tc := range map[string]struct {
			backend  *fakebackend.Backend
			observer trainer.ObserverFunc
			steps    int
		}{
			"backend": {
				backend: &fakebackend.Backend{
					StepLoss: func(s trainer.TrainStep) (float64, error) {
						if s.Step == 2 {
							return 0, expected
						}
						return 1, nil
					},
				},
				observer: func(context.Context, trainer.StepResult) error { return nil },
				steps:    2,
			},
			"observer": {
				backend: &fakebackend.Backend{},
				observer: func(_ context.Context, r trainer.StepResult) error {
					if r.Step == 1 {
						return expected
					}
					return nil
				},
				steps: 1,
			},
		} {
			t.Run(name, func(t *testing.T) {
				summary, err := trainer.New(logger.Null(), tc.backend).Train(context.Background(), trainer.Request{
					Data: dataset.NewDataLayer("train", numbered(10), 1, 1), Policy: func(int) float64 { return 1 },
					BaseLR: 1, NumEpochs: 1, StepsPerEpoch: 10, BatchesPerStep: 1,
					Observers: []trainer.Observer{tc.observer},
				})
				if !errors.Is(err, expected) {
					t.Errorf("unexpected error: %v", err)
				}
				if summary.Steps != tc.steps {
					t.Errorf("unexpected steps: %d", summary.Steps)
				}
			})
		}
	})

	t.Run("cancel stops training between steps", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		summary, err := trainer.New(logger.Null(), &fakebackend.Backend{}).Train(ctx, trainer.Request{
			Data: dataset.NewDataLayer("train", numbered(10), 1, 1), Policy: func(int) float64 { return 1 },
			BaseLR: 1, NumEpochs: 1, StepsPerEpoch: 10, BatchesPerStep: 1,
			Observers: []trainer.Observer{trainer.ObserverFunc(func(_ context.Context, r trainer.StepResult) error {
				if r.Step == 3 {
					cancel()
				}
				return nil
			})},
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
		if summary.Steps != 3 {
			t.Errorf("unexpected steps: %d", summary.Steps)
		}
	})

	t.Run("it rejects empty runs", func(t *testing.T) {
		_, err := trainer.New(logger.Null(), &fakebackend.Backend{}).Train(context.Background(), trainer.Request{
			Data: dataset.NewDataLayer("train", numbered(10), 1, 1), Policy: func(int) float64 { return 1 },
			NumEpochs: 1, StepsPerEpoch: 0, BatchesPerStep: 1,
		})
		if !errors.Is(err, lrpolicy.ErrNoSteps) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
