package callbacks_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/bertpretrain/internal/testutils/fakebackend"
	"github.com/opst/bertpretrain/pkg/callbacks"
	"github.com/opst/bertpretrain/pkg/dataset"
	"github.com/opst/bertpretrain/pkg/metrics"
	"github.com/opst/bertpretrain/pkg/trainer"
	"github.com/opst/bertpretrain/pkg/utils/try"
)

type scalar struct {
	Tag   string
	Value float64
	Step  int
}

type recorder struct {
	scalars []scalar
	err     error
}

func (r *recorder) Scalar(tag string, value float64, step int) error {
	if r.err != nil {
		return r.err
	}
	r.scalars = append(r.scalars, scalar{Tag: tag, Value: value, Step: step})
	return nil
}

func (r *recorder) Close() error { return nil }

var _ metrics.Sink = &recorder{}

type numbered int

func (n numbered) Len() int { return int(n) }

func (n numbered) Example(i int) (dataset.Example, error) {
	return dataset.Example{IsNext: i}, nil
}

func steps(ctx context.Context, t *testing.T, o trainer.Observer, n int, loss func(int) float64) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := o.OnStep(ctx, trainer.StepResult{Step: i, Loss: loss(i)}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLossLogger(t *testing.T) {
	t.Run("it logs loss every N steps", func(t *testing.T) {
		out := new(bytes.Buffer)
		sink := &recorder{}
		testee := callbacks.NewLossLogger(log.New(out, "", 0), sink, 2)

		steps(context.Background(), t, testee, 5, func(i int) float64 { return float64(i) / 8 })

		if want := "Loss: 0.250\nLoss: 0.500\n"; out.String() != want {
			t.Errorf("log: got %q, want %q", out.String(), want)
		}
		want := []scalar{
			{Tag: callbacks.TagLoss, Value: 0.25, Step: 2},
			{Tag: callbacks.TagLoss, Value: 0.5, Step: 4},
		}
		if diff := cmp.Diff(want, sink.scalars); diff != "" {
			t.Errorf("scalars (-want +got):\n%s", diff)
		}
	})

	t.Run("metrics failure is logged and training continues", func(t *testing.T) {
		out := new(bytes.Buffer)
		testee := callbacks.NewLossLogger(log.New(out, "", 0), &recorder{err: errors.New("disk full")}, 1)

		steps(context.Background(), t, testee, 1, func(int) float64 { return 1 })

		if !strings.Contains(out.String(), "disk full") {
			t.Errorf("failure is not logged: %q", out.String())
		}
	})

	t.Run("non positive frequency falls back to the default", func(t *testing.T) {
		out := new(bytes.Buffer)
		testee := callbacks.NewLossLogger(log.New(out, "", 0), metrics.Nop{}, 0)

		steps(context.Background(), t, testee, callbacks.DefaultLossLogFrequency, func(int) float64 { return 1 })

		if got := strings.Count(out.String(), "Loss:"); got != 1 {
			t.Errorf("unexpected count of logs: %d", got)
		}
	})
}

func TestCheckpoint(t *testing.T) {
	t.Run("it checkpoints every N steps", func(t *testing.T) {
		backend := &fakebackend.Backend{}
		testee := callbacks.NewCheckpoint(log.New(new(bytes.Buffer), "", 0), backend, "/ckpt", 3)

		steps(context.Background(), t, testee, 7, func(int) float64 { return 1 })

		want := []fakebackend.Checkpointed{{Dir: "/ckpt", Step: 3}, {Dir: "/ckpt", Step: 6}}
		if diff := cmp.Diff(want, backend.Checkpointed); diff != "" {
			t.Errorf("checkpoints (-want +got):\n%s", diff)
		}
	})

	t.Run("zero frequency never checkpoints", func(t *testing.T) {
		backend := &fakebackend.Backend{}
		testee := callbacks.NewCheckpoint(log.New(new(bytes.Buffer), "", 0), backend, "/ckpt", 0)

		steps(context.Background(), t, testee, 10, func(int) float64 { return 1 })

		if len(backend.Checkpointed) != 0 {
			t.Errorf("unexpected checkpoints: %v", backend.Checkpointed)
		}
	})

	t.Run("backend error is returned", func(t *testing.T) {
		expected := errors.New("fake error")
		backend := &fakebackend.Backend{CheckpointErr: expected}
		testee := callbacks.NewCheckpoint(log.New(new(bytes.Buffer), "", 0), backend, "/ckpt", 1)

		err := testee.OnStep(context.Background(), trainer.StepResult{Step: 1})
		if !errors.Is(err, expected) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestEvaluation(t *testing.T) {
	ev := callbacks.Evaluation{Losses: []float64{1, 2, 3}}
	if got := ev.Mean(); got != 2 {
		t.Errorf("mean: %g", got)
	}
	if got := ev.Perplexity(); got != 7.389 {
		t.Errorf("perplexity: %g", got)
	}
	if !math.IsNaN((callbacks.Evaluation{}).Mean()) {
		t.Error("mean of nothing should be NaN")
	}
}

func TestEvaluator(t *testing.T) {
	t.Run("it evaluates whole dev data every N steps", func(t *testing.T) {
		out := new(bytes.Buffer)
		sink := &recorder{}
		backend := &fakebackend.Backend{
			EvalLoss: func(b dataset.Batch) (float64, error) { return float64(b.Size()), nil },
		}
		data := dataset.NewDataLayer("dev", numbered(5), 2, 1)
		testee := callbacks.NewEvaluator(log.New(out, "", 0), sink, backend, data, 4)

		evaluations := []callbacks.Evaluation{}
		testee.OnEvaluated = func(ev callbacks.Evaluation) { evaluations = append(evaluations, ev) }

		steps(context.Background(), t, testee, 8, func(int) float64 { return 1 })

		if len(backend.Evaluated) != 6 {
			t.Errorf("unexpected evaluated batches: %d", len(backend.Evaluated))
		}
		if len(evaluations) != 2 || evaluations[0].Step != 4 || evaluations[1].Step != 8 {
			t.Fatalf("unexpected evaluations: %+v", evaluations)
		}

		// batches of 2, 2 and 1 examples.
		mean := 5.0 / 3
		ppl := math.Round(math.Exp(mean)*1000) / 1000
		want := []scalar{
			{Tag: callbacks.TagDevLoss, Value: mean, Step: 4},
			{Tag: callbacks.TagDevPerplexity, Value: ppl, Step: 4},
			{Tag: callbacks.TagDevLoss, Value: mean, Step: 8},
			{Tag: callbacks.TagDevPerplexity, Value: ppl, Step: 8},
		}
		if diff := cmp.Diff(want, sink.scalars); diff != "" {
			t.Errorf("scalars (-want +got):\n%s", diff)
		}
		if !strings.Contains(out.String(), "Dev MLM loss: 1.667\n") {
			t.Errorf("unexpected log: %q", out.String())
		}
		if !strings.Contains(out.String(), "Dev MLM perplexity: 5.294\n") {
			t.Errorf("unexpected log: %q", out.String())
		}
	})

	t.Run("backend error stops evaluation", func(t *testing.T) {
		expected := errors.New("fake error")
		backend := &fakebackend.Backend{
			EvalLoss: func(dataset.Batch) (float64, error) { return 0, expected },
		}
		data := dataset.NewDataLayer("dev", numbered(5), 2, 1)
		testee := callbacks.NewEvaluator(log.New(new(bytes.Buffer), "", 0), metrics.Nop{}, backend, data, 1)

		err := testee.OnStep(context.Background(), trainer.StepResult{Step: 1})
		if !errors.Is(err, expected) {
			t.Errorf("unexpected error: %v", err)
		}
		if len(backend.Evaluated) != 1 {
			t.Errorf("unexpected evaluated batches: %d", len(backend.Evaluated))
		}
	})

	t.Run("it writes into a metrics file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "run")
		sink := try.To(metrics.Open(dir)).OrFatal(t)
		defer sink.Close()

		backend := &fakebackend.Backend{}
		data := dataset.NewDataLayer("dev", numbered(3), 3, 1)
		testee := callbacks.NewEvaluator(log.New(new(bytes.Buffer), "", 0), sink, backend, data, 1)
		steps(context.Background(), t, testee, 1, func(int) float64 { return 1 })

		families := try.To(metrics.Read(sink.Path())).OrFatal(t)
		got, ok := metrics.Latest(families, callbacks.TagDevLoss)
		if !ok {
			t.Fatalf("no dev loss: %v", families)
		}
		if want := (metrics.Sample{Run: "run", Value: 2, Step: 1}); got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
}
