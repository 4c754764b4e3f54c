package lrpolicy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/opst/bertpretrain/pkg/lrpolicy"
	"github.com/opst/bertpretrain/pkg/utils/try"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSelect(t *testing.T) {
	t.Run("every policy is non negative and peaks at end of warmup", func(t *testing.T) {
		for _, name := range lrpolicy.Names() {
			for _, total := range []int{1, 2, 10, 97, 1000} {
				for _, ratio := range []float64{0, 0.05, 0.1, 0.5} {
					policy := try.To(lrpolicy.Select(name, total, ratio)).OrFatal(t)
					warmup := int(ratio * float64(total))

					for step := range total {
						if v := policy(step); v < 0 || math.IsNaN(v) {
							t.Errorf("%s (total=%d, ratio=%g): negative at %d: %g", name, total, ratio, step, v)
						}
					}
					if v := policy(warmup); !near(v, 1) {
						t.Errorf("%s (total=%d, ratio=%g): not 1.0 at end of warmup: %g", name, total, ratio, v)
					}
				}
			}
		}
	})

	t.Run("warmup increases linearly", func(t *testing.T) {
		for _, name := range lrpolicy.Names() {
			policy := try.To(lrpolicy.Select(name, 100, 0.09)).OrFatal(t)
			for step := range 10 {
				want := float64(step+1) / 10
				if got := policy(step); !near(got, want) {
					t.Errorf("%s: step %d: got %g, want %g", name, step, got, want)
				}
			}
		}
	})

	t.Run("it decays after warmup", func(t *testing.T) {
		type When struct {
			name string
			step int
		}
		theory := func(when When, want float64) func(*testing.T) {
			return func(t *testing.T) {
				// total 120, warmup 30
				policy := try.To(lrpolicy.Select(when.name, 120, 0.25)).OrFatal(t)
				if got := policy(when.step); !near(got, want) {
					t.Errorf("got %g, want %g", got, want)
				}
			}
		}

		t.Run("poly at middle", theory(When{name: "poly", step: 75}, math.Sqrt(0.5)))
		t.Run("poly at last", theory(When{name: "poly", step: 119}, math.Sqrt(1.0/90)))
		t.Run("cosine at middle", theory(When{name: "cosine", step: 75}, 0.5))
		t.Run("cosine at one third", theory(When{name: "cosine", step: 60}, 0.75))
		t.Run("noam", theory(When{name: "noam", step: 61}, 1/math.Sqrt2))
	})

	t.Run("it is 0 beyond total steps", func(t *testing.T) {
		for _, name := range lrpolicy.Names() {
			policy := try.To(lrpolicy.Select(name, 50, 0.1)).OrFatal(t)
			for _, step := range []int{50, 51, 1000} {
				if got := policy(step); got != 0 {
					t.Errorf("%s: step %d: got %g", name, step, got)
				}
			}
		}
	})

	t.Run("it rejects unknown policies", func(t *testing.T) {
		for _, name := range []string{"", "linear", "Cosine", "poly "} {
			for _, total := range []int{1, 100} {
				_, err := lrpolicy.Select(name, total, 0.05)
				if !errors.Is(err, lrpolicy.ErrUnimplementedPolicy) {
					t.Errorf("%q: unexpected error: %v", name, err)
				}
			}
		}
	})

	t.Run("it rejects non positive total steps", func(t *testing.T) {
		for _, total := range []int{0, -1} {
			_, err := lrpolicy.Select("cosine", total, 0.05)
			if !errors.Is(err, lrpolicy.ErrNoSteps) {
				t.Errorf("%d: unexpected error: %v", total, err)
			}
		}
	})
}

func TestStepsPerEpoch(t *testing.T) {
	type When struct {
		size, batch, gpus, perStep int
	}
	theory := func(when When, want int) func(*testing.T) {
		return func(t *testing.T) {
			got := lrpolicy.StepsPerEpoch(when.size, when.batch, when.gpus, when.perStep)
			if got != want {
				t.Errorf("got %d, want %d", got, want)
			}
		}
	}

	t.Run("divisible", theory(When{size: 6400, batch: 64, gpus: 1, perStep: 1}, 100))
	t.Run("remainder is dropped", theory(When{size: 6463, batch: 64, gpus: 1, perStep: 1}, 100))
	t.Run("multi gpu and accumulation", theory(When{size: 6400, batch: 64, gpus: 2, perStep: 5}, 10))
	t.Run("too small dataset", theory(When{size: 10, batch: 64, gpus: 1, perStep: 1}, 0))
	t.Run("no batch", theory(When{size: 10, batch: 0, gpus: 1, perStep: 1}, 0))
}
