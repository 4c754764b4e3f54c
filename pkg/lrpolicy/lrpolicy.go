// Package lrpolicy provides learning rate schedules.
//
// A Policy maps an optimizer step to a multiplier of the base learning rate.
// Every policy here warms up linearly, then anneals toward 0.
package lrpolicy

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnimplementedPolicy is returned when the policy name is not known.
	ErrUnimplementedPolicy = errors.New("unimplemented lr decay policy")

	// ErrNoSteps is returned when there are no steps to be scheduled.
	ErrNoSteps = errors.New("total steps should be positive")
)

const (
	Poly   = "poly"
	Cosine = "cosine"
	Noam   = "noam"
)

// Names of policies which Select accepts.
func Names() []string {
	return []string{Poly, Cosine, Noam}
}

// Policy returns the learning rate multiplier at the step (0-origin).
type Policy func(step int) float64

// Select builds a Policy.
//
// args:
//
// - name: one of "poly", "cosine" or "noam".
//
// - totalSteps: steps of the whole run. It should be positive.
//
// - warmupRatio: fraction of totalSteps to warm up. Warmup steps are floor(warmupRatio * totalSteps).
//
// returns:
//
// - Policy
//
// - error: ErrUnimplementedPolicy or ErrNoSteps.
func Select(name string, totalSteps int, warmupRatio float64) (Policy, error) {
	if totalSteps <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoSteps, totalSteps)
	}
	if warmupRatio < 0 || 1 <= warmupRatio {
		return nil, fmt.Errorf("warmup ratio should be in [0, 1), but %g", warmupRatio)
	}

	warmup := int(warmupRatio * float64(totalSteps))

	var anneal func(step int) float64
	switch name {
	case Poly:
		anneal = func(step int) float64 {
			s, t := float64(step-warmup), float64(totalSteps-warmup)
			return math.Sqrt((t - s) / t)
		}
	case Cosine:
		anneal = func(step int) float64 {
			s, t := float64(step-warmup), float64(totalSteps-warmup)
			return 0.5 * (1 + math.Cos(math.Pi*s/t))
		}
	case Noam:
		anneal = func(step int) float64 {
			return 1 / math.Sqrt(float64(step+1)/float64(warmup+1))
		}
	default:
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnimplementedPolicy, name, Names())
	}

	return func(step int) float64 {
		if 0 < warmup && step <= warmup {
			return float64(step+1) / float64(warmup+1)
		}
		if totalSteps <= step {
			return 0
		}
		return anneal(step)
	}, nil
}

// StepsPerEpoch is the count of optimizer steps to consume a dataset once.
//
// Each step takes batchSize * numGPUs * batchesPerStep examples.
// Remainders are dropped.
func StepsPerEpoch(datasetSize, batchSize, numGPUs, batchesPerStep int) int {
	perStep := batchSize * numGPUs * batchesPerStep
	if perStep <= 0 {
		return 0
	}
	return datasetSize / perStep
}
