// Package runname names a pretraining run.
//
// The name is used as the directory of the run log and as a label of
// every recorded metric.
package runname

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/opst/bertpretrain/pkg/configs/run"
)

// Derive builds a name from hyperparameters of the run, like
//
//	BERT-H12-D768-lr0.01-optnovograd-warmupcosine-bs64-e10-b20.25
//
// Same configurations always result in the same name.
func Derive(cfg *run.RunConfig) string {
	return fmt.Sprintf(
		"BERT-H%d-D%d-lr%s-opt%s-warmup%s-bs%d-e%d-b2%s",
		cfg.NumHeads(),
		cfg.DModel(),
		formatFloat(cfg.LR()),
		cfg.Optimizer(),
		cfg.LRDecayPolicy(),
		cfg.BatchSize(),
		cfg.NumEpochs(),
		formatFloat(cfg.Beta2()),
	)
}

// Resolve returns the explicit name of the run if given. Otherwise, Derive.
func Resolve(cfg *run.RunConfig) string {
	if name, ok := cfg.ExplicitName(); ok {
		return name
	}
	return Derive(cfg)
}

// formatFloat renders v in its shortest form, keeping ".0" for integral values.
//
// Exponent form is used only for |v| < 1e-4 or 1e16 <= |v|.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}

	var s string
	if abs := math.Abs(v); abs == 0 || (1e-4 <= abs && abs < 1e16) {
		s = strconv.FormatFloat(v, 'f', -1, 64)
	} else {
		s = strconv.FormatFloat(v, 'g', -1, 64)
	}
	if strings.ContainsAny(s, ".e") {
		return s
	}
	return s + ".0"
}
