package run

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opst/bertpretrain/pkg/utils/pointer"
)

// ErrInvalidConfig is returned when flags have a value out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// RunConfig is the sealed, readonly configuration of a pretraining run.
//
// To get RunConfig, use Flags.Seal.
type RunConfig struct {
	localRank          OptionalInt
	lr                 float64
	beta2              float64
	optimizer          string
	lrDecayPolicy      string
	lrWarmupProportion float64
	weightDecay        float64

	batchSize         int
	evalBatchSize     int
	maxSequenceLength int
	maskProbability   float64

	dModel           int
	dInner           int
	numLayers        int
	numHeads         int
	numGPUs          int
	numEpochs        int
	embeddingDropout float64
	ffnDropout       float64
	attnScoreDropout float64
	attnLayerDropout float64

	convKernelSize    int
	convWeightDropout float64
	convLayerDropout  float64

	tokenizerModel               string
	datasetDir                   string
	devDatasetDir                string
	trainSentenceIndicesFilename string
	devSentenceIndicesFilename   string

	checkpointDirectory     string
	checkpointSaveFrequency int
	explicitName            string

	precision    Precision
	batchPerStep int
	objectives   Objectives
	seed         int

	worker         []string
	metricsEnabled bool
	dryRun         bool
}

// Seal verifies flags and creates readonly RunConfig.
//
// Every violation found is reported in one error wrapping ErrInvalidConfig.
func (f Flags) Seal() (*RunConfig, error) {
	v := &violations{}

	precision := pointer.DerefOr(f.FP16, O0)
	localRank := pointer.DerefOr(f.LocalRank, OptionalInt{})
	objectives := append(Objectives{}, pointer.DerefOr(f.Objectives, Objectives{MLM})...)

	conf := &RunConfig{
		localRank:          localRank,
		lr:                 v.positiveF(f.LR, "lr"),
		beta2:              v.unit(f.Beta2, "beta2"),
		optimizer:          v.required(f.Optimizer, "optimizer"),
		lrDecayPolicy:      v.required(f.LRDecayPolicy, "lr-decay-policy"),
		lrWarmupProportion: v.unit(f.LRWarmupProportion, "lr-warmup-proportion"),
		weightDecay:        v.nonnegative(f.WeightDecay, "weight-decay"),

		batchSize:         v.positive(f.BatchSize, "batch-size"),
		evalBatchSize:     v.positive(f.EvalBatchSize, "eval-batch-size"),
		maxSequenceLength: v.atLeast(f.MaxSequenceLength, 5, "max-sequence-length"),
		maskProbability:   v.unit(f.MaskProbability, "mask-probability"),

		dModel:           v.positive(f.DModel, "d-model"),
		dInner:           v.positive(f.DInner, "d-inner"),
		numLayers:        v.positive(f.NumLayers, "num-layers"),
		numHeads:         v.positive(f.NumHeads, "num-heads"),
		numGPUs:          v.positive(f.NumGPUs, "num-gpus"),
		numEpochs:        v.positive(f.NumEpochs, "num-epochs"),
		embeddingDropout: v.unit(f.EmbeddingDropout, "embedding-dropout"),
		ffnDropout:       v.unit(f.FFNDropout, "ffn-dropout"),
		attnScoreDropout: v.unit(f.AttnScoreDropout, "attn-score-dropout"),
		attnLayerDropout: v.unit(f.AttnLayerDropout, "attn-layer-dropout"),

		convKernelSize:    v.positive(f.ConvKernelSize, "conv-kernel-size"),
		convWeightDropout: v.unit(f.ConvWeightDropout, "conv-weight-dropout"),
		convLayerDropout:  v.unit(f.ConvLayerDropout, "conv-layer-dropout"),

		tokenizerModel:               v.required(f.TokenizerModel, "tokenizer-model"),
		datasetDir:                   v.required(f.DatasetDir, "dataset-dir"),
		devDatasetDir:                v.required(f.DevDatasetDir, "dev-dataset-dir"),
		trainSentenceIndicesFilename: v.required(f.TrainSentenceIndicesFilename, "train-sentence-indices-filename"),
		devSentenceIndicesFilename:   v.required(f.DevSentenceIndicesFilename, "dev-sentence-indices-filename"),

		checkpointDirectory:     v.required(f.CheckpointDirectory, "checkpoint-directory"),
		checkpointSaveFrequency: v.positive(f.CheckpointSaveFrequency, "checkpoint-save-frequency"),
		explicitName:            f.TensorboardFilename,

		precision:    precision,
		batchPerStep: v.positive(f.BatchPerStep, "batch-per-step"),
		objectives:   objectives,
		seed:         f.Seed,

		worker:         strings.Fields(f.Worker),
		metricsEnabled: !f.NoMetrics,
		dryRun:         f.DryRun,
	}

	if 0 < f.NumHeads && f.DModel%f.NumHeads != 0 {
		v.add("d-model (%d) should be a multiple of num-heads (%d)", f.DModel, f.NumHeads)
	}
	if len(objectives) == 0 {
		v.add("objectives should not be empty")
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return conf, nil
}

type violations struct {
	messages []string
}

func (v *violations) add(format string, args ...any) {
	v.messages = append(v.messages, fmt.Sprintf(format, args...))
}

func (v *violations) err() error {
	if len(v.messages) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(v.messages, "; "))
}

func (v *violations) required(s string, name string) string {
	if strings.TrimSpace(s) == "" {
		v.add("%s is required", name)
	}
	return s
}

func (v *violations) positive(n int, name string) int {
	return v.atLeast(n, 1, name)
}

func (v *violations) atLeast(n int, min int, name string) int {
	if n < min {
		v.add("%s should be %d or more, but %d", name, min, n)
	}
	return n
}

func (v *violations) positiveF(x float64, name string) float64 {
	if !(0 < x) {
		v.add("%s should be positive, but %g", name, x)
	}
	return x
}

func (v *violations) nonnegative(x float64, name string) float64 {
	if !(0 <= x) {
		v.add("%s should not be negative, but %g", name, x)
	}
	return x
}

// unit checks 0 <= x < 1.
func (v *violations) unit(x float64, name string) float64 {
	if !(0 <= x && x < 1) {
		v.add("%s should be in [0, 1), but %g", name, x)
	}
	return x
}

// LocalRank returns the rank in distributed training, if configured.
func (c *RunConfig) LocalRank() (int, bool) {
	return c.localRank.Get()
}

// Distributed is true when the run is one of processes of distributed training.
func (c *RunConfig) Distributed() bool {
	_, ok := c.localRank.Get()
	return ok
}

func (c *RunConfig) LR() float64 {
	return c.lr
}

func (c *RunConfig) Beta2() float64 {
	return c.beta2
}

// Betas returns optimizer betas. The first one is fixed to 0.95.
func (c *RunConfig) Betas() [2]float64 {
	return [2]float64{0.95, c.beta2}
}

func (c *RunConfig) Optimizer() string {
	return c.optimizer
}

func (c *RunConfig) LRDecayPolicy() string {
	return c.lrDecayPolicy
}

func (c *RunConfig) LRWarmupProportion() float64 {
	return c.lrWarmupProportion
}

func (c *RunConfig) WeightDecay() float64 {
	return c.weightDecay
}

func (c *RunConfig) BatchSize() int {
	return c.batchSize
}

func (c *RunConfig) EvalBatchSize() int {
	return c.evalBatchSize
}

func (c *RunConfig) MaxSequenceLength() int {
	return c.maxSequenceLength
}

func (c *RunConfig) MaskProbability() float64 {
	return c.maskProbability
}

func (c *RunConfig) DModel() int {
	return c.dModel
}

func (c *RunConfig) DInner() int {
	return c.dInner
}

func (c *RunConfig) NumLayers() int {
	return c.numLayers
}

func (c *RunConfig) NumHeads() int {
	return c.numHeads
}

func (c *RunConfig) NumGPUs() int {
	return c.numGPUs
}

func (c *RunConfig) NumEpochs() int {
	return c.numEpochs
}

func (c *RunConfig) EmbeddingDropout() float64 {
	return c.embeddingDropout
}

func (c *RunConfig) FFNDropout() float64 {
	return c.ffnDropout
}

func (c *RunConfig) AttnScoreDropout() float64 {
	return c.attnScoreDropout
}

func (c *RunConfig) AttnLayerDropout() float64 {
	return c.attnLayerDropout
}

func (c *RunConfig) ConvKernelSize() int {
	return c.convKernelSize
}

func (c *RunConfig) ConvWeightDropout() float64 {
	return c.convWeightDropout
}

func (c *RunConfig) ConvLayerDropout() float64 {
	return c.convLayerDropout
}

func (c *RunConfig) TokenizerModel() string {
	return c.tokenizerModel
}

func (c *RunConfig) DatasetDir() string {
	return c.datasetDir
}

func (c *RunConfig) DevDatasetDir() string {
	return c.devDatasetDir
}

func (c *RunConfig) TrainSentenceIndicesFilename() string {
	return c.trainSentenceIndicesFilename
}

func (c *RunConfig) DevSentenceIndicesFilename() string {
	return c.devSentenceIndicesFilename
}

func (c *RunConfig) CheckpointDirectory() string {
	return c.checkpointDirectory
}

func (c *RunConfig) CheckpointSaveFrequency() int {
	return c.checkpointSaveFrequency
}

// ExplicitName returns the run name given by flag, if any.
func (c *RunConfig) ExplicitName() (string, bool) {
	return c.explicitName, c.explicitName != ""
}

func (c *RunConfig) Precision() Precision {
	return c.precision
}

func (c *RunConfig) BatchPerStep() int {
	return c.batchPerStep
}

// Objectives returns objectives summed into the training loss.
func (c *RunConfig) Objectives() Objectives {
	return append(Objectives{}, c.objectives...)
}

func (c *RunConfig) Seed() int {
	return c.seed
}

// Worker returns the command line of the training worker, split by spaces.
func (c *RunConfig) Worker() []string {
	return append([]string{}, c.worker...)
}

func (c *RunConfig) MetricsEnabled() bool {
	return c.metricsEnabled
}

func (c *RunConfig) DryRun() bool {
	return c.dryRun
}
