package run

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvDefaults names the environment variable pointing a YAML file which
// overrides DefaultFlags before command line flags are parsed.
const EnvDefaults = "BERT_PRETRAINING_CONFIG"

// Flags is the command line of bert_pretraining.
//
// Fields are also decoded from YAML (keys are yaml tags) by LoadDefaults.
type Flags struct {
	LocalRank          *OptionalInt `flag:"local-rank" yaml:"local_rank" help:"rank of this process in distributed training. leave unset for single process."`
	LR                 float64      `flag:"lr" yaml:"lr" help:"base learning rate"`
	Beta2              float64      `flag:"beta2" yaml:"beta2" help:"second beta of the optimizer (the first one is 0.95)"`
	Optimizer          string       `flag:"optimizer" yaml:"optimizer" help:"optimizer name passed to the trainer"`
	LRDecayPolicy      string       `flag:"lr-decay-policy" yaml:"lr_decay_policy" help:"learning rate policy: poly, cosine or noam"`
	LRWarmupProportion float64      `flag:"lr-warmup-proportion" yaml:"lr_warmup_proportion" help:"fraction of total steps to warm up"`
	WeightDecay        float64      `flag:"weight-decay" yaml:"weight_decay" help:"weight decay"`

	BatchSize         int     `flag:"batch-size" yaml:"batch_size" help:"training batch size per GPU"`
	EvalBatchSize     int     `flag:"eval-batch-size" yaml:"eval_batch_size" help:"evaluation batch size"`
	MaxSequenceLength int     `flag:"max-sequence-length" yaml:"max_sequence_length" help:"max tokens in a sequence pair, including [CLS] and [SEP]"`
	MaskProbability   float64 `flag:"mask-probability" yaml:"mask_probability" help:"probability for a word to be masked"`

	DModel           int     `flag:"d-model" yaml:"d_model" help:"hidden size of the encoder"`
	DInner           int     `flag:"d-inner" yaml:"d_inner" help:"inner size of feed forward layers"`
	NumLayers        int     `flag:"num-layers" yaml:"num_layers" help:"number of encoder layers"`
	NumHeads         int     `flag:"num-heads" yaml:"num_heads" help:"number of attention heads"`
	NumGPUs          int     `flag:"num-gpus" yaml:"num_gpus" help:"number of GPUs taking part in training"`
	NumEpochs        int     `flag:"num-epochs" yaml:"num_epochs" help:"number of epochs"`
	EmbeddingDropout float64 `flag:"embedding-dropout" yaml:"embedding_dropout" help:"dropout on embeddings"`
	FFNDropout       float64 `flag:"ffn-dropout" yaml:"ffn_dropout" help:"dropout on feed forward layers"`
	AttnScoreDropout float64 `flag:"attn-score-dropout" yaml:"attn_score_dropout" help:"dropout on attention scores"`
	AttnLayerDropout float64 `flag:"attn-layer-dropout" yaml:"attn_layer_dropout" help:"dropout on attention outputs"`

	ConvKernelSize    int     `flag:"conv-kernel-size" yaml:"conv_kernel_size" help:"kernel size for convolutional encoders"`
	ConvWeightDropout float64 `flag:"conv-weight-dropout" yaml:"conv_weight_dropout" help:"weight dropout for convolutional encoders"`
	ConvLayerDropout  float64 `flag:"conv-layer-dropout" yaml:"conv_layer_dropout" help:"layer dropout for convolutional encoders"`

	TokenizerModel               string `flag:"tokenizer-model" yaml:"tokenizer_model" help:"path to the tokenizer file"`
	DatasetDir                   string `flag:"dataset-dir" yaml:"dataset_dir" help:"directory of training text files"`
	DevDatasetDir                string `flag:"dev-dataset-dir" yaml:"dev_dataset_dir" help:"directory of evaluation text files"`
	TrainSentenceIndicesFilename string `flag:"train-sentence-indices-filename" yaml:"train_sentence_indices_filename" help:"sentence index cache in the training dataset directory"`
	DevSentenceIndicesFilename   string `flag:"dev-sentence-indices-filename" yaml:"dev_sentence_indices_filename" help:"sentence index cache in the evaluation dataset directory"`

	CheckpointDirectory     string `flag:"checkpoint-directory" yaml:"checkpoint_directory" help:"directory for checkpoints and model config"`
	CheckpointSaveFrequency int    `flag:"checkpoint-save-frequency" yaml:"checkpoint_save_frequency" help:"save a checkpoint every N steps"`
	TensorboardFilename     string `flag:"tensorboard-filename" yaml:"tensorboard_filename" help:"run name. derived from hyperparameters if empty"`

	FP16         *Precision  `flag:"fp16" yaml:"fp16" help:"mixed precision level: 0 (off), 1, 2 or 3"`
	BatchPerStep int         `flag:"batch-per-step" yaml:"batch_per_step" help:"micro batches accumulated per optimizer step"`
	Objectives   *Objectives `flag:"objectives" yaml:"objectives" help:"objectives summed into training loss: mlm, nsp or mlm,nsp"`
	Seed         int         `flag:"seed" yaml:"seed" help:"random seed for data sampling. 0 picks one from the clock"`

	Worker    string `flag:"worker" yaml:"worker" help:"command line of the training worker process"`
	NoMetrics bool   `flag:"no-metrics" yaml:"no_metrics" help:"disable metric logging"`
	DryRun    bool   `flag:"dry-run" yaml:"dry_run" help:"prepare checkpoint directory and pipeline manifest, then exit"`
	Version   bool   `flag:"version" yaml:"-" help:"show version"`
	License   bool   `flag:"license" yaml:"-" help:"show licenses of dependencies"`
}

// DefaultFlags returns defaults of the command line.
//
// Each call returns fresh pointer fields.
func DefaultFlags() Flags {
	return Flags{
		LocalRank:          Unset(),
		LR:                 0.01,
		Beta2:              0.25,
		Optimizer:          "novograd",
		LRDecayPolicy:      "cosine",
		LRWarmupProportion: 0.05,
		WeightDecay:        0.0,

		BatchSize:         64,
		EvalBatchSize:     16,
		MaxSequenceLength: 128,
		MaskProbability:   0.15,

		DModel:           768,
		DInner:           3072,
		NumLayers:        12,
		NumHeads:         12,
		NumGPUs:          1,
		NumEpochs:        10,
		EmbeddingDropout: 0.1,
		FFNDropout:       0.1,
		AttnScoreDropout: 0.1,
		AttnLayerDropout: 0.1,

		ConvKernelSize:    7,
		ConvWeightDropout: 0.1,
		ConvLayerDropout:  0.1,

		TokenizerModel:               "tokenizer.model",
		DatasetDir:                   "./pubmed-corpus",
		DevDatasetDir:                "./pubmed-corpus-test",
		TrainSentenceIndicesFilename: "train_sentence_indices.pkl",
		DevSentenceIndicesFilename:   "dev_sentence_indices.pkl",

		CheckpointDirectory:     "./checkpoint",
		CheckpointSaveFrequency: 25000,

		FP16:         new(Precision),
		BatchPerStep: 1,
		Objectives:   &Objectives{MLM},
	}
}

// clone copies f, not sharing pointer fields.
func (f Flags) clone() Flags {
	c := f
	if f.LocalRank != nil {
		lr := *f.LocalRank
		c.LocalRank = &lr
	}
	if f.FP16 != nil {
		p := *f.FP16
		c.FP16 = &p
	}
	if f.Objectives != nil {
		o := append(Objectives{}, (*f.Objectives)...)
		c.Objectives = &o
	}
	return c
}

// LoadDefaults overrides base with values in a YAML file.
//
// Keys missing in the file keep values in base. base is not modified.
func LoadDefaults(filepath string, base Flags) (Flags, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return base, err
	}
	return UnmarshalDefaults(content, base)
}

// UnmarshalDefaults is LoadDefaults for in-memory YAML.
func UnmarshalDefaults(content []byte, base Flags) (Flags, error) {
	out := base.clone()
	if err := yaml.Unmarshal(content, &out); err != nil {
		return base, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return out, nil
}

// DefaultFlagsFromEnv returns DefaultFlags overridden by the file named
// in EnvDefaults, if set.
func DefaultFlagsFromEnv() (Flags, error) {
	defaults := DefaultFlags()
	path := os.Getenv(EnvDefaults)
	if path == "" {
		return defaults, nil
	}
	return LoadDefaults(path, defaults)
}
