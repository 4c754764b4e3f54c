// Package modules declares building blocks of the pretraining graph.
//
// Modules here carry hyperparameters and parameter handles. Their
// computations run on the training worker.
package modules

import (
	"errors"
	"fmt"
)

// ErrInvalidHyperparameter is returned when a module cannot be built with given values.
var ErrInvalidHyperparameter = errors.New("invalid hyperparameter")

type Kind string

const (
	KindEncoder        Kind = "bert_encoder"
	KindMLMLogSoftmax  Kind = "mlm_log_softmax"
	KindMLMLoss        Kind = "mlm_loss"
	KindNSPLogSoftmax  Kind = "nsp_log_softmax"
	KindNSPLoss        Kind = "nsp_loss"
	KindLossAggregator Kind = "loss_aggregator"
)

type Module interface {
	Kind() Kind

	// Hyperparameters to build the module on the training worker.
	Hyperparameters() map[string]any

	// Parameters which the module owns or shares.
	Parameters() []*Parameter
}

// EncoderConfig is hyperparameters of BERT encoder.
type EncoderConfig struct {
	VocabSize         int
	DModel            int
	DInner            int
	NumLayers         int
	NumHeads          int
	MaxSequenceLength int
	HiddenAct         string

	EmbeddingDropout float64
	FFNDropout       float64
	AttnScoreDropout float64
	AttnLayerDropout float64
}

// Encoder is a BERT transformer encoder.
type Encoder struct {
	config EncoderConfig

	WordEmbeddings *Parameter
}

func NewEncoder(config EncoderConfig) (*Encoder, error) {
	for _, v := range []struct {
		name  string
		value int
	}{
		{name: "vocab size", value: config.VocabSize},
		{name: "d_model", value: config.DModel},
		{name: "d_inner", value: config.DInner},
		{name: "num_layers", value: config.NumLayers},
		{name: "num_heads", value: config.NumHeads},
		{name: "max sequence length", value: config.MaxSequenceLength},
	} {
		if v.value <= 0 {
			return nil, fmt.Errorf("%w: %s should be positive, but %d", ErrInvalidHyperparameter, v.name, v.value)
		}
	}
	if config.DModel%config.NumHeads != 0 {
		return nil, fmt.Errorf(
			"%w: d_model (%d) is not divisible by num_heads (%d)",
			ErrInvalidHyperparameter, config.DModel, config.NumHeads,
		)
	}
	if config.HiddenAct == "" {
		config.HiddenAct = "gelu"
	}

	return &Encoder{
		config:         config,
		WordEmbeddings: NewParameter("bert.embeddings.word_embeddings.weight", config.VocabSize, config.DModel),
	}, nil
}

func (e *Encoder) Config() EncoderConfig {
	return e.config
}

func (*Encoder) Kind() Kind {
	return KindEncoder
}

func (e *Encoder) Hyperparameters() map[string]any {
	c := e.config
	return map[string]any{
		"vocab_size":         c.VocabSize,
		"d_model":            c.DModel,
		"d_inner":            c.DInner,
		"num_layers":         c.NumLayers,
		"num_heads":          c.NumHeads,
		"max_seq_length":     c.MaxSequenceLength,
		"hidden_act":         c.HiddenAct,
		"embedding_dropout":  c.EmbeddingDropout,
		"ffn_dropout":        c.FFNDropout,
		"attn_score_dropout": c.AttnScoreDropout,
		"attn_layer_dropout": c.AttnLayerDropout,
	}
}

func (e *Encoder) Parameters() []*Parameter {
	return []*Parameter{e.WordEmbeddings}
}

// MLMLogSoftmax projects hidden states onto the vocabulary.
type MLMLogSoftmax struct {
	vocabSize int
	dModel    int

	// Weight is [vocab size x d_model]. It is usually tied with Encoder.WordEmbeddings.
	Weight *Parameter
	Bias   *Parameter
}

func NewMLMLogSoftmax(vocabSize, dModel int) (*MLMLogSoftmax, error) {
	if vocabSize <= 0 || dModel <= 0 {
		return nil, fmt.Errorf(
			"%w: vocab size and d_model should be positive, but (%d, %d)",
			ErrInvalidHyperparameter, vocabSize, dModel,
		)
	}
	return &MLMLogSoftmax{
		vocabSize: vocabSize,
		dModel:    dModel,
		Weight:    NewParameter("mlm.log_softmax.dense.weight", vocabSize, dModel),
		Bias:      NewParameter("mlm.log_softmax.dense.bias", 1, vocabSize),
	}, nil
}

func (*MLMLogSoftmax) Kind() Kind {
	return KindMLMLogSoftmax
}

func (m *MLMLogSoftmax) Hyperparameters() map[string]any {
	return map[string]any{"vocab_size": m.vocabSize, "d_model": m.dModel}
}

func (m *MLMLogSoftmax) Parameters() []*Parameter {
	return []*Parameter{m.Weight, m.Bias}
}

// NSPLogSoftmax classifies the [CLS] hidden state into is-next or not.
type NSPLogSoftmax struct {
	dModel     int
	numClasses int

	Weight *Parameter
	Bias   *Parameter
}

func NewNSPLogSoftmax(dModel, numClasses int) (*NSPLogSoftmax, error) {
	if dModel <= 0 || numClasses < 2 {
		return nil, fmt.Errorf(
			"%w: d_model should be positive and num_classes should be 2 or more, but (%d, %d)",
			ErrInvalidHyperparameter, dModel, numClasses,
		)
	}
	return &NSPLogSoftmax{
		dModel:     dModel,
		numClasses: numClasses,
		Weight:     NewParameter("nsp.log_softmax.dense.weight", numClasses, dModel),
		Bias:       NewParameter("nsp.log_softmax.dense.bias", 1, numClasses),
	}, nil
}

func (*NSPLogSoftmax) Kind() Kind {
	return KindNSPLogSoftmax
}

func (n *NSPLogSoftmax) Hyperparameters() map[string]any {
	return map[string]any{"d_model": n.dModel, "num_classes": n.numClasses}
}

func (n *NSPLogSoftmax) Parameters() []*Parameter {
	return []*Parameter{n.Weight, n.Bias}
}

// MLMLoss is the mean negative log likelihood over masked positions.
type MLMLoss struct{}

func (MLMLoss) Kind() Kind                      { return KindMLMLoss }
func (MLMLoss) Hyperparameters() map[string]any { return map[string]any{} }
func (MLMLoss) Parameters() []*Parameter        { return nil }

// NSPLoss is the negative log likelihood of is-next labels.
type NSPLoss struct{}

func (NSPLoss) Kind() Kind                      { return KindNSPLoss }
func (NSPLoss) Hyperparameters() map[string]any { return map[string]any{} }
func (NSPLoss) Parameters() []*Parameter        { return nil }

// LossAggregator sums its input losses.
type LossAggregator struct {
	numInputs int
}

func NewLossAggregator(numInputs int) (*LossAggregator, error) {
	if numInputs < 1 {
		return nil, fmt.Errorf("%w: num_inputs should be positive, but %d", ErrInvalidHyperparameter, numInputs)
	}
	return &LossAggregator{numInputs: numInputs}, nil
}

func (a *LossAggregator) NumInputs() int {
	return a.numInputs
}

func (*LossAggregator) Kind() Kind {
	return KindLossAggregator
}

func (a *LossAggregator) Hyperparameters() map[string]any {
	return map[string]any{"num_inputs": a.numInputs}
}

func (*LossAggregator) Parameters() []*Parameter {
	return nil
}
