package modules

import (
	"encoding/json"
	"io"
)

// BertConfig is the model configuration in the format of Hugging Face's
// BertConfig (bert-config.json).
type BertConfig struct {
	VocabSize                 int     `json:"vocab_size"`
	HiddenSize                int     `json:"hidden_size"`
	NumHiddenLayers           int     `json:"num_hidden_layers"`
	NumAttentionHeads         int     `json:"num_attention_heads"`
	IntermediateSize          int     `json:"intermediate_size"`
	HiddenAct                 string  `json:"hidden_act"`
	HiddenDropoutProb         float64 `json:"hidden_dropout_prob"`
	AttentionProbsDropoutProb float64 `json:"attention_probs_dropout_prob"`
	MaxPositionEmbeddings     int     `json:"max_position_embeddings"`
	TypeVocabSize             int     `json:"type_vocab_size"`
	InitializerRange          float64 `json:"initializer_range"`
	LayerNormEps              float64 `json:"layer_norm_eps"`
}

// BertConfig describes the encoder as BertConfig.
func (e *Encoder) BertConfig() BertConfig {
	c := e.config
	return BertConfig{
		VocabSize:                 c.VocabSize,
		HiddenSize:                c.DModel,
		NumHiddenLayers:           c.NumLayers,
		NumAttentionHeads:         c.NumHeads,
		IntermediateSize:          c.DInner,
		HiddenAct:                 c.HiddenAct,
		HiddenDropoutProb:         c.FFNDropout,
		AttentionProbsDropoutProb: c.AttnScoreDropout,
		MaxPositionEmbeddings:     c.MaxSequenceLength,
		TypeVocabSize:             2,
		InitializerRange:          0.02,
		LayerNormEps:              1e-12,
	}
}

// WriteJSON writes c as indented JSON, terminated with a newline.
func (c BertConfig) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
