// Package wordtok is a whitespace tokenizer over a fixed vocabulary, for tests.
package wordtok

import (
	"strings"

	"github.com/opst/bertpretrain/pkg/tokenizer"
)

type Tokenizer struct {
	tokens []string
	ids    map[string]int
}

var _ tokenizer.Tokenizer = &Tokenizer{}

// New creates Tokenizer. The id of each token is its index.
//
// Words out of vocabulary are encoded as [UNK], if it is in vocabulary.
func New(vocab ...string) *Tokenizer {
	t := &Tokenizer{tokens: vocab, ids: map[string]int{}}
	for i, v := range vocab {
		t.ids[v] = i
	}
	return t
}

// BERT creates Tokenizer with special tokens at 0-4 followed by words.
func BERT(words ...string) *Tokenizer {
	return New(append(
		[]string{tokenizer.Pad, tokenizer.Unk, tokenizer.Cls, tokenizer.Sep, tokenizer.Mask},
		words...,
	)...)
}

func (t *Tokenizer) VocabSize() int {
	return len(t.tokens)
}

func (t *Tokenizer) TextToIds(text string) ([]int, error) {
	ids := []int{}
	unk, hasUnk := t.ids[tokenizer.Unk]
	for _, w := range strings.Fields(text) {
		if id, ok := t.ids[w]; ok {
			ids = append(ids, id)
		} else if hasUnk {
			ids = append(ids, unk)
		}
	}
	return ids, nil
}

func (t *Tokenizer) IdToToken(id int) (string, bool) {
	if id < 0 || len(t.tokens) <= id {
		return "", false
	}
	return t.tokens[id], true
}

func (t *Tokenizer) TokenToId(token string) (int, bool) {
	id, ok := t.ids[token]
	return id, ok
}
