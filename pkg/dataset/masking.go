package dataset

import (
	"github.com/opst/bertpretrain/pkg/tokenizer"
)

// words groups positions of ids into words: a token and its "##" continuations.
//
// A continuation just after a special token starts a new word.
func (d *Dataset) words(ids []int) [][]int {
	words := [][]int{}
	for i, id := range ids {
		if 0 < i && !d.specials.Has(ids[i-1]) {
			if tok, ok := d.tok.IdToToken(id); ok && tokenizer.IsContinuation(tok) {
				words[len(words)-1] = append(words[len(words)-1], i)
				continue
			}
		}
		words = append(words, []int{i})
	}
	return words
}

// mask masks words in ids with the probability MaskProbability.
//
// A masked word is replaced with [MASK] 80% of the time, with random tokens 10%
// of the time, and kept as is for the rest. Special tokens are never masked.
//
// returns:
//
// - []int: masked ids. ids is not modified.
//
// - []int: 1 at masked positions, 0 at others.
func (d *Dataset) mask(ids []int) ([]int, []int) {
	masked := make([]int, len(ids), cap(ids))
	copy(masked, ids)
	outputMask := make([]int, len(ids), cap(ids))

	for _, word := range d.words(ids) {
		if d.specials.Has(ids[word[0]]) || d.opts.MaskProbability <= d.rng.Float64() {
			continue
		}

		for _, i := range word {
			outputMask[i] = 1
		}
		switch p := d.rng.Float64(); {
		case p < 0.8:
			for _, i := range word {
				masked[i] = d.specials.Mask
			}
		case p < 0.9:
			for _, i := range word {
				masked[i] = d.randomToken()
			}
		}
	}
	return masked, outputMask
}

// randomToken draws a non-special token. If it fails to, it gives [MASK].
func (d *Dataset) randomToken() int {
	vocab := d.tok.VocabSize()
	for range 64 {
		id := d.rng.IntN(vocab)
		if !d.specials.Has(id) {
			return id
		}
	}
	return d.specials.Mask
}
