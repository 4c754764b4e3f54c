// Package tokenizer loads the subword tokenizer used for pretraining.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Special tokens of BERT.
const (
	Pad  = "[PAD]"
	Unk  = "[UNK]"
	Cls  = "[CLS]"
	Sep  = "[SEP]"
	Mask = "[MASK]"
)

// ErrNoSpecialToken is returned when a tokenizer lacks one of special tokens.
var ErrNoSpecialToken = errors.New("special token is missing")

type Tokenizer interface {
	// VocabSize is the count of tokens, including added special tokens.
	VocabSize() int

	// TextToIds encodes text without framing it with [CLS] and [SEP].
	TextToIds(text string) ([]int, error)

	IdToToken(id int) (string, bool)
	TokenToId(token string) (int, bool)
}

// SpecialIds are ids of special tokens.
type SpecialIds struct {
	Pad  int
	Cls  int
	Sep  int
	Mask int
}

// Has tells whether id is one of special tokens.
func (s SpecialIds) Has(id int) bool {
	return id == s.Pad || id == s.Cls || id == s.Sep || id == s.Mask
}

// Specials looks up ids of special tokens in tok.
func Specials(tok Tokenizer) (SpecialIds, error) {
	ids := SpecialIds{}
	missing := []string{}
	for _, s := range []struct {
		token string
		dest  *int
	}{
		{token: Pad, dest: &ids.Pad},
		{token: Cls, dest: &ids.Cls},
		{token: Sep, dest: &ids.Sep},
		{token: Mask, dest: &ids.Mask},
	} {
		id, ok := tok.TokenToId(s.token)
		if !ok {
			missing = append(missing, s.token)
			continue
		}
		*s.dest = id
	}
	if len(missing) != 0 {
		return SpecialIds{}, fmt.Errorf("%w: %s", ErrNoSpecialToken, strings.Join(missing, ", "))
	}
	return ids, nil
}

// IsContinuation tells whether the token continues the previous word, like "##ing".
func IsContinuation(token string) bool {
	return strings.HasPrefix(token, "##")
}

// AlignedVocabSize rounds raw up to a multiple of multiple.
func AlignedVocabSize(raw int, multiple int) int {
	if multiple <= 1 {
		return raw
	}
	return ((raw + multiple - 1) / multiple) * multiple
}

// Pretrained is a Tokenizer backed by a pretrained tokenizer file.
type Pretrained struct {
	path string
	tok  *tk.Tokenizer
}

var _ Tokenizer = &Pretrained{}

// FromFile loads a tokenizer file (tokenizer.json format) and registers
// [PAD], [MASK], [CLS] and [SEP] as special tokens unless it knows them.
func FromFile(path string) (*Pretrained, error) {
	t, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", path, err)
	}

	specials := []tk.AddedToken{}
	for _, s := range []string{Pad, Mask, Cls, Sep} {
		if _, ok := t.TokenToId(s); ok {
			continue
		}
		specials = append(specials, tk.NewAddedToken(s, true))
	}
	if len(specials) != 0 {
		t.AddSpecialTokens(specials)
	}

	return &Pretrained{path: path, tok: t}, nil
}

func (p *Pretrained) Path() string {
	return p.path
}

func (p *Pretrained) VocabSize() int {
	return p.tok.GetVocabSize(true)
}

func (p *Pretrained) TextToIds(text string) ([]int, error) {
	enc, err := p.tok.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(enc.Ids))
	copy(ids, enc.Ids)
	return ids, nil
}

func (p *Pretrained) IdToToken(id int) (string, bool) {
	return p.tok.IdToToken(id)
}

func (p *Pretrained) TokenToId(token string) (int, bool) {
	return p.tok.TokenToId(token)
}
