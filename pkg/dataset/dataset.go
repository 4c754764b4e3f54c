// Package dataset generates BERT pretraining examples from plain text files.
//
// A dataset directory holds text files, one sentence per line. Each example
// is a pair of sentences framed as "[CLS] A [SEP] B [SEP]", masked for
// masked language modeling and labelled for next sentence prediction.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opst/bertpretrain/pkg/tokenizer"
)

// Example is one training example. Every slice has length of max sequence length.
type Example struct {
	InputIds     []int
	InputTypeIds []int
	InputMask    []int
	OutputIds    []int
	OutputMask   []int

	// IsNext is 1 if B follows A in the corpus, 0 if B is a random sentence.
	IsNext int
}

type Options struct {
	// MaxSequenceLength is the length of examples, including [CLS] and 2 [SEP].
	MaxSequenceLength int

	// MaskProbability is the probability of a word to be masked.
	MaskProbability float64

	// ShortSeqProbability is the probability to make a pair shorter than the max.
	// Defaults to 0.1 when 0.
	ShortSeqProbability float64

	// SeqARatio is the share of sentence A in the target length.
	// Defaults to 0.6 when 0.
	SeqARatio float64

	// Exclude names files in the directory which are not part of the dataset,
	// like sentence index caches of other datasets sharing the directory.
	Exclude []string

	Seed uint64
}

// Dataset is a set of sentences indexed by SentenceIndex.
//
// Dataset is not safe for concurrent use.
type Dataset struct {
	dir      string
	index    *SentenceIndex
	files    []*os.File
	cumsum   []int
	tok      tokenizer.Tokenizer
	specials tokenizer.SpecialIds
	opts     Options
	rng      *rand.Rand
}

// Open opens a dataset in dir. Its sentence index is loaded from, or built into, dir/indexFilename.
func Open(logger *log.Logger, dir string, indexFilename string, tok tokenizer.Tokenizer, opts Options) (*Dataset, error) {
	if opts.MaxSequenceLength < 5 {
		return nil, fmt.Errorf("max sequence length should be 5 or more, but %d", opts.MaxSequenceLength)
	}
	if opts.ShortSeqProbability == 0 {
		opts.ShortSeqProbability = 0.1
	}
	if opts.SeqARatio == 0 {
		opts.SeqARatio = 0.6
	}

	specials, err := tokenizer.Specials(tok)
	if err != nil {
		return nil, err
	}

	index, _, err := LoadOrBuildIndex(logger, dir, indexFilename, opts.Exclude...)
	if err != nil {
		return nil, err
	}
	if len(index.Files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, dir)
	}

	ds := &Dataset{
		dir:      dir,
		index:    index,
		files:    make([]*os.File, 0, len(index.Files)),
		cumsum:   make([]int, len(index.Files)),
		tok:      tok,
		specials: specials,
		opts:     opts,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	total := 0
	for i, f := range index.Files {
		file, err := os.Open(filepath.Join(dir, f.Name))
		if err != nil {
			ds.Close()
			return nil, err
		}
		ds.files = append(ds.files, file)
		total += len(f.Offsets)
		ds.cumsum[i] = total
	}
	return ds, nil
}

// Len is the count of sentences in the dataset.
func (d *Dataset) Len() int {
	if len(d.cumsum) == 0 {
		return 0
	}
	return d.cumsum[len(d.cumsum)-1]
}

func (d *Dataset) Close() error {
	var errs []error
	for _, f := range d.files {
		errs = append(errs, f.Close())
	}
	d.files = nil
	return errors.Join(errs...)
}

// locate converts a dataset-wide index of a sentence to (file, line).
func (d *Dataset) locate(i int) (int, int) {
	file := sort.SearchInts(d.cumsum, i+1)
	line := i
	if 0 < file {
		line -= d.cumsum[file-1]
	}
	return file, line
}

func (d *Dataset) sentence(file, line int) ([]int, error) {
	f := d.files[file]
	offset := d.index.Files[file].Offsets[line]
	r := bufio.NewReader(io.NewSectionReader(f, offset, math.MaxInt64-offset))
	text, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return d.tok.TextToIds(strings.TrimSpace(text))
}

// extend appends following lines of the file to doc until it reaches target length
// or the end of the file.
//
// It returns the extended doc and the last line used.
func (d *Dataset) extend(doc []int, target int, file, line int) ([]int, int, error) {
	lines := len(d.index.Files[file].Offsets)
	for len(doc) < target && line < lines-1 {
		line += 1
		next, err := d.sentence(file, line)
		if err != nil {
			return nil, line, err
		}
		doc = append(doc, next...)
	}
	return doc, line, nil
}

// Example generates the i-th example. The sentence A starts at the i-th sentence.
//
// Results are random: masking, B and truncation are drawn from the dataset's generator.
func (d *Dataset) Example(i int) (Example, error) {
	if i < 0 || d.Len() <= i {
		return Example{}, fmt.Errorf("index out of range: %d (len = %d)", i, d.Len())
	}
	maxTokens := d.opts.MaxSequenceLength - 3

	target := maxTokens
	if d.rng.Float64() < d.opts.ShortSeqProbability {
		target = 2 + d.rng.IntN(maxTokens-1) // [2, maxTokens]
	}
	targetA := int(math.Round(float64(target) * d.opts.SeqARatio))
	targetB := target - targetA

	aFile, aLine := d.locate(i)
	a, err := d.sentence(aFile, aLine)
	if err != nil {
		return Example{}, err
	}
	aStart := aLine
	a, aLine, err = d.extend(a, targetA, aFile, aLine)
	if err != nil {
		return Example{}, err
	}

	isLastLine := len(d.index.Files[aFile].Offsets)-1 <= aLine
	randomB := isLastLine || d.rng.Float64() < 0.5

	bFile, bLine := aFile, aLine+1
	if randomB {
		bFile, bLine = d.randomSentence(aFile, aStart, aLine)
	}
	b, err := d.sentence(bFile, bLine)
	if err != nil {
		return Example{}, err
	}
	if b, _, err = d.extend(b, targetB, bFile, bLine); err != nil {
		return Example{}, err
	}

	a, b = d.truncatePair(a, b, maxTokens)

	isNext := 1
	if randomB {
		isNext = 0
	}
	return d.frame(a, b, isNext), nil
}

// randomSentence picks a sentence out of [aStart, aEnd+1] of aFile.
// It gives up after 10 trials and takes the last pick.
func (d *Dataset) randomSentence(aFile, aStart, aEnd int) (int, int) {
	var file, line int
	for range 10 {
		file = d.rng.IntN(len(d.index.Files))
		line = d.rng.IntN(len(d.index.Files[file].Offsets))
		if file != aFile || line < aStart || aEnd+1 < line {
			break
		}
	}
	return file, line
}

// truncatePair drops tokens from the longer one, randomly from its front or back,
// until a and b fit in maxTokens.
func (d *Dataset) truncatePair(a, b []int, maxTokens int) ([]int, []int) {
	for maxTokens < len(a)+len(b) {
		longer := &b
		if len(b) < len(a) {
			longer = &a
		}
		if d.rng.Float64() < 0.5 {
			*longer = (*longer)[1:]
		} else {
			*longer = (*longer)[:len(*longer)-1]
		}
	}
	return a, b
}

func (d *Dataset) frame(a, b []int, isNext int) Example {
	seqLen := d.opts.MaxSequenceLength
	sp := d.specials

	output := make([]int, 0, seqLen)
	output = append(output, sp.Cls)
	output = append(output, a...)
	output = append(output, sp.Sep)
	output = append(output, b...)
	output = append(output, sp.Sep)
	used := len(output)

	input, outputMask := d.mask(output)

	typeIds := make([]int, seqLen)
	for i := len(a) + 2; i < used; i++ {
		typeIds[i] = 1
	}
	inputMask := make([]int, seqLen)
	for i := range used {
		inputMask[i] = 1
	}
	for len(output) < seqLen {
		output = append(output, sp.Pad)
		input = append(input, sp.Pad)
		outputMask = append(outputMask, 0)
	}

	return Example{
		InputIds:     input,
		InputTypeIds: typeIds,
		InputMask:    inputMask,
		OutputIds:    output,
		OutputMask:   outputMask,
		IsNext:       isNext,
	}
}
