package dataset

import (
	"io"
	"math/rand/v2"
)

// Source is a random access set of examples.
type Source interface {
	Len() int
	Example(i int) (Example, error)
}

// Batch is a batch of examples in columns.
type Batch struct {
	InputIds     [][]int `json:"input_ids"`
	InputTypeIds [][]int `json:"input_type_ids"`
	InputMask    [][]int `json:"input_mask"`
	OutputIds    [][]int `json:"output_ids"`
	OutputMask   [][]int `json:"output_mask"`
	Labels       []int   `json:"labels"`
}

// Size is the count of examples in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

func (b *Batch) add(ex Example) {
	b.InputIds = append(b.InputIds, ex.InputIds)
	b.InputTypeIds = append(b.InputTypeIds, ex.InputTypeIds)
	b.InputMask = append(b.InputMask, ex.InputMask)
	b.OutputIds = append(b.OutputIds, ex.OutputIds)
	b.OutputMask = append(b.OutputMask, ex.OutputMask)
	b.Labels = append(b.Labels, ex.IsNext)
}

// DataLayer yields batches of a Source, in shuffled order for each epoch.
type DataLayer struct {
	name      string
	src       Source
	batchSize int
	rng       *rand.Rand
}

func NewDataLayer(name string, src Source, batchSize int, seed uint64) *DataLayer {
	return &DataLayer{
		name:      name,
		src:       src,
		batchSize: batchSize,
		rng:       rand.New(rand.NewPCG(seed, ^seed)),
	}
}

func (l *DataLayer) Name() string {
	return l.name
}

// Len is the count of examples in an epoch.
func (l *DataLayer) Len() int {
	return l.src.Len()
}

func (l *DataLayer) BatchSize() int {
	return l.batchSize
}

// Batches is the count of batches in an epoch. The last one may be smaller than BatchSize.
func (l *DataLayer) Batches() int {
	if l.batchSize <= 0 {
		return 0
	}
	return (l.src.Len() + l.batchSize - 1) / l.batchSize
}

// Epoch starts a new epoch in freshly shuffled order.
func (l *DataLayer) Epoch() *Epoch {
	return &Epoch{layer: l, order: l.rng.Perm(l.src.Len())}
}

// Epoch is an iteration over a DataLayer.
type Epoch struct {
	layer *DataLayer
	order []int
	pos   int
}

// Next returns the next batch, or io.EOF at the end of the epoch.
func (e *Epoch) Next() (Batch, error) {
	if len(e.order) <= e.pos || e.layer.batchSize <= 0 {
		return Batch{}, io.EOF
	}
	end := min(e.pos+e.layer.batchSize, len(e.order))

	b := Batch{}
	for _, i := range e.order[e.pos:end] {
		ex, err := e.layer.src.Example(i)
		if err != nil {
			return Batch{}, err
		}
		b.add(ex)
	}
	e.pos = end
	return b, nil
}

// Remaining is the count of examples not yielded yet.
func (e *Epoch) Remaining() int {
	return len(e.order) - e.pos
}
