package modules

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when parameters of different shapes are tied.
var ErrShapeMismatch = errors.New("parameter shapes mismatch")

// Parameter is a weight matrix shared by modules by pointer.
//
// Its buffer is allocated (zero filled) at the first call of Data.
// Assembling a pipeline or writing its manifest never calls Data; the
// buffer is allocated by whoever fills the weights.
type Parameter struct {
	name string
	rows int
	cols int

	once sync.Once
	data *mat.Dense
}

func NewParameter(name string, rows, cols int) *Parameter {
	return &Parameter{name: name, rows: rows, cols: cols}
}

func (p *Parameter) Name() string {
	return p.name
}

// Shape returns (rows, columns).
func (p *Parameter) Shape() (int, int) {
	return p.rows, p.cols
}

// Allocated tells whether the buffer has been allocated.
func (p *Parameter) Allocated() bool {
	return p.data != nil
}

// Data returns the buffer of the parameter.
//
// Every call returns the same *mat.Dense.
func (p *Parameter) Data() *mat.Dense {
	p.once.Do(func() {
		p.data = mat.NewDense(p.rows, p.cols, nil)
	})
	return p.data
}

func (p *Parameter) String() string {
	return fmt.Sprintf("%s[%dx%d]", p.name, p.rows, p.cols)
}

// Tie makes *dst refer to src. After that, they are the very same Parameter.
//
// The parameter which *dst had is dropped.
func Tie(dst **Parameter, src *Parameter) error {
	if dst == nil || src == nil {
		return errors.New("nil parameter cannot be tied")
	}
	if *dst != nil {
		dr, dc := (*dst).Shape()
		sr, sc := src.Shape()
		if dr != sr || dc != sc {
			return fmt.Errorf(
				"%w: %s cannot be tied with %s", ErrShapeMismatch, *dst, src,
			)
		}
	}
	*dst = src
	return nil
}

// Tied tells whether a and b are the same parameter.
func Tied(a, b *Parameter) bool {
	return a != nil && a == b
}
