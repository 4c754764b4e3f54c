// Package metrics records scalars of a run as Prometheus text exposition.
//
// A run log is a directory named after the run. It has a file "metrics.prom"
// holding every value of each scalar in order, with the step as its timestamp.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opst/bertpretrain/pkg/utils/maps"
	"github.com/opst/bertpretrain/pkg/utils/pointer"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Filename is the name of the file in a run log.
const Filename = "metrics.prom"

// Prefix of metric names.
const Prefix = "bert_pretraining_"

// Sink receives scalars.
type Sink interface {
	// Scalar records value of tag at step.
	Scalar(tag string, value float64, step int) error
	Close() error
}

// Nop is a Sink discarding everything.
type Nop struct{}

func (Nop) Scalar(string, float64, int) error { return nil }
func (Nop) Close() error                      { return nil }

// File is a Sink writing metrics.prom.
type File struct {
	mu       sync.Mutex
	path     string
	run      string
	families maps.Map[string, *dto.MetricFamily]
	closed   bool
}

var _ Sink = &File{}

// Open creates a run log at dir. Metrics are labelled with run="<base name of dir>".
func Open(dir string) (*File, error) {
	if err := os.MkdirAll(dir, os.FileMode(0o755)); err != nil {
		return nil, err
	}
	f := &File{
		path:     filepath.Join(dir, Filename),
		run:      filepath.Base(dir),
		families: maps.NewOrderedMap[string, *dto.MetricFamily](),
	}
	if err := f.flush(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Path() string {
	return f.path
}

// MetricName converts a tag to a metric name, like "Dev MLM loss" to "bert_pretraining_dev_mlm_loss".
func MetricName(tag string) string {
	sb := new(strings.Builder)
	sb.WriteString(Prefix)
	underscore := true
	for _, r := range strings.ToLower(tag) {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9':
			sb.WriteRune(r)
			underscore = false
		case !underscore:
			sb.WriteRune('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

func (f *File) Scalar(tag string, value float64, step int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("metrics: %s is closed", f.path)
	}

	name := MetricName(tag)
	mf, ok := f.families.Get(name)
	if !ok {
		mf = &dto.MetricFamily{
			Name: pointer.Ref(name),
			Help: pointer.Ref(tag),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		f.families.Set(name, mf)
	}
	mf.Metric = append(mf.Metric, &dto.Metric{
		Label: []*dto.LabelPair{
			{Name: pointer.Ref("run"), Value: pointer.Ref(f.run)},
		},
		Gauge:       &dto.Gauge{Value: pointer.Ref(value)},
		TimestampMs: pointer.Ref(int64(step)),
	})
	return f.flush()
}

// flush replaces the file with current families.
func (f *File) flush() error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+Filename+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := f.write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *File) write(w io.Writer) error {
	for _, mf := range f.families.Iter() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.flush()
}

// Read parses a file written by File.
func Read(path string) (map[string]*dto.MetricFamily, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var p expfmt.TextParser
	return p.TextToMetricFamilies(r)
}

// Sample is a value of a scalar at a step.
type Sample struct {
	Run   string
	Value float64
	Step  int
}

// Series returns samples of tag in families, in the order they are recorded.
func Series(families map[string]*dto.MetricFamily, tag string) []Sample {
	mf, ok := families[MetricName(tag)]
	if !ok {
		return nil
	}
	samples := make([]Sample, 0, len(mf.Metric))
	for _, m := range mf.Metric {
		s := Sample{Value: m.GetGauge().GetValue(), Step: int(m.GetTimestampMs())}
		for _, l := range m.GetLabel() {
			if l.GetName() == "run" {
				s.Run = l.GetValue()
			}
		}
		samples = append(samples, s)
	}
	return samples
}

// Latest returns the last sample of tag in families, if any.
func Latest(families map[string]*dto.MetricFamily, tag string) (Sample, bool) {
	series := Series(families, tag)
	if len(series) == 0 {
		return Sample{}, false
	}
	return series[len(series)-1], true
}
