package metrics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/bertpretrain/pkg/metrics"
	"github.com/opst/bertpretrain/pkg/utils/try"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricName(t *testing.T) {
	for tag, want := range map[string]string{
		"loss":               "bert_pretraining_loss",
		"Dev MLM loss":       "bert_pretraining_dev_mlm_loss",
		"Dev MLM perplexity": "bert_pretraining_dev_mlm_perplexity",
		"  lr / step ":       "bert_pretraining_lr_step",
	} {
		if got := metrics.MetricName(tag); got != want {
			t.Errorf("%q: got %s, want %s", tag, got, want)
		}
	}
}

func TestFile(t *testing.T) {
	t.Run("it keeps every value, and the latest one is the last", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "BERT-H12-D768")
		sink := try.To(metrics.Open(dir)).OrFatal(t)

		for _, s := range []struct {
			tag   string
			value float64
			step  int
		}{
			{tag: "loss", value: 9.5, step: 0},
			{tag: "loss", value: 7.25, step: 25},
			{tag: "Dev MLM loss", value: 6.5, step: 100},
			{tag: "loss", value: 5.125, step: 50},
		} {
			if err := sink.Scalar(s.tag, s.value, s.step); err != nil {
				t.Fatal(err)
			}
		}
		if err := sink.Close(); err != nil {
			t.Fatal(err)
		}

		families := try.To(metrics.Read(filepath.Join(dir, metrics.Filename))).OrFatal(t)
		if len(families) != 2 {
			t.Errorf("unexpected families: %v", families)
		}
		for _, mf := range families {
			if mf.GetType() != dto.MetricType_GAUGE {
				t.Errorf("%s is not gauge", mf.GetName())
			}
		}

		for tag, want := range map[string]metrics.Sample{
			"loss":         {Run: "BERT-H12-D768", Value: 5.125, Step: 50},
			"Dev MLM loss": {Run: "BERT-H12-D768", Value: 6.5, Step: 100},
		} {
			got, ok := metrics.Latest(families, tag)
			if !ok {
				t.Errorf("%s is not found", tag)
				continue
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s (-want +got):\n%s", tag, diff)
			}
		}
	})

	t.Run("it keeps history of a scalar over steps", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "run")
		sink := try.To(metrics.Open(dir)).OrFatal(t)
		defer sink.Close()

		for _, s := range []struct {
			value float64
			step  int
		}{
			{value: 7.5, step: 25},
			{value: 6.25, step: 50},
			{value: 5.0, step: 75},
		} {
			if err := sink.Scalar("loss", s.value, s.step); err != nil {
				t.Fatal(err)
			}
		}

		families := try.To(metrics.Read(sink.Path())).OrFatal(t)
		want := []metrics.Sample{
			{Run: "run", Value: 7.5, Step: 25},
			{Run: "run", Value: 6.25, Step: 50},
			{Run: "run", Value: 5.0, Step: 75},
		}
		if diff := cmp.Diff(want, metrics.Series(families, "loss")); diff != "" {
			t.Errorf("loss series (-want +got):\n%s", diff)
		}
		if got := metrics.Series(families, "Dev MLM loss"); len(got) != 0 {
			t.Errorf("unexpected series: %v", got)
		}
	})

	t.Run("empty run log is readable", func(t *testing.T) {
		dir := t.TempDir()
		sink := try.To(metrics.Open(dir)).OrFatal(t)
		defer sink.Close()

		families := try.To(metrics.Read(sink.Path())).OrFatal(t)
		if len(families) != 0 {
			t.Errorf("unexpected families: %v", families)
		}
		if _, ok := metrics.Latest(families, "loss"); ok {
			t.Error("unexpected sample")
		}
	})

	t.Run("closed file rejects scalars", func(t *testing.T) {
		sink := try.To(metrics.Open(t.TempDir())).OrFatal(t)
		if err := sink.Close(); err != nil {
			t.Fatal(err)
		}
		if err := sink.Scalar("loss", 1, 1); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("it cannot open under a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, []byte{}, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := metrics.Open(filepath.Join(file, "run")); err == nil {
			t.Error("expected error")
		}
	})
}
