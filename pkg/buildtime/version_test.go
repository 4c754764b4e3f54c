package buildtime_test

import (
	"strings"
	"testing"

	"github.com/opst/bertpretrain/pkg/buildtime"
)

func TestBanner(t *testing.T) {
	got := buildtime.Banner("bert_pretraining")
	if !strings.HasPrefix(got, "bert_pretraining/"+buildtime.Version()+" (commit: ") {
		t.Errorf("unexpected banner: %s", got)
	}
	if buildtime.Version() == "" || buildtime.Revision() == "" {
		t.Errorf("version or revision is empty: %q, %q", buildtime.Version(), buildtime.Revision())
	}
}
