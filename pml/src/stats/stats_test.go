package stats

import (
	"strings"
	"testing"
)

func TestHeapProfileSummaryParses(t *testing.T) {
	s, err := HeapProfileSummary()
	if err != nil {
		t.Fatalf("HeapProfileSummary: %v", err)
	}
	if s == "" {
		t.Fatalf("expected a nonempty heap profile summary")
	}
}

func TestDumpIncludesLimitsAndProfile(t *testing.T) {
	out := Dump(nil)
	if !strings.Contains(out, "limits:") {
		t.Fatalf("expected dump to include a limits section, got %q", out)
	}
	if !strings.Contains(out, "sysprocs=") {
		t.Fatalf("expected dump to include the sysprocs budget, got %q", out)
	}
}
