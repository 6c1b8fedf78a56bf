package core

import (
	"strings"
	"testing"
)

func TestMergePreservesBatchOrder(t *testing.T) {
	t.Parallel()
	results := []TabularBatchResult{
		{BatchIndex: 2, Success: true, OutputContent: "third"},
		{BatchIndex: 0, Success: true, OutputContent: "first"},
		{BatchIndex: 1, Success: true, OutputContent: "second"},
	}

	got := MergeBatchResults(results, false)
	want := "first\n\nsecond\n\nthird"
	if got != want {
		t.Fatalf("merged output out of order:\n%q\nwant\n%q", got, want)
	}
}

func TestMergeReportsFailuresInErrorBlock(t *testing.T) {
	t.Parallel()
	results := []TabularBatchResult{
		{BatchIndex: 0, RowStartIndex: 1, RowEndIndex: 25, Success: true, OutputContent: "ok part"},
		{BatchIndex: 1, RowStartIndex: 26, RowEndIndex: 50, Success: false, ErrorMessage: "LLM returned empty response"},
	}

	got := MergeBatchResults(results, false)
	if !strings.HasPrefix(got, "ok part") {
		t.Fatalf("successful output should come first: %q", got)
	}
	if !strings.Contains(got, "---") {
		t.Fatalf("missing separator before error block: %q", got)
	}
	if !strings.Contains(got, "Processing Errors:") {
		t.Fatalf("missing errors header: %q", got)
	}
	if !strings.Contains(got, "- Rows 26-50: LLM returned empty response") {
		t.Fatalf("missing failure bullet: %q", got)
	}
}

func TestMergeAllFailedHasNoSeparator(t *testing.T) {
	t.Parallel()
	results := []TabularBatchResult{
		{BatchIndex: 0, RowStartIndex: 1, RowEndIndex: 10, Success: false, ErrorMessage: "boom"},
		{BatchIndex: 1, RowStartIndex: 11, RowEndIndex: 20, Success: false},
	}

	got := MergeBatchResults(results, false)
	if !strings.HasPrefix(got, "Processing Errors:") {
		t.Fatalf("all-failed merge should start with error block: %q", got)
	}
	if strings.Contains(got, "---") {
		t.Fatalf("no separator expected when nothing succeeded: %q", got)
	}
	if !strings.Contains(got, "- Rows 11-20: Unknown error") {
		t.Fatalf("blank error message should read Unknown error: %q", got)
	}
}

func TestMergeSkipsBlankOutputs(t *testing.T) {
	t.Parallel()
	results := []TabularBatchResult{
		{BatchIndex: 0, Success: true, OutputContent: "  \n "},
		{BatchIndex: 1, Success: true, OutputContent: "content"},
	}

	if got := MergeBatchResults(results, false); got != "content" {
		t.Fatalf("blank success output should be dropped: %q", got)
	}
}

func TestMergeEmptyInput(t *testing.T) {
	t.Parallel()
	if got := MergeBatchResults(nil, false); got != "" {
		t.Fatalf("expected empty merge, got %q", got)
	}
}

func TestMergeDeduplicatesRepeatedHeader(t *testing.T) {
	t.Parallel()
	results := []TabularBatchResult{
		{BatchIndex: 0, Success: true, OutputContent: "id,name\n1,a"},
		{BatchIndex: 1, Success: true, OutputContent: "id,name\n2,b"},
	}

	got := MergeBatchResults(results, true)
	if strings.Count(got, "id,name") != 1 {
		t.Fatalf("header should appear once: %q", got)
	}
	if !strings.Contains(got, "2,b") {
		t.Fatalf("second batch body missing: %q", got)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	results := []TabularBatchResult{
		{BatchIndex: 1, Success: true, OutputContent: "b"},
		{BatchIndex: 0, Success: true, OutputContent: "a"},
	}
	MergeBatchResults(results, false)

	if results[0].BatchIndex != 1 {
		t.Fatalf("input slice was reordered: %+v", results)
	}
}
