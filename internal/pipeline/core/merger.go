package core

import (
	"fmt"
	"sort"
	"strings"
)

const (
	mergeSeparator     = "---"
	errorsHeader       = "Processing Errors:"
	unknownErrorDetail = "Unknown error"
)

// MergeBatchResults reassembles per-batch outputs into one document, in batch
// order. Successful, non-blank outputs are concatenated with a blank line
// between them; failed batches are reported in a trailing error block. When
// includeHeaderHint is true, batch outputs are assumed to repeat the header
// row and the duplicate headers after the first batch are dropped.
func MergeBatchResults(results []TabularBatchResult, includeHeaderHint bool) string {
	// defensive: the scheduler already orders by index, but merge must not
	// assume it
	sorted := make([]TabularBatchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BatchIndex < sorted[j].BatchIndex })

	var parts []string
	var failures []TabularBatchResult
	var header string
	for _, r := range sorted {
		if !r.Success {
			failures = append(failures, r)
			continue
		}
		out := strings.TrimSpace(r.OutputContent)
		if out == "" {
			continue
		}
		if includeHeaderHint {
			if header == "" {
				header = firstLine(out)
			} else if firstLine(out) == header {
				out = strings.TrimSpace(strings.TrimPrefix(out, firstLine(out)))
				if out == "" {
					continue
				}
			}
		}
		parts = append(parts, out)
	}

	merged := strings.Join(parts, "\n\n")
	if len(failures) == 0 {
		return merged
	}

	var b strings.Builder
	b.WriteString(merged)
	if merged != "" {
		b.WriteString("\n\n")
		b.WriteString(mergeSeparator)
		b.WriteString("\n\n")
	}
	b.WriteString(errorsHeader)
	for _, f := range failures {
		msg := f.ErrorMessage
		if msg == "" {
			msg = unknownErrorDetail
		}
		fmt.Fprintf(&b, "\n- Rows %d-%d: %s", f.RowStartIndex, f.RowEndIndex, msg)
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
