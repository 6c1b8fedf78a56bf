package core

import (
	"log"
	"strings"
)

// DefaultBatchSize is used when the configured batch size is not positive.
const DefaultBatchSize = 25

// BatchSplitter partitions raw tabular text into fixed-size row batches.
// Splitting is fully deterministic: the same content always produces the
// same batches.
type BatchSplitter struct {
	batchSize int
	maxRows   int
	logger    *log.Logger
}

// NewBatchSplitter creates a splitter. A non-positive batchSize falls back to
// DefaultBatchSize; maxRows <= 0 means no row cap.
func NewBatchSplitter(batchSize, maxRows int, logger *log.Logger) *BatchSplitter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SPLITTER] ", log.LstdFlags)
	}
	return &BatchSplitter{batchSize: batchSize, maxRows: maxRows, logger: logger}
}

// Split partitions content into contiguous, non-overlapping batches. The
// first line is always the header and is propagated to every batch without
// counting as a data row. Rows beyond the configured maximum are dropped;
// the truncation is logged but otherwise silent. Empty content or content
// with only a header yields no batches.
func (s *BatchSplitter) Split(content, fileName string) []TabularBatch {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(content) == "" {
		return nil
	}

	header := lines[0]
	var rows []string
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}
	if len(rows) == 0 {
		return nil
	}

	if s.maxRows > 0 && len(rows) > s.maxRows {
		s.logger.Printf("truncating %q from %d to %d data rows", fileName, len(rows), s.maxRows)
		rows = rows[:s.maxRows]
	}

	var batches []TabularBatch
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, TabularBatch{
			BatchIndex:    len(batches),
			FileName:      fileName,
			HeaderRow:     header,
			DataRows:      rows[start:end],
			RowStartIndex: start + 1,
			RowEndIndex:   end,
		})
	}
	return batches
}
