package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crestapps/tabflow/internal/pipeline/telemetry"
)

// Failure messages the merger and callers rely on verbatim.
const (
	MsgStoppedOnFailure = "Processing stopped due to previous batch failure."
	MsgCancelled        = "Processing was cancelled."
	MsgEmptyResponse    = "LLM returned empty response"
)

var schedulerTracer trace.Tracer = otel.Tracer("tabflow/internal/pipeline/scheduler")

// batchSystemRules is appended after any caller-supplied system message on
// every batch call.
const batchSystemRules = `You are processing one batch of rows from a tabular document. Rules:
1. Process each row independently.
2. Produce exactly one output line per input row.
3. Preserve verbatim excerpts when the instructions ask for them.
4. Respond with "Not found" for data that is absent.
5. Do not repeat the header row in the output unless explicitly asked.
6. Preserve the original row order.`

// SchedulerOptions carries the per-run settings resolved from configuration
type SchedulerOptions struct {
	Model             string
	MaxConcurrent     int
	ContinueOnFailure bool
	BatchDelay        time.Duration
	BatchTimeout      time.Duration
}

// RunContext carries caller-scoped inputs into a scheduler run
type RunContext struct {
	RunID         string
	SystemMessage string
}

// BatchScheduler dispatches batches to the completion backend under bounded
// concurrency. Each batch owns one slot of the result array, so no locking is
// needed around results; the only shared state is a failure flag and a
// started counter, both tolerant of races.
type BatchScheduler struct {
	provider  Completer
	costing   CostCalculator
	opts      SchedulerOptions
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// CostCalculator is the cost-accounting slice of the provider contract.
// It may be nil, in which case batch costs are reported as zero.
type CostCalculator interface {
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// NewBatchScheduler creates a scheduler. MaxConcurrent is clamped to at
// least 1.
func NewBatchScheduler(provider Completer, costing CostCalculator, opts SchedulerOptions, tele *telemetry.Telemetry, logger *log.Logger) *BatchScheduler {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags)
	}
	return &BatchScheduler{provider: provider, costing: costing, opts: opts, telemetry: tele, logger: logger}
}

// Run dispatches all batches and returns exactly one result per batch,
// ordered by batch index regardless of completion order. The returned slice
// is always complete: cancellation and short-circuiting still produce a
// failure result for every batch.
func (s *BatchScheduler) Run(ctx context.Context, batches []TabularBatch, prompt string, rc RunContext) []TabularBatchResult {
	results := make([]TabularBatchResult, len(batches))
	if len(batches) == 0 {
		return results
	}

	sem := make(chan struct{}, s.opts.MaxConcurrent)
	var failed atomic.Bool
	var started atomic.Int64
	var wg sync.WaitGroup

	for i := range batches {
		wg.Add(1)
		go func(b TabularBatch) {
			defer wg.Done()
			results[b.BatchIndex] = s.runBatch(ctx, b, prompt, rc, sem, &failed, &started, len(batches))
		}(batches[i])
	}
	wg.Wait()

	return results
}

func (s *BatchScheduler) runBatch(ctx context.Context, b TabularBatch, prompt string, rc RunContext, sem chan struct{}, failed *atomic.Bool, started *atomic.Int64, total int) TabularBatchResult {
	result := TabularBatchResult{
		BatchIndex:    b.BatchIndex,
		RowStartIndex: b.RowStartIndex,
		RowEndIndex:   b.RowEndIndex,
		RowCount:      len(b.DataRows),
		ModelUsed:     s.opts.Model,
	}

	// cancellation does not raise the shared failure flag: remaining batches
	// must report the distinct cancellation message, not the short-circuit one
	cancelled := func() TabularBatchResult {
		result.Success = false
		result.ErrorMessage = MsgCancelled
		return result
	}
	fail := func(msg string) TabularBatchResult {
		result.Success = false
		result.ErrorMessage = msg
		failed.Store(true)
		return result
	}

	// a missing backend must surface as a per-batch failure, not a panic in
	// this goroutine
	if s.provider == nil {
		return fail("no completion provider configured")
	}

	// short-circuit before queuing for a permit: once the run is known to be
	// compromised there is no point paying for the remote call
	if !s.opts.ContinueOnFailure && failed.Load() {
		result.Success = false
		result.ErrorMessage = MsgStoppedOnFailure
		return result
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return cancelled()
	}
	defer func() { <-sem }()

	// re-check after acquiring: a sibling may have failed while this batch
	// was queued behind the concurrency limit
	if !s.opts.ContinueOnFailure && failed.Load() {
		result.Success = false
		result.ErrorMessage = MsgStoppedOnFailure
		return result
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	// throttle every batch except the first one started; "first" is decided
	// by the shared counter, not the batch index, since batches start in
	// whatever order permits free up
	if n := started.Add(1); n > 1 && s.opts.BatchDelay > 0 {
		select {
		case <-time.After(s.opts.BatchDelay):
		case <-ctx.Done():
			return cancelled()
		}
	}

	bctx := ctx
	var cancel context.CancelFunc
	if s.opts.BatchTimeout > 0 {
		bctx, cancel = context.WithTimeout(ctx, s.opts.BatchTimeout)
		defer cancel()
	}

	bctx, span := schedulerTracer.Start(bctx, "pipeline.batch",
		trace.WithAttributes(
			attribute.String("run.id", rc.RunID),
			attribute.Int("batch.index", b.BatchIndex),
			attribute.Int("batch.row_start", b.RowStartIndex),
			attribute.Int("batch.row_end", b.RowEndIndex),
		))
	defer span.End()

	startTime := time.Now()
	resp, err := s.provider.Complete(bctx, CompletionRequest{
		Model: s.opts.Model,
		Messages: []Message{
			{Role: "system", Content: joinSystemMessages(rc.SystemMessage, batchSystemRules)},
			{Role: "user", Content: buildBatchPrompt(b, total, prompt)},
		},
	})

	switch {
	case err != nil && ctx.Err() != nil:
		cancelled()
	case err != nil && errors.Is(bctx.Err(), context.DeadlineExceeded):
		fail(fmt.Sprintf("Batch processing timed out after %d seconds", int(s.opts.BatchTimeout.Seconds())))
	case err != nil:
		fail(err.Error())
	case strings.TrimSpace(resp.Text) == "":
		fail(MsgEmptyResponse)
	default:
		result.Success = true
		result.OutputContent = resp.Text
		result.TokensUsed = resp.InputTokens + resp.OutputTokens
		if s.costing != nil {
			result.Cost = s.costing.CalculateCost(resp.InputTokens, resp.OutputTokens, s.opts.Model)
		}
	}

	if result.Success {
		span.SetStatus(codes.Ok, "completed")
	} else {
		span.RecordError(errors.New(result.ErrorMessage))
		span.SetStatus(codes.Error, result.ErrorMessage)
	}
	span.SetAttributes(
		attribute.Bool("batch.success", result.Success),
		attribute.Int64("batch.tokens", result.TokensUsed),
	)

	if s.telemetry != nil {
		s.telemetry.RecordBatchEvent(ctx, telemetry.BatchEvent{
			RunID:      rc.RunID,
			BatchIndex: b.BatchIndex,
			Success:    result.Success,
			Error:      result.ErrorMessage,
			Duration:   time.Since(startTime),
			Cost:       result.Cost,
			TokensUsed: result.TokensUsed,
			ModelUsed:  result.ModelUsed,
		})
	}
	if !result.Success {
		s.logger.Printf("batch %d (rows %d-%d) failed: %s", b.BatchIndex, b.RowStartIndex, b.RowEndIndex, result.ErrorMessage)
	}

	return result
}

// buildBatchPrompt assembles the batch-scoped user prompt: batch number, row
// range, file name, header plus rows as a delimited block, and the original
// user instructions.
func buildBatchPrompt(b TabularBatch, total int, prompt string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch %d of %d from file %q, covering rows %d-%d.\n\n", b.BatchIndex+1, total, b.FileName, b.RowStartIndex, b.RowEndIndex)
	sb.WriteString("DATA:\n```\n")
	sb.WriteString(b.HeaderRow)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(b.DataRows, "\n"))
	sb.WriteString("\n```\n\n")
	sb.WriteString("USER INSTRUCTIONS:\n")
	sb.WriteString(prompt)
	return sb.String()
}

func joinSystemMessages(caller, rules string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return rules
	}
	return caller + "\n\n" + rules
}
