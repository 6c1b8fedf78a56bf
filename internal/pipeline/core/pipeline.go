package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crestapps/tabflow/internal/pipeline/config"
	"github.com/crestapps/tabflow/internal/pipeline/telemetry"
)

var pipelineTracer trace.Tracer = otel.Tracer("tabflow/internal/pipeline")

// Pipeline ties classification, routing and strategy execution together. It is
// safe for concurrent use; each Process call is independent apart from the
// shared status map.
type Pipeline struct {
	cfg        *config.Config
	classifier *IntentClassifier
	router     *StrategyRouter
	telemetry  *telemetry.Telemetry
	logger     *log.Logger

	mu       sync.RWMutex
	statuses map[string]*RunStatus
}

// NewPipeline assembles the full pipeline from configuration. provider and
// resultCache may be nil: without a provider only keyword classification works
// and remote strategies error out; without a cache every run recomputes.
func NewPipeline(cfg *config.Config, provider CompletionProvider, resultCache ResultCache, tele *telemetry.Telemetry, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}

	registry := NewIntentRegistry()
	fallback := cfg.Intent.FallbackIntent
	keyword := NewKeywordClassifier(registry, fallback)

	var remote *RemoteClassifier
	if cfg.Intent.UseRemote && provider != nil {
		remote = NewRemoteClassifier(registry, provider, cfg.LLM.Routing.Classification, keyword, fallback, cfg.Intent.EnableHeavyIntents, nil)
	}
	classifier := NewIntentClassifier(remote, keyword, fallback)

	splitter := NewBatchSplitter(cfg.Batching.BatchSize, cfg.Batching.MaxRowsPerDocument, nil)
	var costing CostCalculator
	if provider != nil {
		costing = provider
	}
	scheduler := NewBatchScheduler(provider, costing, SchedulerOptions{
		Model:             cfg.LLM.Routing.Batching,
		MaxConcurrent:     cfg.Batching.MaxConcurrentBatches,
		ContinueOnFailure: cfg.Batching.ContinueOnFailure,
		BatchDelay:        cfg.Batching.BatchDelay,
		BatchTimeout:      cfg.Batching.BatchTimeout,
	}, tele, nil)

	router := NewStrategyRouter(fallback, nil)
	router.Register(NewTabularAnalysisStrategy(splitter, scheduler, resultCache, tele, nil))
	router.Register(newCompletionStrategy("summarization", []string{IntentSummarization},
		"You summarize documents. Be concise and faithful to the source material.",
		completerOrNil(provider), costing, cfg.LLM.Routing.Analysis))
	router.Register(newCompletionStrategy("extraction", []string{IntentExtraction},
		"You extract the requested fields from documents. Quote values verbatim and answer \"Not found\" for missing data.",
		completerOrNil(provider), costing, cfg.LLM.Routing.Analysis))
	router.Register(newCompletionStrategy("comparison", []string{IntentComparison},
		"You compare the attached documents and report their differences and similarities.",
		completerOrNil(provider), costing, cfg.LLM.Routing.Analysis))
	router.Register(newCompletionStrategy("transformation", []string{IntentTransformation},
		"You transform document content into the requested format without inventing data.",
		completerOrNil(provider), costing, cfg.LLM.Routing.Analysis))
	router.Register(newCompletionStrategy("chat", []string{IntentChat, IntentHistoryReference},
		"You are a helpful assistant.",
		completerOrNil(provider), costing, cfg.LLM.Routing.Fallback))
	router.Register(newUnsupportedStrategy([]string{IntentImageGeneration, IntentChartGeneration}))

	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		router:     router,
		telemetry:  tele,
		logger:     logger,
		statuses:   make(map[string]*RunStatus),
	}
}

func completerOrNil(p CompletionProvider) Completer {
	if p == nil {
		return nil
	}
	return p
}

// Process runs one request through classification, routing and execution.
// It returns an error only for caller cancellation or invalid input; strategy
// failures are reported inside the RunResult.
func (p *Pipeline) Process(ctx context.Context, req *ProcessRequest) (*RunResult, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	start := time.Now()

	ctx, span := pipelineTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", req.ID),
			attribute.Int("run.documents", len(req.Documents)),
		))
	defer span.End()

	p.setStatus(req.ID, "classifying", "", 0.1)

	refs := make([]DocumentRef, 0, len(req.Documents))
	for _, d := range req.Documents {
		refs = append(refs, DocumentRef{FileName: d.FileName, SizeBytes: int64(len(d.Content))})
	}
	intent := p.classifier.Classify(ctx, DetectionContext{
		Prompt:            req.Prompt,
		Documents:         refs,
		InteractionSource: req.Source,
	})
	span.SetAttributes(
		attribute.String("run.intent", intent.Name),
		attribute.Float64("run.intent_confidence", intent.Confidence),
	)
	p.logger.Printf("run %s classified as %q (%.2f): %s", req.ID, intent.Name, intent.Confidence, intent.Reason)

	if err := ctx.Err(); err != nil {
		p.setStatus(req.ID, "failed", intent.Name, 1)
		return nil, err
	}

	result := &RunResult{
		ID:        req.ID,
		Intent:    intent,
		CreatedAt: start,
	}

	strategy := p.router.Resolve(intent.Name)
	if strategy == nil {
		// a run with nothing to execute is a neutral outcome, not a failure
		result.Success = true
		result.NoStrategy = true
		result.Warning = fmt.Sprintf("no processing available for intent %q", intent.Name)
		result.ProcessingTime = time.Since(start)
		p.setStatus(req.ID, "completed", intent.Name, 1)
		p.recordRun(ctx, result, "")
		return result, nil
	}

	p.setStatus(req.ID, "executing", intent.Name, 0.4)
	sr := p.router.Process(ctx, strategy, req)

	if err := ctx.Err(); err != nil {
		p.setStatus(req.ID, "failed", intent.Name, 1)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result.Success = sr.Success
	result.Content = sr.Content
	result.Warning = sr.Error
	result.TokensUsed = sr.TokensUsed
	result.CostEstimate = sr.Cost
	result.ProcessingTime = time.Since(start)

	if sr.Success {
		span.SetStatus(codes.Ok, "completed")
		p.setStatus(req.ID, "completed", intent.Name, 1)
	} else {
		span.SetStatus(codes.Error, sr.Error)
		p.setStatus(req.ID, "failed", intent.Name, 1)
	}
	p.recordRun(ctx, result, sr.ModelUsed)

	return result, nil
}

// Status returns the tracked status of a run, if known
func (p *Pipeline) Status(runID string) (*RunStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.statuses[runID]
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

func (p *Pipeline) setStatus(runID, status, intent string, progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.statuses[runID]
	if !ok {
		st = &RunStatus{RunID: runID, CreatedAt: time.Now()}
		p.statuses[runID] = st
	}
	st.Status = status
	st.Intent = intent
	st.Progress = progress
	st.LastUpdated = time.Now()
}

func (p *Pipeline) recordRun(ctx context.Context, result *RunResult, model string) {
	if p.telemetry == nil {
		return
	}
	p.telemetry.RecordRunEvent(ctx, telemetry.RunEvent{
		ID:         result.ID,
		Intent:     result.Intent.Name,
		Success:    result.Success,
		Error:      result.Warning,
		Duration:   result.ProcessingTime,
		Cost:       result.CostEstimate,
		TokensUsed: result.TokensUsed,
		ModelUsed:  model,
	})
}
