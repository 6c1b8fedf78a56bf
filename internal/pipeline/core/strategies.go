package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/crestapps/tabflow/internal/pipeline/telemetry"
)

// TabularAnalysisStrategy runs the batch pipeline: cache lookup, split,
// schedule, merge, cache store.
type TabularAnalysisStrategy struct {
	splitter  *BatchSplitter
	scheduler *BatchScheduler
	cache     ResultCache // may be nil
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewTabularAnalysisStrategy wires the tabular pipeline pieces together
func NewTabularAnalysisStrategy(splitter *BatchSplitter, scheduler *BatchScheduler, cache ResultCache, tele *telemetry.Telemetry, logger *log.Logger) *TabularAnalysisStrategy {
	if logger == nil {
		logger = log.New(log.Writer(), "[TABULAR] ", log.LstdFlags)
	}
	return &TabularAnalysisStrategy{splitter: splitter, scheduler: scheduler, cache: cache, telemetry: tele, logger: logger}
}

func (s *TabularAnalysisStrategy) Name() string { return "tabular_analysis" }

func (s *TabularAnalysisStrategy) CanHandle(intent string) bool {
	return intent == IntentTabularAnalysis
}

// Execute processes the first tabular attachment. Additional tabular
// attachments are skipped with a warning; the upstream UI sends one at a
// time.
func (s *TabularAnalysisStrategy) Execute(ctx context.Context, req *ProcessRequest) (StrategyResult, error) {
	doc, ok := firstTabularDocument(req.Documents)
	if !ok {
		return StrategyResult{Success: false, Error: "no tabular document attached"}, nil
	}
	for _, d := range req.Documents {
		if d.FileName != doc.FileName && IsTabularFileName(d.FileName) {
			s.logger.Printf("skipping additional tabular attachment %q, only the first is processed", d.FileName)
		}
	}

	var key string
	if s.cache != nil {
		key = s.cache.DeriveKey(req.InteractionID, req.Documents, req.Prompt)
		if cached, hit := s.cache.Get(ctx, key); hit {
			if s.telemetry != nil {
				s.telemetry.RecordCacheLookup(true)
			}
			s.logger.Printf("cache hit for interaction %s, skipping %d remote calls", req.InteractionID, len(cached))
			return resultFromBatches(cached, true), nil
		}
		if s.telemetry != nil {
			s.telemetry.RecordCacheLookup(false)
		}
	}

	batches := s.splitter.Split(doc.Content, doc.FileName)
	if len(batches) == 0 {
		return StrategyResult{Success: true, Content: ""}, nil
	}

	results := s.scheduler.Run(ctx, batches, req.Prompt, RunContext{RunID: req.ID, SystemMessage: req.SystemMessage})

	// caller cancellation is the only early unwind: still no partial state,
	// the result array above is complete
	if err := ctx.Err(); err != nil {
		return StrategyResult{}, err
	}

	// only fully successful runs are cached; a transient backend failure or a
	// short-circuited run must not be replayed for the cache lifetime
	if s.cache != nil && key != "" && allSucceeded(results) {
		s.cache.Set(ctx, key, results)
	}

	return resultFromBatches(results, false), nil
}

func allSucceeded(results []TabularBatchResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

func firstTabularDocument(docs []Document) (Document, bool) {
	for _, d := range docs {
		if IsTabularFileName(d.FileName) {
			return d, true
		}
	}
	return Document{}, false
}

func resultFromBatches(results []TabularBatchResult, cacheHit bool) StrategyResult {
	merged := MergeBatchResults(results, false)
	out := StrategyResult{Success: true, Content: merged, CacheHit: cacheHit}
	for _, r := range results {
		out.TokensUsed += r.TokensUsed
		out.Cost += r.Cost
		if out.ModelUsed == "" && r.ModelUsed != "" {
			out.ModelUsed = r.ModelUsed
		}
	}
	return out
}

// completionStrategy handles the single-call intents: one prompt, one
// completion, no batching.
type completionStrategy struct {
	name     string
	intents  map[string]bool
	system   string
	provider Completer
	costing  CostCalculator
	model    string
}

func newCompletionStrategy(name string, intents []string, system string, provider Completer, costing CostCalculator, model string) *completionStrategy {
	m := make(map[string]bool, len(intents))
	for _, i := range intents {
		m[i] = true
	}
	return &completionStrategy{name: name, intents: m, system: system, provider: provider, costing: costing, model: model}
}

func (s *completionStrategy) Name() string { return s.name }

func (s *completionStrategy) CanHandle(intent string) bool { return s.intents[intent] }

func (s *completionStrategy) Execute(ctx context.Context, req *ProcessRequest) (StrategyResult, error) {
	if s.provider == nil {
		return StrategyResult{}, fmt.Errorf("no completion provider configured")
	}

	var sb strings.Builder
	sb.WriteString(req.Prompt)
	for _, d := range req.Documents {
		fmt.Fprintf(&sb, "\n\n--- %s ---\n%s", d.FileName, d.Content)
	}

	system := s.system
	if strings.TrimSpace(req.SystemMessage) != "" {
		system = strings.TrimSpace(req.SystemMessage) + "\n\n" + system
	}

	resp, err := s.provider.Complete(ctx, CompletionRequest{
		Model: s.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: sb.String()},
		},
	})
	if err != nil {
		return StrategyResult{}, fmt.Errorf("%s completion: %w", s.name, err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return StrategyResult{Success: false, Error: MsgEmptyResponse}, nil
	}

	out := StrategyResult{
		Success:    true,
		Content:    resp.Text,
		TokensUsed: resp.InputTokens + resp.OutputTokens,
		ModelUsed:  s.model,
	}
	if s.costing != nil {
		out.Cost = s.costing.CalculateCost(resp.InputTokens, resp.OutputTokens, s.model)
	}
	return out, nil
}

// unsupportedStrategy claims intents whose processing lives outside this
// pipeline (image and chart generation backends) and reports a clear failure
// instead of leaving the intent unroutable.
type unsupportedStrategy struct {
	intents map[string]bool
}

func newUnsupportedStrategy(intents []string) *unsupportedStrategy {
	m := make(map[string]bool, len(intents))
	for _, i := range intents {
		m[i] = true
	}
	return &unsupportedStrategy{intents: m}
}

func (s *unsupportedStrategy) Name() string { return "unsupported" }

func (s *unsupportedStrategy) CanHandle(intent string) bool { return s.intents[intent] }

func (s *unsupportedStrategy) Execute(_ context.Context, req *ProcessRequest) (StrategyResult, error) {
	return StrategyResult{Success: false, Error: "this deployment does not support generation requests"}, nil
}
