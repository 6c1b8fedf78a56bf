package core

import (
	"context"
	"time"
)

// Intent identifiers registered with the pipeline. The remote classifier may
// only ever return one of these (or the configured fallback); anything else is
// coerced during validation.
const (
	IntentSummarization    = "summarization"
	IntentTabularAnalysis  = "tabular_analysis"
	IntentExtraction       = "extraction"
	IntentComparison       = "comparison"
	IntentTransformation   = "transformation"
	IntentImageGeneration  = "image_generation"
	IntentChartGeneration  = "chart_generation"
	IntentHistoryReference = "history_reference"
	IntentChat             = "chat"
)

// ClassifiedIntent is the immutable output of intent classification
type ClassifiedIntent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// DocumentRef carries attachment metadata used during intent detection
type DocumentRef struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// DetectionContext is the read-only input to intent classification
type DetectionContext struct {
	Prompt            string        `json:"prompt"`
	Documents         []DocumentRef `json:"documents,omitempty"`
	InteractionSource string        `json:"interaction_source,omitempty"`
	ConnectionHint    string        `json:"connection_hint,omitempty"`
}

// Document is a caller-supplied attachment with its full content. The
// pipeline never fetches documents itself.
type Document struct {
	FileName string `json:"file_name"`
	Content  string `json:"content"`
}

// TabularBatch is one contiguous window of data rows from a tabular document.
// Row indexes are 1-based and contiguous across batches from one split.
type TabularBatch struct {
	BatchIndex    int      `json:"batch_index"`
	FileName      string   `json:"file_name"`
	HeaderRow     string   `json:"header_row"`
	DataRows      []string `json:"data_rows"`
	RowStartIndex int      `json:"row_start_index"`
	RowEndIndex   int      `json:"row_end_index"`
}

// TabularBatchResult is the outcome of processing one batch. Exactly one is
// produced per input batch, including on cancellation and short-circuit.
type TabularBatchResult struct {
	BatchIndex    int     `json:"batch_index"`
	RowStartIndex int     `json:"row_start_index"`
	RowEndIndex   int     `json:"row_end_index"`
	RowCount      int     `json:"row_count"`
	Success       bool    `json:"success"`
	OutputContent string  `json:"output_content,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	ModelUsed     string  `json:"model_used,omitempty"`
	TokensUsed    int64   `json:"tokens_used,omitempty"`
	Cost          float64 `json:"cost,omitempty"`
}

// ProcessRequest is one pipeline invocation
type ProcessRequest struct {
	ID            string     `json:"id"`
	InteractionID string     `json:"interaction_id"`
	Prompt        string     `json:"prompt"`
	SystemMessage string     `json:"system_message,omitempty"`
	Source        string     `json:"source,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
}

// StrategyResult is what a processing strategy returns through the router
type StrategyResult struct {
	Success    bool    `json:"success"`
	Content    string  `json:"content,omitempty"`
	Error      string  `json:"error,omitempty"`
	TokensUsed int64   `json:"tokens_used,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
	ModelUsed  string  `json:"model_used,omitempty"`
	CacheHit   bool    `json:"cache_hit,omitempty"`
}

// RunResult is the final outcome of a pipeline run
type RunResult struct {
	ID             string           `json:"id"`
	Intent         ClassifiedIntent `json:"intent"`
	Content        string           `json:"content,omitempty"`
	Success        bool             `json:"success"`
	NoStrategy     bool             `json:"no_strategy,omitempty"`
	Warning        string           `json:"warning,omitempty"`
	TokensUsed     int64            `json:"tokens_used"`
	CostEstimate   float64          `json:"cost_estimate"`
	ProcessingTime time.Duration    `json:"processing_time"`
	CreatedAt      time.Time        `json:"created_at"`
}

// RunStatus tracks an in-flight pipeline run
type RunStatus struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"` // pending, classifying, executing, completed, failed
	Progress       float64   `json:"progress"`
	Intent         string    `json:"intent,omitempty"`
	CompletedTasks int       `json:"completed_tasks"`
	TotalTasks     int       `json:"total_tasks"`
	Error          string    `json:"error,omitempty"`
	LastUpdated    time.Time `json:"last_updated"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message is one chat message sent to a completion backend
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single call to the completion backend
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse carries the backend's text plus token usage
type CompletionResponse struct {
	Text         string `json:"text"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Completer is the minimal completion surface most components consume
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionProvider is the full provider contract, including model metadata
// and cost accounting
type CompletionProvider interface {
	Completer

	// GetAvailableModels returns configured model names
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
}

// Strategy is a registered processing strategy. CanHandle decides whether the
// strategy claims an intent; registration order encodes priority.
type Strategy interface {
	Name() string
	CanHandle(intent string) bool
	Execute(ctx context.Context, req *ProcessRequest) (StrategyResult, error)
}

// ResultCache is the batch result cache consumed by the tabular strategy.
// Implementations are best-effort: lookups that fail report a miss and writes
// that fail are dropped; cache trouble never fails a run.
type ResultCache interface {
	DeriveKey(interactionID string, documents []Document, prompt string) string
	Get(ctx context.Context, key string) ([]TabularBatchResult, bool)
	Set(ctx context.Context, key string, results []TabularBatchResult)
	Remove(ctx context.Context, key string)

	// InvalidateInteraction is a best-effort no-op relying on TTL expiry;
	// there is no prefix invalidation in the underlying store contract.
	InvalidateInteraction(ctx context.Context, interactionID string) error
}
