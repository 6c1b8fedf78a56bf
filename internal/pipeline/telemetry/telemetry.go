package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crestapps/tabflow/internal/pipeline/config"
)

// Prometheus collectors are package-level and registered eagerly; building them
// once at init avoids lazy-registration races.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabflow_runs_total",
		Help: "Pipeline runs by outcome.",
	}, []string{"status"})
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabflow_batches_total",
		Help: "Tabular batches dispatched by outcome.",
	}, []string{"status"})
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabflow_cache_lookups_total",
		Help: "Batch result cache lookups by result.",
	}, []string{"result"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tabflow_run_duration_seconds",
		Help:    "End-to-end pipeline run duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Telemetry provides monitoring and cost tracking for the pipeline
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds aggregate pipeline metrics
type Metrics struct {
	TotalRuns         int64
	SuccessfulRuns    int64
	FailedRuns        int64
	AverageRunTime    time.Duration
	IntentCounts      map[string]int64
	BatchesDispatched int64
	BatchesFailed     int64
	CacheHits         int64
	CacheMisses       int64
	LLMRequests       map[string]int64
	LLMTokensUsed     map[string]int64
}

// CostTracker tracks completion costs per model and in total
type CostTracker struct {
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent represents one completed pipeline run
type RunEvent struct {
	ID         string
	Intent     string
	Success    bool
	Error      string
	Duration   time.Duration
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// BatchEvent represents one dispatched tabular batch
type BatchEvent struct {
	RunID      string
	BatchIndex int
	Success    bool
	Error      string
	Duration   time.Duration
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			IntentCounts:  make(map[string]int64),
			LLMRequests:   make(map[string]int64),
			LLMTokensUsed: make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
}

// RecordRunEvent records a completed pipeline run
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
		runsTotal.WithLabelValues("success").Inc()
	} else {
		t.metrics.FailedRuns++
		runsTotal.WithLabelValues("failure").Inc()
	}
	runDuration.Observe(event.Duration.Seconds())

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	if event.Intent != "" {
		t.metrics.IntentCounts[event.Intent]++
	}
	if event.ModelUsed != "" {
		t.metrics.LLMRequests[event.ModelUsed]++
		t.metrics.LLMTokensUsed[event.ModelUsed] += event.TokensUsed
	}

	if t.config.CostTracking {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.TokensUsed
		if event.ModelUsed != "" {
			t.costTracker.ModelCosts[event.ModelUsed] += event.Cost
		}
	}

	t.logger.Printf("Run Event: ID=%s, Intent=%s, Success=%t, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.ID, event.Intent, event.Success, event.Duration, event.Cost, event.TokensUsed)
}

// RecordBatchEvent records one dispatched batch
func (t *Telemetry) RecordBatchEvent(ctx context.Context, event BatchEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.BatchesDispatched++
	if event.Success {
		batchesTotal.WithLabelValues("success").Inc()
	} else {
		t.metrics.BatchesFailed++
		batchesTotal.WithLabelValues("failure").Inc()
	}
	if event.ModelUsed != "" {
		t.metrics.LLMRequests[event.ModelUsed]++
		t.metrics.LLMTokensUsed[event.ModelUsed] += event.TokensUsed
	}
	if t.config.CostTracking {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.TokensUsed
		if event.ModelUsed != "" {
			t.costTracker.ModelCosts[event.ModelUsed] += event.Cost
		}
	}
}

// RecordCacheLookup records a batch cache hit or miss
func (t *Telemetry) RecordCacheLookup(hit bool) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if hit {
		t.metrics.CacheHits++
		cacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		t.metrics.CacheMisses++
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

// GetMetrics returns a snapshot of current metrics
func (t *Telemetry) GetMetrics() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return map[string]interface{}{
		"total_runs":         t.metrics.TotalRuns,
		"successful_runs":    t.metrics.SuccessfulRuns,
		"failed_runs":        t.metrics.FailedRuns,
		"average_run_time":   t.metrics.AverageRunTime.String(),
		"intent_counts":      copyInt64Map(t.metrics.IntentCounts),
		"batches_dispatched": t.metrics.BatchesDispatched,
		"batches_failed":     t.metrics.BatchesFailed,
		"cache_hits":         t.metrics.CacheHits,
		"cache_misses":       t.metrics.CacheMisses,
		"llm_requests":       copyInt64Map(t.metrics.LLMRequests),
		"llm_tokens_used":    copyInt64Map(t.metrics.LLMTokensUsed),
		"total_cost":         t.costTracker.TotalCost,
		"total_tokens":       t.costTracker.TotalTokens,
	}
}

// GetTotalCost returns the accumulated completion cost
func (t *Telemetry) GetTotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.costTracker.TotalCost
}

func copyInt64Map(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
