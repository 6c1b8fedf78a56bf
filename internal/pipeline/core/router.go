package core

import (
	"context"
	"fmt"
	"log"
)

// StrategyRouter maps classified intents onto registered strategies.
// Registration order encodes priority: the first strategy whose CanHandle
// accepts wins.
type StrategyRouter struct {
	strategies     []Strategy
	fallbackIntent string
	logger         *log.Logger
}

// NewStrategyRouter creates an empty router
func NewStrategyRouter(fallbackIntent string, logger *log.Logger) *StrategyRouter {
	if fallbackIntent == "" {
		fallbackIntent = IntentChat
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)
	}
	return &StrategyRouter{fallbackIntent: fallbackIntent, logger: logger}
}

// Register appends a strategy. Not safe for concurrent use; registration
// happens once at startup.
func (r *StrategyRouter) Register(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// Resolve returns the first registered strategy claiming the intent. If none
// claims it and the intent differs from the fallback, resolution is retried
// with the fallback intent. A nil return means "no processing available",
// not an error.
func (r *StrategyRouter) Resolve(intent string) Strategy {
	for _, s := range r.strategies {
		if s.CanHandle(intent) {
			return s
		}
	}
	if intent != r.fallbackIntent {
		r.logger.Printf("no strategy for intent %q, retrying with fallback %q", intent, r.fallbackIntent)
		for _, s := range r.strategies {
			if s.CanHandle(r.fallbackIntent) {
				return s
			}
		}
	}
	return nil
}

// Process executes a strategy, converting any error or panic into a failed
// result. Strategy faults never propagate to the caller.
func (r *StrategyRouter) Process(ctx context.Context, s Strategy, req *ProcessRequest) (result StrategyResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("strategy %s panicked: %v", s.Name(), rec)
			result = StrategyResult{Success: false, Error: fmt.Sprintf("strategy %s failed: %v", s.Name(), rec)}
		}
	}()

	res, err := s.Execute(ctx, req)
	if err != nil {
		r.logger.Printf("strategy %s failed: %v", s.Name(), err)
		return StrategyResult{Success: false, Error: err.Error()}
	}
	return res
}
