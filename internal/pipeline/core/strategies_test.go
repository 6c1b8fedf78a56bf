package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func newTabularStrategy(fake *fakeCompleter, cache ResultCache) *TabularAnalysisStrategy {
	splitter := NewBatchSplitter(2, 0, nil)
	scheduler := NewBatchScheduler(fake, nil, SchedulerOptions{Model: "m", MaxConcurrent: 2}, nil, nil)
	return NewTabularAnalysisStrategy(splitter, scheduler, cache, nil, nil)
}

func TestTabularStrategyRequiresTabularDocument(t *testing.T) {
	t.Parallel()
	s := newTabularStrategy(&fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		t.Error("no remote call expected")
		return CompletionResponse{}, nil
	}}, nil)

	res, err := s.Execute(context.Background(), &ProcessRequest{
		Prompt:    "process each row",
		Documents: []Document{{FileName: "notes.txt", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("missing tabular attachment should fail")
	}
	if res.Error != "no tabular document attached" {
		t.Fatalf("unexpected error message %q", res.Error)
	}
}

func TestTabularStrategyEmptyDocumentYieldsEmptyResult(t *testing.T) {
	t.Parallel()
	s := newTabularStrategy(&fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		t.Error("no remote call expected for an empty document")
		return CompletionResponse{}, nil
	}}, nil)

	res, err := s.Execute(context.Background(), &ProcessRequest{
		Prompt:    "process each row",
		Documents: []Document{{FileName: "empty.csv", Content: "id,name\n"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Content != "" {
		t.Fatalf("header-only document should produce an empty success: %+v", res)
	}
}

func TestTabularStrategyProcessesFirstTabularDocumentOnly(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var seenPrompts []string
	fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		user := req.Messages[len(req.Messages)-1].Content
		mu.Lock()
		seenPrompts = append(seenPrompts, user)
		mu.Unlock()
		return CompletionResponse{Text: "ok"}, nil
	}}
	s := newTabularStrategy(fake, nil)

	res, err := s.Execute(context.Background(), &ProcessRequest{
		Prompt: "process each row",
		Documents: []Document{
			{FileName: "first.csv", Content: "id\n1\n2"},
			{FileName: "second.csv", Content: "id\n3\n4"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("run failed: %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, u := range seenPrompts {
		if strings.Contains(u, "second.csv") {
			t.Fatalf("second attachment was dispatched: %q", u)
		}
	}
}

func TestTabularStrategyStoresResultsOnMiss(t *testing.T) {
	t.Parallel()
	cache := newMemResultCache()
	fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		return CompletionResponse{Text: "out"}, nil
	}}
	s := newTabularStrategy(fake, cache)
	req := &ProcessRequest{
		InteractionID: "i1",
		Prompt:        "process each row",
		Documents:     []Document{{FileName: "d.csv", Content: "id\n1\n2\n3"}},
	}

	if _, err := s.Execute(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := cache.DeriveKey(req.InteractionID, req.Documents, req.Prompt)
	stored, ok := cache.Get(context.Background(), key)
	if !ok {
		t.Fatal("results not stored after miss")
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored batch results, got %d", len(stored))
	}

	// second execution must come from the cache
	calls := fake.callCount()
	res, err := s.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.callCount() != calls {
		t.Fatal("cache hit still dispatched batches")
	}
	if !res.CacheHit {
		t.Fatal("cache hit not flagged")
	}
}

func TestTabularStrategyDoesNotCacheFailedRuns(t *testing.T) {
	t.Parallel()
	cache := newMemResultCache()
	var failing atomic.Bool
	failing.Store(true)
	fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		if failing.Load() {
			return CompletionResponse{}, errors.New("backend down")
		}
		return CompletionResponse{Text: "out"}, nil
	}}
	s := newTabularStrategy(fake, cache)
	req := &ProcessRequest{
		InteractionID: "i2",
		Prompt:        "process each row",
		Documents:     []Document{{FileName: "d.csv", Content: "id\n1\n2\n3"}},
	}

	if _, err := s.Execute(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := cache.DeriveKey(req.InteractionID, req.Documents, req.Prompt)
	if _, ok := cache.Get(context.Background(), key); ok {
		t.Fatal("failed run must not be cached")
	}

	// once the backend recovers the same request must be recomputed and cached
	failing.Store(false)
	res, err := s.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || strings.Contains(res.Content, "backend down") {
		t.Fatalf("recovered run still carries the stale failure: %+v", res)
	}
	if _, ok := cache.Get(context.Background(), key); !ok {
		t.Fatal("successful run should be cached")
	}
}

func TestCompletionStrategyAttachesDocuments(t *testing.T) {
	t.Parallel()
	var captured CompletionRequest
	fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		captured = req
		return CompletionResponse{Text: "summary", InputTokens: 8, OutputTokens: 2}, nil
	}}
	s := newCompletionStrategy("summarization", []string{IntentSummarization}, "You summarize.", fake, nil, "m")

	res, err := s.Execute(context.Background(), &ProcessRequest{
		Prompt:    "summarize this",
		Documents: []Document{{FileName: "r.txt", Content: "report body"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Content != "summary" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.TokensUsed != 10 {
		t.Fatalf("tokens %d, want 10", res.TokensUsed)
	}
	user := captured.Messages[len(captured.Messages)-1].Content
	if !strings.Contains(user, "report body") || !strings.Contains(user, "r.txt") {
		t.Fatalf("document not attached to prompt:\n%s", user)
	}
}

func TestCompletionStrategyEmptyResponseFails(t *testing.T) {
	t.Parallel()
	fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		return CompletionResponse{Text: " "}, nil
	}}
	s := newCompletionStrategy("chat", []string{IntentChat}, "You chat.", fake, nil, "m")

	res, err := s.Execute(context.Background(), &ProcessRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error != MsgEmptyResponse {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUnsupportedStrategyFailsCleanly(t *testing.T) {
	t.Parallel()
	s := newUnsupportedStrategy([]string{IntentImageGeneration, IntentChartGeneration})

	if !s.CanHandle(IntentImageGeneration) || !s.CanHandle(IntentChartGeneration) {
		t.Fatal("strategy should claim generation intents")
	}
	if s.CanHandle(IntentChat) {
		t.Fatal("strategy should not claim chat")
	}
	res, err := s.Execute(context.Background(), &ProcessRequest{Prompt: "draw"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}
