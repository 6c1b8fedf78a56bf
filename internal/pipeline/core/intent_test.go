package core

import (
	"context"
	"errors"
	"testing"
)

func newKeyword() *KeywordClassifier {
	return NewKeywordClassifier(NewIntentRegistry(), IntentChat)
}

func TestKeywordClassifierCategories(t *testing.T) {
	t.Parallel()
	kc := newKeyword()
	csvDoc := []DocumentRef{{FileName: "data.csv"}}
	twoDocs := []DocumentRef{{FileName: "a.txt"}, {FileName: "b.txt"}}

	cases := []struct {
		name       string
		prompt     string
		docs       []DocumentRef
		intent     string
		confidence float64
	}{
		{"summarize", "Summarize this document for me", nil, IntentSummarization, 0.9},
		{"tldr", "tl;dr please", nil, IntentSummarization, 0.9},
		{"tabular with csv", "process each row of this spreadsheet", csvDoc, IntentTabularAnalysis, 0.95},
		{"extraction", "extract all email addresses", nil, IntentExtraction, 0.85},
		{"comparison with two docs", "compare these documents", twoDocs, IntentComparison, 0.85},
		{"transformation", "rewrite this in formal English", nil, IntentTransformation, 0.8},
		{"chart", "make a bar chart of revenue", nil, IntentChartGeneration, 0.9},
		{"image", "draw a picture of a cat", nil, IntentImageGeneration, 0.85},
		{"history", "as you mentioned earlier", nil, IntentHistoryReference, 0.75},
		{"question", "what is the capital of France", nil, IntentChat, 0.6},
		{"default", "hello there friend", nil, IntentChat, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := kc.Classify(context.Background(), DetectionContext{Prompt: tc.prompt, Documents: tc.docs})
			if got.Name != tc.intent {
				t.Fatalf("prompt %q classified as %q, want %q (%s)", tc.prompt, got.Name, tc.intent, got.Reason)
			}
			if got.Confidence != tc.confidence {
				t.Fatalf("prompt %q confidence %v, want %v", tc.prompt, got.Confidence, tc.confidence)
			}
		})
	}
}

func TestKeywordClassifierIsDeterministic(t *testing.T) {
	t.Parallel()
	kc := newKeyword()
	dctx := DetectionContext{Prompt: "extract the totals from each invoice"}

	first := kc.Classify(context.Background(), dctx)
	for i := 0; i < 10; i++ {
		if got := kc.Classify(context.Background(), dctx); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestChartBeatsImageKeywords(t *testing.T) {
	t.Parallel()
	kc := newKeyword()
	got := kc.Classify(context.Background(), DetectionContext{Prompt: "draw a bar chart of sales"})
	if got.Name != IntentChartGeneration {
		t.Fatalf("chart phrasing classified as %q", got.Name)
	}
}

func TestTabularRequiresTabularAttachment(t *testing.T) {
	t.Parallel()
	kc := newKeyword()

	got := kc.Classify(context.Background(), DetectionContext{Prompt: "process each row"})
	if got.Name == IntentTabularAnalysis {
		t.Fatalf("tabular intent without attachment: %+v", got)
	}

	got = kc.Classify(context.Background(), DetectionContext{
		Prompt:    "process each row",
		Documents: []DocumentRef{{FileName: "report.pdf"}},
	})
	if got.Name == IntentTabularAnalysis {
		t.Fatalf("tabular intent with non-tabular attachment: %+v", got)
	}
}

func TestComparisonRequiresTwoDocuments(t *testing.T) {
	t.Parallel()
	kc := newKeyword()
	got := kc.Classify(context.Background(), DetectionContext{
		Prompt:    "compare the quarterly numbers",
		Documents: []DocumentRef{{FileName: "q1.txt"}},
	})
	if got.Name == IntentComparison {
		t.Fatalf("comparison intent with a single attachment: %+v", got)
	}
}

func TestIsTabularFileName(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"data.csv":   true,
		"DATA.CSV":   true,
		"book.xlsx":  true,
		"old.xls":    true,
		"tabs.tsv":   true,
		"report.pdf": false,
		"noext":      false,
		"csv":        false,
	}
	for name, want := range cases {
		if got := IsTabularFileName(name); got != want {
			t.Fatalf("IsTabularFileName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestEmptyPromptNeverReachesStrategies(t *testing.T) {
	t.Parallel()
	remote := NewRemoteClassifier(NewIntentRegistry(), &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		t.Fatal("remote classifier must not be called for an empty prompt")
		return CompletionResponse{}, nil
	}}, "m", newKeyword(), IntentChat, true, nil)
	c := NewIntentClassifier(remote, newKeyword(), IntentChat)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		got := c.Classify(context.Background(), DetectionContext{Prompt: prompt})
		if got.Name != IntentChat || got.Confidence != 0.5 {
			t.Fatalf("empty prompt classified as %+v", got)
		}
		if got.Reason != "no specific intent detected" {
			t.Fatalf("unexpected reason %q", got.Reason)
		}
	}
}

func TestRemoteClassifierParsesModelOutput(t *testing.T) {
	t.Parallel()
	fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
		return CompletionResponse{Text: "Sure! Here you go:\n```json\n{\"intent\": \"extraction\", \"confidence\": 0.92, \"reason\": \"asks for fields\"}\n```"}, nil
	}}
	rc := NewRemoteClassifier(NewIntentRegistry(), fake, "m", newKeyword(), IntentChat, true, nil)

	got := rc.Classify(context.Background(), DetectionContext{Prompt: "get the totals"})
	if got.Name != IntentExtraction || got.Confidence != 0.92 {
		t.Fatalf("unexpected classification %+v", got)
	}
}

func TestRemoteClassifierFallsBackToKeyword(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		fn   func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	}{
		{"error", func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{}, errors.New("remote down")
		}},
		{"blank", func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: "  "}, nil
		}},
		{"no json", func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: "I think it is extraction"}, nil
		}},
		{"malformed json", func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: `{"intent": extraction}`}, nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := NewRemoteClassifier(NewIntentRegistry(), &fakeCompleter{fn: tc.fn}, "m", newKeyword(), IntentChat, true, nil)
			got := rc.Classify(context.Background(), DetectionContext{Prompt: "summarize this report"})
			// keyword baseline must decide
			if got.Name != IntentSummarization {
				t.Fatalf("%s: expected keyword fallback, got %+v", tc.name, got)
			}
		})
	}
}

func TestRemoteClassifierValidatesIntent(t *testing.T) {
	t.Parallel()

	t.Run("unknown intent collapses to fallback", func(t *testing.T) {
		fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: `{"intent": "world_domination", "confidence": 0.99, "reason": "x"}`}, nil
		}}
		rc := NewRemoteClassifier(NewIntentRegistry(), fake, "m", newKeyword(), IntentChat, true, nil)
		got := rc.Classify(context.Background(), DetectionContext{Prompt: "whatever"})
		if got.Name != IntentChat {
			t.Fatalf("unknown intent not coerced: %+v", got)
		}
	})

	t.Run("heavy intent disabled", func(t *testing.T) {
		fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: `{"intent": "tabular_analysis", "confidence": 0.9, "reason": "x"}`}, nil
		}}
		rc := NewRemoteClassifier(NewIntentRegistry(), fake, "m", newKeyword(), IntentChat, false, nil)
		got := rc.Classify(context.Background(), DetectionContext{Prompt: "whatever"})
		if got.Name != IntentChat {
			t.Fatalf("disabled heavy intent not coerced: %+v", got)
		}
	})

	t.Run("confidence clamped", func(t *testing.T) {
		fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: `{"intent": "chat", "confidence": 7.5, "reason": "x"}`}, nil
		}}
		rc := NewRemoteClassifier(NewIntentRegistry(), fake, "m", newKeyword(), IntentChat, true, nil)
		got := rc.Classify(context.Background(), DetectionContext{Prompt: "whatever"})
		if got.Confidence != 1 {
			t.Fatalf("confidence not clamped: %v", got.Confidence)
		}
	})

	t.Run("case insensitive lookup", func(t *testing.T) {
		fake := &fakeCompleter{fn: func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
			return CompletionResponse{Text: `{"intent": "Extraction", "confidence": 0.8, "reason": "x"}`}, nil
		}}
		rc := NewRemoteClassifier(NewIntentRegistry(), fake, "m", newKeyword(), IntentChat, true, nil)
		got := rc.Classify(context.Background(), DetectionContext{Prompt: "whatever"})
		if got.Name != IntentExtraction {
			t.Fatalf("lookup should be case-insensitive: %+v", got)
		}
	})
}

func TestRegistryHeavyFilter(t *testing.T) {
	t.Parallel()
	r := NewIntentRegistry()

	all := r.All(true)
	light := r.All(false)
	if len(all) != 9 {
		t.Fatalf("expected 9 registered intents, got %d", len(all))
	}
	if len(light) != 6 {
		t.Fatalf("expected 6 light intents, got %d", len(light))
	}
	for _, d := range light {
		if d.Heavy {
			t.Fatalf("heavy intent %q leaked through filter", d.Name)
		}
	}
}

func TestFirstJSONObject(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"prose {\"a\": {\"b\": 2}} more", `{"a": {"b": 2}}`, true},
		{`{"s": "br}ace"}`, `{"s": "br}ace"}`, true},
		{`{"s": "esc\"}"}`, `{"s": "esc\"}"}`, true},
		{"no object here", "", false},
		{"{unclosed", "", false},
	}
	for _, tc := range cases {
		got, ok := firstJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("firstJSONObject(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
