package core

import (
	"strings"
	"testing"

	"github.com/crestapps/tabflow/internal/pipeline/config"
)

func TestNewCompletionProviderSkipsUnsupportedEntries(t *testing.T) {
	t.Parallel()
	cfg := config.LLMConfig{Providers: map[string]config.LLMProvider{
		// env overrides can add key-only entries with no type
		"anthropic": {APIKey: "sk-ant"},
		"openai":    {Type: "openai", APIKey: "sk-oai"},
	}}

	// map iteration order must not matter
	for i := 0; i < 20; i++ {
		p, err := NewCompletionProvider(cfg)
		if err != nil {
			t.Fatalf("usable openai entry rejected: %v", err)
		}
		if p == nil {
			t.Fatal("nil provider without error")
		}
	}
}

func TestNewCompletionProviderNoUsableEntry(t *testing.T) {
	t.Parallel()
	cfg := config.LLMConfig{Providers: map[string]config.LLMProvider{
		"anthropic": {APIKey: "sk-ant"},
	}}

	if _, err := NewCompletionProvider(cfg); err == nil {
		t.Fatal("expected error when no entry has a supported type")
	} else if !strings.Contains(err.Error(), "openai") {
		t.Fatalf("error should name the supported type: %v", err)
	}
}

func TestNewCompletionProviderEmptyConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewCompletionProvider(config.LLMConfig{}); err == nil {
		t.Fatal("expected error for empty provider map")
	}
}
