package core

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/crestapps/tabflow/internal/pipeline/config"
)

// NewCompletionProvider creates a completion provider based on configuration.
// Provider entries are scanned in sorted key order so the choice is stable;
// entries with an unsupported type are skipped, and it is only an error when
// no entry is usable.
func NewCompletionProvider(cfg config.LLMConfig) (CompletionProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if provider := cfg.Providers[name]; provider.Type == "openai" {
			return NewOpenAIProvider(provider), nil
		}
	}

	return nil, fmt.Errorf("no supported LLM provider configured (want type \"openai\")")
}

// OpenAIProvider implements CompletionProvider against the OpenAI chat API
type OpenAIProvider struct {
	config    config.LLMProvider
	models    map[string]ModelInfo
	rawModels map[string]config.LLMModel
	http      *HTTPClient
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	provider := &OpenAIProvider{
		config:    cfg,
		models:    make(map[string]ModelInfo),
		rawModels: cfg.Models,
		http:      NewHTTPClient(cfg.Timeout, cfg.MaxRetries, 0),
	}

	for key, model := range cfg.Models {
		provider.models[key] = ModelInfo{
			Name:            model.Name,
			Provider:        "openai",
			MaxTokens:       model.MaxTokens,
			CostPer1KInput:  model.CostPer1K,
			CostPer1KOutput: model.CostPer1KOutput,
		}
	}

	return provider
}

// Complete sends a chat completion request and returns text plus token usage
func (p *OpenAIProvider) Complete(ctx context.Context, creq CompletionRequest) (CompletionResponse, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return CompletionResponse{}, fmt.Errorf("OpenAI API key not configured")
	}

	apiModel := creq.Model
	maxTokens := creq.MaxTokens
	var temperature *float64
	if m, ok := p.rawModels[creq.Model]; ok {
		if m.APIName != "" {
			apiModel = m.APIName
		}
		if maxTokens == 0 {
			maxTokens = m.MaxTokens
		}
		if creq.Temperature == nil && m.Temperature != 0 {
			t := m.Temperature
			temperature = &t
		}
	}
	if creq.Temperature != nil {
		temperature = creq.Temperature
	}

	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature *float64  `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	body := chatReq{Model: apiModel, Messages: creq.Messages, Temperature: temperature, MaxTokens: maxTokens}
	if err := p.http.DoJSON(ctx, "POST", baseURL+"/chat/completions", headers, body, &out); err != nil {
		return CompletionResponse{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("no choices in response")
	}

	return CompletionResponse{
		Text:         out.Choices[0].Message.Content,
		InputTokens:  int64(out.Usage.PromptTokens),
		OutputTokens: int64(out.Usage.CompletionTokens),
	}, nil
}

// GetAvailableModels returns configured model names
func (p *OpenAIProvider) GetAvailableModels() []string {
	var models []string
	for name := range p.models {
		models = append(models, name)
	}
	return models
}

// GetModelInfo returns information about a specific model
func (p *OpenAIProvider) GetModelInfo(model string) (ModelInfo, error) {
	info, exists := p.models[model]
	if !exists {
		return ModelInfo{}, fmt.Errorf("model not found: %s", model)
	}
	return info, nil
}

// CalculateCost calculates the cost for a given number of tokens
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	info, err := p.GetModelInfo(model)
	if err != nil {
		return 0.0
	}

	inputCost := float64(inputTokens) / 1000.0 * info.CostPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * info.CostPer1KOutput
	return inputCost + outputCost
}
