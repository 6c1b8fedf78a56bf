package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

const (
	classifyTemperature = 0.1
	classifyMaxTokens   = 200
)

// RemoteClassifier asks a completion backend to pick an intent and falls back
// to the keyword classifier on any failure. Remote classification is
// best-effort; the keyword classifier is the guaranteed baseline.
type RemoteClassifier struct {
	registry       *IntentRegistry
	provider       Completer
	model          string
	fallback       *KeywordClassifier
	fallbackIntent string
	includeHeavy   bool
	logger         *log.Logger
}

// NewRemoteClassifier creates a remote classifier wrapping the keyword one
func NewRemoteClassifier(registry *IntentRegistry, provider Completer, model string, fallback *KeywordClassifier, fallbackIntent string, includeHeavy bool, logger *log.Logger) *RemoteClassifier {
	if fallbackIntent == "" {
		fallbackIntent = IntentChat
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INTENT] ", log.LstdFlags)
	}
	return &RemoteClassifier{
		registry:       registry,
		provider:       provider,
		model:          model,
		fallback:       fallback,
		fallbackIntent: fallbackIntent,
		includeHeavy:   includeHeavy,
		logger:         logger,
	}
}

// Classify attempts remote classification and silently defers to the keyword
// classifier on any failure along the way.
func (c *RemoteClassifier) Classify(ctx context.Context, dctx DetectionContext) ClassifiedIntent {
	if c.provider == nil || c.model == "" {
		return c.fallback.Classify(ctx, dctx)
	}

	resp, err := c.provider.Complete(ctx, CompletionRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: c.systemPrompt()},
			{Role: "user", Content: c.userPrompt(dctx)},
		},
		Temperature: floatPtr(classifyTemperature),
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		c.logger.Printf("remote classification failed, using keyword classifier: %v", err)
		return c.fallback.Classify(ctx, dctx)
	}
	if strings.TrimSpace(resp.Text) == "" {
		c.logger.Printf("remote classifier returned empty response, using keyword classifier")
		return c.fallback.Classify(ctx, dctx)
	}

	obj, ok := firstJSONObject(resp.Text)
	if !ok {
		c.logger.Printf("no JSON object in remote classifier response, using keyword classifier")
		return c.fallback.Classify(ctx, dctx)
	}

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		c.logger.Printf("malformed remote classifier JSON, using keyword classifier: %v", err)
		return c.fallback.Classify(ctx, dctx)
	}

	return c.validate(parsed.Intent, parsed.Confidence, parsed.Reason)
}

// validate coerces the remote intent onto the registered set. Unknown names
// and administratively disabled heavy intents collapse to the fallback.
func (c *RemoteClassifier) validate(intent string, confidence float64, reason string) ClassifiedIntent {
	name := c.fallbackIntent
	if def, ok := c.registry.Lookup(intent); ok {
		if def.Heavy && !c.includeHeavy {
			reason = fmt.Sprintf("intent %q is disabled, using fallback", def.Name)
		} else {
			name = def.Name
		}
	} else {
		reason = fmt.Sprintf("unrecognized intent %q, using fallback", intent)
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if reason == "" {
		reason = "classified by model"
	}
	return ClassifiedIntent{Name: name, Confidence: confidence, Reason: reason}
}

func (c *RemoteClassifier) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify user requests into exactly one intent. The registered intents are:\n\n")
	for _, d := range c.registry.All(c.includeHeavy) {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	b.WriteString("\nRespond ONLY with a JSON object of the form ")
	b.WriteString(`{"intent": "<name>", "confidence": <0..1>, "reason": "<short explanation>"}`)
	b.WriteString(". Do not include any other text.")
	return b.String()
}

func (c *RemoteClassifier) userPrompt(dctx DetectionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USER REQUEST: %q\n", dctx.Prompt)
	if len(dctx.Documents) > 0 {
		b.WriteString("ATTACHED DOCUMENTS:\n")
		for _, d := range dctx.Documents {
			fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", d.FileName, d.ContentType, d.SizeBytes)
		}
	}
	if dctx.InteractionSource != "" {
		fmt.Fprintf(&b, "SOURCE: %s\n", dctx.InteractionSource)
	}
	return b.String()
}

// firstJSONObject extracts the first balanced {...} object from raw model
// output, tolerating surrounding prose or code fences. Braces inside JSON
// strings are ignored.
func firstJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func floatPtr(f float64) *float64 { return &f }

// IntentClassifier is the two-strategy composite: remote first when
// configured, keyword always as the baseline. An empty prompt never reaches
// either strategy.
type IntentClassifier struct {
	remote         *RemoteClassifier
	keyword        *KeywordClassifier
	fallbackIntent string
}

// NewIntentClassifier builds the composite classifier. remote may be nil, in
// which case only the keyword strategy runs.
func NewIntentClassifier(remote *RemoteClassifier, keyword *KeywordClassifier, fallbackIntent string) *IntentClassifier {
	if fallbackIntent == "" {
		fallbackIntent = IntentChat
	}
	return &IntentClassifier{remote: remote, keyword: keyword, fallbackIntent: fallbackIntent}
}

// Classify never fails; classification trouble degrades toward the default
// intent instead of surfacing errors.
func (c *IntentClassifier) Classify(ctx context.Context, dctx DetectionContext) ClassifiedIntent {
	if strings.TrimSpace(dctx.Prompt) == "" {
		return ClassifiedIntent{Name: c.fallbackIntent, Confidence: confidenceDefault, Reason: defaultIntentReason}
	}
	if c.remote != nil {
		return c.remote.Classify(ctx, dctx)
	}
	return c.keyword.Classify(ctx, dctx)
}
