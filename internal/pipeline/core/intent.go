package core

import (
	"context"
	"path/filepath"
	"strings"
)

// Fixed confidence constants per category. These are deliberate constants
// rather than computed scores: categories are mutually exclusive by check
// order, not by score.
const (
	confidenceTabular       = 0.95
	confidenceSummarization = 0.9
	confidenceChart         = 0.9
	confidenceImage         = 0.85
	confidenceExtraction    = 0.85
	confidenceComparison    = 0.85
	confidenceTransform     = 0.8
	confidenceHistory       = 0.75
	confidenceQuestion      = 0.6
	confidenceDefault       = 0.5
)

const defaultIntentReason = "no specific intent detected"

// IntentDefinition describes one registered intent
type IntentDefinition struct {
	Name        string
	Description string
	Heavy       bool
}

// IntentRegistry is the immutable set of registered intents. It is built
// eagerly at startup and shared by reference.
type IntentRegistry struct {
	ordered []IntentDefinition
	byLower map[string]IntentDefinition
}

// NewIntentRegistry builds the registry of all intents the pipeline knows
func NewIntentRegistry() *IntentRegistry {
	defs := []IntentDefinition{
		{Name: IntentSummarization, Description: "Summarize one or more attached documents or the conversation."},
		{Name: IntentTabularAnalysis, Description: "Process a large tabular document (CSV, spreadsheet) row by row.", Heavy: true},
		{Name: IntentExtraction, Description: "Extract specific fields or facts from the attached documents."},
		{Name: IntentComparison, Description: "Compare two or more attached documents."},
		{Name: IntentTransformation, Description: "Rewrite, reformat or translate the provided content."},
		{Name: IntentImageGeneration, Description: "Generate an image from a description.", Heavy: true},
		{Name: IntentChartGeneration, Description: "Generate a chart or graph from data.", Heavy: true},
		{Name: IntentHistoryReference, Description: "Answer using earlier turns of this conversation."},
		{Name: IntentChat, Description: "General question answering and conversation."},
	}
	r := &IntentRegistry{byLower: make(map[string]IntentDefinition, len(defs))}
	for _, d := range defs {
		r.ordered = append(r.ordered, d)
		r.byLower[strings.ToLower(d.Name)] = d
	}
	return r
}

// Lookup finds an intent by name, case-insensitively, returning the
// canonically cased definition.
func (r *IntentRegistry) Lookup(name string) (IntentDefinition, bool) {
	d, ok := r.byLower[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// All returns the registered intents in order. When includeHeavy is false the
// heavy subset is excluded.
func (r *IntentRegistry) All(includeHeavy bool) []IntentDefinition {
	if includeHeavy {
		out := make([]IntentDefinition, len(r.ordered))
		copy(out, r.ordered)
		return out
	}
	var out []IntentDefinition
	for _, d := range r.ordered {
		if !d.Heavy {
			out = append(out, d)
		}
	}
	return out
}

// tabularExtensions is the allow-list of attachments that qualify a request
// for tabular analysis.
var tabularExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
	".tsv":  true,
}

// IsTabularFileName reports whether a file name has a tabular extension
func IsTabularFileName(name string) bool {
	return tabularExtensions[strings.ToLower(filepath.Ext(name))]
}

// Ordered keyword tables. Order encodes priority: the first matching category
// wins, and chart keywords are checked before image keywords so the more
// specific phrasing takes precedence.
var (
	summarizationKeywords = []string{"summarize", "summarise", "summary", "tl;dr", "tldr", "key points", "main points", "brief overview", "recap"}
	tabularKeywords       = []string{"each row", "every row", "per row", "row by row", "all rows", "spreadsheet", "csv", "table", "tabular", "column", "cells", "for each record", "every record", "each entry", "all entries"}
	extractionKeywords    = []string{"extract", "pull out", "find all", "list all", "identify all", "get the", "retrieve"}
	comparisonKeywords    = []string{"compare", "comparison", "difference between", "differences between", "versus", " vs ", "contrast"}
	transformKeywords     = []string{"rewrite", "reformat", "convert", "translate", "rephrase", "transform", "turn this into", "change the format"}
	chartKeywords         = []string{"chart", "graph", "plot", "bar chart", "pie chart", "line graph", "histogram", "visualize the data", "visualise the data"}
	imageKeywords         = []string{"image", "picture", "draw", "illustration", "photo", "generate an image", "create an image"}
	historyKeywords       = []string{"earlier", "previously", "last time", "you said", "you mentioned", "we discussed", "as before", "from our conversation"}
	questionStarters      = []string{"what", "who", "when", "where", "why", "how", "which", "is ", "are ", "can ", "could ", "do ", "does ", "did ", "will ", "would ", "should "}
)

// KeywordClassifier is the deterministic baseline intent classifier
type KeywordClassifier struct {
	registry       *IntentRegistry
	fallbackIntent string
}

// NewKeywordClassifier creates a keyword classifier backed by the registry
func NewKeywordClassifier(registry *IntentRegistry, fallbackIntent string) *KeywordClassifier {
	if fallbackIntent == "" {
		fallbackIntent = IntentChat
	}
	return &KeywordClassifier{registry: registry, fallbackIntent: fallbackIntent}
}

// Classify runs the ordered keyword tables over the prompt. It never fails;
// the worst case is the default intent with confidence 0.5.
func (c *KeywordClassifier) Classify(_ context.Context, dctx DetectionContext) ClassifiedIntent {
	prompt := strings.ToLower(strings.TrimSpace(dctx.Prompt))
	if prompt == "" {
		return c.defaultIntent()
	}

	if containsAny(prompt, summarizationKeywords) {
		return ClassifiedIntent{Name: IntentSummarization, Confidence: confidenceSummarization, Reason: "summarization keywords matched"}
	}
	if containsAny(prompt, tabularKeywords) && hasTabularAttachment(dctx.Documents) {
		return ClassifiedIntent{Name: IntentTabularAnalysis, Confidence: confidenceTabular, Reason: "tabular keywords matched with tabular attachment"}
	}
	if containsAny(prompt, extractionKeywords) {
		return ClassifiedIntent{Name: IntentExtraction, Confidence: confidenceExtraction, Reason: "extraction keywords matched"}
	}
	if containsAny(prompt, comparisonKeywords) && len(dctx.Documents) >= 2 {
		return ClassifiedIntent{Name: IntentComparison, Confidence: confidenceComparison, Reason: "comparison keywords matched with multiple attachments"}
	}
	if containsAny(prompt, transformKeywords) {
		return ClassifiedIntent{Name: IntentTransformation, Confidence: confidenceTransform, Reason: "transformation keywords matched"}
	}
	// chart before image: "draw a bar chart" must not classify as image
	if containsAny(prompt, chartKeywords) {
		return ClassifiedIntent{Name: IntentChartGeneration, Confidence: confidenceChart, Reason: "chart keywords matched"}
	}
	if containsAny(prompt, imageKeywords) {
		return ClassifiedIntent{Name: IntentImageGeneration, Confidence: confidenceImage, Reason: "image keywords matched"}
	}
	if containsAny(prompt, historyKeywords) {
		return ClassifiedIntent{Name: IntentHistoryReference, Confidence: confidenceHistory, Reason: "history reference cues matched"}
	}

	if looksLikeQuestion(prompt) {
		return ClassifiedIntent{Name: c.fallbackIntent, Confidence: confidenceQuestion, Reason: "question pattern detected"}
	}

	return c.defaultIntent()
}

func (c *KeywordClassifier) defaultIntent() ClassifiedIntent {
	return ClassifiedIntent{Name: c.fallbackIntent, Confidence: confidenceDefault, Reason: defaultIntentReason}
}

func containsAny(prompt string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(prompt, k) {
			return true
		}
	}
	return false
}

func hasTabularAttachment(docs []DocumentRef) bool {
	for _, d := range docs {
		if IsTabularFileName(d.FileName) {
			return true
		}
	}
	return false
}

func looksLikeQuestion(prompt string) bool {
	if strings.Contains(prompt, "?") {
		return true
	}
	for _, s := range questionStarters {
		if strings.HasPrefix(prompt, s) {
			return true
		}
	}
	return false
}
