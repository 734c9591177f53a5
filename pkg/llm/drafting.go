package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/models"
)

// Prompt type tags reported back to the caller.
const (
	PromptTypeEssay       = "essay"
	PromptTypeShortAnswer = "short_answer"
)

// Short-answer fields get a tighter prompt than essays.
const shortAnswerWordLimit = 50

// StyleOverrides carries optional user style preferences for a draft.
type StyleOverrides struct {
	Tone       string `json:"tone,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Complexity string `json:"complexity,omitempty"`
	Focus      string `json:"focus,omitempty"`
}

// IsZero reports whether no override is set.
func (s StyleOverrides) IsZero() bool {
	return s.Tone == "" && s.Voice == "" && s.Complexity == "" && s.Focus == ""
}

// Describe renders the overrides as prompt instructions.
func (s StyleOverrides) Describe() string {
	var parts []string
	if s.Tone != "" {
		parts = append(parts, "tone: "+s.Tone)
	}
	if s.Voice != "" {
		parts = append(parts, "voice: "+s.Voice)
	}
	if s.Complexity != "" {
		parts = append(parts, "complexity: "+s.Complexity)
	}
	if s.Focus != "" {
		parts = append(parts, "focus: "+s.Focus)
	}
	return strings.Join(parts, ", ")
}

// GenerationContext is the assembled input for one draft generation call.
type GenerationContext struct {
	FieldKey           string
	FieldLabel         string
	PromptText         string
	ScholarshipTitle   string
	WordLimit          *int
	Style              StyleOverrides
	RetrievedKnowledge []*models.KnowledgeItem
}

// GenerationResult is the outcome of one draft generation call.
type GenerationResult struct {
	Content    string
	WordCount  int
	Sources    []string
	StyleUsed  string
	PromptType string
}

// DraftWriter turns a generation context into a field-specific draft answer
// using the configured LLM backend.
type DraftWriter struct {
	client LLMClient
	logger *zap.Logger
}

// NewDraftWriter creates a DraftWriter over the given client.
func NewDraftWriter(client LLMClient, logger *zap.Logger) *DraftWriter {
	return &DraftWriter{
		client: client,
		logger: logger.Named("draft-writer"),
	}
}

// Generate produces a draft answer for genCtx.
func (w *DraftWriter) Generate(ctx context.Context, genCtx *GenerationContext) (*GenerationResult, error) {
	if genCtx.FieldKey == "" {
		return nil, fmt.Errorf("generation context requires a field key")
	}

	promptType := classifyPrompt(genCtx)
	prompt := w.buildPrompt(genCtx, promptType)

	result, err := w.client.GenerateResponse(ctx, prompt, draftSystemMessage, 0.7)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(result.Content)
	if content == "" {
		return nil, NewError(ErrorTypeInvalidResponse, "empty draft content", false, nil)
	}

	styleUsed := "default"
	if !genCtx.Style.IsZero() {
		styleUsed = genCtx.Style.Describe()
	}

	w.logger.Debug("Draft generated",
		zap.String("field_key", genCtx.FieldKey),
		zap.String("prompt_type", promptType),
		zap.Int("word_count", len(strings.Fields(content))))

	return &GenerationResult{
		Content:    content,
		WordCount:  len(strings.Fields(content)),
		Sources:    collectSources(genCtx.RetrievedKnowledge),
		StyleUsed:  styleUsed,
		PromptType: promptType,
	}, nil
}

const draftSystemMessage = `You are an assistant that writes scholarship application answers on behalf of a student, using only the factual knowledge provided. Never invent biographical facts. Write in first person. Return only the answer text with no preamble.`

func classifyPrompt(genCtx *GenerationContext) string {
	if genCtx.WordLimit != nil && *genCtx.WordLimit <= shortAnswerWordLimit {
		return PromptTypeShortAnswer
	}
	return PromptTypeEssay
}

func (w *DraftWriter) buildPrompt(genCtx *GenerationContext, promptType string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scholarship: %s\n", genCtx.ScholarshipTitle)
	label := genCtx.FieldLabel
	if label == "" {
		label = genCtx.FieldKey
	}
	fmt.Fprintf(&b, "Form field: %s\n", label)
	if genCtx.PromptText != "" {
		fmt.Fprintf(&b, "Question: %s\n", genCtx.PromptText)
	}
	if genCtx.WordLimit != nil {
		fmt.Fprintf(&b, "Word limit: %d words. Stay under it.\n", *genCtx.WordLimit)
	}
	if !genCtx.Style.IsZero() {
		fmt.Fprintf(&b, "Style: %s\n", genCtx.Style.Describe())
	}

	if len(genCtx.RetrievedKnowledge) > 0 {
		b.WriteString("\nKnown facts about the applicant:\n")
		for _, item := range genCtx.RetrievedKnowledge {
			fmt.Fprintf(&b, "- [%s] %s\n", item.FieldKey, item.Content)
		}
	}

	switch promptType {
	case PromptTypeShortAnswer:
		b.WriteString("\nWrite a concise, direct answer for this field.")
	default:
		b.WriteString("\nWrite a compelling, personal answer for this field.")
	}

	return b.String()
}

// collectSources returns the distinct provenance tags of the retrieved
// knowledge, in retrieval order.
func collectSources(items []*models.KnowledgeItem) []string {
	seen := make(map[string]bool)
	sources := make([]string, 0, len(items))
	for _, item := range items {
		if item.Source == "" || seen[item.Source] {
			continue
		}
		seen[item.Source] = true
		sources = append(sources, item.Source)
	}
	return sources
}
