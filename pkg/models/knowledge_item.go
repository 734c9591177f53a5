// Package models contains domain types for stipend-engine.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the variants of a KnowledgeItem.
type Kind string

const (
	// KindFact is a candidate or verified value for a semantic field,
	// harvested from documents, essays, manual entry or agents.
	KindFact Kind = "fact"
	// KindSynthesizedDraft is the currently active generated answer for a field.
	// At most one exists per (user, field key).
	KindSynthesizedDraft Kind = "synthesized_draft"
	// KindArchivedDraft is a superseded draft kept for history. Terminal.
	KindArchivedDraft Kind = "archived_draft"
)

// IsValid returns true if the kind is one of the known variants.
func (k Kind) IsValid() bool {
	switch k {
	case KindFact, KindSynthesizedDraft, KindArchivedDraft:
		return true
	default:
		return false
	}
}

// Provenance source prefixes and constants for KnowledgeItem.Source.
const (
	SourceManualEntry = "manual_entry"
	SourceAgent       = "agent"
	SourceSynthesis   = "synthesis"

	SourceDocumentPrefix = "document:"
	SourceEssayPrefix    = "essay:"
)

// Metadata keys written by the synthesis and acceptance workflows.
const (
	MetaRegeneratedAt    = "regeneratedAt"
	MetaRegenerateReason = "regenerateReason"
	MetaAcceptedAt       = "acceptedAt"
	MetaWordCount        = "wordCount"
	MetaPromptType       = "promptType"
	MetaStyleUsed        = "styleUsed"
	MetaFieldLabel       = "fieldLabel"
	MetaFieldType        = "fieldType"
)

// KnowledgeItem is the single persisted knowledge entity, polymorphic by Kind.
// Stored in stipend_knowledge_items.
type KnowledgeItem struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Kind       Kind           `json:"kind"`
	FieldKey   string         `json:"field_key"`
	Category   string         `json:"category,omitempty"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Verified   bool           `json:"verified"`
	Source     string         `json:"source"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewFact constructs an unverified fact. FieldKey and content are required;
// confidence must lie in [0,1].
func NewFact(userID uuid.UUID, fieldKey, content string, confidence float64, source string) (*KnowledgeItem, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("fact requires a user id")
	}
	if strings.TrimSpace(fieldKey) == "" {
		return nil, fmt.Errorf("fact requires a field key")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("fact requires content")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range [0,1]", confidence)
	}
	return &KnowledgeItem{
		UserID:     userID,
		Kind:       KindFact,
		FieldKey:   fieldKey,
		Content:    content,
		Confidence: confidence,
		Source:     source,
		Metadata:   map[string]any{},
	}, nil
}

// NewDraft constructs an active synthesized draft. Drafts are never verified
// at creation; acceptance flips the flag later.
func NewDraft(userID uuid.UUID, fieldKey, content string, metadata map[string]any) (*KnowledgeItem, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("draft requires a user id")
	}
	if strings.TrimSpace(fieldKey) == "" {
		return nil, fmt.Errorf("draft requires a field key")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("draft requires content")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &KnowledgeItem{
		UserID:   userID,
		Kind:     KindSynthesizedDraft,
		FieldKey: fieldKey,
		Content:  content,
		Source:   SourceSynthesis,
		Metadata: metadata,
	}, nil
}

// IsDraft reports whether the item is an active synthesized draft.
func (k *KnowledgeItem) IsDraft() bool {
	return k.Kind == KindSynthesizedDraft
}

// WordCount returns the whitespace-delimited word count of the content.
func (k *KnowledgeItem) WordCount() int {
	return len(strings.Fields(k.Content))
}

// FactValue returns the normalized value a fact contributes to consensus
// tallying. Fact content may carry a structured "Value: X" first line from
// extraction; the label is stripped. Whitespace is trimmed and case collapsed
// so that "Alex " and "alex" tally as the same value.
func (k *KnowledgeItem) FactValue() string {
	content := strings.TrimSpace(k.Content)
	if line, _, found := strings.Cut(content, "\n"); found {
		content = strings.TrimSpace(line)
	}
	if rest, ok := cutPrefixFold(content, "value:"); ok {
		content = strings.TrimSpace(rest)
	}
	return strings.ToLower(content)
}

// cutPrefixFold strips prefix case-insensitively.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
