package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/llm"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
	"github.com/stipendhq/stipend-engine/pkg/retry"
)

// Reason tags recorded on archived drafts.
const (
	archiveReasonRegenerate = "regenerate"
)

// How many knowledge items are retrieved as generation context.
const retrievalLimit = 8

// SynthesisRequest describes one draft generation request.
type SynthesisRequest struct {
	FieldKey         string
	FieldLabel       string
	PromptText       string
	ScholarshipTitle string
	WordLimit        *int
	Style            llm.StyleOverrides
}

// SynthesisResult is the outcome of a generate or regenerate call.
type SynthesisResult struct {
	Draft            *models.KnowledgeItem `json:"draft"`
	Content          string                `json:"content"`
	WordCount        int                   `json:"word_count"`
	PromptType       string                `json:"prompt_type"`
	Sources          []string              `json:"sources"`
	StyleUsed        string                `json:"style_used"`
	PreviousArchived bool                  `json:"previous_archived"`
}

// SynthesisService manages the versioned draft state machine per
// (user, field key): at most one active synthesized draft, with superseded
// drafts archived and retained for history.
type SynthesisService interface {
	// Generate creates the first active draft for a field. Fails with a
	// conflict if an active draft already exists.
	Generate(ctx context.Context, userID uuid.UUID, req SynthesisRequest) (*SynthesisResult, error)

	// Regenerate archives the current draft (best-effort) and produces a
	// replacement. After success exactly one active draft exists for the
	// field; after a failed regeneration zero remain, never two.
	Regenerate(ctx context.Context, userID, currentDraftID uuid.UUID, req SynthesisRequest) (*SynthesisResult, error)

	// History returns the active and archived drafts for a field, most
	// recent first.
	History(ctx context.Context, userID uuid.UUID, fieldKey string) ([]*models.KnowledgeItem, error)
}

type synthesisService struct {
	repo      repositories.KnowledgeRepository
	generator Generator
	embedder  llm.LLMClient
	genTimeout time.Duration
	embTimeout time.Duration
	keyLocks  *keyLock
	logger    *zap.Logger
}

// NewSynthesisService creates a synthesis service. embedder may be nil;
// retrieval then falls back to exact field-key lookup.
func NewSynthesisService(
	repo repositories.KnowledgeRepository,
	generator Generator,
	embedder llm.LLMClient,
	genTimeout, embTimeout time.Duration,
	logger *zap.Logger,
) SynthesisService {
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	if embTimeout <= 0 {
		embTimeout = 30 * time.Second
	}
	return &synthesisService{
		repo:       repo,
		generator:  generator,
		embedder:   embedder,
		genTimeout: genTimeout,
		embTimeout: embTimeout,
		keyLocks:   newKeyLock(),
		logger:     logger.Named("synthesis"),
	}
}

var _ SynthesisService = (*synthesisService)(nil)

func (s *synthesisService) Generate(ctx context.Context, userID uuid.UUID, req SynthesisRequest) (*SynthesisResult, error) {
	if err := s.validate(userID, req); err != nil {
		return nil, err
	}
	if err := s.requireProfile(ctx, userID); err != nil {
		return nil, err
	}

	lockKey := userID.String() + "/" + req.FieldKey
	if !s.keyLocks.TryAcquire(lockKey) {
		return nil, fmt.Errorf("generation already in flight for field %q: %w", req.FieldKey, apperrors.ErrConflict)
	}
	defer s.keyLocks.Release(lockKey)

	active, err := s.activeDraft(ctx, userID, req.FieldKey)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("active draft %s already exists for field %q: %w", active.ID, req.FieldKey, apperrors.ErrConflict)
	}

	result, err := s.produceDraft(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	result.PreviousArchived = false
	return result, nil
}

func (s *synthesisService) Regenerate(ctx context.Context, userID, currentDraftID uuid.UUID, req SynthesisRequest) (*SynthesisResult, error) {
	if err := s.validate(userID, req); err != nil {
		return nil, err
	}
	if err := s.requireProfile(ctx, userID); err != nil {
		return nil, err
	}

	lockKey := userID.String() + "/" + req.FieldKey
	if !s.keyLocks.TryAcquire(lockKey) {
		return nil, fmt.Errorf("regeneration already in flight for field %q: %w", req.FieldKey, apperrors.ErrConflict)
	}
	defer s.keyLocks.Release(lockKey)

	// Archive the current draft. Best-effort: a lost archive annotation is
	// non-fatal, and the unique active-draft index still protects the
	// invariant if the kind flip itself failed.
	archived := s.archiveDraft(ctx, userID, currentDraftID)

	result, err := s.produceDraft(ctx, userID, req)
	if err != nil {
		// The prior draft stays archived; history retains it, only
		// "current" is temporarily absent.
		return nil, err
	}
	result.PreviousArchived = archived
	return result, nil
}

func (s *synthesisService) History(ctx context.Context, userID uuid.UUID, fieldKey string) ([]*models.KnowledgeItem, error) {
	if strings.TrimSpace(fieldKey) == "" {
		return nil, fmt.Errorf("field key is required")
	}
	drafts, err := s.repo.FindMany(ctx, userID, repositories.KnowledgeFilter{
		Kinds:    []models.Kind{models.KindSynthesizedDraft, models.KindArchivedDraft},
		FieldKey: fieldKey,
	})
	if err != nil {
		return nil, fmt.Errorf("load draft history: %w", err)
	}
	// Most recent first; the active draft, if any, sorts to the front.
	for i, j := 0, len(drafts)-1; i < j; i, j = i+1, j-1 {
		drafts[i], drafts[j] = drafts[j], drafts[i]
	}
	return drafts, nil
}

func (s *synthesisService) validate(userID uuid.UUID, req SynthesisRequest) error {
	if userID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(req.FieldKey) == "" {
		return fmt.Errorf("field key is required")
	}
	return nil
}

// requireProfile enforces the profile-not-ready precondition: generation
// needs at least one harvested fact to ground the draft.
func (s *synthesisService) requireProfile(ctx context.Context, userID uuid.UUID) error {
	facts, err := s.repo.FindMany(ctx, userID, repositories.KnowledgeFilter{
		Kinds: []models.Kind{models.KindFact},
	})
	if err != nil {
		return fmt.Errorf("check profile readiness: %w", err)
	}
	if len(facts) == 0 {
		return fmt.Errorf("no knowledge facts available for user: %w", apperrors.ErrPreconditionFailed)
	}
	return nil
}

func (s *synthesisService) activeDraft(ctx context.Context, userID uuid.UUID, fieldKey string) (*models.KnowledgeItem, error) {
	drafts, err := s.repo.FindMany(ctx, userID, repositories.KnowledgeFilter{
		Kinds:    []models.Kind{models.KindSynthesizedDraft},
		FieldKey: fieldKey,
	})
	if err != nil {
		return nil, fmt.Errorf("load active draft: %w", err)
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return drafts[0], nil
}

// archiveDraft flips the draft to archived_draft and annotates it. Returns
// whether a draft was actually archived. Failures are logged, not returned.
func (s *synthesisService) archiveDraft(ctx context.Context, userID, draftID uuid.UUID) bool {
	if draftID == uuid.Nil {
		return false
	}

	draft, err := s.repo.GetByID(ctx, userID, draftID)
	if err != nil {
		s.logger.Warn("Could not load draft to archive",
			zap.String("user_id", userID.String()),
			zap.String("draft_id", draftID.String()),
			zap.Error(err))
		return false
	}
	if !draft.IsDraft() {
		// Already archived by an earlier attempt.
		return false
	}

	archivedKind := models.KindArchivedDraft
	metadata := make(map[string]any, len(draft.Metadata)+2)
	for k, v := range draft.Metadata {
		metadata[k] = v
	}
	metadata[models.MetaRegeneratedAt] = time.Now().UTC().Format(time.RFC3339)
	metadata[models.MetaRegenerateReason] = archiveReasonRegenerate

	if _, err := s.repo.Update(ctx, userID, draftID, repositories.KnowledgePatch{
		Kind:     &archivedKind,
		Metadata: metadata,
	}); err != nil {
		s.logger.Warn("Failed to archive draft, proceeding",
			zap.String("user_id", userID.String()),
			zap.String("draft_id", draftID.String()),
			zap.Error(err))
		return false
	}

	s.logger.Info("Draft archived",
		zap.String("user_id", userID.String()),
		zap.String("draft_id", draftID.String()))
	return true
}

// produceDraft assembles context, calls the generation service and persists
// the new active draft.
func (s *synthesisService) produceDraft(ctx context.Context, userID uuid.UUID, req SynthesisRequest) (*SynthesisResult, error) {
	retrieved, err := s.retrieveKnowledge(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	genCtx := &llm.GenerationContext{
		FieldKey:           req.FieldKey,
		FieldLabel:         req.FieldLabel,
		PromptText:         req.PromptText,
		ScholarshipTitle:   req.ScholarshipTitle,
		WordLimit:          req.WordLimit,
		Style:              req.Style,
		RetrievedKnowledge: retrieved,
	}

	genResult, err := retry.DoWithResult(ctx, retry.UpstreamConfig(), func() (*llm.GenerationResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
		defer cancel()
		return s.generator.Generate(callCtx, genCtx)
	})
	if err != nil {
		s.logger.Error("Draft generation failed",
			zap.String("user_id", userID.String()),
			zap.String("field_key", req.FieldKey),
			zap.Error(err))
		return nil, fmt.Errorf("generate draft: %w", err)
	}

	metadata := map[string]any{
		models.MetaWordCount:  genResult.WordCount,
		models.MetaPromptType: genResult.PromptType,
		models.MetaStyleUsed:  genResult.StyleUsed,
	}
	if req.FieldLabel != "" {
		metadata[models.MetaFieldLabel] = req.FieldLabel
	}

	draft, err := models.NewDraft(userID, req.FieldKey, genResult.Content, metadata)
	if err != nil {
		return nil, err
	}
	draft.Embedding = s.embedContent(ctx, genResult.Content)

	if err := s.repo.Create(ctx, draft); err != nil {
		return nil, fmt.Errorf("persist draft: %w", err)
	}

	s.logger.Info("Draft created",
		zap.String("user_id", userID.String()),
		zap.String("field_key", req.FieldKey),
		zap.String("draft_id", draft.ID.String()),
		zap.Int("word_count", genResult.WordCount))

	return &SynthesisResult{
		Draft:      draft,
		Content:    genResult.Content,
		WordCount:  genResult.WordCount,
		PromptType: genResult.PromptType,
		Sources:    genResult.Sources,
		StyleUsed:  genResult.StyleUsed,
	}, nil
}

// retrieveKnowledge assembles the generation context: semantic search over
// the user's knowledge base when an embedder is available, exact field-key
// lookup otherwise or when embedding fails.
func (s *synthesisService) retrieveKnowledge(ctx context.Context, userID uuid.UUID, req SynthesisRequest) ([]*models.KnowledgeItem, error) {
	if s.embedder != nil {
		queryText := req.PromptText
		if queryText == "" {
			queryText = req.FieldLabel
		}
		if queryText == "" {
			queryText = req.FieldKey
		}

		vector, err := retry.DoWithResult(ctx, retry.UpstreamConfig(), func() ([]float32, error) {
			callCtx, cancel := context.WithTimeout(ctx, s.embTimeout)
			defer cancel()
			return s.embedder.CreateEmbedding(callCtx, queryText)
		})
		if err == nil && len(vector) > 0 {
			items, err := s.repo.SemanticSearch(ctx, userID, vector, retrievalLimit)
			if err != nil {
				return nil, fmt.Errorf("semantic search: %w", err)
			}
			if len(items) > 0 {
				return items, nil
			}
		} else if err != nil {
			s.logger.Warn("Embedding failed, falling back to field-key lookup",
				zap.String("field_key", req.FieldKey),
				zap.Error(err))
		}
	}

	items, err := s.repo.FindMany(ctx, userID, repositories.KnowledgeFilter{
		Kinds:    []models.Kind{models.KindFact},
		FieldKey: req.FieldKey,
	})
	if err != nil {
		return nil, fmt.Errorf("load field facts: %w", err)
	}
	return items, nil
}

// embedContent embeds draft content for later semantic retrieval.
// Best-effort: a missing embedding never blocks persistence.
func (s *synthesisService) embedContent(ctx context.Context, content string) []float32 {
	if s.embedder == nil {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.embTimeout)
	defer cancel()

	vector, err := s.embedder.CreateEmbedding(callCtx, content)
	if err != nil {
		s.logger.Warn("Failed to embed draft content", zap.Error(err))
		return nil
	}
	return vector
}
