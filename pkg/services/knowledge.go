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

// ManualEntry is a user-typed knowledge value.
type ManualEntry struct {
	FieldKey   string
	Value      string
	Confidence float64
}

// KnowledgeUpdate is a partial edit of a knowledge item. Nil fields are
// left untouched.
type KnowledgeUpdate struct {
	Content    *string
	Confidence *float64
	Verified   *bool
}

// KnowledgeService exposes the user-facing knowledge base: manual entry,
// listing, editing, deletion and semantic lookup. Manual entries pass through
// the same reconciliation policy as harvested facts so a typed value cannot
// silently clobber a verified one.
type KnowledgeService interface {
	AddManual(ctx context.Context, userID uuid.UUID, entry ManualEntry) (*ReconcileReport, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error)
	List(ctx context.Context, userID uuid.UUID, filter repositories.KnowledgeFilter) ([]*models.KnowledgeItem, error)
	Update(ctx context.Context, userID, id uuid.UUID, update KnowledgeUpdate) (*models.KnowledgeItem, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.KnowledgeItem, error)
}

type knowledgeService struct {
	repo       repositories.KnowledgeRepository
	reconciler ReconcilerService
	embedder   llm.LLMClient
	embTimeout time.Duration
	logger     *zap.Logger
}

// NewKnowledgeService creates a knowledge service. embedder may be nil;
// Search then reports an invalid-state error.
func NewKnowledgeService(
	repo repositories.KnowledgeRepository,
	reconciler ReconcilerService,
	embedder llm.LLMClient,
	embTimeout time.Duration,
	logger *zap.Logger,
) KnowledgeService {
	if embTimeout <= 0 {
		embTimeout = 30 * time.Second
	}
	return &knowledgeService{
		repo:       repo,
		reconciler: reconciler,
		embedder:   embedder,
		embTimeout: embTimeout,
		logger:     logger.Named("knowledge"),
	}
}

var _ KnowledgeService = (*knowledgeService)(nil)

func (s *knowledgeService) AddManual(ctx context.Context, userID uuid.UUID, entry ManualEntry) (*ReconcileReport, error) {
	confidence := entry.Confidence
	if confidence == 0 {
		// A user typing a value in is about as sure as it gets.
		confidence = 1.0
	}
	candidate := models.CandidateFact{
		FieldKey:   entry.FieldKey,
		Value:      entry.Value,
		Confidence: confidence,
		Source:     models.SourceManualEntry,
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	return s.reconciler.ReconcileBatch(ctx, userID, []models.CandidateFact{candidate})
}

func (s *knowledgeService) Get(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error) {
	return s.repo.GetByID(ctx, userID, id)
}

func (s *knowledgeService) List(ctx context.Context, userID uuid.UUID, filter repositories.KnowledgeFilter) ([]*models.KnowledgeItem, error) {
	return s.repo.FindMany(ctx, userID, filter)
}

func (s *knowledgeService) Update(ctx context.Context, userID, id uuid.UUID, update KnowledgeUpdate) (*models.KnowledgeItem, error) {
	if update.Content == nil && update.Confidence == nil && update.Verified == nil {
		return nil, fmt.Errorf("no fields to update")
	}
	if update.Confidence != nil && (*update.Confidence < 0 || *update.Confidence > 1) {
		return nil, fmt.Errorf("confidence %v out of range [0,1]", *update.Confidence)
	}

	patch := repositories.KnowledgePatch{
		Content:    update.Content,
		Confidence: update.Confidence,
		Verified:   update.Verified,
	}
	// Direct edits are the user speaking; a changed value from their own
	// hand is recorded as manual entry.
	if update.Content != nil {
		source := models.SourceManualEntry
		patch.Source = &source
	}

	item, err := s.repo.Update(ctx, userID, id, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Knowledge item updated",
		zap.String("user_id", userID.String()),
		zap.String("id", id.String()),
		zap.Bool("content_changed", update.Content != nil))
	return item, nil
}

func (s *knowledgeService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	item, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	// Drafts have their own lifecycle: regenerate archives them and accept
	// verifies them. Only facts can be removed by hand.
	if item.Kind != models.KindFact {
		return fmt.Errorf("cannot delete a %s: %w", item.Kind, apperrors.ErrInvalidState)
	}

	deleted, err := s.repo.Delete(ctx, userID, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return apperrors.ErrNotFound
	}
	s.logger.Info("Knowledge item deleted",
		zap.String("user_id", userID.String()),
		zap.String("id", id.String()))
	return nil
}

func (s *knowledgeService) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.KnowledgeItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("semantic search requires an embedding client: %w", apperrors.ErrInvalidState)
	}
	if limit <= 0 {
		limit = 10
	}

	vector, err := retry.DoWithResult(ctx, retry.UpstreamConfig(), func() ([]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.embTimeout)
		defer cancel()
		return s.embedder.CreateEmbedding(callCtx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("embed search query: %w", err)
	}
	return s.repo.SemanticSearch(ctx, userID, vector, limit)
}
