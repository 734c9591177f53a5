package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/database"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
)

// AcceptRequest identifies the draft being accepted and the scholarship form
// it answers.
type AcceptRequest struct {
	DraftID       uuid.UUID
	ScholarshipID uuid.UUID
	// FieldName optionally overrides the form field name; defaults to the
	// draft's field key.
	FieldName string
}

// AcceptResult reports the records touched by a successful acceptance.
type AcceptResult struct {
	FieldMapping   *models.FieldMapping  `json:"field_mapping"`
	Draft          *models.KnowledgeItem `json:"draft"`
	ContextWritten bool                  `json:"context_written"`
}

// AcceptanceService turns a reviewed draft into durable approved state. All
// writes happen in one transaction: the approved field value, the per-section
// provenance record when an application exists, and the verified flag on the
// draft itself.
type AcceptanceService interface {
	Accept(ctx context.Context, userID uuid.UUID, req AcceptRequest) (*AcceptResult, error)
}

// TxRunner runs a function inside a database transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

var _ TxRunner = (*database.DB)(nil)

type acceptanceService struct {
	db            TxRunner
	knowledgeRepo repositories.KnowledgeRepository
	mappingRepo   repositories.FieldMappingRepository
	appRepo       repositories.ApplicationRepository
	logger        *zap.Logger
}

// NewAcceptanceService creates an acceptance service over db.
func NewAcceptanceService(
	db TxRunner,
	knowledgeRepo repositories.KnowledgeRepository,
	mappingRepo repositories.FieldMappingRepository,
	appRepo repositories.ApplicationRepository,
	logger *zap.Logger,
) AcceptanceService {
	return &acceptanceService{
		db:            db,
		knowledgeRepo: knowledgeRepo,
		mappingRepo:   mappingRepo,
		appRepo:       appRepo,
		logger:        logger.Named("acceptance"),
	}
}

var _ AcceptanceService = (*acceptanceService)(nil)

func (s *acceptanceService) Accept(ctx context.Context, userID uuid.UUID, req AcceptRequest) (*AcceptResult, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	if req.DraftID == uuid.Nil {
		return nil, fmt.Errorf("draft id is required")
	}
	if req.ScholarshipID == uuid.Nil {
		return nil, fmt.Errorf("scholarship id is required")
	}

	// User scoping doubles as the ownership check: a draft belonging to
	// another user is indistinguishable from a missing one.
	draft, err := s.knowledgeRepo.GetByID(ctx, userID, req.DraftID)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	switch draft.Kind {
	case models.KindSynthesizedDraft:
	case models.KindArchivedDraft:
		return nil, fmt.Errorf("draft %s is archived: %w", draft.ID, apperrors.ErrInvalidState)
	default:
		return nil, fmt.Errorf("item %s is not a draft: %w", draft.ID, apperrors.ErrInvalidState)
	}

	fieldName := req.FieldName
	if fieldName == "" {
		fieldName = draft.FieldKey
	}

	result := &AcceptResult{}
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		knowledgeRepo := s.knowledgeRepo.WithQuerier(tx)
		mappingRepo := s.mappingRepo.WithQuerier(tx)
		appRepo := s.appRepo.WithQuerier(tx)

		now := time.Now()

		mapping := &models.FieldMapping{
			ScholarshipID: req.ScholarshipID,
			FieldName:     fieldName,
			FieldLabel:    metadataString(draft.Metadata, models.MetaFieldLabel, fieldName),
			FieldType:     metadataString(draft.Metadata, models.MetaFieldType, "text"),
			ApprovedValue: draft.Content,
			Approved:      true,
			ApprovedAt:    &now,
			Source:        models.SourceSynthesis,
		}
		if err := mappingRepo.Upsert(ctx, mapping); err != nil {
			return err
		}
		result.FieldMapping = mapping

		// Provenance is recorded only when the user actually holds an
		// application for this scholarship; its absence is not an error.
		appID, err := appRepo.FindID(ctx, userID, req.ScholarshipID)
		switch {
		case err == nil:
			styleUsed := metadataString(draft.Metadata, models.MetaStyleUsed, "")
			appCtx := &models.ApplicationContext{
				ApplicationID:       appID,
				SectionID:           fieldName,
				ResponseDraft:       draft.Content,
				Source:              models.SourceSynthesis,
				ReferencedKnowledge: []uuid.UUID{draft.ID},
			}
			if styleUsed != "" {
				appCtx.StyleUsed = &styleUsed
			}
			if err := appRepo.UpsertContext(ctx, appCtx); err != nil {
				return err
			}
			result.ContextWritten = true
		case errors.Is(err, apperrors.ErrNotFound):
		default:
			return err
		}

		verified := true
		metadata := make(map[string]any, len(draft.Metadata)+1)
		for k, v := range draft.Metadata {
			metadata[k] = v
		}
		metadata[models.MetaAcceptedAt] = now.UTC().Format(time.RFC3339)

		updated, err := knowledgeRepo.Update(ctx, userID, draft.ID, repositories.KnowledgePatch{
			Verified: &verified,
			Metadata: metadata,
		})
		if err != nil {
			return err
		}
		result.Draft = updated
		return nil
	})
	if err != nil {
		s.logger.Error("Draft acceptance failed",
			zap.String("user_id", userID.String()),
			zap.String("draft_id", req.DraftID.String()),
			zap.String("scholarship_id", req.ScholarshipID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("accept draft: %w", err)
	}

	s.logger.Info("Draft accepted",
		zap.String("user_id", userID.String()),
		zap.String("draft_id", req.DraftID.String()),
		zap.String("field_name", fieldName),
		zap.Bool("context_written", result.ContextWritten))
	return result, nil
}

func metadataString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
