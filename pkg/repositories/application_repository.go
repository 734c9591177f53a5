package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/database"
	"github.com/stipendhq/stipend-engine/pkg/models"
)

// ApplicationRepository provides access to application records and their
// per-section context rows.
type ApplicationRepository interface {
	// FindID returns the application id for (userID, scholarshipID), or
	// apperrors.ErrNotFound when the user has no application for that
	// scholarship.
	FindID(ctx context.Context, userID, scholarshipID uuid.UUID) (uuid.UUID, error)

	// UpsertContext inserts or updates the context row keyed by
	// (application_id, section_id).
	UpsertContext(ctx context.Context, appCtx *models.ApplicationContext) error

	GetContext(ctx context.Context, applicationID uuid.UUID, sectionID string) (*models.ApplicationContext, error)

	// WithQuerier returns a copy of the repository bound to q, typically a
	// pgx.Tx, so callers can run operations inside a transaction.
	WithQuerier(q database.Querier) ApplicationRepository
}

type applicationRepository struct {
	db database.Querier
}

// NewApplicationRepository creates a new ApplicationRepository over q.
func NewApplicationRepository(q database.Querier) ApplicationRepository {
	return &applicationRepository{db: q}
}

var _ ApplicationRepository = (*applicationRepository)(nil)

func (r *applicationRepository) WithQuerier(q database.Querier) ApplicationRepository {
	return &applicationRepository{db: q}
}

func (r *applicationRepository) FindID(ctx context.Context, userID, scholarshipID uuid.UUID) (uuid.UUID, error) {
	query := `
		SELECT id FROM stipend_applications
		WHERE user_id = $1 AND scholarship_id = $2`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, userID, scholarshipID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, apperrors.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to find application: %w", err)
	}
	return id, nil
}

func (r *applicationRepository) UpsertContext(ctx context.Context, appCtx *models.ApplicationContext) error {
	appCtx.UpdatedAt = time.Now()
	if appCtx.ID == uuid.Nil {
		appCtx.ID = uuid.New()
	}
	if appCtx.ReferencedKnowledge == nil {
		appCtx.ReferencedKnowledge = []uuid.UUID{}
	}

	query := `
		INSERT INTO stipend_application_contexts (
			id, application_id, section_id, response_draft, source,
			referenced_knowledge, tone, style_used, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (application_id, section_id)
		DO UPDATE SET
			response_draft = EXCLUDED.response_draft,
			source = EXCLUDED.source,
			referenced_knowledge = EXCLUDED.referenced_knowledge,
			tone = EXCLUDED.tone,
			style_used = EXCLUDED.style_used,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		appCtx.ID, appCtx.ApplicationID, appCtx.SectionID, appCtx.ResponseDraft,
		appCtx.Source, appCtx.ReferencedKnowledge, appCtx.Tone, appCtx.StyleUsed,
		appCtx.UpdatedAt,
	).Scan(&appCtx.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert application context: %w", err)
	}
	return nil
}

func (r *applicationRepository) GetContext(ctx context.Context, applicationID uuid.UUID, sectionID string) (*models.ApplicationContext, error) {
	query := `
		SELECT id, application_id, section_id, response_draft, source,
		       referenced_knowledge, tone, style_used, updated_at
		FROM stipend_application_contexts
		WHERE application_id = $1 AND section_id = $2`

	var c models.ApplicationContext
	err := r.db.QueryRow(ctx, query, applicationID, sectionID).Scan(
		&c.ID, &c.ApplicationID, &c.SectionID, &c.ResponseDraft, &c.Source,
		&c.ReferencedKnowledge, &c.Tone, &c.StyleUsed, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get application context: %w", err)
	}
	return &c, nil
}
