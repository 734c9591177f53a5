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

// FieldMappingRepository provides data access for per-(scholarship, field)
// approved values.
type FieldMappingRepository interface {
	// Upsert inserts or updates the mapping keyed by (scholarship_id,
	// field_name). Re-running with identical input converges to the same row.
	Upsert(ctx context.Context, mapping *models.FieldMapping) error
	GetByField(ctx context.Context, scholarshipID uuid.UUID, fieldName string) (*models.FieldMapping, error)
	GetByScholarship(ctx context.Context, scholarshipID uuid.UUID) ([]*models.FieldMapping, error)

	// WithQuerier returns a copy of the repository bound to q, typically a
	// pgx.Tx, so callers can run operations inside a transaction.
	WithQuerier(q database.Querier) FieldMappingRepository
}

type fieldMappingRepository struct {
	db database.Querier
}

// NewFieldMappingRepository creates a new FieldMappingRepository over q.
func NewFieldMappingRepository(q database.Querier) FieldMappingRepository {
	return &fieldMappingRepository{db: q}
}

var _ FieldMappingRepository = (*fieldMappingRepository)(nil)

func (r *fieldMappingRepository) WithQuerier(q database.Querier) FieldMappingRepository {
	return &fieldMappingRepository{db: q}
}

const fieldMappingColumns = `id, scholarship_id, field_name, field_label, field_type, approved_value, approved, approved_at, source, created_at, updated_at`

func (r *fieldMappingRepository) Upsert(ctx context.Context, mapping *models.FieldMapping) error {
	now := time.Now()
	mapping.UpdatedAt = now
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
		mapping.CreatedAt = now
	}
	if mapping.FieldType == "" {
		mapping.FieldType = "text"
	}

	query := `
		INSERT INTO stipend_field_mappings (
			id, scholarship_id, field_name, field_label, field_type,
			approved_value, approved, approved_at, source, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (scholarship_id, field_name)
		DO UPDATE SET
			field_label = EXCLUDED.field_label,
			field_type = EXCLUDED.field_type,
			approved_value = EXCLUDED.approved_value,
			approved = EXCLUDED.approved,
			approved_at = EXCLUDED.approved_at,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		mapping.ID, mapping.ScholarshipID, mapping.FieldName, mapping.FieldLabel,
		mapping.FieldType, mapping.ApprovedValue, mapping.Approved,
		mapping.ApprovedAt, mapping.Source, mapping.CreatedAt, mapping.UpdatedAt,
	).Scan(&mapping.ID, &mapping.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert field mapping: %w", err)
	}
	return nil
}

func (r *fieldMappingRepository) GetByField(ctx context.Context, scholarshipID uuid.UUID, fieldName string) (*models.FieldMapping, error) {
	query := `
		SELECT ` + fieldMappingColumns + `
		FROM stipend_field_mappings
		WHERE scholarship_id = $1 AND field_name = $2`

	mapping, err := scanFieldMapping(r.db.QueryRow(ctx, query, scholarshipID, fieldName))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return mapping, nil
}

func (r *fieldMappingRepository) GetByScholarship(ctx context.Context, scholarshipID uuid.UUID) ([]*models.FieldMapping, error) {
	query := `
		SELECT ` + fieldMappingColumns + `
		FROM stipend_field_mappings
		WHERE scholarship_id = $1
		ORDER BY field_name`

	rows, err := r.db.Query(ctx, query, scholarshipID)
	if err != nil {
		return nil, fmt.Errorf("failed to query field mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]*models.FieldMapping, 0)
	for rows.Next() {
		var m models.FieldMapping
		if err := rows.Scan(
			&m.ID, &m.ScholarshipID, &m.FieldName, &m.FieldLabel, &m.FieldType,
			&m.ApprovedValue, &m.Approved, &m.ApprovedAt, &m.Source,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		mappings = append(mappings, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field mappings: %w", err)
	}
	return mappings, nil
}

func scanFieldMapping(row pgx.Row) (*models.FieldMapping, error) {
	var m models.FieldMapping
	err := row.Scan(
		&m.ID, &m.ScholarshipID, &m.FieldName, &m.FieldLabel, &m.FieldType,
		&m.ApprovedValue, &m.Approved, &m.ApprovedAt, &m.Source,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan field mapping: %w", err)
	}
	return &m, nil
}
