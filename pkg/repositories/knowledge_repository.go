package repositories

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/database"
	"github.com/stipendhq/stipend-engine/pkg/models"
)

// KnowledgeFilter selects knowledge items within one user's base.
// Zero-value fields are not applied.
type KnowledgeFilter struct {
	Kinds         []models.Kind
	FieldKey      string
	Verified      *bool
	MinConfidence *float64
	Contains      string // case-insensitive substring match on content
}

// KnowledgePatch is a partial update of a knowledge item. Nil fields are
// left untouched.
type KnowledgePatch struct {
	Kind       *models.Kind
	Content    *string
	Confidence *float64
	Verified   *bool
	Source     *string
	Metadata   map[string]any // replaces the whole metadata map when non-nil
	Embedding  []float32
}

// KnowledgeRepository provides data access for per-user knowledge items.
// Every operation is scoped by user id; items belonging to another user are
// reported as apperrors.ErrNotFound, never as a permission error, so that
// existence does not leak across users.
type KnowledgeRepository interface {
	Create(ctx context.Context, item *models.KnowledgeItem) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error)
	FindMany(ctx context.Context, userID uuid.UUID, filter KnowledgeFilter) ([]*models.KnowledgeItem, error)
	Update(ctx context.Context, userID, id uuid.UUID, patch KnowledgePatch) (*models.KnowledgeItem, error)
	Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	SemanticSearch(ctx context.Context, userID uuid.UUID, queryVector []float32, k int) ([]*models.KnowledgeItem, error)

	// WithQuerier returns a copy of the repository bound to q, typically a
	// pgx.Tx, so callers can run operations inside a transaction.
	WithQuerier(q database.Querier) KnowledgeRepository
}

type knowledgeRepository struct {
	db database.Querier
}

// NewKnowledgeRepository creates a new KnowledgeRepository over q.
func NewKnowledgeRepository(q database.Querier) KnowledgeRepository {
	return &knowledgeRepository{db: q}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

func (r *knowledgeRepository) WithQuerier(q database.Querier) KnowledgeRepository {
	return &knowledgeRepository{db: q}
}

const knowledgeColumns = `id, user_id, kind, field_key, category, content, confidence, verified, source, embedding, metadata, created_at, updated_at`

func (r *knowledgeRepository) Create(ctx context.Context, item *models.KnowledgeItem) error {
	if !item.Kind.IsValid() {
		return fmt.Errorf("invalid knowledge kind %q", item.Kind)
	}

	now := time.Now()
	item.UpdatedAt = now
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
		item.CreatedAt = now
	}
	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}

	query := `
		INSERT INTO stipend_knowledge_items (
			id, user_id, kind, field_key, category, content, confidence,
			verified, source, embedding, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		item.ID, item.UserID, item.Kind, item.FieldKey, item.Category,
		item.Content, item.Confidence, item.Verified, item.Source,
		item.Embedding, item.Metadata, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("active draft already exists for field %q: %w", item.FieldKey, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create knowledge item: %w", err)
	}
	return nil
}

func (r *knowledgeRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error) {
	query := `
		SELECT ` + knowledgeColumns + `
		FROM stipend_knowledge_items
		WHERE user_id = $1 AND id = $2`

	item, err := scanKnowledgeItemRow(r.db.QueryRow(ctx, query, userID, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *knowledgeRepository) FindMany(ctx context.Context, userID uuid.UUID, filter KnowledgeFilter) ([]*models.KnowledgeItem, error) {
	query := `
		SELECT ` + knowledgeColumns + `
		FROM stipend_knowledge_items
		WHERE user_id = $1`
	args := []any{userID}

	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}
	if filter.FieldKey != "" {
		args = append(args, filter.FieldKey)
		query += fmt.Sprintf(" AND field_key = $%d", len(args))
	}
	if filter.Verified != nil {
		args = append(args, *filter.Verified)
		query += fmt.Sprintf(" AND verified = $%d", len(args))
	}
	if filter.MinConfidence != nil {
		args = append(args, *filter.MinConfidence)
		query += fmt.Sprintf(" AND confidence >= $%d", len(args))
	}
	if filter.Contains != "" {
		args = append(args, "%"+filter.Contains+"%")
		query += fmt.Sprintf(" AND content ILIKE $%d", len(args))
	}
	query += " ORDER BY field_key, created_at"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge items: %w", err)
	}
	defer rows.Close()

	items := make([]*models.KnowledgeItem, 0)
	for rows.Next() {
		item, err := scanKnowledgeItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating knowledge items: %w", err)
	}
	return items, nil
}

func (r *knowledgeRepository) Update(ctx context.Context, userID, id uuid.UUID, patch KnowledgePatch) (*models.KnowledgeItem, error) {
	set := "updated_at = $3"
	args := []any{userID, id, time.Now()}

	appendSet := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	if patch.Kind != nil {
		if !patch.Kind.IsValid() {
			return nil, fmt.Errorf("invalid knowledge kind %q", *patch.Kind)
		}
		appendSet("kind", *patch.Kind)
	}
	if patch.Content != nil {
		appendSet("content", *patch.Content)
	}
	if patch.Confidence != nil {
		appendSet("confidence", *patch.Confidence)
	}
	if patch.Verified != nil {
		appendSet("verified", *patch.Verified)
	}
	if patch.Source != nil {
		appendSet("source", *patch.Source)
	}
	if patch.Metadata != nil {
		appendSet("metadata", patch.Metadata)
	}
	if patch.Embedding != nil {
		appendSet("embedding", patch.Embedding)
	}

	query := `
		UPDATE stipend_knowledge_items
		SET ` + set + `
		WHERE user_id = $1 AND id = $2
		RETURNING ` + knowledgeColumns

	item, err := scanKnowledgeItemRow(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("active draft already exists: %w", apperrors.ErrConflict)
		}
		return nil, err
	}
	return item, nil
}

func (r *knowledgeRepository) Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM stipend_knowledge_items WHERE user_id = $1 AND id = ANY($2)`

	result, err := r.db.Exec(ctx, query, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete knowledge items: %w", err)
	}
	return result.RowsAffected(), nil
}

// SemanticSearch returns the k nearest items by cosine similarity against the
// user's embedded items. Ties break toward the most recently updated item.
// Scoring happens in process; per-user knowledge bases are small enough that
// a sequential scan beats maintaining an index.
func (r *knowledgeRepository) SemanticSearch(ctx context.Context, userID uuid.UUID, queryVector []float32, k int) ([]*models.KnowledgeItem, error) {
	if len(queryVector) == 0 || k <= 0 {
		return []*models.KnowledgeItem{}, nil
	}

	query := `
		SELECT ` + knowledgeColumns + `
		FROM stipend_knowledge_items
		WHERE user_id = $1 AND embedding IS NOT NULL`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded knowledge items: %w", err)
	}
	defer rows.Close()

	type scored struct {
		item  *models.KnowledgeItem
		score float64
	}
	candidates := make([]scored, 0)
	for rows.Next() {
		item, err := scanKnowledgeItemRows(rows)
		if err != nil {
			return nil, err
		}
		if len(item.Embedding) != len(queryVector) {
			continue
		}
		candidates = append(candidates, scored{item: item, score: cosineSimilarity(queryVector, item.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embedded items: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].item.UpdatedAt.After(candidates[j].item.UpdatedAt)
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]*models.KnowledgeItem, 0, k)
	for _, c := range candidates[:k] {
		results = append(results, c.item)
	}
	return results, nil
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Returns 0 when either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ============================================================================
// Helper Functions - Scan
// ============================================================================

func scanKnowledgeItemRow(row pgx.Row) (*models.KnowledgeItem, error) {
	var item models.KnowledgeItem
	err := row.Scan(
		&item.ID, &item.UserID, &item.Kind, &item.FieldKey, &item.Category,
		&item.Content, &item.Confidence, &item.Verified, &item.Source,
		&item.Embedding, &item.Metadata, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan knowledge item: %w", err)
	}
	return &item, nil
}

func scanKnowledgeItemRows(rows pgx.Rows) (*models.KnowledgeItem, error) {
	var item models.KnowledgeItem
	err := rows.Scan(
		&item.ID, &item.UserID, &item.Kind, &item.FieldKey, &item.Category,
		&item.Content, &item.Confidence, &item.Verified, &item.Source,
		&item.Embedding, &item.Metadata, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge item: %w", err)
	}
	return &item, nil
}
