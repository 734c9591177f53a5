package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/database"
	"github.com/stipendhq/stipend-engine/pkg/llm"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
)

// fakeKnowledgeRepo is an in-memory KnowledgeRepository for service tests.
// Error injection fields let tests simulate storage failures per operation.
type fakeKnowledgeRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.KnowledgeItem

	CreateErr error
	UpdateErr error
	DeleteErr error
	FindErr   error

	CreateCalls int
	UpdateCalls int
	DeleteCalls int
}

func newFakeKnowledgeRepo() *fakeKnowledgeRepo {
	return &fakeKnowledgeRepo{items: make(map[uuid.UUID]*models.KnowledgeItem)}
}

// seed stores an item directly, bypassing error injection.
func (f *fakeKnowledgeRepo) seed(item *models.KnowledgeItem) *models.KnowledgeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
		item.UpdatedAt = item.CreatedAt
	}
	copied := *item
	f.items[item.ID] = &copied
	return item
}

func (f *fakeKnowledgeRepo) Create(ctx context.Context, item *models.KnowledgeItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.CreateErr != nil {
		return f.CreateErr
	}
	// Mirror the partial unique index on active drafts.
	if item.Kind == models.KindSynthesizedDraft {
		for _, existing := range f.items {
			if existing.UserID == item.UserID && existing.FieldKey == item.FieldKey &&
				existing.Kind == models.KindSynthesizedDraft {
				return apperrors.ErrConflict
			}
		}
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	copied := *item
	f.items[item.ID] = &copied
	return nil
}

func (f *fakeKnowledgeRepo) GetByID(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (f *fakeKnowledgeRepo) FindMany(ctx context.Context, userID uuid.UUID, filter repositories.KnowledgeFilter) ([]*models.KnowledgeItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	var out []*models.KnowledgeItem
	for _, item := range f.items {
		if item.UserID != userID {
			continue
		}
		if len(filter.Kinds) > 0 && !containsKind(filter.Kinds, item.Kind) {
			continue
		}
		if filter.FieldKey != "" && item.FieldKey != filter.FieldKey {
			continue
		}
		if filter.Verified != nil && item.Verified != *filter.Verified {
			continue
		}
		if filter.MinConfidence != nil && item.Confidence < *filter.MinConfidence {
			continue
		}
		if filter.Contains != "" && !strings.Contains(strings.ToLower(item.Content), strings.ToLower(filter.Contains)) {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FieldKey != out[j].FieldKey {
			return out[i].FieldKey < out[j].FieldKey
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeKnowledgeRepo) Update(ctx context.Context, userID, id uuid.UUID, patch repositories.KnowledgePatch) (*models.KnowledgeItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	item, ok := f.items[id]
	if !ok || item.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	if patch.Kind != nil {
		item.Kind = *patch.Kind
	}
	if patch.Content != nil {
		item.Content = *patch.Content
	}
	if patch.Confidence != nil {
		item.Confidence = *patch.Confidence
	}
	if patch.Verified != nil {
		item.Verified = *patch.Verified
	}
	if patch.Source != nil {
		item.Source = *patch.Source
	}
	if patch.Metadata != nil {
		item.Metadata = patch.Metadata
	}
	if patch.Embedding != nil {
		item.Embedding = patch.Embedding
	}
	item.UpdatedAt = time.Now()
	copied := *item
	return &copied, nil
}

func (f *fakeKnowledgeRepo) Delete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.DeleteErr != nil {
		return 0, f.DeleteErr
	}
	var deleted int64
	for _, id := range ids {
		if item, ok := f.items[id]; ok && item.UserID == userID {
			delete(f.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeKnowledgeRepo) SemanticSearch(ctx context.Context, userID uuid.UUID, queryVector []float32, k int) ([]*models.KnowledgeItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.KnowledgeItem
	for _, item := range f.items {
		if item.UserID == userID && len(item.Embedding) > 0 {
			copied := *item
			out = append(out, &copied)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeKnowledgeRepo) WithQuerier(q database.Querier) repositories.KnowledgeRepository {
	return f
}

// count returns how many stored items match kind and field key ("" matches all).
func (f *fakeKnowledgeRepo) count(kind models.Kind, fieldKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.Kind == kind && (fieldKey == "" || item.FieldKey == fieldKey) {
			n++
		}
	}
	return n
}

func filterByField(fieldKey string) repositories.KnowledgeFilter {
	return repositories.KnowledgeFilter{FieldKey: fieldKey}
}

func containsKind(kinds []models.Kind, k models.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

var _ repositories.KnowledgeRepository = (*fakeKnowledgeRepo)(nil)

// stubGenerator is a canned Generator for synthesis tests.
type stubGenerator struct {
	Result *llm.GenerationResult
	Err    error
	Calls  int
}

func (s *stubGenerator) Generate(ctx context.Context, genCtx *llm.GenerationContext) (*llm.GenerationResult, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result != nil {
		return s.Result, nil
	}
	return &llm.GenerationResult{
		Content:    "Generated draft content.",
		WordCount:  3,
		PromptType: llm.PromptTypeShortAnswer,
		StyleUsed:  "default",
	}, nil
}

var _ Generator = (*stubGenerator)(nil)

// fakeTxRunner executes the transaction body directly; the fakes ignore the
// querier so a nil tx is fine.
type fakeTxRunner struct {
	Err   error
	Calls int
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	f.Calls++
	if f.Err != nil {
		return f.Err
	}
	return fn(nil)
}

var _ TxRunner = (*fakeTxRunner)(nil)

// fakeMappingRepo is an in-memory FieldMappingRepository keyed by
// (scholarship_id, field_name).
type fakeMappingRepo struct {
	mu       sync.Mutex
	mappings map[string]*models.FieldMapping

	UpsertErr   error
	UpsertCalls int
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{mappings: make(map[string]*models.FieldMapping)}
}

func mappingKey(scholarshipID uuid.UUID, fieldName string) string {
	return scholarshipID.String() + "/" + fieldName
}

func (f *fakeMappingRepo) Upsert(ctx context.Context, mapping *models.FieldMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpsertCalls++
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	key := mappingKey(mapping.ScholarshipID, mapping.FieldName)
	if existing, ok := f.mappings[key]; ok {
		mapping.ID = existing.ID
		mapping.CreatedAt = existing.CreatedAt
	} else if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
		mapping.CreatedAt = time.Now()
	}
	mapping.UpdatedAt = time.Now()
	copied := *mapping
	f.mappings[key] = &copied
	return nil
}

func (f *fakeMappingRepo) GetByField(ctx context.Context, scholarshipID uuid.UUID, fieldName string) (*models.FieldMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mappings[mappingKey(scholarshipID, fieldName)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (f *fakeMappingRepo) GetByScholarship(ctx context.Context, scholarshipID uuid.UUID) ([]*models.FieldMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FieldMapping
	for _, m := range f.mappings {
		if m.ScholarshipID == scholarshipID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeMappingRepo) WithQuerier(q database.Querier) repositories.FieldMappingRepository {
	return f
}

var _ repositories.FieldMappingRepository = (*fakeMappingRepo)(nil)

// fakeApplicationRepo is an in-memory ApplicationRepository.
type fakeApplicationRepo struct {
	mu       sync.Mutex
	apps     map[string]uuid.UUID // userID/scholarshipID -> appID
	contexts map[string]*models.ApplicationContext

	UpsertContextCalls int
}

func newFakeApplicationRepo() *fakeApplicationRepo {
	return &fakeApplicationRepo{
		apps:     make(map[string]uuid.UUID),
		contexts: make(map[string]*models.ApplicationContext),
	}
}

func (f *fakeApplicationRepo) seedApplication(userID, scholarshipID uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.apps[userID.String()+"/"+scholarshipID.String()] = id
	return id
}

func (f *fakeApplicationRepo) FindID(ctx context.Context, userID, scholarshipID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.apps[userID.String()+"/"+scholarshipID.String()]
	if !ok {
		return uuid.Nil, apperrors.ErrNotFound
	}
	return id, nil
}

func (f *fakeApplicationRepo) UpsertContext(ctx context.Context, appCtx *models.ApplicationContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpsertContextCalls++
	key := appCtx.ApplicationID.String() + "/" + appCtx.SectionID
	if existing, ok := f.contexts[key]; ok {
		appCtx.ID = existing.ID
	} else if appCtx.ID == uuid.Nil {
		appCtx.ID = uuid.New()
	}
	appCtx.UpdatedAt = time.Now()
	copied := *appCtx
	f.contexts[key] = &copied
	return nil
}

func (f *fakeApplicationRepo) GetContext(ctx context.Context, applicationID uuid.UUID, sectionID string) (*models.ApplicationContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contexts[applicationID.String()+"/"+sectionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (f *fakeApplicationRepo) WithQuerier(q database.Querier) repositories.ApplicationRepository {
	return f
}

var _ repositories.ApplicationRepository = (*fakeApplicationRepo)(nil)
