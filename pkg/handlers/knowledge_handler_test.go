package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

func newKnowledgeHandler(svc *mockKnowledgeService, rec *mockReconcilerService) *KnowledgeHandler {
	if svc == nil {
		svc = &mockKnowledgeService{}
	}
	if rec == nil {
		rec = &mockReconcilerService{}
	}
	return NewKnowledgeHandler(svc, rec, zap.NewNop())
}

func TestKnowledgeHandler_List(t *testing.T) {
	userID := uuid.New()
	var gotFilter repositories.KnowledgeFilter

	svc := &mockKnowledgeService{
		ListFunc: func(ctx context.Context, uid uuid.UUID, filter repositories.KnowledgeFilter) ([]*models.KnowledgeItem, error) {
			if uid != userID {
				t.Errorf("expected user %s, got %s", userID, uid)
			}
			gotFilter = filter
			return []*models.KnowledgeItem{
				{ID: uuid.New(), Kind: models.KindFact, FieldKey: "gpa", Content: "3.9"},
				{ID: uuid.New(), Kind: models.KindFact, FieldKey: "major", Content: "Biology"},
			}, nil
		},
	}

	req := authedRequest(t, http.MethodGet, "/api/knowledge?kind=fact&field_key=gpa&verified=true", userID, "")
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	envelope := decodeEnvelope(t, rec)
	if !envelope.Success {
		t.Error("expected success envelope")
	}
	if gotFilter.FieldKey != "gpa" {
		t.Errorf("expected field_key filter gpa, got %q", gotFilter.FieldKey)
	}
	if len(gotFilter.Kinds) != 1 || gotFilter.Kinds[0] != models.KindFact {
		t.Errorf("expected kind filter [fact], got %v", gotFilter.Kinds)
	}
	if gotFilter.Verified == nil || !*gotFilter.Verified {
		t.Error("expected verified filter true")
	}
	if !contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected total 2 in body: %s", rec.Body.String())
	}
}

func TestKnowledgeHandler_ListRejectsUnknownKind(t *testing.T) {
	req := authedRequest(t, http.MethodGet, "/api/knowledge?kind=rumor", uuid.New(), "")
	rec := httptest.NewRecorder()
	newKnowledgeHandler(nil, nil).List(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !contains(rec.Body.String(), "invalid_kind") {
		t.Errorf("expected invalid_kind code in body: %s", rec.Body.String())
	}
}

func TestKnowledgeHandler_Get(t *testing.T) {
	userID := uuid.New()
	itemID := uuid.New()

	svc := &mockKnowledgeService{
		GetFunc: func(ctx context.Context, uid, id uuid.UUID) (*models.KnowledgeItem, error) {
			if id != itemID {
				t.Errorf("expected item %s, got %s", itemID, id)
			}
			return &models.KnowledgeItem{ID: itemID, Kind: models.KindFact, FieldKey: "gpa", Content: "3.9"}, nil
		},
	}

	req := authedRequest(t, http.MethodGet, "/api/knowledge/"+itemID.String(), userID, "")
	req.SetPathValue("kid", itemID.String())
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestKnowledgeHandler_GetNotFound(t *testing.T) {
	svc := &mockKnowledgeService{
		GetFunc: func(ctx context.Context, uid, id uuid.UUID) (*models.KnowledgeItem, error) {
			return nil, apperrors.ErrNotFound
		},
	}

	itemID := uuid.New()
	req := authedRequest(t, http.MethodGet, "/api/knowledge/"+itemID.String(), uuid.New(), "")
	req.SetPathValue("kid", itemID.String())
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestKnowledgeHandler_GetRejectsMalformedID(t *testing.T) {
	req := authedRequest(t, http.MethodGet, "/api/knowledge/not-a-uuid", uuid.New(), "")
	req.SetPathValue("kid", "not-a-uuid")
	rec := httptest.NewRecorder()
	newKnowledgeHandler(nil, nil).Get(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestKnowledgeHandler_Create(t *testing.T) {
	userID := uuid.New()

	svc := &mockKnowledgeService{
		AddManualFunc: func(ctx context.Context, uid uuid.UUID, entry services.ManualEntry) (*services.ReconcileReport, error) {
			if entry.FieldKey != "gpa" || entry.Value != "3.9" {
				t.Errorf("unexpected entry: %+v", entry)
			}
			return &services.ReconcileReport{Inserted: 1}, nil
		},
	}

	req := authedRequest(t, http.MethodPost, "/api/knowledge", userID,
		`{"field_key":"gpa","value":"3.9"}`)
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !contains(rec.Body.String(), `"inserted":1`) {
		t.Errorf("expected reconcile report in body: %s", rec.Body.String())
	}
}

func TestKnowledgeHandler_CreateRejectsBadJSON(t *testing.T) {
	req := authedRequest(t, http.MethodPost, "/api/knowledge", uuid.New(), `{"field_key":`)
	rec := httptest.NewRecorder()
	newKnowledgeHandler(nil, nil).Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestKnowledgeHandler_Ingest(t *testing.T) {
	userID := uuid.New()

	recSvc := &mockReconcilerService{
		ReconcileBatchFunc: func(ctx context.Context, uid uuid.UUID, candidates []models.CandidateFact) (*services.ReconcileReport, error) {
			if len(candidates) != 2 {
				t.Fatalf("expected 2 candidates, got %d", len(candidates))
			}
			if candidates[0].FieldKey != "gpa" {
				t.Errorf("unexpected first candidate: %+v", candidates[0])
			}
			return &services.ReconcileReport{Inserted: 1, Superseded: 1}, nil
		},
	}

	body := `{"candidates":[
		{"field_key":"gpa","value":"3.9","confidence":0.9},
		{"field_key":"major","value":"Biology","confidence":0.8}
	]}`
	req := authedRequest(t, http.MethodPost, "/api/knowledge/extracted", userID, body)
	rec := httptest.NewRecorder()
	newKnowledgeHandler(nil, recSvc).Ingest(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !contains(rec.Body.String(), `"superseded":1`) {
		t.Errorf("expected report in body: %s", rec.Body.String())
	}
}

func TestKnowledgeHandler_IngestRequiresCandidates(t *testing.T) {
	req := authedRequest(t, http.MethodPost, "/api/knowledge/extracted", uuid.New(), `{"candidates":[]}`)
	rec := httptest.NewRecorder()
	newKnowledgeHandler(nil, nil).Ingest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !contains(rec.Body.String(), "no_candidates") {
		t.Errorf("expected no_candidates code: %s", rec.Body.String())
	}
}

func TestKnowledgeHandler_Update(t *testing.T) {
	userID := uuid.New()
	itemID := uuid.New()

	svc := &mockKnowledgeService{
		UpdateFunc: func(ctx context.Context, uid, id uuid.UUID, update services.KnowledgeUpdate) (*models.KnowledgeItem, error) {
			if update.Content == nil || *update.Content != "3.95" {
				t.Errorf("expected content patch, got %+v", update)
			}
			if update.Verified == nil || !*update.Verified {
				t.Errorf("expected verified patch, got %+v", update)
			}
			return &models.KnowledgeItem{ID: itemID, Content: *update.Content, Verified: true}, nil
		},
	}

	req := authedRequest(t, http.MethodPut, "/api/knowledge/"+itemID.String(), userID,
		`{"content":"3.95","verified":true}`)
	req.SetPathValue("kid", itemID.String())
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestKnowledgeHandler_Delete(t *testing.T) {
	itemID := uuid.New()
	called := false

	svc := &mockKnowledgeService{
		DeleteFunc: func(ctx context.Context, uid, id uuid.UUID) error {
			called = true
			return nil
		},
	}

	req := authedRequest(t, http.MethodDelete, "/api/knowledge/"+itemID.String(), uuid.New(), "")
	req.SetPathValue("kid", itemID.String())
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Delete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !called {
		t.Error("expected delete to be called")
	}
}

func TestKnowledgeHandler_DeleteNotFound(t *testing.T) {
	svc := &mockKnowledgeService{
		DeleteFunc: func(ctx context.Context, uid, id uuid.UUID) error {
			return apperrors.ErrNotFound
		},
	}

	itemID := uuid.New()
	req := authedRequest(t, http.MethodDelete, "/api/knowledge/"+itemID.String(), uuid.New(), "")
	req.SetPathValue("kid", itemID.String())
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Delete(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestKnowledgeHandler_Search(t *testing.T) {
	userID := uuid.New()

	svc := &mockKnowledgeService{
		SearchFunc: func(ctx context.Context, uid uuid.UUID, query string, limit int) ([]*models.KnowledgeItem, error) {
			if query != "leadership experience" {
				t.Errorf("unexpected query %q", query)
			}
			if limit != 5 {
				t.Errorf("expected limit 5, got %d", limit)
			}
			return []*models.KnowledgeItem{
				{ID: uuid.New(), Kind: models.KindFact, FieldKey: "activities", Content: "Debate club president"},
			}, nil
		},
	}

	req := authedRequest(t, http.MethodGet, "/api/knowledge/search?q=leadership+experience&limit=5", userID, "")
	rec := httptest.NewRecorder()
	newKnowledgeHandler(svc, nil).Search(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected total 1 in body: %s", rec.Body.String())
	}
}

func TestKnowledgeHandler_SearchRequiresQuery(t *testing.T) {
	req := authedRequest(t, http.MethodGet, "/api/knowledge/search", uuid.New(), "")
	rec := httptest.NewRecorder()
	newKnowledgeHandler(nil, nil).Search(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !contains(rec.Body.String(), "missing_query") {
		t.Errorf("expected missing_query code: %s", rec.Body.String())
	}
}
