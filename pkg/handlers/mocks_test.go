package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/stipendhq/stipend-engine/pkg/auth"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

// Service stubs in the function-field style: set the field to control the
// behavior, leave it nil to fail the test if called.

type mockKnowledgeService struct {
	AddManualFunc func(ctx context.Context, userID uuid.UUID, entry services.ManualEntry) (*services.ReconcileReport, error)
	GetFunc       func(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error)
	ListFunc      func(ctx context.Context, userID uuid.UUID, filter repositories.KnowledgeFilter) ([]*models.KnowledgeItem, error)
	UpdateFunc    func(ctx context.Context, userID, id uuid.UUID, update services.KnowledgeUpdate) (*models.KnowledgeItem, error)
	DeleteFunc    func(ctx context.Context, userID, id uuid.UUID) error
	SearchFunc    func(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.KnowledgeItem, error)
}

func (m *mockKnowledgeService) AddManual(ctx context.Context, userID uuid.UUID, entry services.ManualEntry) (*services.ReconcileReport, error) {
	return m.AddManualFunc(ctx, userID, entry)
}
func (m *mockKnowledgeService) Get(ctx context.Context, userID, id uuid.UUID) (*models.KnowledgeItem, error) {
	return m.GetFunc(ctx, userID, id)
}
func (m *mockKnowledgeService) List(ctx context.Context, userID uuid.UUID, filter repositories.KnowledgeFilter) ([]*models.KnowledgeItem, error) {
	return m.ListFunc(ctx, userID, filter)
}
func (m *mockKnowledgeService) Update(ctx context.Context, userID, id uuid.UUID, update services.KnowledgeUpdate) (*models.KnowledgeItem, error) {
	return m.UpdateFunc(ctx, userID, id, update)
}
func (m *mockKnowledgeService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return m.DeleteFunc(ctx, userID, id)
}
func (m *mockKnowledgeService) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]*models.KnowledgeItem, error) {
	return m.SearchFunc(ctx, userID, query, limit)
}

var _ services.KnowledgeService = (*mockKnowledgeService)(nil)

type mockReconcilerService struct {
	ReconcileBatchFunc func(ctx context.Context, userID uuid.UUID, candidates []models.CandidateFact) (*services.ReconcileReport, error)
}

func (m *mockReconcilerService) ReconcileBatch(ctx context.Context, userID uuid.UUID, candidates []models.CandidateFact) (*services.ReconcileReport, error) {
	return m.ReconcileBatchFunc(ctx, userID, candidates)
}

var _ services.ReconcilerService = (*mockReconcilerService)(nil)

type mockSynthesisService struct {
	GenerateFunc   func(ctx context.Context, userID uuid.UUID, req services.SynthesisRequest) (*services.SynthesisResult, error)
	RegenerateFunc func(ctx context.Context, userID, currentDraftID uuid.UUID, req services.SynthesisRequest) (*services.SynthesisResult, error)
	HistoryFunc    func(ctx context.Context, userID uuid.UUID, fieldKey string) ([]*models.KnowledgeItem, error)
}

func (m *mockSynthesisService) Generate(ctx context.Context, userID uuid.UUID, req services.SynthesisRequest) (*services.SynthesisResult, error) {
	return m.GenerateFunc(ctx, userID, req)
}
func (m *mockSynthesisService) Regenerate(ctx context.Context, userID, currentDraftID uuid.UUID, req services.SynthesisRequest) (*services.SynthesisResult, error) {
	return m.RegenerateFunc(ctx, userID, currentDraftID, req)
}
func (m *mockSynthesisService) History(ctx context.Context, userID uuid.UUID, fieldKey string) ([]*models.KnowledgeItem, error) {
	return m.HistoryFunc(ctx, userID, fieldKey)
}

var _ services.SynthesisService = (*mockSynthesisService)(nil)

type mockAcceptanceService struct {
	AcceptFunc func(ctx context.Context, userID uuid.UUID, req services.AcceptRequest) (*services.AcceptResult, error)
}

func (m *mockAcceptanceService) Accept(ctx context.Context, userID uuid.UUID, req services.AcceptRequest) (*services.AcceptResult, error) {
	return m.AcceptFunc(ctx, userID, req)
}

var _ services.AcceptanceService = (*mockAcceptanceService)(nil)

type mockConsensusService struct {
	PreviewFunc func(ctx context.Context, userID uuid.UUID) (*services.CleanupPlan, error)
	CommitFunc  func(ctx context.Context, userID uuid.UUID, plan *services.CleanupPlan) (*services.CleanupResult, error)
	RunFunc     func(ctx context.Context, userID uuid.UUID, autoConfirm bool) (*services.CleanupPlan, *services.CleanupResult, error)
}

func (m *mockConsensusService) Preview(ctx context.Context, userID uuid.UUID) (*services.CleanupPlan, error) {
	return m.PreviewFunc(ctx, userID)
}
func (m *mockConsensusService) Commit(ctx context.Context, userID uuid.UUID, plan *services.CleanupPlan) (*services.CleanupResult, error) {
	return m.CommitFunc(ctx, userID, plan)
}
func (m *mockConsensusService) Run(ctx context.Context, userID uuid.UUID, autoConfirm bool) (*services.CleanupPlan, *services.CleanupResult, error) {
	return m.RunFunc(ctx, userID, autoConfirm)
}

var _ services.ConsensusService = (*mockConsensusService)(nil)

// authedRequest builds a request with verified claims already attached, the
// state requests are in after the auth middleware.
func authedRequest(t *testing.T, method, target string, userID uuid.UUID, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	ctx := auth.WithClaims(req.Context(), &auth.Claims{UserID: userID})
	return req.WithContext(ctx)
}

// decodeEnvelope unmarshals the standard response envelope.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var envelope ApiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("invalid response JSON: %v\n%s", err, rec.Body.String())
	}
	return envelope
}
