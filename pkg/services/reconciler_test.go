package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/models"
)

func TestReconcileBatch_FirstCandidateInserts(t *testing.T) {
	repo := newFakeKnowledgeRepo()
	svc := NewReconcilerService(repo, zap.NewNop())
	userID := uuid.New()

	report, err := svc.ReconcileBatch(context.Background(), userID, []models.CandidateFact{
		{FieldKey: "personal.email", Value: "a@x.com", Confidence: 0.8, Source: "document:transcript.pdf"},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if report.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", report.Inserted)
	}
	if repo.count(models.KindFact, "personal.email") != 1 {
		t.Errorf("expected 1 stored fact, got %d", repo.count(models.KindFact, "personal.email"))
	}
}

func TestReconcileBatch_VerifiedFactIsNeverOverwritten(t *testing.T) {
	repo := newFakeKnowledgeRepo()
	svc := NewReconcilerService(repo, zap.NewNop())
	userID := uuid.New()

	verified := repo.seed(&models.KnowledgeItem{
		UserID: userID, Kind: models.KindFact, FieldKey: "personal.email",
		Content: "a@x.com", Confidence: 0.9, Verified: true, Source: models.SourceManualEntry,
	})

	report, err := svc.ReconcileBatch(context.Background(), userID, []models.CandidateFact{
		{FieldKey: "personal.email", Value: "b@y.com", Confidence: 0.99, Source: "document:new.pdf"},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if report.Coexisted != 1 {
		t.Errorf("expected 1 coexisted, got %+v", report)
	}

	kept, err := repo.GetByID(context.Background(), userID, verified.ID)
	if err != nil {
		t.Fatalf("verified fact disappeared: %v", err)
	}
	if kept.Content != "a@x.com" || !kept.Verified {
		t.Errorf("verified fact was modified: %+v", kept)
	}
	if repo.count(models.KindFact, "personal.email") != 2 {
		t.Errorf("expected candidate stored side-by-side, have %d facts",
			repo.count(models.KindFact, "personal.email"))
	}
}

func TestReconcileBatch_HigherConfidenceSupersedesInPlace(t *testing.T) {
	repo := newFakeKnowledgeRepo()
	svc := NewReconcilerService(repo, zap.NewNop())
	userID := uuid.New()

	existing := repo.seed(&models.KnowledgeItem{
		UserID: userID, Kind: models.KindFact, FieldKey: "personal.name",
		Content: "Alexx", Confidence: 0.5, Source: "document:old.pdf",
	})

	report, err := svc.ReconcileBatch(context.Background(), userID, []models.CandidateFact{
		{FieldKey: "personal.name", Value: "Alex", Confidence: 0.9, Source: "document:new.pdf"},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if report.Superseded != 1 {
		t.Errorf("expected 1 superseded, got %+v", report)
	}

	updated, err := repo.GetByID(context.Background(), userID, existing.ID)
	if err != nil {
		t.Fatalf("superseded fact should still exist: %v", err)
	}
	if updated.Content != "Alex" || updated.Confidence != 0.9 || updated.Source != "document:new.pdf" {
		t.Errorf("fact not superseded in place: %+v", updated)
	}
	if n := repo.count(models.KindFact, "personal.name"); n != 1 {
		t.Errorf("supersede must not add rows, have %d", n)
	}
}

func TestReconcileBatch_EqualConfidenceInsertsAdditional(t *testing.T) {
	repo := newFakeKnowledgeRepo()
	svc := NewReconcilerService(repo, zap.NewNop())
	userID := uuid.New()

	repo.seed(&models.KnowledgeItem{
		UserID: userID, Kind: models.KindFact, FieldKey: "personal.name",
		Content: "Alex", Confidence: 0.8, Source: "document:a.pdf",
	})

	report, err := svc.ReconcileBatch(context.Background(), userID, []models.CandidateFact{
		{FieldKey: "personal.name", Value: "Alexa", Confidence: 0.8, Source: "document:b.pdf"},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if report.Inserted != 1 || report.Superseded != 0 {
		t.Errorf("equal confidence must insert, not supersede: %+v", report)
	}
	if n := repo.count(models.KindFact, "personal.name"); n != 2 {
		t.Errorf("expected 2 competing facts, have %d", n)
	}
}

func TestReconcileBatch_MalformedCandidatesAreSkipped(t *testing.T) {
	repo := newFakeKnowledgeRepo()
	svc := NewReconcilerService(repo, zap.NewNop())
	userID := uuid.New()

	report, err := svc.ReconcileBatch(context.Background(), userID, []models.CandidateFact{
		{FieldKey: "", Value: "x", Confidence: 0.5, Source: "agent"},
		{FieldKey: "personal.name", Value: "", Confidence: 0.5, Source: "agent"},
		{FieldKey: "personal.name", Value: "Alex", Confidence: 1.5, Source: "agent"},
		{FieldKey: "personal.name", Value: "Alex", Confidence: 0.9, Source: "agent"},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch failed: %v", err)
	}
	if report.Skipped != 3 {
		t.Errorf("expected 3 skipped, got %d", report.Skipped)
	}
	if report.Inserted != 1 {
		t.Errorf("valid candidate should still land, got %d inserted", report.Inserted)
	}
}

func TestReconcileBatch_StorageFailureDoesNotAbortBatch(t *testing.T) {
	repo := newFakeKnowledgeRepo()
	svc := NewReconcilerService(repo, zap.NewNop())
	userID := uuid.New()

	repo.CreateErr = errors.New("connection reset")
	report, err := svc.ReconcileBatch(context.Background(), userID, []models.CandidateFact{
		{FieldKey: "personal.name", Value: "Alex", Confidence: 0.9, Source: "agent"},
		{FieldKey: "personal.email", Value: "a@x.com", Confidence: 0.9, Source: "agent"},
	})
	if err != nil {
		t.Fatalf("ReconcileBatch should not surface per-candidate failures: %v", err)
	}
	if report.Failed != 2 {
		t.Errorf("expected 2 failed, got %+v", report)
	}
	if repo.CreateCalls != 2 {
		t.Errorf("batch should continue after a failure, create called %d times", repo.CreateCalls)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("every candidate needs an outcome, got %d", len(report.Outcomes))
	}
	for _, outcome := range report.Outcomes {
		if outcome.Disposition != DispositionFailed {
			t.Errorf("expected failed disposition, got %+v", outcome)
		}
		if outcome.Reason == "" {
			t.Errorf("failed outcome should carry the reason: %+v", outcome)
		}
	}
}

func TestReconcileBatch_RequiresUserID(t *testing.T) {
	svc := NewReconcilerService(newFakeKnowledgeRepo(), zap.NewNop())
	if _, err := svc.ReconcileBatch(context.Background(), uuid.Nil, nil); err == nil {
		t.Fatal("expected error for missing user id")
	}
}
