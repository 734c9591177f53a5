package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
)

// Disposition describes what the reconciler did with one candidate fact.
type Disposition string

const (
	// DispositionInserted: stored as a new unverified fact.
	DispositionInserted Disposition = "inserted"
	// DispositionCoexisted: stored side-by-side because a verified fact
	// already holds the field. The verified value stays authoritative.
	DispositionCoexisted Disposition = "coexisted"
	// DispositionSuperseded: replaced the best unverified fact in place
	// because the candidate carried strictly higher confidence.
	DispositionSuperseded Disposition = "superseded"
	// DispositionSkipped: candidate was malformed and dropped.
	DispositionSkipped Disposition = "skipped"
	// DispositionFailed: storage failed for this candidate; the rest of the
	// batch proceeded.
	DispositionFailed Disposition = "failed"
)

// CandidateOutcome records the disposition of one candidate in a batch.
type CandidateOutcome struct {
	FieldKey    string      `json:"field_key"`
	Disposition Disposition `json:"disposition"`
	ItemID      uuid.UUID   `json:"item_id,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// ReconcileReport summarizes a reconciled batch.
type ReconcileReport struct {
	Inserted   int                `json:"inserted"`
	Coexisted  int                `json:"coexisted"`
	Superseded int                `json:"superseded"`
	Skipped    int                `json:"skipped"`
	Failed     int                `json:"failed"`
	Outcomes   []CandidateOutcome `json:"outcomes"`
}

// ReconcilerService decides the disposition of newly extracted candidate
// facts against the existing knowledge base.
type ReconcilerService interface {
	// ReconcileBatch applies the staleness policy to each candidate in turn.
	// Malformed candidates are skipped; a storage failure on one candidate is
	// recorded and does not abort the remainder of the batch.
	ReconcileBatch(ctx context.Context, userID uuid.UUID, candidates []models.CandidateFact) (*ReconcileReport, error)
}

type reconcilerService struct {
	repo   repositories.KnowledgeRepository
	logger *zap.Logger
}

// NewReconcilerService creates a new reconciler service.
func NewReconcilerService(repo repositories.KnowledgeRepository, logger *zap.Logger) ReconcilerService {
	return &reconcilerService{
		repo:   repo,
		logger: logger.Named("reconciler"),
	}
}

var _ ReconcilerService = (*reconcilerService)(nil)

func (s *reconcilerService) ReconcileBatch(ctx context.Context, userID uuid.UUID, candidates []models.CandidateFact) (*ReconcileReport, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}

	report := &ReconcileReport{Outcomes: make([]CandidateOutcome, 0, len(candidates))}

	for i := range candidates {
		candidate := candidates[i]

		if err := candidate.Validate(); err != nil {
			s.logger.Warn("Skipping malformed candidate",
				zap.String("user_id", userID.String()),
				zap.String("field_key", candidate.FieldKey),
				zap.String("source", candidate.Source),
				zap.Error(err))
			report.Skipped++
			report.Outcomes = append(report.Outcomes, CandidateOutcome{
				FieldKey:    candidate.FieldKey,
				Disposition: DispositionSkipped,
				Reason:      err.Error(),
			})
			continue
		}

		outcome, err := s.reconcileOne(ctx, userID, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Error("Failed to reconcile candidate",
				zap.String("user_id", userID.String()),
				zap.String("field_key", candidate.FieldKey),
				zap.Error(err))
			report.Failed++
			report.Outcomes = append(report.Outcomes, CandidateOutcome{
				FieldKey:    candidate.FieldKey,
				Disposition: DispositionFailed,
				Reason:      err.Error(),
			})
			continue
		}

		switch outcome.Disposition {
		case DispositionInserted:
			report.Inserted++
		case DispositionCoexisted:
			report.Coexisted++
		case DispositionSuperseded:
			report.Superseded++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	s.logger.Info("Reconciled candidate batch",
		zap.String("user_id", userID.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("inserted", report.Inserted),
		zap.Int("coexisted", report.Coexisted),
		zap.Int("superseded", report.Superseded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))

	return report, nil
}

// reconcileOne applies the disposition rules in order:
//  1. no existing fact for the field -> insert
//  2. a verified fact exists -> insert side-by-side, never overwrite
//  3. best unverified fact has strictly lower confidence -> supersede in place
//  4. otherwise -> insert an additional candidate for later consensus
func (s *reconcilerService) reconcileOne(ctx context.Context, userID uuid.UUID, candidate models.CandidateFact) (CandidateOutcome, error) {
	existing, err := s.repo.FindMany(ctx, userID, repositories.KnowledgeFilter{
		Kinds:    []models.Kind{models.KindFact},
		FieldKey: candidate.FieldKey,
	})
	if err != nil {
		return CandidateOutcome{}, fmt.Errorf("load existing facts: %w", err)
	}

	if len(existing) == 0 {
		item, err := s.insertFact(ctx, userID, candidate)
		if err != nil {
			return CandidateOutcome{}, err
		}
		return CandidateOutcome{FieldKey: candidate.FieldKey, Disposition: DispositionInserted, ItemID: item.ID}, nil
	}

	var best *models.KnowledgeItem
	hasVerified := false
	for _, item := range existing {
		if item.Verified {
			hasVerified = true
		}
		if !item.Verified && (best == nil || item.Confidence > best.Confidence) {
			best = item
		}
	}

	if hasVerified {
		item, err := s.insertFact(ctx, userID, candidate)
		if err != nil {
			return CandidateOutcome{}, err
		}
		s.logger.Debug("Candidate stored beside verified fact",
			zap.String("field_key", candidate.FieldKey),
			zap.String("source", candidate.Source))
		return CandidateOutcome{FieldKey: candidate.FieldKey, Disposition: DispositionCoexisted, ItemID: item.ID}, nil
	}

	if best != nil && candidate.Confidence > best.Confidence {
		updated, err := s.repo.Update(ctx, userID, best.ID, repositories.KnowledgePatch{
			Content:    &candidate.Value,
			Confidence: &candidate.Confidence,
			Source:     &candidate.Source,
		})
		if err != nil {
			return CandidateOutcome{}, fmt.Errorf("supersede fact: %w", err)
		}
		s.logger.Debug("Candidate superseded existing fact",
			zap.String("field_key", candidate.FieldKey),
			zap.String("item_id", updated.ID.String()),
			zap.Float64("confidence", candidate.Confidence),
			zap.String("source", candidate.Source))
		return CandidateOutcome{FieldKey: candidate.FieldKey, Disposition: DispositionSuperseded, ItemID: updated.ID}, nil
	}

	item, err := s.insertFact(ctx, userID, candidate)
	if err != nil {
		return CandidateOutcome{}, err
	}
	return CandidateOutcome{FieldKey: candidate.FieldKey, Disposition: DispositionInserted, ItemID: item.ID}, nil
}

func (s *reconcilerService) insertFact(ctx context.Context, userID uuid.UUID, candidate models.CandidateFact) (*models.KnowledgeItem, error) {
	item, err := models.NewFact(userID, candidate.FieldKey, candidate.Value, candidate.Confidence, candidate.Source)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	s.logger.Debug("Candidate inserted",
		zap.String("field_key", candidate.FieldKey),
		zap.String("item_id", item.ID.String()),
		zap.String("source", candidate.Source))
	return item, nil
}
