package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
)

// CleanupGroup is the per-field portion of a cleanup plan.
type CleanupGroup struct {
	FieldKey       string         `json:"field_key"`
	ConsensusValue string         `json:"consensus_value,omitempty"`
	Ambiguous      bool           `json:"ambiguous"`
	Counts         map[string]int `json:"counts"`
	KeepIDs        []uuid.UUID    `json:"keep_ids"`
	DeleteIDs      []uuid.UUID    `json:"delete_ids"`
}

// CleanupPlan is the full keep/delete plan for one user, produced by Preview
// and required by Commit. The two-step shape keeps the destructive half
// behind an explicit confirmation.
type CleanupPlan struct {
	UserID      uuid.UUID      `json:"user_id"`
	Groups      []CleanupGroup `json:"groups"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// DeleteCount returns the number of items the plan would delete.
func (p *CleanupPlan) DeleteCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.DeleteIDs)
	}
	return n
}

// KeptField reports one resolved field in a cleanup result.
type KeptField struct {
	FieldKey string `json:"field_key"`
	Value    string `json:"value"`
	Count    int    `json:"count"`
}

// CleanupResult summarizes an executed cleanup.
type CleanupResult struct {
	Kept            []KeptField `json:"kept"`
	DeletedCount    int64       `json:"deleted_count"`
	AmbiguousFields []string    `json:"ambiguous_fields"`
}

// ConsensusService collapses duplicate and contradictory unverified facts
// into one canonical value per field via majority vote.
type ConsensusService interface {
	// Preview computes the keep/delete plan without mutating anything.
	Preview(ctx context.Context, userID uuid.UUID) (*CleanupPlan, error)

	// Commit executes a previously previewed plan. The plan must belong to
	// the same user. Ambiguous groups are never deleted.
	Commit(ctx context.Context, userID uuid.UUID, plan *CleanupPlan) (*CleanupResult, error)

	// Run previews and, only when autoConfirm is set, commits in one call.
	// Without autoConfirm the returned result is nil and nothing is deleted.
	Run(ctx context.Context, userID uuid.UUID, autoConfirm bool) (*CleanupPlan, *CleanupResult, error)
}

type consensusService struct {
	repo          repositories.KnowledgeRepository
	nullSentinels map[string]bool
	userLocks     *keyLock
	logger        *zap.Logger
}

// NewConsensusService creates a consensus service. sentinels lists
// placeholder values (case-insensitive) that never count toward consensus;
// the empty string is always a sentinel.
func NewConsensusService(repo repositories.KnowledgeRepository, sentinels []string, logger *zap.Logger) ConsensusService {
	set := map[string]bool{"": true}
	for _, s := range sentinels {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &consensusService{
		repo:          repo,
		nullSentinels: set,
		userLocks:     newKeyLock(),
		logger:        logger.Named("consensus"),
	}
}

var _ ConsensusService = (*consensusService)(nil)

func (s *consensusService) Preview(ctx context.Context, userID uuid.UUID) (*CleanupPlan, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}

	verified := false
	facts, err := s.repo.FindMany(ctx, userID, repositories.KnowledgeFilter{
		Kinds:    []models.Kind{models.KindFact},
		Verified: &verified,
	})
	if err != nil {
		return nil, fmt.Errorf("load unverified facts: %w", err)
	}

	byField := make(map[string][]*models.KnowledgeItem)
	for _, f := range facts {
		byField[f.FieldKey] = append(byField[f.FieldKey], f)
	}

	fieldKeys := make([]string, 0, len(byField))
	for k := range byField {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)

	plan := &CleanupPlan{
		UserID:      userID,
		Groups:      make([]CleanupGroup, 0, len(fieldKeys)),
		GeneratedAt: time.Now(),
	}
	for _, fieldKey := range fieldKeys {
		plan.Groups = append(plan.Groups, s.resolveGroup(fieldKey, byField[fieldKey]))
	}

	s.logger.Info("Cleanup plan computed",
		zap.String("user_id", userID.String()),
		zap.Int("groups", len(plan.Groups)),
		zap.Int("would_delete", plan.DeleteCount()))

	return plan, nil
}

// resolveGroup applies the majority vote to one field's facts. The decision
// is purely local: nothing outside the group is read or touched.
func (s *consensusService) resolveGroup(fieldKey string, items []*models.KnowledgeItem) CleanupGroup {
	group := CleanupGroup{
		FieldKey: fieldKey,
		Counts:   make(map[string]int),
	}

	values := make([]string, len(items))
	for i, item := range items {
		v := item.FactValue()
		if s.nullSentinels[v] {
			v = ""
		}
		values[i] = v
		if v != "" {
			group.Counts[v]++
		}
	}

	// Nothing but placeholders: the whole group is noise.
	if len(group.Counts) == 0 {
		for _, item := range items {
			group.DeleteIDs = append(group.DeleteIDs, item.ID)
		}
		return group
	}

	maxCount := 0
	for _, c := range group.Counts {
		if c > maxCount {
			maxCount = c
		}
	}
	leaders := make([]string, 0, 1)
	for v, c := range group.Counts {
		if c == maxCount {
			leaders = append(leaders, v)
		}
	}

	// No strict majority value: competing singletons or a tie.
	// Delete nothing, flag for manual review.
	if len(leaders) > 1 {
		group.Ambiguous = true
		for _, item := range items {
			group.KeepIDs = append(group.KeepIDs, item.ID)
		}
		return group
	}

	group.ConsensusValue = leaders[0]
	for i, item := range items {
		if values[i] == group.ConsensusValue {
			group.KeepIDs = append(group.KeepIDs, item.ID)
		} else {
			group.DeleteIDs = append(group.DeleteIDs, item.ID)
		}
	}
	return group
}

func (s *consensusService) Commit(ctx context.Context, userID uuid.UUID, plan *CleanupPlan) (*CleanupResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("cleanup plan is required")
	}
	if plan.UserID != userID {
		return nil, fmt.Errorf("plan belongs to a different user: %w", apperrors.ErrInvalidState)
	}

	// Administrative batch; never run twice concurrently for one user.
	lockKey := userID.String()
	if !s.userLocks.TryAcquire(lockKey) {
		return nil, fmt.Errorf("consensus cleanup already running for user: %w", apperrors.ErrConflict)
	}
	defer s.userLocks.Release(lockKey)

	result := &CleanupResult{
		Kept:            make([]KeptField, 0, len(plan.Groups)),
		AmbiguousFields: make([]string, 0),
	}

	for _, group := range plan.Groups {
		if group.Ambiguous {
			result.AmbiguousFields = append(result.AmbiguousFields, group.FieldKey)
			continue
		}
		if len(group.DeleteIDs) > 0 {
			deleted, err := s.repo.Delete(ctx, userID, group.DeleteIDs)
			if err != nil {
				return nil, fmt.Errorf("delete losing facts for %q: %w", group.FieldKey, err)
			}
			result.DeletedCount += deleted
		}
		if group.ConsensusValue != "" {
			result.Kept = append(result.Kept, KeptField{
				FieldKey: group.FieldKey,
				Value:    group.ConsensusValue,
				Count:    group.Counts[group.ConsensusValue],
			})
		}
	}

	s.logger.Info("Cleanup committed",
		zap.String("user_id", userID.String()),
		zap.Int64("deleted", result.DeletedCount),
		zap.Int("kept_fields", len(result.Kept)),
		zap.Int("ambiguous_fields", len(result.AmbiguousFields)))

	return result, nil
}

func (s *consensusService) Run(ctx context.Context, userID uuid.UUID, autoConfirm bool) (*CleanupPlan, *CleanupResult, error) {
	plan, err := s.Preview(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !autoConfirm {
		return plan, nil, nil
	}
	result, err := s.Commit(ctx, userID, plan)
	if err != nil {
		return plan, nil, err
	}
	return plan, result, nil
}
