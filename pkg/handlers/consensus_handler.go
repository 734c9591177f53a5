package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/auth"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CommitConsensusRequest for POST /api/admin/users/{uid}/consensus/commit.
// Exactly one form of confirmation is required: the previewed plan, or the
// auto_confirm override to regenerate and commit in one step.
type CommitConsensusRequest struct {
	Plan        *services.CleanupPlan `json:"plan,omitempty"`
	AutoConfirm bool                  `json:"auto_confirm,omitempty"`
}

// CommitConsensusResponse for POST /api/admin/users/{uid}/consensus/commit
type CommitConsensusResponse struct {
	Plan   *services.CleanupPlan   `json:"plan"`
	Result *services.CleanupResult `json:"result"`
}

// ============================================================================
// Handler
// ============================================================================

// ConsensusHandler handles the offline consensus cleanup endpoints. The
// routes live under /api/admin because cleanup is an operator action that
// targets an arbitrary user, not the caller.
type ConsensusHandler struct {
	consensusService services.ConsensusService
	logger           *zap.Logger
}

// NewConsensusHandler creates a new consensus handler.
func NewConsensusHandler(consensusService services.ConsensusService, logger *zap.Logger) *ConsensusHandler {
	return &ConsensusHandler{
		consensusService: consensusService,
		logger:           logger,
	}
}

// RegisterRoutes registers the consensus handler's routes on the given mux.
func (h *ConsensusHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/admin/users/{uid}/consensus/preview", authMiddleware.RequireAuth(h.Preview))
	mux.HandleFunc("POST /api/admin/users/{uid}/consensus/commit", authMiddleware.RequireAuth(h.Commit))
}

// Preview handles POST /api/admin/users/{uid}/consensus/preview
func (h *ConsensusHandler) Preview(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	plan, err := h.consensusService.Preview(r.Context(), userID)
	if err != nil {
		h.logger.Error("Consensus preview failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "consensus_preview_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: plan}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Commit handles POST /api/admin/users/{uid}/consensus/commit
// With a plan in the body, commits that plan; with auto_confirm set,
// regenerates the plan and commits it in one step. Deletion never happens
// without one of the two.
func (h *ConsensusHandler) Commit(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req CommitConsensusRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
	}
	if req.Plan == nil && !req.AutoConfirm {
		if err := ErrorResponse(w, http.StatusBadRequest, "confirmation_required",
			"Commit requires the previewed plan or auto_confirm"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var (
		plan   *services.CleanupPlan
		result *services.CleanupResult
		err    error
	)
	if req.Plan != nil {
		plan = req.Plan
		result, err = h.consensusService.Commit(r.Context(), userID, plan)
	} else {
		plan, result, err = h.consensusService.Run(r.Context(), userID, true)
	}
	if err != nil {
		h.logger.Error("Consensus commit failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "consensus_commit_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := CommitConsensusResponse{Plan: plan, Result: result}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
