package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/auth"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// AcceptDraftRequest for POST /api/drafts/{did}/accept
type AcceptDraftRequest struct {
	ScholarshipID string `json:"scholarship_id"`
	FieldName     string `json:"field_name,omitempty"`
}

// AcceptDraftResponse for POST /api/drafts/{did}/accept
type AcceptDraftResponse struct {
	FieldMapping  AcceptedFieldMapping `json:"field_mapping"`
	Draft         AcceptedDraft        `json:"draft"`
	ContextStored bool                 `json:"context_stored"`
}

// AcceptedFieldMapping is the approved-value summary in an accept response.
type AcceptedFieldMapping struct {
	FieldName     string `json:"field_name"`
	FieldLabel    string `json:"field_label"`
	ApprovedValue string `json:"approved_value"`
}

// AcceptedDraft is the draft summary in an accept response.
type AcceptedDraft struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	WordCount int       `json:"word_count"`
	Verified  bool      `json:"verified"`
}

// ============================================================================
// Handler
// ============================================================================

// AcceptanceHandler handles draft acceptance HTTP requests.
type AcceptanceHandler struct {
	acceptanceService services.AcceptanceService
	logger            *zap.Logger
}

// NewAcceptanceHandler creates a new acceptance handler.
func NewAcceptanceHandler(acceptanceService services.AcceptanceService, logger *zap.Logger) *AcceptanceHandler {
	return &AcceptanceHandler{
		acceptanceService: acceptanceService,
		logger:            logger,
	}
}

// RegisterRoutes registers the acceptance handler's routes on the given mux.
func (h *AcceptanceHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/drafts/{did}/accept", authMiddleware.RequireAuth(h.Accept))
}

// Accept handles POST /api/drafts/{did}/accept
func (h *AcceptanceHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())
	draftID, ok := ParseDraftID(w, r, h.logger)
	if !ok {
		return
	}

	var req AcceptDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	scholarshipID, err := uuid.Parse(req.ScholarshipID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_scholarship_id", "Invalid scholarship ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.acceptanceService.Accept(r.Context(), userID, services.AcceptRequest{
		DraftID:       draftID,
		ScholarshipID: scholarshipID,
		FieldName:     req.FieldName,
	})
	if err != nil {
		h.logger.Error("Failed to accept draft",
			zap.String("user_id", userID.String()),
			zap.String("draft_id", draftID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "accept_draft_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := AcceptDraftResponse{
		FieldMapping: AcceptedFieldMapping{
			FieldName:     result.FieldMapping.FieldName,
			FieldLabel:    result.FieldMapping.FieldLabel,
			ApprovedValue: result.FieldMapping.ApprovedValue,
		},
		Draft: AcceptedDraft{
			ID:        result.Draft.ID,
			Content:   result.Draft.Content,
			WordCount: result.Draft.WordCount(),
			Verified:  result.Draft.Verified,
		},
		ContextStored: result.ContextWritten,
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
