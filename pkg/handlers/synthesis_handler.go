package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/apperrors"
	"github.com/stipendhq/stipend-engine/pkg/auth"
	"github.com/stipendhq/stipend-engine/pkg/llm"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// StyleRequest carries optional style overrides for generation.
type StyleRequest struct {
	Tone       string `json:"tone,omitempty"`
	Voice      string `json:"voice,omitempty"`
	Complexity string `json:"complexity,omitempty"`
	Focus      string `json:"focus,omitempty"`
}

// GenerateSynthesisRequest for POST /api/synthesis/generate
type GenerateSynthesisRequest struct {
	FieldKey         string       `json:"field_key"`
	FieldLabel       string       `json:"field_label,omitempty"`
	PromptText       string       `json:"prompt_text,omitempty"`
	ScholarshipTitle string       `json:"scholarship_title,omitempty"`
	WordLimit        *int         `json:"word_limit,omitempty"`
	Style            StyleRequest `json:"style,omitempty"`
}

// RegenerateSynthesisRequest for POST /api/synthesis/regenerate
type RegenerateSynthesisRequest struct {
	DraftID          string       `json:"draft_id"`
	FieldKey         string       `json:"field_key"`
	FieldLabel       string       `json:"field_label,omitempty"`
	PromptText       string       `json:"prompt_text,omitempty"`
	ScholarshipTitle string       `json:"scholarship_title,omitempty"`
	WordLimit        *int         `json:"word_limit,omitempty"`
	Style            StyleRequest `json:"style,omitempty"`
}

// DraftListResponse for GET /api/drafts
type DraftListResponse struct {
	Drafts []*models.KnowledgeItem `json:"drafts"`
	Total  int                     `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// SynthesisHandler handles draft generation HTTP requests.
type SynthesisHandler struct {
	synthesisService services.SynthesisService
	logger           *zap.Logger
}

// NewSynthesisHandler creates a new synthesis handler.
func NewSynthesisHandler(synthesisService services.SynthesisService, logger *zap.Logger) *SynthesisHandler {
	return &SynthesisHandler{
		synthesisService: synthesisService,
		logger:           logger,
	}
}

// RegisterRoutes registers the synthesis handler's routes on the given mux.
func (h *SynthesisHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/synthesis/generate", authMiddleware.RequireAuth(h.Generate))
	mux.HandleFunc("POST /api/synthesis/regenerate", authMiddleware.RequireAuth(h.Regenerate))
	mux.HandleFunc("GET /api/drafts", authMiddleware.RequireAuth(h.ListDrafts))
}

// Generate handles POST /api/synthesis/generate
func (h *SynthesisHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	var req GenerateSynthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.FieldKey == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_field_key", "field_key is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.synthesisService.Generate(r.Context(), userID, services.SynthesisRequest{
		FieldKey:         req.FieldKey,
		FieldLabel:       req.FieldLabel,
		PromptText:       req.PromptText,
		ScholarshipTitle: req.ScholarshipTitle,
		WordLimit:        req.WordLimit,
		Style:            styleOverrides(req.Style),
	})
	if err != nil {
		h.writeSynthesisError(w, userID, req.FieldKey, "generate_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Regenerate handles POST /api/synthesis/regenerate
func (h *SynthesisHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	var req RegenerateSynthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.FieldKey == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_field_key", "field_key is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	draftID, err := uuid.Parse(req.DraftID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_draft_id", "Invalid draft ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.synthesisService.Regenerate(r.Context(), userID, draftID, services.SynthesisRequest{
		FieldKey:         req.FieldKey,
		FieldLabel:       req.FieldLabel,
		PromptText:       req.PromptText,
		ScholarshipTitle: req.ScholarshipTitle,
		WordLimit:        req.WordLimit,
		Style:            styleOverrides(req.Style),
	})
	if err != nil {
		h.writeSynthesisError(w, userID, req.FieldKey, "regenerate_failed", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListDrafts handles GET /api/drafts
func (h *SynthesisHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	fieldKey := r.URL.Query().Get("field_key")
	if fieldKey == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_field_key", "Query parameter field_key is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	drafts, err := h.synthesisService.History(r.Context(), userID, fieldKey)
	if err != nil {
		h.logger.Error("Failed to list drafts",
			zap.String("user_id", userID.String()),
			zap.String("field_key", fieldKey),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "list_drafts_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := DraftListResponse{Drafts: drafts, Total: len(drafts)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SynthesisHandler) writeSynthesisError(w http.ResponseWriter, userID uuid.UUID, fieldKey, code string, err error) {
	h.logger.Error("Synthesis request failed",
		zap.String("user_id", userID.String()),
		zap.String("field_key", fieldKey),
		zap.Error(err))

	status := statusFor(err)
	if errors.Is(err, apperrors.ErrPreconditionFailed) {
		code = "profile_not_ready"
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func styleOverrides(s StyleRequest) llm.StyleOverrides {
	return llm.StyleOverrides{
		Tone:       s.Tone,
		Voice:      s.Voice,
		Complexity: s.Complexity,
		Focus:      s.Focus,
	}
}
