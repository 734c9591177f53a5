package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stipendhq/stipend-engine/pkg/auth"
	"github.com/stipendhq/stipend-engine/pkg/models"
	"github.com/stipendhq/stipend-engine/pkg/repositories"
	"github.com/stipendhq/stipend-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// KnowledgeListResponse for GET /api/knowledge
type KnowledgeListResponse struct {
	Items []*models.KnowledgeItem `json:"items"`
	Total int                     `json:"total"`
}

// CreateKnowledgeRequest for POST /api/knowledge
type CreateKnowledgeRequest struct {
	FieldKey   string  `json:"field_key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// UpdateKnowledgeRequest for PUT /api/knowledge/{kid}
type UpdateKnowledgeRequest struct {
	Content    *string  `json:"content,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Verified   *bool    `json:"verified,omitempty"`
}

// IngestCandidatesRequest for POST /api/knowledge/extracted
type IngestCandidatesRequest struct {
	Candidates []models.CandidateFact `json:"candidates"`
}

// ============================================================================
// Handler
// ============================================================================

// KnowledgeHandler handles knowledge base HTTP requests.
type KnowledgeHandler struct {
	knowledgeService services.KnowledgeService
	reconciler       services.ReconcilerService
	logger           *zap.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(
	knowledgeService services.KnowledgeService,
	reconciler services.ReconcilerService,
	logger *zap.Logger,
) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledgeService: knowledgeService,
		reconciler:       reconciler,
		logger:           logger,
	}
}

// RegisterRoutes registers the knowledge handler's routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/knowledge"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("GET "+base+"/search", authMiddleware.RequireAuth(h.Search))
	mux.HandleFunc("GET "+base+"/{kid}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("POST "+base+"/extracted", authMiddleware.RequireAuth(h.Ingest))
	mux.HandleFunc("PUT "+base+"/{kid}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE "+base+"/{kid}", authMiddleware.RequireAuth(h.Delete))
}

// List handles GET /api/knowledge
func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	filter := repositories.KnowledgeFilter{
		FieldKey: r.URL.Query().Get("field_key"),
		Contains: r.URL.Query().Get("contains"),
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		k := models.Kind(kind)
		if !k.IsValid() {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_kind", "Unknown knowledge kind"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		filter.Kinds = []models.Kind{k}
	}
	if verified := r.URL.Query().Get("verified"); verified != "" {
		v := verified == "true"
		filter.Verified = &v
	}

	items, err := h.knowledgeService.List(r.Context(), userID, filter)
	if err != nil {
		h.logger.Error("Failed to list knowledge items",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "list_knowledge_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := KnowledgeListResponse{Items: items, Total: len(items)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/knowledge/{kid}
func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())
	id, ok := ParseKnowledgeID(w, r, h.logger)
	if !ok {
		return
	}

	item, err := h.knowledgeService.Get(r.Context(), userID, id)
	if err != nil {
		if err := ErrorResponse(w, statusFor(err), "get_knowledge_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: item}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/knowledge
func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	var req CreateKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	report, err := h.knowledgeService.AddManual(r.Context(), userID, services.ManualEntry{
		FieldKey:   req.FieldKey,
		Value:      req.Value,
		Confidence: req.Confidence,
	})
	if err != nil {
		h.logger.Error("Failed to add manual knowledge entry",
			zap.String("user_id", userID.String()),
			zap.String("field_key", req.FieldKey),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "create_knowledge_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Ingest handles POST /api/knowledge/extracted
func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	var req IngestCandidatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.Candidates) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "no_candidates", "At least one candidate is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	report, err := h.reconciler.ReconcileBatch(r.Context(), userID, req.Candidates)
	if err != nil {
		h.logger.Error("Failed to reconcile candidates",
			zap.String("user_id", userID.String()),
			zap.Int("candidates", len(req.Candidates)),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "ingest_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/knowledge/{kid}
func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())
	id, ok := ParseKnowledgeID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	item, err := h.knowledgeService.Update(r.Context(), userID, id, services.KnowledgeUpdate{
		Content:    req.Content,
		Confidence: req.Confidence,
		Verified:   req.Verified,
	})
	if err != nil {
		if err := ErrorResponse(w, statusFor(err), "update_knowledge_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: item}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/knowledge/{kid}
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())
	id, ok := ParseKnowledgeID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.knowledgeService.Delete(r.Context(), userID, id); err != nil {
		if err := ErrorResponse(w, statusFor(err), "delete_knowledge_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Search handles GET /api/knowledge/search
func (h *KnowledgeHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserIDFromContext(r.Context())

	query := r.URL.Query().Get("q")
	if query == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_query", "Query parameter q is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	items, err := h.knowledgeService.Search(r.Context(), userID, query, limit)
	if err != nil {
		h.logger.Error("Semantic search failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, statusFor(err), "search_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := KnowledgeListResponse{Items: items, Total: len(items)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
