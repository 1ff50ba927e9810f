package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"p9e.in/incubator/middleware"
	"p9e.in/incubator/models"
)

// MaterialRequestHandler exposes the request lifecycle and approval chain
// over HTTP.
type MaterialRequestHandler struct {
	db     *gorm.DB
	engine *RequestEngine
	chain  *ApprovalChain
}

// NewMaterialRequestHandler creates a new material request handler.
func NewMaterialRequestHandler(db *gorm.DB, engine *RequestEngine, chain *ApprovalChain) *MaterialRequestHandler {
	return &MaterialRequestHandler{db: db, engine: engine, chain: chain}
}

// actorFromRequest builds the acting identity from the JWT claims.
func actorFromRequest(r *http.Request) (Actor, bool) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		return Actor{}, false
	}
	return Actor{ID: claims.UserID, Role: claims.Role}, true
}

// requestIDFromPath parses the {id} path variable.
func requestIDFromPath(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// CreateRequest creates a material request
// POST /api/v1/requests
func (h *MaterialRequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var input CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	request, err := h.engine.Create(input, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// ListRequests lists requests with optional filters
// GET /api/v1/requests?status=&team_id=&mine=
func (h *MaterialRequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	query := h.db.Model(&models.MaterialRequest{}).Preload("Items")

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if teamID := r.URL.Query().Get("team_id"); teamID != "" {
		id, err := uuid.Parse(teamID)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid team_id")
			return
		}
		query = query.Where("team_id = ?", id)
	}
	if r.URL.Query().Get("mine") == "true" {
		query = query.Where("requester_id = ?", actor.ID)
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o > 0 {
		offset = o
	}

	var requests []models.MaterialRequest
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&requests).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch requests")
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// GetRequest returns one request with its items and approval chain
// GET /api/v1/requests/{id}
func (h *MaterialRequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := requestIDFromPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var request models.MaterialRequest
	if err := h.db.
		Preload("Items").
		Preload("Items.InventoryItem").
		Preload("Approvals", func(db *gorm.DB) *gorm.DB {
			return db.Order("approval_level ASC")
		}).
		Preload("Team").
		First(&request, "id = ?", id).Error; err != nil {
		writeJSONError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// SubmitRequest submits a draft for review
// POST /api/v1/requests/{id}/submit
func (h *MaterialRequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.engine.Submit(id, actor)
	})
}

// CancelRequest cancels a request
// POST /api/v1/requests/{id}/cancel
func (h *MaterialRequestHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.engine.Cancel(id, actor, body["reason"])
	})
}

// UpdateStatus performs a privileged lifecycle update
// PATCH /api/v1/requests/{id}/status
func (h *MaterialRequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.engine.SetStatus(id, body["status"], actor, body["notes"])
	})
}

// UpdateDelivery performs a privileged delivery update
// PATCH /api/v1/requests/{id}/delivery
func (h *MaterialRequestHandler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.engine.SetDeliveryStatus(id, body["delivery_status"], actor, body["notes"])
	})
}

// ApproveLevel approves one approval level
// POST /api/v1/requests/{id}/approvals/{level}/approve
func (h *MaterialRequestHandler) ApproveLevel(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(id uuid.UUID, level int, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.chain.Approve(id, level, actor, body["comments"])
	})
}

// DeclineLevel declines one approval level (and with it the whole request)
// POST /api/v1/requests/{id}/approvals/{level}/decline
func (h *MaterialRequestHandler) DeclineLevel(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(id uuid.UUID, level int, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.chain.Decline(id, level, actor, body["comments"])
	})
}

// DelegateLevel delegates one approval level
// POST /api/v1/requests/{id}/approvals/{level}/delegate
func (h *MaterialRequestHandler) DelegateLevel(w http.ResponseWriter, r *http.Request) {
	h.approvalAction(w, r, func(id uuid.UUID, level int, actor Actor, body map[string]string) (*models.MaterialRequest, error) {
		return h.chain.Delegate(id, level, actor, body["delegate_id"], body["comments"])
	})
}

// GetHistory returns the audit trail of a request
// GET /api/v1/requests/{id}/history
func (h *MaterialRequestHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := requestIDFromPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var history []models.RequestHistory
	if err := h.db.Where("request_id = ?", id).Order("created_at ASC").Find(&history).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// transition runs a request-level operation with a small string body.
func (h *MaterialRequestHandler) transition(w http.ResponseWriter, r *http.Request, op func(uuid.UUID, Actor, map[string]string) (*models.MaterialRequest, error)) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := requestIDFromPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	body := map[string]string{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	request, err := op(id, actor, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// approvalAction runs an approval-level operation.
func (h *MaterialRequestHandler) approvalAction(w http.ResponseWriter, r *http.Request, op func(uuid.UUID, int, Actor, map[string]string) (*models.MaterialRequest, error)) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := requestIDFromPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	level, err := strconv.Atoi(mux.Vars(r)["level"])
	if err != nil || level < 1 {
		writeJSONError(w, http.StatusBadRequest, "invalid approval level")
		return
	}

	body := map[string]string{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	request, err := op(id, level, actor, body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}
