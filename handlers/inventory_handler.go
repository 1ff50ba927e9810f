package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
)

// InventoryHandler exposes the inventory catalog and its ledger over HTTP.
// All mutations go through the InventoryLedger so the never-negative
// invariant holds no matter which endpoint touches stock.
type InventoryHandler struct {
	db     *gorm.DB
	ledger *InventoryLedger
}

func NewInventoryHandler(db *gorm.DB, ledger *InventoryLedger) *InventoryHandler {
	return &InventoryHandler{db: db, ledger: ledger}
}

type createItemReq struct {
	Name                    string   `json:"name"`
	SKU                     string   `json:"sku"`
	Category                string   `json:"category"`
	Unit                    string   `json:"unit"`
	Tags                    []string `json:"tags"`
	InitialQuantity         float64  `json:"initial_quantity"`
	IsFrequentlyDistributed bool     `json:"is_frequently_distributed"`
}

type adjustReq struct {
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason"`
}

type consumeReq struct {
	TeamID   uuid.UUID `json:"team_id"`
	Quantity float64   `json:"quantity"`
	Reason   string    `json:"reason"`
}

// CreateItem registers a new inventory item
// POST /api/v1/inventory
func (h *InventoryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapManageInventory) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "inventory management requires a privileged role"})
		return
	}

	var req createItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "item name is required")
		return
	}
	if req.InitialQuantity < 0 {
		writeJSONError(w, http.StatusBadRequest, "initial quantity cannot be negative")
		return
	}

	unit := req.Unit
	if unit == "" {
		unit = "pcs"
	}
	item := models.InventoryItem{
		Name:                    req.Name,
		SKU:                     req.SKU,
		Category:                req.Category,
		Unit:                    unit,
		Tags:                    req.Tags,
		TotalQuantity:           req.InitialQuantity,
		AvailableQuantity:       req.InitialQuantity,
		IsFrequentlyDistributed: req.IsFrequentlyDistributed,
	}
	if err := h.db.Create(&item).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create inventory item")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ListItems lists inventory items
// GET /api/v1/inventory?category=&q=
func (h *InventoryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	query := h.db.Model(&models.InventoryItem{})
	if category := r.URL.Query().Get("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if q := r.URL.Query().Get("q"); q != "" {
		query = query.Where("name ILIKE ?", "%"+q+"%")
	}

	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	var items []models.InventoryItem
	if err := query.Order("name ASC").Limit(limit).Find(&items).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch inventory")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetItem returns one inventory item
// GET /api/v1/inventory/{id}
func (h *InventoryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var item models.InventoryItem
	if err := h.db.First(&item, "id = ?", id).Error; err != nil {
		writeDomainError(w, &NotFoundError{Entity: "inventory item", ID: id.String()})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ListTransactions returns the ledger rows of an item, newest first
// GET /api/v1/inventory/{id}/transactions
func (h *InventoryHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapManageInventory) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "ledger access requires a privileged role"})
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	var transactions []models.InventoryTransaction
	if err := h.db.Where("inventory_item_id = ?", id).
		Order("created_at DESC").Limit(limit).Find(&transactions).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch transactions")
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// AdjustItem applies a manual stock correction
// POST /api/v1/inventory/{id}/adjust
func (h *InventoryHandler) AdjustItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapManageInventory) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "inventory management requires a privileged role"})
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ledgerTx, err := h.ledger.Adjust(id, req.Quantity, actor.ID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerTx)
}

// ConsumeItem records a manual consumption outside the request flow
// POST /api/v1/inventory/{id}/consume
func (h *InventoryHandler) ConsumeItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapManageInventory) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "inventory management requires a privileged role"})
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req consumeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TeamID == uuid.Nil {
		writeJSONError(w, http.StatusBadRequest, "team_id is required")
		return
	}

	ledgerTx, err := h.ledger.ReserveConsumption(id, req.TeamID, req.Quantity, actor.ID, nil, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerTx)
}

// ListAssignments lists durable allocations
// GET /api/v1/assignments?team_id=&status=
func (h *InventoryHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	query := h.db.Model(&models.InventoryAssignment{})
	if teamID := r.URL.Query().Get("team_id"); teamID != "" {
		id, err := uuid.Parse(teamID)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid team_id")
			return
		}
		query = query.Where("team_id = ?", id)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var assignments []models.InventoryAssignment
	if err := query.Order("created_at DESC").Limit(200).Find(&assignments).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch assignments")
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

// ReturnAssignment returns an active allocation to stock
// POST /api/v1/assignments/{id}/return
func (h *InventoryHandler) ReturnAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapManageInventory) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "inventory management requires a privileged role"})
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}

	if err := h.ledger.ReturnAssignment(id, actor.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "assignment returned"})
}
