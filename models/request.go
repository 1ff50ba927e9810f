package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Request lifecycle statuses
const (
	RequestStatusDraft             = "draft"
	RequestStatusSubmitted         = "submitted"
	RequestStatusPendingReview     = "pending_review"
	RequestStatusApproved          = "approved"
	RequestStatusPartiallyApproved = "partially_approved"
	RequestStatusDeclined          = "declined"
	RequestStatusOrdered           = "ordered"
	RequestStatusInTransit         = "in_transit"
	RequestStatusDelivered         = "delivered"
	RequestStatusCompleted         = "completed"
	RequestStatusCancelled         = "cancelled"
	RequestStatusReturned          = "returned"
)

// Delivery statuses (advance only once the request is at least approved)
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusPreparing = "preparing"
	DeliveryStatusShipped   = "shipped"
	DeliveryStatusDelivered = "delivered"
)

// Priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Per-item fulfillment statuses
const (
	ItemStatusPending     = "pending"
	ItemStatusApproved    = "approved"
	ItemStatusDistributed = "distributed"
	ItemStatusDeclined    = "declined"
	ItemStatusDelivered   = "delivered"
)

// Approval level statuses
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusDeclined  = "declined"
	ApprovalStatusDelegated = "delegated"
)

// requestStatuses is the set of legal lifecycle values.
var requestStatuses = map[string]bool{
	RequestStatusDraft:             true,
	RequestStatusSubmitted:         true,
	RequestStatusPendingReview:     true,
	RequestStatusApproved:          true,
	RequestStatusPartiallyApproved: true,
	RequestStatusDeclined:          true,
	RequestStatusOrdered:           true,
	RequestStatusInTransit:         true,
	RequestStatusDelivered:         true,
	RequestStatusCompleted:         true,
	RequestStatusCancelled:         true,
	RequestStatusReturned:          true,
}

// terminalStatuses admit no further lifecycle transitions.
var terminalStatuses = map[string]bool{
	RequestStatusCompleted: true,
	RequestStatusCancelled: true,
	RequestStatusDeclined:  true,
	RequestStatusReturned:  true,
}

var deliveryStatuses = map[string]bool{
	DeliveryStatusPending:   true,
	DeliveryStatusPreparing: true,
	DeliveryStatusShipped:   true,
	DeliveryStatusDelivered: true,
}

// IsValidRequestStatus reports whether s is a legal lifecycle value.
func IsValidRequestStatus(s string) bool {
	return requestStatuses[s]
}

// IsTerminalRequestStatus reports whether s admits no further transitions.
func IsTerminalRequestStatus(s string) bool {
	return terminalStatuses[s]
}

// IsValidDeliveryStatus reports whether s is a legal delivery value.
func IsValidDeliveryStatus(s string) bool {
	return deliveryStatuses[s]
}

// reachedApproval lists statuses at or past the approval gate. Delivery status
// may only advance once the lifecycle has reached one of these.
var reachedApproval = map[string]bool{
	RequestStatusApproved:          true,
	RequestStatusPartiallyApproved: true,
	RequestStatusOrdered:           true,
	RequestStatusInTransit:         true,
	RequestStatusDelivered:         true,
	RequestStatusCompleted:         true,
}

// HasReachedApproval reports whether the lifecycle status is at least approved.
func HasReachedApproval(status string) bool {
	return reachedApproval[status]
}

// MaterialRequest is a team's ask for materials, tracked through its lifecycle.
type MaterialRequest struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestNumber string    `gorm:"size:20;uniqueIndex;not null" json:"request_number"`

	TeamID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"team_id"`
	Team      *Team      `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	ProjectID *uuid.UUID `gorm:"type:uuid;index" json:"project_id,omitempty"`
	Project   *Project   `gorm:"foreignKey:ProjectID" json:"project,omitempty"`

	Title       string `gorm:"size:200;not null" json:"title"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	Priority    string `gorm:"size:20;not null;default:'normal'" json:"priority"`

	Status         string `gorm:"size:30;not null;default:'draft';index" json:"status"`
	DeliveryStatus string `gorm:"size:30;not null;default:'pending'" json:"delivery_status"`

	// IsConsumable marks the whole request as consumption (stock depletion)
	// rather than durable assignment.
	IsConsumable bool `gorm:"default:false" json:"is_consumable"`

	RequesterID string `gorm:"size:255;not null;index" json:"requester_id"`

	// CurrentApproverID is a derived pointer recomputed on every approval-chain
	// mutation. The per-level statuses in Approvals stay authoritative.
	CurrentApproverID string `gorm:"size:255" json:"current_approver_id,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	OrderedAt   *time.Time `json:"ordered_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Items     []RequestItem     `gorm:"foreignKey:RequestID" json:"items,omitempty"`
	Approvals []RequestApproval `gorm:"foreignKey:RequestID" json:"approvals,omitempty"`
	Comments  []RequestComment  `gorm:"foreignKey:RequestID" json:"comments,omitempty"`
	History   []RequestHistory  `gorm:"foreignKey:RequestID" json:"history,omitempty"`
}

// TableName specifies the table name for MaterialRequest
func (MaterialRequest) TableName() string {
	return "material_requests"
}

// RequestItem is one requested line of a MaterialRequest. Created with the
// request, mutated only by the fulfillment processor after approval.
type RequestItem struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`

	// InventoryItemID is optional; a nil link makes this a free-text
	// requisition that never touches the ledger.
	InventoryItemID *uuid.UUID     `gorm:"type:uuid;index" json:"inventory_item_id,omitempty"`
	InventoryItem   *InventoryItem `gorm:"foreignKey:InventoryItemID" json:"inventory_item,omitempty"`

	Name         string  `gorm:"size:200;not null" json:"name"`
	Quantity     float64 `gorm:"not null" json:"quantity"`
	Unit         string  `gorm:"size:20;default:'pcs'" json:"unit"`
	IsConsumable bool    `gorm:"default:false" json:"is_consumable"`

	Status              string  `gorm:"size:20;not null;default:'pending'" json:"status"`
	ApprovedQuantity    float64 `json:"approved_quantity"`
	DistributedQuantity float64 `json:"distributed_quantity"`
	ShortageNote        string  `gorm:"type:text" json:"shortage_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for RequestItem
func (RequestItem) TableName() string {
	return "request_items"
}

// RequestApproval is one level of a request's ordered approval chain. Level k
// may only leave pending once all levels below k are approved.
type RequestApproval struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index:idx_request_level,unique" json:"request_id"`

	ApprovalLevel int    `gorm:"not null;index:idx_request_level,unique" json:"approval_level"`
	ApproverID    string `gorm:"size:255;not null" json:"approver_id"`
	DelegateID    string `gorm:"size:255" json:"delegate_id,omitempty"`

	Status    string     `gorm:"size:20;not null;default:'pending'" json:"status"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Comments  string     `gorm:"type:text" json:"comments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for RequestApproval
func (RequestApproval) TableName() string {
	return "request_approvals"
}

// RequestHistory is an append-only audit record of a state transition.
// Never mutated or deleted.
type RequestHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`

	Action   string         `gorm:"size:50;not null" json:"action"`
	ActorID  string         `gorm:"size:255;not null" json:"actor_id"`
	OldValue datatypes.JSON `gorm:"type:jsonb" json:"old_value,omitempty"`
	NewValue datatypes.JSON `gorm:"type:jsonb" json:"new_value,omitempty"`
	Note     string         `gorm:"type:text" json:"note,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for RequestHistory
func (RequestHistory) TableName() string {
	return "request_history"
}

// RequestComment is a free-form discussion entry on a request. Internal
// comments are visible to privileged roles only.
type RequestComment struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`

	AuthorID   string `gorm:"size:255;not null" json:"author_id"`
	Body       string `gorm:"type:text;not null" json:"body"`
	IsInternal bool   `gorm:"default:false" json:"is_internal"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for RequestComment
func (RequestComment) TableName() string {
	return "request_comments"
}

// RequestSequence backs the per-year request number generator.
type RequestSequence struct {
	Year    int `gorm:"primaryKey" json:"year"`
	LastSeq int `gorm:"not null;default:0" json:"last_seq"`
}

// TableName specifies the table name for RequestSequence
func (RequestSequence) TableName() string {
	return "request_sequences"
}
