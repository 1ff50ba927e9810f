package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Inventory transaction types
const (
	TxTypeConsumption = "consumption"
	TxTypeAssignment  = "assignment"
	TxTypeReturn      = "return"
	TxTypeAdjustment  = "adjustment"
	TxTypeRestock     = "restock"
)

// Assignment statuses
const (
	AssignmentStatusActive   = "active"
	AssignmentStatusReturned = "returned"
)

// InventoryItem tracks per-item quantity counters. The ledger invariant:
// available_quantity = total_quantity - active assignments - consumed_quantity,
// and available_quantity is never negative.
type InventoryItem struct {
	ID   uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name string    `gorm:"size:200;not null" json:"name"`
	SKU  string    `gorm:"size:50;uniqueIndex" json:"sku,omitempty"`

	Category string         `gorm:"size:100;index" json:"category,omitempty"`
	Unit     string         `gorm:"size:20;default:'pcs'" json:"unit"`
	Tags     pq.StringArray `gorm:"type:text[]" json:"tags,omitempty"`

	TotalQuantity     float64 `gorm:"not null;default:0" json:"total_quantity"`
	AvailableQuantity float64 `gorm:"not null;default:0" json:"available_quantity"`
	ConsumedQuantity  float64 `gorm:"not null;default:0" json:"consumed_quantity"`

	// IsFrequentlyDistributed marks items that are always fulfilled as
	// consumption regardless of how the request line is flagged.
	IsFrequentlyDistributed bool `gorm:"default:false" json:"is_frequently_distributed"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for InventoryItem
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// InventoryAssignment is a durable allocation of quantity from an item to a
// team. Created only while sufficient available quantity exists.
type InventoryAssignment struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InventoryItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"inventory_item_id"`
	TeamID          uuid.UUID `gorm:"type:uuid;not null;index" json:"team_id"`

	// RequestItemID links back to the fulfilled request line, when the
	// assignment came from fulfillment rather than a manual grant.
	RequestItemID *uuid.UUID `gorm:"type:uuid;index" json:"request_item_id,omitempty"`

	Quantity   float64    `gorm:"not null" json:"quantity"`
	Status     string     `gorm:"size:20;not null;default:'active'" json:"status"`
	AssignedBy string     `gorm:"size:255;not null" json:"assigned_by"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for InventoryAssignment
func (InventoryAssignment) TableName() string {
	return "inventory_assignments"
}

// ConsumptionLog is an immutable record of a consumption event.
type ConsumptionLog struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InventoryItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"inventory_item_id"`
	TeamID          uuid.UUID `gorm:"type:uuid;not null;index" json:"team_id"`

	RequestItemID *uuid.UUID `gorm:"type:uuid;index" json:"request_item_id,omitempty"`

	Quantity   float64 `gorm:"not null" json:"quantity"`
	ConsumedBy string  `gorm:"size:255;not null" json:"consumed_by"`
	Reason     string  `gorm:"type:text" json:"reason,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for ConsumptionLog
func (ConsumptionLog) TableName() string {
	return "consumption_logs"
}

// InventoryTransaction is an immutable ledger row. Every quantity-changing
// mutation of an InventoryItem writes exactly one of these in the same
// atomic unit.
type InventoryTransaction struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InventoryItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"inventory_item_id"`

	Type     string  `gorm:"size:20;not null" json:"type"`
	Quantity float64 `gorm:"not null" json:"quantity"`

	// Before/after snapshot of available_quantity.
	PreviousQuantity float64 `gorm:"not null" json:"previous_quantity"`
	NewQuantity      float64 `gorm:"not null" json:"new_quantity"`

	ActorID       string     `gorm:"size:255;not null" json:"actor_id"`
	Reason        string     `gorm:"type:text" json:"reason,omitempty"`
	ReferenceType string     `gorm:"size:30" json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID `gorm:"type:uuid;index" json:"reference_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName specifies the table name for InventoryTransaction
func (InventoryTransaction) TableName() string {
	return "inventory_transactions"
}
