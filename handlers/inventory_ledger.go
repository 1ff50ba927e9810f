package handlers

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"p9e.in/incubator/metrics"
	"p9e.in/incubator/models"
)

// InventoryLedger owns the quantity counters of inventory items. Every
// mutation is an atomic read-check-write unit scoped to a single item and
// writes exactly one InventoryTransaction row in the same unit. Available
// quantity never goes negative: two requests racing for the last units end
// with one success and a clean shortage for the loser.
type InventoryLedger struct {
	db *gorm.DB
}

// NewInventoryLedger creates a ledger over the given database.
func NewInventoryLedger(db *gorm.DB) *InventoryLedger {
	return &InventoryLedger{db: db}
}

// lockItem loads the item under a row lock so the read-check-write sequence
// is atomic against concurrent reservations of the same item.
func lockItem(tx *gorm.DB, itemID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Entity: "inventory item", ID: itemID.String()}
		}
		return nil, fmt.Errorf("failed to lock inventory item: %w", err)
	}
	return &item, nil
}

// ReserveConsumption permanently depletes stock for a consumable line.
// All-or-nothing: if fewer than qty units are available nothing is consumed
// and an InsufficientQuantityError is returned.
func (l *InventoryLedger) ReserveConsumption(itemID, teamID uuid.UUID, qty float64, actorID string, requestItemID *uuid.UUID, reason string) (*models.InventoryTransaction, error) {
	var ledgerTx *models.InventoryTransaction
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		ledgerTx, txErr = l.reserveConsumption(tx, itemID, teamID, qty, actorID, requestItemID, reason)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return ledgerTx, nil
}

// reserveConsumption is the tx-scoped consumption unit: consumption log,
// counter decrement and ledger row commit or abort together.
func (l *InventoryLedger) reserveConsumption(tx *gorm.DB, itemID, teamID uuid.UUID, qty float64, actorID string, requestItemID *uuid.UUID, reason string) (*models.InventoryTransaction, error) {
	if qty <= 0 {
		return nil, &ValidationError{Msg: "consumption quantity must be positive"}
	}

	item, err := lockItem(tx, itemID)
	if err != nil {
		return nil, err
	}

	if item.AvailableQuantity < qty {
		metrics.LedgerShortages.Inc()
		return nil, &InsufficientQuantityError{
			InventoryItemID: itemID,
			Requested:       qty,
			Available:       item.AvailableQuantity,
		}
	}

	previous := item.AvailableQuantity
	item.AvailableQuantity -= qty
	item.ConsumedQuantity += qty
	if err := tx.Save(item).Error; err != nil {
		return nil, fmt.Errorf("failed to update inventory item: %w", err)
	}

	consumption := models.ConsumptionLog{
		InventoryItemID: itemID,
		TeamID:          teamID,
		RequestItemID:   requestItemID,
		Quantity:        qty,
		ConsumedBy:      actorID,
		Reason:          reason,
		CreatedAt:       time.Now(),
	}
	if err := tx.Create(&consumption).Error; err != nil {
		return nil, fmt.Errorf("failed to create consumption log: %w", err)
	}

	ledgerTx := models.InventoryTransaction{
		InventoryItemID:  itemID,
		Type:             models.TxTypeConsumption,
		Quantity:         qty,
		PreviousQuantity: previous,
		NewQuantity:      item.AvailableQuantity,
		ActorID:          actorID,
		Reason:           reason,
		ReferenceType:    "request_item",
		ReferenceID:      requestItemID,
		CreatedAt:        time.Now(),
	}
	if err := tx.Create(&ledgerTx).Error; err != nil {
		return nil, fmt.Errorf("failed to create inventory transaction: %w", err)
	}
	return &ledgerTx, nil
}

// ReserveAssignment allocates durable stock to a team. It grants
// min(available, qty): a partial grant when stock runs short, or an
// InsufficientQuantityError when nothing is available. A negative-capacity
// assignment is never created.
func (l *InventoryLedger) ReserveAssignment(itemID, teamID uuid.UUID, qty float64, actorID string, requestItemID *uuid.UUID, reason string) (float64, *models.InventoryTransaction, error) {
	var (
		granted  float64
		ledgerTx *models.InventoryTransaction
	)
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		granted, ledgerTx, txErr = l.reserveAssignment(tx, itemID, teamID, qty, actorID, requestItemID, reason)
		return txErr
	})
	if err != nil {
		return 0, nil, err
	}
	return granted, ledgerTx, nil
}

// reserveAssignment is the tx-scoped assignment unit.
func (l *InventoryLedger) reserveAssignment(tx *gorm.DB, itemID, teamID uuid.UUID, qty float64, actorID string, requestItemID *uuid.UUID, reason string) (float64, *models.InventoryTransaction, error) {
	if qty <= 0 {
		return 0, nil, &ValidationError{Msg: "assignment quantity must be positive"}
	}

	item, err := lockItem(tx, itemID)
	if err != nil {
		return 0, nil, err
	}

	if item.AvailableQuantity <= 0 {
		metrics.LedgerShortages.Inc()
		return 0, nil, &InsufficientQuantityError{
			InventoryItemID: itemID,
			Requested:       qty,
			Available:       0,
		}
	}

	granted := qty
	if item.AvailableQuantity < qty {
		metrics.LedgerShortages.Inc()
		granted = item.AvailableQuantity
	}

	previous := item.AvailableQuantity
	item.AvailableQuantity -= granted
	if err := tx.Save(item).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to update inventory item: %w", err)
	}

	assignment := models.InventoryAssignment{
		InventoryItemID: itemID,
		TeamID:          teamID,
		RequestItemID:   requestItemID,
		Quantity:        granted,
		Status:          models.AssignmentStatusActive,
		AssignedBy:      actorID,
	}
	if err := tx.Create(&assignment).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to create inventory assignment: %w", err)
	}

	ledgerTx := models.InventoryTransaction{
		InventoryItemID:  itemID,
		Type:             models.TxTypeAssignment,
		Quantity:         granted,
		PreviousQuantity: previous,
		NewQuantity:      item.AvailableQuantity,
		ActorID:          actorID,
		Reason:           reason,
		ReferenceType:    "request_item",
		ReferenceID:      requestItemID,
		CreatedAt:        time.Now(),
	}
	if err := tx.Create(&ledgerTx).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to create inventory transaction: %w", err)
	}
	return granted, &ledgerTx, nil
}

// ReturnAssignment puts a durable allocation back into available stock.
func (l *InventoryLedger) ReturnAssignment(assignmentID uuid.UUID, actorID string) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		var assignment models.InventoryAssignment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&assignment, "id = ?", assignmentID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &NotFoundError{Entity: "inventory assignment", ID: assignmentID.String()}
			}
			return fmt.Errorf("failed to lock assignment: %w", err)
		}
		if assignment.Status != models.AssignmentStatusActive {
			return &InvalidStateError{Current: assignment.Status, Attempted: "return assignment"}
		}

		item, err := lockItem(tx, assignment.InventoryItemID)
		if err != nil {
			return err
		}

		now := time.Now()
		assignment.Status = models.AssignmentStatusReturned
		assignment.ReturnedAt = &now
		if err := tx.Save(&assignment).Error; err != nil {
			return fmt.Errorf("failed to update assignment: %w", err)
		}

		previous := item.AvailableQuantity
		item.AvailableQuantity += assignment.Quantity
		if err := tx.Save(item).Error; err != nil {
			return fmt.Errorf("failed to update inventory item: %w", err)
		}

		ledgerTx := models.InventoryTransaction{
			InventoryItemID:  item.ID,
			Type:             models.TxTypeReturn,
			Quantity:         assignment.Quantity,
			PreviousQuantity: previous,
			NewQuantity:      item.AvailableQuantity,
			ActorID:          actorID,
			ReferenceType:    "assignment",
			ReferenceID:      &assignment.ID,
			CreatedAt:        time.Now(),
		}
		return tx.Create(&ledgerTx).Error
	})
}

// Adjust applies a manual correction to both total and available quantity.
// The adjustment is rejected if it would drive available below zero.
func (l *InventoryLedger) Adjust(itemID uuid.UUID, delta float64, actorID, reason string) (*models.InventoryTransaction, error) {
	if delta == 0 {
		return nil, &ValidationError{Msg: "adjustment quantity must be non-zero"}
	}

	var ledgerTx models.InventoryTransaction
	err := l.db.Transaction(func(tx *gorm.DB) error {
		item, err := lockItem(tx, itemID)
		if err != nil {
			return err
		}

		if item.AvailableQuantity+delta < 0 {
			return &InsufficientQuantityError{
				InventoryItemID: itemID,
				Requested:       -delta,
				Available:       item.AvailableQuantity,
			}
		}

		previous := item.AvailableQuantity
		item.TotalQuantity += delta
		item.AvailableQuantity += delta
		if err := tx.Save(item).Error; err != nil {
			return fmt.Errorf("failed to update inventory item: %w", err)
		}

		txType := models.TxTypeAdjustment
		if delta > 0 {
			txType = models.TxTypeRestock
		}
		ledgerTx = models.InventoryTransaction{
			InventoryItemID:  itemID,
			Type:             txType,
			Quantity:         delta,
			PreviousQuantity: previous,
			NewQuantity:      item.AvailableQuantity,
			ActorID:          actorID,
			Reason:           reason,
			CreatedAt:        time.Now(),
		}
		return tx.Create(&ledgerTx).Error
	})
	if err != nil {
		return nil, err
	}
	return &ledgerTx, nil
}
