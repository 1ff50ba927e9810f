package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"p9e.in/incubator/metrics"
	"p9e.in/incubator/models"
)

// ItemOutcome is the structured result of fulfilling one request line. The
// caller derives the aggregate request status from the outcome list instead
// of relying on errors escaping the processing loop.
type ItemOutcome struct {
	ItemID    uuid.UUID `json:"item_id"`
	Status    string    `json:"status"`
	Requested float64   `json:"requested"`
	Granted   float64   `json:"granted"`
	Note      string    `json:"note,omitempty"`
	Err       error     `json:"-"`
}

// FulfillmentProcessor converts the pending lines of an approved request into
// concrete inventory movements. Each line is its own atomic unit: a failure
// on one line neither rolls back lines already committed nor halts the rest.
type FulfillmentProcessor struct {
	db     *gorm.DB
	ledger *InventoryLedger
}

// NewFulfillmentProcessor creates a fulfillment processor.
func NewFulfillmentProcessor(db *gorm.DB, ledger *InventoryLedger) *FulfillmentProcessor {
	return &FulfillmentProcessor{db: db, ledger: ledger}
}

// isConsumableLine classifies a request line. A line is consumable when the
// request is globally flagged, the line itself is flagged, or the linked
// inventory item is marked as frequently distributed (by flag or category).
func isConsumableLine(request *models.MaterialRequest, item *models.RequestItem, inv *models.InventoryItem) bool {
	if request.IsConsumable || item.IsConsumable {
		return true
	}
	if inv == nil {
		return false
	}
	if inv.IsFrequentlyDistributed {
		return true
	}
	category := strings.ToLower(inv.Category)
	return category == "consumable" || category == "consumables"
}

// Process walks every still-pending line of the request and drives the
// ledger accordingly. Invoked exactly once per approval event that finalizes
// the request.
func (p *FulfillmentProcessor) Process(request *models.MaterialRequest, actorID string) []ItemOutcome {
	var items []models.RequestItem
	if err := p.db.Where("request_id = ? AND status = ?", request.ID, models.ItemStatusPending).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		log.Printf("❌ Failed to load pending items for request %s: %v", request.RequestNumber, err)
		return nil
	}

	outcomes := make([]ItemOutcome, 0, len(items))
	for i := range items {
		outcome := p.processItem(request, &items[i], actorID)
		metrics.FulfillmentOutcomes.WithLabelValues(outcome.Status).Inc()
		if outcome.Err != nil {
			log.Printf("⚠️  Fulfillment of item %s on request %s: %v", outcome.ItemID, request.RequestNumber, outcome.Err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// processItem fulfills a single line in its own transaction.
func (p *FulfillmentProcessor) processItem(request *models.MaterialRequest, item *models.RequestItem, actorID string) ItemOutcome {
	outcome := ItemOutcome{
		ItemID:    item.ID,
		Requested: item.Quantity,
		Status:    item.Status,
	}

	// Free-text requisition: no ledger interaction.
	if item.InventoryItemID == nil {
		err := p.db.Model(item).Updates(map[string]interface{}{
			"status":            models.ItemStatusApproved,
			"approved_quantity": item.Quantity,
		}).Error
		if err != nil {
			outcome.Err = fmt.Errorf("failed to approve free-text item: %w", err)
			return outcome
		}
		outcome.Status = models.ItemStatusApproved
		outcome.Granted = item.Quantity
		return outcome
	}

	var inv models.InventoryItem
	if err := p.db.First(&inv, "id = ?", *item.InventoryItemID).Error; err != nil {
		outcome.Err = fmt.Errorf("failed to load inventory item %s: %w", *item.InventoryItemID, err)
		return outcome
	}

	if isConsumableLine(request, item, &inv) {
		return p.consumeItem(request, item, actorID, outcome)
	}
	return p.assignItem(request, item, actorID, outcome)
}

// consumeItem runs the consumable path: full depletion or nothing.
func (p *FulfillmentProcessor) consumeItem(request *models.MaterialRequest, item *models.RequestItem, actorID string, outcome ItemOutcome) ItemOutcome {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if _, err := p.ledger.reserveConsumption(tx, *item.InventoryItemID, request.TeamID, item.Quantity, actorID, &item.ID, "fulfillment of "+request.RequestNumber); err != nil {
			return err
		}
		return tx.Model(item).Updates(map[string]interface{}{
			"status":               models.ItemStatusDistributed,
			"distributed_quantity": item.Quantity,
		}).Error
	})

	var shortage *InsufficientQuantityError
	switch {
	case err == nil:
		outcome.Status = models.ItemStatusDistributed
		outcome.Granted = item.Quantity
	case errors.As(err, &shortage):
		// Do not partially consume: the whole line is declined with a
		// shortage note.
		note := fmt.Sprintf("insufficient stock: requested %.2f, available %.2f", shortage.Requested, shortage.Available)
		if updErr := p.db.Model(item).Updates(map[string]interface{}{
			"status":        models.ItemStatusDeclined,
			"shortage_note": note,
		}).Error; updErr != nil {
			outcome.Err = fmt.Errorf("failed to decline item after shortage: %w", updErr)
			return outcome
		}
		outcome.Status = models.ItemStatusDeclined
		outcome.Note = note
	default:
		outcome.Err = err
	}
	return outcome
}

// assignItem runs the durable path: full grant, partial grant with a
// shortage note, or decline when nothing is available.
func (p *FulfillmentProcessor) assignItem(request *models.MaterialRequest, item *models.RequestItem, actorID string, outcome ItemOutcome) ItemOutcome {
	var granted float64
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		granted, _, txErr = p.ledger.reserveAssignment(tx, *item.InventoryItemID, request.TeamID, item.Quantity, actorID, &item.ID, "fulfillment of "+request.RequestNumber)
		if txErr != nil {
			return txErr
		}

		updates := map[string]interface{}{
			"status":            models.ItemStatusApproved,
			"approved_quantity": granted,
		}
		if granted < item.Quantity {
			updates["shortage_note"] = fmt.Sprintf("partial grant: requested %.2f, granted %.2f", item.Quantity, granted)
		}
		return tx.Model(item).Updates(updates).Error
	})

	var shortage *InsufficientQuantityError
	switch {
	case err == nil:
		outcome.Status = models.ItemStatusApproved
		outcome.Granted = granted
		if granted < item.Quantity {
			outcome.Note = fmt.Sprintf("partial grant: requested %.2f, granted %.2f", item.Quantity, granted)
		}
	case errors.As(err, &shortage):
		note := "out of stock: no available quantity"
		if updErr := p.db.Model(item).Updates(map[string]interface{}{
			"status":        models.ItemStatusDeclined,
			"shortage_note": note,
		}).Error; updErr != nil {
			outcome.Err = fmt.Errorf("failed to decline item after shortage: %w", updErr)
			return outcome
		}
		outcome.Status = models.ItemStatusDeclined
		outcome.Note = note
	default:
		outcome.Err = err
	}
	return outcome
}

// DeriveRequestStatus computes the aggregate lifecycle status from per-item
// statuses. The second return is false while any item is still pending.
func DeriveRequestStatus(items []models.RequestItem) (string, bool) {
	anyDeclined := false
	for _, item := range items {
		switch item.Status {
		case models.ItemStatusPending:
			return "", false
		case models.ItemStatusDeclined:
			anyDeclined = true
		}
	}
	if anyDeclined {
		return models.RequestStatusPartiallyApproved, true
	}
	return models.RequestStatusApproved, true
}
