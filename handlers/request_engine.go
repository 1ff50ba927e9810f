package handlers

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
)

// RequestEngine owns the material request lifecycle: creation, submission,
// cancellation and privileged status/delivery updates. All transitions are
// synchronous; best-effort side effects (history, notifications, broadcast)
// are collected during the transition and dispatched after the write commits.
type RequestEngine struct {
	db          *gorm.DB
	fulfillment *FulfillmentProcessor
	dispatcher  *Dispatcher

	// quickApproval routes submitted requests straight to 'submitted'
	// instead of 'pending_review', skipping the review queue.
	quickApproval bool
}

// NewRequestEngine creates a request engine.
func NewRequestEngine(db *gorm.DB, fp *FulfillmentProcessor, d *Dispatcher, quickApproval bool) *RequestEngine {
	return &RequestEngine{db: db, fulfillment: fp, dispatcher: d, quickApproval: quickApproval}
}

// CreateItemInput is one requested line at creation time.
type CreateItemInput struct {
	InventoryItemID *uuid.UUID `json:"inventory_item_id,omitempty"`
	Name            string     `json:"name"`
	Quantity        float64    `json:"quantity"`
	Unit            string     `json:"unit"`
	IsConsumable    bool       `json:"is_consumable"`
}

// CreateRequestInput carries everything needed to create a request.
type CreateRequestInput struct {
	TeamID        uuid.UUID         `json:"team_id"`
	ProjectID     *uuid.UUID        `json:"project_id,omitempty"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Priority      string            `json:"priority"`
	IsConsumable  bool              `json:"is_consumable"`
	QuickApprove  bool              `json:"quick_approve"`
	ApprovalChain []string          `json:"approval_chain,omitempty"`
	Items         []CreateItemInput `json:"items"`
}

var priorities = map[string]bool{
	models.PriorityLow:    true,
	models.PriorityNormal: true,
	models.PriorityHigh:   true,
	models.PriorityUrgent: true,
}

// Create validates the input and persists the request with its items and,
// when an approval chain is given, one pending approval row per level.
func (e *RequestEngine) Create(input CreateRequestInput, actor Actor) (*models.MaterialRequest, error) {
	if input.Title == "" {
		return nil, &ValidationError{Msg: "title is required"}
	}
	if input.TeamID == uuid.Nil {
		return nil, &ValidationError{Msg: "team_id is required"}
	}
	if len(input.Items) == 0 {
		return nil, &ValidationError{Msg: "at least one item is required"}
	}
	if input.Priority == "" {
		input.Priority = models.PriorityNormal
	}
	if !priorities[input.Priority] {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid priority '%s'", input.Priority)}
	}

	linkedIDs := make([]uuid.UUID, 0, len(input.Items))
	for i, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, &ValidationError{Msg: fmt.Sprintf("item %d: quantity must be positive", i+1)}
		}
		if item.Name == "" {
			return nil, &ValidationError{Msg: fmt.Sprintf("item %d: name is required", i+1)}
		}
		if item.InventoryItemID != nil {
			linkedIDs = append(linkedIDs, *item.InventoryItemID)
		}
	}

	// Every referenced inventory item must exist.
	if len(linkedIDs) > 0 {
		var count int64
		if err := e.db.Model(&models.InventoryItem{}).Where("id IN ?", linkedIDs).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to verify inventory items: %w", err)
		}
		if count != int64(len(dedupe(linkedIDs))) {
			return nil, &ValidationError{Msg: "one or more referenced inventory items do not exist"}
		}
	}

	status := models.RequestStatusDraft
	var submittedAt *time.Time
	if input.QuickApprove {
		status = models.RequestStatusSubmitted
		now := time.Now()
		submittedAt = &now
	}

	request := &models.MaterialRequest{
		TeamID:         input.TeamID,
		ProjectID:      input.ProjectID,
		Title:          input.Title,
		Description:    input.Description,
		Priority:       input.Priority,
		IsConsumable:   input.IsConsumable,
		Status:         status,
		DeliveryStatus: models.DeliveryStatusPending,
		RequesterID:    actor.ID,
		SubmittedAt:    submittedAt,
	}
	if len(input.ApprovalChain) > 0 {
		request.CurrentApproverID = input.ApprovalChain[0]
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		number, err := NextRequestNumber(tx, time.Now())
		if err != nil {
			return err
		}
		request.RequestNumber = number

		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		for _, item := range input.Items {
			unit := item.Unit
			if unit == "" {
				unit = "pcs"
			}
			line := models.RequestItem{
				RequestID:       request.ID,
				InventoryItemID: item.InventoryItemID,
				Name:            item.Name,
				Quantity:        item.Quantity,
				Unit:            unit,
				IsConsumable:    item.IsConsumable,
				Status:          models.ItemStatusPending,
			}
			if err := tx.Create(&line).Error; err != nil {
				return fmt.Errorf("failed to create request item: %w", err)
			}
			request.Items = append(request.Items, line)
		}

		for i, approverID := range input.ApprovalChain {
			approval := models.RequestApproval{
				RequestID:     request.ID,
				ApprovalLevel: i + 1,
				ApproverID:    approverID,
				Status:        models.ApprovalStatusPending,
			}
			if err := tx.Create(&approval).Error; err != nil {
				return fmt.Errorf("failed to create approval level %d: %w", i+1, err)
			}
			request.Approvals = append(request.Approvals, approval)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.dispatcher.Dispatch([]Effect{
		HistoryEffect(request.ID, "created", actor.ID, nil, requestSnapshot(request), ""),
		BroadcastEffect(teamChannel(request.TeamID), "request_created", request),
	})

	log.Printf("✅ Created material request %s (status: %s)", request.RequestNumber, request.Status)
	return request, nil
}

// Submit moves a draft request into review. Only the original requester may
// submit.
func (e *RequestEngine) Submit(requestID uuid.UUID, actor Actor) (*models.MaterialRequest, error) {
	request, err := e.loadRequest(requestID)
	if err != nil {
		return nil, err
	}

	if request.RequesterID != actor.ID {
		return nil, &PermissionError{ActorID: actor.ID, Msg: "only the requester may submit this request"}
	}
	if request.Status != models.RequestStatusDraft {
		return nil, &InvalidStateError{Current: request.Status, Attempted: "submit"}
	}

	var itemCount int64
	if err := e.db.Model(&models.RequestItem{}).Where("request_id = ?", requestID).Count(&itemCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count request items: %w", err)
	}
	if itemCount == 0 {
		return nil, &ValidationError{Msg: "cannot submit a request without items"}
	}

	previous := request.Status
	newStatus := models.RequestStatusPendingReview
	if e.quickApproval {
		newStatus = models.RequestStatusSubmitted
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       newStatus,
		"submitted_at": now,
	}
	if err := e.db.Model(request).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to submit request: %w", err)
	}
	request.Status = newStatus
	request.SubmittedAt = &now

	reviewers, err := e.reviewerIDs(request)
	if err != nil {
		log.Printf("⚠️  Failed to resolve reviewers for %s: %v", request.RequestNumber, err)
	}

	effects := []Effect{
		HistoryEffect(request.ID, "submitted", actor.ID,
			map[string]string{"status": previous},
			map[string]string{"status": newStatus}, ""),
		BroadcastEffect(teamChannel(request.TeamID), "request_submitted", request),
	}
	if len(reviewers) > 0 {
		effects = append(effects, NotifyEffect(request.ID, reviewers,
			models.NotificationTypeRequestSubmitted,
			fmt.Sprintf("Request %s awaits review", request.RequestNumber),
			request.Title))
	}
	e.dispatcher.Dispatch(effects)

	log.Printf("✅ Submitted request %s: %s -> %s", request.RequestNumber, previous, newStatus)
	return request, nil
}

// Cancel aborts a request. Allowed for the requester or a privileged actor;
// illegal once the request is completed, delivered or already cancelled.
func (e *RequestEngine) Cancel(requestID uuid.UUID, actor Actor, reason string) (*models.MaterialRequest, error) {
	request, err := e.loadRequest(requestID)
	if err != nil {
		return nil, err
	}

	if !Can(actor, request.RequesterID, CapCancel) {
		return nil, &PermissionError{ActorID: actor.ID, Msg: "not allowed to cancel this request"}
	}
	switch request.Status {
	case models.RequestStatusCompleted, models.RequestStatusDelivered, models.RequestStatusCancelled:
		return nil, &InvalidStateError{Current: request.Status, Attempted: "cancel"}
	}

	previous := request.Status
	if err := e.db.Model(request).Update("status", models.RequestStatusCancelled).Error; err != nil {
		return nil, fmt.Errorf("failed to cancel request: %w", err)
	}
	request.Status = models.RequestStatusCancelled

	e.dispatcher.Dispatch([]Effect{
		HistoryEffect(request.ID, "cancelled", actor.ID,
			map[string]string{"status": previous},
			map[string]string{"status": models.RequestStatusCancelled}, reason),
		NotifyEffect(request.ID, []string{request.RequesterID},
			models.NotificationTypeRequestCancelled,
			fmt.Sprintf("Request %s was cancelled", request.RequestNumber), reason),
		BroadcastEffect(teamChannel(request.TeamID), "request_cancelled", request),
	})

	log.Printf("✅ Cancelled request %s (was %s)", request.RequestNumber, previous)
	return request, nil
}

// SetStatus performs a privileged lifecycle update. Approval statuses invoke
// the fulfillment processor synchronously as part of the same operation.
func (e *RequestEngine) SetStatus(requestID uuid.UUID, newStatus string, actor Actor, notes string) (*models.MaterialRequest, error) {
	if !models.IsValidRequestStatus(newStatus) {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid status '%s'", newStatus)}
	}

	request, err := e.loadRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !Can(actor, request.RequesterID, CapSetStatus) {
		return nil, &PermissionError{ActorID: actor.ID, Msg: "not allowed to update request status"}
	}
	if models.IsTerminalRequestStatus(request.Status) {
		return nil, &InvalidStateError{Current: request.Status, Attempted: "set status to " + newStatus}
	}

	previous := request.Status
	now := time.Now()
	updates := map[string]interface{}{"status": newStatus}
	switch newStatus {
	case models.RequestStatusPendingReview:
		updates["reviewed_at"] = now
	case models.RequestStatusApproved, models.RequestStatusPartiallyApproved:
		updates["approved_at"] = now
	case models.RequestStatusOrdered:
		updates["ordered_at"] = now
	case models.RequestStatusDelivered:
		updates["delivered_at"] = now
	case models.RequestStatusCompleted:
		updates["completed_at"] = now
	}

	if err := e.db.Model(request).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	request.Status = newStatus
	switch newStatus {
	case models.RequestStatusPendingReview:
		request.ReviewedAt = &now
	case models.RequestStatusApproved, models.RequestStatusPartiallyApproved:
		request.ApprovedAt = &now
	case models.RequestStatusOrdered:
		request.OrderedAt = &now
	case models.RequestStatusDelivered:
		request.DeliveredAt = &now
	case models.RequestStatusCompleted:
		request.CompletedAt = &now
	}

	effects := []Effect{
		HistoryEffect(request.ID, "status_changed", actor.ID,
			map[string]string{"status": previous},
			map[string]string{"status": newStatus}, notes),
		NotifyEffect(request.ID, []string{request.RequesterID},
			models.NotificationTypeStatusChanged,
			fmt.Sprintf("Request %s is now %s", request.RequestNumber, newStatus), notes),
		BroadcastEffect(teamChannel(request.TeamID), "request_status_changed", request),
	}
	e.dispatcher.Dispatch(effects)

	if newStatus == models.RequestStatusApproved || newStatus == models.RequestStatusPartiallyApproved {
		if err := e.RunFulfillment(request, actor); err != nil {
			log.Printf("⚠️  Fulfillment after status change of %s: %v", request.RequestNumber, err)
		}
	}

	log.Printf("✅ Request %s: %s -> %s (actor: %s)", request.RequestNumber, previous, request.Status, actor.ID)
	return request, nil
}

// SetDeliveryStatus performs a privileged delivery update. Delivery may only
// advance once the lifecycle has reached at least approved. On 'delivered'
// every item cascades to delivered and the delivery timestamp is stamped.
func (e *RequestEngine) SetDeliveryStatus(requestID uuid.UUID, deliveryStatus string, actor Actor, notes string) (*models.MaterialRequest, error) {
	if !models.IsValidDeliveryStatus(deliveryStatus) {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid delivery status '%s'", deliveryStatus)}
	}

	request, err := e.loadRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !Can(actor, request.RequesterID, CapSetDelivery) {
		return nil, &PermissionError{ActorID: actor.ID, Msg: "not allowed to update delivery status"}
	}
	if !models.HasReachedApproval(request.Status) {
		return nil, &InvalidStateError{Current: request.Status, Attempted: "update delivery status"}
	}

	previous := request.DeliveryStatus
	err = e.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"delivery_status": deliveryStatus}
		if deliveryStatus == models.DeliveryStatusDelivered {
			updates["delivered_at"] = time.Now()
		}
		if err := tx.Model(request).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update delivery status: %w", err)
		}

		if deliveryStatus == models.DeliveryStatusDelivered {
			if err := tx.Model(&models.RequestItem{}).
				Where("request_id = ? AND status IN ?", request.ID,
					[]string{models.ItemStatusApproved, models.ItemStatusDistributed}).
				Update("status", models.ItemStatusDelivered).Error; err != nil {
				return fmt.Errorf("failed to cascade item delivery: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	request.DeliveryStatus = deliveryStatus

	e.dispatcher.Dispatch([]Effect{
		HistoryEffect(request.ID, "delivery_updated", actor.ID,
			map[string]string{"delivery_status": previous},
			map[string]string{"delivery_status": deliveryStatus}, notes),
		NotifyEffect(request.ID, []string{request.RequesterID},
			models.NotificationTypeDeliveryUpdated,
			fmt.Sprintf("Request %s delivery: %s", request.RequestNumber, deliveryStatus), notes),
		BroadcastEffect(teamChannel(request.TeamID), "request_delivery_updated", request),
	})

	log.Printf("✅ Request %s delivery: %s -> %s", request.RequestNumber, previous, deliveryStatus)
	return request, nil
}

// RunFulfillment drives the fulfillment processor over the request's pending
// lines and rolls the per-item outcomes up into the aggregate status. Ledger
// shortages surface as per-item outcomes, never as an error.
func (e *RequestEngine) RunFulfillment(request *models.MaterialRequest, actor Actor) error {
	outcomes := e.fulfillment.Process(request, actor.ID)

	var items []models.RequestItem
	if err := e.db.Where("request_id = ?", request.ID).Find(&items).Error; err != nil {
		return fmt.Errorf("failed to reload request items: %w", err)
	}

	status, resolved := DeriveRequestStatus(items)
	if resolved && status != request.Status {
		updates := map[string]interface{}{"status": status}
		var stamped *time.Time
		if request.ApprovedAt == nil {
			now := time.Now()
			updates["approved_at"] = now
			stamped = &now
		}
		if err := e.db.Model(request).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update request status after fulfillment: %w", err)
		}
		request.Status = status
		if stamped != nil {
			request.ApprovedAt = stamped
		}
	}

	e.dispatcher.Dispatch([]Effect{
		HistoryEffect(request.ID, "fulfilled", actor.ID, nil, outcomes, ""),
		NotifyEffect(request.ID, []string{request.RequesterID},
			models.NotificationTypeStatusChanged,
			fmt.Sprintf("Request %s was processed: %s", request.RequestNumber, request.Status), ""),
		BroadcastEffect(teamChannel(request.TeamID), "request_fulfilled", request),
	})
	return nil
}

// loadRequest fetches a request by ID.
func (e *RequestEngine) loadRequest(requestID uuid.UUID) (*models.MaterialRequest, error) {
	var request models.MaterialRequest
	if err := e.db.First(&request, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Entity: "request", ID: requestID.String()}
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return &request, nil
}

// reviewerIDs resolves who should be notified that a request awaits review:
// the current approver when a chain exists, otherwise every privileged user.
func (e *RequestEngine) reviewerIDs(request *models.MaterialRequest) ([]string, error) {
	var approvals []models.RequestApproval
	if err := e.db.Where("request_id = ?", request.ID).
		Order("approval_level ASC").
		Find(&approvals).Error; err != nil {
		return nil, err
	}
	if len(approvals) > 0 {
		first := approvals[0]
		if first.DelegateID != "" {
			return []string{first.DelegateID}, nil
		}
		return []string{first.ApproverID}, nil
	}

	var users []models.User
	if err := e.db.Where("role IN ? AND is_active = ?", []string{models.RoleAdmin, models.RoleManager}, true).
		Find(&users).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID.String()
	}
	return ids, nil
}

// teamChannel is the real-time channel for a team's request events.
func teamChannel(teamID uuid.UUID) string {
	return "team:" + teamID.String() + ":requests"
}

// requestSnapshot is the history payload for a freshly created request.
func requestSnapshot(r *models.MaterialRequest) map[string]interface{} {
	return map[string]interface{}{
		"request_number": r.RequestNumber,
		"title":          r.Title,
		"status":         r.Status,
		"priority":       r.Priority,
		"item_count":     len(r.Items),
	}
}

// dedupe removes duplicate IDs preserving order.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
