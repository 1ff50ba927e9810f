package handlers

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"p9e.in/incubator/models"
)

// ApprovalChain manages the ordered approval levels of a request. Level k may
// only be acted on once every level below k is approved; the check runs again
// inside the write transaction so two approvers acting near-simultaneously
// cannot commit out of order.
type ApprovalChain struct {
	db         *gorm.DB
	engine     *RequestEngine
	dispatcher *Dispatcher
}

// NewApprovalChain creates an approval chain manager.
func NewApprovalChain(db *gorm.DB, engine *RequestEngine, d *Dispatcher) *ApprovalChain {
	return &ApprovalChain{db: db, engine: engine, dispatcher: d}
}

// reviewableStatuses are the lifecycle states in which approval levels may be
// acted on.
var reviewableStatuses = map[string]bool{
	models.RequestStatusSubmitted:     true,
	models.RequestStatusPendingReview: true,
}

// Approve marks one approval level as approved. When the final level
// approves, the request is finalized in the same transaction and fulfillment
// runs synchronously.
func (c *ApprovalChain) Approve(requestID uuid.UUID, level int, actor Actor, comments string) (*models.MaterialRequest, error) {
	request, err := c.engine.loadRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !reviewableStatuses[request.Status] {
		return nil, &InvalidStateError{Current: request.Status, Attempted: "approve"}
	}

	var chainDone bool
	var priorStatus string
	var approvedAt time.Time
	err = c.db.Transaction(func(tx *gorm.DB) error {
		approval, err := c.lockLevel(tx, requestID, level)
		if err != nil {
			return err
		}
		if err := c.checkActionable(approval, actor); err != nil {
			return err
		}
		if err := c.checkOrdering(tx, requestID, level); err != nil {
			return err
		}
		priorStatus = approval.Status

		now := time.Now()
		res := tx.Model(approval).
			Where("status IN ?", []string{models.ApprovalStatusPending, models.ApprovalStatusDelegated}).
			Updates(map[string]interface{}{
				"status":     models.ApprovalStatusApproved,
				"decided_at": now,
				"comments":   comments,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to approve level %d: %w", level, res.Error)
		}
		if res.RowsAffected == 0 {
			return &AlreadyProcessedError{Level: level, Status: approval.Status}
		}

		var remaining int64
		if err := tx.Model(&models.RequestApproval{}).
			Where("request_id = ? AND status <> ?", requestID, models.ApprovalStatusApproved).
			Count(&remaining).Error; err != nil {
			return fmt.Errorf("failed to count remaining levels: %w", err)
		}
		chainDone = remaining == 0

		if chainDone {
			approvedAt = now
			return c.finalizeRequest(tx, request, "approve", map[string]interface{}{
				"status":              models.RequestStatusApproved,
				"approved_at":         now,
				"current_approver_id": "",
			})
		}
		return c.refreshCurrentApprover(tx, request)
	})
	if err != nil {
		return nil, err
	}

	effects := []Effect{
		HistoryEffect(requestID, "approval_approved", actor.ID,
			map[string]interface{}{"level": level, "status": priorStatus},
			map[string]interface{}{"level": level, "status": models.ApprovalStatusApproved},
			comments),
	}

	if chainDone {
		request.Status = models.RequestStatusApproved
		request.ApprovedAt = &approvedAt
		request.CurrentApproverID = ""

		effects = append(effects, NotifyEffect(requestID, []string{request.RequesterID},
			models.NotificationTypeApprovalApproved,
			fmt.Sprintf("Request %s was approved", request.RequestNumber), comments))
		c.dispatcher.Dispatch(effects)

		if err := c.engine.RunFulfillment(request, actor); err != nil {
			log.Printf("⚠️  Fulfillment after final approval of %s: %v", request.RequestNumber, err)
		}
		log.Printf("✅ Request %s fully approved at level %d", request.RequestNumber, level)
		return request, nil
	}

	// Intermediate level: the request stays in review and the next level's
	// approver becomes current for notification routing.
	if request.CurrentApproverID != "" {
		effects = append(effects, NotifyEffect(requestID, []string{request.CurrentApproverID},
			models.NotificationTypeApprovalRequired,
			fmt.Sprintf("Request %s awaits your approval", request.RequestNumber),
			request.Title))
	}
	c.dispatcher.Dispatch(effects)

	log.Printf("✅ Request %s: level %d approved, next approver %s", request.RequestNumber, level, request.CurrentApproverID)
	return request, nil
}

// Decline marks one level as declined and the entire request with it.
// Decline at any level is terminal for the whole request, not just the
// remaining levels.
func (c *ApprovalChain) Decline(requestID uuid.UUID, level int, actor Actor, comments string) (*models.MaterialRequest, error) {
	request, err := c.engine.loadRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !reviewableStatuses[request.Status] {
		return nil, &InvalidStateError{Current: request.Status, Attempted: "decline"}
	}

	var priorStatus string
	err = c.db.Transaction(func(tx *gorm.DB) error {
		approval, err := c.lockLevel(tx, requestID, level)
		if err != nil {
			return err
		}
		if err := c.checkActionable(approval, actor); err != nil {
			return err
		}
		if err := c.checkOrdering(tx, requestID, level); err != nil {
			return err
		}
		priorStatus = approval.Status

		now := time.Now()
		res := tx.Model(approval).
			Where("status IN ?", []string{models.ApprovalStatusPending, models.ApprovalStatusDelegated}).
			Updates(map[string]interface{}{
				"status":     models.ApprovalStatusDeclined,
				"decided_at": now,
				"comments":   comments,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to decline level %d: %w", level, res.Error)
		}
		if res.RowsAffected == 0 {
			return &AlreadyProcessedError{Level: level, Status: approval.Status}
		}

		return c.finalizeRequest(tx, request, "decline", map[string]interface{}{
			"status":              models.RequestStatusDeclined,
			"current_approver_id": "",
		})
	})
	if err != nil {
		return nil, err
	}
	request.Status = models.RequestStatusDeclined
	request.CurrentApproverID = ""

	c.dispatcher.Dispatch([]Effect{
		HistoryEffect(requestID, "approval_declined", actor.ID,
			map[string]interface{}{"level": level, "status": priorStatus},
			map[string]interface{}{"level": level, "status": models.ApprovalStatusDeclined},
			comments),
		NotifyEffect(requestID, []string{request.RequesterID},
			models.NotificationTypeApprovalDeclined,
			fmt.Sprintf("Request %s was declined", request.RequestNumber), comments),
		BroadcastEffect(teamChannel(request.TeamID), "request_declined", request),
	})

	log.Printf("✅ Request %s declined at level %d", request.RequestNumber, level)
	return request, nil
}

// Delegate reassigns one level's decision rights to a privileged user. Only
// the level's original approver may delegate; the request's overall status is
// unchanged.
func (c *ApprovalChain) Delegate(requestID uuid.UUID, level int, actor Actor, delegateID, comments string) (*models.MaterialRequest, error) {
	request, err := c.engine.loadRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !reviewableStatuses[request.Status] {
		return nil, &InvalidStateError{Current: request.Status, Attempted: "delegate"}
	}

	delegateUUID, err := uuid.Parse(delegateID)
	if err != nil {
		return nil, &ValidationError{Msg: "delegate_id must be a valid user id"}
	}
	var delegate models.User
	if err := c.db.First(&delegate, "id = ?", delegateUUID).Error; err != nil {
		return nil, &ValidationError{Msg: "delegate does not exist"}
	}
	if !models.IsPrivilegedRole(delegate.Role) {
		return nil, &ValidationError{Msg: "delegate must hold a privileged role"}
	}

	err = c.db.Transaction(func(tx *gorm.DB) error {
		approval, err := c.lockLevel(tx, requestID, level)
		if err != nil {
			return err
		}
		if approval.ApproverID != actor.ID {
			return &PermissionError{ActorID: actor.ID, Msg: "only the level's approver may delegate"}
		}
		switch approval.Status {
		case models.ApprovalStatusApproved, models.ApprovalStatusDeclined:
			return &AlreadyProcessedError{Level: level, Status: approval.Status}
		}

		if err := tx.Model(approval).Updates(map[string]interface{}{
			"status":      models.ApprovalStatusDelegated,
			"delegate_id": delegateID,
			"comments":    comments,
		}).Error; err != nil {
			return fmt.Errorf("failed to delegate level %d: %w", level, err)
		}

		return c.refreshCurrentApprover(tx, request)
	})
	if err != nil {
		return nil, err
	}

	c.dispatcher.Dispatch([]Effect{
		HistoryEffect(requestID, "approval_delegated", actor.ID,
			map[string]interface{}{"level": level, "approver": actor.ID},
			map[string]interface{}{"level": level, "delegate": delegateID},
			comments),
		NotifyEffect(requestID, []string{delegateID},
			models.NotificationTypeApprovalDelegated,
			fmt.Sprintf("Approval of request %s was delegated to you", request.RequestNumber),
			request.Title),
	})

	log.Printf("✅ Request %s: level %d delegated to %s", request.RequestNumber, level, delegateID)
	return request, nil
}

// finalizeRequest moves the request out of review as part of the approval
// transaction. The write is conditional on the request still being reviewable
// so a cancel or decline committed since the initial load cannot be
// overwritten; when it has been, the approval rolls back with it.
func (c *ApprovalChain) finalizeRequest(tx *gorm.DB, request *models.MaterialRequest, attempted string, updates map[string]interface{}) error {
	res := tx.Model(request).
		Where("status IN ?", []string{models.RequestStatusSubmitted, models.RequestStatusPendingReview}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to finalize request after %s: %w", attempted, res.Error)
	}
	if res.RowsAffected == 0 {
		current := request.Status
		var fresh models.MaterialRequest
		if err := tx.First(&fresh, "id = ?", request.ID).Error; err == nil {
			current = fresh.Status
		}
		return &InvalidStateError{Current: current, Attempted: attempted}
	}
	return nil
}

// lockLevel loads one approval row under a row lock.
func (c *ApprovalChain) lockLevel(tx *gorm.DB, requestID uuid.UUID, level int) (*models.RequestApproval, error) {
	var approval models.RequestApproval
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&approval, "request_id = ? AND approval_level = ?", requestID, level).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Entity: "approval level", ID: fmt.Sprintf("%d of request %s", level, requestID)}
		}
		return nil, fmt.Errorf("failed to lock approval level: %w", err)
	}
	return &approval, nil
}

// checkActionable verifies the actor may decide this level and that the level
// has not already been decided.
func (c *ApprovalChain) checkActionable(approval *models.RequestApproval, actor Actor) error {
	switch approval.Status {
	case models.ApprovalStatusApproved, models.ApprovalStatusDeclined:
		return &AlreadyProcessedError{Level: approval.ApprovalLevel, Status: approval.Status}
	}

	// A delegated level is decided by the delegate; otherwise by the
	// original approver.
	allowed := approval.ApproverID
	if approval.Status == models.ApprovalStatusDelegated && approval.DelegateID != "" {
		allowed = approval.DelegateID
	}
	if actor.ID != allowed {
		return &PermissionError{ActorID: actor.ID, Msg: fmt.Sprintf("not the approver for level %d", approval.ApprovalLevel)}
	}
	return nil
}

// checkOrdering re-verifies, at write time, that every level below the given
// one is approved.
func (c *ApprovalChain) checkOrdering(tx *gorm.DB, requestID uuid.UUID, level int) error {
	var blocking int64
	if err := tx.Model(&models.RequestApproval{}).
		Where("request_id = ? AND approval_level < ? AND status <> ?",
			requestID, level, models.ApprovalStatusApproved).
		Count(&blocking).Error; err != nil {
		return fmt.Errorf("failed to verify approval ordering: %w", err)
	}
	if blocking > 0 {
		return &OutOfOrderApprovalError{Level: level}
	}
	return nil
}

// refreshCurrentApprover recomputes the cached current-approver pointer from
// the authoritative per-level statuses.
func (c *ApprovalChain) refreshCurrentApprover(tx *gorm.DB, request *models.MaterialRequest) error {
	var approvals []models.RequestApproval
	if err := tx.Where("request_id = ?", request.ID).
		Order("approval_level ASC").
		Find(&approvals).Error; err != nil {
		return fmt.Errorf("failed to load approval chain: %w", err)
	}

	current := ""
	for _, a := range approvals {
		if a.Status == models.ApprovalStatusApproved || a.Status == models.ApprovalStatusDeclined {
			continue
		}
		if a.Status == models.ApprovalStatusDelegated && a.DelegateID != "" {
			current = a.DelegateID
		} else {
			current = a.ApproverID
		}
		break
	}

	if err := tx.Model(request).Update("current_approver_id", current).Error; err != nil {
		return fmt.Errorf("failed to update current approver: %w", err)
	}
	request.CurrentApproverID = current
	return nil
}
