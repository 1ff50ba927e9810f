package handlers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
	"p9e.in/incubator/testutil"
)

func newTestEngine(t *testing.T, db *gorm.DB, quickApproval bool) *RequestEngine {
	t.Helper()
	notifications := NewNotificationService(db)
	dispatcher := NewDispatcher(db, notifications, nil)
	ledger := NewInventoryLedger(db)
	fulfillment := NewFulfillmentProcessor(db, ledger)
	return NewRequestEngine(db, fulfillment, dispatcher, quickApproval)
}

func TestCreateRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "create-team")
	requester := Actor{ID: "requester-1", Role: models.RoleMember}

	t.Run("creates a draft with items and a request number", func(t *testing.T) {
		request, err := engine.Create(CreateRequestInput{
			TeamID:   team.ID,
			Title:    "Lab supplies",
			Priority: models.PriorityHigh,
			Items: []CreateItemInput{
				{Name: "Beaker", Quantity: 5},
				{Name: "Stand", Quantity: 1},
			},
		}, requester)
		require.NoError(t, err)

		assert.Equal(t, models.RequestStatusDraft, request.Status)
		assert.Equal(t, models.DeliveryStatusPending, request.DeliveryStatus)
		assert.Regexp(t, `^REQ-\d{4}-\d{4}$`, request.RequestNumber)
		assert.Equal(t, "requester-1", request.RequesterID)
		assert.Len(t, request.Items, 2)
		assert.Nil(t, request.SubmittedAt)

		var history []models.RequestHistory
		require.NoError(t, db.Where("request_id = ?", request.ID).Find(&history).Error)
		require.Len(t, history, 1)
		assert.Equal(t, "created", history[0].Action)
	})

	t.Run("quick approve skips draft", func(t *testing.T) {
		request, err := engine.Create(CreateRequestInput{
			TeamID:       team.ID,
			Title:        "Urgent cables",
			QuickApprove: true,
			Items:        []CreateItemInput{{Name: "Cable", Quantity: 2}},
		}, requester)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusSubmitted, request.Status)
		assert.NotNil(t, request.SubmittedAt)
	})

	t.Run("builds the approval chain in order", func(t *testing.T) {
		request, err := engine.Create(CreateRequestInput{
			TeamID:        team.ID,
			Title:         "Chained request",
			ApprovalChain: []string{"approver-1", "approver-2"},
			Items:         []CreateItemInput{{Name: "Desk", Quantity: 1}},
		}, requester)
		require.NoError(t, err)
		require.Len(t, request.Approvals, 2)
		assert.Equal(t, 1, request.Approvals[0].ApprovalLevel)
		assert.Equal(t, "approver-1", request.Approvals[0].ApproverID)
		assert.Equal(t, models.ApprovalStatusPending, request.Approvals[1].Status)
		assert.Equal(t, "approver-1", request.CurrentApproverID)
	})

	t.Run("validation failures", func(t *testing.T) {
		var validation *ValidationError

		_, err := engine.Create(CreateRequestInput{TeamID: team.ID, Items: []CreateItemInput{{Name: "X", Quantity: 1}}}, requester)
		assert.ErrorAs(t, err, &validation)

		_, err = engine.Create(CreateRequestInput{TeamID: team.ID, Title: "No items"}, requester)
		assert.ErrorAs(t, err, &validation)

		_, err = engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Bad qty",
			Items: []CreateItemInput{{Name: "X", Quantity: -1}},
		}, requester)
		assert.ErrorAs(t, err, &validation)

		_, err = engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Bad priority", Priority: "asap",
			Items: []CreateItemInput{{Name: "X", Quantity: 1}},
		}, requester)
		assert.ErrorAs(t, err, &validation)

		missing := uuid.New()
		_, err = engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Ghost item",
			Items: []CreateItemInput{{Name: "X", Quantity: 1, InventoryItemID: &missing}},
		}, requester)
		assert.ErrorAs(t, err, &validation)
	})
}

func TestSubmitRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "submit-team")
	requester := Actor{ID: "requester-1", Role: models.RoleMember}

	create := func(t *testing.T) *models.MaterialRequest {
		request, err := engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Submit me",
			Items: []CreateItemInput{{Name: "Thing", Quantity: 1}},
		}, requester)
		require.NoError(t, err)
		return request
	}

	t.Run("requester submits a draft into review", func(t *testing.T) {
		request := create(t)
		submitted, err := engine.Submit(request.ID, requester)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusPendingReview, submitted.Status)
		assert.NotNil(t, submitted.SubmittedAt)
	})

	t.Run("only the requester may submit", func(t *testing.T) {
		request := create(t)
		_, err := engine.Submit(request.ID, Actor{ID: "someone-else", Role: models.RoleAdmin})
		var permission *PermissionError
		assert.ErrorAs(t, err, &permission)
	})

	t.Run("double submit is an invalid state", func(t *testing.T) {
		request := create(t)
		_, err := engine.Submit(request.ID, requester)
		require.NoError(t, err)
		_, err = engine.Submit(request.ID, requester)
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})

	t.Run("quick approval engine submits straight to submitted", func(t *testing.T) {
		quick := newTestEngine(t, db, true)
		request := create(t)
		submitted, err := quick.Submit(request.ID, requester)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusSubmitted, submitted.Status)
	})
}

func TestCancelRequest(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "cancel-team")
	requester := Actor{ID: "requester-1", Role: models.RoleMember}
	manager := Actor{ID: "manager-1", Role: models.RoleManager}

	create := func(t *testing.T) *models.MaterialRequest {
		request, err := engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Cancel me",
			Items: []CreateItemInput{{Name: "Thing", Quantity: 1}},
		}, requester)
		require.NoError(t, err)
		return request
	}

	t.Run("requester can cancel own draft", func(t *testing.T) {
		request := create(t)
		cancelled, err := engine.Cancel(request.ID, requester, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusCancelled, cancelled.Status)
	})

	t.Run("privileged actor can cancel any request", func(t *testing.T) {
		request := create(t)
		cancelled, err := engine.Cancel(request.ID, manager, "duplicate")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusCancelled, cancelled.Status)
	})

	t.Run("unrelated member cannot cancel", func(t *testing.T) {
		request := create(t)
		_, err := engine.Cancel(request.ID, Actor{ID: "stranger", Role: models.RoleMember}, "")
		var permission *PermissionError
		assert.ErrorAs(t, err, &permission)
	})

	t.Run("delivered requests cannot be cancelled", func(t *testing.T) {
		request := create(t)
		_, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
		require.NoError(t, err)
		_, err = engine.SetStatus(request.ID, models.RequestStatusDelivered, manager, "")
		require.NoError(t, err)

		_, err = engine.Cancel(request.ID, requester, "too late")
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})

	t.Run("cancel after cancel is an invalid state", func(t *testing.T) {
		request := create(t)
		_, err := engine.Cancel(request.ID, requester, "")
		require.NoError(t, err)
		_, err = engine.Cancel(request.ID, requester, "")
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})
}

func TestSetStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "status-team")
	requester := Actor{ID: "requester-1", Role: models.RoleMember}
	manager := Actor{ID: "manager-1", Role: models.RoleManager}

	create := func(t *testing.T) *models.MaterialRequest {
		request, err := engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Status request",
			Items: []CreateItemInput{{Name: "Thing", Quantity: 1}},
		}, requester)
		require.NoError(t, err)
		return request
	}

	t.Run("manager can advance the lifecycle and timestamps are stamped", func(t *testing.T) {
		request := create(t)
		updated, err := engine.SetStatus(request.ID, models.RequestStatusOrdered, manager, "ordered from supplier")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusOrdered, updated.Status)

		var reloaded models.MaterialRequest
		require.NoError(t, db.First(&reloaded, "id = ?", request.ID).Error)
		assert.NotNil(t, reloaded.OrderedAt)
	})

	t.Run("approval status runs fulfillment and resolves items", func(t *testing.T) {
		request := create(t)
		updated, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, updated.Status)

		var items []models.RequestItem
		require.NoError(t, db.Where("request_id = ?", request.ID).Find(&items).Error)
		require.Len(t, items, 1)
		assert.Equal(t, models.ItemStatusApproved, items[0].Status)
	})

	t.Run("approval timestamp is stamped exactly once", func(t *testing.T) {
		request := create(t)
		updated, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
		require.NoError(t, err)
		require.NotNil(t, updated.ApprovedAt)

		// Fulfillment ran after the status write but kept the original stamp.
		var reloaded models.MaterialRequest
		require.NoError(t, db.First(&reloaded, "id = ?", request.ID).Error)
		require.NotNil(t, reloaded.ApprovedAt)
		assert.WithinDuration(t, *updated.ApprovedAt, *reloaded.ApprovedAt, time.Millisecond)
	})

	t.Run("member cannot set status", func(t *testing.T) {
		request := create(t)
		_, err := engine.SetStatus(request.ID, models.RequestStatusOrdered, requester, "")
		var permission *PermissionError
		assert.ErrorAs(t, err, &permission)
	})

	t.Run("terminal states are frozen", func(t *testing.T) {
		request := create(t)
		_, err := engine.Cancel(request.ID, manager, "")
		require.NoError(t, err)
		_, err = engine.SetStatus(request.ID, models.RequestStatusOrdered, manager, "")
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})

	t.Run("unknown status is a validation error", func(t *testing.T) {
		request := create(t)
		_, err := engine.SetStatus(request.ID, "on_hold", manager, "")
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}

func TestSetDeliveryStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "delivery-team")
	requester := Actor{ID: "requester-1", Role: models.RoleMember}
	manager := Actor{ID: "manager-1", Role: models.RoleManager}

	create := func(t *testing.T) *models.MaterialRequest {
		request, err := engine.Create(CreateRequestInput{
			TeamID: team.ID, Title: "Delivery request",
			Items: []CreateItemInput{{Name: "Thing", Quantity: 2}},
		}, requester)
		require.NoError(t, err)
		return request
	}

	t.Run("delivery cannot advance before approval", func(t *testing.T) {
		request := create(t)
		_, err := engine.SetDeliveryStatus(request.ID, models.DeliveryStatusShipped, manager, "")
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})

	t.Run("delivered cascades items and stamps the timestamp", func(t *testing.T) {
		request := create(t)
		_, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
		require.NoError(t, err)

		updated, err := engine.SetDeliveryStatus(request.ID, models.DeliveryStatusDelivered, manager, "left at reception")
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryStatusDelivered, updated.DeliveryStatus)

		var reloaded models.MaterialRequest
		require.NoError(t, db.First(&reloaded, "id = ?", request.ID).Error)
		assert.NotNil(t, reloaded.DeliveredAt)

		var items []models.RequestItem
		require.NoError(t, db.Where("request_id = ?", request.ID).Find(&items).Error)
		require.Len(t, items, 1)
		assert.Equal(t, models.ItemStatusDelivered, items[0].Status)
	})

	t.Run("unknown delivery status is a validation error", func(t *testing.T) {
		request := create(t)
		_, err := engine.SetDeliveryStatus(request.ID, "lost", manager, "")
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}
