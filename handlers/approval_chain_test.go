package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"p9e.in/incubator/models"
	"p9e.in/incubator/testutil"
)

type chainFixture struct {
	db        *gorm.DB
	engine    *RequestEngine
	chain     *ApprovalChain
	requester Actor
	approver1 Actor
	approver2 Actor
	request   *models.MaterialRequest
}

func setupChain(t *testing.T, approvers ...string) *chainFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	chain := NewApprovalChain(db, engine, engine.dispatcher)
	team := testutil.CreateTeam(t, db, "chain-team")

	f := &chainFixture{
		db:        db,
		engine:    engine,
		chain:     chain,
		requester: Actor{ID: "requester-1", Role: models.RoleMember},
	}
	if len(approvers) > 0 {
		f.approver1 = Actor{ID: approvers[0], Role: models.RoleManager}
	}
	if len(approvers) > 1 {
		f.approver2 = Actor{ID: approvers[1], Role: models.RoleManager}
	}

	request, err := engine.Create(CreateRequestInput{
		TeamID:        team.ID,
		Title:         "Chained request",
		ApprovalChain: approvers,
		Items:         []CreateItemInput{{Name: "Widget", Quantity: 2}},
	}, f.requester)
	require.NoError(t, err)

	request, err = engine.Submit(request.ID, f.requester)
	require.NoError(t, err)
	f.request = request
	return f
}

func TestApproveChainOrdering(t *testing.T) {
	f := setupChain(t, "approver-1", "approver-2")

	t.Run("level 2 cannot act before level 1", func(t *testing.T) {
		_, err := f.chain.Approve(f.request.ID, 2, f.approver2, "")
		var outOfOrder *OutOfOrderApprovalError
		require.ErrorAs(t, err, &outOfOrder)
		assert.Equal(t, 2, outOfOrder.Level)
	})

	t.Run("level 1 approval advances the current approver", func(t *testing.T) {
		request, err := f.chain.Approve(f.request.ID, 1, f.approver1, "looks fine")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusPendingReview, request.Status)
		assert.Equal(t, "approver-2", request.CurrentApproverID)

		var approval models.RequestApproval
		require.NoError(t, f.db.First(&approval, "request_id = ? AND approval_level = ?", f.request.ID, 1).Error)
		assert.Equal(t, models.ApprovalStatusApproved, approval.Status)
		assert.NotNil(t, approval.DecidedAt)
		assert.Equal(t, "looks fine", approval.Comments)
	})

	t.Run("final approval finalizes and fulfills", func(t *testing.T) {
		request, err := f.chain.Approve(f.request.ID, 2, f.approver2, "")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusApproved, request.Status)
		assert.NotNil(t, request.ApprovedAt)

		// Fulfillment ran: the free-text line is approved in full.
		var items []models.RequestItem
		require.NoError(t, f.db.Where("request_id = ?", f.request.ID).Find(&items).Error)
		require.Len(t, items, 1)
		assert.Equal(t, models.ItemStatusApproved, items[0].Status)
		assert.Equal(t, 2.0, items[0].ApprovedQuantity)
	})

	t.Run("re-approving a decided level is idempotent-rejected", func(t *testing.T) {
		// The request left review, so the state guard fires first.
		_, err := f.chain.Approve(f.request.ID, 2, f.approver2, "")
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})
}

func TestApprovePermissions(t *testing.T) {
	f := setupChain(t, "approver-1", "approver-2")

	t.Run("only the level's approver may act", func(t *testing.T) {
		_, err := f.chain.Approve(f.request.ID, 1, Actor{ID: "intruder", Role: models.RoleAdmin}, "")
		var permission *PermissionError
		assert.ErrorAs(t, err, &permission)
	})

	t.Run("double approval of the same level", func(t *testing.T) {
		_, err := f.chain.Approve(f.request.ID, 1, f.approver1, "")
		require.NoError(t, err)

		_, err = f.chain.Approve(f.request.ID, 1, f.approver1, "")
		var processed *AlreadyProcessedError
		require.ErrorAs(t, err, &processed)
		assert.Equal(t, 1, processed.Level)
	})
}

func TestApproveAfterConcurrentCancel(t *testing.T) {
	f := setupChain(t, "approver-1")

	// Hold the approval row so the final approval blocks inside its
	// transaction while the cancel commits.
	holder := f.db.Begin()
	require.NoError(t, holder.Error)
	var locked models.RequestApproval
	require.NoError(t, holder.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&locked, "request_id = ? AND approval_level = ?", f.request.ID, 1).Error)

	approveErr := make(chan error, 1)
	go func() {
		_, err := f.chain.Approve(f.request.ID, 1, f.approver1, "")
		approveErr <- err
	}()

	time.Sleep(200 * time.Millisecond)
	_, err := f.engine.Cancel(f.request.ID, f.requester, "no longer needed")
	require.NoError(t, err)
	require.NoError(t, holder.Rollback().Error)

	err = <-approveErr
	var state *InvalidStateError
	require.ErrorAs(t, err, &state)

	// The cancel stands, the level is untouched and nothing was fulfilled.
	var reloaded models.MaterialRequest
	require.NoError(t, f.db.First(&reloaded, "id = ?", f.request.ID).Error)
	assert.Equal(t, models.RequestStatusCancelled, reloaded.Status)

	var approval models.RequestApproval
	require.NoError(t, f.db.First(&approval, "request_id = ? AND approval_level = ?", f.request.ID, 1).Error)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)

	var items []models.RequestItem
	require.NoError(t, f.db.Where("request_id = ?", f.request.ID).Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemStatusPending, items[0].Status)
}

func TestDecline(t *testing.T) {
	t.Run("decline terminates the whole request", func(t *testing.T) {
		f := setupChain(t, "approver-1", "approver-2")

		request, err := f.chain.Decline(f.request.ID, 1, f.approver1, "budget exceeded")
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusDeclined, request.Status)
		assert.Empty(t, request.CurrentApproverID)

		// The remaining level can no longer be acted on.
		_, err = f.chain.Approve(f.request.ID, 2, f.approver2, "")
		var state *InvalidStateError
		assert.ErrorAs(t, err, &state)
	})

	t.Run("decline respects ordering", func(t *testing.T) {
		f := setupChain(t, "approver-1", "approver-2")

		_, err := f.chain.Decline(f.request.ID, 2, f.approver2, "")
		var outOfOrder *OutOfOrderApprovalError
		assert.ErrorAs(t, err, &outOfOrder)
	})
}

func TestDelegate(t *testing.T) {
	f := setupChain(t, "approver-1", "approver-2")
	delegate := testutil.CreateUser(t, f.db, "delegate", models.RoleManager)
	member := testutil.CreateUser(t, f.db, "plain-member", models.RoleMember)

	t.Run("delegate must be privileged", func(t *testing.T) {
		_, err := f.chain.Delegate(f.request.ID, 1, f.approver1, member.ID.String(), "")
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("delegate must exist", func(t *testing.T) {
		_, err := f.chain.Delegate(f.request.ID, 1, f.approver1, "not-a-uuid", "")
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("only the approver may delegate", func(t *testing.T) {
		_, err := f.chain.Delegate(f.request.ID, 1, f.approver2, delegate.ID.String(), "")
		var permission *PermissionError
		assert.ErrorAs(t, err, &permission)
	})

	t.Run("delegation hands the decision to the delegate", func(t *testing.T) {
		request, err := f.chain.Delegate(f.request.ID, 1, f.approver1, delegate.ID.String(), "on leave")
		require.NoError(t, err)
		assert.Equal(t, delegate.ID.String(), request.CurrentApproverID)

		var approval models.RequestApproval
		require.NoError(t, f.db.First(&approval, "request_id = ? AND approval_level = ?", f.request.ID, 1).Error)
		assert.Equal(t, models.ApprovalStatusDelegated, approval.Status)
		assert.Equal(t, delegate.ID.String(), approval.DelegateID)

		// The original approver can no longer decide the delegated level.
		_, err = f.chain.Approve(f.request.ID, 1, f.approver1, "")
		var permission *PermissionError
		assert.ErrorAs(t, err, &permission)

		// The delegate can.
		updated, err := f.chain.Approve(f.request.ID, 1, Actor{ID: delegate.ID.String(), Role: models.RoleManager}, "approving for approver-1")
		require.NoError(t, err)
		assert.Equal(t, "approver-2", updated.CurrentApproverID)

		// The audit snapshot records the level's actual prior status.
		var history []models.RequestHistory
		require.NoError(t, f.db.Where("request_id = ? AND action = ?", f.request.ID, "approval_approved").
			Find(&history).Error)
		require.Len(t, history, 1)
		var old map[string]interface{}
		require.NoError(t, json.Unmarshal(history[0].OldValue, &old))
		assert.Equal(t, models.ApprovalStatusDelegated, old["status"])
	})
}
