package handlers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p9e.in/incubator/models"
	"p9e.in/incubator/testutil"
)

func TestDeriveRequestStatus(t *testing.T) {
	t.Run("pending items leave the status unresolved", func(t *testing.T) {
		_, resolved := DeriveRequestStatus([]models.RequestItem{
			{Status: models.ItemStatusApproved},
			{Status: models.ItemStatusPending},
		})
		assert.False(t, resolved)
	})

	t.Run("all granted means approved", func(t *testing.T) {
		status, resolved := DeriveRequestStatus([]models.RequestItem{
			{Status: models.ItemStatusApproved},
			{Status: models.ItemStatusDistributed},
		})
		assert.True(t, resolved)
		assert.Equal(t, models.RequestStatusApproved, status)
	})

	t.Run("any decline means partially approved", func(t *testing.T) {
		status, resolved := DeriveRequestStatus([]models.RequestItem{
			{Status: models.ItemStatusApproved},
			{Status: models.ItemStatusDeclined},
		})
		assert.True(t, resolved)
		assert.Equal(t, models.RequestStatusPartiallyApproved, status)
	})

	t.Run("no items resolves to approved", func(t *testing.T) {
		status, resolved := DeriveRequestStatus(nil)
		assert.True(t, resolved)
		assert.Equal(t, models.RequestStatusApproved, status)
	})
}

func TestIsConsumableLine(t *testing.T) {
	request := &models.MaterialRequest{}
	line := &models.RequestItem{}

	assert.False(t, isConsumableLine(request, line, nil))
	assert.False(t, isConsumableLine(request, line, &models.InventoryItem{Category: "electronics"}))
	assert.True(t, isConsumableLine(&models.MaterialRequest{IsConsumable: true}, line, nil))
	assert.True(t, isConsumableLine(request, &models.RequestItem{IsConsumable: true}, nil))
	assert.True(t, isConsumableLine(request, line, &models.InventoryItem{IsFrequentlyDistributed: true}))
	assert.True(t, isConsumableLine(request, line, &models.InventoryItem{Category: "Consumables"}))
}

func TestFulfillmentMixedLines(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "fulfill-team")
	manager := Actor{ID: "manager-1", Role: models.RoleManager}
	requester := Actor{ID: "requester-1", Role: models.RoleMember}

	markers := testutil.CreateInventoryItem(t, db, "Markers", 50, true)
	laptops := testutil.CreateInventoryItem(t, db, "Laptops", 3, false)

	request, err := engine.Create(CreateRequestInput{
		TeamID: team.ID,
		Title:  "Mixed request",
		Items: []CreateItemInput{
			{Name: "Markers", Quantity: 10, InventoryItemID: &markers.ID},
			{Name: "Laptops", Quantity: 2, InventoryItemID: &laptops.ID},
			{Name: "Custom bracket", Quantity: 1},
		},
	}, requester)
	require.NoError(t, err)

	updated, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, updated.Status)

	var items []models.RequestItem
	require.NoError(t, db.Where("request_id = ?", request.ID).Order("created_at ASC").Find(&items).Error)
	require.Len(t, items, 3)

	// Consumable line was distributed and depleted stock.
	assert.Equal(t, models.ItemStatusDistributed, items[0].Status)
	assert.Equal(t, 10.0, items[0].DistributedQuantity)
	var markersReloaded models.InventoryItem
	require.NoError(t, db.First(&markersReloaded, "id = ?", markers.ID).Error)
	assert.Equal(t, 40.0, markersReloaded.AvailableQuantity)
	assert.Equal(t, 10.0, markersReloaded.ConsumedQuantity)

	// Durable line became an active assignment.
	assert.Equal(t, models.ItemStatusApproved, items[1].Status)
	assert.Equal(t, 2.0, items[1].ApprovedQuantity)
	var assignment models.InventoryAssignment
	require.NoError(t, db.First(&assignment, "request_item_id = ?", items[1].ID).Error)
	assert.Equal(t, models.AssignmentStatusActive, assignment.Status)

	// Free-text line was approved without touching any ledger.
	assert.Equal(t, models.ItemStatusApproved, items[2].Status)
	assert.Equal(t, 1.0, items[2].ApprovedQuantity)
}

func TestFulfillmentConsumableShortage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "shortage-team")
	manager := Actor{ID: "manager-1", Role: models.RoleManager}
	requester := Actor{ID: "requester-1", Role: models.RoleMember}

	tape := testutil.CreateInventoryItem(t, db, "Tape", 3, true)

	request, err := engine.Create(CreateRequestInput{
		TeamID: team.ID,
		Title:  "Too much tape",
		Items: []CreateItemInput{
			{Name: "Tape", Quantity: 5, InventoryItemID: &tape.ID},
			{Name: "Stapler", Quantity: 1},
		},
	}, requester)
	require.NoError(t, err)

	updated, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPartiallyApproved, updated.Status)

	var items []models.RequestItem
	require.NoError(t, db.Where("request_id = ?", request.ID).Order("created_at ASC").Find(&items).Error)
	require.Len(t, items, 2)

	// Consumables are all-or-nothing: nothing was consumed.
	assert.Equal(t, models.ItemStatusDeclined, items[0].Status)
	assert.Contains(t, items[0].ShortageNote, "insufficient stock")
	var tapeReloaded models.InventoryItem
	require.NoError(t, db.First(&tapeReloaded, "id = ?", tape.ID).Error)
	assert.Equal(t, 3.0, tapeReloaded.AvailableQuantity)

	// The other line still went through.
	assert.Equal(t, models.ItemStatusApproved, items[1].Status)
}

func TestFulfillmentPartialDurableGrant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "partial-team")
	manager := Actor{ID: "manager-1", Role: models.RoleManager}
	requester := Actor{ID: "requester-1", Role: models.RoleMember}

	chairs := testutil.CreateInventoryItem(t, db, "Chairs", 5, false)

	request, err := engine.Create(CreateRequestInput{
		TeamID: team.ID,
		Title:  "Eight chairs",
		Items:  []CreateItemInput{{Name: "Chairs", Quantity: 8, InventoryItemID: &chairs.ID}},
	}, requester)
	require.NoError(t, err)

	updated, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, updated.Status)

	var item models.RequestItem
	require.NoError(t, db.First(&item, "request_id = ?", request.ID).Error)
	assert.Equal(t, models.ItemStatusApproved, item.Status)
	assert.Equal(t, 5.0, item.ApprovedQuantity)
	assert.Contains(t, item.ShortageNote, "partial grant")

	// Exactly one ledger row records the whole movement.
	var transactions []models.InventoryTransaction
	require.NoError(t, db.Where("inventory_item_id = ?", chairs.ID).Find(&transactions).Error)
	require.Len(t, transactions, 1)
	assert.Equal(t, 5.0, transactions[0].PreviousQuantity)
	assert.Equal(t, 0.0, transactions[0].NewQuantity)
	assert.Equal(t, 5.0, transactions[0].Quantity)
}

func TestFulfillmentDurableOutOfStock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "oos-team")
	manager := Actor{ID: "manager-1", Role: models.RoleManager}
	requester := Actor{ID: "requester-1", Role: models.RoleMember}

	empty := testutil.CreateInventoryItem(t, db, "Projector", 0, false)

	request, err := engine.Create(CreateRequestInput{
		TeamID: team.ID,
		Title:  "No projectors left",
		Items:  []CreateItemInput{{Name: "Projector", Quantity: 1, InventoryItemID: &empty.ID}},
	}, requester)
	require.NoError(t, err)

	updated, err := engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPartiallyApproved, updated.Status)

	var item models.RequestItem
	require.NoError(t, db.First(&item, "request_id = ?", request.ID).Error)
	assert.Equal(t, models.ItemStatusDeclined, item.Status)
	assert.Contains(t, item.ShortageNote, "out of stock")

	var assignmentCount int64
	db.Model(&models.InventoryAssignment{}).Where("inventory_item_id = ?", empty.ID).Count(&assignmentCount)
	assert.Equal(t, int64(0), assignmentCount)
}

func TestFulfillmentRecordsHistory(t *testing.T) {
	db := testutil.SetupTestDB(t)
	engine := newTestEngine(t, db, false)
	team := testutil.CreateTeam(t, db, "history-team")
	manager := Actor{ID: "manager-1", Role: models.RoleManager}

	request, err := engine.Create(CreateRequestInput{
		TeamID: team.ID,
		Title:  "Audited request",
		Items:  []CreateItemInput{{Name: "Thing", Quantity: 1}},
	}, Actor{ID: "requester-1", Role: models.RoleMember})
	require.NoError(t, err)

	_, err = engine.SetStatus(request.ID, models.RequestStatusApproved, manager, "")
	require.NoError(t, err)

	var actions []string
	var history []models.RequestHistory
	require.NoError(t, db.Where("request_id = ?", request.ID).Order("created_at ASC").Find(&history).Error)
	for _, entry := range history {
		actions = append(actions, entry.Action)
		assert.NotEqual(t, uuid.Nil, entry.ID)
	}
	assert.Contains(t, actions, "created")
	assert.Contains(t, actions, "status_changed")
	assert.Contains(t, actions, "fulfilled")
}
