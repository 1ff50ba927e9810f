package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"p9e.in/incubator/models"
)

func TestResolveCapabilities(t *testing.T) {
	t.Run("member owner can submit and cancel only", func(t *testing.T) {
		caps := ResolveCapabilities(models.RoleMember, true)
		assert.True(t, caps[CapSubmit])
		assert.True(t, caps[CapCancel])
		assert.False(t, caps[CapSetStatus])
		assert.False(t, caps[CapManageInventory])
		assert.False(t, caps[CapViewInternal])
	})

	t.Run("member non-owner can do nothing", func(t *testing.T) {
		caps := ResolveCapabilities(models.RoleMember, false)
		assert.Empty(t, caps)
	})

	t.Run("manager gets operator capabilities without ownership", func(t *testing.T) {
		caps := ResolveCapabilities(models.RoleManager, false)
		assert.True(t, caps[CapCancel])
		assert.True(t, caps[CapSetStatus])
		assert.True(t, caps[CapSetDelivery])
		assert.True(t, caps[CapManageInventory])
		assert.True(t, caps[CapViewInternal])
		assert.True(t, caps[CapModerate])
		assert.True(t, caps[CapExportReports])
		assert.False(t, caps[CapSubmit])
	})

	t.Run("admin owner gets everything", func(t *testing.T) {
		caps := ResolveCapabilities(models.RoleAdmin, true)
		assert.True(t, caps[CapSubmit])
		assert.True(t, caps[CapSetStatus])
		assert.True(t, caps[CapExportReports])
	})
}

func TestCan(t *testing.T) {
	owner := Actor{ID: "user-1", Role: models.RoleMember}
	other := Actor{ID: "user-2", Role: models.RoleMember}
	manager := Actor{ID: "user-3", Role: models.RoleManager}

	assert.True(t, Can(owner, "user-1", CapSubmit))
	assert.False(t, Can(other, "user-1", CapSubmit))
	assert.False(t, Can(other, "user-1", CapCancel))
	assert.True(t, Can(manager, "user-1", CapCancel))
	assert.False(t, Can(manager, "user-1", CapSubmit))
}

func TestIsPrivileged(t *testing.T) {
	assert.True(t, Actor{Role: models.RoleAdmin}.IsPrivileged())
	assert.True(t, Actor{Role: models.RoleManager}.IsPrivileged())
	assert.False(t, Actor{Role: models.RoleMember}.IsPrivileged())
	assert.False(t, Actor{Role: "intern"}.IsPrivileged())
}
