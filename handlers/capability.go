package handlers

import "p9e.in/incubator/models"

// Capability is one action an actor may perform on a material request.
type Capability string

const (
	CapSubmit          Capability = "submit"
	CapCancel          Capability = "cancel"
	CapSetStatus       Capability = "set_status"
	CapSetDelivery     Capability = "set_delivery"
	CapManageInventory Capability = "manage_inventory"
	CapViewInternal    Capability = "view_internal_comments"
	CapModerate        Capability = "moderate_comments"
	CapExportReports   Capability = "export_reports"
)

// Actor is the acting identity for a call, an opaque {id, role} pair supplied
// by the auth layer.
type Actor struct {
	ID   string
	Role string
}

// IsPrivileged reports whether the actor holds a reviewer/operator role.
func (a Actor) IsPrivileged() bool {
	return models.IsPrivilegedRole(a.Role)
}

// ResolveCapabilities returns the set of allowed actions for a role and
// request ownership. Every transition guard consults this one function
// instead of re-deriving role rules inline.
func ResolveCapabilities(role string, isOwner bool) map[Capability]bool {
	caps := make(map[Capability]bool)

	if isOwner {
		caps[CapSubmit] = true
		caps[CapCancel] = true
	}

	if models.IsPrivilegedRole(role) {
		caps[CapCancel] = true
		caps[CapSetStatus] = true
		caps[CapSetDelivery] = true
		caps[CapManageInventory] = true
		caps[CapViewInternal] = true
		caps[CapModerate] = true
		caps[CapExportReports] = true
	}

	return caps
}

// Can reports whether the actor may perform cap on a request owned by
// ownerID.
func Can(actor Actor, ownerID string, cap Capability) bool {
	return ResolveCapabilities(actor.Role, actor.ID == ownerID)[cap]
}
