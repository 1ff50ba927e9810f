package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ValidationError reports malformed input: a missing required field, a
// non-positive quantity, an invalid enum value.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// PermissionError reports that the actor lacks rights for the attempted
// transition.
type PermissionError struct {
	ActorID string
	Msg     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s: %s", e.ActorID, e.Msg)
}

// InvalidStateError reports an operation that is not legal from the current
// lifecycle state.
type InvalidStateError struct {
	Current   string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s from state '%s'", e.Attempted, e.Current)
}

// OutOfOrderApprovalError reports an approval-level sequencing violation:
// a level was acted on while an earlier level was not yet approved.
type OutOfOrderApprovalError struct {
	Level int
}

func (e *OutOfOrderApprovalError) Error() string {
	return fmt.Sprintf("approval level %d cannot be processed before all earlier levels are approved", e.Level)
}

// AlreadyProcessedError is the idempotency guard on approval levels.
type AlreadyProcessedError struct {
	Level  int
	Status string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("approval level %d already processed (status: %s)", e.Level, e.Status)
}

// NotFoundError reports an absent request, item, or approval.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InsufficientQuantityError reports that the ledger cannot satisfy a
// reservation. During fulfillment it degrades to a per-item outcome rather
// than failing the whole operation.
type InsufficientQuantityError struct {
	InventoryItemID uuid.UUID
	Requested       float64
	Available       float64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity for item %s: requested %.2f, available %.2f",
		e.InventoryItemID, e.Requested, e.Available)
}

// httpStatusFor maps a domain error to an HTTP status so callers can
// distinguish "not allowed", "wrong state", "already done" and "not enough
// stock" without parsing messages.
func httpStatusFor(err error) int {
	var (
		validationErr   *ValidationError
		permissionErr   *PermissionError
		invalidStateErr *InvalidStateError
		outOfOrderErr   *OutOfOrderApprovalError
		processedErr    *AlreadyProcessedError
		notFoundErr     *NotFoundError
		quantityErr     *InsufficientQuantityError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &permissionErr):
		return http.StatusForbidden
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &invalidStateErr),
		errors.As(err, &outOfOrderErr),
		errors.As(err, &processedErr),
		errors.As(err, &quantityErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes a JSON error response for a domain error.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSONError(w, httpStatusFor(err), err.Error())
}
