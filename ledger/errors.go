/*
errors.go - Rejection taxonomy and sentinel errors

PURPOSE:
  All rejection reasons in one place. The taxonomy is closed so callers
  can branch on reasons programmatically instead of parsing messages.

PROPAGATION POLICY:
  Validation failures are returned, never panicked, and never partially
  applied - a rejected mutation leaves the store identical to before the
  attempt. Rejection implements error so it flows through ordinary error
  returns; use errors.As to recover the typed reason.

USAGE:
    var rej *ledger.Rejection
    if errors.As(err, &rej) && rej.Reason == ledger.DuplicateAttendance {
        ...
    }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// REASONS - Closed taxonomy
// =============================================================================

type Reason string

const (
	MissingWorker            Reason = "MissingWorker"
	MissingDate              Reason = "MissingDate"
	InvalidStatus            Reason = "InvalidStatus"
	DuplicateAttendance      Reason = "DuplicateAttendance"
	MissingCategory          Reason = "MissingCategory"
	MissingSubcategory       Reason = "MissingSubcategory"
	SubcategoryNotAssociated Reason = "SubcategoryNotAssociated"
	MissingWorkName          Reason = "MissingWorkName"
	InvalidUnits             Reason = "InvalidUnits"
	InvalidRate              Reason = "InvalidRate"
	InvalidAmount            Reason = "InvalidAmount"
	InvalidPaymentType       Reason = "InvalidPaymentType"
	DuplicateName            Reason = "DuplicateName"
	MalformedBackup          Reason = "MalformedBackup"
)

// =============================================================================
// REJECTION - Structured validation failure
// =============================================================================

// Rejection is the typed result of a failed validation. Field names the
// offending input field where one exists.
type Rejection struct {
	Reason  Reason
	Field   string
	Message string
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", r.Reason, r.Message, r.Field)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func reject(reason Reason, field, message string) *Rejection {
	return &Rejection{Reason: reason, Field: field, Message: message}
}

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by lookups and id-keyed mutations when the
	// target entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrImmutableField is returned when an update attempts to change a
	// field that is fixed after creation (worker opening balance, the
	// id/workerId of entries and payments).
	ErrImmutableField = errors.New("field is immutable after creation")
)

// IsRejection reports whether err carries a validation rejection.
func IsRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}

// ReasonOf extracts the rejection reason, or "" for non-rejection errors.
func ReasonOf(err error) Reason {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
