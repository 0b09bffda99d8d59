/*
Package ledger provides the core reconciliation engine.

PURPOSE:
  This package contains the entities, mutation operations, validation
  rules, and balance projections for a single-account running-balance
  ledger. One worker has one opening balance; attendance entries add to
  it (weighted by status), payments subtract from it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Worker/Category/Subcategory: the reference entities
  - Entry: one day's attendance/work record for one worker
  - Payment: one disbursement to a worker, always balance-decreasing
  - Date: a calendar date with no time component (ledger key)
  - Status: Present/Half/Absent, encoded as single-letter codes

DESIGN PRINCIPLES:
  1. Immutability: mutations return new AppData values, never edit in place
  2. Precision: uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: strong typing for IDs prevents mixing entity kinds
  4. One canonical shape: legacy field variants are normalized exactly
     once at load time (see the migrate package), never here

SEE ALSO:
  - store.go: AppData collections and mutation operations
  - validate.go: write gates with a closed rejection taxonomy
  - projection.go: balance and running-balance ledger computation
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkerID string
type CategoryID string
type SubcategoryID string
type EntryID string
type PaymentID string
type MessageID string

// =============================================================================
// DATE - Calendar date, no time component
// =============================================================================

// Date is a calendar date. Two entries on the same Date for the same
// worker violate the attendance uniqueness invariant regardless of any
// time-of-day information, so none is kept.
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts the canonical YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t.UTC()}, nil
}

// DateOf truncates a time.Time to its calendar date (UTC).
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }
func (d Date) IsZero() bool           { return d.t.IsZero() }
func (d Date) String() string         { return d.t.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// STATUS - Attendance status with balance weighting
// =============================================================================

// Status is the canonical single-letter attendance encoding. Legacy
// persisted data carries long strings ("Present", "half", ...); the
// migration gate maps those onto these codes before the engine sees them.
type Status string

const (
	StatusPresent Status = "P"
	StatusHalf    Status = "H"
	StatusAbsent  Status = "A"
)

func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusHalf || s == StatusAbsent
}

var half = decimal.NewFromFloat(0.5)

// Weight returns the balance multiplier for this status:
// Present x1, Half x0.5, Absent x0.
func (s Status) Weight() decimal.Decimal {
	switch s {
	case StatusPresent:
		return decimal.NewFromInt(1)
	case StatusHalf:
		return half
	default:
		return decimal.Zero
	}
}

// CanonicalStatus maps the long status strings found in legacy data and
// backup documents onto the single-letter codes. Every path that admits
// externally persisted entries (the migration gate, restore) runs
// statuses through here. Unrecognized values pass through so validation
// and integrity checks can flag them.
func CanonicalStatus(s string) Status {
	switch NormalizeName(s) {
	case "p", "present":
		return StatusPresent
	case "h", "half", "half day", "halfday":
		return StatusHalf
	case "a", "absent":
		return StatusAbsent
	default:
		return Status(s)
	}
}

// =============================================================================
// WORK TYPE - The two mutually exclusive amount derivation modes
// =============================================================================

type WorkType string

const (
	// WorkCategoryBased entries carry a category/subcategory pair and a
	// manually entered amount.
	WorkCategoryBased WorkType = "category"
	// WorkUnitBased entries carry a work name plus units and rate;
	// amount = units x ratePerUnit.
	WorkUnitBased WorkType = "unit"
)

// CanonicalWorkType maps legacy work-type spellings onto the two modes.
// Anything unrecognized falls back to category-based, the older of the
// two and the default in every legacy dataset seen.
func CanonicalWorkType(s string) WorkType {
	switch NormalizeName(s) {
	case "unit", "unitbased", "unit_based", "b", "work b":
		return WorkUnitBased
	default:
		return WorkCategoryBased
	}
}

// =============================================================================
// ENTITIES
// =============================================================================

// Worker is the single account each ledger folds over. OpeningBalance is
// immutable after creation; UpdateWorker refuses to change it.
type Worker struct {
	ID             WorkerID        `json:"id"`
	Name           string          `json:"name"`
	Address        string          `json:"address,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
}

type Category struct {
	ID   CategoryID `json:"id"`
	Name string     `json:"name"`
}

// Subcategory belongs to one or more categories. A subcategory may
// transiently hold an empty CategoryIDs set mid-cascade; DeleteCategory
// removes such leftovers before it returns.
type Subcategory struct {
	ID          SubcategoryID `json:"id"`
	Name        string        `json:"name"`
	CategoryIDs []CategoryID  `json:"categoryIds"`
}

// HasCategory reports whether id is in the subcategory's association set.
func (s Subcategory) HasCategory(id CategoryID) bool {
	for _, c := range s.CategoryIDs {
		if c == id {
			return true
		}
	}
	return false
}

// SharesCategory reports whether the two association sets overlap.
// Subcategory name uniqueness is scoped to overlapping sets, not global.
func (s Subcategory) SharesCategory(ids []CategoryID) bool {
	for _, id := range ids {
		if s.HasCategory(id) {
			return true
		}
	}
	return false
}

// Entry is one day's attendance/work record for one worker.
//
// INVARIANT: at most one Entry per (WorkerID, Date) pair. This is the
// single most important uniqueness constraint in the system and is
// enforced by ValidateEntry.
type Entry struct {
	ID       EntryID  `json:"id"`
	WorkerID WorkerID `json:"workerId"`
	Date     Date     `json:"date"`
	Status   Status   `json:"status"`
	WorkType WorkType `json:"workType"`

	// CategoryBased fields
	CategoryID    CategoryID    `json:"categoryId,omitempty"`
	SubcategoryID SubcategoryID `json:"subcategoryId,omitempty"`

	// UnitBased fields
	WorkName    string          `json:"workName,omitempty"`
	Units       decimal.Decimal `json:"units"`
	RatePerUnit decimal.Decimal `json:"ratePerUnit"`

	// Amount is 0 when Absent, units x ratePerUnit for UnitBased,
	// a manually entered value for CategoryBased.
	Amount    decimal.Decimal `json:"amount"`
	Narration string          `json:"narration,omitempty"`
}

// WeightedAmount is the entry's contribution to the worker's balance.
// Amount is already forced to zero for Absent entries upstream; applying
// the weight again here keeps the fold correct even on legacy data.
func (e Entry) WeightedAmount() decimal.Decimal {
	return e.Amount.Mul(e.Status.Weight())
}

// Payment is one disbursement to a worker. Always balance-decreasing.
type Payment struct {
	ID          PaymentID       `json:"id"`
	WorkerID    WorkerID        `json:"workerId"`
	Date        Date            `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentType string          `json:"paymentType"`
	Notes       string          `json:"notes,omitempty"`
}

// =============================================================================
// OUTBOX - Deferred messages for the external composer
// =============================================================================

type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
)

// OutboxMessage is a snapshot of composed text awaiting delivery by the
// external messaging layer. Append-only except for the pending -> sent
// status transition. Never participates in balance computation.
type OutboxMessage struct {
	ID        MessageID     `json:"id"`
	WorkerID  WorkerID      `json:"workerId"`
	Body      string        `json:"body"`
	Channel   string        `json:"channel"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	SentAt    *time.Time    `json:"sentAt,omitempty"`
}

// =============================================================================
// NAME NORMALIZATION
// =============================================================================

// NormalizeName is the canonical form used for case-insensitive
// uniqueness checks: trimmed, lower-cased.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
