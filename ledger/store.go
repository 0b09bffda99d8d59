/*
store.go - Entity collections and mutation operations

PURPOSE:
  AppData holds the normalized in-memory collections plus the schema
  version tag. It owns no I/O. Every mutation is a pure reducer:
  (current, operation) -> next. The receiver is never modified, so a
  caller that keeps the old value has a free undo point and tests can
  diff before/after states directly.

COPY SEMANTICS:
  Reducers copy only the collections they touch; untouched slices are
  shared between old and new values. Callers that hand entities outside
  the engine boundary use Clone() for a full deep copy - no live entity
  is ever shared by reference outside the store.

SEE ALSO:
  - cascade.go: the two cascading deletes (category, worker)
  - validate.go: gates that must pass before a reducer is applied
*/
package ledger

import (
	"fmt"
	"time"
)

// CurrentSchemaVersion is the shape this package understands. The
// migration gate normalizes anything older before the engine loads it.
const CurrentSchemaVersion = 1

// =============================================================================
// APP DATA - The live dataset
// =============================================================================

type AppData struct {
	SchemaVersion int             `json:"schemaVersion"`
	Workers       []Worker        `json:"workers"`
	Categories    []Category      `json:"categories"`
	Subcategories []Subcategory   `json:"subcategories"`
	Entries       []Entry         `json:"entries"`
	Payments      []Payment       `json:"payments"`
	Outbox        []OutboxMessage `json:"deferredMessages"`
}

// Empty returns a current-version dataset with no records.
func Empty() AppData {
	return AppData{SchemaVersion: CurrentSchemaVersion}
}

// Clone deep-copies every collection. Subcategory association sets and
// outbox SentAt pointers are copied too, so the result shares nothing
// with the receiver.
func (d AppData) Clone() AppData {
	out := d
	out.Workers = append([]Worker(nil), d.Workers...)
	out.Categories = append([]Category(nil), d.Categories...)
	out.Entries = append([]Entry(nil), d.Entries...)
	out.Payments = append([]Payment(nil), d.Payments...)

	out.Subcategories = make([]Subcategory, len(d.Subcategories))
	for i, s := range d.Subcategories {
		s.CategoryIDs = append([]CategoryID(nil), s.CategoryIDs...)
		out.Subcategories[i] = s
	}

	out.Outbox = make([]OutboxMessage, len(d.Outbox))
	for i, m := range d.Outbox {
		if m.SentAt != nil {
			sentAt := *m.SentAt
			m.SentAt = &sentAt
		}
		out.Outbox[i] = m
	}
	return out
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (d AppData) FindWorker(id WorkerID) (Worker, bool) {
	for _, w := range d.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return Worker{}, false
}

func (d AppData) FindCategory(id CategoryID) (Category, bool) {
	for _, c := range d.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

func (d AppData) FindSubcategory(id SubcategoryID) (Subcategory, bool) {
	for _, s := range d.Subcategories {
		if s.ID == id {
			return s, true
		}
	}
	return Subcategory{}, false
}

func (d AppData) FindEntry(id EntryID) (Entry, bool) {
	for _, e := range d.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (d AppData) FindPayment(id PaymentID) (Payment, bool) {
	for _, p := range d.Payments {
		if p.ID == id {
			return p, true
		}
	}
	return Payment{}, false
}

// EntryOn returns the entry for a (worker, date) pair, if any. This backs
// the attendance uniqueness check.
func (d AppData) EntryOn(workerID WorkerID, date Date) (Entry, bool) {
	for _, e := range d.Entries {
		if e.WorkerID == workerID && e.Date.Equal(date) {
			return e, true
		}
	}
	return Entry{}, false
}

// =============================================================================
// WORKER MUTATIONS
// =============================================================================

func (d AppData) AddWorker(w Worker) AppData {
	d.Workers = append(append([]Worker(nil), d.Workers...), w)
	return d
}

// UpdateWorker replaces the worker with the same ID. OpeningBalance is
// immutable after creation.
func (d AppData) UpdateWorker(w Worker) (AppData, error) {
	for i, existing := range d.Workers {
		if existing.ID != w.ID {
			continue
		}
		if !existing.OpeningBalance.Equal(w.OpeningBalance) {
			return d, fmt.Errorf("worker %s opening balance: %w", w.ID, ErrImmutableField)
		}
		workers := append([]Worker(nil), d.Workers...)
		workers[i] = w
		d.Workers = workers
		return d, nil
	}
	return d, fmt.Errorf("worker %s: %w", w.ID, ErrNotFound)
}

// =============================================================================
// CATEGORY / SUBCATEGORY MUTATIONS
// =============================================================================

func (d AppData) AddCategory(c Category) AppData {
	d.Categories = append(append([]Category(nil), d.Categories...), c)
	return d
}

func (d AppData) UpdateCategory(c Category) (AppData, error) {
	for i, existing := range d.Categories {
		if existing.ID == c.ID {
			categories := append([]Category(nil), d.Categories...)
			categories[i] = c
			d.Categories = categories
			return d, nil
		}
	}
	return d, fmt.Errorf("category %s: %w", c.ID, ErrNotFound)
}

func (d AppData) AddSubcategory(s Subcategory) AppData {
	s.CategoryIDs = append([]CategoryID(nil), s.CategoryIDs...)
	d.Subcategories = append(append([]Subcategory(nil), d.Subcategories...), s)
	return d
}

func (d AppData) UpdateSubcategory(s Subcategory) (AppData, error) {
	for i, existing := range d.Subcategories {
		if existing.ID == s.ID {
			subcategories := append([]Subcategory(nil), d.Subcategories...)
			s.CategoryIDs = append([]CategoryID(nil), s.CategoryIDs...)
			subcategories[i] = s
			d.Subcategories = subcategories
			return d, nil
		}
	}
	return d, fmt.Errorf("subcategory %s: %w", s.ID, ErrNotFound)
}

func (d AppData) DeleteSubcategory(id SubcategoryID) (AppData, error) {
	for i := range d.Subcategories {
		if d.Subcategories[i].ID == id {
			subcategories := append([]Subcategory(nil), d.Subcategories...)
			d.Subcategories = append(subcategories[:i], subcategories[i+1:]...)
			return d, nil
		}
	}
	return d, fmt.Errorf("subcategory %s: %w", id, ErrNotFound)
}

// =============================================================================
// ENTRY / PAYMENT MUTATIONS
// =============================================================================

func (d AppData) AddEntry(e Entry) AppData {
	d.Entries = append(append([]Entry(nil), d.Entries...), e)
	return d
}

// UpdateEntry edits an entry in place by ID. Edits never change ID or
// WorkerID.
func (d AppData) UpdateEntry(e Entry) (AppData, error) {
	for i, existing := range d.Entries {
		if existing.ID != e.ID {
			continue
		}
		if existing.WorkerID != e.WorkerID {
			return d, fmt.Errorf("entry %s worker: %w", e.ID, ErrImmutableField)
		}
		entries := append([]Entry(nil), d.Entries...)
		entries[i] = e
		d.Entries = entries
		return d, nil
	}
	return d, fmt.Errorf("entry %s: %w", e.ID, ErrNotFound)
}

func (d AppData) DeleteEntry(id EntryID) (AppData, error) {
	for i := range d.Entries {
		if d.Entries[i].ID == id {
			entries := append([]Entry(nil), d.Entries...)
			d.Entries = append(entries[:i], entries[i+1:]...)
			return d, nil
		}
	}
	return d, fmt.Errorf("entry %s: %w", id, ErrNotFound)
}

func (d AppData) AddPayment(p Payment) AppData {
	d.Payments = append(append([]Payment(nil), d.Payments...), p)
	return d
}

func (d AppData) UpdatePayment(p Payment) (AppData, error) {
	for i, existing := range d.Payments {
		if existing.ID != p.ID {
			continue
		}
		if existing.WorkerID != p.WorkerID {
			return d, fmt.Errorf("payment %s worker: %w", p.ID, ErrImmutableField)
		}
		payments := append([]Payment(nil), d.Payments...)
		payments[i] = p
		d.Payments = payments
		return d, nil
	}
	return d, fmt.Errorf("payment %s: %w", p.ID, ErrNotFound)
}

func (d AppData) DeletePayment(id PaymentID) (AppData, error) {
	for i := range d.Payments {
		if d.Payments[i].ID == id {
			payments := append([]Payment(nil), d.Payments...)
			d.Payments = append(payments[:i], payments[i+1:]...)
			return d, nil
		}
	}
	return d, fmt.Errorf("payment %s: %w", id, ErrNotFound)
}

// =============================================================================
// OUTBOX MUTATIONS
// =============================================================================

func (d AppData) AppendOutbox(m OutboxMessage) AppData {
	d.Outbox = append(append([]OutboxMessage(nil), d.Outbox...), m)
	return d
}

// MarkOutboxSent transitions a pending message to sent. Sent messages
// stay sent; re-marking is a no-op rather than an error.
func (d AppData) MarkOutboxSent(id MessageID, sentAt time.Time) (AppData, error) {
	for i, m := range d.Outbox {
		if m.ID != id {
			continue
		}
		if m.Status == MessageSent {
			return d, nil
		}
		outbox := append([]OutboxMessage(nil), d.Outbox...)
		at := sentAt
		outbox[i].Status = MessageSent
		outbox[i].SentAt = &at
		d.Outbox = outbox
		return d, nil
	}
	return d, fmt.Errorf("message %s: %w", id, ErrNotFound)
}
