/*
cascade.go - Cascading deletes

PURPOSE:
  The two deletes with cross-collection consequences live here as named,
  independently testable operations rather than branches inside a
  dispatch switch.

  DeleteCategory is a two-phase cascade: remove the category, then strip
  its id from every subcategory and drop subcategories left with no
  associations. Both phases happen inside one reducer call - a category
  gone with a dangling subcategory left behind is the bug class the
  tests target explicitly.

  DeleteWorkerCascade removes the worker together with every entry,
  payment, and outbox message referencing it. Callers that want to
  decide first call OrphanReport and inspect what would go.
*/
package ledger

import "fmt"

// =============================================================================
// CATEGORY CASCADE
// =============================================================================

// DeleteCategory removes the category and repairs subcategory
// associations atomically. Subcategories that belonged exclusively to
// the deleted category are removed entirely.
func (d AppData) DeleteCategory(id CategoryID) (AppData, error) {
	idx := -1
	for i := range d.Categories {
		if d.Categories[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return d, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}

	// Phase 1: drop the category.
	categories := append([]Category(nil), d.Categories...)
	d.Categories = append(categories[:idx], categories[idx+1:]...)

	// Phase 2: strip the id from every subcategory; delete any left with
	// an empty association set.
	subcategories := make([]Subcategory, 0, len(d.Subcategories))
	for _, s := range d.Subcategories {
		if !s.HasCategory(id) {
			subcategories = append(subcategories, s)
			continue
		}
		remaining := make([]CategoryID, 0, len(s.CategoryIDs)-1)
		for _, c := range s.CategoryIDs {
			if c != id {
				remaining = append(remaining, c)
			}
		}
		if len(remaining) == 0 {
			continue
		}
		s.CategoryIDs = remaining
		subcategories = append(subcategories, s)
	}
	d.Subcategories = subcategories
	return d, nil
}

// =============================================================================
// WORKER CASCADE
// =============================================================================

// Orphans enumerates records that reference a worker. Deleting the
// worker without deleting these would violate referential integrity.
type Orphans struct {
	Entries  []EntryID
	Payments []PaymentID
	Messages []MessageID
}

func (o Orphans) Empty() bool {
	return len(o.Entries) == 0 && len(o.Payments) == 0 && len(o.Messages) == 0
}

// OrphanReport lists every entry, payment, and outbox message that would
// be orphaned by deleting the worker.
func (d AppData) OrphanReport(id WorkerID) Orphans {
	var o Orphans
	for _, e := range d.Entries {
		if e.WorkerID == id {
			o.Entries = append(o.Entries, e.ID)
		}
	}
	for _, p := range d.Payments {
		if p.WorkerID == id {
			o.Payments = append(o.Payments, p.ID)
		}
	}
	for _, m := range d.Outbox {
		if m.WorkerID == id {
			o.Messages = append(o.Messages, m.ID)
		}
	}
	return o
}

// DeleteWorkerCascade removes the worker and all dependent records in
// one reducer call.
func (d AppData) DeleteWorkerCascade(id WorkerID) (AppData, error) {
	idx := -1
	for i := range d.Workers {
		if d.Workers[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return d, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}

	workers := append([]Worker(nil), d.Workers...)
	d.Workers = append(workers[:idx], workers[idx+1:]...)

	entries := make([]Entry, 0, len(d.Entries))
	for _, e := range d.Entries {
		if e.WorkerID != id {
			entries = append(entries, e)
		}
	}
	d.Entries = entries

	payments := make([]Payment, 0, len(d.Payments))
	for _, p := range d.Payments {
		if p.WorkerID != id {
			payments = append(payments, p)
		}
	}
	d.Payments = payments

	outbox := make([]OutboxMessage, 0, len(d.Outbox))
	for _, m := range d.Outbox {
		if m.WorkerID != id {
			outbox = append(outbox, m)
		}
	}
	d.Outbox = outbox
	return d, nil
}
