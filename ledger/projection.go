/*
projection.go - Balance and ledger computation

PURPOSE:
  The two read-side folds over one worker's entries and payments:

  Balance:      openingBalance + sum(weighted entry amounts)
                               - sum(payment amounts)

  WorkerLedger: entries and payments merged into one chronological list,
                each record annotated with the running balance after it.

KEY INSIGHT:
  Both computations are the same fold. The last record's BalanceAfter in
  chronological order equals Balance exactly - projection_test.go checks
  that property directly.

ORDERING:
  Date ascending. On equal dates the tie-break is stable insertion
  order with entries before payments: a day's earnings land before that
  day's payment against them. Callers
  that want latest-first reverse the slice for display; BalanceAfter is
  never recomputed for presentation.
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE - Single running balance per worker
// =============================================================================

// Balance folds one worker's records into their current balance.
// O(entries + payments), deterministic, side-effect free.
func Balance(d AppData, id WorkerID) decimal.Decimal {
	worker, ok := d.FindWorker(id)
	if !ok {
		return decimal.Zero
	}
	balance := worker.OpeningBalance
	for _, e := range d.Entries {
		if e.WorkerID == id {
			balance = balance.Add(e.WeightedAmount())
		}
	}
	for _, p := range d.Payments {
		if p.WorkerID == id {
			balance = balance.Sub(p.Amount)
		}
	}
	return balance
}

// =============================================================================
// LEDGER - Running-balance-annotated transaction list
// =============================================================================

type RecordKind string

const (
	RecordEntry   RecordKind = "entry"
	RecordPayment RecordKind = "payment"
)

// LedgerRecord is one row of a worker's statement. Exactly one of
// EntryID/PaymentID is set, matching Kind.
type LedgerRecord struct {
	Kind RecordKind `json:"kind"`
	Date Date       `json:"date"`

	EntryID   EntryID   `json:"entryId,omitempty"`
	PaymentID PaymentID `json:"paymentId,omitempty"`

	// Entry annotations
	Status   Status   `json:"status,omitempty"`
	WorkType WorkType `json:"workType,omitempty"`

	// Payment annotations
	PaymentType string `json:"paymentType,omitempty"`

	Note string `json:"note,omitempty"`

	// Amount is the stored amount; Delta the signed balance effect
	// (weighted for entries, negated for payments).
	Amount       decimal.Decimal `json:"amount"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
}

// WorkerLedger merges one worker's entries and payments, sorts them
// chronologically, and folds a running balance forward from the opening
// balance.
func WorkerLedger(d AppData, id WorkerID) []LedgerRecord {
	worker, ok := d.FindWorker(id)
	if !ok {
		return nil
	}

	records := make([]LedgerRecord, 0, len(d.Entries)+len(d.Payments))
	for _, e := range d.Entries {
		if e.WorkerID != id {
			continue
		}
		records = append(records, LedgerRecord{
			Kind:     RecordEntry,
			Date:     e.Date,
			EntryID:  e.ID,
			Status:   e.Status,
			WorkType: e.WorkType,
			Note:     e.Narration,
			Amount:   e.Amount,
			Delta:    e.WeightedAmount(),
		})
	}
	for _, p := range d.Payments {
		if p.WorkerID != id {
			continue
		}
		records = append(records, LedgerRecord{
			Kind:        RecordPayment,
			Date:        p.Date,
			PaymentID:   p.ID,
			PaymentType: p.PaymentType,
			Note:        p.Notes,
			Amount:      p.Amount,
			Delta:       p.Amount.Neg(),
		})
	}

	// Stable sort on date only: entries were appended before payments,
	// so equal dates keep entries first, then insertion order.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})

	balance := worker.OpeningBalance
	for i := range records {
		balance = balance.Add(records[i].Delta)
		records[i].BalanceAfter = balance
	}
	return records
}

// =============================================================================
// ATTENDANCE SUMMARY - For the external messaging composer
// =============================================================================

// AttendanceSummary counts one worker's entries by status. The messaging
// composer consumes this together with the worker name and balance; the
// engine never formats message text or deep links.
type AttendanceSummary struct {
	Present int `json:"present"`
	Half    int `json:"half"`
	Absent  int `json:"absent"`
}

func (s AttendanceSummary) Total() int { return s.Present + s.Half + s.Absent }

func Attendance(d AppData, id WorkerID) AttendanceSummary {
	var summary AttendanceSummary
	for _, e := range d.Entries {
		if e.WorkerID != id {
			continue
		}
		switch e.Status {
		case StatusPresent:
			summary.Present++
		case StatusHalf:
			summary.Half++
		case StatusAbsent:
			summary.Absent++
		}
	}
	return summary
}
