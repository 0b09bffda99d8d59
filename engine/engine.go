/*
Package engine is the library surface the presentation layer consumes.

PURPOSE:
  Engine owns the live AppData value and the key-value store it persists
  to. There is no ambient singleton: construct one with Load and pass it
  to whoever needs it.

WRITE PATH:
  validate -> reduce -> persist -> swap. Every mutation runs the
  validation engine first; a rejection is returned as-is and neither the
  live value nor the persisted blob changes. Reducers are pure, so a
  persist failure simply discards the candidate state.

CONCURRENCY:
  A single mutex serializes mutations; reads take the read lock. Restore
  holds the write lock for its whole protocol, so export, history, and
  prune never overlap a Replacing step. Restore is not cancellable once
  it starts replacing.

SEE ALSO:
  - migrate: runs before the engine ever sees data
  - backup: the snapshot machinery driven from RestoreBackup
*/
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/backup"
	"github.com/warp/ledger-engine/kvstore"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/migrate"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	mu   sync.RWMutex
	data ledger.AppData

	kv     kvstore.Store
	log    *zap.Logger
	backup *backup.Manager

	now   func() time.Time
	newID func() string
}

// Load runs the schema migration gate and constructs the engine over
// the normalized dataset. logger may be nil.
func Load(ctx context.Context, kv kvstore.Store, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := migrate.NewGate(kv, logger)
	data, err := gate.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{
		data:   data,
		kv:     kv,
		log:    logger,
		backup: backup.NewManager(kv, logger),
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// commit persists the candidate state and swaps the live pointer only
// on success, so callers observe all-or-nothing mutations.
func (e *Engine) commit(ctx context.Context, next ledger.AppData) error {
	blob, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	if err := e.kv.Set(ctx, migrate.DataKey, blob); err != nil {
		return fmt.Errorf("persist data: %w", err)
	}
	e.data = next
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Data returns a deep copy of the live dataset. No live entity is ever
// shared by reference outside the engine.
func (e *Engine) Data() ledger.AppData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.Clone()
}

func (e *Engine) Worker(id ledger.WorkerID) (ledger.Worker, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.data.FindWorker(id)
	if !ok {
		return ledger.Worker{}, fmt.Errorf("worker %s: %w", id, ledger.ErrNotFound)
	}
	return w, nil
}

func (e *Engine) Balance(id ledger.WorkerID) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ledger.Balance(e.data, id)
}

func (e *Engine) WorkerLedger(id ledger.WorkerID) []ledger.LedgerRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ledger.WorkerLedger(e.data, id)
}

func (e *Engine) Attendance(id ledger.WorkerID) ledger.AttendanceSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ledger.Attendance(e.data, id)
}

// SettlementSummary is what the external messaging composer consumes:
// name, balance, and attendance counts. The engine never formats
// message text or deep links.
type SettlementSummary struct {
	WorkerID   ledger.WorkerID          `json:"workerId"`
	Name       string                   `json:"name"`
	Phone      string                   `json:"phone,omitempty"`
	Balance    decimal.Decimal          `json:"balance"`
	Attendance ledger.AttendanceSummary `json:"attendance"`
}

func (e *Engine) Settlement(id ledger.WorkerID) (SettlementSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.data.FindWorker(id)
	if !ok {
		return SettlementSummary{}, fmt.Errorf("worker %s: %w", id, ledger.ErrNotFound)
	}
	return SettlementSummary{
		WorkerID:   w.ID,
		Name:       w.Name,
		Phone:      w.Phone,
		Balance:    ledger.Balance(e.data, id),
		Attendance: ledger.Attendance(e.data, id),
	}, nil
}

// OrphanReport enumerates what DeleteWorker would cascade over, so a
// caller can confirm before the destructive call.
func (e *Engine) OrphanReport(id ledger.WorkerID) ledger.Orphans {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data.OrphanReport(id)
}

// =============================================================================
// WORKER MUTATIONS
// =============================================================================

func (e *Engine) AddWorker(ctx context.Context, name, address, phone string, openingBalance decimal.Decimal) (ledger.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidateWorkerName(name, "", e.data); rej != nil {
		return ledger.Worker{}, rej
	}
	w := ledger.Worker{
		ID:             ledger.WorkerID(e.newID()),
		Name:           name,
		Address:        address,
		Phone:          phone,
		OpeningBalance: openingBalance,
	}
	if err := e.commit(ctx, e.data.AddWorker(w)); err != nil {
		return ledger.Worker{}, err
	}
	return w, nil
}

// UpdateWorker edits name/address/phone. Opening balance is immutable;
// the reducer enforces that.
func (e *Engine) UpdateWorker(ctx context.Context, w ledger.Worker) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidateWorkerName(w.Name, w.ID, e.data); rej != nil {
		return rej
	}
	next, err := e.data.UpdateWorker(w)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

// DeleteWorker removes the worker and cascades over every dependent
// entry, payment, and outbox message.
func (e *Engine) DeleteWorker(ctx context.Context, id ledger.WorkerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.data.DeleteWorkerCascade(id)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

// =============================================================================
// CATEGORY / SUBCATEGORY MUTATIONS
// =============================================================================

func (e *Engine) AddCategory(ctx context.Context, name string) (ledger.Category, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidateCategoryName(name, "", e.data); rej != nil {
		return ledger.Category{}, rej
	}
	c := ledger.Category{ID: ledger.CategoryID(e.newID()), Name: name}
	if err := e.commit(ctx, e.data.AddCategory(c)); err != nil {
		return ledger.Category{}, err
	}
	return c, nil
}

func (e *Engine) UpdateCategory(ctx context.Context, c ledger.Category) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidateCategoryName(c.Name, c.ID, e.data); rej != nil {
		return rej
	}
	next, err := e.data.UpdateCategory(c)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

func (e *Engine) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.data.DeleteCategory(id)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

func (e *Engine) AddSubcategory(ctx context.Context, name string, categoryIDs []ledger.CategoryID) (ledger.Subcategory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidateSubcategoryName(name, categoryIDs, "", e.data); rej != nil {
		return ledger.Subcategory{}, rej
	}
	s := ledger.Subcategory{
		ID:          ledger.SubcategoryID(e.newID()),
		Name:        name,
		CategoryIDs: categoryIDs,
	}
	if err := e.commit(ctx, e.data.AddSubcategory(s)); err != nil {
		return ledger.Subcategory{}, err
	}
	return s, nil
}

func (e *Engine) UpdateSubcategory(ctx context.Context, s ledger.Subcategory) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidateSubcategoryName(s.Name, s.CategoryIDs, s.ID, e.data); rej != nil {
		return rej
	}
	next, err := e.data.UpdateSubcategory(s)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

func (e *Engine) DeleteSubcategory(ctx context.Context, id ledger.SubcategoryID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.data.DeleteSubcategory(id)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

// =============================================================================
// ENTRY / PAYMENT MUTATIONS
// =============================================================================

// normalizeEntry derives the amount: 0 when Absent, units x rate for
// unit-based work. Category-based amounts are entered manually and pass
// through.
func normalizeEntry(entry ledger.Entry) ledger.Entry {
	if entry.Status == ledger.StatusAbsent {
		entry.Amount = decimal.Zero
		return entry
	}
	if entry.WorkType == ledger.WorkUnitBased {
		entry.Amount = entry.Units.Mul(entry.RatePerUnit)
	}
	return entry
}

func (e *Engine) AddEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ledger.EntryID(e.newID())
	}
	entry = normalizeEntry(entry)
	if rej := ledger.ValidateEntry(entry, e.data); rej != nil {
		return ledger.Entry{}, rej
	}
	if err := e.commit(ctx, e.data.AddEntry(entry)); err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (e *Engine) UpdateEntry(ctx context.Context, entry ledger.Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry = normalizeEntry(entry)
	if rej := ledger.ValidateEntry(entry, e.data); rej != nil {
		return rej
	}
	next, err := e.data.UpdateEntry(entry)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

func (e *Engine) DeleteEntry(ctx context.Context, id ledger.EntryID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.data.DeleteEntry(id)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

func (e *Engine) AddPayment(ctx context.Context, p ledger.Payment) (ledger.Payment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.ID == "" {
		p.ID = ledger.PaymentID(e.newID())
	}
	if rej := ledger.ValidatePayment(p, e.data); rej != nil {
		return ledger.Payment{}, rej
	}
	if err := e.commit(ctx, e.data.AddPayment(p)); err != nil {
		return ledger.Payment{}, err
	}
	return p, nil
}

func (e *Engine) UpdatePayment(ctx context.Context, p ledger.Payment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rej := ledger.ValidatePayment(p, e.data); rej != nil {
		return rej
	}
	next, err := e.data.UpdatePayment(p)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

func (e *Engine) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.data.DeletePayment(id)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

// =============================================================================
// OUTBOX MUTATIONS
// =============================================================================

// QueueMessage snapshots composed text for the external messaging layer.
func (e *Engine) QueueMessage(ctx context.Context, workerID ledger.WorkerID, body, channel string) (ledger.OutboxMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.data.FindWorker(workerID); !ok {
		return ledger.OutboxMessage{}, fmt.Errorf("worker %s: %w", workerID, ledger.ErrNotFound)
	}
	m := ledger.OutboxMessage{
		ID:        ledger.MessageID(e.newID()),
		WorkerID:  workerID,
		Body:      body,
		Channel:   channel,
		Status:    ledger.MessagePending,
		CreatedAt: e.now().UTC(),
	}
	if err := e.commit(ctx, e.data.AppendOutbox(m)); err != nil {
		return ledger.OutboxMessage{}, err
	}
	return m, nil
}

func (e *Engine) MarkMessageSent(ctx context.Context, id ledger.MessageID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := e.data.MarkOutboxSent(id, e.now().UTC())
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

// =============================================================================
// BACKUP / RESTORE
// =============================================================================

// ExportBackup serializes the current dataset. Read-only; may run
// concurrently with other reads.
func (e *Engine) ExportBackup() backup.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backup.Export(e.data)
}

// SaveBackup exports and persists a snapshot, returning its key.
func (e *Engine) SaveBackup(ctx context.Context) (string, error) {
	e.mu.RLock()
	doc := e.backup.Export(e.data)
	e.mu.RUnlock()
	return e.backup.SaveExport(ctx, doc)
}

// RestoreBackup runs the full restore protocol under the write lock:
// no read or write overlaps the Replacing step, and the operation is
// not cancellable once it begins.
func (e *Engine) RestoreBackup(ctx context.Context, raw []byte) (*backup.RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.backup.Restore(ctx, e.data, raw)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, result.Data); err != nil {
		return nil, err
	}
	return result, nil
}

// BackupHistory lists snapshots under the read lock, so a listing never
// observes a restore mid-Replacing.
func (e *Engine) BackupHistory(ctx context.Context) ([]backup.SnapshotInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backup.History(ctx)
}

// PruneBackups keeps the most recent keep snapshots of each kind. It
// takes the write lock: a prune racing a restore could otherwise delete
// the safety snapshot the restore just wrote.
func (e *Engine) PruneBackups(ctx context.Context, keep int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	removedSafety, err := e.backup.Prune(ctx, backup.SafetyPrefix, keep)
	if err != nil {
		return removedSafety, err
	}
	removedExports, err := e.backup.Prune(ctx, backup.SnapshotPrefix, keep)
	return removedSafety + removedExports, err
}
