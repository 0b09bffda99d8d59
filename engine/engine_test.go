package engine_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/backup"
	"github.com/warp/ledger-engine/engine"
	"github.com/warp/ledger-engine/kvstore"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/migrate"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*engine.Engine, kvstore.Store) {
	t.Helper()
	kv := kvstore.NewMemory()
	e, err := engine.Load(context.Background(), kv, nil)
	require.NoError(t, err)
	return e, kv
}

func date(t *testing.T, s string) ledger.Date {
	t.Helper()
	d, err := ledger.ParseDate(s)
	require.NoError(t, err)
	return d
}

// seedWorkspace creates one worker, a category, and a subcategory under
// it, returning all three.
func seedWorkspace(t *testing.T, e *engine.Engine, opening int64) (ledger.Worker, ledger.Category, ledger.Subcategory) {
	t.Helper()
	ctx := context.Background()

	w, err := e.AddWorker(ctx, "Ravi", "12 Canal Road", "+91-98000", decimal.NewFromInt(opening))
	require.NoError(t, err)
	c, err := e.AddCategory(ctx, "Masonry")
	require.NoError(t, err)
	s, err := e.AddSubcategory(ctx, "Brickwork", []ledger.CategoryID{c.ID})
	require.NoError(t, err)
	return w, c, s
}

// =============================================================================
// END TO END
// =============================================================================

func TestEngine_BalanceFlow(t *testing.T) {
	// GIVEN: a worker with opening balance 1000
	// WHEN:  a full-day category entry of 500, a half-day unit entry of
	//        10 x 40, an absent day, and a 300 payment are recorded
	// THEN:  the balance folds to 1000 + 500 + 200 - 300 = 1400

	e, _ := newTestEngine(t)
	ctx := context.Background()
	w, c, s := seedWorkspace(t, e, 1000)

	_, err := e.AddEntry(ctx, ledger.Entry{
		WorkerID: w.ID, Date: date(t, "2025-01-01"),
		Status: ledger.StatusPresent, WorkType: ledger.WorkCategoryBased,
		CategoryID: c.ID, SubcategoryID: s.ID,
		Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)

	unit, err := e.AddEntry(ctx, ledger.Entry{
		WorkerID: w.ID, Date: date(t, "2025-01-02"),
		Status: ledger.StatusHalf, WorkType: ledger.WorkUnitBased,
		WorkName: "Tiles", Units: decimal.NewFromInt(10), RatePerUnit: decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(unit.Amount), "unit amount derived from units x rate")

	absent, err := e.AddEntry(ctx, ledger.Entry{
		WorkerID: w.ID, Date: date(t, "2025-01-03"),
		Status: ledger.StatusAbsent,
		Amount: decimal.NewFromInt(999), // stale client value
	})
	require.NoError(t, err)
	assert.True(t, absent.Amount.IsZero(), "absent days carry no amount")

	_, err = e.AddPayment(ctx, ledger.Payment{
		WorkerID: w.ID, Date: date(t, "2025-01-04"),
		Amount: decimal.NewFromInt(300), PaymentType: "cash",
	})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(1400).Equal(e.Balance(w.ID)))

	records := e.WorkerLedger(w.ID)
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.True(t, last.BalanceAfter.Equal(e.Balance(w.ID)))

	att := e.Attendance(w.ID)
	assert.Equal(t, 1, att.Present)
	assert.Equal(t, 1, att.Half)
	assert.Equal(t, 1, att.Absent)
}

func TestEngine_StateSurvivesReload(t *testing.T) {
	e, kv := newTestEngine(t)
	w, _, _ := seedWorkspace(t, e, 1000)

	reloaded, err := engine.Load(context.Background(), kv, nil)
	require.NoError(t, err)

	got, err := reloaded.Worker(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ravi", got.Name)
	assert.True(t, decimal.NewFromInt(1000).Equal(got.OpeningBalance))
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestEngine_RejectionLeavesStateUntouched(t *testing.T) {
	// GIVEN: a worker with one entry on a date
	// WHEN:  a second entry on the same date is submitted
	// THEN:  the call is rejected and neither the live value nor the
	//        persisted blob changes

	e, kv := newTestEngine(t)
	ctx := context.Background()
	w, c, s := seedWorkspace(t, e, 0)

	entry := ledger.Entry{
		WorkerID: w.ID, Date: date(t, "2025-01-01"),
		Status: ledger.StatusPresent, WorkType: ledger.WorkCategoryBased,
		CategoryID: c.ID, SubcategoryID: s.ID,
		Amount: decimal.NewFromInt(500),
	}
	_, err := e.AddEntry(ctx, entry)
	require.NoError(t, err)

	before := e.Data()
	blobBefore, err := kv.Get(ctx, migrate.DataKey)
	require.NoError(t, err)

	_, err = e.AddEntry(ctx, entry)
	require.Error(t, err)
	assert.True(t, ledger.IsRejection(err))
	assert.Equal(t, ledger.DuplicateAttendance, ledger.ReasonOf(err))

	blobAfter, err := kv.Get(ctx, migrate.DataKey)
	require.NoError(t, err)
	assert.Equal(t, blobBefore, blobAfter)
	assert.Equal(t, before, e.Data())
}

func TestEngine_DuplicateWorkerNameRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedWorkspace(t, e, 0)

	_, err := e.AddWorker(ctx, "  RAVI ", "", "", decimal.Zero)
	require.Error(t, err)
	assert.Equal(t, ledger.DuplicateName, ledger.ReasonOf(err))
}

func TestEngine_OpeningBalanceImmutable(t *testing.T) {
	e, _ := newTestEngine(t)
	w, _, _ := seedWorkspace(t, e, 1000)

	w.Name = "Ravi K"
	w.OpeningBalance = decimal.NewFromInt(2000)
	err := e.UpdateWorker(context.Background(), w)
	assert.ErrorIs(t, err, ledger.ErrImmutableField)
}

// =============================================================================
// CASCADE
// =============================================================================

func TestEngine_DeleteWorkerCascades(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	w, c, s := seedWorkspace(t, e, 0)

	_, err := e.AddEntry(ctx, ledger.Entry{
		WorkerID: w.ID, Date: date(t, "2025-01-01"),
		Status: ledger.StatusPresent, WorkType: ledger.WorkCategoryBased,
		CategoryID: c.ID, SubcategoryID: s.ID, Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	_, err = e.AddPayment(ctx, ledger.Payment{
		WorkerID: w.ID, Date: date(t, "2025-01-02"),
		Amount: decimal.NewFromInt(100), PaymentType: "cash",
	})
	require.NoError(t, err)
	_, err = e.QueueMessage(ctx, w.ID, "settlement due", "sms")
	require.NoError(t, err)

	orphans := e.OrphanReport(w.ID)
	assert.Len(t, orphans.Entries, 1)
	assert.Len(t, orphans.Payments, 1)
	assert.Len(t, orphans.Messages, 1)

	require.NoError(t, e.DeleteWorker(ctx, w.ID))

	data := e.Data()
	assert.Empty(t, data.Workers)
	assert.Empty(t, data.Entries)
	assert.Empty(t, data.Payments)
	assert.Empty(t, data.Outbox)
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestEngine_QueueMessage(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	w, _, _ := seedWorkspace(t, e, 0)

	_, err := e.QueueMessage(ctx, "ghost", "hello", "sms")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	msg, err := e.QueueMessage(ctx, w.ID, "settlement due", "sms")
	require.NoError(t, err)
	assert.Equal(t, ledger.MessagePending, msg.Status)

	require.NoError(t, e.MarkMessageSent(ctx, msg.ID))
	data := e.Data()
	require.Len(t, data.Outbox, 1)
	assert.Equal(t, ledger.MessageSent, data.Outbox[0].Status)
	assert.NotNil(t, data.Outbox[0].SentAt)
}

// =============================================================================
// BACKUP / RESTORE
// =============================================================================

func TestEngine_RestoreReplacesLiveState(t *testing.T) {
	source, _ := newTestEngine(t)
	sw, _, _ := seedWorkspace(t, source, 500)
	raw, err := json.Marshal(source.ExportBackup())
	require.NoError(t, err)

	target, kv := newTestEngine(t)
	tw, _, _ := seedWorkspace(t, target, 9000)

	res, err := target.RestoreBackup(context.Background(), raw)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	// The source worker replaced the target's dataset wholesale.
	got, err := target.Worker(sw.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ravi", got.Name)
	_, err = target.Worker(tw.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Restored state is persisted, and the previous state sits in the
	// safety snapshot.
	reloaded, err := engine.Load(context.Background(), kv, nil)
	require.NoError(t, err)
	_, err = reloaded.Worker(sw.ID)
	assert.NoError(t, err)

	blob, err := kv.Get(context.Background(), res.SafetyKey)
	require.NoError(t, err)
	var safety backup.Document
	require.NoError(t, json.Unmarshal(blob, &safety))
	require.Len(t, safety.AppData.Workers, 1)
	assert.Equal(t, tw.ID, safety.AppData.Workers[0].ID)
}

func TestEngine_RestoreRejectsMalformedDocument(t *testing.T) {
	e, _ := newTestEngine(t)
	w, _, _ := seedWorkspace(t, e, 100)

	_, err := e.RestoreBackup(context.Background(), []byte(`{"version":"1.0"}`))
	assert.ErrorIs(t, err, backup.ErrMalformedBackup)

	// Live state untouched.
	_, err = e.Worker(w.ID)
	assert.NoError(t, err)
}

// haltingStore parks the first safety-snapshot write until released, so
// a test can hold a restore mid-protocol.
type haltingStore struct {
	kvstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *haltingStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.HasPrefix(key, backup.SafetyPrefix) {
		close(s.entered)
		<-s.release
	}
	return s.Store.Set(ctx, key, value)
}

func TestEngine_PruneWaitsForRestore(t *testing.T) {
	// GIVEN: a restore parked between writing its safety snapshot and
	//        replacing the live data
	// WHEN:  a prune with keep=0 is issued concurrently
	// THEN:  the prune blocks until the restore finishes instead of
	//        deleting the safety snapshot mid-protocol

	kv := &haltingStore{
		Store:   kvstore.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, err := engine.Load(context.Background(), kv, nil)
	require.NoError(t, err)
	_, err = e.AddWorker(context.Background(), "Ravi", "", "", decimal.NewFromInt(100))
	require.NoError(t, err)

	raw, err := json.Marshal(e.ExportBackup())
	require.NoError(t, err)

	var restoreDone atomic.Bool
	restoreErr := make(chan error, 1)
	go func() {
		_, rerr := e.RestoreBackup(context.Background(), raw)
		restoreDone.Store(true)
		restoreErr <- rerr
	}()
	<-kv.entered

	pruneDone := make(chan struct{})
	var restoreFinishedFirst bool
	go func() {
		_, _ = e.PruneBackups(context.Background(), 0)
		restoreFinishedFirst = restoreDone.Load()
		close(pruneDone)
	}()

	select {
	case <-pruneDone:
		t.Fatal("prune ran while a restore held the engine")
	case <-time.After(50 * time.Millisecond):
	}

	close(kv.release)
	require.NoError(t, <-restoreErr)
	<-pruneDone
	assert.True(t, restoreFinishedFirst, "prune returned before the restore completed")
}

func TestEngine_SaveAndPruneBackups(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedWorkspace(t, e, 100)

	for i := 0; i < 3; i++ {
		_, err := e.SaveBackup(ctx)
		require.NoError(t, err)
	}
	infos, err := e.BackupHistory(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)

	removed, err := e.PruneBackups(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	infos, err = e.BackupHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}
