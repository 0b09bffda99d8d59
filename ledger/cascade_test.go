package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// CATEGORY CASCADE
// =============================================================================

func TestDeleteCategory_ExclusiveSubcategoryRemoved(t *testing.T) {
	// GIVEN: sub-1 belongs exclusively to cat-1
	// WHEN:  cat-1 is deleted
	// THEN:  sub-1 is gone too - no dangling empty-set subcategory

	data := ledger.Empty().
		AddCategory(ledger.Category{ID: "cat-1", Name: "Masonry"}).
		AddSubcategory(ledger.Subcategory{ID: "sub-1", Name: "Brickwork", CategoryIDs: []ledger.CategoryID{"cat-1"}})

	next, err := data.DeleteCategory("cat-1")
	require.NoError(t, err)

	assert.Empty(t, next.Categories)
	assert.Empty(t, next.Subcategories)
}

func TestDeleteCategory_SharedSubcategoryKeepsOtherAssociation(t *testing.T) {
	// GIVEN: sub-1 belongs to cat-1 and cat-2
	// WHEN:  cat-1 is deleted
	// THEN:  sub-1 survives with only cat-2

	data := ledger.Empty().
		AddCategory(ledger.Category{ID: "cat-1", Name: "Masonry"}).
		AddCategory(ledger.Category{ID: "cat-2", Name: "Painting"}).
		AddSubcategory(ledger.Subcategory{ID: "sub-1", Name: "Finishing", CategoryIDs: []ledger.CategoryID{"cat-1", "cat-2"}})

	next, err := data.DeleteCategory("cat-1")
	require.NoError(t, err)

	require.Len(t, next.Subcategories, 1)
	assert.Equal(t, []ledger.CategoryID{"cat-2"}, next.Subcategories[0].CategoryIDs)
	require.Len(t, next.Categories, 1)
	assert.Equal(t, ledger.CategoryID("cat-2"), next.Categories[0].ID)
}

func TestDeleteCategory_IsAtomicWithinOneCall(t *testing.T) {
	// The two phases never leak: either both applied (new value) or
	// neither (original value untouched).

	data := ledger.Empty().
		AddCategory(ledger.Category{ID: "cat-1", Name: "Masonry"}).
		AddSubcategory(ledger.Subcategory{ID: "sub-1", Name: "Brickwork", CategoryIDs: []ledger.CategoryID{"cat-1"}})

	next, err := data.DeleteCategory("cat-1")
	require.NoError(t, err)

	// Original untouched by the cascade.
	require.Len(t, data.Categories, 1)
	require.Len(t, data.Subcategories, 1)
	assert.Equal(t, []ledger.CategoryID{"cat-1"}, data.Subcategories[0].CategoryIDs)

	assert.Empty(t, next.Categories)
	assert.Empty(t, next.Subcategories)
}

func TestDeleteCategory_Unknown(t *testing.T) {
	_, err := ledger.Empty().DeleteCategory("ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// WORKER CASCADE
// =============================================================================

func workerFixture() ledger.AppData {
	return ledger.Empty().
		AddWorker(workerWithOpening("w-1", 100)).
		AddWorker(workerWithOpening("w-2", 100)).
		AddEntry(categoryEntry("e-1", "w-1", ledger.NewDate(2025, time.May, 1), ledger.StatusPresent, 100)).
		AddEntry(categoryEntry("e-2", "w-2", ledger.NewDate(2025, time.May, 1), ledger.StatusPresent, 100)).
		AddPayment(payment("p-1", "w-1", ledger.NewDate(2025, time.May, 2), 50)).
		AppendOutbox(ledger.OutboxMessage{ID: "m-1", WorkerID: "w-1", Status: ledger.MessagePending})
}

func TestOrphanReport(t *testing.T) {
	report := workerFixture().OrphanReport("w-1")
	assert.Equal(t, []ledger.EntryID{"e-1"}, report.Entries)
	assert.Equal(t, []ledger.PaymentID{"p-1"}, report.Payments)
	assert.Equal(t, []ledger.MessageID{"m-1"}, report.Messages)
	assert.False(t, report.Empty())

	assert.True(t, workerFixture().OrphanReport("w-ghost").Empty())
}

func TestDeleteWorkerCascade(t *testing.T) {
	// WHEN: w-1 is deleted
	// THEN: no entry, payment, or message referencing w-1 survives

	next, err := workerFixture().DeleteWorkerCascade("w-1")
	require.NoError(t, err)

	require.Len(t, next.Workers, 1)
	assert.Equal(t, ledger.WorkerID("w-2"), next.Workers[0].ID)

	assert.True(t, next.OrphanReport("w-1").Empty(), "cascade must leave no orphans")
	require.Len(t, next.Entries, 1)
	assert.Equal(t, ledger.WorkerID("w-2"), next.Entries[0].WorkerID)
	assert.Empty(t, next.Payments)
	assert.Empty(t, next.Outbox)
}

func TestDeleteWorkerCascade_Unknown(t *testing.T) {
	_, err := workerFixture().DeleteWorkerCascade("ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
