package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDefinition(id recurrence.DefinitionID, owner recurrence.OwnerID) recurrence.Definition {
	start := recurrence.NewDate(2024, time.January, 15)
	return recurrence.Definition{
		ID:             id,
		OwnerID:        owner,
		Amount:         decimal.RequireFromString("1200.50"),
		Category:       "housing",
		Description:    "rent",
		Type:           recurrence.FlowExpense,
		Frequency:      recurrence.FreqMonthly,
		Interval:       1,
		StartDate:      start,
		NextOccurrence: start,
		Status:         recurrence.StatusActive,
		CreatedAt:      start,
		UpdatedAt:      start,
	}
}

func testTransaction(id recurrence.TransactionID, defID recurrence.DefinitionID, owner recurrence.OwnerID, occurrence recurrence.Date) recurrence.GeneratedTransaction {
	return recurrence.GeneratedTransaction{
		ID:                 id,
		OwnerID:            owner,
		Amount:             decimal.RequireFromString("1200.50"),
		Category:           "housing",
		Description:        "rent",
		Type:               recurrence.FlowExpense,
		SourceDefinitionID: defID,
		OccurrenceDate:     occurrence,
		CreatedAt:          occurrence,
	}
}

// =============================================================================
// DEFINITION PERSISTENCE
// =============================================================================

func TestSaveAndGetDefinition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	end := recurrence.NewDate(2025, time.January, 15)
	def := testDefinition("def-1", "user-1")
	def.EndDate = &end

	require.NoError(t, store.SaveDefinition(ctx, def))

	got, err := store.GetDefinition(ctx, "def-1", "user-1")
	require.NoError(t, err)

	assert.Equal(t, def.ID, got.ID)
	assert.Equal(t, def.OwnerID, got.OwnerID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1200.50")))
	assert.Equal(t, "housing", got.Category)
	assert.Equal(t, recurrence.FreqMonthly, got.Frequency)
	assert.Equal(t, 1, got.Interval)
	assert.True(t, got.StartDate.Equal(def.StartDate))
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.Equal(t, recurrence.StatusActive, got.Status)
}

func TestSaveDefinition_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := testDefinition("def-1", "user-1")
	require.NoError(t, store.SaveDefinition(ctx, def))

	def.NextOccurrence = recurrence.NewDate(2024, time.February, 15)
	def.OccurrenceCount = 1
	def.Status = recurrence.StatusPaused
	require.NoError(t, store.SaveDefinition(ctx, def))

	got, err := store.GetDefinition(ctx, "def-1", "user-1")
	require.NoError(t, err)
	assert.True(t, got.NextOccurrence.Equal(recurrence.NewDate(2024, time.February, 15)))
	assert.Equal(t, 1, got.OccurrenceCount)
	assert.Equal(t, recurrence.StatusPaused, got.Status)

	defs, err := store.ListDefinitions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, defs, 1, "upsert must not duplicate the row")
}

func TestGetDefinition_OwnershipScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDefinition(ctx, testDefinition("def-1", "user-1")))

	// Foreign owners see not-found, indistinguishable from absence.
	_, err := store.GetDefinition(ctx, "def-1", "user-2")
	assert.ErrorIs(t, err, recurrence.ErrNotFound)

	_, err = store.GetDefinition(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, recurrence.ErrNotFound)
}

func TestLoadActiveDueBy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	due := testDefinition("def-due", "user-1")
	due.NextOccurrence = recurrence.NewDate(2024, time.March, 1)

	future := testDefinition("def-future", "user-1")
	future.NextOccurrence = recurrence.NewDate(2024, time.June, 1)

	paused := testDefinition("def-paused", "user-1")
	paused.NextOccurrence = recurrence.NewDate(2024, time.January, 1)
	paused.Status = recurrence.StatusPaused

	foreign := testDefinition("def-foreign", "user-2")
	foreign.NextOccurrence = recurrence.NewDate(2024, time.January, 1)

	onBoundary := testDefinition("def-boundary", "user-1")
	onBoundary.NextOccurrence = recurrence.NewDate(2024, time.April, 1)

	for _, def := range []recurrence.Definition{due, future, paused, foreign, onBoundary} {
		require.NoError(t, store.SaveDefinition(ctx, def))
	}

	got, err := store.LoadActiveDueBy(ctx, "user-1", recurrence.NewDate(2024, time.April, 1))
	require.NoError(t, err)

	require.Len(t, got, 2)
	// Ordered by cursor, earliest first.
	assert.Equal(t, recurrence.DefinitionID("def-due"), got[0].ID)
	assert.Equal(t, recurrence.DefinitionID("def-boundary"), got[1].ID, "asOf is inclusive")
}

func TestDeleteDefinition_KeepsTransactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := testDefinition("def-1", "user-1")
	require.NoError(t, store.SaveDefinition(ctx, def))
	require.NoError(t, store.InsertTransaction(ctx,
		testTransaction("tx-1", def.ID, def.OwnerID, def.StartDate)))

	require.NoError(t, store.DeleteDefinition(ctx, "def-1", "user-1"))

	_, err := store.GetDefinition(ctx, "def-1", "user-1")
	assert.ErrorIs(t, err, recurrence.ErrNotFound)

	txs, err := store.ListTransactions(ctx, "user-1", "def-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "historical transactions survive definition deletion")
}

func TestDeleteDefinition_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteDefinition(context.Background(), "missing", "user-1")
	assert.ErrorIs(t, err, recurrence.ErrNotFound)
}

// =============================================================================
// TRANSACTION PERSISTENCE
// =============================================================================

func TestInsertTransaction_UniqueOccurrence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	occurrence := recurrence.NewDate(2024, time.January, 15)
	require.NoError(t, store.InsertTransaction(ctx,
		testTransaction("tx-1", "def-1", "user-1", occurrence)))

	// Same definition and occurrence date, different transaction id.
	err := store.InsertTransaction(ctx,
		testTransaction("tx-2", "def-1", "user-1", occurrence))
	assert.ErrorIs(t, err, recurrence.ErrDuplicateOccurrence)

	// Different occurrence date is fine.
	require.NoError(t, store.InsertTransaction(ctx,
		testTransaction("tx-3", "def-1", "user-1", recurrence.NewDate(2024, time.February, 15))))

	// Same occurrence date under a different definition is fine.
	require.NoError(t, store.InsertTransaction(ctx,
		testTransaction("tx-4", "def-2", "user-1", occurrence)))
}

func TestTransactionExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	occurrence := recurrence.NewDate(2024, time.January, 15)

	exists, err := store.TransactionExists(ctx, "def-1", occurrence)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.InsertTransaction(ctx,
		testTransaction("tx-1", "def-1", "user-1", occurrence)))

	exists, err = store.TransactionExists(ctx, "def-1", occurrence)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListTransactions_ChronologicalOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Insert out of order.
	dates := []recurrence.Date{
		recurrence.NewDate(2024, time.March, 15),
		recurrence.NewDate(2024, time.January, 15),
		recurrence.NewDate(2024, time.February, 15),
	}
	for _, d := range dates {
		require.NoError(t, store.InsertTransaction(ctx,
			testTransaction(recurrence.TransactionID(d.String()), "def-1", "user-1", d)))
	}

	txs, err := store.ListTransactions(ctx, "user-1", "def-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.True(t, txs[0].OccurrenceDate.Equal(recurrence.NewDate(2024, time.January, 15)))
	assert.True(t, txs[1].OccurrenceDate.Equal(recurrence.NewDate(2024, time.February, 15)))
	assert.True(t, txs[2].OccurrenceDate.Equal(recurrence.NewDate(2024, time.March, 15)))
}

func TestListOwners(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveDefinition(ctx, testDefinition("def-1", "user-b")))
	require.NoError(t, store.SaveDefinition(ctx, testDefinition("def-2", "user-a")))
	require.NoError(t, store.SaveDefinition(ctx, testDefinition("def-3", "user-a")))

	owners, err := store.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []recurrence.OwnerID{"user-a", "user-b"}, owners)
}

// =============================================================================
// TRANSACTIONAL UNITS
// =============================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s recurrence.Store) error {
		if err := s.SaveDefinition(ctx, testDefinition("def-1", "user-1")); err != nil {
			return err
		}
		return s.InsertTransaction(ctx,
			testTransaction("tx-1", "def-1", "user-1", recurrence.NewDate(2024, time.January, 15)))
	})
	require.NoError(t, err)

	_, err = store.GetDefinition(ctx, "def-1", "user-1")
	assert.NoError(t, err)
	exists, err := store.TransactionExists(ctx, "def-1", recurrence.NewDate(2024, time.January, 15))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s recurrence.Store) error {
		if err := s.SaveDefinition(ctx, testDefinition("def-1", "user-1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetDefinition(ctx, "def-1", "user-1")
	assert.ErrorIs(t, err, recurrence.ErrNotFound, "failed unit must leave no trace")
}

func TestWithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s recurrence.Store) error {
		if err := s.SaveDefinition(ctx, testDefinition("def-1", "user-1")); err != nil {
			return err
		}
		def, err := s.GetDefinition(ctx, "def-1", "user-1")
		if err != nil {
			return err
		}
		def.OccurrenceCount = 7
		return s.SaveDefinition(ctx, *def)
	})
	require.NoError(t, err)

	got, err := store.GetDefinition(ctx, "def-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.OccurrenceCount)
}

// =============================================================================
// PROCESSING RUNS
// =============================================================================

func TestProcessingRuns_SaveAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, time.June, 1, 3, 0, 0, 0, time.UTC)
	run := ProcessingRun{
		ID:        "run-1",
		OwnerID:   "user-1",
		AsOf:      started,
		Status:    "running",
		StartedAt: &started,
		CreatedAt: started,
	}
	require.NoError(t, store.SaveProcessingRun(ctx, run))

	// Complete the run via upsert.
	completed := started.Add(2 * time.Second)
	run.Status = "completed"
	run.Generated = 3
	run.Advanced = 2
	run.CompletedAt = &completed
	require.NoError(t, store.SaveProcessingRun(ctx, run))

	runs, err := store.ListProcessingRuns(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 3, runs[0].Generated)
	assert.Equal(t, 2, runs[0].Advanced)
	require.NotNil(t, runs[0].CompletedAt)
	assert.True(t, runs[0].CompletedAt.Equal(completed))
}

func TestProcessingRuns_ScopedToOwnerWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, time.June, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := ProcessingRun{
			ID:        "run-" + string(rune('a'+i)),
			OwnerID:   "user-1",
			AsOf:      base,
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.SaveProcessingRun(ctx, run))
	}
	require.NoError(t, store.SaveProcessingRun(ctx, ProcessingRun{
		ID: "other", OwnerID: "user-2", AsOf: base, Status: "completed", CreatedAt: base,
	}))

	runs, err := store.ListProcessingRuns(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, run := range runs {
		assert.Equal(t, "user-1", run.OwnerID)
	}
	// Most recent first.
	assert.Equal(t, "run-e", runs[0].ID)
}

// =============================================================================
// ENGINE INTEGRATION - The full loop against real SQL
// =============================================================================

func TestEngineAgainstSQLite_IdempotentCatchUp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	engine := recurrence.NewEngine(store)
	engine.Clock = func() recurrence.Date { return recurrence.NewDate(2024, time.June, 1) }

	def, err := engine.Create(ctx, "user-1", recurrence.Template{
		Amount:    decimal.NewFromInt(1200),
		Category:  "housing",
		Type:      recurrence.FlowExpense,
		Frequency: recurrence.FreqMonthly,
		Interval:  1,
		StartDate: recurrence.NewDate(2024, time.January, 15),
	})
	require.NoError(t, err)

	asOf := recurrence.NewDate(2024, time.April, 20)
	first, err := engine.ProcessDue(ctx, "user-1", asOf)
	require.NoError(t, err)
	assert.Len(t, first.Generated, 4)

	second, err := engine.ProcessDue(ctx, "user-1", asOf)
	require.NoError(t, err)
	assert.Empty(t, second.Generated)

	got, err := store.GetDefinition(ctx, def.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, got.NextOccurrence.Equal(recurrence.NewDate(2024, time.May, 15)))
	assert.Equal(t, 4, got.OccurrenceCount)
}
