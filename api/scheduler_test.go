package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
	"github.com/Nicolas-Jorq/budget-app-sub003/store/sqlite"
)

func newSchedulerFixture(t *testing.T) (*ProcessScheduler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := NewHandler(store)
	sched := NewProcessScheduler(store, handler)
	return sched, store
}

func seedDefinition(t *testing.T, store *sqlite.Store, owner recurrence.OwnerID, start recurrence.Date) *recurrence.Definition {
	t.Helper()
	engine := recurrence.NewEngine(store)
	def, err := engine.Create(context.Background(), owner, recurrence.Template{
		Amount:    decimal.NewFromInt(100),
		Category:  "subscriptions",
		Type:      recurrence.FlowExpense,
		Frequency: recurrence.FreqMonthly,
		Interval:  1,
		StartDate: start,
	})
	if err != nil {
		t.Fatalf("Failed to create definition: %v", err)
	}
	return def
}

func TestScheduler_RunNowProcessesAllOwners(t *testing.T) {
	sched, store := newSchedulerFixture(t)
	ctx := context.Background()

	past := recurrence.Today().AddDays(-45)
	defA := seedDefinition(t, store, "user-a", past)
	defB := seedDefinition(t, store, "user-b", past)

	sched.RunNow()

	// Both owners caught up: at least the start occurrence plus one month.
	for _, tc := range []struct {
		owner recurrence.OwnerID
		defID recurrence.DefinitionID
	}{
		{"user-a", defA.ID},
		{"user-b", defB.ID},
	} {
		txs, err := store.ListTransactions(ctx, tc.owner, tc.defID)
		if err != nil {
			t.Fatalf("Failed to list transactions: %v", err)
		}
		if len(txs) < 2 {
			t.Errorf("Owner %s: expected at least 2 transactions, got %d", tc.owner, len(txs))
		}
	}
}

func TestScheduler_RecordsCompletedRun(t *testing.T) {
	sched, store := newSchedulerFixture(t)
	ctx := context.Background()

	seedDefinition(t, store, "user-a", recurrence.Today().AddDays(-10))

	sched.RunNow()

	runs, err := store.ListProcessingRuns(ctx, "user-a", 10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run record, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != "completed" {
		t.Errorf("Expected status completed, got %s", run.Status)
	}
	if run.Generated == 0 {
		t.Error("Expected a non-zero generated count")
	}
	if run.StartedAt == nil || run.CompletedAt == nil {
		t.Error("Expected start and completion timestamps")
	}
}

func TestScheduler_RunNowIsIdempotent(t *testing.T) {
	sched, store := newSchedulerFixture(t)
	ctx := context.Background()

	def := seedDefinition(t, store, "user-a", recurrence.Today().AddDays(-40))

	sched.RunNow()
	first, err := store.ListTransactions(ctx, "user-a", def.ID)
	if err != nil {
		t.Fatalf("Failed to list transactions: %v", err)
	}

	sched.RunNow()
	second, err := store.ListTransactions(ctx, "user-a", def.ID)
	if err != nil {
		t.Fatalf("Failed to list transactions: %v", err)
	}

	if len(second) != len(first) {
		t.Errorf("Second run changed transaction count: %d -> %d", len(first), len(second))
	}

	// Each run leaves its own audit record.
	runs, err := store.ListProcessingRuns(ctx, "user-a", 10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 run records, got %d", len(runs))
	}
}

func TestScheduler_StartRespectsEnabledFlag(t *testing.T) {
	sched, _ := newSchedulerFixture(t)
	sched.Enabled = false
	sched.CheckInterval = 10 * time.Millisecond

	// Start must be a no-op; Stop after a disabled Start must not block
	// or panic.
	sched.Start()
	sched.Stop()
}
