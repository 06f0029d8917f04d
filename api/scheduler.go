/*
scheduler.go - Periodic due-processing trigger

PURPOSE:
  Periodically invokes the engine's due processing for every owner with
  recurring definitions, and records each run for audit and UI display.
  This is the externally-owned timer the engine itself deliberately lacks:
  the engine holds no background task state and runs to completion
  synchronously whenever invoked.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Fans out across owners with bounded parallelism (safe: the
    uniqueness invariant is scoped per definition and occurrence date)
  - A failed owner is recorded and does not block the others
  - Re-running is always safe; due processing is idempotent

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - MaxParallel:   Owner-level fan-out bound (default: 4)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewProcessScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessDue endpoint (manual trigger)
  - recurrence/engine.go: The processing algorithm
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
	"github.com/Nicolas-Jorq/budget-app-sub003/store/sqlite"
)

// ProcessScheduler periodically triggers due processing per owner.
type ProcessScheduler struct {
	Store         *sqlite.Store
	Engine        *recurrence.Engine
	CheckInterval time.Duration
	MaxParallel   int
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewProcessScheduler creates a new scheduler.
func NewProcessScheduler(store *sqlite.Store, handler *Handler) *ProcessScheduler {
	return &ProcessScheduler{
		Store:         store,
		Engine:        handler.Engine,
		CheckInterval: 1 * time.Hour,
		MaxParallel:   4,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ps *ProcessScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Scheduler] Started with check interval: %v", ps.CheckInterval)
}

// Stop stops the scheduler.
func (ps *ProcessScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *ProcessScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.checkAndProcess()

	for {
		select {
		case <-ps.ticker.C:
			ps.checkAndProcess()
		case <-ps.stop:
			return
		}
	}
}

func (ps *ProcessScheduler) checkAndProcess() {
	ctx := context.Background()
	asOf := recurrence.Today()

	owners, err := ps.Store.ListOwners(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing owners: %v", err)
		return
	}
	if len(owners) == 0 {
		return
	}

	log.Printf("[Scheduler] Processing %d owners as of %s", len(owners), asOf)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ps.MaxParallel)

	var (
		mu        sync.Mutex
		generated int
		advanced  int
	)

	for _, owner := range owners {
		owner := owner
		g.Go(func() error {
			result, err := ps.processOwner(gctx, owner, asOf)
			if err != nil {
				// Recorded in the run; the batch continues.
				log.Printf("[Scheduler] Error processing owner %s: %v", owner, err)
				return nil
			}
			mu.Lock()
			generated += len(result.Generated)
			advanced += result.DefinitionsAdvanced
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if generated > 0 || advanced > 0 {
		log.Printf("[Scheduler] Completed: %d transactions generated, %d definitions advanced", generated, advanced)
	}
}

func (ps *ProcessScheduler) processOwner(ctx context.Context, owner recurrence.OwnerID, asOf recurrence.Date) (*recurrence.ProcessResult, error) {
	startTime := time.Now()
	run := sqlite.ProcessingRun{
		ID:        uuid.NewString(),
		OwnerID:   string(owner),
		AsOf:      asOf.Time,
		Status:    "running",
		StartedAt: &startTime,
		CreatedAt: startTime,
	}
	if err := ps.Store.SaveProcessingRun(ctx, run); err != nil {
		return nil, err
	}

	result, err := ps.Engine.ProcessDue(ctx, owner, asOf)
	completedTime := time.Now()
	run.CompletedAt = &completedTime

	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		ps.Store.SaveProcessingRun(ctx, run)
		return nil, err
	}

	run.Status = "completed"
	run.Generated = len(result.Generated)
	run.Advanced = result.DefinitionsAdvanced
	run.Failed = len(result.Failed)
	if err := ps.Store.SaveProcessingRun(ctx, run); err != nil {
		return nil, err
	}
	return result, nil
}

// RunNow triggers an immediate check (for testing/admin).
func (ps *ProcessScheduler) RunNow() {
	ps.checkAndProcess()
}
