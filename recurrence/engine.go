/*
engine.go - Definition lifecycle and due processing

PURPOSE:
  The Engine owns the lifecycle of recurring definitions: creation,
  update, skip, deletion, and the due-processing algorithm that walks
  each active definition forward in time and materializes transactions.

DUE PROCESSING:
  ProcessDue loads every active definition whose cursor is at or before
  asOf, then advances each one inside its own atomic unit:

    while NextOccurrence <= asOf and status is active:
      1. If a transaction already exists for (id, NextOccurrence), skip
         generation but still advance the cursor (safe re-run)
      2. Otherwise generate one transaction for NextOccurrence
      3. Advance the cursor via the recurrence policy
      4. If the cursor reached EndDate, mark exhausted and stop

  A monthly bill unprocessed for three months generates three
  transactions, in chronological order. Re-invoking with the same or a
  later asOf never duplicates an occurrence: the existence check plus the
  storage-level unique constraint make the operation idempotent under
  concurrent invocation.

FAILURE ISOLATION:
  A definition with a malformed policy is rolled back, recorded in the
  result, and skipped; one bad definition cannot block the rest of the
  batch. Storage failures propagate to the caller for retry.

SEE ALSO:
  - policy.go: Cursor advancement
  - store.go: Atomicity contract (WithTx)
  - projector.go: Read-only forecasting
*/
package recurrence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine coordinates definition lifecycle operations against a TxStore.
// It holds no background task state; due processing runs synchronously
// when invoked.
type Engine struct {
	Store TxStore

	// Clock returns the current calendar date. Defaults to Today.
	Clock func() Date

	// NewID generates identifiers. Defaults to uuid.NewString.
	NewID func() string
}

// NewEngine creates an engine with the default clock and id generator.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store: store,
		Clock: Today,
		NewID: uuid.NewString,
	}
}

func (e *Engine) now() Date {
	if e.Clock != nil {
		return e.Clock()
	}
	return Today()
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// =============================================================================
// CREATE
// =============================================================================

// Template is the payload for creating a definition.
type Template struct {
	Amount      decimal.Decimal
	Category    string
	Description string
	Type        FlowType
	Frequency   Frequency
	Interval    int
	StartDate   Date
	EndDate     *Date
}

// Create validates and persists a new active definition with its cursor
// at StartDate. Nothing is persisted on a validation failure.
func (e *Engine) Create(ctx context.Context, owner OwnerID, tpl Template) (*Definition, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner_id", Message: "required"}
	}
	if tpl.Amount.IsZero() {
		return nil, &ValidationError{Field: "amount", Message: "must be non-zero"}
	}
	if !tpl.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: "must be expense or income"}
	}
	if !tpl.Frequency.Valid() {
		return nil, &ValidationError{Field: "frequency", Message: "must be daily, weekly, monthly or yearly"}
	}
	if tpl.Interval <= 0 {
		return nil, &ValidationError{Field: "interval", Message: "must be a positive integer"}
	}
	if tpl.StartDate.IsZero() {
		return nil, &ValidationError{Field: "start_date", Message: "required"}
	}
	if tpl.EndDate != nil && !tpl.EndDate.After(tpl.StartDate) {
		return nil, &ValidationError{Field: "end_date", Message: "must be strictly after start_date"}
	}

	now := e.now()
	def := Definition{
		ID:             DefinitionID(e.newID()),
		OwnerID:        owner,
		Amount:         tpl.Amount,
		Category:       tpl.Category,
		Description:    tpl.Description,
		Type:           tpl.Type,
		Frequency:      tpl.Frequency,
		Interval:       tpl.Interval,
		StartDate:      tpl.StartDate,
		EndDate:        tpl.EndDate,
		NextOccurrence: tpl.StartDate,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.Store.SaveDefinition(ctx, def); err != nil {
		return nil, err
	}
	return &def, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Patch is a partial update. Nil fields are left unchanged. StartDate and
// OccurrenceCount are deliberately absent: the first is immutable after
// creation (changing it means creating a new definition), the second is
// owned by due processing.
type Patch struct {
	Amount      *decimal.Decimal
	Category    *string
	Description *string
	Type        *FlowType
	Frequency   *Frequency
	Interval    *int
	EndDate     *Date
	ClearEnd    bool
	Status      *Status
}

// Update applies a patch to an owned definition.
//
// Changing Frequency or Interval takes effect on the next unprocessed
// occurrence: the cursor itself is never recomputed from StartDate, only
// the policy used to advance it going forward changes.
//
// A Status change must be a valid lifecycle transition (active <-> paused);
// moving an endDate before the current cursor exhausts the definition.
func (e *Engine) Update(ctx context.Context, id DefinitionID, owner OwnerID, patch Patch) (*Definition, error) {
	if patch.Amount != nil && patch.Amount.IsZero() {
		return nil, &ValidationError{Field: "amount", Message: "must be non-zero"}
	}
	if patch.Type != nil && !patch.Type.Valid() {
		return nil, &ValidationError{Field: "type", Message: "must be expense or income"}
	}
	if patch.Frequency != nil && !patch.Frequency.Valid() {
		return nil, &ValidationError{Field: "frequency", Message: "must be daily, weekly, monthly or yearly"}
	}
	if patch.Interval != nil && *patch.Interval <= 0 {
		return nil, &ValidationError{Field: "interval", Message: "must be a positive integer"}
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status"}
	}
	if patch.EndDate != nil && patch.ClearEnd {
		return nil, &ValidationError{Field: "end_date", Message: "cannot both set and clear"}
	}

	var updated *Definition
	err := e.Store.WithTx(ctx, func(s Store) error {
		def, err := s.GetDefinition(ctx, id, owner)
		if err != nil {
			return err
		}

		if patch.Amount != nil {
			def.Amount = *patch.Amount
		}
		if patch.Category != nil {
			def.Category = *patch.Category
		}
		if patch.Description != nil {
			def.Description = *patch.Description
		}
		if patch.Type != nil {
			def.Type = *patch.Type
		}
		if patch.Frequency != nil {
			def.Frequency = *patch.Frequency
		}
		if patch.Interval != nil {
			def.Interval = *patch.Interval
		}
		if patch.ClearEnd {
			def.EndDate = nil
		}
		if patch.EndDate != nil {
			if !patch.EndDate.After(def.StartDate) {
				return &ValidationError{Field: "end_date", Message: "must be strictly after start_date"}
			}
			end := *patch.EndDate
			def.EndDate = &end
		}
		if patch.Status != nil && *patch.Status != def.Status {
			if !def.Status.CanTransitionTo(*patch.Status) {
				return &ConflictError{DefinitionID: def.ID, Status: def.Status, Operation: "set status " + string(*patch.Status)}
			}
			def.Status = *patch.Status
		}

		// The cursor never rewinds; an end date moved before it means no
		// occurrences remain.
		if def.Status != StatusExhausted && def.ExhaustedBy(def.NextOccurrence) {
			def.Status = StatusExhausted
		}

		def.UpdatedAt = e.now()
		if err := s.SaveDefinition(ctx, *def); err != nil {
			return err
		}
		updated = def
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// SKIP
// =============================================================================

// SkipNext advances the cursor one occurrence without generating a
// transaction. OccurrenceCount is unchanged. Only active definitions can
// skip; if the advanced cursor reaches EndDate the definition exhausts.
func (e *Engine) SkipNext(ctx context.Context, id DefinitionID, owner OwnerID) (*Definition, error) {
	var updated *Definition
	err := e.Store.WithTx(ctx, func(s Store) error {
		def, err := s.GetDefinition(ctx, id, owner)
		if err != nil {
			return err
		}
		if def.Status != StatusActive {
			return &ConflictError{DefinitionID: def.ID, Status: def.Status, Operation: "skip"}
		}

		next, err := Next(def.NextOccurrence, def.Frequency, def.Interval)
		if err != nil {
			return err
		}
		def.NextOccurrence = next
		if def.ExhaustedBy(next) {
			def.Status = StatusExhausted
		}
		def.UpdatedAt = e.now()

		if err := s.SaveDefinition(ctx, *def); err != nil {
			return err
		}
		updated = def
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes a definition. Its generated transactions persist as
// historical records, losing only their forward-looking template.
func (e *Engine) Delete(ctx context.Context, id DefinitionID, owner OwnerID) error {
	return e.Store.DeleteDefinition(ctx, id, owner)
}

// =============================================================================
// DUE PROCESSING
// =============================================================================

// ProcessResult reports the outcome of one ProcessDue invocation.
type ProcessResult struct {
	// Generated lists the newly materialized transactions, in
	// chronological order per definition.
	Generated []GeneratedTransaction

	// DefinitionsAdvanced counts definitions whose cursor moved.
	DefinitionsAdvanced int

	// Failed lists definitions skipped because their policy could not be
	// evaluated. Their state is untouched.
	Failed []DefinitionFailure
}

// DefinitionFailure identifies a definition excluded from a batch.
type DefinitionFailure struct {
	DefinitionID DefinitionID
	Err          error
}

// ProcessDue materializes every occurrence at or before asOf for the
// owner's active definitions. Safe to invoke repeatedly with the same or
// a later asOf; never generates more than one transaction per
// (definition, occurrence date) pair regardless of how many times or how
// concurrently it runs. "Nothing due" is an empty result, not an error.
func (e *Engine) ProcessDue(ctx context.Context, owner OwnerID, asOf Date) (*ProcessResult, error) {
	if asOf.IsZero() {
		asOf = e.now()
	}

	due, err := e.Store.LoadActiveDueBy(ctx, owner, asOf)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{}
	for _, candidate := range due {
		if err := ValidatePolicy(candidate.Frequency, candidate.Interval); err != nil {
			result.Failed = append(result.Failed, DefinitionFailure{DefinitionID: candidate.ID, Err: err})
			continue
		}

		generated, advanced, err := e.advanceOne(ctx, owner, candidate.ID, asOf)
		if err != nil {
			// Storage failures propagate for retry; the definition's
			// state was rolled back.
			return nil, err
		}
		result.Generated = append(result.Generated, generated...)
		if advanced {
			result.DefinitionsAdvanced++
		}
	}
	return result, nil
}

// advanceOne walks a single definition forward inside one atomic unit.
// The definition is re-read inside the unit so two concurrent runs cannot
// both observe the same stale cursor.
func (e *Engine) advanceOne(ctx context.Context, owner OwnerID, id DefinitionID, asOf Date) ([]GeneratedTransaction, bool, error) {
	var (
		generated []GeneratedTransaction
		advanced  bool
	)

	err := e.Store.WithTx(ctx, func(s Store) error {
		def, err := s.GetDefinition(ctx, id, owner)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted between the due query and now.
				return nil
			}
			return err
		}
		// A concurrent run may already have advanced or exhausted it.
		if def.Status != StatusActive || def.NextOccurrence.After(asOf) {
			return nil
		}

		today := e.now()
		for def.Status == StatusActive && def.NextOccurrence.BeforeOrEqual(asOf) {
			exists, err := s.TransactionExists(ctx, def.ID, def.NextOccurrence)
			if err != nil {
				return err
			}
			if !exists {
				tx := materialize(def, def.NextOccurrence, TransactionID(e.newID()), today)
				if err := s.InsertTransaction(ctx, tx); err != nil {
					// Lost a race with a concurrent run on the unique
					// constraint: the occurrence is covered either way.
					if !errors.Is(err, ErrDuplicateOccurrence) {
						return err
					}
				} else {
					generated = append(generated, tx)
					def.OccurrenceCount++
				}
			}

			next, err := Next(def.NextOccurrence, def.Frequency, def.Interval)
			if err != nil {
				return err
			}
			def.NextOccurrence = next
			if def.ExhaustedBy(next) {
				def.Status = StatusExhausted
			}
		}

		def.UpdatedAt = today
		if err := s.SaveDefinition(ctx, *def); err != nil {
			return err
		}
		advanced = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return generated, advanced, nil
}

// materialize copies a definition's template payload onto a concrete
// transaction for one occurrence.
func materialize(def *Definition, occurrence Date, id TransactionID, createdAt Date) GeneratedTransaction {
	return GeneratedTransaction{
		ID:                 id,
		OwnerID:            def.OwnerID,
		Amount:             def.Amount,
		Category:           def.Category,
		Description:        def.Description,
		Type:               def.Type,
		SourceDefinitionID: def.ID,
		OccurrenceDate:     occurrence,
		CreatedAt:          createdAt,
	}
}
