/*
Package recurrence provides the core recurring-transaction engine.

PURPOSE:
  This package contains the types and algorithms for managing recurring
  financial transactions: user-defined templates ("rent, $1200, monthly")
  that deterministically generate concrete transaction records on or after
  their scheduled occurrence dates.

KEY CONCEPTS IN THIS FILE (types.go):
  - Definition: A recurring template with its scheduling cursor
  - GeneratedTransaction: A concrete transaction materialized from a template
  - Frequency/Status: Enumerated scheduling and lifecycle states
  - Definition/Owner/Transaction IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Determinism: The same definition and clock always produce the same
     transactions, in the same order
  2. Idempotence: At most one GeneratedTransaction exists per
     (definition, occurrence date) pair, no matter how often or how
     concurrently due-processing runs
  3. Precision: Uses decimal.Decimal to avoid floating-point errors
  4. Type Safety: Strong typing for IDs prevents mixing definition/owner IDs

USAGE:
  def := recurrence.Definition{
      OwnerID:   "user-123",
      Amount:    decimal.NewFromInt(1200),
      Category:  "housing",
      Type:      recurrence.FlowExpense,
      Frequency: recurrence.FreqMonthly,
      Interval:  1,
  }

SEE ALSO:
  - policy.go: Next-occurrence computation
  - engine.go: Lifecycle operations and due processing
  - projector.go: Forecasting upcoming occurrences
*/
package recurrence

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DefinitionID string
type OwnerID string
type TransactionID string

// =============================================================================
// FREQUENCY - How often a definition recurs
// =============================================================================

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// Valid reports whether f is a recognized frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

// =============================================================================
// FLOW TYPE - Direction of the money movement
// =============================================================================

type FlowType string

const (
	FlowExpense FlowType = "expense"
	FlowIncome  FlowType = "income"
)

func (ft FlowType) Valid() bool {
	return ft == FlowExpense || ft == FlowIncome
}

// =============================================================================
// STATUS - Definition lifecycle state machine
// =============================================================================

// Status is the lifecycle state of a definition.
//
// Transitions form a small finite state machine:
//
//	active  -> paused     (user pauses)
//	paused  -> active     (user resumes)
//	active  -> exhausted  (cursor reached the end date)
//	paused  -> exhausted  (end date moved before cursor)
//
// Exhausted is terminal. Only active definitions are eligible for
// due-processing.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusExhausted Status = "exhausted"
)

var statusTransitions = map[Status][]Status{
	StatusActive:    {StatusPaused, StatusExhausted},
	StatusPaused:    {StatusActive, StatusExhausted},
	StatusExhausted: {},
}

// CanTransitionTo reports whether moving from s to target is a valid
// lifecycle transition.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range statusTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// =============================================================================
// DEFINITION - Recurring transaction template with scheduling cursor
// =============================================================================

// Definition is a recurring transaction template owned by a single user.
//
// INVARIANTS:
//   - NextOccurrence >= StartDate
//   - If EndDate is set, no occurrence is generated on or after it; the
//     definition is exhausted once NextOccurrence >= EndDate
//   - OccurrenceCount is monotonically non-decreasing
//   - StartDate is immutable after creation
type Definition struct {
	ID      DefinitionID
	OwnerID OwnerID

	// Template payload copied onto every generated transaction.
	Amount      decimal.Decimal
	Category    string
	Description string
	Type        FlowType

	// Schedule.
	Frequency Frequency
	Interval  int
	StartDate Date
	EndDate   *Date

	// Cursor: the next date for which a transaction has not yet been
	// generated. Mutated only by the engine's advance step or SkipNext.
	NextOccurrence Date

	Status          Status
	OccurrenceCount int

	CreatedAt Date
	UpdatedAt Date
}

// ExhaustedBy reports whether a cursor at next leaves no occurrences:
// the end date is exclusive, nothing occurs on or after it.
func (d *Definition) ExhaustedBy(next Date) bool {
	return d.EndDate != nil && next.AfterOrEqual(*d.EndDate)
}

// =============================================================================
// GENERATED TRANSACTION - Concrete record materialized from a definition
// =============================================================================

// GeneratedTransaction is a concrete transaction produced by due
// processing. SourceDefinitionID is a back-reference, not an ownership
// link: deleting the definition leaves its generated transactions intact
// as historical financial records.
//
// INVARIANT: at most one GeneratedTransaction exists for a given
// (SourceDefinitionID, OccurrenceDate) pair.
type GeneratedTransaction struct {
	ID      TransactionID
	OwnerID OwnerID

	Amount      decimal.Decimal
	Category    string
	Description string
	Type        FlowType

	SourceDefinitionID DefinitionID
	// OccurrenceDate is the scheduled date this transaction fulfills,
	// which may be earlier than the date it was generated on (catch-up).
	OccurrenceDate Date

	CreatedAt Date
}
