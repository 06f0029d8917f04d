/*
store.go - Persistence interfaces for definitions and generated transactions

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  DefinitionStore:  Recurring template persistence and due queries
  TransactionStore: Generated transaction persistence and lookups
  Store:            Both of the above
  TxStore:          Store plus atomic units for per-definition advances

ATOMICITY CONTRACT:
  The engine's advance loop (read cursor, generate transaction, write
  advanced cursor) must be applied as a single unit relative to concurrent
  ProcessDue/SkipNext/Update calls on the same definition. Implementations
  provide this via WithTx: a database transaction (SQLite) or a
  whole-store lock with snapshot rollback (memory).

UNIQUENESS:
  InsertTransaction must reject a second transaction for the same
  (source definition, occurrence date) pair with ErrDuplicateOccurrence.
  Ideally enforced by a storage-level unique constraint; this is the
  second line of defense behind the engine's existence check.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - recurrence/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: The only writer through these interfaces
*/
package recurrence

import "context"

// =============================================================================
// DEFINITION STORE
// =============================================================================

// DefinitionStore persists recurring definitions and their cursors.
type DefinitionStore interface {
	// SaveDefinition inserts or updates a definition.
	SaveDefinition(ctx context.Context, def Definition) error

	// GetDefinition returns the definition with the given id if it is
	// owned by owner. Returns ErrNotFound otherwise; absence and foreign
	// ownership are indistinguishable.
	GetDefinition(ctx context.Context, id DefinitionID, owner OwnerID) (*Definition, error)

	// ListDefinitions returns all definitions for an owner, ordered by
	// creation.
	ListDefinitions(ctx context.Context, owner OwnerID) ([]Definition, error)

	// LoadActiveDueBy returns every active definition owned by owner with
	// NextOccurrence <= asOf, ordered by NextOccurrence.
	LoadActiveDueBy(ctx context.Context, owner OwnerID, asOf Date) ([]Definition, error)

	// DeleteDefinition removes a definition. Generated transactions are
	// NOT cascade-deleted; they remain as historical records. Returns
	// ErrNotFound if absent or not owned.
	DeleteDefinition(ctx context.Context, id DefinitionID, owner OwnerID) error

	// ListOwners returns the distinct owners that have definitions.
	// Used by the external periodic trigger to fan out due processing.
	ListOwners(ctx context.Context) ([]OwnerID, error)
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

// TransactionStore persists generated transactions.
type TransactionStore interface {
	// InsertTransaction appends a generated transaction. Returns
	// ErrDuplicateOccurrence if one already exists for the same
	// (SourceDefinitionID, OccurrenceDate) pair.
	InsertTransaction(ctx context.Context, tx GeneratedTransaction) error

	// TransactionExists checks whether a transaction exists for the
	// given (definition, occurrence date) pair.
	TransactionExists(ctx context.Context, id DefinitionID, occurrence Date) (bool, error)

	// ListTransactions returns the generated transactions for a
	// definition, ordered by occurrence date. Read-only projection.
	ListTransactions(ctx context.Context, owner OwnerID, id DefinitionID) ([]GeneratedTransaction, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

// Store combines definition and transaction persistence.
type Store interface {
	DefinitionStore
	TransactionStore
}

// TxStore wraps Store with atomic execution units.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error, every write
	// it performed is rolled back; partially advanced definition state is
	// never visible.
	WithTx(ctx context.Context, fn func(Store) error) error
}
