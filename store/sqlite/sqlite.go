/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements recurrence.TxStore using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  recurrence.DefinitionStore:  Recurring template persistence
  recurrence.TransactionStore: Generated transaction persistence
  recurrence.TxStore:          Atomic per-definition execution units

KEY TABLES:
  recurring_definitions:  Templates with their scheduling cursors
  generated_transactions: Concrete transactions materialized from templates
  processing_runs:        Audit records of scheduled due-processing runs

UNIQUENESS:
  idx_unique_occurrence enforces at most one generated transaction per
  (source_definition_id, occurrence_date). The engine's existence check is
  the first line of defense; this index is the second, and the one that
  holds under concurrent writers.

CONCURRENCY:
  Uses sync.Mutex around writes plus SQLite transactions for WithTx. With
  PostgreSQL, database-level concurrency control would handle this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time, better crash
  recovery.

USAGE:
  store, err := sqlite.New("./data/recurring.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := recurrence.NewEngine(store)

SEE ALSO:
  - recurrence/store.go: Interface definitions
  - recurrence/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
)

// Store implements recurrence.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Recurring templates with their scheduling cursors
	CREATE TABLE IF NOT EXISTS recurring_definitions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT,
		description TEXT,
		flow_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		interval INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		next_occurrence TEXT NOT NULL,
		status TEXT NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_definitions_owner
		ON recurring_definitions(owner_id);

	-- Due-processing hot path: active definitions with cursor <= asOf
	CREATE INDEX IF NOT EXISTS idx_definitions_due
		ON recurring_definitions(owner_id, status, next_occurrence);

	-- Concrete transactions materialized from templates.
	-- source_definition_id is a back-reference, NOT a foreign key:
	-- deleting a definition keeps its transactions as historical records.
	CREATE TABLE IF NOT EXISTS generated_transactions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		category TEXT,
		description TEXT,
		flow_type TEXT NOT NULL,
		source_definition_id TEXT NOT NULL,
		occurrence_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the idempotence guarantee. At most one generated
	-- transaction per (definition, occurrence date), even under
	-- concurrent due-processing runs.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_occurrence
		ON generated_transactions(source_definition_id, occurrence_date);

	CREATE INDEX IF NOT EXISTS idx_transactions_owner
		ON generated_transactions(owner_id);

	-- Audit records for scheduled due-processing runs
	CREATE TABLE IF NOT EXISTS processing_runs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		generated INTEGER DEFAULT 0,
		advanced INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processing_runs_owner
		ON processing_runs(owner_id);
	CREATE INDEX IF NOT EXISTS idx_processing_runs_status
		ON processing_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DEFINITION STORE (recurrence.DefinitionStore interface)
// =============================================================================

// SaveDefinition inserts or updates a definition.
func (s *Store) SaveDefinition(ctx context.Context, def recurrence.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return saveDefinition(ctx, s.db, def)
}

func saveDefinition(ctx context.Context, db execer, def recurrence.Definition) error {
	query := `
		INSERT INTO recurring_definitions
		(id, owner_id, amount, category, description, flow_type, frequency, interval,
		 start_date, end_date, next_occurrence, status, occurrence_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			category = excluded.category,
			description = excluded.description,
			flow_type = excluded.flow_type,
			frequency = excluded.frequency,
			interval = excluded.interval,
			end_date = excluded.end_date,
			next_occurrence = excluded.next_occurrence,
			status = excluded.status,
			occurrence_count = excluded.occurrence_count,
			updated_at = excluded.updated_at
	`

	var endDate any
	if def.EndDate != nil {
		endDate = def.EndDate.String()
	}

	_, err := db.ExecContext(ctx, query,
		def.ID,
		def.OwnerID,
		def.Amount.String(),
		def.Category,
		def.Description,
		def.Type,
		def.Frequency,
		def.Interval,
		def.StartDate.String(),
		endDate,
		def.NextOccurrence.String(),
		def.Status,
		def.OccurrenceCount,
		def.CreatedAt.String(),
		def.UpdatedAt.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	return nil
}

const definitionColumns = `id, owner_id, amount, category, description, flow_type, frequency, interval,
	start_date, end_date, next_occurrence, status, occurrence_count, created_at, updated_at`

// GetDefinition returns an owned definition or recurrence.ErrNotFound.
func (s *Store) GetDefinition(ctx context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) (*recurrence.Definition, error) {
	return getDefinition(ctx, s.db, id, owner)
}

func getDefinition(ctx context.Context, db querier, id recurrence.DefinitionID, owner recurrence.OwnerID) (*recurrence.Definition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM recurring_definitions WHERE id = ? AND owner_id = ?`

	rows, err := db.QueryContext(ctx, query, id, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query definition: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, recurrence.ErrNotFound
	}
	def, err := scanDefinition(rows)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListDefinitions returns all definitions for an owner.
func (s *Store) ListDefinitions(ctx context.Context, owner recurrence.OwnerID) ([]recurrence.Definition, error) {
	return listDefinitions(ctx, s.db, owner)
}

func listDefinitions(ctx context.Context, db querier, owner recurrence.OwnerID) ([]recurrence.Definition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM recurring_definitions WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC`
	return queryDefinitions(ctx, db, query, owner)
}

// LoadActiveDueBy returns active definitions with cursor <= asOf.
func (s *Store) LoadActiveDueBy(ctx context.Context, owner recurrence.OwnerID, asOf recurrence.Date) ([]recurrence.Definition, error) {
	return loadActiveDueBy(ctx, s.db, owner, asOf)
}

func loadActiveDueBy(ctx context.Context, db querier, owner recurrence.OwnerID, asOf recurrence.Date) ([]recurrence.Definition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM recurring_definitions
		WHERE owner_id = ? AND status = ? AND next_occurrence <= ?
		ORDER BY next_occurrence ASC, id ASC`

	return queryDefinitions(ctx, db, query, owner, recurrence.StatusActive, asOf.String())
}

// DeleteDefinition removes a definition only; generated transactions persist.
func (s *Store) DeleteDefinition(ctx context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return deleteDefinition(ctx, s.db, id, owner)
}

func deleteDefinition(ctx context.Context, db execer, id recurrence.DefinitionID, owner recurrence.OwnerID) error {
	res, err := db.ExecContext(ctx,
		"DELETE FROM recurring_definitions WHERE id = ? AND owner_id = ?", id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return recurrence.ErrNotFound
	}
	return nil
}

func queryDefinitions(ctx context.Context, db querier, query string, args ...any) ([]recurrence.Definition, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	var defs []recurrence.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinition(rows *sql.Rows) (recurrence.Definition, error) {
	var (
		def            recurrence.Definition
		amount         string
		category       sql.NullString
		description    sql.NullString
		startDate      string
		endDate        sql.NullString
		nextOccurrence string
		createdAt      string
		updatedAt      string
	)

	err := rows.Scan(
		&def.ID, &def.OwnerID, &amount, &category, &description, &def.Type,
		&def.Frequency, &def.Interval, &startDate, &endDate, &nextOccurrence,
		&def.Status, &def.OccurrenceCount, &createdAt, &updatedAt,
	)
	if err != nil {
		return def, fmt.Errorf("failed to scan definition: %w", err)
	}

	def.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return def, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	def.Category = category.String
	def.Description = description.String
	def.StartDate = mustParseDate(startDate)
	def.NextOccurrence = mustParseDate(nextOccurrence)
	def.CreatedAt = mustParseDate(createdAt)
	def.UpdatedAt = mustParseDate(updatedAt)
	if endDate.Valid && endDate.String != "" {
		end := mustParseDate(endDate.String)
		def.EndDate = &end
	}
	return def, nil
}

// =============================================================================
// TRANSACTION STORE (recurrence.TransactionStore interface)
// =============================================================================

// InsertTransaction appends a generated transaction. The unique index on
// (source_definition_id, occurrence_date) surfaces duplicate occurrences
// as recurrence.ErrDuplicateOccurrence.
func (s *Store) InsertTransaction(ctx context.Context, tx recurrence.GeneratedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return insertTransaction(ctx, s.db, tx)
}

func insertTransaction(ctx context.Context, db execer, tx recurrence.GeneratedTransaction) error {
	query := `
		INSERT INTO generated_transactions
		(id, owner_id, amount, category, description, flow_type,
		 source_definition_id, occurrence_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.OwnerID,
		tx.Amount.String(),
		tx.Category,
		tx.Description,
		tx.Type,
		tx.SourceDefinitionID,
		tx.OccurrenceDate.String(),
		tx.CreatedAt.String(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return recurrence.ErrDuplicateOccurrence
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// TransactionExists checks for a (definition, occurrence date) pair.
func (s *Store) TransactionExists(ctx context.Context, id recurrence.DefinitionID, occurrence recurrence.Date) (bool, error) {
	return transactionExists(ctx, s.db, id, occurrence)
}

func transactionExists(ctx context.Context, db querier, id recurrence.DefinitionID, occurrence recurrence.Date) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM generated_transactions WHERE source_definition_id = ? AND occurrence_date = ?",
		id, occurrence.String(),
	).Scan(&count)
	return count > 0, err
}

// ListTransactions returns the generated transactions for a definition.
func (s *Store) ListTransactions(ctx context.Context, owner recurrence.OwnerID, id recurrence.DefinitionID) ([]recurrence.GeneratedTransaction, error) {
	return listTransactions(ctx, s.db, owner, id)
}

func listTransactions(ctx context.Context, db querier, owner recurrence.OwnerID, id recurrence.DefinitionID) ([]recurrence.GeneratedTransaction, error) {
	query := `
		SELECT id, owner_id, amount, category, description, flow_type,
		       source_definition_id, occurrence_date, created_at
		FROM generated_transactions
		WHERE owner_id = ? AND source_definition_id = ?
		ORDER BY occurrence_date ASC
	`

	rows, err := db.QueryContext(ctx, query, owner, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []recurrence.GeneratedTransaction
	for rows.Next() {
		var (
			tx          recurrence.GeneratedTransaction
			amount      string
			category    sql.NullString
			description sql.NullString
			occurrence  string
			createdAt   string
		)
		err := rows.Scan(&tx.ID, &tx.OwnerID, &amount, &category, &description,
			&tx.Type, &tx.SourceDefinitionID, &occurrence, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		tx.Category = category.String
		tx.Description = description.String
		tx.OccurrenceDate = mustParseDate(occurrence)
		tx.CreatedAt = mustParseDate(createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// ListOwners returns the distinct owners that have definitions.
func (s *Store) ListOwners(ctx context.Context) ([]recurrence.OwnerID, error) {
	return listOwners(ctx, s.db)
}

func listOwners(ctx context.Context, db querier) ([]recurrence.OwnerID, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT owner_id FROM recurring_definitions ORDER BY owner_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query owners: %w", err)
	}
	defer rows.Close()

	var owners []recurrence.OwnerID
	for rows.Next() {
		var owner recurrence.OwnerID
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (recurrence.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store-level mutex
// serializes writers so two advance loops on the same definition cannot
// interleave; the SQL transaction makes each unit all-or-nothing.
func (s *Store) WithTx(ctx context.Context, fn func(store recurrence.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveDefinition(ctx context.Context, def recurrence.Definition) error {
	return saveDefinition(ctx, ts.tx, def)
}

func (ts *txStore) GetDefinition(ctx context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) (*recurrence.Definition, error) {
	return getDefinition(ctx, ts.tx, id, owner)
}

func (ts *txStore) ListDefinitions(ctx context.Context, owner recurrence.OwnerID) ([]recurrence.Definition, error) {
	return listDefinitions(ctx, ts.tx, owner)
}

func (ts *txStore) LoadActiveDueBy(ctx context.Context, owner recurrence.OwnerID, asOf recurrence.Date) ([]recurrence.Definition, error) {
	return loadActiveDueBy(ctx, ts.tx, owner, asOf)
}

func (ts *txStore) DeleteDefinition(ctx context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) error {
	return deleteDefinition(ctx, ts.tx, id, owner)
}

func (ts *txStore) InsertTransaction(ctx context.Context, tx recurrence.GeneratedTransaction) error {
	return insertTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) TransactionExists(ctx context.Context, id recurrence.DefinitionID, occurrence recurrence.Date) (bool, error) {
	return transactionExists(ctx, ts.tx, id, occurrence)
}

func (ts *txStore) ListTransactions(ctx context.Context, owner recurrence.OwnerID, id recurrence.DefinitionID) ([]recurrence.GeneratedTransaction, error) {
	return listTransactions(ctx, ts.tx, owner, id)
}

func (ts *txStore) ListOwners(ctx context.Context) ([]recurrence.OwnerID, error) {
	return listOwners(ctx, ts.tx)
}

// =============================================================================
// PROCESSING RUNS - Audit records for scheduled due processing
// =============================================================================

// ProcessingRun records one scheduled due-processing invocation.
type ProcessingRun struct {
	ID          string
	OwnerID     string
	AsOf        time.Time
	Status      string // "running", "completed", "failed"
	Generated   int
	Advanced    int
	Failed      int
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// SaveProcessingRun inserts or updates a run record.
func (s *Store) SaveProcessingRun(ctx context.Context, run ProcessingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO processing_runs
		(id, owner_id, as_of, status, generated, advanced, failed, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			generated = excluded.generated,
			advanced = excluded.advanced,
			failed = excluded.failed,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.OwnerID,
		run.AsOf.UTC().Format(time.RFC3339),
		run.Status,
		run.Generated,
		run.Advanced,
		run.Failed,
		nullString(run.Error),
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
		run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save processing run: %w", err)
	}
	return nil
}

// ListProcessingRuns returns the most recent runs for an owner.
func (s *Store) ListProcessingRuns(ctx context.Context, owner recurrence.OwnerID, limit int) ([]ProcessingRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, owner_id, as_of, status, generated, advanced, failed, error,
		       started_at, completed_at, created_at
		FROM processing_runs
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing runs: %w", err)
	}
	defer rows.Close()

	var runs []ProcessingRun
	for rows.Next() {
		var (
			run         ProcessingRun
			asOf        string
			errStr      sql.NullString
			startedAt   sql.NullString
			completedAt sql.NullString
			createdAt   string
		)
		err := rows.Scan(&run.ID, &run.OwnerID, &asOf, &run.Status, &run.Generated,
			&run.Advanced, &run.Failed, &errStr, &startedAt, &completedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing run: %w", err)
		}
		run.AsOf, _ = time.Parse(time.RFC3339, asOf)
		run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		run.Error = errStr.String
		if startedAt.Valid {
			t, _ := time.Parse(time.RFC3339, startedAt.String)
			run.StartedAt = &t
		}
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func mustParseDate(s string) recurrence.Date {
	d, err := recurrence.ParseDate(s)
	if err != nil {
		return recurrence.Date{}
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
