// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.Mutex
	definitions map[recurrence.DefinitionID]recurrence.Definition
	defOrder    []recurrence.DefinitionID
	txs         map[occurrenceKey]recurrence.GeneratedTransaction
}

type occurrenceKey struct {
	DefinitionID recurrence.DefinitionID
	Occurrence   string // ISO date; Date is not comparable directly
}

func NewMemory() *Memory {
	return &Memory{
		definitions: make(map[recurrence.DefinitionID]recurrence.Definition),
		txs:         make(map[occurrenceKey]recurrence.GeneratedTransaction),
	}
}

func key(id recurrence.DefinitionID, d recurrence.Date) occurrenceKey {
	return occurrenceKey{DefinitionID: id, Occurrence: d.String()}
}

// SaveDefinition inserts or updates a definition.
func (m *Memory) SaveDefinition(_ context.Context, def recurrence.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveDefinitionLocked(def)
	return nil
}

func (m *Memory) saveDefinitionLocked(def recurrence.Definition) {
	if _, exists := m.definitions[def.ID]; !exists {
		m.defOrder = append(m.defOrder, def.ID)
	}
	m.definitions[def.ID] = def
}

func (m *Memory) GetDefinition(_ context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) (*recurrence.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getDefinitionLocked(id, owner)
}

func (m *Memory) getDefinitionLocked(id recurrence.DefinitionID, owner recurrence.OwnerID) (*recurrence.Definition, error) {
	def, ok := m.definitions[id]
	if !ok || def.OwnerID != owner {
		return nil, recurrence.ErrNotFound
	}
	copied := def
	return &copied, nil
}

func (m *Memory) ListDefinitions(_ context.Context, owner recurrence.OwnerID) ([]recurrence.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []recurrence.Definition
	for _, id := range m.defOrder {
		if def, ok := m.definitions[id]; ok && def.OwnerID == owner {
			result = append(result, def)
		}
	}
	return result, nil
}

func (m *Memory) LoadActiveDueBy(_ context.Context, owner recurrence.OwnerID, asOf recurrence.Date) ([]recurrence.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadActiveDueByLocked(owner, asOf), nil
}

func (m *Memory) loadActiveDueByLocked(owner recurrence.OwnerID, asOf recurrence.Date) []recurrence.Definition {
	var result []recurrence.Definition
	for _, def := range m.definitions {
		if def.OwnerID == owner && def.Status == recurrence.StatusActive && def.NextOccurrence.BeforeOrEqual(asOf) {
			result = append(result, def)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextOccurrence.Before(result[j].NextOccurrence)
	})
	return result
}

func (m *Memory) DeleteDefinition(_ context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteDefinitionLocked(id, owner)
}

func (m *Memory) deleteDefinitionLocked(id recurrence.DefinitionID, owner recurrence.OwnerID) error {
	def, ok := m.definitions[id]
	if !ok || def.OwnerID != owner {
		return recurrence.ErrNotFound
	}
	delete(m.definitions, id)
	for i, d := range m.defOrder {
		if d == id {
			m.defOrder = append(m.defOrder[:i], m.defOrder[i+1:]...)
			break
		}
	}
	// Generated transactions are kept: they are historical records.
	return nil
}

func (m *Memory) InsertTransaction(_ context.Context, tx recurrence.GeneratedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTransactionLocked(tx)
}

func (m *Memory) insertTransactionLocked(tx recurrence.GeneratedTransaction) error {
	k := key(tx.SourceDefinitionID, tx.OccurrenceDate)
	if _, exists := m.txs[k]; exists {
		return recurrence.ErrDuplicateOccurrence
	}
	m.txs[k] = tx
	return nil
}

func (m *Memory) TransactionExists(_ context.Context, id recurrence.DefinitionID, occurrence recurrence.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.txs[key(id, occurrence)]
	return exists, nil
}

func (m *Memory) ListTransactions(_ context.Context, owner recurrence.OwnerID, id recurrence.DefinitionID) ([]recurrence.GeneratedTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []recurrence.GeneratedTransaction
	for _, tx := range m.txs {
		if tx.OwnerID == owner && tx.SourceDefinitionID == id {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurrenceDate.Before(result[j].OccurrenceDate)
	})
	return result, nil
}

func (m *Memory) ListOwners(_ context.Context) ([]recurrence.OwnerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[recurrence.OwnerID]bool)
	var owners []recurrence.OwnerID
	for _, id := range m.defOrder {
		def := m.definitions[id]
		if !seen[def.OwnerID] {
			seen[def.OwnerID] = true
			owners = append(owners, def.OwnerID)
		}
	}
	return owners, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with atomic execution units.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn atomically. For the memory store this is the whole-
// store lock plus a snapshot restored on error, which also serializes
// concurrent advance loops on the same definition.
func (tm *TxMemory) WithTx(_ context.Context, fn func(recurrence.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}
	if err := fn(view); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	defs := make(map[recurrence.DefinitionID]recurrence.Definition, len(tm.definitions))
	for k, v := range tm.definitions {
		defs[k] = v
	}
	order := append([]recurrence.DefinitionID{}, tm.defOrder...)
	txs := make(map[occurrenceKey]recurrence.GeneratedTransaction, len(tm.txs))
	for k, v := range tm.txs {
		txs[k] = v
	}
	return memorySnapshot{definitions: defs, defOrder: order, txs: txs}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.definitions = s.definitions
	tm.defOrder = s.defOrder
	tm.txs = s.txs
}

type memorySnapshot struct {
	definitions map[recurrence.DefinitionID]recurrence.Definition
	defOrder    []recurrence.DefinitionID
	txs         map[occurrenceKey]recurrence.GeneratedTransaction
}

// txMemoryView accesses the parent's maps directly; the parent's lock is
// already held for the duration of the unit.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveDefinition(_ context.Context, def recurrence.Definition) error {
	tv.parent.saveDefinitionLocked(def)
	return nil
}

func (tv *txMemoryView) GetDefinition(_ context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) (*recurrence.Definition, error) {
	return tv.parent.getDefinitionLocked(id, owner)
}

func (tv *txMemoryView) ListDefinitions(_ context.Context, owner recurrence.OwnerID) ([]recurrence.Definition, error) {
	var result []recurrence.Definition
	for _, id := range tv.parent.defOrder {
		if def, ok := tv.parent.definitions[id]; ok && def.OwnerID == owner {
			result = append(result, def)
		}
	}
	return result, nil
}

func (tv *txMemoryView) LoadActiveDueBy(_ context.Context, owner recurrence.OwnerID, asOf recurrence.Date) ([]recurrence.Definition, error) {
	return tv.parent.loadActiveDueByLocked(owner, asOf), nil
}

func (tv *txMemoryView) DeleteDefinition(_ context.Context, id recurrence.DefinitionID, owner recurrence.OwnerID) error {
	return tv.parent.deleteDefinitionLocked(id, owner)
}

func (tv *txMemoryView) InsertTransaction(_ context.Context, tx recurrence.GeneratedTransaction) error {
	return tv.parent.insertTransactionLocked(tx)
}

func (tv *txMemoryView) TransactionExists(_ context.Context, id recurrence.DefinitionID, occurrence recurrence.Date) (bool, error) {
	_, exists := tv.parent.txs[key(id, occurrence)]
	return exists, nil
}

func (tv *txMemoryView) ListTransactions(_ context.Context, owner recurrence.OwnerID, id recurrence.DefinitionID) ([]recurrence.GeneratedTransaction, error) {
	var result []recurrence.GeneratedTransaction
	for _, tx := range tv.parent.txs {
		if tx.OwnerID == owner && tx.SourceDefinitionID == id {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurrenceDate.Before(result[j].OccurrenceDate)
	})
	return result, nil
}

func (tv *txMemoryView) ListOwners(_ context.Context) ([]recurrence.OwnerID, error) {
	seen := make(map[recurrence.OwnerID]bool)
	var owners []recurrence.OwnerID
	for _, id := range tv.parent.defOrder {
		def := tv.parent.definitions[id]
		if !seen[def.OwnerID] {
			seen[def.OwnerID] = true
			owners = append(owners, def.OwnerID)
		}
	}
	return owners, nil
}
