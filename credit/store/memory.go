// Package store provides in-memory credit.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/creditnote-engine/credit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	notes    map[credit.CreditNoteID]credit.CreditNote
	order    []credit.CreditNoteID // creation order
	entries  []credit.CompensationEntry
	entryIDs map[credit.EntryID]bool
}

func NewMemory() *Memory {
	return &Memory{
		notes:    make(map[credit.CreditNoteID]credit.CreditNote),
		entryIDs: make(map[credit.EntryID]bool),
	}
}

func (m *Memory) SaveNote(_ context.Context, note credit.CreditNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveNoteLocked(note)
	return nil
}

func (m *Memory) saveNoteLocked(note credit.CreditNote) {
	if _, ok := m.notes[note.ID]; !ok {
		m.order = append(m.order, note.ID)
	}
	m.notes[note.ID] = note.Clone()
}

func (m *Memory) GetNote(_ context.Context, id credit.CreditNoteID) (credit.CreditNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getNoteLocked(id)
}

func (m *Memory) getNoteLocked(id credit.CreditNoteID) (credit.CreditNote, error) {
	note, ok := m.notes[id]
	if !ok {
		return credit.CreditNote{}, credit.ErrNotFound
	}
	return note.Clone(), nil
}

func (m *Memory) ListNotes(_ context.Context, filter credit.NoteFilter) ([]credit.CreditNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listNotesLocked(filter), nil
}

func (m *Memory) listNotesLocked(filter credit.NoteFilter) []credit.CreditNote {
	result := []credit.CreditNote{}
	for _, id := range m.order {
		note := m.notes[id]
		if filter.Match(note) {
			result = append(result, note.Clone())
		}
	}
	return result
}

func (m *Memory) CountNotes(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

// AppendEntry adds a single entry. Append-only.
func (m *Memory) AppendEntry(_ context.Context, entry credit.CompensationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

func (m *Memory) appendLocked(entry credit.CompensationEntry) error {
	if m.entryIDs[entry.ID] {
		return credit.ErrDuplicateEntry
	}
	m.entries = append(m.entries, entry)
	m.entryIDs[entry.ID] = true
	return nil
}

func (m *Memory) LoadEntries(_ context.Context, filter credit.EntryFilter) ([]credit.CompensationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(filter), nil
}

// Entries are appended in commit order, which is chronological.
func (m *Memory) loadLocked(filter credit.EntryFilter) []credit.CompensationEntry {
	result := []credit.CompensationEntry{}
	for _, e := range m.entries {
		if filter.Match(e) {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) EntryExists(_ context.Context, id credit.EntryID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entryIDs[id], nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store is locked for the duration of fn, so fn must only use the
// Store it is given.
func (tm *TxMemory) WithTx(_ context.Context, fn func(credit.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	notes    map[credit.CreditNoteID]credit.CreditNote
	order    []credit.CreditNoteID
	entries  []credit.CompensationEntry
	entryIDs map[credit.EntryID]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	notes := make(map[credit.CreditNoteID]credit.CreditNote, len(tm.notes))
	for k, v := range tm.notes {
		notes[k] = v.Clone()
	}
	entryIDs := make(map[credit.EntryID]bool, len(tm.entryIDs))
	for k, v := range tm.entryIDs {
		entryIDs[k] = v
	}
	return memorySnapshot{
		notes:    notes,
		order:    append([]credit.CreditNoteID{}, tm.order...),
		entries:  append([]credit.CompensationEntry{}, tm.entries...),
		entryIDs: entryIDs,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.notes = s.notes
	tm.order = s.order
	tm.entries = s.entries
	tm.entryIDs = s.entryIDs
}

// txMemoryView writes straight into the parent, which is already locked.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveNote(_ context.Context, note credit.CreditNote) error {
	tv.parent.saveNoteLocked(note)
	return nil
}

func (tv *txMemoryView) GetNote(_ context.Context, id credit.CreditNoteID) (credit.CreditNote, error) {
	return tv.parent.getNoteLocked(id)
}

func (tv *txMemoryView) ListNotes(_ context.Context, filter credit.NoteFilter) ([]credit.CreditNote, error) {
	return tv.parent.listNotesLocked(filter), nil
}

func (tv *txMemoryView) CountNotes(_ context.Context) (int, error) {
	return len(tv.parent.order), nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, entry credit.CompensationEntry) error {
	return tv.parent.appendLocked(entry)
}

func (tv *txMemoryView) LoadEntries(_ context.Context, filter credit.EntryFilter) ([]credit.CompensationEntry, error) {
	return tv.parent.loadLocked(filter), nil
}

func (tv *txMemoryView) EntryExists(_ context.Context, id credit.EntryID) (bool, error) {
	return tv.parent.entryIDs[id], nil
}

var (
	_ credit.Store   = (*Memory)(nil)
	_ credit.TxStore = (*TxMemory)(nil)
	_ credit.Store   = (*txMemoryView)(nil)
)
