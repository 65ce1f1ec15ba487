/*
store.go - Persistence interfaces for credit notes and compensation entries

PURPOSE:
  Defines the contract between the engine and whatever keeps its state.
  The reference adapter keeps everything in memory; durable adapters
  (SQLite, PostgreSQL) implement the same interfaces. Adapters must
  round-trip CreditNote and CompensationEntry losslessly.

KEY INTERFACES:
  NoteStore:  Credit note records (save, get, list, count)
  EntryStore: Compensation ledger rows (append-only)
  Store:      Both of the above
  TxStore:    Store + atomic multi-write transactions

APPEND-ONLY CONTRACT:
  EntryStore has AppendEntry and reads. There is no update and no delete.
  NoteStore.SaveNote upserts, but notes are never removed.

ATOMICITY:
  An apply writes the updated note AND a new entry. When the store is a
  TxStore the engine performs both inside WithTx, so a failed append
  leaves the note untouched.

IMPLEMENTATIONS:
  - credit/store/memory.go: In-memory (default, tests)
  - store/sqlite/sqlite.go: SQLite file
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - ledger.go: Append-only facade over EntryStore
  - engine.go: Uses WithTx when available
*/
package credit

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// NoteFilter selects credit notes. Zero values match everything.
type NoteFilter struct {
	ClientID string
	Statuses []Status
}

func (f NoteFilter) Match(n CreditNote) bool {
	if f.ClientID != "" && n.ClientID != f.ClientID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if n.Status == s {
			return true
		}
	}
	return false
}

// EntryFilter selects ledger entries. Zero values match everything.
type EntryFilter struct {
	ClientID     string
	CreditNoteID CreditNoteID
}

func (f EntryFilter) Match(e CompensationEntry) bool {
	if f.ClientID != "" && e.ClientID != f.ClientID {
		return false
	}
	if f.CreditNoteID != "" && e.CreditNoteID != f.CreditNoteID {
		return false
	}
	return true
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type NoteStore interface {
	// SaveNote inserts or replaces a note by ID.
	SaveNote(ctx context.Context, note CreditNote) error

	// GetNote returns the note, or ErrNotFound.
	GetNote(ctx context.Context, id CreditNoteID) (CreditNote, error)

	// ListNotes returns matching notes ordered by creation.
	ListNotes(ctx context.Context, filter NoteFilter) ([]CreditNote, error)

	// CountNotes returns the number of notes ever created.
	CountNotes(ctx context.Context) (int, error)
}

// EntryStore is APPEND-ONLY.
type EntryStore interface {
	// AppendEntry persists an entry. Returns ErrDuplicateEntry if the ID exists.
	AppendEntry(ctx context.Context, entry CompensationEntry) error

	// LoadEntries returns matching entries in chronological order.
	LoadEntries(ctx context.Context, filter EntryFilter) ([]CompensationEntry, error)

	// EntryExists checks whether an entry ID was already written.
	EntryExists(ctx context.Context, id EntryID) (bool, error)
}

type Store interface {
	NoteStore
	EntryStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
