/*
ledger.go - Append-only compensation ledger

PURPOSE:
  The ledger answers "how much of credit note X went where, and when".
  It is appended to by every successful apply and never recomputed from
  credit note state.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. POSITIVE: Every entry carries a strictly positive AppliedAmount.
  3. CONSERVATION: For every note, the sum of AppliedAmount equals the
     note's compensated amount (UsedAmount minus any refund).

CORRECTIONS:
  There is no un-apply. A wrong compensation is settled outside the
  engine (a new credit note, or a payment adjustment on the invoice).

SEE ALSO:
  - store.go: EntryStore persistence
  - audit.go: Verifies the conservation invariant
*/
package credit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ledger is the source of truth for compensation history.
type Ledger interface {
	// Append adds an entry. This is the ONLY write operation.
	Append(ctx context.Context, entry CompensationEntry) error

	// Entries returns the full ledger, chronologically.
	Entries(ctx context.Context) ([]CompensationEntry, error)

	// EntriesByClient returns entries for one client.
	EntriesByClient(ctx context.Context, clientID string) ([]CompensationEntry, error)

	// EntriesByCreditNote returns entries for one credit note.
	EntriesByCreditNote(ctx context.Context, id CreditNoteID) ([]CompensationEntry, error)

	// AppliedTotal sums AppliedAmount over a credit note's entries.
	AppliedTotal(ctx context.Context, id CreditNoteID) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using EntryStore
// =============================================================================

type DefaultLedger struct {
	Store EntryStore
}

func NewLedger(store EntryStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, entry CompensationEntry) error {
	if entry.ID == "" || entry.CreditNoteID == "" {
		return fmt.Errorf("%w: entry and credit note ids are required", ErrInvalidInput)
	}
	if !entry.AppliedAmount.IsPositive() {
		return ErrInvalidAmount
	}
	exists, err := l.Store.EntryExists(ctx, entry.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateEntry
	}
	return l.Store.AppendEntry(ctx, entry)
}

func (l *DefaultLedger) Entries(ctx context.Context) ([]CompensationEntry, error) {
	return l.Store.LoadEntries(ctx, EntryFilter{})
}

func (l *DefaultLedger) EntriesByClient(ctx context.Context, clientID string) ([]CompensationEntry, error) {
	return l.Store.LoadEntries(ctx, EntryFilter{ClientID: clientID})
}

func (l *DefaultLedger) EntriesByCreditNote(ctx context.Context, id CreditNoteID) ([]CompensationEntry, error) {
	return l.Store.LoadEntries(ctx, EntryFilter{CreditNoteID: id})
}

func (l *DefaultLedger) AppliedTotal(ctx context.Context, id CreditNoteID) (decimal.Decimal, error) {
	entries, err := l.EntriesByCreditNote(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return sumApplied(entries), nil
}

func sumApplied(entries []CompensationEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.AppliedAmount)
	}
	return total
}
