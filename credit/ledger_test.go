package credit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/creditnote-engine/credit"
	"github.com/warp/creditnote-engine/credit/store"
)

func ledgerEntry(id, noteID, client, applied string) credit.CompensationEntry {
	return credit.CompensationEntry{
		ID:                 credit.EntryID(id),
		Date:               testNow,
		CreditNoteID:       credit.CreditNoteID(noteID),
		AppliedAmount:      amt(applied),
		TargetDocumentID:   "doc-1",
		TargetDocumentType: credit.DocumentInvoice,
		ClientID:           client,
	}
}

func TestLedger_AppendAndQuery(t *testing.T) {
	// GIVEN: Three entries across two notes and two clients
	ctx := context.Background()
	ledger := credit.NewLedger(store.NewMemory())

	require.NoError(t, ledger.Append(ctx, ledgerEntry("e1", "n1", "C1", "400")))
	require.NoError(t, ledger.Append(ctx, ledgerEntry("e2", "n2", "C2", "50")))
	require.NoError(t, ledger.Append(ctx, ledgerEntry("e3", "n1", "C1", "100.25")))

	// THEN: Queries filter and keep append order
	all, err := ledger.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, credit.EntryID("e1"), all[0].ID)
	assert.Equal(t, credit.EntryID("e3"), all[2].ID)

	byClient, err := ledger.EntriesByClient(ctx, "C2")
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, credit.EntryID("e2"), byClient[0].ID)

	byNote, err := ledger.EntriesByCreditNote(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, byNote, 2)

	total, err := ledger.AppliedTotal(ctx, "n1")
	require.NoError(t, err)
	assertDecimal(t, "500.25", total, "applied total")

	none, err := ledger.AppliedTotal(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestLedger_AppendRejects(t *testing.T) {
	ctx := context.Background()
	ledger := credit.NewLedger(store.NewMemory())
	require.NoError(t, ledger.Append(ctx, ledgerEntry("e1", "n1", "C1", "10")))

	tests := []struct {
		name  string
		entry credit.CompensationEntry
		want  error
	}{
		{"duplicate id", ledgerEntry("e1", "n1", "C1", "5"), credit.ErrDuplicateEntry},
		{"zero amount", ledgerEntry("e2", "n1", "C1", "0"), credit.ErrInvalidAmount},
		{"negative amount", ledgerEntry("e3", "n1", "C1", "-1"), credit.ErrInvalidAmount},
		{"missing entry id", ledgerEntry("", "n1", "C1", "5"), credit.ErrInvalidInput},
		{"missing note id", ledgerEntry("e4", "", "C1", "5"), credit.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.Append(ctx, tt.entry)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// THEN: Only the first entry was written
	all, err := ledger.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
