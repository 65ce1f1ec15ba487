package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/creditnote-engine/credit"
	"github.com/warp/creditnote-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNote() credit.CreditNote {
	refundDate := time.Date(2025, 4, 2, 15, 4, 5, 123456789, time.UTC)
	return credit.CreditNote{
		ID:               "n1",
		Number:           "AV-2025-00001",
		ClientID:         "c1",
		ClientName:       "Garage Dupont",
		LinkedDocumentID: "inv-7",
		Date:             time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Reason:           "remise commerciale",
		OriginalAmount:   decimal.RequireFromString("1234.56"),
		UsedAmount:       decimal.RequireFromString("1234.56"),
		RemainingAmount:  decimal.Zero,
		Status:           credit.StatusRefunded,
		RefundMethod:     "virement",
		RefundDate:       &refundDate,
		RefundReference:  "R-1",
		RefundedAmount:   decimal.RequireFromString("1234.56"),
		CreatedAt:        time.Date(2025, 4, 1, 8, 0, 0, 1, time.UTC),
		UpdatedAt:        refundDate,
	}
}

func sampleEntry(id string) credit.CompensationEntry {
	return credit.CompensationEntry{
		ID:                       credit.EntryID(id),
		Date:                     time.Date(2025, 4, 3, 10, 0, 0, 42, time.UTC),
		CreditNoteID:             "n1",
		CreditNoteNumber:         "AV-2025-00001",
		CreditNoteOriginalAmount: decimal.RequireFromString("1234.56"),
		AppliedAmount:            decimal.RequireFromString("0.01"),
		RemainingAfter:           decimal.RequireFromString("1234.55"),
		TargetDocumentID:         "wo-1",
		TargetDocumentNumber:     "BT-1",
		TargetDocumentType:       credit.DocumentWorkOrder,
		ClientID:                 "c1",
		ClientName:               "Garage Dupont",
		PaymentID:                "pay-1",
		PaymentMethod:            "avoir",
		Operator:                 "alice",
		Notes:                    "acompte",
	}
}

func TestStore_NoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	want := sampleNote()

	require.NoError(t, s.SaveNote(ctx, want))
	got, err := s.GetNote(ctx, want.ID)
	require.NoError(t, err)

	assert.Equal(t, want.Number, got.Number)
	assert.Equal(t, want.LinkedDocumentID, got.LinkedDocumentID)
	assert.True(t, want.OriginalAmount.Equal(got.OriginalAmount))
	assert.True(t, want.RefundedAmount.Equal(got.RefundedAmount))
	assert.True(t, want.RemainingAmount.Equal(got.RemainingAmount))
	assert.Equal(t, want.Status, got.Status)
	require.NotNil(t, got.RefundDate)
	assert.True(t, want.RefundDate.Equal(*got.RefundDate), "nanoseconds survive")
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetNote(ctx, "missing")
	assert.ErrorIs(t, err, credit.ErrNotFound)
}

func TestStore_UpsertKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := sampleNote()
	second := sampleNote()
	second.ID, second.ClientID, second.Status = "n2", "c2", credit.StatusAvailable

	require.NoError(t, s.SaveNote(ctx, first))
	require.NoError(t, s.SaveNote(ctx, second))
	first.Reason = "updated"
	require.NoError(t, s.SaveNote(ctx, first))

	all, err := s.ListNotes(ctx, credit.NoteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, credit.CreditNoteID("n1"), all[0].ID)
	assert.Equal(t, "updated", all[0].Reason)

	count, err := s.CountNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	filtered, err := s.ListNotes(ctx, credit.NoteFilter{ClientID: "c2", Statuses: []credit.Status{credit.StatusAvailable, credit.StatusPartiallyUsed}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, credit.CreditNoteID("n2"), filtered[0].ID)
}

func TestStore_EntriesAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveNote(ctx, sampleNote()))

	want := sampleEntry("e1")
	require.NoError(t, s.AppendEntry(ctx, want))
	require.NoError(t, s.AppendEntry(ctx, sampleEntry("e2")))
	assert.ErrorIs(t, s.AppendEntry(ctx, sampleEntry("e1")), credit.ErrDuplicateEntry)

	exists, err := s.EntryExists(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, exists)

	entries, err := s.LoadEntries(ctx, credit.EntryFilter{CreditNoteID: "n1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	got := entries[0]
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Date.Equal(got.Date))
	assert.True(t, want.AppliedAmount.Equal(got.AppliedAmount))
	assert.True(t, want.RemainingAfter.Equal(got.RemainingAfter))
	assert.Equal(t, want.Target(), got.Target())
	assert.Equal(t, want.PaymentMethod, got.PaymentMethod)
	assert.Equal(t, want.Operator, got.Operator)
	assert.Equal(t, want.Notes, got.Notes)

	none, err := s.LoadEntries(ctx, credit.EntryFilter{ClientID: "c9"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx credit.Store) error {
		require.NoError(t, tx.SaveNote(ctx, sampleNote()))
		_, err := tx.GetNote(ctx, "n1")
		require.NoError(t, err, "reads see the tx's own writes")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetNote(ctx, "n1")
	assert.ErrorIs(t, err, credit.ErrNotFound)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_OverSQLite(t *testing.T) {
	ctx := context.Background()
	e := credit.NewEngine(newTestStore(t))

	// GIVEN: a note of 1000
	note, err := e.Create(ctx, credit.CreateInput{ClientID: "c1", ClientName: "Garage Dupont", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	// WHEN: 400 then 600 are applied
	target := credit.DocumentRef{ID: "inv-1", Number: "INV-1", Type: credit.DocumentInvoice}
	_, err = e.Apply(ctx, credit.ApplyInput{CreditNoteID: note.ID, Amount: decimal.NewFromInt(400), Target: target})
	require.NoError(t, err)
	updated, err := e.Apply(ctx, credit.ApplyInput{CreditNoteID: note.ID, Amount: decimal.NewFromInt(600), Target: target})
	require.NoError(t, err)

	// THEN: used, two entries, and a third apply is refused
	assert.Equal(t, credit.StatusUsed, updated.Status)
	_, err = e.Apply(ctx, credit.ApplyInput{CreditNoteID: note.ID, Amount: decimal.NewFromInt(1), Target: target})
	assert.ErrorIs(t, err, credit.ErrNotAvailable)

	entries, err := e.LedgerByCreditNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	report, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%v", report.Discrepancies)
}
