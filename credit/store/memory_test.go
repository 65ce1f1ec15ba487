package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/creditnote-engine/credit"
	"github.com/warp/creditnote-engine/credit/store"
)

func note(id, client string, status credit.Status) credit.CreditNote {
	return credit.CreditNote{
		ID:              credit.CreditNoteID(id),
		Number:          "AV-2025-" + id,
		ClientID:        client,
		OriginalAmount:  decimal.NewFromInt(100),
		UsedAmount:      decimal.Zero,
		RemainingAmount: decimal.NewFromInt(100),
		Status:          status,
		CreatedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func entry(id, noteID, client string) credit.CompensationEntry {
	return credit.CompensationEntry{
		ID:            credit.EntryID(id),
		CreditNoteID:  credit.CreditNoteID(noteID),
		ClientID:      client,
		AppliedAmount: decimal.NewFromInt(10),
	}
}

func TestMemory_NotesRoundTripAndFilter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.SaveNote(ctx, note("n1", "c1", credit.StatusAvailable)))
	require.NoError(t, m.SaveNote(ctx, note("n2", "c2", credit.StatusUsed)))
	require.NoError(t, m.SaveNote(ctx, note("n3", "c1", credit.StatusCancelled)))

	// Upsert keeps creation order and count.
	updated := note("n1", "c1", credit.StatusPartiallyUsed)
	require.NoError(t, m.SaveNote(ctx, updated))

	got, err := m.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, credit.StatusPartiallyUsed, got.Status)

	_, err = m.GetNote(ctx, "missing")
	assert.ErrorIs(t, err, credit.ErrNotFound)

	count, err := m.CountNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := m.ListNotes(ctx, credit.NoteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, credit.CreditNoteID("n1"), all[0].ID)

	open, err := m.ListNotes(ctx, credit.NoteFilter{ClientID: "c1", Statuses: []credit.Status{credit.StatusPartiallyUsed}})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, credit.CreditNoteID("n1"), open[0].ID)
}

func TestMemory_ReturnedNotesAreCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	refundDate := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	n := note("n1", "c1", credit.StatusRefunded)
	n.RefundDate = &refundDate
	require.NoError(t, m.SaveNote(ctx, n))

	got, err := m.GetNote(ctx, "n1")
	require.NoError(t, err)
	*got.RefundDate = time.Time{}

	again, err := m.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, refundDate, *again.RefundDate)
}

func TestMemory_EntriesAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.AppendEntry(ctx, entry("e1", "n1", "c1")))
	require.NoError(t, m.AppendEntry(ctx, entry("e2", "n2", "c2")))
	require.NoError(t, m.AppendEntry(ctx, entry("e3", "n1", "c1")))

	assert.ErrorIs(t, m.AppendEntry(ctx, entry("e1", "n1", "c1")), credit.ErrDuplicateEntry)

	exists, err := m.EntryExists(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, exists)

	byNote, err := m.LoadEntries(ctx, credit.EntryFilter{CreditNoteID: "n1"})
	require.NoError(t, err)
	require.Len(t, byNote, 2)
	assert.Equal(t, credit.EntryID("e1"), byNote[0].ID)
	assert.Equal(t, credit.EntryID("e3"), byNote[1].ID)

	byClient, err := m.LoadEntries(ctx, credit.EntryFilter{ClientID: "c2"})
	require.NoError(t, err)
	assert.Len(t, byClient, 1)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := store.NewTxMemory()
	require.NoError(t, m.SaveNote(ctx, note("n1", "c1", credit.StatusAvailable)))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s credit.Store) error {
		require.NoError(t, s.SaveNote(ctx, note("n1", "c1", credit.StatusUsed)))
		require.NoError(t, s.SaveNote(ctx, note("n2", "c1", credit.StatusAvailable)))
		require.NoError(t, s.AppendEntry(ctx, entry("e1", "n1", "c1")))

		got, err := s.GetNote(ctx, "n1")
		require.NoError(t, err)
		assert.Equal(t, credit.StatusUsed, got.Status, "writes visible inside the tx")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, credit.StatusAvailable, got.Status)

	count, err := m.CountNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := m.EntryExists(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTxMemory_Commit(t *testing.T) {
	ctx := context.Background()
	m := store.NewTxMemory()

	err := m.WithTx(ctx, func(s credit.Store) error {
		if err := s.SaveNote(ctx, note("n1", "c1", credit.StatusAvailable)); err != nil {
			return err
		}
		return s.AppendEntry(ctx, entry("e1", "n1", "c1"))
	})
	require.NoError(t, err)

	entries, err := m.LoadEntries(ctx, credit.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
