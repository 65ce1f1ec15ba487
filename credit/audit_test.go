package credit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/creditnote-engine/credit"
	"github.com/warp/creditnote-engine/credit/store"
)

func TestAudit_CleanState(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	a := createNote(t, e, "cli-1", "100")
	b := createNote(t, e, "cli-1", "60")
	_, err := applyTo(e, a.ID, "25", invoice("INV-1"))
	require.NoError(t, err)
	_, err = applyTo(e, a.ID, "75", invoice("INV-2"))
	require.NoError(t, err)
	_, err = e.Refund(ctx, b.ID, credit.RefundInput{Method: "virement"})
	require.NoError(t, err)

	report, err := e.Audit(ctx)
	require.NoError(t, err)

	assert.True(t, report.OK(), "%v", report.Discrepancies)
	assert.Equal(t, 2, report.NotesChecked)
	assert.Equal(t, 2, report.EntriesChecked)
	assert.Equal(t, testNow, report.CheckedAt)
}

func TestAudit_DetectsTamperedState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := credit.NewEngine(mem)
	note := createNote(t, e, "cli-1", "100")
	_, err := applyTo(e, note.ID, "40", invoice("INV-1"))
	require.NoError(t, err)

	// GIVEN: a note written behind the engine's back
	tampered := mustGet(t, e, note.ID)
	tampered.RemainingAmount = amt("70")
	tampered.Status = credit.StatusAvailable
	require.NoError(t, mem.SaveNote(ctx, tampered))

	// AND: an entry pointing nowhere
	require.NoError(t, mem.AppendEntry(ctx, credit.CompensationEntry{
		ID: "ghost", CreditNoteID: "missing", ClientID: "cli-1", AppliedAmount: amt("5"),
	}))

	// WHEN
	report, err := e.Audit(ctx)
	require.NoError(t, err)

	// THEN
	rules := map[string]bool{}
	for _, d := range report.Discrepancies {
		rules[d.Rule] = true
	}
	assert.False(t, report.OK())
	assert.True(t, rules["conservation"])
	assert.True(t, rules["status"])
	assert.True(t, rules["orphan_entry"])
	assert.False(t, rules["ledger_total"])
}
