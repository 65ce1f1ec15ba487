/*
audit.go - Consistency check over notes and ledger

PURPOSE:
  Re-derives every balance rule from stored state and reports what does
  not hold. Audit never repairs anything; it is read-only and safe to run
  while the engine is serving writes (it may see a note and its ledger at
  slightly different moments, so a single discrepancy under heavy load
  should be re-checked before acting on it).

RULES CHECKED:
  conservation    used + remaining == original
  bounds          0 <= used <= original, remaining >= 0
  status          status agrees with amounts
  ledger_total    sum(entries.applied) == used - refunded
  running_balance each entry's RemainingAfter follows the previous one
  orphan_entry    every entry points at an existing note of the same client
  entry_amount    every entry amount is strictly positive

SEE ALSO:
  - api/scheduler.go: Runs Audit periodically
*/
package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Discrepancy struct {
	CreditNoteID CreditNoteID `json:"credit_note_id,omitempty"`
	EntryID      EntryID      `json:"entry_id,omitempty"`
	Rule         string       `json:"rule"`
	Detail       string       `json:"detail"`
}

type AuditReport struct {
	CheckedAt      time.Time     `json:"checked_at"`
	NotesChecked   int           `json:"notes_checked"`
	EntriesChecked int           `json:"entries_checked"`
	Discrepancies  []Discrepancy `json:"discrepancies"`
}

func (r AuditReport) OK() bool {
	return len(r.Discrepancies) == 0
}

func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	notes, err := e.store.ListNotes(ctx, NoteFilter{})
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit: list notes: %w", err)
	}
	entries, err := e.store.LoadEntries(ctx, EntryFilter{})
	if err != nil {
		return AuditReport{}, fmt.Errorf("audit: load entries: %w", err)
	}

	report := auditState(notes, entries)
	report.CheckedAt = e.now()
	return report, nil
}

func auditState(notes []CreditNote, entries []CompensationEntry) AuditReport {
	report := AuditReport{
		NotesChecked:   len(notes),
		EntriesChecked: len(entries),
		Discrepancies:  []Discrepancy{},
	}
	add := func(d Discrepancy) { report.Discrepancies = append(report.Discrepancies, d) }

	byNote := make(map[CreditNoteID][]CompensationEntry)
	known := make(map[CreditNoteID]CreditNote, len(notes))
	for _, n := range notes {
		known[n.ID] = n
	}
	for _, entry := range entries {
		if !entry.AppliedAmount.IsPositive() {
			add(Discrepancy{CreditNoteID: entry.CreditNoteID, EntryID: entry.ID, Rule: "entry_amount",
				Detail: fmt.Sprintf("applied amount %s", entry.AppliedAmount)})
		}
		note, ok := known[entry.CreditNoteID]
		if !ok || note.ClientID != entry.ClientID {
			add(Discrepancy{CreditNoteID: entry.CreditNoteID, EntryID: entry.ID, Rule: "orphan_entry",
				Detail: fmt.Sprintf("no credit note %s for client %s", entry.CreditNoteID, entry.ClientID)})
			continue
		}
		byNote[entry.CreditNoteID] = append(byNote[entry.CreditNoteID], entry)
	}

	for _, n := range notes {
		for _, d := range auditNote(n, byNote[n.ID]) {
			add(d)
		}
	}
	return report
}

func auditNote(n CreditNote, entries []CompensationEntry) []Discrepancy {
	var found []Discrepancy
	fail := func(rule, format string, args ...any) {
		found = append(found, Discrepancy{CreditNoteID: n.ID, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if !n.UsedAmount.Add(n.RemainingAmount).Equal(n.OriginalAmount) {
		fail("conservation", "used %s + remaining %s != original %s", n.UsedAmount, n.RemainingAmount, n.OriginalAmount)
	}
	if n.UsedAmount.IsNegative() || n.UsedAmount.GreaterThan(n.OriginalAmount) || n.RemainingAmount.IsNegative() {
		fail("bounds", "used %s, remaining %s, original %s", n.UsedAmount, n.RemainingAmount, n.OriginalAmount)
	}

	switch n.Status {
	case StatusCancelled:
		if !n.UsedAmount.IsZero() {
			fail("status", "cancelled with used %s", n.UsedAmount)
		}
	case StatusRefunded:
		if !n.RemainingAmount.IsZero() || !n.RefundedAmount.Equal(n.OriginalAmount) {
			fail("status", "refunded with remaining %s, refunded %s", n.RemainingAmount, n.RefundedAmount)
		}
	default:
		if want := statusFor(n.UsedAmount, n.OriginalAmount); want != n.Status {
			fail("status", "status %s, amounts imply %s", n.Status, want)
		}
	}

	if applied := sumApplied(entries); !applied.Equal(n.CompensatedAmount()) {
		fail("ledger_total", "ledger %s, note compensated %s", applied, n.CompensatedAmount())
	}

	running := n.OriginalAmount
	for _, entry := range entries {
		running = running.Sub(entry.AppliedAmount)
		if !entry.RemainingAfter.Equal(running) {
			found = append(found, Discrepancy{CreditNoteID: n.ID, EntryID: entry.ID, Rule: "running_balance",
				Detail: fmt.Sprintf("remaining after %s, expected %s", entry.RemainingAfter, running)})
			running = entry.RemainingAfter
		}
	}
	if running.LessThan(decimal.Zero) {
		fail("bounds", "ledger overdraws note by %s", running.Neg())
	}
	return found
}
