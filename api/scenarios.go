/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that drive the engine through the credit
  note lifecycle: partial and full compensation, cancellation, cash
  refund and batch application with a partial failure. Every step goes
  through credit.Engine, so loading a scenario exercises the same rules
  as the API.

AVAILABLE SCENARIOS:
  partial-then-full:   1000 applied 400 then 600, then 1 more is refused
  cancel-then-apply:   Cancelled note refuses a later compensation
  cash-refund:         Refund settles a note without any ledger entry
  batch-partial:       Batch of three notes where one is cancelled
  client-portfolio:    One client with notes in every status

HOW SCENARIOS WORK:
  1. Create credit notes for a demo client
  2. Apply, cancel, refund or batch-apply them
  3. Record what happened (including expected refusals) as messages

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "batch-partial"}

NOTE:
  Scenarios add data; nothing is reset. Loading the same scenario twice
  creates a second set of notes with new numbers.

SEE ALSO:
  - handlers.go: Route table
  - credit/engine.go: Operations used here
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/creditnote-engine/credit"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "partial-then-full",
		Name:        "Partial Then Full",
		Description: "A 1000 note compensates 400 then 600 on two invoices; a further 1 is refused",
	},
	{
		ID:          "cancel-then-apply",
		Name:        "Cancel Then Apply",
		Description: "A 500 note is cancelled; applying 100 afterwards is refused",
	},
	{
		ID:          "cash-refund",
		Name:        "Cash Refund",
		Description: "A 300 note is refunded by bank transfer; no compensation entry is written",
	},
	{
		ID:          "batch-partial",
		Name:        "Batch With Failure",
		Description: "Three notes applied to one invoice in a batch, one of them already cancelled",
	},
	{
		ID:          "client-portfolio",
		Name:        "Client Portfolio",
		Description: "One client holding available, partially used, used, cancelled and refunded notes",
	},
}

type scenarioLoader func(ctx context.Context, e *credit.Engine) (*scenarioRun, error)

var scenarioLoaders = map[string]scenarioLoader{
	"partial-then-full": loadPartialThenFull,
	"cancel-then-apply": loadCancelThenApply,
	"cash-refund":       loadCashRefund,
	"batch-partial":     loadBatchPartial,
	"client-portfolio":  loadClientPortfolio,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs a predefined scenario against the engine.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	run, err := load(r.Context(), h.Engine)
	if err != nil {
		h.writeEngineError(w, "Failed to load scenario", err)
		return
	}

	h.Logger.Info("scenario loaded",
		zap.String("scenario_id", req.ScenarioID),
		zap.Int("notes", len(run.ids)))

	notes := make([]credit.CreditNote, 0, len(run.ids))
	for _, id := range run.ids {
		note, err := h.Engine.Get(r.Context(), id)
		if err != nil {
			h.writeEngineError(w, "Failed to load scenario", err)
			return
		}
		if note != nil {
			notes = append(notes, *note)
		}
	}

	writeJSON(w, http.StatusOK, ScenarioResultDTO{
		ScenarioID: req.ScenarioID,
		Notes:      toCreditNoteDTOs(notes),
		Messages:   run.messages,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioRun collects the notes a scenario touched and a log of steps.
type scenarioRun struct {
	ids      []credit.CreditNoteID
	messages []string
}

func (s *scenarioRun) logf(format string, args ...any) {
	s.messages = append(s.messages, fmt.Sprintf(format, args...))
}

func (s *scenarioRun) create(ctx context.Context, e *credit.Engine, client, name string, amount int64, reason string) (credit.CreditNote, error) {
	note, err := e.Create(ctx, credit.CreateInput{
		ClientID:   client,
		ClientName: name,
		Amount:     decimal.NewFromInt(amount),
		Reason:     reason,
	})
	if err != nil {
		return credit.CreditNote{}, fmt.Errorf("create %s note: %w", reason, err)
	}
	s.ids = append(s.ids, note.ID)
	s.logf("created %s for %s (%s)", note.Number, note.OriginalAmount, reason)
	return note, nil
}

func (s *scenarioRun) apply(ctx context.Context, e *credit.Engine, id credit.CreditNoteID, amount int64, invoice string) (credit.CreditNote, error) {
	return e.Apply(ctx, credit.ApplyInput{
		CreditNoteID:  id,
		Amount:        decimal.NewFromInt(amount),
		Target:        credit.DocumentRef{ID: invoice, Number: invoice, Type: credit.DocumentInvoice},
		PaymentMethod: "avoir",
		Notes:         "demo scenario",
	})
}

// expectRefused records an operation the scenario expects to fail. An
// unexpected success is reported as a scenario error.
func (s *scenarioRun) expectRefused(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: expected refusal, got success", what)
	}
	s.logf("%s refused: %s", what, err)
	return nil
}

func loadPartialThenFull(ctx context.Context, e *credit.Engine) (*scenarioRun, error) {
	run := &scenarioRun{}
	note, err := run.create(ctx, e, "CLI-DEMO-1", "Boulangerie Martin", 1000, "Remise commerciale")
	if err != nil {
		return nil, err
	}

	for _, step := range []struct {
		amount  int64
		invoice string
	}{{400, "INV-1"}, {600, "INV-2"}} {
		updated, err := run.apply(ctx, e, note.ID, step.amount, step.invoice)
		if err != nil {
			return nil, fmt.Errorf("apply %d to %s: %w", step.amount, step.invoice, err)
		}
		run.logf("applied %d to %s: used %s, remaining %s, status %s",
			step.amount, step.invoice, updated.UsedAmount, updated.RemainingAmount, updated.Status)
	}

	_, err = run.apply(ctx, e, note.ID, 1, "INV-3")
	if err := run.expectRefused("apply 1 to INV-3", err); err != nil {
		return nil, err
	}
	return run, nil
}

func loadCancelThenApply(ctx context.Context, e *credit.Engine) (*scenarioRun, error) {
	run := &scenarioRun{}
	note, err := run.create(ctx, e, "CLI-DEMO-2", "Garage Dupont", 500, "Erreur de facturation")
	if err != nil {
		return nil, err
	}

	if err := e.Cancel(ctx, note.ID); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", note.Number, err)
	}
	run.logf("cancelled %s", note.Number)

	_, err = run.apply(ctx, e, note.ID, 100, "INV-10")
	if err := run.expectRefused("apply 100 to INV-10", err); err != nil {
		return nil, err
	}
	return run, nil
}

func loadCashRefund(ctx context.Context, e *credit.Engine) (*scenarioRun, error) {
	run := &scenarioRun{}
	note, err := run.create(ctx, e, "CLI-DEMO-3", "Pharmacie Leroy", 300, "Retour marchandise")
	if err != nil {
		return nil, err
	}

	refunded, err := e.Refund(ctx, note.ID, credit.RefundInput{Method: "virement", Reference: "R-1"})
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", note.Number, err)
	}
	entries, err := e.LedgerByCreditNote(ctx, note.ID)
	if err != nil {
		return nil, err
	}
	run.logf("refunded %s by %s (%s): %d compensation entries",
		refunded.Number, refunded.RefundMethod, refunded.RefundReference, len(entries))
	return run, nil
}

func loadBatchPartial(ctx context.Context, e *credit.Engine) (*scenarioRun, error) {
	run := &scenarioRun{}
	const client, name = "CLI-DEMO-4", "Menuiserie Petit"

	a, err := run.create(ctx, e, client, name, 200, "Avoir A")
	if err != nil {
		return nil, err
	}
	b, err := run.create(ctx, e, client, name, 50, "Avoir B")
	if err != nil {
		return nil, err
	}
	c, err := run.create(ctx, e, client, name, 100, "Avoir C")
	if err != nil {
		return nil, err
	}
	if err := e.Cancel(ctx, b.ID); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", b.Number, err)
	}
	run.logf("cancelled %s", b.Number)

	result := e.ApplyBatch(ctx, credit.BatchInput{
		Items: []credit.BatchItem{
			{CreditNoteID: a.ID, Amount: decimal.NewFromInt(200)},
			{CreditNoteID: b.ID, Amount: decimal.NewFromInt(50)},
			{CreditNoteID: c.ID, Amount: decimal.NewFromInt(100)},
		},
		Target:        credit.DocumentRef{ID: "INV-20", Number: "INV-20", Type: credit.DocumentInvoice},
		PaymentMethod: "avoir",
	})
	run.logf("batch on INV-20: success=%t, applied %d", result.Success, result.AppliedCount)
	for _, msg := range result.Errors {
		run.logf("batch error: %s", msg)
	}
	return run, nil
}

func loadClientPortfolio(ctx context.Context, e *credit.Engine) (*scenarioRun, error) {
	run := &scenarioRun{}
	const client, name = "CLI-DEMO-5", "Atelier Bernard"

	if _, err := run.create(ctx, e, client, name, 250, "Geste commercial"); err != nil {
		return nil, err
	}

	partial, err := run.create(ctx, e, client, name, 800, "Remboursement partiel")
	if err != nil {
		return nil, err
	}
	if _, err := run.apply(ctx, e, partial.ID, 300, "INV-30"); err != nil {
		return nil, fmt.Errorf("apply to %s: %w", partial.Number, err)
	}
	run.logf("applied 300 of %s to INV-30", partial.Number)

	used, err := run.create(ctx, e, client, name, 150, "Casse livraison")
	if err != nil {
		return nil, err
	}
	if _, err := e.Apply(ctx, credit.ApplyInput{
		CreditNoteID: used.ID,
		Amount:       decimal.NewFromInt(150),
		Target:       credit.DocumentRef{ID: "OT-7", Number: "OT-7", Type: credit.DocumentWorkOrder},
	}); err != nil {
		return nil, fmt.Errorf("apply to %s: %w", used.Number, err)
	}
	run.logf("applied %s in full to work order OT-7", used.Number)

	cancelled, err := run.create(ctx, e, client, name, 90, "Doublon")
	if err != nil {
		return nil, err
	}
	if err := e.Cancel(ctx, cancelled.ID); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", cancelled.Number, err)
	}
	run.logf("cancelled %s", cancelled.Number)

	refunded, err := run.create(ctx, e, client, name, 60, "Trop-perçu")
	if err != nil {
		return nil, err
	}
	if _, err := e.Refund(ctx, refunded.ID, credit.RefundInput{Method: "chèque", Reference: "CHQ-118"}); err != nil {
		return nil, fmt.Errorf("refund %s: %w", refunded.Number, err)
	}
	run.logf("refunded %s by cheque", refunded.Number)

	balance, err := e.ClientBalance(ctx, client)
	if err != nil {
		return nil, err
	}
	run.logf("balance for %s: remaining %s, spendable %s", client, balance.Remaining, balance.Spendable)
	return run, nil
}
