package credit

import (
	"context"

	"github.com/shopspring/decimal"
)

// ClientBalance aggregates every credit note of one client.
//
// Original = Used + Remaining over all notes, cancelled ones included.
// Used splits into Compensated (ledger-backed) and Refunded. Spendable
// only counts notes that can still be applied.
type ClientBalance struct {
	ClientID    string
	NoteCount   int
	Original    decimal.Decimal
	Used        decimal.Decimal
	Remaining   decimal.Decimal
	Compensated decimal.Decimal
	Refunded    decimal.Decimal
	Spendable   decimal.Decimal
	ByStatus    map[Status]int
}

func (e *Engine) ClientBalance(ctx context.Context, clientID string) (ClientBalance, error) {
	notes, err := e.store.ListNotes(ctx, NoteFilter{ClientID: clientID})
	if err != nil {
		return ClientBalance{}, err
	}
	return summarize(clientID, notes), nil
}

func summarize(clientID string, notes []CreditNote) ClientBalance {
	b := ClientBalance{
		ClientID:    clientID,
		Original:    decimal.Zero,
		Used:        decimal.Zero,
		Remaining:   decimal.Zero,
		Compensated: decimal.Zero,
		Refunded:    decimal.Zero,
		Spendable:   decimal.Zero,
		ByStatus:    make(map[Status]int),
	}
	for _, n := range notes {
		b.NoteCount++
		b.ByStatus[n.Status]++
		b.Original = b.Original.Add(n.OriginalAmount)
		b.Used = b.Used.Add(n.UsedAmount)
		b.Remaining = b.Remaining.Add(n.RemainingAmount)
		b.Compensated = b.Compensated.Add(n.CompensatedAmount())
		b.Refunded = b.Refunded.Add(n.RefundedAmount)
		if n.Status.CanApply() {
			b.Spendable = b.Spendable.Add(n.RemainingAmount)
		}
	}
	return b
}
