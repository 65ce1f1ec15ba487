package credit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BatchItem is one credit note contribution toward a shared target.
type BatchItem struct {
	CreditNoteID CreditNoteID
	Amount       decimal.Decimal
}

type BatchInput struct {
	Items         []BatchItem
	Target        DocumentRef
	PaymentID     string
	PaymentMethod string
	Operator      string
	Notes         string
}

type BatchFailure struct {
	CreditNoteID CreditNoteID
	Err          error
}

func (f BatchFailure) String() string {
	return fmt.Sprintf("%s: %s", f.CreditNoteID, f.Err)
}

// BatchResult reports every item of an ApplyBatch call.
// Errors holds one "{creditNoteId}: {reason}" line per failed item, in input order.
type BatchResult struct {
	Success      bool
	Errors       []string
	AppliedCount int
	Applied      []CreditNote
	Failures     []BatchFailure
}

// ApplyBatch applies each item independently and in order. A failing item
// does not stop the ones after it and successful items are never rolled
// back. Each item takes its own note lock; the batch holds no wider lock.
func (e *Engine) ApplyBatch(ctx context.Context, in BatchInput) BatchResult {
	result := BatchResult{Errors: []string{}}

	for _, item := range in.Items {
		note, err := e.Apply(ctx, ApplyInput{
			CreditNoteID:  item.CreditNoteID,
			Amount:        item.Amount,
			Target:        in.Target,
			PaymentID:     in.PaymentID,
			PaymentMethod: in.PaymentMethod,
			Operator:      in.Operator,
			Notes:         in.Notes,
		})
		if err != nil {
			failure := BatchFailure{CreditNoteID: item.CreditNoteID, Err: err}
			result.Failures = append(result.Failures, failure)
			result.Errors = append(result.Errors, failure.String())
			continue
		}
		result.AppliedCount++
		result.Applied = append(result.Applied, note)
	}

	result.Success = len(result.Failures) == 0
	e.logger.Info("compensation batch processed",
		zap.Int("items", len(in.Items)),
		zap.Int("applied", result.AppliedCount),
		zap.Int("failed", len(result.Failures)),
		zap.String("target", in.Target.Number),
	)
	return result
}
