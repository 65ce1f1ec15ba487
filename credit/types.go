/*
Package credit provides the credit-note (avoir) compensation engine.

PURPOSE:
  A credit note is value owed to a client, usually issued against an invoice.
  This package tracks credit notes, applies them (fully or partially) to
  outstanding invoices and work orders, keeps running balances, and records
  every application in an append-only compensation ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - CreditNote: the tracked record (original, used and remaining amounts)
  - Status: available -> partially_used -> used, or cancelled / refunded
  - CompensationEntry: an immutable ledger row, one per successful apply
  - DocumentRef: the invoice or work order a compensation settles

DESIGN PRINCIPLES:
  1. Precision: amounts are decimal.Decimal, never float64
  2. Conservation: UsedAmount + RemainingAmount == OriginalAmount, always
  3. Immutability: ledger entries are appended, never edited
  4. Snapshots: entries copy display fields (client name, note number) at
     write time so history stays accurate after renames

USAGE:
  engine := credit.NewEngine(store.NewMemory())
  note, err := engine.Create(ctx, credit.CreateInput{
      ClientID: "cli-1",
      Amount:   decimal.NewFromInt(1000),
  })

SEE ALSO:
  - engine.go: Create, Apply, Cancel, Refund
  - batch.go: ApplyBatch partial-failure semantics
  - ledger.go: Compensation ledger
  - store.go: Persistence interfaces
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CreditNoteID string
type EntryID string

// =============================================================================
// STATUS - Credit note state machine
// =============================================================================

type Status string

const (
	StatusAvailable     Status = "available"
	StatusPartiallyUsed Status = "partially_used"
	StatusUsed          Status = "used"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
)

// IsTerminal reports whether no apply, cancel or refund can follow.
func (s Status) IsTerminal() bool {
	return s == StatusUsed || s == StatusCancelled || s == StatusRefunded
}

// CanApply reports whether the status accepts new compensations.
func (s Status) CanApply() bool {
	return s == StatusAvailable || s == StatusPartiallyUsed
}

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusPartiallyUsed, StatusUsed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// statusFor derives the consumption status from amounts.
// Only meaningful for notes that are not cancelled or refunded.
func statusFor(used, original decimal.Decimal) Status {
	switch {
	case used.IsZero():
		return StatusAvailable
	case used.LessThan(original):
		return StatusPartiallyUsed
	default:
		return StatusUsed
	}
}

// =============================================================================
// DOCUMENT REFERENCE - Target of a compensation
// =============================================================================

type DocumentType string

const (
	DocumentInvoice   DocumentType = "invoice"
	DocumentWorkOrder DocumentType = "workOrder"
)

func (t DocumentType) Valid() bool {
	return t == DocumentInvoice || t == DocumentWorkOrder
}

// DocumentRef identifies an invoice or work order by caller-supplied strings.
// The engine never calls back into invoice logic.
type DocumentRef struct {
	ID     string
	Number string
	Type   DocumentType
}

// =============================================================================
// CREDIT NOTE
// =============================================================================

type CreditNote struct {
	ID               CreditNoteID
	Number           string
	ClientID         string
	ClientName       string
	LinkedDocumentID string // empty for free credit notes
	Date             time.Time
	Reason           string

	OriginalAmount  decimal.Decimal
	UsedAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          Status

	// Set only when Status == StatusRefunded.
	RefundMethod    string
	RefundDate      *time.Time
	RefundReference string
	RefundedAmount  decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompensatedAmount is the part of UsedAmount consumed by ledger entries.
// A refund forces UsedAmount to OriginalAmount without any compensation.
func (n CreditNote) CompensatedAmount() decimal.Decimal {
	return n.UsedAmount.Sub(n.RefundedAmount)
}

// IsLinked reports whether the note originated from an invoice or order.
func (n CreditNote) IsLinked() bool {
	return n.LinkedDocumentID != ""
}

// Clone returns a deep copy so callers never alias engine-owned state.
func (n CreditNote) Clone() CreditNote {
	if n.RefundDate != nil {
		d := *n.RefundDate
		n.RefundDate = &d
	}
	return n
}

// =============================================================================
// COMPENSATION ENTRY - Append-only ledger row
// =============================================================================

// CompensationEntry records one amount taken from a credit note toward a
// target document. Display fields are snapshots taken at write time.
type CompensationEntry struct {
	ID   EntryID
	Date time.Time

	CreditNoteID             CreditNoteID
	CreditNoteNumber         string
	CreditNoteOriginalAmount decimal.Decimal

	AppliedAmount  decimal.Decimal
	RemainingAfter decimal.Decimal

	TargetDocumentID     string
	TargetDocumentNumber string
	TargetDocumentType   DocumentType

	ClientID   string
	ClientName string

	PaymentID     string
	PaymentMethod string
	Operator      string
	Notes         string
}

func (e CompensationEntry) Target() DocumentRef {
	return DocumentRef{ID: e.TargetDocumentID, Number: e.TargetDocumentNumber, Type: e.TargetDocumentType}
}

// =============================================================================
// OPERATION INPUTS
// =============================================================================

type CreateInput struct {
	ClientID         string
	ClientName       string
	Amount           decimal.Decimal
	Date             time.Time // zero means today
	Reason           string
	LinkedDocumentID string
}

type ApplyInput struct {
	CreditNoteID  CreditNoteID
	Amount        decimal.Decimal
	Target        DocumentRef
	PaymentID     string
	PaymentMethod string
	Operator      string // empty means the engine's system operator
	Notes         string
}

type RefundInput struct {
	Method    string
	Reference string
	Date      time.Time // zero means now
}
