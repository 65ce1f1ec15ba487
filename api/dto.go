/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the credit package's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  decimal.Decimal on both sides. Responses carry amounts as JSON strings
  ("400.25") so no precision is lost; requests accept strings or numbers.

VALIDATION:
  Struct tags (go-playground/validator) cover request shape only: date
  formats, non-empty batches, field lengths. Business rules (positive
  amounts, known document types, status checks) stay in the engine so
  their order and error types are the same for every caller.

SEE ALSO:
  - handlers.go: Uses these types
  - credit/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/creditnote-engine/credit"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

type CreateCreditNoteRequest struct {
	ClientID         string          `json:"client_id" validate:"max=100"`
	ClientName       string          `json:"client_name" validate:"max=200"`
	Amount           decimal.Decimal `json:"amount"`
	Date             string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Reason           string          `json:"reason" validate:"max=500"`
	LinkedDocumentID string          `json:"linked_document_id" validate:"max=100"`
}

type DocumentRefDTO struct {
	ID     string `json:"id" validate:"max=100"`
	Number string `json:"number" validate:"max=100"`
	Type   string `json:"type"`
}

type ApplyRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Target        DocumentRefDTO  `json:"target"`
	PaymentID     string          `json:"payment_id" validate:"max=100"`
	PaymentMethod string          `json:"payment_method" validate:"max=50"`
	Operator      string          `json:"operator" validate:"max=100"`
	Notes         string          `json:"notes" validate:"max=1000"`
}

type RefundRequest struct {
	Method    string `json:"method" validate:"max=50"`
	Reference string `json:"reference" validate:"max=100"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type BatchItemDTO struct {
	CreditNoteID string          `json:"credit_note_id"`
	Amount       decimal.Decimal `json:"amount"`
}

type BatchApplyRequest struct {
	Items         []BatchItemDTO `json:"items" validate:"required,min=1,max=100,dive"`
	Target        DocumentRefDTO `json:"target"`
	PaymentID     string         `json:"payment_id" validate:"max=100"`
	PaymentMethod string         `json:"payment_method" validate:"max=50"`
	Operator      string         `json:"operator" validate:"max=100"`
	Notes         string         `json:"notes" validate:"max=1000"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CreditNoteDTO struct {
	ID                string          `json:"id"`
	Number            string          `json:"number"`
	ClientID          string          `json:"client_id"`
	ClientName        string          `json:"client_name"`
	LinkedDocumentID  string          `json:"linked_document_id,omitempty"`
	Date              string          `json:"date"`
	Reason            string          `json:"reason"`
	OriginalAmount    decimal.Decimal `json:"original_amount"`
	UsedAmount        decimal.Decimal `json:"used_amount"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	CompensatedAmount decimal.Decimal `json:"compensated_amount"`
	RefundedAmount    decimal.Decimal `json:"refunded_amount"`
	Status            string          `json:"status"`
	RefundMethod      string          `json:"refund_method,omitempty"`
	RefundDate        string          `json:"refund_date,omitempty"`
	RefundReference   string          `json:"refund_reference,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

type CompensationDTO struct {
	ID                       string          `json:"id"`
	Date                     string          `json:"date"`
	CreditNoteID             string          `json:"credit_note_id"`
	CreditNoteNumber         string          `json:"credit_note_number"`
	CreditNoteOriginalAmount decimal.Decimal `json:"credit_note_original_amount"`
	AppliedAmount            decimal.Decimal `json:"applied_amount"`
	RemainingAfter           decimal.Decimal `json:"remaining_after"`
	Target                   DocumentRefDTO  `json:"target"`
	ClientID                 string          `json:"client_id"`
	ClientName               string          `json:"client_name"`
	PaymentID                string          `json:"payment_id,omitempty"`
	PaymentMethod            string          `json:"payment_method,omitempty"`
	Operator                 string          `json:"operator"`
	Notes                    string          `json:"notes,omitempty"`
}

type BatchResultDTO struct {
	Success      bool            `json:"success"`
	AppliedCount int             `json:"applied_count"`
	Errors       []string        `json:"errors"`
	Applied      []CreditNoteDTO `json:"applied"`
}

type ClientBalanceDTO struct {
	ClientID    string          `json:"client_id"`
	NoteCount   int             `json:"note_count"`
	Original    decimal.Decimal `json:"original"`
	Used        decimal.Decimal `json:"used"`
	Remaining   decimal.Decimal `json:"remaining"`
	Compensated decimal.Decimal `json:"compensated"`
	Refunded    decimal.Decimal `json:"refunded"`
	Spendable   decimal.Decimal `json:"spendable"`
	ByStatus    map[string]int  `json:"by_status"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ScenarioResultDTO struct {
	ScenarioID string          `json:"scenario_id"`
	Notes      []CreditNoteDTO `json:"notes"`
	Messages   []string        `json:"messages"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCreditNoteDTO(n credit.CreditNote) CreditNoteDTO {
	dto := CreditNoteDTO{
		ID:                string(n.ID),
		Number:            n.Number,
		ClientID:          n.ClientID,
		ClientName:        n.ClientName,
		LinkedDocumentID:  n.LinkedDocumentID,
		Date:              n.Date.Format(dateLayout),
		Reason:            n.Reason,
		OriginalAmount:    n.OriginalAmount,
		UsedAmount:        n.UsedAmount,
		RemainingAmount:   n.RemainingAmount,
		CompensatedAmount: n.CompensatedAmount(),
		RefundedAmount:    n.RefundedAmount,
		Status:            string(n.Status),
		RefundMethod:      n.RefundMethod,
		RefundReference:   n.RefundReference,
		CreatedAt:         n.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         n.UpdatedAt.Format(time.RFC3339),
	}
	if n.RefundDate != nil {
		dto.RefundDate = n.RefundDate.Format(time.RFC3339)
	}
	return dto
}

func toCreditNoteDTOs(notes []credit.CreditNote) []CreditNoteDTO {
	dtos := make([]CreditNoteDTO, len(notes))
	for i, n := range notes {
		dtos[i] = toCreditNoteDTO(n)
	}
	return dtos
}

func toCompensationDTOs(entries []credit.CompensationEntry) []CompensationDTO {
	dtos := make([]CompensationDTO, len(entries))
	for i, e := range entries {
		dtos[i] = CompensationDTO{
			ID:                       string(e.ID),
			Date:                     e.Date.Format(time.RFC3339),
			CreditNoteID:             string(e.CreditNoteID),
			CreditNoteNumber:         e.CreditNoteNumber,
			CreditNoteOriginalAmount: e.CreditNoteOriginalAmount,
			AppliedAmount:            e.AppliedAmount,
			RemainingAfter:           e.RemainingAfter,
			Target: DocumentRefDTO{
				ID:     e.TargetDocumentID,
				Number: e.TargetDocumentNumber,
				Type:   string(e.TargetDocumentType),
			},
			ClientID:      e.ClientID,
			ClientName:    e.ClientName,
			PaymentID:     e.PaymentID,
			PaymentMethod: e.PaymentMethod,
			Operator:      e.Operator,
			Notes:         e.Notes,
		}
	}
	return dtos
}

func toClientBalanceDTO(b credit.ClientBalance) ClientBalanceDTO {
	byStatus := make(map[string]int, len(b.ByStatus))
	for s, n := range b.ByStatus {
		byStatus[string(s)] = n
	}
	return ClientBalanceDTO{
		ClientID:    b.ClientID,
		NoteCount:   b.NoteCount,
		Original:    b.Original,
		Used:        b.Used,
		Remaining:   b.Remaining,
		Compensated: b.Compensated,
		Refunded:    b.Refunded,
		Spendable:   b.Spendable,
		ByStatus:    byStatus,
	}
}

func (d DocumentRefDTO) toDomain() credit.DocumentRef {
	return credit.DocumentRef{ID: d.ID, Number: d.Number, Type: credit.DocumentType(d.Type)}
}

// parseDate accepts an empty string as "not given".
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
