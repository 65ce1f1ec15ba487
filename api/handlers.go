/*
handlers.go - HTTP API handlers for the credit note engine

PURPOSE:
  Exposes credit.Engine via REST. Handles HTTP request/response, JSON
  serialization and validation, and delegates every rule to the engine.

ENDPOINTS:
  Credit notes:
    GET    /api/credit-notes                     List (?client_id=, ?available=true)
    POST   /api/credit-notes                     Create
    GET    /api/credit-notes/{id}                Get one
    POST   /api/credit-notes/{id}/apply          Apply to an invoice or work order
    POST   /api/credit-notes/{id}/cancel         Cancel
    POST   /api/credit-notes/{id}/refund         Refund
    GET    /api/credit-notes/{id}/compensations  Ledger rows of one note

  Compensations:
    POST   /api/compensations/batch              Apply several notes to one target
    GET    /api/compensations                    Ledger (?client_id=)

  Clients:
    GET    /api/clients/{id}/credit-balance      Aggregate balance

  Operations:
    GET    /api/audit                            Run the consistency audit
    GET    /api/audit/runs                       Scheduled audit history
    GET    /api/scenarios                        List demo scenarios
    POST   /api/scenarios/load                   Load a demo scenario
    GET    /healthz                              Liveness + store ping

REQUEST FLOW:
  1. Decode JSON body
  2. Validate shape (validator tags)
  3. Call the engine
  4. Map the error, or serialize the result

ERROR HANDLING:
  - 400: Validation errors, invalid amount / input / target
  - 404: Credit note not found
  - 409: Not available, insufficient balance, already in use, invalid state
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The operator field is a display string supplied by
  the caller and is recorded as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/creditnote-engine/credit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *credit.Engine
	Logger *zap.Logger

	// Optional; reported by /healthz when set.
	Store Pinger
	// Optional; backs /api/audit/runs.
	Scheduler *AuditScheduler

	validate *validator.Validate
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *credit.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// CREDIT NOTE HANDLERS
// =============================================================================

// ListCreditNotes returns notes, optionally for one client and only the
// ones that can still be applied.
func (h *Handler) ListCreditNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := r.URL.Query().Get("client_id")
	available, _ := strconv.ParseBool(r.URL.Query().Get("available"))

	var (
		notes []credit.CreditNote
		err   error
	)
	switch {
	case available:
		if clientID == "" {
			writeError(w, http.StatusBadRequest, "available=true requires client_id", nil)
			return
		}
		notes, err = h.Engine.ListAvailable(ctx, clientID)
	case clientID != "":
		notes, err = h.Engine.ListByClient(ctx, clientID)
	default:
		notes, err = h.Engine.List(ctx)
	}
	if err != nil {
		h.writeEngineError(w, "Failed to list credit notes", err)
		return
	}

	writeJSON(w, http.StatusOK, toCreditNoteDTOs(notes))
}

// CreateCreditNote issues a new credit note.
func (h *Handler) CreateCreditNote(w http.ResponseWriter, r *http.Request) {
	var req CreateCreditNoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	note, err := h.Engine.Create(r.Context(), credit.CreateInput{
		ClientID:         req.ClientID,
		ClientName:       req.ClientName,
		Amount:           req.Amount,
		Date:             date,
		Reason:           req.Reason,
		LinkedDocumentID: req.LinkedDocumentID,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to create credit note", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCreditNoteDTO(note))
}

// GetCreditNote returns a single note.
func (h *Handler) GetCreditNote(w http.ResponseWriter, r *http.Request) {
	id := credit.CreditNoteID(chi.URLParam(r, "id"))

	note, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get credit note", err)
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, "Credit note not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toCreditNoteDTO(*note))
}

// ApplyCreditNote applies part or all of a note to a target document.
func (h *Handler) ApplyCreditNote(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if !h.decode(w, r, &req) {
		return
	}

	note, err := h.Engine.Apply(r.Context(), credit.ApplyInput{
		CreditNoteID:  credit.CreditNoteID(chi.URLParam(r, "id")),
		Amount:        req.Amount,
		Target:        req.Target.toDomain(),
		PaymentID:     req.PaymentID,
		PaymentMethod: req.PaymentMethod,
		Operator:      req.Operator,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to apply credit note", err)
		return
	}

	writeJSON(w, http.StatusOK, toCreditNoteDTO(note))
}

// CancelCreditNote cancels a note that was never used.
func (h *Handler) CancelCreditNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := credit.CreditNoteID(chi.URLParam(r, "id"))

	if err := h.Engine.Cancel(ctx, id); err != nil {
		h.writeEngineError(w, "Failed to cancel credit note", err)
		return
	}

	note, err := h.Engine.Get(ctx, id)
	if err != nil || note == nil {
		writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "status": string(credit.StatusCancelled)})
		return
	}
	writeJSON(w, http.StatusOK, toCreditNoteDTO(*note))
}

// RefundCreditNote settles a note in cash instead of compensation.
func (h *Handler) RefundCreditNote(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	note, err := h.Engine.Refund(r.Context(), credit.CreditNoteID(chi.URLParam(r, "id")), credit.RefundInput{
		Method:    req.Method,
		Reference: req.Reference,
		Date:      date,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to refund credit note", err)
		return
	}

	writeJSON(w, http.StatusOK, toCreditNoteDTO(note))
}

// GetCreditNoteCompensations returns the ledger rows of one note.
func (h *Handler) GetCreditNoteCompensations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := credit.CreditNoteID(chi.URLParam(r, "id"))

	note, err := h.Engine.Get(ctx, id)
	if err != nil {
		h.writeEngineError(w, "Failed to get credit note", err)
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, "Credit note not found", nil)
		return
	}

	entries, err := h.Engine.LedgerByCreditNote(ctx, id)
	if err != nil {
		h.writeEngineError(w, "Failed to load compensations", err)
		return
	}
	writeJSON(w, http.StatusOK, toCompensationDTOs(entries))
}

// =============================================================================
// COMPENSATION HANDLERS
// =============================================================================

// ApplyBatch applies several notes to one target. Partial success is a
// 200 with success=false; the caller settles the remainder another way.
func (h *Handler) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchApplyRequest
	if !h.decode(w, r, &req) {
		return
	}

	items := make([]credit.BatchItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = credit.BatchItem{CreditNoteID: credit.CreditNoteID(it.CreditNoteID), Amount: it.Amount}
	}

	result := h.Engine.ApplyBatch(r.Context(), credit.BatchInput{
		Items:         items,
		Target:        req.Target.toDomain(),
		PaymentID:     req.PaymentID,
		PaymentMethod: req.PaymentMethod,
		Operator:      req.Operator,
		Notes:         req.Notes,
	})

	writeJSON(w, http.StatusOK, BatchResultDTO{
		Success:      result.Success,
		AppliedCount: result.AppliedCount,
		Errors:       result.Errors,
		Applied:      toCreditNoteDTOs(result.Applied),
	})
}

// ListCompensations returns the ledger, optionally for one client.
func (h *Handler) ListCompensations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := r.URL.Query().Get("client_id")

	var (
		entries []credit.CompensationEntry
		err     error
	)
	if clientID != "" {
		entries, err = h.Engine.LedgerByClient(ctx, clientID)
	} else {
		entries, err = h.Engine.Ledger(ctx)
	}
	if err != nil {
		h.writeEngineError(w, "Failed to load compensations", err)
		return
	}

	writeJSON(w, http.StatusOK, toCompensationDTOs(entries))
}

// =============================================================================
// CLIENT / OPERATIONS HANDLERS
// =============================================================================

// GetClientCreditBalance returns the aggregate of a client's notes.
func (h *Handler) GetClientCreditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.Engine.ClientBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientBalanceDTO(balance))
}

// GetAudit runs the consistency audit on demand.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Audit(r.Context())
	if err != nil {
		h.writeEngineError(w, "Failed to run audit", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports liveness and, when configured, store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads and validates a JSON body. It writes the 400 itself and
// reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "Validation failed",
				Fields: validationFields(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return fields
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case credit.IsClientError(err):
		return http.StatusBadRequest
	case credit.IsNotFound(err):
		return http.StatusNotFound
	case credit.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}
