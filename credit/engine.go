/*
engine.go - Credit note compensation engine

PURPOSE:
  The Engine is the only writer of credit notes and compensation entries.
  It enforces the balance invariants, drives the status state machine and
  notifies subscribers after every committed mutation.

STATE MACHINE:
  available ──apply──> partially_used ──apply──> used
      │                      │
      │                      └──apply (exact remaining)──> used
      ├──cancel──> cancelled   (terminal)
      └──refund──> refunded    (terminal)

OPERATION FLOW (apply, cancel, refund):
  1. Acquire the per-note lock (Locker)
  2. Read the note from the store
  3. Validate, first failure wins, nothing written on failure
  4. Write note (+ ledger entry) atomically when the store is a TxStore
  5. Release the lock
  6. Notify subscribers

CONCURRENCY:
  Only the note being mutated is locked. Applying to note A never waits
  on note B. Creation holds a separate lock so numbers stay sequential.

SEE ALSO:
  - batch.go: ApplyBatch
  - lock.go: KeyedMutex (in-process Locker)
  - cluster/locker.go: Redis-backed Locker
*/
package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultSystemOperator is recorded on entries applied without an operator.
	DefaultSystemOperator = "Système"

	// DefaultNumberPrefix starts every credit note number.
	DefaultNumberPrefix = "AV"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store          Store
	locker         Locker
	notifier       *Notifier
	numberer       Numberer
	logger         *zap.Logger
	now            func() time.Time
	newID          func() string
	systemOperator string

	createMu sync.Mutex
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithLocker(locker Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

func WithNumberer(n Numberer) Option {
	return func(e *Engine) { e.numberer = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithSystemOperator sets the identity recorded when a caller gives none.
func WithSystemOperator(name string) Option {
	return func(e *Engine) { e.systemOperator = name }
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		locker:         NewKeyedMutex(),
		numberer:       SequenceNumberer{Prefix: DefaultNumberPrefix},
		logger:         zap.NewNop(),
		now:            func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:          uuid.NewString,
		systemOperator: DefaultSystemOperator,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.notifier = NewNotifier(e.logger)
	return e
}

// Subscribe registers a change listener. See Notifier.
func (e *Engine) Subscribe(fn Listener) (unsubscribe func()) {
	return e.notifier.Subscribe(fn)
}

func (e *Engine) SystemOperator() string {
	return e.systemOperator
}

// =============================================================================
// CREATE
// =============================================================================

func (e *Engine) Create(ctx context.Context, in CreateInput) (CreditNote, error) {
	note, err := e.create(ctx, in)
	if err != nil {
		e.logRejected("create", "", err)
		return CreditNote{}, err
	}
	e.logger.Info("credit note created",
		zap.String("credit_note_id", string(note.ID)),
		zap.String("number", note.Number),
		zap.String("client_id", note.ClientID),
		zap.String("amount", note.OriginalAmount.String()),
	)
	e.notifier.Notify()
	return note, nil
}

func (e *Engine) create(ctx context.Context, in CreateInput) (CreditNote, error) {
	if !in.Amount.IsPositive() {
		return CreditNote{}, ErrInvalidAmount
	}
	if strings.TrimSpace(in.ClientID) == "" {
		return CreditNote{}, fmt.Errorf("%w: client id is required", ErrInvalidInput)
	}

	now := e.now()
	date := in.Date
	if date.IsZero() {
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	number, err := e.numberer.Next(ctx, e.store, date)
	if err != nil {
		return CreditNote{}, err
	}

	note := CreditNote{
		ID:               CreditNoteID(e.newID()),
		Number:           number,
		ClientID:         in.ClientID,
		ClientName:       in.ClientName,
		LinkedDocumentID: in.LinkedDocumentID,
		Date:             date,
		Reason:           in.Reason,
		OriginalAmount:   in.Amount,
		UsedAmount:       decimal.Zero,
		RemainingAmount:  in.Amount,
		Status:           StatusAvailable,
		RefundedAmount:   decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.SaveNote(ctx, note); err != nil {
		return CreditNote{}, fmt.Errorf("save credit note: %w", err)
	}
	return note.Clone(), nil
}

// =============================================================================
// APPLY
// =============================================================================

// Apply takes in.Amount from a credit note toward a target document and
// records a ledger entry. Returns a copy of the updated note.
func (e *Engine) Apply(ctx context.Context, in ApplyInput) (CreditNote, error) {
	note, err := e.apply(ctx, in)
	if err != nil {
		e.logRejected("apply", in.CreditNoteID, err)
		return CreditNote{}, err
	}
	e.logger.Info("credit note applied",
		zap.String("credit_note_id", string(note.ID)),
		zap.String("amount", in.Amount.String()),
		zap.String("remaining", note.RemainingAmount.String()),
		zap.String("status", string(note.Status)),
		zap.String("target", in.Target.Number),
	)
	e.notifier.Notify()
	return note, nil
}

func (e *Engine) apply(ctx context.Context, in ApplyInput) (CreditNote, error) {
	release, err := e.lock(ctx, in.CreditNoteID)
	if err != nil {
		return CreditNote{}, err
	}
	defer release()

	var updated CreditNote
	err = e.withTx(ctx, func(s Store) error {
		note, err := s.GetNote(ctx, in.CreditNoteID)
		if err != nil {
			return err
		}
		if err := validateApply(note, in); err != nil {
			return err
		}

		now := e.now()
		updated = note.Clone()
		updated.UsedAmount = note.UsedAmount.Add(in.Amount)
		updated.RemainingAmount = note.OriginalAmount.Sub(updated.UsedAmount)
		updated.Status = statusFor(updated.UsedAmount, note.OriginalAmount)
		updated.UpdatedAt = now

		entry := CompensationEntry{
			ID:                       EntryID(e.newID()),
			Date:                     now,
			CreditNoteID:             note.ID,
			CreditNoteNumber:         note.Number,
			CreditNoteOriginalAmount: note.OriginalAmount,
			AppliedAmount:            in.Amount,
			RemainingAfter:           updated.RemainingAmount,
			TargetDocumentID:         in.Target.ID,
			TargetDocumentNumber:     in.Target.Number,
			TargetDocumentType:       in.Target.Type,
			ClientID:                 note.ClientID,
			ClientName:               note.ClientName,
			PaymentID:                in.PaymentID,
			PaymentMethod:            in.PaymentMethod,
			Operator:                 e.operator(in.Operator),
			Notes:                    in.Notes,
		}

		if err := s.SaveNote(ctx, updated); err != nil {
			return fmt.Errorf("save credit note: %w", err)
		}
		if err := NewLedger(s).Append(ctx, entry); err != nil {
			if _, ok := e.store.(TxStore); !ok {
				// No transaction to roll back: put the previous note back.
				if rerr := s.SaveNote(ctx, note); rerr != nil {
					e.logger.Error("restore credit note after failed append",
						zap.String("credit_note_id", string(note.ID)), zap.Error(rerr))
				}
			}
			return fmt.Errorf("append compensation: %w", err)
		}
		return nil
	})
	if err != nil {
		return CreditNote{}, err
	}
	return updated.Clone(), nil
}

func validateApply(note CreditNote, in ApplyInput) error {
	if !note.Status.CanApply() {
		return stateError(note, "apply", ErrNotAvailable)
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if in.Amount.GreaterThan(note.RemainingAmount) {
		return &InsufficientBalanceError{
			CreditNoteID: note.ID,
			Requested:    in.Amount,
			Available:    note.RemainingAmount,
		}
	}
	if strings.TrimSpace(in.Target.ID) == "" || !in.Target.Type.Valid() {
		return fmt.Errorf("%w: id %q, type %q", ErrInvalidTarget, in.Target.ID, in.Target.Type)
	}
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves an untouched note to cancelled. No ledger entry is written.
func (e *Engine) Cancel(ctx context.Context, id CreditNoteID) error {
	if err := e.cancel(ctx, id); err != nil {
		e.logRejected("cancel", id, err)
		return err
	}
	e.logger.Info("credit note cancelled", zap.String("credit_note_id", string(id)))
	e.notifier.Notify()
	return nil
}

func (e *Engine) cancel(ctx context.Context, id CreditNoteID) error {
	release, err := e.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	return e.withTx(ctx, func(s Store) error {
		note, err := s.GetNote(ctx, id)
		if err != nil {
			return err
		}
		if note.Status == StatusCancelled || note.Status == StatusRefunded {
			return stateError(note, "cancel", ErrInvalidState)
		}
		if !note.UsedAmount.IsZero() {
			return stateError(note, "cancel", ErrAlreadyInUse)
		}

		updated := note.Clone()
		updated.Status = StatusCancelled
		updated.UpdatedAt = e.now()
		if err := s.SaveNote(ctx, updated); err != nil {
			return fmt.Errorf("save credit note: %w", err)
		}
		return nil
	})
}

// =============================================================================
// REFUND
// =============================================================================

// Refund settles an untouched note in cash. UsedAmount is forced to
// OriginalAmount and RefundedAmount records the same value so reports can
// tell a refund from compensations. No ledger entry is written.
func (e *Engine) Refund(ctx context.Context, id CreditNoteID, in RefundInput) (CreditNote, error) {
	note, err := e.refund(ctx, id, in)
	if err != nil {
		e.logRejected("refund", id, err)
		return CreditNote{}, err
	}
	e.logger.Info("credit note refunded",
		zap.String("credit_note_id", string(id)),
		zap.String("method", note.RefundMethod),
		zap.String("amount", note.RefundedAmount.String()),
	)
	e.notifier.Notify()
	return note, nil
}

func (e *Engine) refund(ctx context.Context, id CreditNoteID, in RefundInput) (CreditNote, error) {
	release, err := e.lock(ctx, id)
	if err != nil {
		return CreditNote{}, err
	}
	defer release()

	var updated CreditNote
	err = e.withTx(ctx, func(s Store) error {
		note, err := s.GetNote(ctx, id)
		if err != nil {
			return err
		}
		if note.Status.IsTerminal() || !note.UsedAmount.IsZero() {
			return stateError(note, "refund", ErrAlreadyProcessed)
		}
		if strings.TrimSpace(in.Method) == "" {
			return fmt.Errorf("%w: refund method is required", ErrInvalidInput)
		}

		now := e.now()
		refundDate := in.Date
		if refundDate.IsZero() {
			refundDate = now
		}

		updated = note.Clone()
		updated.Status = StatusRefunded
		updated.UsedAmount = note.OriginalAmount
		updated.RemainingAmount = decimal.Zero
		updated.RefundedAmount = note.OriginalAmount
		updated.RefundMethod = in.Method
		updated.RefundReference = in.Reference
		updated.RefundDate = &refundDate
		updated.UpdatedAt = now
		if err := s.SaveNote(ctx, updated); err != nil {
			return fmt.Errorf("save credit note: %w", err)
		}
		return nil
	})
	if err != nil {
		return CreditNote{}, err
	}
	return updated.Clone(), nil
}

// =============================================================================
// QUERIES - Read-only, return copies
// =============================================================================

// Get returns the note, or nil when the id is unknown.
func (e *Engine) Get(ctx context.Context, id CreditNoteID) (*CreditNote, error) {
	note, err := e.store.GetNote(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c := note.Clone()
	return &c, nil
}

func (e *Engine) List(ctx context.Context) ([]CreditNote, error) {
	return e.listNotes(ctx, NoteFilter{})
}

func (e *Engine) ListByClient(ctx context.Context, clientID string) ([]CreditNote, error) {
	return e.listNotes(ctx, NoteFilter{ClientID: clientID})
}

// ListAvailable returns a client's notes that can still be applied.
func (e *Engine) ListAvailable(ctx context.Context, clientID string) ([]CreditNote, error) {
	notes, err := e.listNotes(ctx, NoteFilter{
		ClientID: clientID,
		Statuses: []Status{StatusAvailable, StatusPartiallyUsed},
	})
	if err != nil {
		return nil, err
	}
	result := notes[:0]
	for _, n := range notes {
		if n.RemainingAmount.IsPositive() {
			result = append(result, n)
		}
	}
	return result, nil
}

func (e *Engine) listNotes(ctx context.Context, filter NoteFilter) ([]CreditNote, error) {
	notes, err := e.store.ListNotes(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := make([]CreditNote, len(notes))
	for i, n := range notes {
		result[i] = n.Clone()
	}
	return result, nil
}

func (e *Engine) Ledger(ctx context.Context) ([]CompensationEntry, error) {
	return NewLedger(e.store).Entries(ctx)
}

func (e *Engine) LedgerByClient(ctx context.Context, clientID string) ([]CompensationEntry, error) {
	return NewLedger(e.store).EntriesByClient(ctx, clientID)
}

func (e *Engine) LedgerByCreditNote(ctx context.Context, id CreditNoteID) ([]CompensationEntry, error) {
	return NewLedger(e.store).EntriesByCreditNote(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) lock(ctx context.Context, id CreditNoteID) (func(), error) {
	release, err := e.locker.Lock(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("lock credit note %s: %w", id, err)
	}
	return release, nil
}

func (e *Engine) withTx(ctx context.Context, fn func(Store) error) error {
	if ts, ok := e.store.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(e.store)
}

func (e *Engine) operator(op string) string {
	if strings.TrimSpace(op) == "" {
		return e.systemOperator
	}
	return op
}

func (e *Engine) logRejected(op string, id CreditNoteID, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	if id != "" {
		fields = append(fields, zap.String("credit_note_id", string(id)))
	}
	if IsClientError(err) || IsNotFound(err) || IsConflict(err) {
		e.logger.Debug("credit note operation rejected", fields...)
		return
	}
	e.logger.Error("credit note operation failed", fields...)
}
