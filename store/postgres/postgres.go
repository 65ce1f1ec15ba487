// Package postgres provides a PostgreSQL implementation of credit.TxStore.
//
// Amounts are NUMERIC columns written from and read back as exact decimal
// strings. Timestamps are TIMESTAMPTZ, which keeps microseconds; the engine
// clock truncates to the same precision. Inside WithTx, GetNote takes a row
// lock (SELECT ... FOR UPDATE) so two processes sharing the database
// serialize on the same note even without a distributed Locker.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/creditnote-engine/credit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credit.TxStore on a pgx pool.
type Store struct {
	conn
	pool *pgxpool.Pool
}

type conn struct {
	q         querier
	forUpdate bool
}

// New connects, pings and migrates the database at dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{conn: conn{q: pool}, pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn inside a single pgx transaction.
func (s *Store) WithTx(ctx context.Context, fn func(credit.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(conn{q: tx, forUpdate: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var (
	_ credit.TxStore = (*Store)(nil)
	_ credit.Store   = conn{}
)

// =============================================================================
// CREDIT NOTES
// =============================================================================

const noteColumns = `id, number, client_id, client_name, linked_document_id, date, reason,
	original_amount::text, used_amount::text, remaining_amount::text, status,
	refund_method, refund_date, refund_reference, refunded_amount::text, created_at, updated_at`

func (c conn) SaveNote(ctx context.Context, n credit.CreditNote) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO credit_notes (id, number, client_id, client_name, linked_document_id, date, reason,
			original_amount, used_amount, remaining_amount, status,
			refund_method, refund_date, refund_reference, refunded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number,
			client_id = EXCLUDED.client_id,
			client_name = EXCLUDED.client_name,
			linked_document_id = EXCLUDED.linked_document_id,
			date = EXCLUDED.date,
			reason = EXCLUDED.reason,
			original_amount = EXCLUDED.original_amount,
			used_amount = EXCLUDED.used_amount,
			remaining_amount = EXCLUDED.remaining_amount,
			status = EXCLUDED.status,
			refund_method = EXCLUDED.refund_method,
			refund_date = EXCLUDED.refund_date,
			refund_reference = EXCLUDED.refund_reference,
			refunded_amount = EXCLUDED.refunded_amount,
			updated_at = EXCLUDED.updated_at`,
		string(n.ID), n.Number, n.ClientID, n.ClientName, nullable(n.LinkedDocumentID), n.Date, n.Reason,
		n.OriginalAmount.String(), n.UsedAmount.String(), n.RemainingAmount.String(), string(n.Status),
		nullable(n.RefundMethod), n.RefundDate, nullable(n.RefundReference), n.RefundedAmount.String(),
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save credit note: %w", err)
	}
	return nil
}

func (c conn) GetNote(ctx context.Context, id credit.CreditNoteID) (credit.CreditNote, error) {
	query := `SELECT ` + noteColumns + ` FROM credit_notes WHERE id = $1`
	if c.forUpdate {
		query += " FOR UPDATE"
	}
	n, err := scanNote(c.q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return credit.CreditNote{}, credit.ErrNotFound
	}
	return n, err
}

func (c conn) ListNotes(ctx context.Context, filter credit.NoteFilter) ([]credit.CreditNote, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + noteColumns + ` FROM credit_notes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select credit notes: %w", err)
	}
	defer rows.Close()

	notes := []credit.CreditNote{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return notes, nil
}

func (c conn) CountNotes(ctx context.Context) (int, error) {
	var count int
	if err := c.q.QueryRow(ctx, `SELECT COUNT(*) FROM credit_notes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count credit notes: %w", err)
	}
	return count, nil
}

func scanNote(row pgx.Row) (credit.CreditNote, error) {
	var (
		n                                   credit.CreditNote
		id, status                          string
		linked, refundMethod, refundRef     *string
		original, used, remaining, refunded string
		refundDate                          *time.Time
	)
	err := row.Scan(
		&id, &n.Number, &n.ClientID, &n.ClientName, &linked, &n.Date, &n.Reason,
		&original, &used, &remaining, &status,
		&refundMethod, &refundDate, &refundRef, &refunded, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return n, err
		}
		return n, fmt.Errorf("scan credit note: %w", err)
	}

	n.ID = credit.CreditNoteID(id)
	n.Status = credit.Status(status)
	n.LinkedDocumentID = deref(linked)
	n.RefundMethod = deref(refundMethod)
	n.RefundReference = deref(refundRef)
	n.Date = n.Date.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	if refundDate != nil {
		t := refundDate.UTC()
		n.RefundDate = &t
	}

	amounts, err := parseDecimals(original, used, remaining, refunded)
	if err != nil {
		return n, fmt.Errorf("decode credit note %s: %w", id, err)
	}
	n.OriginalAmount, n.UsedAmount, n.RemainingAmount, n.RefundedAmount = amounts[0], amounts[1], amounts[2], amounts[3]
	return n, nil
}

// =============================================================================
// COMPENSATIONS - APPEND-ONLY
// =============================================================================

const entryColumns = `id, date, credit_note_id, credit_note_number, credit_note_original_amount::text,
	applied_amount::text, remaining_after::text, target_document_id, target_document_number, target_document_type,
	client_id, client_name, payment_id, payment_method, operator, notes`

func (c conn) AppendEntry(ctx context.Context, e credit.CompensationEntry) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO compensations (id, date, credit_note_id, credit_note_number, credit_note_original_amount,
			applied_amount, remaining_after, target_document_id, target_document_number, target_document_type,
			client_id, client_name, payment_id, payment_method, operator, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(e.ID), e.Date, string(e.CreditNoteID), e.CreditNoteNumber, e.CreditNoteOriginalAmount.String(),
		e.AppliedAmount.String(), e.RemainingAfter.String(), e.TargetDocumentID, e.TargetDocumentNumber,
		string(e.TargetDocumentType), e.ClientID, e.ClientName, nullable(e.PaymentID), nullable(e.PaymentMethod),
		e.Operator, nullable(e.Notes),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return credit.ErrDuplicateEntry
		}
		return fmt.Errorf("insert compensation: %w", err)
	}
	return nil
}

func (c conn) LoadEntries(ctx context.Context, filter credit.EntryFilter) ([]credit.CompensationEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.CreditNoteID != "" {
		args = append(args, string(filter.CreditNoteID))
		where = append(where, fmt.Sprintf("credit_note_id = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM compensations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select compensations: %w", err)
	}
	defer rows.Close()

	entries := []credit.CompensationEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return entries, nil
}

func (c conn) EntryExists(ctx context.Context, id credit.EntryID) (bool, error) {
	var exists bool
	err := c.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM compensations WHERE id = $1)`, string(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check compensation: %w", err)
	}
	return exists, nil
}

func scanEntry(row pgx.Row) (credit.CompensationEntry, error) {
	var (
		e                                credit.CompensationEntry
		id, noteID, targetType           string
		original, applied, after         string
		paymentID, paymentMethod, notes  *string
	)
	err := row.Scan(
		&id, &e.Date, &noteID, &e.CreditNoteNumber, &original,
		&applied, &after, &e.TargetDocumentID, &e.TargetDocumentNumber, &targetType,
		&e.ClientID, &e.ClientName, &paymentID, &paymentMethod, &e.Operator, &notes,
	)
	if err != nil {
		return e, fmt.Errorf("scan compensation: %w", err)
	}

	e.ID = credit.EntryID(id)
	e.CreditNoteID = credit.CreditNoteID(noteID)
	e.TargetDocumentType = credit.DocumentType(targetType)
	e.Date = e.Date.UTC()
	e.PaymentID = deref(paymentID)
	e.PaymentMethod = deref(paymentMethod)
	e.Notes = deref(notes)

	amounts, err := parseDecimals(original, applied, after)
	if err != nil {
		return e, fmt.Errorf("decode compensation %s: %w", id, err)
	}
	e.CreditNoteOriginalAmount, e.AppliedAmount, e.RemainingAfter = amounts[0], amounts[1], amounts[2]
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
