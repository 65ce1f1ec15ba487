/*
Package sqlite provides a SQLite-backed implementation of credit.TxStore.

PURPOSE:
  Durable single-file persistence for credit notes and the compensation
  ledger. The schema mirrors the CreditNote and CompensationEntry shapes
  one column per field so rows stay readable with the sqlite3 shell.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on compensations
  - No DELETE statements on compensations
  - credit_notes rows are upserted, never deleted

KEY TABLES:
  credit_notes:  One row per note, current balances
  compensations: Immutable ledger, one row per successful apply

ENCODING:
  Amounts are TEXT holding the exact decimal string. Timestamps are TEXT
  in RFC3339 with nanoseconds, so values round-trip without loss.
  Both tables carry an autoincrement seq giving creation order.

CONCURRENCY:
  The pool is capped at one connection. SQLite allows a single writer
  anyway, and ":memory:" databases are per-connection. A WithTx call
  therefore owns the database until it commits.

USAGE:
  store, err := sqlite.New("./data/creditnotes.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := credit.NewEngine(store)

SEE ALSO:
  - credit/store.go: Interface definitions
  - store/postgres: Same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/creditnote-engine/credit"
)

const timeFormat = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements credit.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// conn holds the queries; Store runs them on the pool, WithTx on a sql.Tx.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credit_notes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		number TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_name TEXT NOT NULL DEFAULT '',
		linked_document_id TEXT,
		date TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		original_amount TEXT NOT NULL,
		used_amount TEXT NOT NULL,
		remaining_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		refund_method TEXT,
		refund_date TEXT,
		refund_reference TEXT,
		refunded_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_notes_client
		ON credit_notes(client_id, status);

	-- Compensations (append-only ledger)
	CREATE TABLE IF NOT EXISTS compensations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		date TEXT NOT NULL,
		credit_note_id TEXT NOT NULL REFERENCES credit_notes(id),
		credit_note_number TEXT NOT NULL,
		credit_note_original_amount TEXT NOT NULL,
		applied_amount TEXT NOT NULL,
		remaining_after TEXT NOT NULL,
		target_document_id TEXT NOT NULL,
		target_document_number TEXT NOT NULL DEFAULT '',
		target_document_type TEXT NOT NULL,
		client_id TEXT NOT NULL,
		client_name TEXT NOT NULL DEFAULT '',
		payment_id TEXT,
		payment_method TEXT,
		operator TEXT NOT NULL,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_compensations_credit_note
		ON compensations(credit_note_id);
	CREATE INDEX IF NOT EXISTS idx_compensations_client
		ON compensations(client_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CREDIT NOTES (credit.NoteStore)
// =============================================================================

const noteColumns = `id, number, client_id, client_name, linked_document_id, date, reason,
	original_amount, used_amount, remaining_amount, status,
	refund_method, refund_date, refund_reference, refunded_amount, created_at, updated_at`

func (c conn) SaveNote(ctx context.Context, n credit.CreditNote) error {
	query := `
		INSERT INTO credit_notes (` + noteColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			client_id = excluded.client_id,
			client_name = excluded.client_name,
			linked_document_id = excluded.linked_document_id,
			date = excluded.date,
			reason = excluded.reason,
			original_amount = excluded.original_amount,
			used_amount = excluded.used_amount,
			remaining_amount = excluded.remaining_amount,
			status = excluded.status,
			refund_method = excluded.refund_method,
			refund_date = excluded.refund_date,
			refund_reference = excluded.refund_reference,
			refunded_amount = excluded.refunded_amount,
			updated_at = excluded.updated_at
	`

	var refundDate sql.NullString
	if n.RefundDate != nil {
		refundDate = sql.NullString{String: n.RefundDate.UTC().Format(timeFormat), Valid: true}
	}

	_, err := c.q.ExecContext(ctx, query,
		n.ID,
		n.Number,
		n.ClientID,
		n.ClientName,
		nullString(n.LinkedDocumentID),
		n.Date.UTC().Format(timeFormat),
		n.Reason,
		n.OriginalAmount.String(),
		n.UsedAmount.String(),
		n.RemainingAmount.String(),
		string(n.Status),
		nullString(n.RefundMethod),
		refundDate,
		nullString(n.RefundReference),
		n.RefundedAmount.String(),
		n.CreatedAt.UTC().Format(timeFormat),
		n.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to save credit note: %w", err)
	}
	return nil
}

func (c conn) GetNote(ctx context.Context, id credit.CreditNoteID) (credit.CreditNote, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM credit_notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
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
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + noteColumns + ` FROM credit_notes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit notes: %w", err)
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
	return notes, rows.Err()
}

func (c conn) CountNotes(ctx context.Context) (int, error) {
	var count int
	err := c.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM credit_notes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count credit notes: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (credit.CreditNote, error) {
	var (
		n                                   credit.CreditNote
		linked, refundMethod, refundRef     sql.NullString
		refundDate                          sql.NullString
		date, createdAt, updatedAt          string
		original, used, remaining, refunded string
		status                              string
	)

	err := row.Scan(
		&n.ID, &n.Number, &n.ClientID, &n.ClientName, &linked, &date, &n.Reason,
		&original, &used, &remaining, &status,
		&refundMethod, &refundDate, &refundRef, &refunded, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return n, err
		}
		return n, fmt.Errorf("failed to scan credit note: %w", err)
	}

	n.LinkedDocumentID = linked.String
	n.Status = credit.Status(status)
	n.RefundMethod = refundMethod.String
	n.RefundReference = refundRef.String

	p := parser{}
	n.Date = p.time(date)
	n.CreatedAt = p.time(createdAt)
	n.UpdatedAt = p.time(updatedAt)
	n.OriginalAmount = p.decimal(original)
	n.UsedAmount = p.decimal(used)
	n.RemainingAmount = p.decimal(remaining)
	n.RefundedAmount = p.decimal(refunded)
	if refundDate.Valid {
		t := p.time(refundDate.String)
		n.RefundDate = &t
	}
	if p.err != nil {
		return n, fmt.Errorf("failed to decode credit note %s: %w", n.ID, p.err)
	}
	return n, nil
}

// =============================================================================
// COMPENSATIONS (credit.EntryStore) - APPEND-ONLY
// =============================================================================

const entryColumns = `id, date, credit_note_id, credit_note_number, credit_note_original_amount,
	applied_amount, remaining_after, target_document_id, target_document_number, target_document_type,
	client_id, client_name, payment_id, payment_method, operator, notes`

func (c conn) AppendEntry(ctx context.Context, e credit.CompensationEntry) error {
	query := `
		INSERT INTO compensations (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.q.ExecContext(ctx, query,
		e.ID,
		e.Date.UTC().Format(timeFormat),
		e.CreditNoteID,
		e.CreditNoteNumber,
		e.CreditNoteOriginalAmount.String(),
		e.AppliedAmount.String(),
		e.RemainingAfter.String(),
		e.TargetDocumentID,
		e.TargetDocumentNumber,
		string(e.TargetDocumentType),
		e.ClientID,
		e.ClientName,
		nullString(e.PaymentID),
		nullString(e.PaymentMethod),
		e.Operator,
		nullString(e.Notes),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append compensation: %w", err)
	}
	return nil
}

func (c conn) LoadEntries(ctx context.Context, filter credit.EntryFilter) ([]credit.CompensationEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.CreditNoteID != "" {
		where = append(where, "credit_note_id = ?")
		args = append(args, filter.CreditNoteID)
	}

	query := `SELECT ` + entryColumns + ` FROM compensations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query compensations: %w", err)
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
	return entries, rows.Err()
}

func (c conn) EntryExists(ctx context.Context, id credit.EntryID) (bool, error) {
	var count int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM compensations WHERE id = ?", id,
	).Scan(&count)
	return count > 0, err
}

func scanEntry(row scanner) (credit.CompensationEntry, error) {
	var (
		e                                 credit.CompensationEntry
		date, original, applied, after    string
		targetType                        string
		paymentID, paymentMethod, notes   sql.NullString
	)

	err := row.Scan(
		&e.ID, &date, &e.CreditNoteID, &e.CreditNoteNumber, &original,
		&applied, &after, &e.TargetDocumentID, &e.TargetDocumentNumber, &targetType,
		&e.ClientID, &e.ClientName, &paymentID, &paymentMethod, &e.Operator, &notes,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan compensation: %w", err)
	}

	e.TargetDocumentType = credit.DocumentType(targetType)
	e.PaymentID = paymentID.String
	e.PaymentMethod = paymentMethod.String
	e.Notes = notes.String

	p := parser{}
	e.Date = p.time(date)
	e.CreditNoteOriginalAmount = p.decimal(original)
	e.AppliedAmount = p.decimal(applied)
	e.RemainingAfter = p.decimal(after)
	if p.err != nil {
		return e, fmt.Errorf("failed to decode compensation %s: %w", e.ID, p.err)
	}
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (credit.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Every read and
// write made through the given store goes through the same sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(store credit.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

var (
	_ credit.TxStore = (*Store)(nil)
	_ credit.Store   = conn{}
)

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parser keeps the first decode error so scans stay linear.
type parser struct {
	err error
}

func (p *parser) time(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return t
}

func (p *parser) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
