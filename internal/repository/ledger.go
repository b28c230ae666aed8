package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/intrastat-extractor/constants"
	"github.com/joseph-ayodele/intrastat-extractor/internal/common"
	"github.com/joseph-ayodele/intrastat-extractor/internal/entity"
)

// stampLayout is fixed-width so that stored timestamps sort as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		documents INTEGER NOT NULL,
		rows_added INTEGER,
		issues INTEGER,
		error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS batch_documents (
		batch_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		PRIMARY KEY (batch_id, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batch_documents_sha256 ON batch_documents (sha256)`,
	`CREATE TABLE IF NOT EXISTS invoice_status (
		batch_id TEXT NOT NULL,
		document TEXT NOT NULL,
		invoice TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoice_status_batch ON invoice_status (batch_id)`,
}

// Ledger records batches, their documents and every invoice status
// transition. Timestamps are stored as fixed-width UTC text so that the same
// schema serves SQLite and Postgres.
type Ledger struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewLedger(db *DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, now: time.Now, logger: logger}
}

// Migrate creates the ledger tables when missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := l.db.SQL.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError(common.CodePersistenceFailure, "migrate ledger", err)
		}
	}
	return nil
}

func (l *Ledger) StartBatch(ctx context.Context, batchID string, docs []entity.Document) error {
	tx, err := l.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, common.ErrDatabase, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, l.db.rebind(`INSERT INTO batches (id, started_at, documents) VALUES (?, ?, ?)`),
		batchID, l.stamp(), len(docs)); err != nil {
		return common.WrapError(err, common.ErrDatabase, "insert batch")
	}
	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, l.db.rebind(`INSERT INTO batch_documents (batch_id, name, sha256) VALUES (?, ?, ?)`),
			batchID, d.Name, d.SHA256); err != nil {
			return common.WrapError(err, common.ErrDatabase, "insert document "+d.Name)
		}
	}
	return common.WrapError(tx.Commit(), common.ErrDatabase, "commit batch")
}

func (l *Ledger) FinishBatch(ctx context.Context, batchID string, rowsAdded, issues int, failure error) error {
	var errText sql.NullString
	if failure != nil {
		errText = sql.NullString{String: failure.Error(), Valid: true}
	}
	_, err := l.db.SQL.ExecContext(ctx,
		l.db.rebind(`UPDATE batches SET finished_at = ?, rows_added = ?, issues = ?, error = ? WHERE id = ?`),
		l.stamp(), rowsAdded, issues, errText, batchID)
	if err != nil {
		return common.WrapError(err, common.ErrDatabase, "finish batch")
	}
	return nil
}

// Record implements the pipeline status sink. Write failures are logged only.
func (l *Ledger) Record(ctx context.Context, ev entity.StatusEvent) {
	at := ev.At
	if at.IsZero() {
		at = l.now()
	}
	_, err := l.db.SQL.ExecContext(ctx,
		l.db.rebind(`INSERT INTO invoice_status (batch_id, document, invoice, status, reason, at) VALUES (?, ?, ?, ?, ?, ?)`),
		ev.BatchID, ev.Document, ev.Invoice, string(ev.Status), ev.Reason, at.UTC().Format(stampLayout))
	if err != nil {
		l.logger.Warn("ledger.status.write_failed", "batch_id", ev.BatchID, "document", ev.Document, "status", ev.Status, "error", err)
	}
}

// Processed reports whether content with this hash was part of a batch that
// finished without a persistence failure.
func (l *Ledger) Processed(ctx context.Context, sha256 string) (bool, error) {
	var n int
	err := l.db.SQL.QueryRowContext(ctx, l.db.rebind(`
		SELECT COUNT(*) FROM batch_documents d
		JOIN batches b ON b.id = d.batch_id
		WHERE d.sha256 = ? AND b.finished_at IS NOT NULL AND b.error IS NULL`), sha256).Scan(&n)
	if err != nil {
		return false, common.WrapError(err, common.ErrDatabase, "lookup "+sha256)
	}
	return n > 0, nil
}

// Statuses returns the transitions of a batch in the order they were recorded.
func (l *Ledger) Statuses(ctx context.Context, batchID string) ([]entity.StatusEvent, error) {
	rows, err := l.db.SQL.QueryContext(ctx, l.db.rebind(`
		SELECT document, invoice, status, reason, at FROM invoice_status
		WHERE batch_id = ? ORDER BY at, document, invoice`), batchID)
	if err != nil {
		return nil, common.WrapError(err, common.ErrDatabase, "query statuses")
	}
	defer func() { _ = rows.Close() }()

	var out []entity.StatusEvent
	for rows.Next() {
		var (
			ev     entity.StatusEvent
			status string
			reason sql.NullString
			at     string
		)
		if err := rows.Scan(&ev.Document, &ev.Invoice, &status, &reason, &at); err != nil {
			return nil, common.WrapError(err, common.ErrDatabase, "scan status")
		}
		ev.BatchID = batchID
		ev.Status = constants.InvoiceStatus(status)
		ev.Reason = reason.String
		if ev.At, err = time.Parse(stampLayout, at); err != nil {
			return nil, fmt.Errorf("parse status time: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// BatchOutcome is the stored summary of one batch.
type BatchOutcome struct {
	ID        string
	Documents int
	RowsAdded int
	Issues    int
	Finished  bool
	Error     string
}

func (l *Ledger) Batch(ctx context.Context, batchID string) (*BatchOutcome, error) {
	var (
		out       BatchOutcome
		finished  sql.NullString
		rowsAdded sql.NullInt64
		issues    sql.NullInt64
		errText   sql.NullString
	)
	err := l.db.SQL.QueryRowContext(ctx,
		l.db.rebind(`SELECT id, documents, finished_at, rows_added, issues, error FROM batches WHERE id = ?`), batchID).
		Scan(&out.ID, &out.Documents, &finished, &rowsAdded, &issues, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, common.ErrDatabase, "query batch")
	}
	out.Finished = finished.Valid
	out.RowsAdded = int(rowsAdded.Int64)
	out.Issues = int(issues.Int64)
	out.Error = errText.String
	return &out, nil
}

func (l *Ledger) stamp() string {
	return l.now().UTC().Format(stampLayout)
}
