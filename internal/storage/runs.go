package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"
)

// RunRecord is one stored reconciliation run
type RunRecord struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id,omitempty"`
	Month      int             `json:"month"`
	Year       int             `json:"year"`
	Status     string          `json:"status"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Exports    []string        `json:"exports,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RunStore keeps run history in SQLite
type RunStore struct {
	db     *sql.DB
	now    func() time.Time
	logger logger.Logger
}

// NewRunStore opens the database at dbPath. Use ":memory:" for an in-memory
// store.
func NewRunStore(dbPath string, log logger.Logger) (*RunStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.StorageError(errors.CodePersistFailed, dbPath, err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	s := &RunStore{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithComponent("runs"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodePersistFailed, dbPath, fmt.Errorf("migrate: %w", err))
	}
	return s, nil
}

// Close closes the database connection
func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		external_id TEXT,
		month INTEGER NOT NULL DEFAULT 0,
		year INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		summary_json TEXT,
		exports TEXT,
		error TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_external_id ON runs(external_id) WHERE external_id IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Start records a new run as RUNNING
func (s *RunStore) Start(ctx context.Context, runID string, req *reconciler.Request) error {
	now := s.now().Format(time.RFC3339Nano)

	var external sql.NullString
	if req.ExternalID != "" {
		external = sql.NullString{String: req.ExternalID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, external_id, month, year, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, external, req.Month, req.Year, reconciler.StatusRunning, now, now,
	)
	if err != nil {
		return errors.StorageError(errors.CodePersistFailed, "run "+runID, err)
	}

	s.logger.WithFields(logger.Fields{"run_id": runID, "external_id": req.ExternalID}).Debug("Run started")
	return nil
}

// Complete marks the run ACTUALIZADO with its summary and export locations
func (s *RunStore) Complete(ctx context.Context, runID string, summary *reconciler.Summary, exports []string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encoding run summary", err)
	}
	exportsJSON, err := json.Marshal(exports)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encoding run exports", err)
	}

	return s.update(ctx, runID, `
		UPDATE runs SET status = ?, summary_json = ?, exports = ?, error = NULL, updated_at = ?
		WHERE id = ?`,
		reconciler.StatusUpdated, string(summaryJSON), string(exportsJSON), s.now().Format(time.RFC3339Nano), runID,
	)
}

// Fail marks the run ERROR with the failure message
func (s *RunStore) Fail(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, runID, `
		UPDATE runs SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		reconciler.StatusError, msg, s.now().Format(time.RFC3339Nano), runID,
	)
}

func (s *RunStore) update(ctx context.Context, runID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.StorageError(errors.CodePersistFailed, "run "+runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.StorageError(errors.CodePersistFailed, "run "+runID, err)
	}
	if n == 0 {
		return errors.StorageError(errors.CodeNotFound, "run "+runID, nil)
	}
	return nil
}

const runColumns = `id, external_id, month, year, status, summary_json, exports, error, created_at, updated_at`

// Get returns a run by id
func (s *RunStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.StorageError(errors.CodeNotFound, "run "+runID, nil)
	}
	if err != nil {
		return nil, errors.StorageError(errors.CodePersistFailed, "run "+runID, err)
	}
	return rec, nil
}

// List returns the most recent runs first. A limit of 0 or less returns 50.
func (s *RunStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.StorageError(errors.CodePersistFailed, "runs", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, errors.StorageError(errors.CodePersistFailed, "runs", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodePersistFailed, "runs", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		rec                  RunRecord
		external, summary    sql.NullString
		exports, errMsg      sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &external, &rec.Month, &rec.Year, &rec.Status,
		&summary, &exports, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec.ExternalID = external.String
	rec.Error = errMsg.String
	if summary.Valid && summary.String != "" {
		rec.Summary = json.RawMessage(summary.String)
	}
	if exports.Valid && strings.TrimSpace(exports.String) != "" {
		if err := json.Unmarshal([]byte(exports.String), &rec.Exports); err != nil {
			return nil, fmt.Errorf("decode exports: %w", err)
		}
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}
