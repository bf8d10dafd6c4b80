// Package auditstore persists call records and probe results in Postgres.
package auditstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/postgres"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var (
	ErrNotFound     = errors.New("auditstore: record not found")
	ErrInvalidLimit = errors.New("auditstore: limit must be positive")
)

const maxListLimit = 1000

// Migrations returns the embedded schema for postgres.MigrateUp.
func Migrations() postgres.Migrations {
	return postgres.Migrations{FS: migrationFiles, Dir: "migrations"}
}

// Migrate brings the schema at dbURI up to date.
func Migrate(ctx context.Context, dbURI string) error {
	return postgres.MigrateUp(ctx, dbURI, Migrations()) //nolint:wrapcheck
}

type CallRow struct {
	ID                int64     `db:"id"`
	RequestID         string    `db:"request_id"`
	ResponseRequestID string    `db:"response_request_id"`
	Method            string    `db:"method"`
	URL               string    `db:"url"`
	Status            int       `db:"status"`
	Outcome           string    `db:"outcome"`
	Error             string    `db:"error"`
	StartedAt         time.Time `db:"started_at"`
	DurationMS        int64     `db:"duration_ms"`
	RecordedAt        time.Time `db:"recorded_at"`
}

func (r CallRow) Record() auditfetch.CallRecord {
	return auditfetch.CallRecord{
		RequestID:         r.RequestID,
		ResponseRequestID: r.ResponseRequestID,
		Method:            r.Method,
		URL:               r.URL,
		Status:            r.Status,
		Outcome:           auditfetch.Outcome(r.Outcome),
		Error:             r.Error,
		StartedAt:         r.StartedAt,
		Duration:          time.Duration(r.DurationMS) * time.Millisecond,
	}
}

type ProbeResult struct {
	Target    string
	RequestID string
	Outcome   auditfetch.Outcome
	Status    int
	Compliant bool
	Latency   time.Duration
	CheckedAt time.Time
}

// Summary is the compliance of one target over a period.
type Summary struct {
	Target    string          `db:"target"`
	Total     int64           `db:"total"`
	Compliant int64           `db:"compliant"`
	Ratio     decimal.Decimal `db:"ratio"`
}

type Store struct {
	db postgres.DBPool
}

func New(db postgres.DBPool) *Store {
	return &Store{db: db}
}

const insertCallSQL = `
INSERT INTO call_records
    (request_id, response_request_id, method, url, status, outcome, error, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (request_id) DO NOTHING`

func callArgs(record auditfetch.CallRecord) []any {
	return []any{
		record.RequestID,
		record.ResponseRequestID,
		record.Method,
		record.URL,
		record.Status,
		string(record.Outcome),
		record.Error,
		record.StartedAt,
		record.Duration.Milliseconds(),
	}
}

// SaveCall stores record. Saving the same request id twice is a no-op, so
// redelivered stream messages are harmless.
func (s *Store) SaveCall(ctx context.Context, record auditfetch.CallRecord) error {
	if _, err := s.db.Exec(ctx, insertCallSQL, callArgs(record)...); err != nil {
		return fmt.Errorf("auditstore: save call %s: %w", record.RequestID, err)
	}

	return nil
}

// SaveCalls stores records atomically in one batch.
func (s *Store) SaveCalls(ctx context.Context, records ...auditfetch.CallRecord) error {
	if len(records) == 0 {
		return nil
	}

	return postgres.WithRetryTransaction(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error { //nolint:wrapcheck
		batch := &pgx.Batch{} //nolint:exhaustruct
		for _, record := range records {
			batch.Queue(insertCallSQL, callArgs(record)...)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("auditstore: save %d calls: %w", len(records), err)
		}

		return nil
	})
}

const selectCallSQL = `
SELECT id, request_id, response_request_id, method, url, status, outcome, error,
       started_at, duration_ms, recorded_at
FROM call_records`

func (s *Store) GetCallByRequestID(ctx context.Context, requestID string) (*CallRow, error) {
	var row CallRow

	err := pgxscan.Get(ctx, s.db, &row, selectCallSQL+` WHERE request_id = $1`, requestID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}

		return nil, fmt.Errorf("auditstore: get call %s: %w", requestID, err)
	}

	return &row, nil
}

// ListViolations returns the newest provenance violations first.
func (s *Store) ListViolations(ctx context.Context, limit int) ([]CallRow, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	limit = min(limit, maxListLimit)

	var rows []CallRow

	err := pgxscan.Select(ctx, s.db, &rows,
		selectCallSQL+` WHERE outcome = $1 ORDER BY started_at DESC, id DESC LIMIT $2`,
		string(auditfetch.OutcomeProvenanceViolation), limit)
	if err != nil {
		return nil, fmt.Errorf("auditstore: list violations: %w", err)
	}

	return rows, nil
}

var probeColumns = []string{ //nolint:gochecknoglobals
	"target", "request_id", "outcome", "status", "compliant", "latency_ms", "checked_at",
}

func probeRow(result ProbeResult) []any {
	return []any{
		result.Target,
		result.RequestID,
		string(result.Outcome),
		result.Status,
		result.Compliant,
		result.Latency.Milliseconds(),
		result.CheckedAt,
	}
}

func (s *Store) SaveProbeResult(ctx context.Context, result ProbeResult) error {
	_, err := s.SaveProbeResults(ctx, result)

	return err
}

// SaveProbeResults copies one probe round into the table.
func (s *Store) SaveProbeResults(ctx context.Context, results ...ProbeResult) (int64, error) {
	count, err := postgres.CopyStructs(ctx, s.db, "probe_results", probeColumns, results, probeRow)
	if err != nil {
		return 0, fmt.Errorf("auditstore: save probe results: %w", err)
	}

	return count, nil
}

const complianceSQL = `
SELECT $1::text AS target,
       COUNT(*) AS total,
       COUNT(*) FILTER (WHERE compliant) AS compliant,
       COALESCE(ROUND(COUNT(*) FILTER (WHERE compliant)::numeric / NULLIF(COUNT(*), 0), 4), 0) AS ratio
FROM probe_results
WHERE target = $1 AND checked_at >= $2`

// ComplianceSummary reports how many probes of target since the given time
// honoured the provenance contract.
func (s *Store) ComplianceSummary(ctx context.Context, target string, since time.Time) (*Summary, error) {
	var summary Summary

	if err := pgxscan.Get(ctx, s.db, &summary, complianceSQL, target, since); err != nil {
		return nil, fmt.Errorf("auditstore: compliance summary for %s: %w", target, err)
	}

	return &summary, nil
}
