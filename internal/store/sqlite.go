package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailaudit/mailaudit/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS domains (
    id         TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    name       TEXT NOT NULL,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_domains_owner_name_active
    ON domains(owner_id, name) WHERE active = 1;

CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    domain_id       TEXT NOT NULL REFERENCES domains(id),
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL,
    raw_result      TEXT,
    score           INTEGER,
    recommendations TEXT,
    failure_reason  TEXT,
    created_at      DATETIME NOT NULL,
    executed_at     DATETIME,
    updated_at      DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_in_flight
    ON runs(domain_id, kind) WHERE status IN ('pending', 'running');

CREATE INDEX IF NOT EXISTS idx_runs_domain_created
    ON runs(domain_id, created_at DESC);
`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. The partial unique index
// idx_runs_in_flight is what makes the one-in-flight-run-per-(domain, kind)
// guarantee atomic under concurrent inserts, including across multiple
// processes sharing the database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateDomain inserts a new domain record. A unique-index collision on
// (owner_id, name) among active domains is reported as ErrDuplicateDomain.
func (s *SQLiteStore) CreateDomain(ctx context.Context, d *model.Domain) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (id, owner_id, name, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Name, d.Active, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateDomain
	}
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

// GetDomain retrieves a domain by ID.
func (s *SQLiteStore) GetDomain(ctx context.Context, id string) (*model.Domain, error) {
	d := &model.Domain{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, active, created_at, updated_at
		 FROM domains WHERE id = ?`, id,
	).Scan(&d.ID, &d.OwnerID, &d.Name, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

// ListDomains returns all domains owned by ownerID, newest first.
func (s *SQLiteStore) ListDomains(ctx context.Context, ownerID string) ([]*model.Domain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, active, created_at, updated_at
		 FROM domains WHERE owner_id = ? ORDER BY created_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var domains []*model.Domain
	for rows.Next() {
		d := &model.Domain{}
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return domains, nil
}

// DeactivateDomain soft-deactivates a domain. The record is kept so that run
// history referencing it stays resolvable.
func (s *SQLiteStore) DeactivateDomain(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE domains SET active = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate domain: %w", err)
	}
	return checkAffected(result)
}

// CreateRun inserts a new run record. A collision on the in-flight partial
// unique index is reported as ErrRunInFlight.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	recs, err := encodeRecommendations(r.Recommendations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, domain_id, kind, status, raw_result, score,
			recommendations, failure_reason, created_at, executed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DomainID, r.Kind, r.Status, nullableRaw(r.RawResult), r.Score,
		recs, nullableString(r.FailureReason), r.CreatedAt, r.ExecutedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrRunInFlight
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, domain_id, kind, status, raw_result, score,
	recommendations, failure_reason, created_at, executed_at, updated_at`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// GetInFlightRun returns the pending or running run for (domainID, kind).
func (s *SQLiteStore) GetInFlightRun(ctx context.Context, domainID string, kind model.CheckKind) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+` FROM runs
		 WHERE domain_id = ? AND kind = ? AND status IN ('pending', 'running')`,
		domainID, kind)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get in-flight run: %w", err)
	}
	return r, nil
}

// MarkRunning transitions a pending run to running. The status predicate in
// the UPDATE makes the transition atomic; concurrent updates to the same row
// serialize on the row write.
func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, executed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusRunning, now, now, id, model.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	return s.checkConditional(ctx, result, id)
}

// CompleteRun records a successful outcome on a running run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, raw json.RawMessage, score int, recommendations []string) error {
	recs, err := encodeRecommendations(recommendations)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, raw_result = ?, score = ?,
			recommendations = ?, failure_reason = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusCompleted, string(raw), score, recs, time.Now().UTC(),
		id, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return s.checkConditional(ctx, result, id)
}

// FailRun records a failure reason on a pending or running run.
func (s *SQLiteStore) FailRun(ctx context.Context, id string, reason string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, raw_result = NULL, score = NULL,
			recommendations = NULL, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		model.StatusFailed, reason, time.Now().UTC(),
		id, model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return s.checkConditional(ctx, result, id)
}

// RearmRun resets a failed run to pending for retry. This is the only
// backward edge in the lifecycle; the conditional UPDATE guarantees that
// concurrent retries of the same run cannot both win. Re-arming while a
// newer run for the same (domain, kind) is in flight trips the partial
// unique index and is reported as ErrRunInFlight.
func (s *SQLiteStore) RearmRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, raw_result = NULL, score = NULL,
			recommendations = NULL, failure_reason = NULL, executed_at = NULL,
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusPending, time.Now().UTC(), id, model.StatusFailed,
	)
	if isUniqueViolation(err) {
		return ErrRunInFlight
	}
	if err != nil {
		return fmt.Errorf("rearm run: %w", err)
	}
	return s.checkConditional(ctx, result, id)
}

// ListRunsForOwner returns a page of runs belonging to the owner's domains,
// newest first, along with the total count matching the filter.
func (s *SQLiteStore) ListRunsForOwner(ctx context.Context, ownerID string, f RunFilter, limit, offset int) ([]*model.Run, int, error) {
	where := "d.owner_id = ?"
	args := []any{ownerID}
	if f.DomainID != "" {
		where += " AND r.domain_id = ?"
		args = append(args, f.DomainID)
	}
	if f.Kind != "" {
		where += " AND r.kind = ?"
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where += " AND r.status = ?"
		args = append(args, f.Status)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs r JOIN domains d ON d.id = r.domain_id WHERE "+where,
		args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	query := `SELECT r.id, r.domain_id, r.kind, r.status, r.raw_result, r.score,
		r.recommendations, r.failure_reason, r.created_at, r.executed_at, r.updated_at
		FROM runs r JOIN domains d ON d.id = r.domain_id
		WHERE ` + where + " ORDER BY r.created_at DESC LIMIT ? OFFSET ?"
	rows, err := tx.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs, err := collectRuns(rows)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// ListPendingRuns returns every run in a non-terminal status, oldest first.
func (s *SQLiteStore) ListPendingRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+` FROM runs
		 WHERE status IN ('pending', 'running') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// GetRunStats returns aggregate counts and the average score across
// completed runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = tx.QueryContext(ctx, "SELECT kind, COUNT(*) FROM runs GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(score) FROM runs WHERE status = 'completed'",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average score: %w", err)
	}
	if avg.Valid {
		stats.AvgScore = avg.Float64
	}

	return stats, nil
}

// checkConditional disambiguates a zero-row conditional update into
// ErrNotFound (no such run) or ErrInvalidState (run exists in another status).
func (s *SQLiteStore) checkConditional(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check run existence: %w", err)
	}
	return ErrInvalidState
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRun.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	r := &model.Run{}
	var raw, recs, reason sql.NullString
	var score sql.NullInt64
	if err := row.Scan(
		&r.ID, &r.DomainID, &r.Kind, &r.Status, &raw, &score,
		&recs, &reason, &r.CreatedAt, &r.ExecutedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if raw.Valid {
		r.RawResult = json.RawMessage(raw.String)
	}
	if score.Valid {
		v := int(score.Int64)
		r.Score = &v
	}
	if recs.Valid {
		if err := json.Unmarshal([]byte(recs.String), &r.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
	}
	if reason.Valid {
		r.FailureReason = reason.String
	}
	return r, nil
}

func collectRuns(rows *sql.Rows) ([]*model.Run, error) {
	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func encodeRecommendations(recs []string) (any, error) {
	if recs == nil {
		return nil, nil
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encode recommendations: %w", err)
	}
	return string(b), nil
}

func nullableRaw(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
