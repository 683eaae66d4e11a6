// Package history persists the outcome of every monitor cycle so operators
// can reconstruct what the portal looked like when an alert fired. Row
// snapshots are stored as msgpack blobs keyed by cycle.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ftpay/portalwatch/internal/database"
	"github.com/ftpay/portalwatch/internal/portal"
	"github.com/ftpay/portalwatch/internal/validation"
)

// Schema is the history database schema, applied at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id            TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL,
	outcome       TEXT NOT NULL,
	record_count  INTEGER NOT NULL DEFAULT 0,
	issue_count   INTEGER NOT NULL DEFAULT 0,
	heartbeat     INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	rows_snapshot BLOB
);
CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);

CREATE TABLE IF NOT EXISTS issues (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id   TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
	merchant   TEXT NOT NULL,
	rule       TEXT NOT NULL,
	detail     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_cycle ON issues(cycle_id);
CREATE INDEX IF NOT EXISTS idx_issues_merchant ON issues(merchant);
`

// Cycle outcomes.
const (
	OutcomeClean   = "clean"   // validated, no findings
	OutcomeIssues  = "issues"  // validated, findings notified
	OutcomeError   = "error"   // cycle aborted before validation finished
	OutcomeSkipped = "skipped" // keepalive-only cycle
)

// Cycle is one recorded monitor pass.
type Cycle struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     string    `json:"outcome"`
	RecordCount int       `json:"record_count"`
	IssueCount  int       `json:"issue_count"`
	Heartbeat   bool      `json:"heartbeat"`
	Error       string    `json:"error,omitempty"`
}

// Issue is one flagged merchant within a cycle.
type Issue struct {
	CycleID   string    `json:"cycle_id"`
	Merchant  string    `json:"merchant"`
	Rule      string    `json:"rule"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository provides history persistence over the cycles and issues tables.
type Repository struct {
	db *database.DB
}

// NewRepository creates a history repository and applies the schema.
func NewRepository(db *database.DB) (*Repository, error) {
	if err := db.Migrate(Schema); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewCycleID returns a fresh cycle identifier.
func NewCycleID() string {
	return uuid.New().String()
}

// RecordCycle stores one finished cycle with its findings and row snapshot.
// Rows are msgpack-encoded; a nil slice stores a null blob.
func (r *Repository) RecordCycle(ctx context.Context, c Cycle, findings []validation.Finding, rows []portal.ReportRow) error {
	var snapshot []byte
	if len(rows) > 0 {
		var err error
		if snapshot, err = msgpack.Marshal(rows); err != nil {
			return fmt.Errorf("failed to encode row snapshot: %w", err)
		}
	}

	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cycles (id, started_at, finished_at, outcome, record_count, issue_count, heartbeat, error, rows_snapshot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.StartedAt.Unix(), c.FinishedAt.Unix(), c.Outcome,
			c.RecordCount, len(findings), boolToInt(c.Heartbeat), c.Error, snapshot)
		if err != nil {
			return fmt.Errorf("failed to insert cycle: %w", err)
		}

		for _, f := range findings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO issues (cycle_id, merchant, rule, detail, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				c.ID, f.Merchant, f.Rule, f.Detail, c.FinishedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to insert issue for %s: %w", f.Merchant, err)
			}
		}
		return nil
	})
}

// RecentCycles returns the newest cycles, most recent first.
func (r *Repository) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, outcome, record_count, issue_count, heartbeat, error
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var started, finished int64
		var heartbeat int
		if err := rows.Scan(&c.ID, &started, &finished, &c.Outcome,
			&c.RecordCount, &c.IssueCount, &heartbeat, &c.Error); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.StartedAt = time.Unix(started, 0)
		c.FinishedAt = time.Unix(finished, 0)
		c.Heartbeat = heartbeat != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// CycleSnapshot decodes the row snapshot stored for one cycle. Returns nil
// when the cycle stored no rows.
func (r *Repository) CycleSnapshot(ctx context.Context, cycleID string) ([]portal.ReportRow, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT rows_snapshot FROM cycles WHERE id = ?`, cycleID).Scan(&blob)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for cycle %s: %w", cycleID, err)
	}
	if len(blob) == 0 {
		return nil, nil
	}

	var out []portal.ReportRow
	if err := msgpack.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for cycle %s: %w", cycleID, err)
	}
	return out, nil
}

// RecentIssues returns the newest findings across cycles, most recent first.
func (r *Repository) RecentIssues(ctx context.Context, limit int) ([]Issue, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT cycle_id, merchant, rule, detail, created_at
		FROM issues ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		var i Issue
		var created int64
		if err := rows.Scan(&i.CycleID, &i.Merchant, &i.Rule, &i.Detail, &created); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		i.CreatedAt = time.Unix(created, 0)
		out = append(out, i)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes cycles (and their issues, via cascade) that
// finished before cutoff. Returns the number of cycles removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cycles WHERE finished_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old cycles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
