package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tape/internal/tap"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one stored run.
type Run struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	StartedAt time.Time   `json:"started_at"`
	Finished  bool        `json:"finished"`
	Bailed    bool        `json:"bailed"`
	Summary   tap.Summary `json:"summary"`
}

// Record is one stored assertion result. Diagnostic holds the YAML text of
// the diagnostic block, empty for passing records.
type Record struct {
	Seq         int    `json:"seq"`
	OK          bool   `json:"ok"`
	Test        string `json:"test"`
	Description string `json:"description"`
	Directive   string `json:"directive,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Diagnostic  string `json:"diagnostic,omitempty"`
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, started_at, finished_at, total, pass, fail, skip, todo, bailed
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a single run.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, started_at, finished_at, total, pass, fail, skip, todo, bailed
		FROM runs
		WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ReadRecords returns the records of a run in sequence order. With
// failedOnly set only failing records are returned.
func (s *Store) ReadRecords(ctx context.Context, runID string, failedOnly bool) ([]Record, error) {
	query := `
		SELECT seq, ok, test, description, directive, reason, diagnostic
		FROM records
		WHERE run_id = ?`
	if failedOnly {
		query += ` AND ok = 0`
	}
	query += `
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Seq, &r.OK, &r.Test, &r.Description, &r.Directive, &r.Reason, &r.Diagnostic); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	err := sc.Scan(
		&r.ID, &r.Source, &started, &finished,
		&r.Summary.Total, &r.Summary.Pass, &r.Summary.Fail, &r.Summary.Skip, &r.Summary.Todo,
		&r.Bailed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Finished = finished.Valid
	r.StartedAt, err = time.Parse(timeLayout, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at of run %s: %w", r.ID, err)
	}
	return r, nil
}
