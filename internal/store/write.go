package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tape/internal/tap"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BeginRun inserts a run row. Uses ON CONFLICT(id) DO NOTHING so a run
// that is started twice keeps its first start time.
func (s *Store) BeginRun(ctx context.Context, id, source string) error {
	return s.beginRun(ctx, s.db, id, source)
}

func (s *Store) beginRun(ctx context.Context, db execer, id, source string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, source, started_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, source, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// WriteRecord appends one numbered record to a run. The run must exist
// (foreign key constraint). Failing records keep their diagnostic block as
// YAML text.
func (s *Store) WriteRecord(ctx context.Context, runID string, r tap.Record) error {
	return writeRecord(ctx, s.db, runID, r)
}

func writeRecord(ctx context.Context, db execer, runID string, r tap.Record) error {
	var diag string
	if r.Diagnostic != nil {
		b, err := tap.MarshalDiagnostic(r.Diagnostic)
		if err != nil {
			return fmt.Errorf("write record %d: %w", r.Seq, err)
		}
		diag = string(b)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO records
		(run_id, seq, ok, test, description, directive, reason, diagnostic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		runID,
		r.Seq,
		r.OK,
		r.Test,
		r.Description,
		string(r.Directive),
		r.Reason,
		diag,
	)
	if err != nil {
		return fmt.Errorf("write record %d: %w", r.Seq, err)
	}
	return nil
}

// FinishRun stores the final totals of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, sum tap.Summary, bailed bool) error {
	return s.finishRun(ctx, s.db, runID, sum, bailed)
}

func (s *Store) finishRun(ctx context.Context, db execer, runID string, sum tap.Summary, bailed bool) error {
	res, err := db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, total = ?, pass = ?, fail = ?, skip = ?, todo = ?, bailed = ?
		WHERE id = ?
	`,
		s.now().UTC().Format(timeLayout),
		sum.Total, sum.Pass, sum.Fail, sum.Skip, sum.Todo, bailed,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: %w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// WriteReport stores a parsed TAP stream as one run, atomically.
func (s *Store) WriteReport(ctx context.Context, id, source string, rep *tap.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := s.beginRun(ctx, tx, id, source); err != nil {
		return err
	}
	for _, r := range rep.Records {
		if err := writeRecord(ctx, tx, id, r); err != nil {
			return err
		}
	}
	if err := s.finishRun(ctx, tx, id, rep.Summary(), rep.Bailed); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
