package store

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/tape/internal/tap"
)

// Recorder persists a live harness run. It satisfies harness.Observer and
// harness.BailObserver.
//
// Observer callbacks cannot fail, so write errors are logged and the first
// one is kept for Err.
type Recorder struct {
	store  *Store
	source string
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// NewRecorder creates a recorder writing to s. source labels the runs it
// records (a binary or package name).
func NewRecorder(s *Store, source string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{store: s, source: source, logger: logger}
}

func (r *Recorder) RunStarted(runID string) {
	r.check("begin run", runID, r.store.BeginRun(context.Background(), runID, r.source))
}

func (r *Recorder) TestStarted(runID, name string, depth int) {
	r.logger.Debug("recording test", "run", runID, "test", name, "depth", depth)
}

func (r *Recorder) Recorded(runID string, rec tap.Record) {
	r.check("write record", runID, r.store.WriteRecord(context.Background(), runID, rec))
}

func (r *Recorder) RunFinished(runID string, s tap.Summary) {
	r.check("finish run", runID, r.store.FinishRun(context.Background(), runID, s, false))
}

func (r *Recorder) RunBailed(runID, reason string, s tap.Summary) {
	r.logger.Warn("recording bailed run", "run", runID, "reason", reason)
	r.check("finish run", runID, r.store.FinishRun(context.Background(), runID, s, true))
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) check(op, runID string, err error) {
	if err == nil {
		return
	}
	r.logger.Error("run history write failed", "op", op, "run", runID, "error", err)
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}
