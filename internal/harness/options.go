package harness

import (
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tape/internal/tap"
)

// Option configures a Harness.
type Option func(*Harness)

// WithOutput sets the sink the TAP text is written to. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(h *Harness) {
		h.emitter.SetWriter(w)
	}
}

// WithLogger sets the logger for harness lifecycle events. Defaults to a
// logger that discards everything, so the TAP stream stays the only output.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDefaultTimeout arms a timeout on every unit that does not set its own.
// Zero disables it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.defaultTimeout = d
	}
}

// WithLocations controls whether failing records carry an "at" source
// location. Enabled by default; golden tests switch it off.
func WithLocations(enabled bool) Option {
	return func(h *Harness) {
		h.locations = enabled
	}
}

// WithObserver registers an observer notified of every run event.
func WithObserver(o Observer) Option {
	return func(h *Harness) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(h *Harness) {
		if id != "" {
			h.id = id
		}
	}
}

// TestOption configures a single test unit.
type TestOption func(*testOptions)

type testOptions struct {
	skip    bool
	only    bool
	todo    bool
	timeout time.Duration
}

// Skipped marks a unit as skipped: its body never runs and a single
// skipped record stands in for its assertions.
func Skipped() TestOption {
	return func(o *testOptions) { o.skip = true }
}

// Exclusive marks a unit as exclusive, switching the harness to only-mode.
func Exclusive() TestOption {
	return func(o *testOptions) { o.only = true }
}

// Todo marks every record of the unit with a TODO directive; its failures
// are reported but not counted.
func Todo() TestOption {
	return func(o *testOptions) { o.todo = true }
}

// Timeout fails and force-completes the unit if it is not done after d.
func Timeout(d time.Duration) TestOption {
	return func(o *testOptions) { o.timeout = d }
}

func buildTestOptions(opts []TestOption) testOptions {
	var o testOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Observer is notified of run events in emission order. Calls are made while
// the harness holds its lock, so an observer must not call back into the
// harness.
type Observer interface {
	RunStarted(runID string)
	TestStarted(runID, name string, depth int)
	Recorded(runID string, r tap.Record)
	RunFinished(runID string, s tap.Summary)
}

// BailObserver is implemented by observers that want to know about a
// cancelled run. RunFinished is not called for such a run.
type BailObserver interface {
	RunBailed(runID, reason string, s tap.Summary)
}
