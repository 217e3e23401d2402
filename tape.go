// Package tape is a TAP-producing test harness.
//
// Tests registered with Test run one at a time, in registration order, on a
// process-wide default harness. Each test gets a *T for assertions, nested
// subtests, plans and timeouts; results stream out as TAP version 13.
//
//	func main() {
//		tape.Test("math", func(t *tape.T) {
//			t.Plan(2)
//			t.Equal(2, 1+1)
//			t.DeepEqual([]int{1, 2}, []int{1, 2})
//		})
//		tape.Main()
//	}
//
// When TAPHARNESS_CONFIG names a config file, the default harness takes its
// timeout, output, locations and log_level from it, and records the run into
// the db database when one is set. CreateHarness returns independent
// instances that ignore the config.
package tape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/roach88/tape/internal/config"
	"github.com/roach88/tape/internal/harness"
	"github.com/roach88/tape/internal/store"
	"github.com/roach88/tape/internal/tap"
)

type (
	// T is the handle a test body receives.
	T = harness.T

	// Harness is an independent test scheduler.
	Harness = harness.Harness

	// Summary holds the totals of a run.
	Summary = tap.Summary

	// Option configures a Harness.
	Option = harness.Option

	// TestOption configures a single test.
	TestOption = harness.TestOption
)

var (
	WithOutput         = harness.WithOutput
	WithLogger         = harness.WithLogger
	WithDefaultTimeout = harness.WithDefaultTimeout
	WithLocations      = harness.WithLocations
	WithObserver       = harness.WithObserver
	WithRunID          = harness.WithRunID

	Skipped   = harness.Skipped
	Exclusive = harness.Exclusive
	Todo      = harness.Todo
	Timeout   = harness.Timeout
)

// Exit codes used by Main.
const (
	ExitPass   = 0
	ExitFail   = 1
	ExitMisuse = 2
)

var (
	defaultOnce sync.Once
	defaultRun  *run
)

// run is the default harness plus the resources its config opened.
type run struct {
	h       *harness.Harness
	logger  *slog.Logger
	setup   error
	closers []io.Closer
	rec     *store.Recorder
}

func defaultHarness() *run {
	defaultOnce.Do(func() {
		defaultRun = newRun(os.Stdout, os.Stderr)
	})
	return defaultRun
}

// newRun builds a harness from TAPHARNESS_CONFIG. A broken config still
// yields a usable harness; the error is returned by Run.
func newRun(stdout, stderr io.Writer) *run {
	r := &run{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	cfg, ok, err := config.FromEnv()
	if err != nil {
		r.setup = err
		r.h = harness.New(harness.WithOutput(stdout))
		return r
	}
	if !ok {
		r.h = harness.New(harness.WithOutput(stdout))
		return r
	}

	r.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	opts := []harness.Option{
		harness.WithLogger(r.logger),
		harness.WithLocations(cfg.LocationsEnabled()),
	}

	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		r.setup = errors.Join(r.setup, err)
	}
	opts = append(opts, harness.WithDefaultTimeout(timeout))

	out, closer, err := cfg.OpenOutput(stdout, stderr)
	if err != nil {
		r.setup = errors.Join(r.setup, err)
		out = stdout
	} else {
		r.closers = append(r.closers, closer)
	}
	opts = append(opts, harness.WithOutput(out))

	if cfg.DB != "" {
		st, err := store.Open(cfg.DB)
		if err != nil {
			r.setup = errors.Join(r.setup, fmt.Errorf("open run history: %w", err))
		} else {
			r.closers = append(r.closers, st)
			r.rec = store.NewRecorder(st, filepath.Base(os.Args[0]), r.logger)
			opts = append(opts, harness.WithObserver(r.rec))
		}
	}

	r.h = harness.New(opts...)
	r.logger.Debug("default harness configured", "config", os.Getenv(config.EnvVar), "run", r.h.ID())
	return r
}

// execute runs the harness and releases what the config opened.
func (r *run) execute(ctx context.Context) (Summary, error) {
	if r.setup != nil {
		return Summary{}, fmt.Errorf("configure harness: %w", r.setup)
	}
	s, err := r.h.Run(ctx)
	if r.rec != nil {
		err = errors.Join(err, r.rec.Err())
	}
	for _, c := range r.closers {
		err = errors.Join(err, c.Close())
	}
	return s, err
}

// Test registers a test on the default harness.
func Test(name string, body func(*T), opts ...TestOption) *T {
	return defaultHarness().h.Test(name, body, opts...)
}

// Only registers an exclusive test on the default harness: once any
// exclusive test exists, the others are not run.
func Only(name string, body func(*T), opts ...TestOption) *T {
	return defaultHarness().h.Only(name, body, opts...)
}

// Skip registers a skipped test on the default harness.
func Skip(name string, body func(*T), opts ...TestOption) *T {
	return defaultHarness().h.Skip(name, body, opts...)
}

// OnFinish registers a callback fired with the summary of the default run.
func OnFinish(cb func(Summary)) {
	defaultHarness().h.OnFinish(cb)
}

// CreateStream redirects the default harness into a pipe and returns its
// read side. The reader must be drained while Run is in progress.
func CreateStream() io.ReadCloser {
	return defaultHarness().h.CreateStream()
}

// CreateHarness returns a new harness that shares nothing with the default
// one.
func CreateHarness(opts ...Option) *Harness {
	return harness.New(opts...)
}

// Run drains the default harness.
func Run(ctx context.Context) (Summary, error) {
	return defaultHarness().execute(ctx)
}

// Main runs the default harness until it drains or the process is
// interrupted, then exits: 0 when nothing failed, 1 on failures and 2 when
// the harness was misused or could not be configured.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := exitCode(ctx, defaultHarness(), os.Stderr)
	stop()
	os.Exit(code)
}

// exitCode maps a run to a process exit code.
func exitCode(ctx context.Context, r *run, stderr io.Writer) int {
	s, err := r.execute(ctx)
	if cerr := r.h.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		fmt.Fprintln(stderr, "tape:", err)
		if harness.IsIncomplete(err) && !s.OK() {
			return ExitFail
		}
		return ExitMisuse
	}
	if !s.OK() {
		return ExitFail
	}
	return ExitPass
}
