package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tape/internal/tap"
)

// Harness is a test scheduler bound to one TAP emitter.
//
// Tests run one at a time in registration order. A unit is started only
// after the previous unit and all of its subtests are done, so the records of
// two top-level tests never interleave.
//
// A unit is done only once its body has returned, even if End or its plan
// completed it earlier. Assertions a body makes after End are therefore
// reported inside the unit, and its subtests start after the body. A body
// that blocks after End holds the queue until its timeout fires, which adds
// a timeout failure to the unit.
//
// Every Harness has its own assertion counter; nothing is shared between
// instances.
type Harness struct {
	mu sync.Mutex

	id             string
	emitter        *tap.Emitter
	logger         *slog.Logger
	observers      []Observer
	defaultTimeout time.Duration
	locations      bool

	queue    *queue[*T]
	onlyMode bool
	finish   []func(tap.Summary)

	running  bool
	finished bool
	summary  tap.Summary
	stream   io.Closer
	orphans  []*T
	late     []string
}

// New creates an independent harness writing to stdout unless configured
// otherwise.
func New(opts ...Option) *Harness {
	h := &Harness{
		id:        uuid.Must(uuid.NewV7()).String(),
		emitter:   tap.NewEmitter(os.Stdout),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		locations: true,
		queue:     newQueue[*T](),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ID returns the run id.
func (h *Harness) ID() string {
	return h.id
}

// Test registers a top-level test and returns its handle. The body runs when
// the scheduler reaches it.
func (h *Harness) Test(name string, body func(*T), opts ...TestOption) *T {
	o := buildTestOptions(opts)
	t := newT(h, name, body, nil, o)

	h.mu.Lock()
	if o.only && !h.onlyMode {
		h.onlyMode = true
		h.logger.Debug("only-mode enabled", "run", h.id, "test", t.name)
	}
	if h.finished {
		h.orphans = append(h.orphans, t)
		h.mu.Unlock()
		h.logger.Warn("test registered after the run finished", "run", h.id, "test", t.name)
		return t
	}
	h.mu.Unlock()

	h.queue.Enqueue(t)
	return t
}

// Only registers an exclusive test. Once any exclusive test exists, units
// registered without Exclusive are never run and produce no output.
func (h *Harness) Only(name string, body func(*T), opts ...TestOption) *T {
	return h.Test(name, body, append(opts, Exclusive())...)
}

// Skip registers a skipped test.
func (h *Harness) Skip(name string, body func(*T), opts ...TestOption) *T {
	return h.Test(name, body, append(opts, Skipped())...)
}

// OnFinish registers a callback fired once the queue has drained, after the
// summary was written. Callbacks fire in registration order. A callback
// registered after the run finished fires immediately.
func (h *Harness) OnFinish(cb func(tap.Summary)) {
	h.mu.Lock()
	if h.finished {
		s := h.summary
		h.mu.Unlock()
		cb(s)
		return
	}
	h.finish = append(h.finish, cb)
	h.mu.Unlock()
}

// CreateStream replaces the output sink with a pipe and returns its read
// side. The stream is closed after the summary, or after a bail out. The
// reader must be drained concurrently with Run, since writes block on it.
func (h *Harness) CreateStream() io.ReadCloser {
	pr, pw := io.Pipe()
	h.mu.Lock()
	h.emitter.SetWriter(pw)
	h.stream = pw
	h.mu.Unlock()
	return pr
}

// Summary returns the totals so far.
func (h *Harness) Summary() tap.Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.emitter.Summary()
}

// Run drains the queue. It returns the final summary once every registered
// unit, including units registered while running, is done.
//
// If ctx is cancelled the running unit and its descendants are aborted, a
// bail out line is written, and an error matching ErrIncomplete is returned
// naming the units that never ran.
func (h *Harness) Run(ctx context.Context) (tap.Summary, error) {
	h.mu.Lock()
	if h.running || h.finished {
		h.mu.Unlock()
		return tap.Summary{}, &Error{Code: ErrCodeAlreadyRun, Message: "harness has already run"}
	}
	h.running = true
	h.emitter.Header()
	for _, o := range h.observers {
		o.RunStarted(h.id)
	}
	h.mu.Unlock()

	h.logger.Info("run starting", "run", h.id, "queued", h.queue.Len())

	for {
		if err := ctx.Err(); err != nil {
			return h.bail(ctx)
		}
		t, ok := h.queue.TryDequeue()
		if !ok {
			break
		}

		h.mu.Lock()
		excluded := h.onlyMode && !t.opts.only
		h.mu.Unlock()
		if excluded {
			h.logger.Debug("skipping non-exclusive test", "run", h.id, "test", t.name)
			h.discard(t)
			continue
		}

		h.runUnit(ctx, t)
	}

	return h.complete()
}

// Close reports harness misuse: units registered but never drained are an
// error, never silently dropped, and so is output a unit produced after the
// run had finished.
func (h *Harness) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	var names []string
	for _, t := range h.queue.Snapshot() {
		names = append(names, t.name)
	}
	for _, t := range h.orphans {
		names = append(names, t.name)
	}
	if len(names) > 0 {
		msg := "tests registered but never run"
		if !h.running && !h.finished {
			msg = "harness closed before running its queue"
		}
		errs = append(errs, &Error{Code: ErrCodePending, Message: msg, Tests: names})
	}
	if len(h.late) > 0 {
		errs = append(errs, &Error{Code: ErrCodeLate, Message: "output after the run finished was dropped", Tests: h.late})
	}
	return errors.Join(errs...)
}

// lateLocked notes output from t that arrived after the footer.
func (h *Harness) lateLocked(t *T, desc string) {
	if !slices.Contains(h.late, t.name) {
		h.late = append(h.late, t.name)
	}
	h.logger.Warn("output after the run finished", "run", h.id, "test", t.name, "description", desc)
}

// runUnit runs t and, in spawn order, every subtest it creates, returning
// once t is Done.
func (h *Harness) runUnit(ctx context.Context, t *T) {
	if !h.begin(ctx, t) {
		h.finalize(t)
		return
	}

	// The body runs on its own goroutine so a timeout can release the
	// scheduler even while the body is still blocked.
	bodyDone := make(chan struct{})
	go func() {
		defer close(bodyDone)
		t.invoke()
	}()
	select {
	case <-bodyDone:
	case <-t.ctx.Done():
		h.abort(t, context.Cause(t.ctx))
	}

	for {
		if child, ok := t.pending.TryDequeue(); ok {
			h.runUnit(t.ctx, child)
			continue
		}
		select {
		case <-t.completion.Done():
			if h.finalize(t) {
				return
			}
		case <-t.pending.Wait():
		case <-t.ctx.Done():
			h.abort(t, context.Cause(t.ctx))
		}
	}
}

// begin opens t: boundary line, context, timer. It reports false when the
// body must not run because t is skipped or its context is already done; t
// is then already completed.
func (h *Harness) begin(parent context.Context, t *T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t.ctx, t.cancel = context.WithCancelCause(parent)
	t.state = StateRunning
	h.emitter.Boundary(t.name, t.depth)
	for _, o := range h.observers {
		o.TestStarted(h.id, t.name, t.depth)
	}
	h.logger.Debug("test started", "run", h.id, "test", t.name, "depth", t.depth)

	if t.opts.skip {
		t.recordLocked(true, t.name, OpSkip, nil, nil, extra{internal: true, noValues: true, directive: tap.DirectiveSkip})
		t.completeLocked(TriggerSkip)
		return false
	}
	if err := t.ctx.Err(); err != nil {
		t.abortLocked(context.Cause(t.ctx))
		return false
	}

	timeout := t.opts.timeout
	if timeout == 0 {
		timeout = h.defaultTimeout
	}
	if timeout > 0 {
		t.armTimerLocked(timeout)
	}
	return true
}

// abort force-completes t after its context was cancelled.
func (h *Harness) abort(t *T, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t.abortLocked(cause)
}

// finalize marks t Done if it has completed and has no queued subtests.
func (h *Harness) finalize(t *T) bool {
	h.mu.Lock()
	if t.pending.Len() > 0 {
		h.mu.Unlock()
		return false
	}
	t.state = StateDone
	if t.timer != nil {
		t.timer.Stop()
	}
	trigger, _ := t.completion.Fired()
	h.mu.Unlock()

	close(t.done)
	if t.cancel != nil {
		t.cancel(errUnitDone)
	}
	h.logger.Debug("test done", "run", h.id, "test", t.name, "trigger", trigger.String(), "assertions", t.Count())
	return true
}

// discard retires a unit excluded by only-mode without emitting anything.
func (h *Harness) discard(t *T) {
	h.mu.Lock()
	t.state = StateDone
	t.completion.Fire(TriggerSkip)
	h.mu.Unlock()
	close(t.done)
}

func (h *Harness) complete() (tap.Summary, error) {
	h.mu.Lock()
	s := h.emitter.Finish()
	h.summary = s
	h.finished = true
	h.running = false
	for _, o := range h.observers {
		o.RunFinished(h.id, s)
	}
	callbacks := h.finish
	h.finish = nil
	writeErr := h.emitter.Err()
	h.closeStreamLocked()
	h.mu.Unlock()

	h.logger.Info("run finished", "run", h.id, "tests", s.Total, "pass", s.Pass, "fail", s.Fail, "skip", s.Skip, "todo", s.Todo)

	for _, cb := range callbacks {
		cb(s)
	}
	if writeErr != nil {
		return s, fmt.Errorf("write tap output: %w", writeErr)
	}
	return s, nil
}

func (h *Harness) bail(ctx context.Context) (tap.Summary, error) {
	var names []string
	for {
		t, ok := h.queue.TryDequeue()
		if !ok {
			break
		}
		names = append(names, t.name)
		h.mu.Lock()
		h.orphans = append(h.orphans, t)
		h.mu.Unlock()
	}

	cause := context.Cause(ctx)
	h.mu.Lock()
	reason := fmt.Sprintf("run cancelled: %v", cause)
	h.emitter.BailOut(reason)
	s := h.emitter.Summary()
	h.summary = s
	h.finished = true
	h.running = false
	for _, o := range h.observers {
		if bo, ok := o.(BailObserver); ok {
			bo.RunBailed(h.id, reason, s)
		}
	}
	h.closeStreamLocked()
	h.mu.Unlock()

	h.logger.Warn("run cancelled", "run", h.id, "cause", cause, "not_run", len(names))
	return s, &Error{Code: ErrCodeIncomplete, Message: "run cancelled before the queue drained", Tests: names, Err: cause}
}

func (h *Harness) closeStreamLocked() {
	if h.stream == nil {
		return
	}
	if err := h.stream.Close(); err != nil {
		h.logger.Error("error closing stream", "run", h.id, "error", err)
	}
	h.stream = nil
}
