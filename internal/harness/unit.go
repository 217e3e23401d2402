package harness

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// State is the lifecycle position of a test unit.
type State int

const (
	// StatePending: registered, body not yet invoked.
	StatePending State = iota
	// StateRunning: body invoked, accepting assertions and subtests.
	StateRunning
	// StateCompleting: a completion trigger fired; waiting for subtests.
	StateCompleting
	// StateDone: terminal. The unit and all its subtests are finished.
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Trigger identifies what completed a unit.
type Trigger int

const (
	TriggerNone Trigger = iota
	// TriggerPlan: the assertion count reached the declared plan.
	TriggerPlan
	// TriggerEnd: End was called.
	TriggerEnd
	// TriggerTimeout: the unit's deadline passed.
	TriggerTimeout
	// TriggerPanic: the body panicked.
	TriggerPanic
	// TriggerAbort: an ancestor timed out or the run was cancelled.
	TriggerAbort
	// TriggerSkip: the unit was skipped or excluded by only-mode.
	TriggerSkip
)

func (tr Trigger) String() string {
	switch tr {
	case TriggerNone:
		return "none"
	case TriggerPlan:
		return "plan"
	case TriggerEnd:
		return "end"
	case TriggerTimeout:
		return "timeout"
	case TriggerPanic:
		return "panic"
	case TriggerAbort:
		return "abort"
	case TriggerSkip:
		return "skip"
	}
	return fmt.Sprintf("Trigger(%d)", int(tr))
}

// completion is a single-assignment event: the first Fire wins and every
// later Fire is a no-op reporting false.
type completion struct {
	trigger Trigger
	ch      chan struct{}
}

func newCompletion() *completion {
	return &completion{ch: make(chan struct{})}
}

// Fire records tr as the winning trigger if none fired yet.
func (c *completion) Fire(tr Trigger) bool {
	if c.trigger != TriggerNone {
		return false
	}
	c.trigger = tr
	close(c.ch)
	return true
}

// Fired returns the winning trigger and whether one fired.
func (c *completion) Fired() (Trigger, bool) {
	return c.trigger, c.trigger != TriggerNone
}

// Done is closed when a trigger fires.
func (c *completion) Done() <-chan struct{} {
	return c.ch
}

// errUnitDone is the context cause once a unit finished normally.
var errUnitDone = errors.New("test finished")

// T is the handle a test body receives. It records assertions, declares a
// plan, spawns subtests and completes the unit.
//
// T is safe for use from multiple goroutines: a body may hand it to
// goroutines that assert later. All state is guarded by the harness lock.
type T struct {
	h      *Harness
	name   string
	parent *T
	depth  int
	body   func(*T)
	opts   testOptions

	ctx    context.Context
	cancel context.CancelCauseFunc

	state      State
	planned    bool
	plan       int
	count      int
	endCalls   int
	children   []*T
	pending    *queue[*T]
	completion *completion
	done       chan struct{}
	timer      *time.Timer
}

func newT(h *Harness, name string, body func(*T), parent *T, opts testOptions) *T {
	if name == "" {
		name = "(anonymous)"
	}
	t := &T{
		h:          h,
		name:       name,
		parent:     parent,
		body:       body,
		opts:       opts,
		pending:    newQueue[*T](),
		completion: newCompletion(),
		done:       make(chan struct{}),
	}
	if parent != nil {
		t.depth = parent.depth + 1
	}
	return t
}

// Name returns the unit's name.
func (t *T) Name() string { return t.name }

// Depth returns the nesting level, zero for top-level tests.
func (t *T) Depth() int { return t.depth }

// Parent returns the spawning unit, or nil for top-level tests.
func (t *T) Parent() *T { return t.parent }

// Done is closed once the unit and all its subtests are done.
func (t *T) Done() <-chan struct{} { return t.done }

// Context is cancelled when the unit is done or forced to stop.
func (t *T) Context() context.Context {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// State returns the lifecycle state.
func (t *T) State() State {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return t.state
}

// Count returns the number of assertions recorded so far.
func (t *T) Count() int {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return t.count
}

// Trigger returns what completed the unit, or TriggerNone.
func (t *T) Trigger() Trigger {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	tr, _ := t.completion.Fired()
	return tr
}

// Children returns the subtests spawned so far, in spawn order.
func (t *T) Children() []*T {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	out := make([]*T, len(t.children))
	copy(out, t.children)
	return out
}

// Plan declares how many assertions the unit will make. The unit completes
// as soon as that many are recorded. Declaring a plan twice, after
// assertions were recorded, or after the unit completed is a failure.
func (t *T) Plan(n int) {
	at := t.h.location()
	t.h.mu.Lock()
	defer t.h.mu.Unlock()

	_, fired := t.completion.Fired()
	switch {
	case t.planned:
		t.violationLocked(fmt.Sprintf("plan(%d) called twice", n), at)
	case fired:
		t.violationLocked(fmt.Sprintf("plan(%d) called after the test ended", n), at)
	case t.count > 0:
		t.violationLocked(fmt.Sprintf("plan(%d) called after %d assertions", n, t.count), at)
	case n < 0:
		t.violationLocked(fmt.Sprintf("plan(%d) is negative", n), at)
	default:
		t.planned = true
		t.plan = n
		if n == 0 {
			t.completeLocked(TriggerPlan)
		}
	}
}

// TimeoutAfter arms a deadline d from now, replacing any earlier one.
func (t *T) TimeoutAfter(d time.Duration) {
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	if t.state == StateDone {
		return
	}
	t.armTimerLocked(d)
}

// End completes the unit. A non-nil error is first recorded as a failing
// assertion. Calling End on a completed unit records one failure and
// changes nothing else.
func (t *T) End(errs ...error) {
	at := t.h.location()
	t.h.mu.Lock()
	defer t.h.mu.Unlock()

	t.endCalls++
	for _, err := range errs {
		if err != nil {
			t.recordLocked(false, err.Error(), OpError, err, nil, extra{at: at})
		}
	}

	if tr, fired := t.completion.Fired(); fired {
		msg := ".end() already called"
		if tr == TriggerPlan && t.endCalls == 1 {
			msg = fmt.Sprintf(".end() called after the plan of %d completed the test (already ended)", t.plan)
		}
		t.violationLocked(msg, at)
		return
	}

	if t.planned && t.count != t.plan {
		t.recordLocked(false, "plan != count", OpFail, t.count, t.plan, extra{internal: true, at: at, operator: "plan"})
	}
	t.completeLocked(TriggerEnd)
}

// Comment writes a diagnostic line outside the assertion numbering.
func (t *T) Comment(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	if t.h.finished {
		t.h.lateLocked(t, msg)
		return
	}
	t.h.emitter.Comment(msg)
}

// Test spawns a subtest. It runs after this unit's body has returned, after
// any subtest spawned before it, and this unit is not done until it is.
// Spawning from a completed unit is a failure and the subtest never runs.
func (t *T) Test(name string, body func(*T), opts ...TestOption) *T {
	at := t.h.location()
	child := newT(t.h, name, body, t, buildTestOptions(opts))

	t.h.mu.Lock()
	defer t.h.mu.Unlock()

	if _, fired := t.completion.Fired(); fired {
		t.violationLocked(fmt.Sprintf("subtest %q spawned after the test ended", child.name), at)
		child.state = StateDone
		child.completion.Fire(TriggerSkip)
		close(child.done)
		return child
	}
	t.children = append(t.children, child)
	t.pending.Enqueue(child)
	return child
}

// invoke runs the body, turning a panic into a failing assertion that
// completes the unit. Subtests already spawned still run.
func (t *T) invoke() {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		stack := string(debug.Stack())
		t.h.mu.Lock()
		defer t.h.mu.Unlock()
		msg := panicMessage(r)
		t.recordLocked(false, msg, OpError, nil, nil, extra{internal: true, noValues: true, at: panicLocation(stack), operator: "panic", err: msg})
		t.completeLocked(TriggerPanic)
		t.h.logger.Warn("test panicked", "run", t.h.id, "test", t.name, "panic", r)
	}()
	if t.body != nil {
		t.body(t)
	}
}

// completeLocked fires the completion event with tr, moving the unit to
// Completing. It reports whether tr won.
func (t *T) completeLocked(tr Trigger) bool {
	if !t.completion.Fire(tr) {
		return false
	}
	if t.state == StateRunning || t.state == StatePending {
		t.state = StateCompleting
	}
	return true
}

// abortLocked force-completes a unit whose context was cancelled by an
// ancestor's timeout or by the run. A unit that already completed is left
// as it is.
func (t *T) abortLocked(cause error) {
	if _, fired := t.completion.Fired(); fired {
		return
	}
	if cause == nil {
		cause = context.Canceled
	}
	t.recordLocked(false, fmt.Sprintf("aborted: %v", cause), OpFail, nil, nil, extra{internal: true, noValues: true, err: cause.Error()})
	t.completeLocked(TriggerAbort)
	t.h.logger.Warn("test aborted", "run", t.h.id, "test", t.name, "cause", cause)
}

func (t *T) armTimerLocked(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() { t.expire(d) })
}

// expire handles a passed deadline: one failing record, completion, and
// cancellation of the unit's context so running or queued subtests abort
// and the scheduler moves on.
func (t *T) expire(d time.Duration) {
	t.h.mu.Lock()
	if t.state == StateDone {
		t.h.mu.Unlock()
		return
	}
	cause := &TimeoutError{Test: t.name, Timeout: d.String()}
	t.recordLocked(false, fmt.Sprintf("test timed out after %s", d), OpFail, nil, nil, extra{internal: true, noValues: true, operator: "timeout"})
	t.completeLocked(TriggerTimeout)
	cancel := t.cancel
	t.h.mu.Unlock()

	t.h.logger.Warn("test timed out", "run", t.h.id, "test", t.name, "timeout", d)
	if cancel != nil {
		cancel(cause)
	}
}

// violationLocked records a protocol violation as a failing assertion.
func (t *T) violationLocked(msg, at string) {
	t.recordLocked(false, msg, OpFail, nil, nil, extra{internal: true, noValues: true, at: at})
	t.h.logger.Warn("protocol violation", "run", t.h.id, "test", t.name, "violation", msg)
}

func panicMessage(r any) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case string:
		return v
	}
	return fmt.Sprint(r)
}

// panicLocation picks the first frame below the panic call from a stack
// trace, returning "file:line" or "".
func panicLocation(stack string) string {
	lines := strings.Split(stack, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "panic(") || i+3 >= len(lines) {
			continue
		}
		frame := strings.TrimSpace(lines[i+3])
		if j := strings.LastIndex(frame, " +0x"); j >= 0 {
			frame = frame[:j]
		}
		return shortFile(frame)
	}
	return ""
}
