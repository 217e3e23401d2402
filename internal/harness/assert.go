package harness

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/tape/internal/compare"
	"github.com/roach88/tape/internal/tap"
)

// extra carries the optional parts of a record.
type extra struct {
	// internal marks records the harness synthesizes itself (violations,
	// timeouts, aborts). They are never rewritten as post-completion
	// failures and never fulfil a plan.
	internal bool

	// noValues omits expected and actual from the diagnostic block.
	noValues bool

	// operator overrides the operator name shown in the diagnostic block.
	operator string

	directive tap.Directive
	reason    string
	at        string
	err       string
	diff      bool
}

// record is the single primitive behind every assertion.
func (t *T) record(ok bool, desc string, op Operator, actual, expected any, x extra) bool {
	if x.at == "" {
		x.at = t.h.location()
	}
	t.h.mu.Lock()
	defer t.h.mu.Unlock()
	return t.recordLocked(ok, desc, op, actual, expected, x)
}

// recordLocked numbers and emits one record and updates the unit's count,
// firing the plan trigger when the count reaches the plan. An assertion made
// after the unit completed is recorded as a failure. Once the run has written
// its footer or bailed out nothing more is emitted; the assertion is kept for
// Close instead. It returns the recorded outcome.
func (t *T) recordLocked(ok bool, desc string, op Operator, actual, expected any, x extra) bool {
	h := t.h
	if h.finished {
		h.lateLocked(t, desc)
		return false
	}
	if tr, fired := t.completion.Fired(); fired && !x.internal {
		ok = false
		if tr == TriggerPlan {
			x.err = fmt.Sprintf("plan exceeded: assertion %d of a plan of %d", t.count+1, t.plan)
		} else {
			x.err = fmt.Sprintf("assertion after end (test completed by %s)", tr)
		}
		h.logger.Warn("assertion after completion", "run", h.id, "test", t.name, "trigger", tr.String(), "description", desc)
	}

	if x.directive == tap.DirectiveNone && t.opts.todo {
		x.directive = tap.DirectiveTodo
	}

	rec := tap.Record{
		OK:          ok,
		Description: desc,
		Directive:   x.directive,
		Reason:      x.reason,
		Test:        t.name,
	}
	if !ok {
		d := &tap.Diagnostic{
			Operator:  string(op),
			Expected:  expected,
			Actual:    actual,
			HasValues: !x.noValues,
			Error:     x.err,
		}
		if x.operator != "" {
			d.Operator = x.operator
		}
		if h.locations {
			d.At = x.at
		}
		if x.diff && !x.noValues {
			d.Diff = compare.Diff(expected, actual)
		}
		rec.Diagnostic = d
	}

	rec = h.emitter.Assert(rec)
	t.count++
	for _, o := range h.observers {
		o.Recorded(h.id, rec)
	}

	if t.planned && !x.internal && t.count >= t.plan {
		t.completeLocked(TriggerPlan)
	}
	return ok
}

// message picks the description: an explicit message, a format string with
// arguments, or def.
func message(def string, msgAndArgs []any) string {
	var msg string
	switch {
	case len(msgAndArgs) == 0:
	case len(msgAndArgs) == 1:
		if s, ok := msgAndArgs[0].(string); ok {
			msg = s
		} else {
			msg = fmt.Sprintf("%+v", msgAndArgs[0])
		}
	default:
		if f, ok := msgAndArgs[0].(string); ok {
			msg = fmt.Sprintf(f, msgAndArgs[1:]...)
		}
	}
	if msg == "" {
		return def
	}
	return msg
}

// Ok asserts that value is truthy.
func (t *T) Ok(value any, msgAndArgs ...any) bool {
	return t.record(compare.Truthy(value), message("should be truthy", msgAndArgs), OpOk, value, true, extra{})
}

// NotOk asserts that value is falsy.
func (t *T) NotOk(value any, msgAndArgs ...any) bool {
	return t.record(!compare.Truthy(value), message("should be falsy", msgAndArgs), OpNotOk, value, false, extra{})
}

// Error asserts that err is nil. On failure the description defaults to the
// error's message.
func (t *T) Error(err error, msgAndArgs ...any) bool {
	if err == nil {
		return t.record(true, message("should not be an error", msgAndArgs), OpError, nil, nil, extra{noValues: true})
	}
	return t.record(false, message(err.Error(), msgAndArgs), OpError, err, nil, extra{err: err.Error()})
}

// Equal asserts strict equality of actual and expected: same dynamic type
// and equal value, identity for reference kinds.
func (t *T) Equal(actual, expected any, msgAndArgs ...any) bool {
	return t.record(compare.Strict(actual, expected), message("should be strictly equal", msgAndArgs), OpEqual, actual, expected, extra{diff: true})
}

// NotEqual inverts Equal.
func (t *T) NotEqual(actual, expected any, msgAndArgs ...any) bool {
	return t.record(!compare.Strict(actual, expected), message("should not be strictly equal", msgAndArgs), OpNotEqual, actual, expected, extra{})
}

// DeepEqual asserts structural equality with strictly compared leaves.
func (t *T) DeepEqual(actual, expected any, msgAndArgs ...any) bool {
	return t.record(compare.DeepEqual(actual, expected), message("should be deeply equivalent", msgAndArgs), OpDeepEqual, actual, expected, extra{diff: true})
}

// NotDeepEqual inverts DeepEqual.
func (t *T) NotDeepEqual(actual, expected any, msgAndArgs ...any) bool {
	return t.record(!compare.DeepEqual(actual, expected), message("should not be deeply equivalent", msgAndArgs), OpNotDeepEqual, actual, expected, extra{})
}

// DeepLooseEqual asserts structural equality with coercing leaf comparison.
func (t *T) DeepLooseEqual(actual, expected any, msgAndArgs ...any) bool {
	return t.record(compare.DeepLooseEqual(actual, expected), message("should be loosely deeply equivalent", msgAndArgs), OpDeepLooseEqual, actual, expected, extra{diff: true})
}

// NotDeepLooseEqual inverts DeepLooseEqual.
func (t *T) NotDeepLooseEqual(actual, expected any, msgAndArgs ...any) bool {
	return t.record(!compare.DeepLooseEqual(actual, expected), message("should not be loosely deeply equivalent", msgAndArgs), OpNotDeepLooseEqual, actual, expected, extra{})
}

// Fail records an unconditional failure.
func (t *T) Fail(msgAndArgs ...any) bool {
	return t.record(false, message("fail called", msgAndArgs), OpFail, nil, nil, extra{noValues: true})
}

// Pass records an unconditional pass.
func (t *T) Pass(msgAndArgs ...any) bool {
	return t.record(true, message("(unnamed assert)", msgAndArgs), OpPass, nil, nil, extra{noValues: true})
}

// SkipAssert records a skipped assertion.
func (t *T) SkipAssert(msgAndArgs ...any) bool {
	return t.record(true, message("(unnamed assert)", msgAndArgs), OpSkip, nil, nil, extra{noValues: true, directive: tap.DirectiveSkip})
}

// Throws asserts that fn raises. fn is a func() that panics or a func() error
// that returns a non-nil error.
//
// The optional first argument after fn restricts what counts as raising the
// right thing: a *regexp.Regexp matched against the message, an error matched
// with errors.Is or by message, or a func(any) bool / func(error) bool
// predicate. A string in that position is the description instead.
func (t *T) Throws(fn any, expectedAndMsg ...any) bool {
	var expected any
	msgAndArgs := expectedAndMsg
	if len(expectedAndMsg) > 0 {
		if _, isMsg := expectedAndMsg[0].(string); !isMsg {
			expected = expectedAndMsg[0]
			msgAndArgs = expectedAndMsg[1:]
		}
	}
	desc := message("should throw", msgAndArgs)

	raised, value, err := guard(fn)
	if err != nil {
		return t.record(false, desc, OpThrows, nil, nil, extra{noValues: true, err: err.Error()})
	}
	if !raised {
		return t.record(false, desc, OpThrows, nil, describeExpected(expected), extra{})
	}

	ok, err := matchRaised(value, expected)
	x := extra{}
	if err != nil {
		x.err = err.Error()
	}
	return t.record(ok, desc, OpThrows, value, describeExpected(expected), x)
}

// DoesNotThrow asserts that fn neither panics nor returns an error.
func (t *T) DoesNotThrow(fn any, msgAndArgs ...any) bool {
	desc := message("should not throw", msgAndArgs)
	raised, value, err := guard(fn)
	if err != nil {
		return t.record(false, desc, OpDoesNotThrow, nil, nil, extra{noValues: true, err: err.Error()})
	}
	if raised {
		return t.record(false, desc, OpDoesNotThrow, value, nil, extra{err: panicMessage(value)})
	}
	return t.record(true, desc, OpDoesNotThrow, nil, nil, extra{})
}

var errNotCallable = errors.New("argument must be a func() or a func() error")

// guard calls fn and reports whether it raised and with what.
func guard(fn any) (raised bool, value any, err error) {
	var call func() error
	switch f := fn.(type) {
	case func():
		call = func() error { f(); return nil }
	case func() error:
		call = f
	default:
		return false, nil, fmt.Errorf("%w, got %T", errNotCallable, fn)
	}

	defer func() {
		if r := recover(); r != nil {
			raised, value = true, r
		}
	}()
	if e := call(); e != nil {
		return true, e, nil
	}
	return false, nil, nil
}

// matchRaised checks a raised value against the expectation of Throws.
func matchRaised(value, expected any) (bool, error) {
	switch exp := expected.(type) {
	case nil:
		return true, nil
	case *regexp.Regexp:
		return exp.MatchString(panicMessage(value)), nil
	case func(any) bool:
		return exp(value), nil
	case func(error) bool:
		err, ok := value.(error)
		if !ok {
			err = errors.New(panicMessage(value))
		}
		return exp(err), nil
	case error:
		if err, ok := value.(error); ok && errors.Is(err, exp) {
			return true, nil
		}
		return panicMessage(value) == exp.Error(), nil
	}
	return false, fmt.Errorf("unsupported expectation %T", expected)
}

func describeExpected(expected any) any {
	switch exp := expected.(type) {
	case *regexp.Regexp:
		return exp.String()
	case func(any) bool, func(error) bool:
		return "[predicate]"
	}
	return expected
}
