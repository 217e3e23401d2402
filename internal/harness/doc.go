// Package harness runs tests serially and reports them as TAP.
//
// A Harness owns a FIFO queue of top-level tests. Run takes them one at a
// time: it invokes the body with a *T, runs the subtests the body spawned in
// spawn order, and moves on only when the unit and every descendant is done.
// The records of two top-level tests therefore never interleave.
//
// # Completion
//
// A unit completes on the first of:
//
//   - its assertion count reaching the plan declared with Plan
//   - an explicit End
//   - its timeout passing (Timeout option, TimeoutAfter, WithDefaultTimeout)
//   - its body panicking
//
// Completion is a single-assignment event. Whatever arrives later (a second
// End, an assertion past the plan, an assertion from a body still running
// after its timeout) is recorded as a failing assertion rather than dropped.
//
// # Assertions
//
// Every assertion method funnels into one record primitive. The alias names
// of the assertion family resolve through a lookup table; T.Assert dispatches
// by alias:
//
//	t.Assert("strictEqual", got, 3)
//	t.Assert("throws", func() { panic("boom") }, regexp.MustCompile("boom"))
//
// # Output
//
// Records are numbered globally per harness and written through a
// tap.Emitter in call order:
//
//	TAP version 13
//	# arithmetic
//	ok 1 should be strictly equal
//	not ok 2 should be deeply equivalent
//	  ---
//	    operator: deepEqual
//	    expected: 2
//	    actual: 1
//	  ...
//
//	1..2
//	# tests 2
//	# pass  1
//	# fail  1
package harness
