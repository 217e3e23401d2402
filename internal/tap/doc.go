// Package tap writes and reads Test Anything Protocol (version 13) streams.
//
// The Emitter owns the run-wide assertion counter and the pass/fail/skip/todo
// totals. It never reorders: every call writes immediately, so output order is
// exactly call order. A failing record is followed by a YAML diagnostic block:
//
//	not ok 3 should be strictly equal
//	  ---
//	    operator: equal
//	    expected: 2
//	    actual: 1
//	    at: math_test.go:41
//	  ...
//
// Parse reads any TAP13 stream back into records so a run can be summarised or
// stored after the fact.
package tap
