// Package store provides SQLite-backed run history.
//
// Two tables:
//   - runs: one row per harness drain or summarized TAP stream, with totals
//   - records: the numbered assertion results of a run, in emission order
//
// Runs are written either live, through a Recorder registered as a harness
// observer, or in one transaction from a parsed report (WriteReport).
//
// # Connections
//
// Every connection is opened with WAL journaling, synchronous=NORMAL, a
// five second busy timeout and foreign keys enforced, so a record can only
// reference a run that exists. The schema is versioned through user_version.
package store
