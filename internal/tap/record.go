package tap

// Directive marks a record as skipped or not-yet-implemented.
type Directive string

const (
	DirectiveNone Directive = ""
	DirectiveSkip Directive = "SKIP"
	DirectiveTodo Directive = "TODO"
)

// Record is one assertion outcome. Seq is assigned by the Emitter.
type Record struct {
	Seq         int
	OK          bool
	Description string
	Directive   Directive
	Reason      string

	// Test names the unit the record belongs to.
	Test string

	// Diagnostic is written for failing records only.
	Diagnostic *Diagnostic
}

// Diagnostic is the structured detail attached to a failing record.
// Expected and Actual hold the compared values; when read back by Parse they
// hold whatever the YAML block decoded to.
type Diagnostic struct {
	Operator string
	Expected any
	Actual   any

	// HasValues reports whether Expected and Actual are meaningful. Operators
	// such as fail carry no values and the block omits both fields.
	HasValues bool

	At    string
	Error string
	Diff  string
}

// Summary holds the aggregate counts of a run.
type Summary struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
	Skip  int `json:"skip"`
	Todo  int `json:"todo"`
}

// OK reports whether the run had no counted failures.
func (s Summary) OK() bool {
	return s.Fail == 0
}

// add counts r into the summary.
func (s *Summary) add(r Record) {
	s.Total++
	switch {
	case r.Directive == DirectiveTodo:
		s.Todo++
	case r.Directive == DirectiveSkip:
		s.Skip++
	case r.OK:
		s.Pass++
	default:
		s.Fail++
	}
}
