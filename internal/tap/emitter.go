package tap

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tape/internal/compare"
)

// Version is the protocol version written in the header line.
const Version = 13

// Emitter serialises records and test boundaries as TAP text.
//
// Emitter is not safe for concurrent use; the harness serialises calls.
type Emitter struct {
	w        io.Writer
	seq      int
	summary  Summary
	started  bool
	finished bool
	err      error
}

// NewEmitter creates an emitter writing to w. The counter starts at zero.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// SetWriter redirects subsequent output.
func (e *Emitter) SetWriter(w io.Writer) {
	e.w = w
}

// Header writes the version line. Only the first call writes.
func (e *Emitter) Header() {
	if e.started {
		return
	}
	e.started = true
	e.printf("TAP version %d\n", Version)
}

// Boundary writes the comment line opening a test unit, indented two spaces
// per nesting level after the marker.
func (e *Emitter) Boundary(name string, depth int) {
	e.Header()
	e.printf("# %s%s\n", strings.Repeat("  ", depth), clean(name))
}

// Comment writes a free-form diagnostic, one comment line per input line.
// It does not touch the counter.
func (e *Emitter) Comment(msg string) {
	e.Header()
	msg = norm.NFC.String(strings.TrimRight(msg, "\n"))
	for _, line := range strings.Split(msg, "\n") {
		e.printf("# %s\n", strings.TrimRight(line, "\r"))
	}
}

// Assert numbers r, counts it and writes its result line plus, when it
// failed, its diagnostic block. The numbered record is returned.
func (e *Emitter) Assert(r Record) Record {
	e.Header()
	e.seq++
	r.Seq = e.seq
	e.summary.add(r)

	var line strings.Builder
	if !r.OK {
		line.WriteString("not ")
	}
	fmt.Fprintf(&line, "ok %d", r.Seq)
	if desc := clean(r.Description); desc != "" {
		line.WriteString(" ")
		line.WriteString(desc)
	}
	if r.Directive != DirectiveNone {
		fmt.Fprintf(&line, " # %s", r.Directive)
		if reason := clean(r.Reason); reason != "" {
			line.WriteString(" ")
			line.WriteString(reason)
		}
	}
	line.WriteString("\n")
	e.printf("%s", line.String())

	if !r.OK && r.Diagnostic != nil {
		e.diagnostic(r.Diagnostic)
	}
	return r
}

// BailOut writes a bail-out line. Consumers stop reading at it.
func (e *Emitter) BailOut(reason string) {
	e.Header()
	e.printf("Bail out! %s\n", clean(reason))
}

// Finish writes the plan footer and the summary comments. Only the first call
// writes; every call returns the totals.
func (e *Emitter) Finish() Summary {
	if e.finished {
		return e.summary
	}
	e.Header()
	e.finished = true
	s := e.summary
	e.printf("\n1..%d\n", s.Total)
	e.printf("# tests %d\n", s.Total)
	e.printf("# pass  %d\n", s.Pass)
	if s.Skip > 0 {
		e.printf("# skip  %d\n", s.Skip)
	}
	if s.Todo > 0 {
		e.printf("# todo  %d\n", s.Todo)
	}
	e.printf("# fail  %d\n", s.Fail)
	if s.OK() {
		e.printf("\n# ok\n")
	} else {
		e.printf("\n# not ok\n")
	}
	return s
}

// Summary returns the running totals.
func (e *Emitter) Summary() Summary {
	return e.summary
}

// Count returns the number of records emitted so far.
func (e *Emitter) Count() int {
	return e.seq
}

// Finished reports whether Finish has written the footer.
func (e *Emitter) Finished() bool {
	return e.finished
}

// Err returns the first write error, if any.
func (e *Emitter) Err() error {
	return e.err
}

func (e *Emitter) printf(format string, args ...any) {
	if e.w == nil {
		return
	}
	if _, err := fmt.Fprintf(e.w, format, args...); err != nil && e.err == nil {
		e.err = err
	}
}

func (e *Emitter) diagnostic(d *Diagnostic) {
	body, err := MarshalDiagnostic(d)
	if err != nil {
		body = []byte(fmt.Sprintf("error: %q\n", err.Error()))
	}
	var buf bytes.Buffer
	buf.WriteString("  ---\n")
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		buf.WriteString("    ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("  ...\n")
	e.printf("%s", buf.String())
}

// MarshalDiagnostic renders d as a YAML mapping with a fixed key order:
// operator, expected, actual, at, error, diff.
func MarshalDiagnostic(d *Diagnostic) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	put := func(key string, value *yaml.Node) {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
	}

	if d.Operator != "" {
		put("operator", stringNode(d.Operator))
	}
	if d.HasValues {
		put("expected", valueNode(d.Expected))
		put("actual", valueNode(d.Actual))
	}
	if d.At != "" {
		put("at", stringNode(d.At))
	}
	if d.Error != "" {
		put("error", stringNode(d.Error))
	}
	if d.Diff != "" {
		put("diff", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.Diff, Style: yaml.LiteralStyle})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode diagnostic: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode diagnostic: %w", err)
	}
	return buf.Bytes(), nil
}

func stringNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: norm.NFC.String(s)}
}

// valueNode renders scalars as native YAML scalars, so 1 and "1" stay
// distinguishable, and everything else as a literal block of its dump.
func valueNode(v any) *yaml.Node {
	switch x := v.(type) {
	case error:
		return stringNode(x.Error())
	case fmt.Stringer:
		if isYAMLScalar(v) {
			return stringNode(x.String())
		}
	}
	if v == nil || isYAMLScalar(v) {
		n := &yaml.Node{}
		if err := n.Encode(v); err == nil {
			return n
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: compare.Inspect(v), Style: yaml.LiteralStyle}
}

func isYAMLScalar(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// clean makes text safe for a single result line: NFC form, no line breaks,
// and escaped hash marks so a description cannot fake a directive.
func clean(s string) string {
	s = norm.NFC.String(s)
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "#", `\#`).Replace(s)
	return strings.TrimSpace(s)
}
