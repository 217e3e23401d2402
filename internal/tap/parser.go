package tap

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	versionLine = regexp.MustCompile(`^TAP version (\d+)$`)
	planLine    = regexp.MustCompile(`^1\.\.(\d+)(?:\s*#\s*(.*))?$`)
	resultLine  = regexp.MustCompile(`^(not )?ok\b(?:\s+(\d+))?\s*(.*)$`)
	directive   = regexp.MustCompile(`(?i)(?:^|\s)#\s*(skip|todo)\S*\s*(.*)$`)
	bailOutLine = regexp.MustCompile(`^Bail out!\s*(.*)$`)
)

// Report is a parsed TAP stream.
type Report struct {
	Version  int
	Records  []Record
	Comments []string

	// Plan is the declared count; PlanSet is false when no plan line was seen.
	Plan    int
	PlanSet bool

	Bailed  bool
	BailOut string
}

// Summary recomputes the totals from the parsed records.
func (r *Report) Summary() Summary {
	var s Summary
	for _, rec := range r.Records {
		s.add(rec)
	}
	return s
}

// Problems lists protocol-level defects: a bail out, a missing or unmet plan,
// and gaps or repeats in the numbering.
func (r *Report) Problems() []string {
	var problems []string
	if r.Bailed {
		problems = append(problems, fmt.Sprintf("bailed out: %s", r.BailOut))
	}
	if !r.PlanSet {
		problems = append(problems, "no plan found")
	} else if r.Plan != len(r.Records) {
		problems = append(problems, fmt.Sprintf("plan of %d does not match %d records", r.Plan, len(r.Records)))
	}
	for i, rec := range r.Records {
		if rec.Seq != i+1 {
			problems = append(problems, fmt.Sprintf("record %d numbered %d", i+1, rec.Seq))
		}
	}
	return problems
}

// OK reports whether the stream passed: no failures and no problems.
func (r *Report) OK() bool {
	return r.Summary().OK() && len(r.Problems()) == 0
}

// Parse reads a TAP stream. Indentation is ignored, so indented subtest
// streams are flattened. Each record's Test is the last comment seen before
// it. Unknown lines are ignored as the protocol requires.
func Parse(rd io.Reader) (*Report, error) {
	rep := &Report{}
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		lastComment string
		inYAML      bool
		yamlLines   []string
	)

	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)

		if inYAML {
			if line == "..." {
				inYAML = false
				if err := attachDiagnostic(rep, yamlLines); err != nil {
					return rep, err
				}
				yamlLines = nil
				continue
			}
			yamlLines = append(yamlLines, raw)
			continue
		}

		switch {
		case line == "":
		case line == "---" && len(rep.Records) > 0:
			inYAML = true
		case versionLine.MatchString(line):
			m := versionLine.FindStringSubmatch(line)
			rep.Version, _ = strconv.Atoi(m[1])
		case planLine.MatchString(line):
			m := planLine.FindStringSubmatch(line)
			rep.Plan, _ = strconv.Atoi(m[1])
			rep.PlanSet = true
		case bailOutLine.MatchString(line):
			rep.Bailed = true
			rep.BailOut = bailOutLine.FindStringSubmatch(line)[1]
			return rep, nil
		case strings.HasPrefix(line, "#"):
			text := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			rep.Comments = append(rep.Comments, text)
			lastComment = text
		case resultLine.MatchString(line):
			rep.Records = append(rep.Records, parseResult(line, len(rep.Records)+1, lastComment))
		}
	}
	if err := scanner.Err(); err != nil {
		return rep, fmt.Errorf("read tap stream: %w", err)
	}
	if inYAML {
		return rep, fmt.Errorf("unterminated diagnostic block after record %d", len(rep.Records))
	}
	return rep, nil
}

func parseResult(line string, next int, test string) Record {
	m := resultLine.FindStringSubmatch(line)
	rec := Record{
		OK:   m[1] == "",
		Seq:  next,
		Test: test,
	}
	if m[2] != "" {
		rec.Seq, _ = strconv.Atoi(m[2])
	}

	desc := m[3]
	if loc := unescapedDirective(desc); loc >= 0 {
		d := directive.FindStringSubmatch(desc[loc:])
		rec.Directive = Directive(strings.ToUpper(d[1]))
		rec.Reason = strings.TrimSpace(d[2])
		desc = desc[:loc]
	}
	desc = strings.TrimPrefix(strings.TrimSpace(desc), "- ")
	rec.Description = strings.ReplaceAll(desc, `\#`, "#")
	return rec
}

// unescapedDirective returns the offset of the first directive whose hash
// mark is not escaped, or -1.
func unescapedDirective(desc string) int {
	for _, loc := range directive.FindAllStringIndex(desc, -1) {
		hash := strings.IndexByte(desc[loc[0]:loc[1]], '#') + loc[0]
		if hash > 0 && desc[hash-1] == '\\' {
			continue
		}
		return loc[0]
	}
	return -1
}

func attachDiagnostic(rep *Report, lines []string) error {
	var fields map[string]any
	if err := yaml.Unmarshal([]byte(dedent(lines)), &fields); err != nil {
		return fmt.Errorf("diagnostic block after record %d: %w", len(rep.Records), err)
	}
	d := &Diagnostic{}
	if v, ok := fields["operator"].(string); ok {
		d.Operator = v
	}
	expected, hasExpected := fields["expected"]
	actual, hasActual := fields["actual"]
	if hasExpected || hasActual {
		d.HasValues = true
		d.Expected = expected
		d.Actual = actual
	}
	d.At = fmt.Sprint(valueOr(fields["at"], ""))
	d.Error = fmt.Sprint(valueOr(fields["error"], ""))
	d.Diff = fmt.Sprint(valueOr(fields["diff"], ""))
	rep.Records[len(rep.Records)-1].Diagnostic = d
	return nil
}

func valueOr(v, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}

// dedent strips the indentation shared by all non-blank lines.
func dedent(lines []string) string {
	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " "))
		if common < 0 || n < common {
			common = n
		}
	}
	if common < 0 {
		common = 0
	}
	var b strings.Builder
	for _, l := range lines {
		if len(l) >= common {
			l = l[common:]
		}
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}
