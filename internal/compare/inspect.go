package compare

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

// dumper renders composite values without pointer addresses or capacities so
// two runs of the same suite produce identical text.
var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	SpewKeys:                true,
}

// Inspect renders v for a diagnostic block. Scalars use their literal Go
// form, errors their quoted message, and everything else a sorted spew dump.
func Inspect(v any) string {
	if v == nil {
		return "nil"
	}
	if err, ok := v.(error); ok {
		return strconv.Quote(err.Error())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return strconv.Quote(rv.String())
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("%v", v)
	case reflect.Func:
		if rv.IsNil() {
			return fmt.Sprintf("(%s) nil", rv.Type())
		}
		return fmt.Sprintf("(%s)", rv.Type())
	}
	return strings.TrimSuffix(dumper.Sdump(v), "\n")
}

// Diff returns a unified diff between the renderings of expected and actual,
// or "" when either rendering is a single line: short values read better
// side by side in the expected/actual fields than as a diff.
func Diff(expected, actual any) string {
	e, a := Inspect(expected), Inspect(actual)
	if !strings.Contains(e, "\n") && !strings.Contains(a, "\n") {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(e + "\n"),
		B:        difflib.SplitLines(a + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	})
	if err != nil {
		return ""
	}
	return diff
}
