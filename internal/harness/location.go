package harness

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
)

var (
	harnessPkg = reflect.TypeOf(T{}).PkgPath()
	facadePkg  = strings.TrimSuffix(harnessPkg, "/internal/harness")
)

// location returns "file.go:line" for the first caller outside the harness
// and its facade, or "" when locations are disabled. Test files are never
// skipped, so the harness's own tests report their call sites.
func (h *Harness) location() string {
	if !h.locations {
		return ""
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !internalFrame(f) {
			return shortFile(fmt.Sprintf("%s:%d", f.File, f.Line))
		}
		if !more {
			return ""
		}
	}
}

func internalFrame(f runtime.Frame) bool {
	if strings.HasSuffix(f.File, "_test.go") {
		return false
	}
	fn := f.Function
	return strings.HasPrefix(fn, harnessPkg+".") ||
		strings.HasPrefix(fn, facadePkg+".") ||
		strings.HasPrefix(fn, "runtime.")
}

// shortFile trims a "path/to/file.go:line" location to "file.go:line".
func shortFile(loc string) string {
	if loc == "" {
		return ""
	}
	return filepath.Base(loc)
}
