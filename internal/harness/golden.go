package harness

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// goldenRunID is the run id every golden run uses so output is reproducible.
const goldenRunID = "00000000-0000-7000-8000-000000000000"

// RunWithGolden runs the tests registered by register on a fresh harness and
// compares the TAP output against testdata/golden/{name}.golden.
//
// Source locations are disabled so the output does not depend on line
// numbers. To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, name string, register func(h *Harness), opts ...Option) []byte {
	t.Helper()

	var buf bytes.Buffer
	opts = append([]Option{WithOutput(&buf), WithLocations(false), WithRunID(goldenRunID)}, opts...)
	h := New(opts...)
	register(h)

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("run %s: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
	return buf.Bytes()
}
