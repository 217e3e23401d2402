package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/tape/internal/store"
	"github.com/roach88/tape/internal/tap"
)

// SummarizeOptions holds flags for the summarize command.
type SummarizeOptions struct {
	*RootOptions
	Database string
	Source   string
}

// Failure is one failing record in a summarize result.
type Failure struct {
	Seq         int    `json:"seq"`
	Test        string `json:"test,omitempty"`
	Description string `json:"description"`
	Diagnostic  string `json:"diagnostic,omitempty"`
}

// SummarizeResult is the outcome of reading one TAP stream.
type SummarizeResult struct {
	Source   string      `json:"source"`
	OK       bool        `json:"ok"`
	Plan     int         `json:"plan"`
	Summary  tap.Summary `json:"summary"`
	Problems []string    `json:"problems"`
	Failures []Failure   `json:"failures"`
	RunID    string      `json:"-"`
}

// NewSummarizeCommand creates the summarize command.
func NewSummarizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummarizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "summarize [file]",
		Short: "Summarize a TAP stream",
		Long: `Read a TAP stream and report its totals, failures and protocol problems.

The stream is read from the named file, or from standard input when the
argument is "-" or omitted. With --db (or db in the config file) the
stream is also stored as a run in the history database.

Exit codes:
  0  every record passed and the stream is well formed
  1  the stream has failures, a bail out or a plan mismatch
  2  the stream could not be read or stored

Examples:
  go test ./... | tapharness summarize
  tapharness summarize results.tap --db ./runs.db
  tapharness summarize results.tap --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runSummarize(opts, cmd, path)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "store the stream as a run in this SQLite database")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source label stored with the run (default: file name)")

	return cmd
}

func runSummarize(opts *SummarizeOptions, cmd *cobra.Command, path string) error {
	ctx := context.Background()
	logger := opts.logger()
	out := opts.formatter(cmd)

	in, source, err := openInput(cmd, path)
	if err != nil {
		opts.jsonError(out, ErrCodeRead, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	defer in.Close()
	if opts.Source != "" {
		source = opts.Source
	}

	rep, err := tap.Parse(in)
	if err != nil {
		opts.jsonError(out, ErrCodeParse, err.Error(), map[string]string{"source": source})
		return WrapExitError(ExitCommandError, "failed to parse TAP", err)
	}
	logger.Debug("parsed stream", "source", source, "records", len(rep.Records), "bailed", rep.Bailed)

	result := buildSummary(rep, source)

	if db := opts.database(opts.Database); db != "" {
		runID, err := storeReport(ctx, db, source, rep)
		if err != nil {
			opts.jsonError(out, ErrCodeStore, err.Error(), map[string]string{"db": db})
			return WrapExitError(ExitCommandError, "failed to store run", err)
		}
		result.RunID = runID
		logger.Info("stored run", "run_id", runID, "db", db)
	}

	status := "ok"
	if !result.OK {
		status = "failed"
	}
	if opts.Format == "json" {
		if err := out.Result(status, result.RunID, result); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	} else {
		writeSummaryText(cmd.OutOrStdout(), result, opts.Verbose)
	}

	if !result.OK {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d failed, %d problems", source, result.Summary.Fail, len(result.Problems)))
	}
	return nil
}

// jsonError reports a command error on stdout for JSON consumers. Text mode
// leaves reporting to the returned error.
func (o *SummarizeOptions) jsonError(out *OutputFormatter, code, message string, details any) {
	if o.Format == "json" {
		_ = out.Error(code, message, details)
	}
}

// openInput opens path, or standard input for "-".
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), "stdin", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

func buildSummary(rep *tap.Report, source string) SummarizeResult {
	result := SummarizeResult{
		Source:   source,
		OK:       rep.OK(),
		Plan:     rep.Plan,
		Summary:  rep.Summary(),
		Problems: rep.Problems(),
		Failures: []Failure{},
	}
	if result.Problems == nil {
		result.Problems = []string{}
	}
	for _, r := range rep.Records {
		if r.OK || r.Directive != tap.DirectiveNone {
			continue
		}
		f := Failure{Seq: r.Seq, Test: r.Test, Description: r.Description}
		if r.Diagnostic != nil {
			if b, err := tap.MarshalDiagnostic(r.Diagnostic); err == nil {
				f.Diagnostic = string(b)
			}
		}
		result.Failures = append(result.Failures, f)
	}
	return result
}

func storeReport(ctx context.Context, db, source string, rep *tap.Report) (string, error) {
	st, err := store.Open(db)
	if err != nil {
		return "", err
	}
	defer st.Close()

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	if err := st.WriteReport(ctx, id.String(), source, rep); err != nil {
		return "", err
	}
	return id.String(), nil
}

func writeSummaryText(w io.Writer, r SummarizeResult, verbose bool) {
	fmt.Fprintf(w, "Source: %s\n", r.Source)
	fmt.Fprintf(w, "Status: %s\n", passStatus(r.OK))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "tests %d\n", r.Summary.Total)
	fmt.Fprintf(w, "pass  %d\n", r.Summary.Pass)
	fmt.Fprintf(w, "fail  %d\n", r.Summary.Fail)
	if r.Summary.Skip > 0 {
		fmt.Fprintf(w, "skip  %d\n", r.Summary.Skip)
	}
	if r.Summary.Todo > 0 {
		fmt.Fprintf(w, "todo  %d\n", r.Summary.Todo)
	}

	if len(r.Problems) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Problems ===")
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Failures ===")
		for _, f := range r.Failures {
			writeFailure(w, f.Seq, f.Test, f.Description, f.Diagnostic, verbose)
		}
	}

	if r.RunID != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Stored run: %s\n", r.RunID)
	}
}

// writeFailure prints one failing record; the diagnostic block is shown
// only in verbose mode.
func writeFailure(w io.Writer, seq int, test, desc, diag string, verbose bool) {
	if test != "" {
		fmt.Fprintf(w, "  not ok %d %s (%s)\n", seq, desc, test)
	} else {
		fmt.Fprintf(w, "  not ok %d %s\n", seq, desc)
	}
	if verbose && diag != "" {
		for _, line := range strings.Split(strings.TrimRight(diag, "\n"), "\n") {
			fmt.Fprintf(w, "      %s\n", line)
		}
	}
}

func passStatus(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
