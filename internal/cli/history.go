package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tape/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
	Failed   bool
}

// RunDetail is a stored run with its records.
type RunDetail struct {
	Run     store.Run      `json:"run"`
	Records []store.Record `json:"records"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored runs",
		Long: `List the runs stored in a history database, newest first.

With --run the records of a single run are shown instead; --failed
limits them to failing records.

Examples:
  tapharness history --db ./runs.db
  tapharness history --db ./runs.db --limit 5 --format json
  tapharness history --db ./runs.db --run 0192... --failed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: db from config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the records of this run")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "with --run, show failing records only")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	db := opts.database(opts.Database)
	if db == "" {
		return NewExitError(ExitCommandError, "no database: pass --db or set db in the config file")
	}
	// Opening creates the file, so a missing database is reported first.
	if _, err := os.Stat(db); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", db))
		}
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	st, err := store.Open(db)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	out := opts.formatter(cmd)
	opts.logger().Debug("reading history", "db", db, "run", opts.RunID, "limit", opts.Limit)

	if opts.RunID != "" {
		detail, err := readRunDetail(ctx, st, opts.RunID, opts.Failed)
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
			}
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		if opts.Format == "json" {
			return out.Result("ok", detail.Run.ID, detail)
		}
		writeRunDetailText(cmd.OutOrStdout(), detail, opts.Verbose)
		return nil
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if opts.Format == "json" {
		return out.Success(runs)
	}
	writeRunsText(cmd.OutOrStdout(), runs)
	return nil
}

func readRunDetail(ctx context.Context, st *store.Store, id string, failedOnly bool) (RunDetail, error) {
	run, err := st.ReadRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	records, err := st.ReadRecords(ctx, id, failedOnly)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Records: records}, nil
}

func writeRunsText(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %-4s  %d/%d passed",
			r.ID, r.StartedAt.Format(time.RFC3339), runStatus(r), r.Summary.Pass, r.Summary.Total)
		if r.Source != "" {
			fmt.Fprintf(w, "  %s", r.Source)
		}
		fmt.Fprintln(w)
	}
}

func writeRunDetailText(w io.Writer, d RunDetail, verbose bool) {
	r := d.Run
	fmt.Fprintf(w, "Run: %s\n", r.ID)
	if r.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", r.Source)
	}
	fmt.Fprintf(w, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Status: %s\n", runStatus(r))
	fmt.Fprintf(w, "Totals: %d tests, %d pass, %d fail, %d skip, %d todo\n",
		r.Summary.Total, r.Summary.Pass, r.Summary.Fail, r.Summary.Skip, r.Summary.Todo)
	fmt.Fprintln(w)

	if len(d.Records) == 0 {
		fmt.Fprintln(w, "  (no records)")
		return
	}
	for _, rec := range d.Records {
		if !rec.OK && rec.Directive == "" {
			writeFailure(w, rec.Seq, rec.Test, rec.Description, rec.Diagnostic, verbose)
			continue
		}
		status := "ok"
		if !rec.OK {
			status = "not ok"
		}
		line := fmt.Sprintf("  %s %d %s", status, rec.Seq, rec.Description)
		if rec.Directive != "" {
			line += " # " + rec.Directive
			if rec.Reason != "" {
				line += " " + rec.Reason
			}
		}
		fmt.Fprintln(w, line)
	}
}

func runStatus(r store.Run) string {
	switch {
	case !r.Finished:
		return "OPEN"
	case r.Bailed:
		return "BAIL"
	case r.Summary.OK():
		return "PASS"
	default:
		return "FAIL"
	}
}
