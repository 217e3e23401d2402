package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tape/internal/harness"
)

// OperatorAliases lists the assertion names that resolve to one operator.
type OperatorAliases struct {
	Operator string   `json:"operator"`
	Aliases  []string `json:"aliases"`
}

// NewAliasesCommand creates the aliases command.
func NewAliasesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "aliases [name]",
		Short: "List assertion names and their operators",
		Long: `List every assertion name accepted by T.Assert, grouped by the operator
reported in diagnostic blocks. With a name, resolve just that alias.

Examples:
  tapharness aliases
  tapharness aliases isInequivalent`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			if len(args) == 1 {
				op, ok := harness.Lookup(args[0])
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("unknown assertion %q", args[0]))
				}
				entry := OperatorAliases{Operator: string(op), Aliases: harness.Aliases(op)}
				if rootOpts.Format == "json" {
					return out.Success(entry)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], op)
				return nil
			}

			table := aliasTable()
			if rootOpts.Format == "json" {
				return out.Success(table)
			}
			writeAliasTable(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func aliasTable() []OperatorAliases {
	ops := harness.Operators()
	table := make([]OperatorAliases, 0, len(ops))
	for _, op := range ops {
		table = append(table, OperatorAliases{Operator: string(op), Aliases: harness.Aliases(op)})
	}
	return table
}

func writeAliasTable(w io.Writer, table []OperatorAliases) {
	width := 0
	for _, e := range table {
		width = max(width, len(e.Operator))
	}
	for _, e := range table {
		fmt.Fprintf(w, "%-*s  %s\n", width, e.Operator, strings.Join(e.Aliases, ", "))
	}
}
