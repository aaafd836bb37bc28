package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewVacuumCommand creates the vacuum command: physically drop a
// structure's deprecated columns.
func NewVacuumCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum <name>",
		Short: "Drop a structure's deprecated columns",
		Long: "Columns left behind by schema updates are retained until vacuumed. " +
			"Vacuum rebuilds the table with only the current schema's columns, " +
			"discarding deprecated column data for good.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.close()

			dropped, err := a.registry.Vacuum(cmd.Context(), name)
			if err != nil {
				return err
			}

			f := newFormatter(cmd, opts)
			return f.success(map[string]any{"dropped_columns": dropped}, func() string {
				if len(dropped) == 0 {
					return fmt.Sprintf("structure %q has no deprecated columns", name)
				}
				return fmt.Sprintf("dropped columns from %q: %s", name, strings.Join(dropped, ", "))
			})
		},
	}
}
