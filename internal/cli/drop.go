package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDropCommand creates the drop command: remove a structure, its table
// and all its records.
func NewDropCommand(opts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "drop <name>",
		Short: "Drop a structure and all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !force {
				return fmt.Errorf("dropping %q deletes its table and every record; re-run with --force", name)
			}

			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.registry.Drop(cmd.Context(), name); err != nil {
				return err
			}

			f := newFormatter(cmd, opts)
			return f.success(map[string]string{"dropped": name}, func() string {
				return fmt.Sprintf("dropped structure %q", name)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm the destructive drop")

	return cmd
}
