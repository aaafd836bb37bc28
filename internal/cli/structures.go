package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewStructuresCommand creates the structures command: list registered
// structures with their versions.
func NewStructuresCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "structures",
		Short: "List registered structures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.close()

			defs := a.registry.List()
			results := make([]definitionResult, len(defs))
			for i, d := range defs {
				results[i] = definitionResult{Name: d.Name, Version: d.Version}
			}

			f := newFormatter(cmd, opts)
			return f.success(results, func() string {
				if len(results) == 0 {
					return "no structures defined"
				}
				lines := make([]string, len(results))
				for i, r := range results {
					lines[i] = fmt.Sprintf("%s\tv%d", r.Name, r.Version)
				}
				return strings.Join(lines, "\n")
			})
		},
	}
}
