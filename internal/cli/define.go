package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDefineCommand creates the define command: register a structure from
// a schema document file.
func NewDefineCommand(opts *RootOptions) *cobra.Command {
	var update bool

	cmd := &cobra.Command{
		Use:   "define <name> <schema-file>",
		Short: "Define (or update) a structure from a schema document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]

			doc, err := loadSchemaDoc(path)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer a.close()

			def := (*definitionResult)(nil)
			if update {
				d, err := a.registry.Update(cmd.Context(), name, doc)
				if err != nil {
					return err
				}
				def = &definitionResult{Name: d.Name, Version: d.Version}
			} else {
				d, err := a.registry.Define(cmd.Context(), name, doc)
				if err != nil {
					return err
				}
				def = &definitionResult{Name: d.Name, Version: d.Version}
			}

			f := newFormatter(cmd, opts)
			return f.success(def, func() string {
				return fmt.Sprintf("structure %q at version %d", def.Name, def.Version)
			})
		},
	}

	cmd.Flags().BoolVar(&update, "update", false, "update an existing structure instead of defining a new one")

	return cmd
}

// definitionResult is the wire shape for define/update output.
type definitionResult struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}
