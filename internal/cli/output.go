package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// formatter handles JSON vs text output for CLI commands.
type formatter struct {
	format string
	out    io.Writer
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *formatter {
	return &formatter{format: opts.Format, out: cmd.OutOrStdout()}
}

// success prints data as JSON, or the rendered text line otherwise.
func (f *formatter) success(data any, text func() string) error {
	if f.format == "json" {
		enc := json.NewEncoder(f.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	_, err := fmt.Fprintln(f.out, text())
	return err
}
