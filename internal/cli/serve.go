package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/internal/notify"
	"github.com/stratahq/strata/internal/record"
	"github.com/stratahq/strata/internal/server"
	"github.com/stratahq/strata/internal/validate"
)

// NewServeCommand creates the serve command: the HTTP front end over the
// engine, running until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the strata HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts, cmd.Flags())
			if err != nil {
				return err
			}
			defer a.close()

			notifier := notify.New(a.cfg.EventBuffer)
			defer notifier.Close()

			records := record.New(a.store, a.registry, validate.New(a.cfg.MaxDepth), notifier)

			srv := server.New(server.Config{
				Addr:     a.cfg.Addr,
				Registry: a.registry,
				Records:  records,
				Notifier: notifier,
				Logger:   a.logger,
			})

			a.logger.Info("starting server", "db", a.cfg.DBPath)
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides config)")
	cmd.Flags().String("db_path", "", "database file (overrides config)")

	return cmd
}
