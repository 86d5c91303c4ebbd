package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ibkr-dashboard/internal/server"
)

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard web API",
		Long: `Start the HTTP API on the configured address. The Client Portal gateway
must already be running and logged in; the dashboard never authenticates
on its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Setup(ctx); err != nil {
				return err
			}
			if addr == "" {
				addr = app.Config.Server.Addr
			}

			if app.Logger.GetLevel() > zerolog.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := server.New(app.Gateway, app.Watchlists, app.Staging,
				server.WithLogger(app.Logger),
				server.WithMetrics(app.Metrics),
				server.WithSessionCookie(app.Config.Server.SessionCookie),
				server.WithMaxUpload(app.Config.Server.MaxUploadMB<<20),
			)

			if !app.Gateway.Authenticated(ctx) {
				app.Logger.Warn().
					Str("base_url", app.Config.Broker.BaseURL).
					Msg("gateway session is not authenticated, log in through the Client Portal first")
			}

			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
