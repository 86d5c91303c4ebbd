// Package cli provides the command-line interface for the dashboard.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ibkr-dashboard/internal/config"
	"ibkr-dashboard/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// NewRootCmd creates the root command. Configuration is loaded and the
// dependencies are wired on first use by a subcommand.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "IBKR dashboard - watchlists and account views over the Client Portal gateway",
		Long: `The dashboard proxies a local IBKR Client Portal gateway and keeps
named watchlists with live prices.

Run 'dashboard serve' to start the web API, or manage watchlists directly
with 'dashboard watchlist'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(cfg.Logging)
				app.configDir = dir
			}

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/ibkr-dashboard)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newWatchlistCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("IBKR Dashboard v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir := app.configDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Server")
	output.Printf("  Address:         %s\n", cfg.Server.Addr)
	output.Printf("  Session cookie:  %s\n", cfg.Server.SessionCookie)
	output.Printf("  Max upload:      %d MB\n", cfg.Server.MaxUploadMB)
	output.Println()

	output.Bold("Broker")
	output.Printf("  Base URL:        %s\n", cfg.Broker.BaseURL)
	output.Printf("  Account:         %s\n", valueOr(cfg.Broker.AccountID, "(from gateway)"))
	output.Printf("  Insecure TLS:    %v\n", cfg.Broker.InsecureTLS)
	output.Printf("  Timeout:         %s\n", cfg.Broker.Timeout)
	output.Printf("  Breaker:         %d failures, %s cool-down\n", cfg.Broker.FailureThreshold, cfg.Broker.BreakerTimeout)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Backend:         %s\n", cfg.Storage.Backend)
	output.Printf("  Path:            %s\n", cfg.Storage.Path)
	output.Println()

	output.Bold("Staging")
	output.Printf("  Backend:         %s\n", cfg.Staging.Backend)
	if cfg.Staging.Backend == "redis" {
		output.Printf("  Redis:           %s\n", cfg.Staging.RedisAddr)
	}
	output.Printf("  TTL:             %s\n", cfg.Staging.TTL)
	output.Println()

	output.Bold("Enrichment")
	output.Printf("  Concurrency:     %d\n", cfg.Enrichment.Concurrency)
	output.Printf("  Cache TTL:       %s\n", cfg.Enrichment.CacheTTL)
	output.Printf("  Unique names:    %v\n", cfg.Watchlists.UniqueNames)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
