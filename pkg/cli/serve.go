package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/getmockd/gqlgateway/pkg/config"
	"github.com/getmockd/gqlgateway/pkg/logging"
	"github.com/getmockd/gqlgateway/pkg/server"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	addr      string
	schema    string
	logLevel  string
	logFormat string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway until interrupted.

HTTP requests are served at /, subscriptions at the configured subscription
path (default /subs), Prometheus metrics at /metrics and a health check at
/healthz. On SIGINT or SIGTERM every subscription connection is closed as
going away before the server and broker stop.`,
		Example: `  # Serve the built-in schema with an embedded broker
  gqlgateway serve

  # Serve with a config file on a custom address
  gqlgateway serve --config gqlgw.yaml --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, func(c *config.Config) {
				if cmd.Flags().Changed("addr") {
					c.Server.Addr = f.addr
				}
				if cmd.Flags().Changed("schema") {
					c.Schema.File = f.schema
				}
				if cmd.Flags().Changed("log-level") {
					c.Log.Level = f.logLevel
				}
				if cmd.Flags().Changed("log-format") {
					c.Log.Format = f.logFormat
				}
			})
			if err != nil {
				return err
			}

			log := logging.New(logging.Config{
				Level:  logging.ParseLevel(cfg.Log.Level),
				Format: logging.ParseFormat(cfg.Log.Format),
				Output: cmd.ErrOrStderr(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, server.Options{Logger: log, Version: Version})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&f.schema, "schema", "", "Schema file (overrides schema.file)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	return cmd
}

// loadConfig loads the configuration, applies flag overrides, and validates
// the result.
func loadConfig(root *rootOptions, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: root.configFile})
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
