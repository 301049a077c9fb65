package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configFile string
	jsonOutput bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "gqlgateway",
		Short: "gqlgateway is a caching GraphQL gateway with broker-backed subscriptions",
		Long: `gqlgateway serves a GraphQL schema over HTTP with response caching, and
streams broker events to subscription clients over graphql-transport-ws and
the legacy graphql-ws protocol.

Configuration is read from a YAML file (--config), a .env file, and GQLGW_*
environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", os.Getenv("GQLGW_CONFIG"), "Path to the YAML configuration file")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output command results in JSON format")

	cmd.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newSubscribeCmd(opts),
		newPublishCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

// Execute runs the command line. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
