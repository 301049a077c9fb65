// gqlgateway CLI - caching GraphQL gateway with broker-backed subscriptions
package main

import "github.com/getmockd/gqlgateway/pkg/cli"

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.Commit = Commit
	cli.BuildDate = BuildDate
	cli.Execute()
}
