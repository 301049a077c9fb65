// Package cli implements the gqlgateway command line.
//
// Commands:
//   - serve: run the gateway
//   - validate: check a schema against the abstract type resolver
//   - subscribe: open a subscription over either WebSocket protocol and print events
//   - publish: publish a test event to an MQTT broker
//   - token: issue a development JWT
//   - version: print build information
package cli
