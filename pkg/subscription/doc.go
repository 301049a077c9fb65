// Package subscription serves GraphQL subscriptions over WebSocket.
//
// Two wire protocols are supported on the same endpoint: the modern
// graphql-transport-ws protocol and the legacy subscriptions-transport-ws
// protocol, whose subprotocol name is graphql-ws. The Multiplexer inspects
// the offered subprotocols and picks the legacy adapter only when the client
// offers graphql-ws without graphql-transport-ws.
//
// Both adapters authenticate every operation from the connection params
// received with connection_init, bind the connection id to the operation's
// request context, and track operations in a per-connection handle set.
// Closing a connection cancels each of its operations exactly once.
//
// Usage:
//
//	mux := subscription.NewMultiplexer(executor, authn, subscription.Config{}, logger)
//	http.Handle("/subs", mux)
package subscription
