// Package metrics provides the Prometheus collectors of the gateway.
//
// Collectors are registered on a private registry by Init and exposed by
// Handler. The recording helpers are no-ops until Init has been called, so
// packages may record unconditionally.
//
// # Default Metrics
//
//   - gqlgw_requests_total: Counter of gateway requests (labels: operation, status)
//   - gqlgw_request_duration_seconds: Histogram of request latency (labels: operation)
//   - gqlgw_cache_lookups_total: Counter of cache lookups (labels: result)
//   - gqlgw_cache_errors_total: Counter of failed cache operations (labels: op)
//   - gqlgw_ws_connections: Gauge of open subscription connections (labels: protocol)
//   - gqlgw_ws_subscriptions: Gauge of active subscriptions (labels: protocol)
//   - gqlgw_broker_deliveries_total: Counter of broker deliveries (labels: exchange)
package metrics
