package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics for the gateway.
// These are initialized by calling Init().
//
// # Label Conventions
//
//   - operation: query, mutation, subscription, unknown
//   - status: numeric HTTP status (200, 400, 401, 500)
//   - result: hit, miss, skip
//   - op: get, set
//   - protocol: graphql-transport-ws, graphql-ws
var (
	// RequestsTotal counts gateway requests.
	// Labels: operation, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks gateway request duration in seconds.
	// Labels: operation
	RequestDuration *prometheus.HistogramVec

	// CacheLookupsTotal counts response cache lookups.
	// Labels: result
	CacheLookupsTotal *prometheus.CounterVec

	// CacheErrorsTotal counts failed response cache store operations.
	// Labels: op
	CacheErrorsTotal *prometheus.CounterVec

	// WSConnections is the number of open subscription connections.
	// Labels: protocol
	WSConnections *prometheus.GaugeVec

	// WSSubscriptions is the number of active subscription operations.
	// Labels: protocol
	WSSubscriptions *prometheus.GaugeVec

	// BrokerDeliveriesTotal counts broker messages delivered to subscriptions.
	// Labels: exchange
	BrokerDeliveriesTotal *prometheus.CounterVec

	defaultRegistry *prometheus.Registry

	initOnce sync.Once
)

// DefaultBuckets are the request duration buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Init initializes the default metrics and returns the registry.
// This function is idempotent and safe to call multiple times.
func Init() *prometheus.Registry {
	initOnce.Do(func() {
		defaultRegistry = prometheus.NewRegistry()
		defaultRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		f := promauto.With(defaultRegistry)

		RequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gqlgw",
			Name:      "requests_total",
			Help:      "Total number of GraphQL requests",
		}, []string{"operation", "status"})

		RequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gqlgw",
			Name:      "request_duration_seconds",
			Help:      "Duration of GraphQL requests in seconds",
			Buckets:   DefaultBuckets,
		}, []string{"operation"})

		CacheLookupsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gqlgw",
			Name:      "cache_lookups_total",
			Help:      "Total number of response cache lookups",
		}, []string{"result"})

		CacheErrorsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gqlgw",
			Name:      "cache_errors_total",
			Help:      "Total number of failed response cache operations",
		}, []string{"op"})

		WSConnections = f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gqlgw",
			Name:      "ws_connections",
			Help:      "Number of open subscription connections",
		}, []string{"protocol"})

		WSSubscriptions = f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gqlgw",
			Name:      "ws_subscriptions",
			Help:      "Number of active subscription operations",
		}, []string{"protocol"})

		BrokerDeliveriesTotal = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gqlgw",
			Name:      "broker_deliveries_total",
			Help:      "Total number of broker messages delivered to subscriptions",
		}, []string{"exchange"})
	})

	return defaultRegistry
}

// DefaultRegistry returns the default metrics registry.
// Returns nil if Init() has not been called.
func DefaultRegistry() *prometheus.Registry {
	return defaultRegistry
}

// Reset resets all default metrics. Useful for testing.
// This also resets the initOnce, allowing Init() to be called again.
func Reset() {
	initOnce = sync.Once{}
	defaultRegistry = nil
	RequestsTotal = nil
	RequestDuration = nil
	CacheLookupsTotal = nil
	CacheErrorsTotal = nil
	WSConnections = nil
	WSSubscriptions = nil
	BrokerDeliveriesTotal = nil
}

// ObserveRequest records one gateway request.
func ObserveRequest(operation string, status int, d time.Duration) {
	if RequestsTotal != nil {
		RequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	}
	if RequestDuration != nil {
		RequestDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// CacheLookup records a cache lookup result.
func CacheLookup(result string) {
	if CacheLookupsTotal != nil {
		CacheLookupsTotal.WithLabelValues(result).Inc()
	}
}

// CacheError records a failed cache operation.
func CacheError(op string) {
	if CacheErrorsTotal != nil {
		CacheErrorsTotal.WithLabelValues(op).Inc()
	}
}

// ConnectionOpened increments the open connection gauge for protocol.
func ConnectionOpened(protocol string) {
	if WSConnections != nil {
		WSConnections.WithLabelValues(protocol).Inc()
	}
}

// ConnectionClosed decrements the open connection gauge for protocol.
func ConnectionClosed(protocol string) {
	if WSConnections != nil {
		WSConnections.WithLabelValues(protocol).Dec()
	}
}

// SubscriptionStarted increments the active subscription gauge for protocol.
func SubscriptionStarted(protocol string) {
	if WSSubscriptions != nil {
		WSSubscriptions.WithLabelValues(protocol).Inc()
	}
}

// SubscriptionStopped decrements the active subscription gauge for protocol.
func SubscriptionStopped(protocol string) {
	if WSSubscriptions != nil {
		WSSubscriptions.WithLabelValues(protocol).Dec()
	}
}

// BrokerDelivery records a broker message delivered for exchange.
func BrokerDelivery(exchange string) {
	if BrokerDeliveriesTotal != nil {
		BrokerDeliveriesTotal.WithLabelValues(exchange).Inc()
	}
}
