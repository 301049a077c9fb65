package subscription

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getmockd/gqlgateway/pkg/auth"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/logging"
)

// Kind is a subscription wire protocol, named by its WebSocket subprotocol.
type Kind string

// Supported protocols.
const (
	// KindModern is the graphql-transport-ws protocol.
	KindModern Kind = "graphql-transport-ws"
	// KindLegacy is the subscriptions-transport-ws protocol.
	KindLegacy Kind = "graphql-ws"
)

// Defaults for Config.
const (
	DefaultConnectionInitTimeout = 3 * time.Second
	DefaultKeepAlive             = 10 * time.Second
)

// Config configures both adapters.
type Config struct {
	// ConnectionInitTimeout is how long a modern client may wait before
	// sending connection_init.
	ConnectionInitTimeout time.Duration
	// KeepAlive is the legacy keep-alive interval.
	KeepAlive time.Duration
	// SkipOriginVerify allows cross origin upgrades.
	SkipOriginVerify bool
}

func (c Config) withDefaults() Config {
	if c.ConnectionInitTimeout <= 0 {
		c.ConnectionInitTimeout = DefaultConnectionInitTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	return c
}

// SelectProtocol picks the adapter for a Sec-WebSocket-Protocol header
// value. Legacy is chosen only when graphql-ws is offered without
// graphql-transport-ws.
func SelectProtocol(header string) Kind {
	var legacy, modern bool
	for _, p := range strings.Split(header, ",") {
		switch Kind(strings.TrimSpace(p)) {
		case KindLegacy:
			legacy = true
		case KindModern:
			modern = true
		}
	}
	if legacy && !modern {
		return KindLegacy
	}
	return KindModern
}

// Multiplexer routes subscription upgrades to the adapter of the offered
// protocol.
type Multiplexer struct {
	modern *ModernAdapter
	legacy *LegacyAdapter
	log    *slog.Logger
}

// NewMultiplexer creates both adapters over one executor and authenticator.
// A nil authenticator admits every operation anonymously.
func NewMultiplexer(executor *graphql.Executor, authn auth.Authenticator, cfg Config, logger *slog.Logger) *Multiplexer {
	if authn == nil {
		authn = auth.AllowAll{}
	}
	cfg = cfg.withDefaults()
	log := logging.OrNop(logger).With("component", "subscriptions")
	r := &runner{executor: executor, auth: authn}

	return &Multiplexer{
		modern: newModernAdapter(r, cfg, log),
		legacy: newLegacyAdapter(r, cfg, log),
		log:    log,
	}
}

// ServeHTTP selects the protocol and hands the upgrade to its adapter.
func (m *Multiplexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind := SelectProtocol(strings.Join(r.Header.Values("Sec-WebSocket-Protocol"), ","))
	m.log.DebugContext(r.Context(), "protocol selected", "protocol", kind, "remote", r.RemoteAddr)

	if kind == KindLegacy {
		m.legacy.ServeHTTP(w, r)
		return
	}
	m.modern.ServeHTTP(w, r)
}

// ConnectionCount returns the number of open connections.
func (m *Multiplexer) ConnectionCount() int {
	return m.modern.ConnectionCount() + m.legacy.ConnectionCount()
}

// SubscriptionCount returns the number of active operations across all
// connections.
func (m *Multiplexer) SubscriptionCount() int {
	return m.modern.SubscriptionCount() + m.legacy.SubscriptionCount()
}

// CloseAll cancels every operation and closes every connection with
// going-away.
func (m *Multiplexer) CloseAll(reason string) {
	m.modern.CloseAll(reason)
	m.legacy.CloseAll(reason)
}
