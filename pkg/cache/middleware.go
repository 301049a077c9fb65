package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/logging"
	"github.com/getmockd/gqlgateway/pkg/metrics"
	"github.com/getmockd/gqlgateway/pkg/reqctx"
	"github.com/vektah/gqlparser/v2/ast"
)

// Cache status values reported in the "cache" response extension.
const (
	StatusHit    = "HIT"
	StatusStored = "STORED"
)

// Context fields with a built-in source. Any other field is read from the
// request header "X-<Field>".
const (
	FieldUser  = "user"
	FieldRoles = "roles"
)

// State is the per-request cache state attached by Load.
type State struct {
	Key   string
	Entry *Entry
}

type stateKey struct{}

// StateFromContext returns the cache state attached by Load, if any.
func StateFromContext(ctx context.Context) (*State, bool) {
	s, ok := ctx.Value(stateKey{}).(*State)
	return s, ok
}

// Middleware is the cache-aside collaborator of the gateway handler.
type Middleware struct {
	store  Store
	fp     Fingerprinter
	logger *slog.Logger
	now    func() time.Time
}

var _ graphql.ResponseCache = (*Middleware)(nil)

// NewMiddleware creates a Middleware. contextFields selects the request
// context values that take part in the cache key.
func NewMiddleware(store Store, contextFields []string, logger *slog.Logger) *Middleware {
	return &Middleware{
		store:  store,
		fp:     Fingerprinter{ContextFields: contextFields},
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Load computes the request fingerprint and looks it up. Only queries take
// part in caching. It returns the derived context and the stored response
// on a hit. Store errors are logged and treated as a miss.
func (m *Middleware) Load(ctx context.Context, r *http.Request, req *graphql.GraphQLRequest) (context.Context, json.RawMessage) {
	log := m.logger.With(slog.String("phase", "cache"))
	if req == nil || OperationOf(req.Query, req.OperationName) != ast.Query {
		metrics.CacheLookup("skip")
		return ctx, nil
	}

	rc, _ := reqctx.FromContext(ctx)
	state := &State{Key: m.fp.Fingerprint(req.Query, req.OperationName, req.Variables, m.contextValues(r, rc))}
	ctx = context.WithValue(ctx, stateKey{}, state)

	entry, err := m.store.Get(ctx, state.Key)
	if err != nil {
		metrics.CacheError("get")
		log.ErrorContext(ctx, "cache lookup failed", "key", state.Key, "error", err)
		metrics.CacheLookup("miss")
		return ctx, nil
	}
	if entry == nil || !entry.Cachable {
		metrics.CacheLookup("miss")
		log.DebugContext(ctx, "cache miss", "key", state.Key)
		return ctx, nil
	}

	state.Entry = entry
	metrics.CacheLookup("hit")
	log.DebugContext(ctx, "cache hit", "key", state.Key)
	return ctx, entry.Value
}

// SetterExtension stores resp when the execution was marked cachable and
// produced no errors. It returns the "cache" extension to merge into the
// response, or nil when nothing was stored.
func (m *Middleware) SetterExtension(ctx context.Context, meta graphql.ExecutionMeta, resp []byte) map[string]interface{} {
	state, ok := StateFromContext(ctx)
	if !ok || state.Key == "" {
		return nil
	}
	if !meta.Cachable || meta.Fatal != nil || meta.OperationType != graphql.OperationQuery || hasErrors(resp) {
		return nil
	}

	entry := &Entry{
		Key:      state.Key,
		Value:    append(json.RawMessage(nil), resp...),
		Cachable: true,
		StoredAt: m.now(),
	}
	if err := m.store.Set(ctx, state.Key, entry); err != nil {
		metrics.CacheError("set")
		m.logger.ErrorContext(ctx, "cache store failed", "phase", "cache", "key", state.Key, "error", err)
		return nil
	}
	m.logger.DebugContext(ctx, "cache stored", "phase", "cache", "key", state.Key)
	return statusExtension(StatusStored)
}

// HitExtension returns the extension attached to responses served from cache.
func (m *Middleware) HitExtension() map[string]interface{} {
	return statusExtension(StatusHit)
}

func (m *Middleware) contextValues(r *http.Request, rc reqctx.Context) map[string]string {
	values := make(map[string]string, len(m.fp.ContextFields))
	for _, name := range m.fp.ContextFields {
		switch name {
		case FieldUser:
			if rc.User != nil {
				values[name] = rc.User.UserID
			}
		case FieldRoles:
			roles := append([]string(nil), rc.Roles...)
			sort.Strings(roles)
			values[name] = strings.Join(roles, ",")
		default:
			if r != nil {
				values[name] = r.Header.Get("X-" + name)
			}
		}
	}
	return values
}

func statusExtension(status string) map[string]interface{} {
	return map[string]interface{}{"cache": map[string]interface{}{"status": status}}
}

func hasErrors(resp []byte) bool {
	var probe struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(resp, &probe); err != nil {
		return true
	}
	return len(probe.Errors) > 0
}
