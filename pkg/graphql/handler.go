package graphql

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getmockd/gqlgateway/internal/id"
	"github.com/getmockd/gqlgateway/pkg/auth"
	"github.com/getmockd/gqlgateway/pkg/logging"
	"github.com/getmockd/gqlgateway/pkg/metrics"
	"github.com/getmockd/gqlgateway/pkg/reqctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestBodySize is the maximum allowed request body size (1MB).
const MaxRequestBodySize = 1 << 20 // 1MB

// TraceHeader carries the trace id assigned to every request.
const TraceHeader = "X-TraceId"

var tracer = otel.Tracer("gqlgateway/graphql")

// ResponseCache is the cache-aside collaborator of the Handler.
type ResponseCache interface {
	// Load looks up a stored response for req. It returns the derived
	// context and the stored response body, or nil on a miss.
	Load(ctx context.Context, r *http.Request, req *GraphQLRequest) (context.Context, json.RawMessage)
	// SetterExtension stores resp when meta allows it and returns the
	// extension to merge into the response.
	SetterExtension(ctx context.Context, meta ExecutionMeta, resp []byte) map[string]interface{}
	// HitExtension is merged into responses served from cache.
	HitExtension() map[string]interface{}
}

// Handler is the HTTP execution gateway.
type Handler struct {
	executor *Executor
	auth     auth.Authenticator
	cache    ResponseCache
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCache enables response caching.
func WithCache(c ResponseCache) HandlerOption {
	return func(h *Handler) { h.cache = c }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a new GraphQL HTTP handler. A nil authenticator admits
// every request anonymously.
func NewHandler(executor *Executor, authn auth.Authenticator, opts ...HandlerOption) *Handler {
	h := &Handler{executor: executor, auth: authn}
	for _, opt := range opts {
		opt(h)
	}
	if h.auth == nil {
		h.auth = auth.AllowAll{}
	}
	h.logger = logging.OrNop(h.logger)
	return h
}

// ServeHTTP handles GraphQL requests.
// It supports both application/json and application/graphql content types.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	traceID := id.Trace()
	w.Header().Set(TraceHeader, traceID)
	log := h.logger
	traceCtx := reqctx.WithContext(r.Context(), reqctx.Context{TraceID: traceID})
	log.DebugContext(traceCtx, "request received", "phase", "trace", "method", r.Method)

	// Preflight requests that reach the handler need no body.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only allow GET and POST methods
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		metrics.ObserveRequest(string(OperationUnknown), http.StatusMethodNotAllowed, time.Since(startTime))
		return
	}

	identity, err := h.auth.CheckRequest(r)
	if err != nil {
		log.DebugContext(traceCtx, "request rejected", "phase", "auth", "error", err)
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		metrics.ObserveRequest(string(OperationUnknown), http.StatusUnauthorized, time.Since(startTime))
		return
	}
	rc := reqctx.New(identity, traceID)
	ctx := reqctx.WithContext(r.Context(), rc)
	if rc.User != nil {
		log.DebugContext(ctx, "request authenticated", "phase", "auth", "user", rc.User.UserID)
	}

	ctx, span := tracer.Start(ctx, "graphql.Execute",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("gqlgw.trace_id", traceID)),
	)
	defer span.End()

	var req *GraphQLRequest
	if r.Method == http.MethodGet {
		req, err = h.parseGetRequest(r)
	} else {
		req, err = h.parsePostRequest(r)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.writeError(w, http.StatusBadRequest, err.Error())
		metrics.ObserveRequest(string(OperationUnknown), http.StatusBadRequest, time.Since(startTime))
		return
	}
	span.SetAttributes(attribute.String("graphql.operation.name", req.OperationName))

	if h.cache != nil {
		var hit json.RawMessage
		ctx, hit = h.cache.Load(ctx, r, req)
		if hit != nil {
			if resp, ok := decodeCached(hit); ok {
				resp.Extensions = mergeExtensions(resp.Extensions, h.cache.HitExtension())
				h.writeResponse(w, http.StatusOK, resp)
				log.DebugContext(ctx, "served from cache", "phase", "respond")
				metrics.ObserveRequest(string(OperationQuery), http.StatusOK, time.Since(startTime))
				return
			}
			log.WarnContext(ctx, "discarding undecodable cache entry", "phase", "cache")
		}
	}

	resp, meta := h.executor.Execute(ctx, req)
	span.SetAttributes(attribute.String("graphql.operation.type", string(meta.OperationType)))
	log.DebugContext(ctx, "operation executed", "phase", "execute",
		"operation", meta.OperationType, "operationName", meta.OperationName,
		"errors", len(resp.Errors), "cachable", meta.Cachable)

	if meta.Fatal != nil {
		span.RecordError(meta.Fatal)
		span.SetStatus(codes.Error, meta.Fatal.Error())
		log.ErrorContext(ctx, "execution aborted", "phase", "execute", "error", meta.Fatal)
		h.writeError(w, http.StatusInternalServerError, ErrInternal)
		metrics.ObserveRequest(string(meta.OperationType), http.StatusInternalServerError, time.Since(startTime))
		return
	}

	if h.cache != nil {
		body, err := json.Marshal(resp)
		if err != nil {
			log.ErrorContext(ctx, "failed to encode response", "phase", "cache", "error", err)
		} else if ext := h.cache.SetterExtension(ctx, meta, body); ext != nil {
			resp.Extensions = mergeExtensions(resp.Extensions, ext)
		}
	}

	h.writeResponse(w, http.StatusOK, resp)
	log.DebugContext(ctx, "response written", "phase", "respond", "duration", time.Since(startTime))
	metrics.ObserveRequest(string(meta.OperationType), http.StatusOK, time.Since(startTime))
}

// parseGetRequest parses a GraphQL request from GET query parameters.
func (h *Handler) parseGetRequest(r *http.Request) (*GraphQLRequest, error) {
	query := r.URL.Query()

	req := &GraphQLRequest{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}

	// Parse variables if provided
	if varsStr := query.Get("variables"); varsStr != "" {
		var variables map[string]interface{}
		if err := json.Unmarshal([]byte(varsStr), &variables); err != nil {
			return nil, &parseError{message: "invalid variables JSON"}
		}
		req.Variables = variables
	}

	if req.Query == "" {
		return nil, &parseError{message: "query is required"}
	}
	return req, nil
}

// parsePostRequest parses a GraphQL request from the POST body.
func (h *Handler) parsePostRequest(r *http.Request) (*GraphQLRequest, error) {
	contentType := r.Header.Get("Content-Type")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		return nil, &parseError{message: "failed to read request body"}
	}
	defer func() { _ = r.Body.Close() }()

	if len(body) > MaxRequestBodySize {
		return nil, &parseError{message: "request body too large"}
	}
	if len(body) == 0 {
		return nil, &parseError{message: "empty request body"}
	}

	// Handle application/graphql content type
	if strings.HasPrefix(contentType, "application/graphql") {
		return &GraphQLRequest{Query: string(body)}, nil
	}

	// Default to application/json
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &parseError{message: "invalid JSON request body"}
	}
	if req.Query == "" {
		return nil, &parseError{message: "query is required"}
	}
	return &req, nil
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeResponse(w, statusCode, &GraphQLResponse{
		Errors: []GraphQLError{{Message: message}},
	})
}

func (h *Handler) writeResponse(w http.ResponseWriter, statusCode int, resp *GraphQLResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

func decodeCached(raw json.RawMessage) (*GraphQLResponse, bool) {
	var resp GraphQLResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// mergeExtensions copies ext into base, which may be nil.
func mergeExtensions(base, ext map[string]interface{}) map[string]interface{} {
	if len(ext) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]interface{}, len(ext))
	}
	for k, v := range ext {
		base[k] = v
	}
	return base
}

// parseError represents a request parsing error.
type parseError struct {
	message string
}

func (e *parseError) Error() string {
	return e.message
}
