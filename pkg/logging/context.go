package logging

import (
	"context"
	"log/slog"

	"github.com/getmockd/gqlgateway/pkg/reqctx"
)

// ContextHandler decorates records with the trace and connection ids of the
// request context found in the logging context.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler) *ContextHandler {
	return &ContextHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if rc, ok := reqctx.FromContext(ctx); ok {
			if rc.TraceID != "" {
				r.AddAttrs(slog.String("traceId", rc.TraceID))
			}
			if rc.ConnectionID != "" {
				r.AddAttrs(slog.String("connectionId", rc.ConnectionID))
			}
		}
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name)}
}
