package subscription

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/getmockd/gqlgateway/internal/id"
	"github.com/getmockd/gqlgateway/pkg/auth"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/reqctx"
	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gqlgateway/subscription")

// wire holds the protocol specific message types.
type wire struct {
	next     string
	complete string
	errorMsg string
	// errorPayload builds the payload of an error message.
	errorPayload func(errs []graphql.GraphQLError) interface{}
}

func (w wire) sendNext(c *Connection, opID string, resp *graphql.GraphQLResponse) error {
	return c.sendPayload(opID, w.next, resp)
}

func (w wire) sendComplete(c *Connection, opID string) error {
	return c.send(&message{ID: opID, Type: w.complete})
}

func (w wire) sendError(c *Connection, opID string, errs ...graphql.GraphQLError) error {
	return c.sendPayload(opID, w.errorMsg, w.errorPayload(errs))
}

// runner executes operations for both adapters. It holds no mutable state.
type runner struct {
	executor *graphql.Executor
	auth     auth.Authenticator
}

// start authenticates and runs the operation registered as h. Errors are
// reported to the client for that operation only. Subscription events are
// pumped to the client until the source ends or h is cancelled.
func (r *runner) start(ctx context.Context, c *Connection, h *Handle, raw json.RawMessage, w wire) {
	fail := func(message string, errs ...graphql.GraphQLError) {
		c.handles.remove(h)
		if len(errs) == 0 {
			errs = []graphql.GraphQLError{{Message: message}}
		}
		if err := w.sendError(c, h.OperationID, errs...); err != nil {
			c.log.DebugContext(ctx, "failed to send error", "operationId", h.OperationID, "error", err)
		}
	}

	var payload operationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		fail("invalid subscription payload")
		return
	}

	identity, err := r.auth.AuthenticateConnection(c.Params())
	if err != nil {
		c.log.DebugContext(ctx, "operation rejected", "phase", "auth", "operationId", h.OperationID, "error", err)
		fail("unauthorized")
		return
	}

	rc := reqctx.New(identity, id.Trace()).WithConnection(c.ID)
	ctx = reqctx.WithContext(ctx, rc)
	log := c.log.With(slog.String("operationId", h.OperationID))

	doc, errs := r.executor.Parse(payload.Query)
	if errs != nil {
		fail("", errs...)
		return
	}
	op := graphql.GetOperation(doc, payload.OperationName)
	if op == nil {
		fail("operation not found")
		return
	}

	desc := &graphql.ExecutionDescriptor{
		Schema:        r.executor.Schema(),
		OperationName: payload.OperationName,
		Document:      doc,
		Variables:     payload.Variables,
		Context:       rc,
	}

	ctx, span := tracer.Start(ctx, "graphql.Subscribe")
	span.SetAttributes(
		attribute.String("gqlgw.trace_id", rc.TraceID),
		attribute.String("gqlgw.connection_id", c.ID),
		attribute.String("graphql.operation.type", string(op.Operation)),
	)

	if op.Operation != ast.Subscription {
		// Queries and mutations run off the read loop so pings and
		// completes are still answered.
		ctx, cancel := context.WithCancel(ctx)
		if !h.bind(func() error { cancel(); return nil }) {
			span.End()
			return
		}
		go func() {
			defer span.End()
			defer cancel()
			resp, meta := r.executor.ExecuteDocument(ctx, desc)
			if meta.Fatal != nil {
				span.RecordError(meta.Fatal)
				span.SetStatus(codes.Error, meta.Fatal.Error())
				log.ErrorContext(ctx, "execution aborted", "phase", "execute", "error", meta.Fatal)
			}
			if c.handles.remove(h) {
				_ = w.sendNext(c, h.OperationID, resp)
				_ = w.sendComplete(c, h.OperationID)
			}
		}()
		return
	}
	defer span.End()

	sub, err := r.executor.Subscribe(ctx, desc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.DebugContext(ctx, "subscribe failed", "phase", "execute", "error", err)
		fail(err.Error())
		return
	}
	if !h.bind(sub.Close) {
		return
	}
	log.DebugContext(ctx, "subscription started", "phase", "execute", "operationName", op.Name)

	go func() {
		for resp := range sub.Responses() {
			if err := w.sendNext(c, h.OperationID, resp); err != nil {
				log.DebugContext(ctx, "failed to send event", "error", err)
			}
		}
		// A handle still registered here ended on its own rather than by
		// client request.
		if c.handles.remove(h) {
			_ = sub.Close()
			_ = w.sendComplete(c, h.OperationID)
			log.DebugContext(ctx, "subscription completed", "phase", "respond")
		}
	}()
}
