package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/getmockd/gqlgateway/internal/id"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/reqctx"
)

// subscriptions-transport-ws message types.
const (
	msgTypeKeepAlive = "ka"
	msgTypeTerminate = "connection_terminate"
	msgTypeStart     = "start"
	msgTypeData      = "data"
	msgTypeStop      = "stop"
)

var legacyWire = wire{
	next:     msgTypeData,
	complete: msgTypeComplete,
	errorMsg: msgTypeError,
	errorPayload: func(errs []graphql.GraphQLError) interface{} {
		if len(errs) == 0 {
			return graphql.GraphQLError{Message: "unknown error"}
		}
		return errs[0]
	},
}

// LegacyAdapter serves the subscriptions-transport-ws protocol.
type LegacyAdapter struct {
	runner *runner
	cfg    Config
	conns  *registry
	log    *slog.Logger
	accept websocket.AcceptOptions
}

func newLegacyAdapter(r *runner, cfg Config, log *slog.Logger) *LegacyAdapter {
	return &LegacyAdapter{
		runner: r,
		cfg:    cfg,
		conns:  newRegistry(),
		log:    log.With("protocol", string(KindLegacy)),
		accept: websocket.AcceptOptions{
			Subprotocols:       []string{string(KindLegacy)},
			InsecureSkipVerify: cfg.SkipOriginVerify,
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (a *LegacyAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &a.accept)
	if err != nil {
		a.log.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := a.OnConnect(ws)
	ctx := reqctx.WithContext(r.Context(), reqctx.Context{ConnectionID: c.ID})
	a.conns.add(c)
	defer a.conns.remove(c)

	a.log.DebugContext(ctx, "connection opened", "remote", r.RemoteAddr)
	a.serve(ctx, c)
}

// OnConnect assigns the connection id.
func (a *LegacyAdapter) OnConnect(ws *websocket.Conn) *Connection {
	return newConnection(id.UUID(), KindLegacy, ws, a.log)
}

func (a *LegacyAdapter) serve(ctx context.Context, c *Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.OnDisconnect(ctx, c)

	var keepAlive sync.Once
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = legacyWire.sendError(c, "", graphql.GraphQLError{Message: "invalid message format"})
			continue
		}

		switch msg.Type {
		case msgTypeConnectionInit:
			c.setParams(decodeParams(msg.Payload))
			_ = c.send(&message{Type: msgTypeConnectionAck})
			_ = c.send(&message{Type: msgTypeKeepAlive})
			keepAlive.Do(func() { go a.keepAlive(ctx, c) })

		case msgTypeStart:
			if msg.ID == "" {
				_ = legacyWire.sendError(c, "", graphql.GraphQLError{Message: "operation id is required"})
				continue
			}
			h, ok := c.handles.add(msg.ID)
			if !ok {
				// A repeated start replaces the running operation.
				a.OnOperationComplete(ctx, c, msg.ID)
				if h, ok = c.handles.add(msg.ID); !ok {
					continue
				}
			}
			a.OnOperation(ctx, c, h, msg.Payload)

		case msgTypeStop:
			a.OnOperationComplete(ctx, c, msg.ID)

		case msgTypeTerminate:
			return

		default:
			_ = legacyWire.sendError(c, msg.ID, graphql.GraphQLError{Message: "unknown message type " + msg.Type})
		}
	}
}

// keepAlive sends ka messages until ctx is done.
func (a *LegacyAdapter) keepAlive(ctx context.Context, c *Connection) {
	ticker := time.NewTicker(a.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(&message{Type: msgTypeKeepAlive}); err != nil {
				return
			}
		}
	}
}

// OnOperation authenticates the operation from the connection params,
// binds it to the connection and starts it.
func (a *LegacyAdapter) OnOperation(ctx context.Context, c *Connection, h *Handle, payload json.RawMessage) {
	a.log.DebugContext(ctx, "start", "operationId", h.OperationID)
	a.runner.start(ctx, c, h, payload, legacyWire)
}

// OnOperationComplete cancels an operation stopped by the client.
func (a *LegacyAdapter) OnOperationComplete(ctx context.Context, c *Connection, operationID string) {
	a.log.DebugContext(ctx, "operation stopped by client", "operationId", operationID)
	if err := c.handles.cancel(operationID); err != nil {
		a.log.WarnContext(ctx, "failed to cancel operation", "operationId", operationID, "error", err)
	}
}

// OnDisconnect cancels every operation still active on the connection.
func (a *LegacyAdapter) OnDisconnect(ctx context.Context, c *Connection) {
	if err := c.handles.cancelAll(); err != nil {
		a.log.WarnContext(ctx, "failed to cancel operations", "error", err)
	}
	c.close(websocket.StatusNormalClosure, "connection closed")
	a.log.DebugContext(ctx, "connection closed")
}

// ConnectionCount returns the number of open connections.
func (a *LegacyAdapter) ConnectionCount() int {
	return a.conns.count()
}

// SubscriptionCount returns the number of active operations.
func (a *LegacyAdapter) SubscriptionCount() int {
	return a.conns.subscriptions()
}

// CloseAll cancels every operation and closes every connection with
// going-away.
func (a *LegacyAdapter) CloseAll(reason string) {
	a.conns.closeAll(reason)
}
