package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/getmockd/gqlgateway/internal/id"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/reqctx"
)

// graphql-transport-ws message types.
const (
	msgTypeConnectionInit = "connection_init"
	msgTypeConnectionAck  = "connection_ack"
	msgTypePing           = "ping"
	msgTypePong           = "pong"
	msgTypeSubscribe      = "subscribe"
	msgTypeNext           = "next"
	msgTypeError          = "error"
	msgTypeComplete       = "complete"
)

// graphql-transport-ws close codes.
const (
	CloseBadRequest       websocket.StatusCode = 4400
	CloseUnauthorized     websocket.StatusCode = 4401
	CloseInitTimeout      websocket.StatusCode = 4408
	CloseSubscriberExists websocket.StatusCode = 4409
	CloseTooManyInit      websocket.StatusCode = 4429
)

var modernWire = wire{
	next:     msgTypeNext,
	complete: msgTypeComplete,
	errorMsg: msgTypeError,
	errorPayload: func(errs []graphql.GraphQLError) interface{} {
		return errs
	},
}

// ModernAdapter serves the graphql-transport-ws protocol.
type ModernAdapter struct {
	runner *runner
	cfg    Config
	conns  *registry
	log    *slog.Logger
	accept websocket.AcceptOptions
}

func newModernAdapter(r *runner, cfg Config, log *slog.Logger) *ModernAdapter {
	return &ModernAdapter{
		runner: r,
		cfg:    cfg,
		conns:  newRegistry(),
		log:    log.With("protocol", string(KindModern)),
		accept: websocket.AcceptOptions{
			Subprotocols:       []string{string(KindModern)},
			InsecureSkipVerify: cfg.SkipOriginVerify,
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (a *ModernAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &a.accept)
	if err != nil {
		a.log.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := newConnection(id.UUID(), KindModern, ws, a.log)
	ctx := reqctx.WithContext(r.Context(), reqctx.Context{ConnectionID: c.ID})
	a.conns.add(c)
	defer a.conns.remove(c)

	a.log.DebugContext(ctx, "connection opened", "remote", r.RemoteAddr)
	a.serve(ctx, c)
}

func (a *ModernAdapter) serve(ctx context.Context, c *Connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.OnClose(ctx, c)

	var acked atomic.Bool
	initTimer := time.AfterFunc(a.cfg.ConnectionInitTimeout, func() {
		if !acked.Load() {
			a.log.DebugContext(ctx, "connection init timed out")
			c.close(CloseInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	initReceived := false
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
			c.close(CloseBadRequest, "Invalid message received")
			return
		}

		switch msg.Type {
		case msgTypeConnectionInit:
			if initReceived {
				c.close(CloseTooManyInit, "Too many initialisation requests")
				return
			}
			initReceived = true
			c.setParams(decodeParams(msg.Payload))
			acked.Store(true)
			_ = c.send(&message{Type: msgTypeConnectionAck})

		case msgTypePing:
			_ = c.send(&message{Type: msgTypePong, Payload: msg.Payload})

		case msgTypePong:

		case msgTypeSubscribe:
			if !acked.Load() {
				c.close(CloseUnauthorized, "Unauthorized")
				return
			}
			if msg.ID == "" {
				c.close(CloseBadRequest, "Invalid message received")
				return
			}
			h, ok := c.handles.add(msg.ID)
			if !ok {
				c.close(CloseSubscriberExists, fmt.Sprintf("Subscriber for %s already exists", msg.ID))
				return
			}
			a.OnSubscribe(ctx, c, h, msg.Payload)

		case msgTypeComplete:
			a.OnComplete(ctx, c, msg.ID)

		default:
			c.close(CloseBadRequest, fmt.Sprintf("Invalid message type %q", msg.Type))
			return
		}
	}
}

// OnSubscribe authenticates the operation from the connection params and
// starts it.
func (a *ModernAdapter) OnSubscribe(ctx context.Context, c *Connection, h *Handle, payload json.RawMessage) {
	a.log.DebugContext(ctx, "subscribe", "operationId", h.OperationID)
	a.runner.start(ctx, c, h, payload, modernWire)
}

// OnComplete cancels an operation completed by the client.
func (a *ModernAdapter) OnComplete(ctx context.Context, c *Connection, operationID string) {
	a.log.DebugContext(ctx, "operation completed by client", "operationId", operationID)
	if err := c.handles.cancel(operationID); err != nil {
		a.log.WarnContext(ctx, "failed to cancel operation", "operationId", operationID, "error", err)
	}
}

// OnClose cancels every operation still active on the connection.
func (a *ModernAdapter) OnClose(ctx context.Context, c *Connection) {
	if err := c.handles.cancelAll(); err != nil {
		a.log.WarnContext(ctx, "failed to cancel operations", "error", err)
	}
	c.close(websocket.StatusNormalClosure, "connection closed")
	a.log.DebugContext(ctx, "connection closed")
}

// decodeParams decodes connection params. Anything but a JSON object yields
// empty params.
func decodeParams(raw json.RawMessage) map[string]any {
	params := map[string]any{}
	if len(raw) == 0 {
		return params
	}
	if err := json.Unmarshal(raw, &params); err != nil || params == nil {
		return map[string]any{}
	}
	return params
}

// ConnectionCount returns the number of open connections.
func (a *ModernAdapter) ConnectionCount() int {
	return a.conns.count()
}

// SubscriptionCount returns the number of active operations.
func (a *ModernAdapter) SubscriptionCount() int {
	return a.conns.subscriptions()
}

// CloseAll cancels every operation and closes every connection with
// going-away.
func (a *ModernAdapter) CloseAll(reason string) {
	a.conns.closeAll(reason)
}
