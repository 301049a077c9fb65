package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/getmockd/gqlgateway/pkg/metrics"
)

// writeTimeout bounds a single socket write.
const writeTimeout = 5 * time.Second

// message is the envelope shared by both protocols.
type message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// operationPayload is the payload for subscribe/start messages.
type operationPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

// Handle is one active operation on a connection.
type Handle struct {
	OperationID string

	mu        sync.Mutex
	cancel    func() error
	cancelled bool
}

// bind attaches the cancel function. If the handle was cancelled before the
// operation started, cancel runs immediately and bind returns false.
func (h *Handle) bind(cancel func() error) bool {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		_ = cancel()
		return false
	}
	h.cancel = cancel
	h.mu.Unlock()
	return true
}

// Cancel stops the operation. Only the first call runs the cancel function.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return nil
	}
	h.cancelled = true
	cancel := h.cancel
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	return cancel()
}

// handleSet tracks the operations of one connection by id.
type handleSet struct {
	kind Kind

	mu      sync.Mutex
	handles map[string]*Handle
}

func newHandleSet(kind Kind) *handleSet {
	return &handleSet{kind: kind, handles: make(map[string]*Handle)}
}

// add registers a new handle. It returns false if id is already active.
func (s *handleSet) add(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handles[id]; exists {
		return nil, false
	}
	h := &Handle{OperationID: id}
	s.handles[id] = h
	metrics.SubscriptionStarted(string(s.kind))
	return h, true
}

// remove unregisters h without cancelling it. It returns false if h was
// already removed.
func (s *handleSet) remove(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.handles[h.OperationID]; !ok || cur != h {
		return false
	}
	delete(s.handles, h.OperationID)
	metrics.SubscriptionStopped(string(s.kind))
	return true
}

// cancel removes and cancels one handle. Unknown ids are ignored.
func (s *handleSet) cancel(id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
		metrics.SubscriptionStopped(string(s.kind))
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Cancel()
}

// cancelAll removes and cancels every handle, continuing past failures.
func (s *handleSet) cancelAll() error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for id, h := range s.handles {
		handles = append(handles, h)
		delete(s.handles, id)
		metrics.SubscriptionStopped(string(s.kind))
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("operation %s: %w", h.OperationID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *handleSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Connection is an accepted subscription socket.
type Connection struct {
	ID   string
	Kind Kind

	ws      *websocket.Conn
	handles *handleSet
	log     *slog.Logger

	writeMu sync.Mutex

	paramsMu sync.RWMutex
	params   map[string]any
}

func newConnection(id string, kind Kind, ws *websocket.Conn, log *slog.Logger) *Connection {
	return &Connection{
		ID:      id,
		Kind:    kind,
		ws:      ws,
		handles: newHandleSet(kind),
		log:     log,
	}
}

// Params returns the connection params received with connection_init.
func (c *Connection) Params() map[string]any {
	c.paramsMu.RLock()
	defer c.paramsMu.RUnlock()
	return c.params
}

func (c *Connection) setParams(params map[string]any) {
	c.paramsMu.Lock()
	c.params = params
	c.paramsMu.Unlock()
}

// Subscriptions returns the number of active operations.
func (c *Connection) Subscriptions() int {
	return c.handles.len()
}

// send writes msg. Writes are serialised per connection.
func (c *Connection) send(msg *message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Connection) sendPayload(id, typ string, payload interface{}) error {
	msg := &message{ID: id, Type: typ}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = b
	}
	return c.send(msg)
}

func (c *Connection) close(code websocket.StatusCode, reason string) {
	_ = c.ws.Close(code, reason)
}

// registry tracks the open connections of one adapter.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

func (r *registry) add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	metrics.ConnectionOpened(string(c.Kind))
}

func (r *registry) remove(c *Connection) {
	r.mu.Lock()
	_, ok := r.conns[c.ID]
	delete(r.conns, c.ID)
	r.mu.Unlock()
	if ok {
		metrics.ConnectionClosed(string(c.Kind))
	}
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *registry) subscriptions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		n += c.Subscriptions()
	}
	return n
}

func (r *registry) closeAll(reason string) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.handles.cancelAll(); err != nil {
				c.log.Warn("failed to cancel operations", "connectionId", c.ID, "error", err)
			}
			c.close(websocket.StatusGoingAway, reason)
		}(c)
	}
	wg.Wait()
}
