package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/getmockd/gqlgateway/pkg/auth"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
type Query {
	hello: String
	slow: String
}

type Subscription {
	ticks(from: Int): Tick
}

type Tick {
	n: Int
}
`

// testIterator is an event source controlled by the test.
type testIterator struct {
	events chan interface{}
	closed chan struct{}
	once   sync.Once
	closes *int32
}

func (it *testIterator) Next(ctx context.Context) (interface{}, error) {
	select {
	case e, ok := <-it.events:
		if !ok {
			return nil, io.EOF
		}
		return e, nil
	case <-it.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (it *testIterator) Close() error {
	it.once.Do(func() {
		atomic.AddInt32(it.closes, 1)
		close(it.closed)
	})
	return nil
}

func (it *testIterator) emit(n int) {
	it.events <- map[string]interface{}{"ticks": map[string]interface{}{"n": n}}
}

type harness struct {
	server    *httptest.Server
	mux       *Multiplexer
	iterators chan *testIterator
	closes    int32
	// gate releases Query.slow.
	gate    chan struct{}
	aborted int32
}

func newHarness(t *testing.T, authn auth.Authenticator, cfg Config) *harness {
	t.Helper()
	schema, err := graphql.ParseSchema(testSchema)
	require.NoError(t, err)

	h := &harness{iterators: make(chan *testIterator, 16), gate: make(chan struct{})}
	executor := graphql.NewExecutor(schema, graphql.Resolvers{
		Fields: map[string]graphql.ResolverFunc{
			"Query.hello": func(context.Context, graphql.ResolveParams) (interface{}, error) {
				return "world", nil
			},
			"Query.slow": func(ctx context.Context, _ graphql.ResolveParams) (interface{}, error) {
				select {
				case <-h.gate:
					return "done", nil
				case <-ctx.Done():
					atomic.AddInt32(&h.aborted, 1)
					return nil, ctx.Err()
				}
			},
		},
		Subscriptions: map[string]graphql.SubscribeFunc{
			"Subscription.ticks": func(context.Context, graphql.ResolveParams) (graphql.EventIterator, error) {
				it := &testIterator{events: make(chan interface{}), closed: make(chan struct{}), closes: &h.closes}
				h.iterators <- it
				return it, nil
			},
		},
	})

	h.mux = NewMultiplexer(executor, authn, cfg, nil)
	h.server = httptest.NewServer(h.mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) dial(t *testing.T, protocols ...string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: protocols})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func (h *harness) nextIterator(t *testing.T) *testIterator {
	t.Helper()
	select {
	case it := <-h.iterators:
		return it
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription")
		return nil
	}
}

func (h *harness) waitCloses(t *testing.T, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.closes) == n }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&h.closes))
}

func writeMsg(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

func readMsg(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func readClose(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func subscribeMsg(typ, id, query string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"type":    typ,
		"payload": map[string]interface{}{"query": query},
	}
}

func initModern(t *testing.T, conn *websocket.Conn, params map[string]interface{}) {
	t.Helper()
	writeMsg(t, conn, map[string]interface{}{"type": "connection_init", "payload": params})
	assert.Equal(t, "connection_ack", readMsg(t, conn).Type)
}

func TestSelectProtocol(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   Kind
	}{
		{"legacy only", "graphql-ws", KindLegacy},
		{"modern only", "graphql-transport-ws", KindModern},
		{"both, legacy first", "graphql-ws, graphql-transport-ws", KindModern},
		{"both, modern first", "graphql-transport-ws,graphql-ws", KindModern},
		{"none", "", KindModern},
		{"unknown", "mqtt", KindModern},
		{"legacy with unknown", " mqtt ,  graphql-ws ", KindLegacy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectProtocol(tt.header))
		})
	}
}

func TestMultiplexer_NegotiatesProtocol(t *testing.T) {
	h := newHarness(t, nil, Config{})

	tests := []struct {
		name      string
		protocols []string
		want      string
	}{
		{"legacy only", []string{"graphql-ws"}, "graphql-ws"},
		{"modern only", []string{"graphql-transport-ws"}, "graphql-transport-ws"},
		{"both", []string{"graphql-ws", "graphql-transport-ws"}, "graphql-transport-ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := h.dial(t, tt.protocols...)
			assert.Equal(t, tt.want, conn.Subprotocol())
		})
	}
}

func TestHandleSet_CancelAllCancelsEachOnce(t *testing.T) {
	const n = 5
	s := newHandleSet(KindModern)
	counts := make([]int32, n)
	for i := 0; i < n; i++ {
		h, ok := s.add(string(rune('a' + i)))
		require.True(t, ok)
		i := i
		require.True(t, h.bind(func() error {
			atomic.AddInt32(&counts[i], 1)
			if i == 2 {
				return errors.New("iterator already finished")
			}
			return nil
		}))
	}

	err := s.cancelAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterator already finished")
	assert.NoError(t, s.cancelAll())
	assert.NoError(t, s.cancel("a"))

	for i, c := range counts {
		assert.Equal(t, int32(1), c, "handle %d", i)
	}
	assert.Equal(t, 0, s.len())
}

func TestHandleSet_DuplicateAndSiblings(t *testing.T) {
	s := newHandleSet(KindLegacy)
	var a, b int32

	ha, ok := s.add("1")
	require.True(t, ok)
	ha.bind(func() error { atomic.AddInt32(&a, 1); return nil })
	hb, ok := s.add("2")
	require.True(t, ok)
	hb.bind(func() error { atomic.AddInt32(&b, 1); return nil })

	_, ok = s.add("1")
	assert.False(t, ok)

	require.NoError(t, s.cancel("1"))
	require.NoError(t, s.cancel("1"))
	assert.Equal(t, int32(1), a)
	assert.Equal(t, int32(0), b)
	assert.Equal(t, 1, s.len())
}

func TestHandle_BindAfterCancel(t *testing.T) {
	h := &Handle{OperationID: "1"}
	require.NoError(t, h.Cancel())

	var calls int32
	assert.False(t, h.bind(func() error { atomic.AddInt32(&calls, 1); return nil }))
	assert.Equal(t, int32(1), calls)
	require.NoError(t, h.Cancel())
	assert.Equal(t, int32(1), calls)
}

func TestModern_SubscribeStreamsEvents(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
	it := h.nextIterator(t)

	it.emit(1)
	msg := readMsg(t, conn)
	assert.Equal(t, "next", msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"data":{"ticks":{"n":1}}}`, string(msg.Payload))

	it.emit(2)
	assert.JSONEq(t, `{"data":{"ticks":{"n":2}}}`, string(readMsg(t, conn).Payload))

	close(it.events)
	msg = readMsg(t, conn)
	assert.Equal(t, "complete", msg.Type)
	assert.Equal(t, "1", msg.ID)
	h.waitCloses(t, 1)
	assert.Equal(t, 0, h.mux.SubscriptionCount())
}

func TestModern_PingPong(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")

	writeMsg(t, conn, map[string]interface{}{"type": "ping", "payload": map[string]interface{}{"t": 1}})
	msg := readMsg(t, conn)
	assert.Equal(t, "pong", msg.Type)
	assert.JSONEq(t, `{"t":1}`, string(msg.Payload))
}

func TestModern_QueryRunsOnce(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	writeMsg(t, conn, subscribeMsg("subscribe", "q", "{ hello }"))
	msg := readMsg(t, conn)
	assert.Equal(t, "next", msg.Type)
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, string(msg.Payload))
	assert.Equal(t, "complete", readMsg(t, conn).Type)
}

func TestModern_SlowQueryKeepsConnectionResponsive(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	writeMsg(t, conn, subscribeMsg("subscribe", "q", "{ slow }"))
	writeMsg(t, conn, map[string]interface{}{"type": "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type, "ping is answered while the query runs")

	writeMsg(t, conn, subscribeMsg("subscribe", "h", "{ hello }"))
	msg := readMsg(t, conn)
	assert.Equal(t, "next", msg.Type)
	assert.Equal(t, "h", msg.ID)
	assert.Equal(t, "complete", readMsg(t, conn).Type)

	close(h.gate)
	msg = readMsg(t, conn)
	assert.Equal(t, "next", msg.Type)
	assert.Equal(t, "q", msg.ID)
	assert.JSONEq(t, `{"data":{"slow":"done"}}`, string(msg.Payload))
	assert.Equal(t, "complete", readMsg(t, conn).Type)
}

func TestModern_CompleteCancelsRunningQuery(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	writeMsg(t, conn, subscribeMsg("subscribe", "q", "{ slow }"))
	require.Eventually(t, func() bool { return h.mux.SubscriptionCount() == 1 }, time.Second, 10*time.Millisecond)
	writeMsg(t, conn, map[string]interface{}{"id": "q", "type": "complete"})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&h.aborted) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Nothing is sent for the cancelled query; the next message is the pong.
	writeMsg(t, conn, map[string]interface{}{"type": "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type)
	assert.Equal(t, 0, h.mux.SubscriptionCount())
}

func TestModern_CloseCodes(t *testing.T) {
	t.Run("subscribe before init", func(t *testing.T) {
		h := newHarness(t, nil, Config{})
		conn := h.dial(t, "graphql-transport-ws")
		writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
		assert.Equal(t, CloseUnauthorized, readClose(t, conn))
	})

	t.Run("init timeout", func(t *testing.T) {
		h := newHarness(t, nil, Config{ConnectionInitTimeout: 100 * time.Millisecond})
		conn := h.dial(t, "graphql-transport-ws")
		assert.Equal(t, CloseInitTimeout, readClose(t, conn))
	})

	t.Run("second init", func(t *testing.T) {
		h := newHarness(t, nil, Config{})
		conn := h.dial(t, "graphql-transport-ws")
		initModern(t, conn, nil)
		writeMsg(t, conn, map[string]interface{}{"type": "connection_init"})
		assert.Equal(t, CloseTooManyInit, readClose(t, conn))
	})

	t.Run("duplicate id", func(t *testing.T) {
		h := newHarness(t, nil, Config{})
		conn := h.dial(t, "graphql-transport-ws")
		initModern(t, conn, nil)
		writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
		h.nextIterator(t)
		writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
		assert.Equal(t, CloseSubscriberExists, readClose(t, conn))
		h.waitCloses(t, 1)
	})

	t.Run("invalid message", func(t *testing.T) {
		h := newHarness(t, nil, Config{})
		conn := h.dial(t, "graphql-transport-ws")
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{nope")))
		assert.Equal(t, CloseBadRequest, readClose(t, conn))
	})
}

func TestModern_AuthFailureIsPerOperation(t *testing.T) {
	authn, err := auth.NewJWTAuthenticator("secret", "")
	require.NoError(t, err)

	h := newHarness(t, authn, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, map[string]interface{}{"authToken": "not-a-token"})

	writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
	msg := readMsg(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `[{"message":"unauthorized"}]`, string(msg.Payload))

	writeMsg(t, conn, map[string]interface{}{"type": "ping"})
	assert.Equal(t, "pong", readMsg(t, conn).Type, "connection stays open")
}

func TestModern_AuthenticatedSubscription(t *testing.T) {
	authn, err := auth.NewJWTAuthenticator("secret", "")
	require.NoError(t, err)
	token, err := authn.IssueToken(auth.Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	h := newHarness(t, authn, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, map[string]interface{}{"authToken": "Bearer " + token})

	writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
	it := h.nextIterator(t)
	it.emit(7)
	assert.JSONEq(t, `{"data":{"ticks":{"n":7}}}`, string(readMsg(t, conn).Payload))
}

func TestModern_ParseErrorIsPerOperation(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { nope }"))
	msg := readMsg(t, conn)
	assert.Equal(t, "error", msg.Type)

	var errs []graphql.GraphQLError
	require.NoError(t, json.Unmarshal(msg.Payload, &errs))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "nope")
}

func TestModern_ClientCompleteCancels(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
	h.nextIterator(t)
	writeMsg(t, conn, map[string]interface{}{"id": "1", "type": "complete"})
	h.waitCloses(t, 1)

	writeMsg(t, conn, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
	it := h.nextIterator(t)
	it.emit(3)
	assert.JSONEq(t, `{"data":{"ticks":{"n":3}}}`, string(readMsg(t, conn).Payload), "id is reusable after complete")
}

func TestModern_CloseCancelsAllSubscriptions(t *testing.T) {
	const n = 4
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-transport-ws")
	initModern(t, conn, nil)

	for i := 0; i < n; i++ {
		writeMsg(t, conn, subscribeMsg("subscribe", string(rune('a'+i)), "subscription { ticks { n } }"))
		h.nextIterator(t)
	}
	require.Eventually(t, func() bool { return h.mux.SubscriptionCount() == n }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	h.waitCloses(t, n)
	require.Eventually(t, func() bool { return h.mux.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func initLegacy(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeMsg(t, conn, map[string]interface{}{"type": "connection_init", "payload": map[string]interface{}{}})
	assert.Equal(t, "connection_ack", readMsg(t, conn).Type)
	assert.Equal(t, "ka", readMsg(t, conn).Type)
}

func TestLegacy_StartStreamsData(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-ws")
	initLegacy(t, conn)

	writeMsg(t, conn, subscribeMsg("start", "1", "subscription { ticks { n } }"))
	it := h.nextIterator(t)
	it.emit(1)

	msg := readMsg(t, conn)
	assert.Equal(t, "data", msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"data":{"ticks":{"n":1}}}`, string(msg.Payload))

	close(it.events)
	assert.Equal(t, "complete", readMsg(t, conn).Type)
}

func TestLegacy_KeepAlive(t *testing.T) {
	h := newHarness(t, nil, Config{KeepAlive: 50 * time.Millisecond})
	conn := h.dial(t, "graphql-ws")
	initLegacy(t, conn)
	assert.Equal(t, "ka", readMsg(t, conn).Type)
	assert.Equal(t, "ka", readMsg(t, conn).Type)
}

func TestLegacy_StopCancelsOperation(t *testing.T) {
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-ws")
	initLegacy(t, conn)

	writeMsg(t, conn, subscribeMsg("start", "1", "subscription { ticks { n } }"))
	h.nextIterator(t)
	writeMsg(t, conn, subscribeMsg("start", "2", "subscription { ticks { n } }"))
	sibling := h.nextIterator(t)

	writeMsg(t, conn, map[string]interface{}{"id": "1", "type": "stop"})
	h.waitCloses(t, 1)

	sibling.emit(9)
	msg := readMsg(t, conn)
	assert.Equal(t, "2", msg.ID)
	assert.JSONEq(t, `{"data":{"ticks":{"n":9}}}`, string(msg.Payload))
}

func TestLegacy_AuthFailure(t *testing.T) {
	authn, err := auth.NewJWTAuthenticator("secret", "")
	require.NoError(t, err)
	h := newHarness(t, authn, Config{})
	conn := h.dial(t, "graphql-ws")
	initLegacy(t, conn)

	writeMsg(t, conn, subscribeMsg("start", "1", "subscription { ticks { n } }"))
	msg := readMsg(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "1", msg.ID)
	assert.JSONEq(t, `{"message":"unauthorized"}`, string(msg.Payload))
}

func TestLegacy_TerminateCancelsAll(t *testing.T) {
	const n = 3
	h := newHarness(t, nil, Config{})
	conn := h.dial(t, "graphql-ws")
	initLegacy(t, conn)

	for i := 0; i < n; i++ {
		writeMsg(t, conn, subscribeMsg("start", string(rune('a'+i)), "subscription { ticks { n } }"))
		h.nextIterator(t)
	}
	writeMsg(t, conn, map[string]interface{}{"type": "connection_terminate"})
	readClose(t, conn)
	h.waitCloses(t, n)
}

func TestMultiplexer_CloseAll(t *testing.T) {
	h := newHarness(t, nil, Config{})
	modern := h.dial(t, "graphql-transport-ws")
	legacy := h.dial(t, "graphql-ws")
	initModern(t, modern, nil)
	initLegacy(t, legacy)

	writeMsg(t, modern, subscribeMsg("subscribe", "1", "subscription { ticks { n } }"))
	h.nextIterator(t)
	writeMsg(t, legacy, subscribeMsg("start", "1", "subscription { ticks { n } }"))
	h.nextIterator(t)
	require.Eventually(t, func() bool { return h.mux.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.mux.modern.ConnectionCount(), "each adapter tracks its own connections")
	assert.Equal(t, 1, h.mux.legacy.ConnectionCount())
	require.Eventually(t, func() bool { return h.mux.SubscriptionCount() == 2 }, time.Second, 10*time.Millisecond)

	go h.mux.CloseAll("server shutting down")
	assert.Equal(t, websocket.StatusGoingAway, readClose(t, modern))
	assert.Equal(t, websocket.StatusGoingAway, readClose(t, legacy))
	h.waitCloses(t, 2)
}
