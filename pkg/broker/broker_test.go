package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mqttclient "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = b.Stop(context.Background(), 5*time.Second)
	})
	return b
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) handle(topic string, payload []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, topic+" "+string(payload))
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestBroker_StartStop(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, b.IsRunning())

	require.NoError(t, b.Start(context.Background()))
	assert.True(t, b.IsRunning())
	assert.Error(t, b.Start(context.Background()), "second start should fail")

	require.NoError(t, b.Stop(context.Background(), 5*time.Second))
	assert.False(t, b.IsRunning())
	assert.NoError(t, b.Stop(context.Background(), time.Second), "stop is idempotent")
}

func TestBroker_StartCancelled(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Start(ctx), context.Canceled)
}

func TestBroker_PublishNotRunning(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Publish("a/b", []byte("x"), 0, false), ErrNotRunning)
}

func TestBroker_InlineSubscribe(t *testing.T) {
	b := startBroker(t, Config{})
	rec := newRecorder()

	id, err := b.Subscribe("documents/locations/mutation/#", rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscriptions())

	require.NoError(t, b.Publish("documents/locations/mutation/created", []byte(`{"id":1}`), 0, false))
	require.NoError(t, b.Publish("documents/map/layers/x", []byte(`{"id":2}`), 0, false))
	require.NoError(t, b.Publish("documents/locations/mutation/deleted", []byte(`{"id":3}`), 0, false))

	msgs := rec.wait(t, 2)
	assert.Equal(t, []string{
		`documents/locations/mutation/created {"id":1}`,
		`documents/locations/mutation/deleted {"id":3}`,
	}, msgs)

	require.NoError(t, b.Unsubscribe("documents/locations/mutation/#", id))
	assert.Equal(t, 0, b.Subscriptions())
}

func TestBroker_TCPClient(t *testing.T) {
	port := freePort(t)
	b := startBroker(t, Config{Addr: fmt.Sprintf("127.0.0.1:%d", port)})
	rec := newRecorder()

	_, err := b.Subscribe("h2obridge/meter/metrics/+", rec.handle)
	require.NoError(t, err)

	opts := mqttclient.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port))
	opts.SetClientID("broker-test")
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(5 * time.Second)
	client := mqttclient.NewClient(opts)

	var token mqttclient.Token
	require.Eventually(t, func() bool {
		token = client.Connect()
		return token.WaitTimeout(time.Second) && token.Error() == nil
	}, 5*time.Second, 100*time.Millisecond)
	defer client.Disconnect(100)

	token = client.Publish("h2obridge/meter/metrics/m1", 0, false, `[{"v":1}]`)
	require.True(t, token.WaitTimeout(2*time.Second))
	require.NoError(t, token.Error())

	msgs := rec.wait(t, 1)
	assert.Equal(t, []string{`h2obridge/meter/metrics/m1 [{"v":1}]`}, msgs)
	assert.Contains(t, b.Clients(), "broker-test")
}
