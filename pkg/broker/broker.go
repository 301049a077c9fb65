package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmockd/gqlgateway/pkg/logging"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// ErrNotRunning is returned when publishing to a stopped broker.
var ErrNotRunning = errors.New("broker is not running")

// Handler receives messages for an inline subscription. Handlers run on the
// broker's publish path and must not block.
type Handler func(topic string, payload []byte)

// Config configures the embedded broker.
type Config struct {
	// Addr is the TCP listen address. Empty disables the network listener.
	Addr string
	// Logger receives broker logs. Nil discards them.
	Logger *slog.Logger
}

// Broker is an embedded MQTT broker.
type Broker struct {
	config  Config
	server  *mqtt.Server
	log     *slog.Logger
	mu      sync.RWMutex
	running bool
	nextID  atomic.Int64
	subs    map[int]string
}

// New creates a broker. The broker accepts every client connection.
func New(config Config) (*Broker, error) {
	log := logging.OrNop(config.Logger).With("component", "broker")
	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       log,
	})

	// mochi-mqtt requires an auth hook
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}
	if err := server.AddHook(&connectionHook{log: log}, nil); err != nil {
		return nil, fmt.Errorf("failed to add connection hook: %w", err)
	}

	return &Broker{
		config: config,
		server: server,
		log:    log,
		subs:   make(map[int]string),
	}, nil
}

// Start starts the broker and its listener, if configured.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broker is already running")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if b.config.Addr != "" {
		listener := listeners.NewTCP(listeners.Config{
			ID:      "gqlgw-tcp",
			Address: b.config.Addr,
		})
		if err := b.server.AddListener(listener); err != nil {
			return fmt.Errorf("failed to add listener: %w", err)
		}
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("MQTT server error", "error", err)
		}
	}()

	b.running = true
	b.log.Info("broker started", "addr", b.config.Addr)
	return nil
}

// Stop shuts the broker down, waiting at most timeout for clients to
// disconnect.
func (b *Broker) Stop(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.server.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close server: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}
}

// IsRunning returns true if the broker is running.
func (b *Broker) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// Publish publishes a message through the inline client.
func (b *Broker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !b.IsRunning() {
		return ErrNotRunning
	}
	return b.server.Publish(topic, payload, retain, qos)
}

// Subscribe registers an inline subscription for filter and returns its id.
func (b *Broker) Subscribe(filter string, handler Handler) (int, error) {
	id := int(b.nextID.Add(1))
	err := b.server.Subscribe(filter, id, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, pk.Payload)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}

	b.mu.Lock()
	b.subs[id] = filter
	b.mu.Unlock()
	return id, nil
}

// Unsubscribe removes the inline subscription id from filter.
func (b *Broker) Unsubscribe(filter string, id int) error {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()

	if err := b.server.Unsubscribe(filter, id); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", filter, err)
	}
	return nil
}

// Subscriptions returns the number of active inline subscriptions.
func (b *Broker) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Clients returns the connected client ids, excluding the inline client.
func (b *Broker) Clients() []string {
	clients := b.server.Clients.GetAll()
	ids := make([]string, 0, len(clients))
	for id, cl := range clients {
		if cl.Net.Inline {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
