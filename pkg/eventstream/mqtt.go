package eventstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqttclient "github.com/eclipse/paho.mqtt.golang"
	"github.com/getmockd/gqlgateway/internal/id"
	"github.com/getmockd/gqlgateway/pkg/logging"
)

// ErrConnectionLost is delivered to every open subscription when the broker
// connection drops.
var ErrConnectionLost = errors.New("broker connection lost")

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	URL      string
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
	Logger   *slog.Logger
}

// MQTTSource subscribes through a paho client connected to an external
// broker.
type MQTTSource struct {
	client  mqttclient.Client
	qos     byte
	timeout time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	subs map[*chanSubscription]struct{}
}

// NewMQTTSource connects to the broker at cfg.URL.
func NewMQTTSource(ctx context.Context, cfg MQTTConfig) (*MQTTSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker URL is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gqlgw-" + id.Trace()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	s := &MQTTSource{
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		log:     logging.OrNop(cfg.Logger).With("component", "mqtt-source"),
		subs:    make(map[*chanSubscription]struct{}),
	}

	opts := mqttclient.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetAutoReconnect(false)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqttclient.Client, err error) {
		s.log.Error("broker connection lost", "error", err)
		s.failAll(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})
	s.client = mqttclient.NewClient(opts)

	if err := s.wait(ctx, s.client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}
	s.log.Info("connected to broker", "url", cfg.URL, "clientId", cfg.ClientID)
	return s, nil
}

// Subscribe implements Source. Each call opens its own broker subscription.
func (s *MQTTSource) Subscribe(ctx context.Context, topic, exchange string) (RawSubscription, error) {
	filter := Filter(exchange, topic)
	sub := newChanSubscription()

	token := s.client.Subscribe(filter, s.qos, func(_ mqttclient.Client, msg mqttclient.Message) {
		sub.deliver(msg.Topic(), msg.Payload())
	})
	if err := s.wait(ctx, token); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", filter, err)
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.unsubscribe = func() error {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		if !s.client.IsConnectionOpen() {
			return nil
		}
		return s.wait(context.Background(), s.client.Unsubscribe(filter))
	}
	return sub, nil
}

// Publish publishes payload to the routing key on exchange.
func (s *MQTTSource) Publish(ctx context.Context, topic, exchange string, payload []byte) error {
	return s.wait(ctx, s.client.Publish(Filter(exchange, topic), s.qos, false, payload))
}

// Close disconnects from the broker.
func (s *MQTTSource) Close() error {
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTSource) failAll(err error) {
	s.mu.Lock()
	subs := make([]*chanSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

func (s *MQTTSource) wait(ctx context.Context, token mqttclient.Token) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out waiting for broker")
	}
}
