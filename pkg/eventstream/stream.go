package eventstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getmockd/gqlgateway/pkg/logging"
	"github.com/getmockd/gqlgateway/pkg/metrics"
)

// Stream shares broker subscriptions between iterators on the same exchange
// and routing key. Broker calls are made outside the stream lock, so a slow
// subscribe or unsubscribe only holds up consumers of its own topic.
type Stream struct {
	source Source
	log    *slog.Logger

	mu      sync.Mutex
	topics  map[topicKey]*topic
	closing map[topicKey]*topic
}

type topicKey struct {
	exchange string
	topic    string
}

// topic fans one broker subscription out to its consumers.
type topic struct {
	key topicKey

	// ready is closed once raw or err is set.
	ready chan struct{}
	raw   RawSubscription
	err   error

	mu        sync.Mutex
	consumers map[*queue]struct{}
	failed    bool

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func newTopic(key topicKey) *topic {
	return &topic{
		key:       key,
		ready:     make(chan struct{}),
		consumers: make(map[*queue]struct{}),
		closed:    make(chan struct{}),
	}
}

// add registers q. It reports false once the broker subscription failed.
func (t *topic) add(q *queue) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		return false
	}
	t.consumers[q] = struct{}{}
	return true
}

// remove drops q and reports whether it was registered and whether it was
// the last consumer.
func (t *topic) remove(q *queue) (member, last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.consumers[q]; !ok {
		return false, false
	}
	delete(t.consumers, q)
	return true, len(t.consumers) == 0
}

func (t *topic) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.consumers)
}

// NewStream creates a Stream over source.
func NewStream(source Source, logger *slog.Logger) *Stream {
	return &Stream{
		source:  source,
		log:     logging.OrNop(logger).With("component", "eventstream"),
		topics:  make(map[topicKey]*topic),
		closing: make(map[topicKey]*topic),
	}
}

// Subscribe returns an iterator over the routing key topic on exchange. The
// broker subscription starts on the first Next. Every batch is passed to
// resolve, whose result is the iterator's event.
func (s *Stream) Subscribe(ctx context.Context, topic, exchange string, resolve ResolverFunc, opts ...Option) (*Iterator, error) {
	if resolve == nil {
		return nil, fmt.Errorf("no resolver for %s/%s", exchange, topic)
	}
	it := &Iterator{
		stream:  s,
		key:     topicKey{exchange: exchange, topic: topic},
		resolve: resolve,
		log:     s.log,
	}
	for _, opt := range opts {
		if err := opt(it); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// Topics returns the number of broker subscriptions currently held.
func (s *Stream) Topics() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

// acquire registers a consumer queue on key. The first consumer opens the
// broker subscription; later ones wait for it.
func (s *Stream) acquire(ctx context.Context, key topicKey) (*queue, error) {
	q := newQueue()

	s.mu.Lock()
	t, ok := s.topics[key]
	var prev *topic
	if ok && !t.add(q) {
		// Failed but not retired yet.
		prev, ok = t, false
	}
	if !ok {
		if prev == nil {
			prev = s.closing[key]
		}
		t = newTopic(key)
		t.add(q)
		s.topics[key] = t
	}
	s.mu.Unlock()

	if !ok {
		s.open(ctx, t, prev)
	} else {
		select {
		case <-t.ready:
		case <-ctx.Done():
			_ = s.release(key, q)
			return nil, ctx.Err()
		}
	}

	if t.err != nil {
		t.remove(q)
		return nil, t.err
	}
	return q, nil
}

// open subscribes t on the broker once prev, the last subscription on the
// same key, has been closed.
func (s *Stream) open(ctx context.Context, t *topic, prev *topic) {
	defer close(t.ready)

	if prev != nil {
		select {
		case <-prev.closed:
		case <-ctx.Done():
			t.err = &DeliveryError{Exchange: t.key.exchange, Topic: t.key.topic, Err: ctx.Err()}
			s.retire(t)
			_ = s.shut(t)
			return
		}
	}

	raw, err := s.source.Subscribe(ctx, t.key.topic, t.key.exchange)
	if err != nil {
		t.err = &DeliveryError{Exchange: t.key.exchange, Topic: t.key.topic, Err: err}
		s.retire(t)
		_ = s.shut(t)
		return
	}
	t.raw = raw
	go s.fanOut(t)
	s.log.DebugContext(ctx, "broker subscription opened", "exchange", t.key.exchange, "topic", t.key.topic)
}

// release removes q from key. The broker subscription is closed with the
// last consumer.
func (s *Stream) release(key topicKey, q *queue) error {
	s.mu.Lock()
	t, ok := s.topics[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	member, last := t.remove(q)
	if !member || !last {
		s.mu.Unlock()
		return nil
	}
	s.retireLocked(t)
	s.mu.Unlock()

	<-t.ready
	s.log.Debug("broker subscription closed", "exchange", key.exchange, "topic", key.topic)
	return s.shut(t)
}

// retire takes t out of the topic table. A new subscription on the same key
// waits for t to be shut first.
func (s *Stream) retire(t *topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked(t)
}

func (s *Stream) retireLocked(t *topic) {
	if s.topics[t.key] != t {
		return
	}
	delete(s.topics, t.key)
	s.closing[t.key] = t
}

// shut closes the broker subscription of t once.
func (s *Stream) shut(t *topic) error {
	t.closeOnce.Do(func() {
		if t.raw != nil {
			t.closeErr = t.raw.Close()
		}
		s.mu.Lock()
		if s.closing[t.key] == t {
			delete(s.closing, t.key)
		}
		s.mu.Unlock()
		close(t.closed)
	})
	return t.closeErr
}

func (s *Stream) fanOut(t *topic) {
	for d := range t.raw.Deliveries() {
		if d.Err == nil {
			metrics.BrokerDelivery(t.key.exchange)
		}

		t.mu.Lock()
		for q := range t.consumers {
			q.push(d)
		}
		if d.Err != nil {
			t.failed = true
		}
		t.mu.Unlock()

		if d.Err == nil {
			continue
		}
		s.retire(t)
		_ = s.shut(t)
		s.log.Error("broker subscription failed", "exchange", t.key.exchange, "topic", t.key.topic, "error", d.Err)
		return
	}
}
