package eventstream

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Delivery is one message received from the broker. A non-nil Err ends the
// subscription it was delivered on.
type Delivery struct {
	Topic   string
	Payload []byte
	Err     error
}

// RawSubscription is a broker level subscription. Deliveries is closed after
// Close.
type RawSubscription interface {
	Deliveries() <-chan Delivery
	Close() error
}

// Source opens broker subscriptions for an AMQP style routing key on an
// exchange.
type Source interface {
	Subscribe(ctx context.Context, topic, exchange string) (RawSubscription, error)
}

// Filter maps an exchange and AMQP routing key onto an MQTT topic filter.
// "*" matches one word and becomes "+"; "#" is kept.
func Filter(exchange, topic string) string {
	words := strings.Split(topic, ".")
	for i, w := range words {
		if w == "*" {
			words[i] = "+"
		}
	}
	return exchange + "/" + strings.Join(words, "/")
}

// queue is an unbounded FIFO of deliveries. push never blocks, so broker
// callbacks never wait on a slow consumer.
type queue struct {
	mu     sync.Mutex
	items  []Delivery
	notify chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(d Delivery) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, d)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a delivery is queued. It returns io.EOF once the queue is
// closed.
func (q *queue) pop(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Delivery{}, io.EOF
		}
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = Delivery{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		}
	}
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.notify)
}

// chanSubscription adapts broker callbacks to a RawSubscription.
type chanSubscription struct {
	q           *queue
	out         chan Delivery
	stop        context.CancelFunc
	done        chan struct{}
	unsubscribe func() error

	once sync.Once
	err  error
}

func newChanSubscription() *chanSubscription {
	ctx, stop := context.WithCancel(context.Background())
	s := &chanSubscription{
		q:    newQueue(),
		out:  make(chan Delivery),
		stop: stop,
		done: make(chan struct{}),
	}
	go s.pump(ctx)
	return s
}

func (s *chanSubscription) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)
	for {
		d, err := s.q.pop(ctx)
		if err != nil {
			return
		}
		select {
		case s.out <- d:
		case <-ctx.Done():
			return
		}
		if d.Err != nil {
			return
		}
	}
}

func (s *chanSubscription) deliver(topic string, payload []byte) {
	s.q.push(Delivery{Topic: topic, Payload: append([]byte(nil), payload...)})
}

func (s *chanSubscription) fail(err error) {
	s.q.push(Delivery{Err: err})
}

func (s *chanSubscription) Deliveries() <-chan Delivery {
	return s.out
}

// Close releases the broker subscription and stops the pump.
func (s *chanSubscription) Close() error {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.err = s.unsubscribe()
		}
		s.q.close()
		s.stop()
		<-s.done
	})
	return s.err
}
