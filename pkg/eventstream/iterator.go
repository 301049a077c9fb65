package eventstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ResolverFunc maps a batch of events to the value of the subscription
// root field.
type ResolverFunc func(events []json.RawMessage) (interface{}, error)

// DeliveryError reports a broker failure. It ends the iterator it was
// returned from.
type DeliveryError struct {
	Exchange string
	Topic    string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed on %s/%s: %v", e.Exchange, e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Option configures an Iterator.
type Option func(*Iterator) error

// WithFilter keeps only the events for which the expression is true. The
// event is bound to the variable "event"; when it is an object its fields
// are bound at the top level as well. An empty expression keeps everything.
func WithFilter(expression string) Option {
	return func(it *Iterator) error {
		if expression == "" {
			return nil
		}
		program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return fmt.Errorf("invalid filter %q: %w", expression, err)
		}
		it.filter = program
		return nil
	}
}

// Iterator yields resolved batches from a Stream topic.
type Iterator struct {
	stream  *Stream
	key     topicKey
	resolve ResolverFunc
	filter  *vm.Program
	log     *slog.Logger

	mu     sync.Mutex
	q      *queue
	closed bool
	failed error
}

// Next blocks until the next batch arrives and returns the resolver's value.
// It returns io.EOF after Close and a *DeliveryError when the broker
// subscription fails; both are final.
func (it *Iterator) Next(ctx context.Context) (interface{}, error) {
	q, err := it.queue(ctx)
	if err != nil {
		return nil, err
	}

	for {
		d, err := q.pop(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, it.terminal()
			}
			return nil, err
		}
		if d.Err != nil {
			failure := &DeliveryError{Exchange: it.key.exchange, Topic: it.key.topic, Err: d.Err}
			it.fail(failure)
			return nil, failure
		}

		events, err := Normalize(d.Payload)
		if err != nil {
			it.log.WarnContext(ctx, "discarding undecodable event", "topic", d.Topic, "error", err)
			continue
		}
		if events = it.apply(events); len(events) == 0 {
			continue
		}
		return it.resolve(events)
	}
}

// Close releases the iterator's broker consumer. It is safe to call more
// than once.
func (it *Iterator) Close() error {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil
	}
	it.closed = true
	q := it.q
	it.mu.Unlock()

	if q == nil {
		return nil
	}
	q.close()
	return it.stream.release(it.key, q)
}

// queue returns the consumer queue, acquiring it on first use.
func (it *Iterator) queue(ctx context.Context) (*queue, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil, io.EOF
	}
	if it.failed != nil {
		return nil, it.failed
	}
	if it.q == nil {
		q, err := it.stream.acquire(ctx, it.key)
		if err != nil {
			// A cancelled wait can be retried.
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				it.failed = err
			}
			return nil, err
		}
		it.q = q
	}
	return it.q, nil
}

func (it *Iterator) fail(err error) {
	it.mu.Lock()
	it.failed = err
	q := it.q
	it.mu.Unlock()
	q.close()
	_ = it.stream.release(it.key, q)
}

func (it *Iterator) terminal() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.failed != nil {
		return it.failed
	}
	return io.EOF
}

func (it *Iterator) apply(events []json.RawMessage) []json.RawMessage {
	if it.filter == nil {
		return events
	}
	kept := events[:0:0]
	for _, raw := range events {
		var event interface{}
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		env := map[string]interface{}{}
		if fields, ok := event.(map[string]interface{}); ok {
			for k, v := range fields {
				env[k] = v
			}
		}
		env["event"] = event

		out, err := expr.Run(it.filter, env)
		if err != nil {
			it.log.Debug("filter evaluation failed", "error", err)
			continue
		}
		if keep, _ := out.(bool); keep {
			kept = append(kept, raw)
		}
	}
	return kept
}

// Normalize decodes a delivery payload into a batch. A JSON array yields its
// elements; any other JSON value yields a batch of one.
func Normalize(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("payload is not valid JSON")
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
