// Package resolvers wires the gateway's subscription fields to broker topics
// and embeds the default schema.
package resolvers

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/getmockd/gqlgateway/pkg/eventstream"
	"github.com/getmockd/gqlgateway/pkg/graphql"
	"github.com/getmockd/gqlgateway/pkg/logging"
)

//go:embed schema.graphql
var schemaSDL string

// Exchanges.
const (
	ExchangeDocuments = "documents"
	ExchangeH2OBridge = "h2obridge"
)

// Topic binds a subscription field to a routing key on an exchange.
type Topic struct {
	Field    string
	Topic    string
	Exchange string
}

// Topics lists every subscription field served by the gateway.
var Topics = []Topic{
	{Field: "gqlDocumentMutation", Topic: "document.mutation.#", Exchange: ExchangeDocuments},
	{Field: "jobsResult", Topic: "jobs.scheduled.complete", Exchange: ExchangeDocuments},
	{Field: "locationMutation", Topic: "locations.mutation.#", Exchange: ExchangeDocuments},
	{Field: "locationMetrics", Topic: "meter.metrics.#", Exchange: ExchangeH2OBridge},
	{Field: "mapLayers", Topic: "map.layers.*", Exchange: ExchangeDocuments},
}

// SchemaSDL returns the embedded schema source.
func SchemaSDL() string {
	return schemaSDL
}

// Schema parses the embedded schema.
func Schema() (*graphql.Schema, error) {
	return graphql.ParseSchema(schemaSDL)
}

// Config configures the resolver set.
type Config struct {
	Version string
	Logger  *slog.Logger
}

// Set holds the gateway resolvers.
type Set struct {
	stream  *eventstream.Stream
	version string
	log     *slog.Logger
}

// New creates the resolver set over stream.
func New(stream *eventstream.Stream, cfg Config) *Set {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Set{
		stream:  stream,
		version: cfg.Version,
		log:     logging.OrNop(cfg.Logger).With("component", "resolvers"),
	}
}

// Resolvers returns the resolver map for the executor.
func (s *Set) Resolvers() graphql.Resolvers {
	subs := make(map[string]graphql.SubscribeFunc, len(Topics))
	for _, t := range Topics {
		subs["Subscription."+t.Field] = s.subscribe(t)
	}
	return graphql.Resolvers{
		Fields: map[string]graphql.ResolverFunc{
			"Query.version": func(ctx context.Context, _ graphql.ResolveParams) (interface{}, error) {
				graphql.MarkCachable(ctx)
				return s.version, nil
			},
		},
		Subscriptions: subs,
	}
}

func (s *Set) subscribe(t Topic) graphql.SubscribeFunc {
	resolve := batchResolver(t.Field)
	return func(ctx context.Context, p graphql.ResolveParams) (graphql.EventIterator, error) {
		filters, _ := p.Args["filters"].(map[string]interface{})
		expression, _ := filters["expr"].(string)

		attrs := []any{"field", t.Field, "filters", filters, "connectionId", p.Context.ConnectionID}
		if p.Context.User != nil {
			attrs = append(attrs, "user", p.Context.User.UserID, "roles", p.Context.Roles)
		}
		s.log.InfoContext(ctx, "subscription", attrs...)

		it, err := s.stream.Subscribe(ctx, t.Topic, t.Exchange, resolve, eventstream.WithFilter(expression))
		if err != nil {
			return nil, err
		}
		return it, nil
	}
}

// batchResolver returns the root value {field: events} for a batch.
func batchResolver(field string) eventstream.ResolverFunc {
	return func(events []json.RawMessage) (interface{}, error) {
		decoded := make([]interface{}, 0, len(events))
		for _, raw := range events {
			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("decode %s event: %w", field, err)
			}
			decoded = append(decoded, v)
		}
		return map[string]interface{}{field: decoded}, nil
	}
}
