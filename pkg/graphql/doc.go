// Package graphql provides schema loading, execution, and the HTTP execution
// gateway for gqlgateway.
//
// The package parses GraphQL SDL schemas, validates incoming documents
// against them, and executes queries, mutations, and subscriptions using
// resolvers registered by "Type.field" key.
//
// Key features:
//   - Parse GraphQL SDL schemas from strings or files
//   - Resolve unions and interfaces through a TypeResolver that understands
//     job processing results and time series segments
//   - Introspection, which can be disabled per executor
//   - Resolvers opt responses into caching with MarkCachable
//   - An HTTP Handler that assigns an X-TraceId to every request, derives the
//     request context from the authenticator, and consults an optional
//     ResponseCache before executing
//
// Basic usage:
//
//	schema, err := graphql.ParseSchema(`
//	    type Query {
//	        location(id: ID!): Location
//	    }
//	    type Location {
//	        id: ID!
//	        name: String!
//	    }
//	`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	executor := graphql.NewExecutor(schema, graphql.Resolvers{
//	    Fields: map[string]graphql.ResolverFunc{
//	        "Query.location": func(ctx context.Context, p graphql.ResolveParams) (interface{}, error) {
//	            graphql.MarkCachable(ctx)
//	            return map[string]interface{}{"id": p.Args["id"], "name": "Plant 1"}, nil
//	        },
//	    },
//	})
//	http.Handle("/", graphql.NewHandler(executor, nil))
//
// Subscriptions are started with Executor.Subscribe; every event produced by
// the root field's SubscribeFunc is executed against the operation's
// selection set and delivered on Subscription.Responses. WebSocket transport
// lives in the subscription package.
package graphql
