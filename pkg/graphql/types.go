package graphql

import (
	"context"
	"encoding/json"

	"github.com/getmockd/gqlgateway/pkg/reqctx"
	"github.com/vektah/gqlparser/v2/ast"
)

// GraphQLError represents a GraphQL error in the response format.
type GraphQLError struct {
	// Message is the error message.
	Message string `json:"message"`
	// Locations indicates where in the query the error occurred.
	Locations []GraphQLErrorLocation `json:"locations,omitempty"`
	// Path is the response field path where the error occurred.
	Path []interface{} `json:"path,omitempty"`
	// Extensions contains additional error metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLErrorLocation represents a location in the GraphQL query where an error occurred.
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLRequest represents an incoming GraphQL request.
type GraphQLRequest struct {
	// Query is the GraphQL query string.
	Query string `json:"query"`
	// OperationName is the name of the operation to execute (for multi-operation documents).
	OperationName string `json:"operationName,omitempty"`
	// Variables are the variable values for the query.
	Variables map[string]interface{} `json:"variables,omitempty"`
	// Extensions are client supplied request extensions.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLResponse represents a GraphQL response.
type GraphQLResponse struct {
	// Data contains the result of the query execution.
	Data interface{} `json:"data,omitempty"`
	// Errors contains any errors that occurred during execution.
	Errors []GraphQLError `json:"errors,omitempty"`
	// Extensions contains additional response metadata.
	Extensions map[string]interface{} `json:"extensions,omitempty"`
	// Executed is set once execution started. Data is then always encoded,
	// as null when a non-null error reached the root.
	Executed bool `json:"-"`
}

// MarshalJSON encodes r. Requests rejected before execution carry no data
// key at all.
func (r GraphQLResponse) MarshalJSON() ([]byte, error) {
	type plain GraphQLResponse
	if r.Data != nil || !r.Executed {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		Data json.RawMessage `json:"data"`
		plain
	}{Data: json.RawMessage("null"), plain: plain(r)})
}

// OperationType is the kind of a GraphQL operation.
type OperationType string

// Operation types.
const (
	OperationQuery        OperationType = "query"
	OperationMutation     OperationType = "mutation"
	OperationSubscription OperationType = "subscription"
	OperationUnknown      OperationType = "unknown"
)

// ExecutionMeta describes a finished execution. The cache setter inspects it
// to decide whether the response may be stored.
type ExecutionMeta struct {
	OperationType OperationType
	OperationName string
	// Cachable is true only when a resolver explicitly called MarkCachable.
	Cachable bool
	// Fatal is set when execution was aborted by a configuration defect,
	// such as an abstract type the type resolver does not know.
	Fatal error
}

// ResolveParams is passed to resolvers.
type ResolveParams struct {
	// Source is the parent value (the root value for root fields).
	Source interface{}
	// Args are the coerced field arguments.
	Args map[string]interface{}
	// Field is the field being resolved.
	Field *ast.Field
	// ParentType is the name of the object type owning the field.
	ParentType string
	// Path is the response path of the field.
	Path []interface{}
	// Context is the request context of the operation.
	Context reqctx.Context
}

// ResolverFunc resolves a single field.
type ResolverFunc func(ctx context.Context, p ResolveParams) (interface{}, error)

// EventIterator is a cancelable sequence of subscription source events.
// Next blocks until an event is available and returns io.EOF once the
// iterator has been closed.
type EventIterator interface {
	Next(ctx context.Context) (interface{}, error)
	Close() error
}

// SubscribeFunc creates the event source for a subscription root field.
type SubscribeFunc func(ctx context.Context, p ResolveParams) (EventIterator, error)

// Resolvers maps "Type.field" paths to field resolvers and "Subscription.field"
// paths to event source factories.
type Resolvers struct {
	Fields        map[string]ResolverFunc
	Subscriptions map[string]SubscribeFunc
}

// ExecutionDescriptor is a parsed operation ready to execute, as produced by
// the subscription transports when a client subscribes.
type ExecutionDescriptor struct {
	Schema        *Schema
	OperationName string
	Document      *ast.QueryDocument
	Variables     map[string]interface{}
	Context       reqctx.Context
}

// FieldPath represents a path to a field in the schema (e.g., "Query.user" or "Mutation.createUser").
type FieldPath struct {
	// TypeName is the parent type name (e.g., "Query", "Mutation", "User").
	TypeName string
	// FieldName is the field name.
	FieldName string
}

// String returns the string representation of the field path.
func (fp FieldPath) String() string {
	return fp.TypeName + "." + fp.FieldName
}

// ParseFieldPath parses a field path string (e.g., "Query.user") into a FieldPath.
func ParseFieldPath(path string) FieldPath {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			return FieldPath{
				TypeName:  path[:i],
				FieldName: path[i+1:],
			}
		}
	}
	// No dot found, treat the whole string as a field name
	return FieldPath{FieldName: path}
}
