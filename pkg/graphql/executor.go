package graphql

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/getmockd/gqlgateway/pkg/reqctx"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
)

// ErrInternal is the message sent to clients when execution was aborted.
const ErrInternal = "internal server error"

// ErrNotSubscription is returned by Subscribe for queries and mutations.
var ErrNotSubscription = errors.New("operation is not a subscription")

// Executor executes GraphQL operations against registered resolvers.
type Executor struct {
	schema        *Schema
	resolvers     Resolvers
	types         *TypeResolver
	introspection bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithIntrospection enables or disables __schema and __type.
func WithIntrospection(enabled bool) ExecutorOption {
	return func(e *Executor) { e.introspection = enabled }
}

// WithTypeResolver replaces the default abstract type resolver.
func WithTypeResolver(r *TypeResolver) ExecutorOption {
	return func(e *Executor) { e.types = r }
}

// NewExecutor creates a new GraphQL executor with the given schema and resolvers.
func NewExecutor(schema *Schema, resolvers Resolvers, opts ...ExecutorOption) *Executor {
	e := &Executor{
		schema:        schema,
		resolvers:     resolvers,
		types:         NewTypeResolver(),
		introspection: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolvers.Fields == nil {
		e.resolvers.Fields = make(map[string]ResolverFunc)
	}
	if e.resolvers.Subscriptions == nil {
		e.resolvers.Subscriptions = make(map[string]SubscribeFunc)
	}
	return e
}

// Schema returns the schema the executor runs against.
func (e *Executor) Schema() *Schema {
	return e.schema
}

// TypeResolver returns the abstract type resolver in use.
func (e *Executor) TypeResolver() *TypeResolver {
	return e.types
}

// Parse parses and validates a query document against the schema.
func (e *Executor) Parse(query string) (*ast.QueryDocument, []GraphQLError) {
	if query == "" {
		return nil, []GraphQLError{{Message: "query is required"}}
	}
	doc, errs := gqlparser.LoadQuery(e.schema.AST(), query)
	if len(errs) > 0 {
		return nil, convertErrors(errs)
	}
	return doc, nil
}

// Execute parses and executes a GraphQL request. The request context is
// taken from ctx.
func (e *Executor) Execute(ctx context.Context, req *GraphQLRequest) (*GraphQLResponse, ExecutionMeta) {
	if req == nil {
		return &GraphQLResponse{Errors: []GraphQLError{{Message: "query is required"}}}, ExecutionMeta{OperationType: OperationUnknown}
	}
	doc, errs := e.Parse(req.Query)
	if errs != nil {
		return &GraphQLResponse{Errors: errs}, ExecutionMeta{OperationType: OperationUnknown, OperationName: req.OperationName}
	}
	rc, _ := reqctx.FromContext(ctx)
	return e.ExecuteDocument(ctx, &ExecutionDescriptor{
		Schema:        e.schema,
		OperationName: req.OperationName,
		Document:      doc,
		Variables:     req.Variables,
		Context:       rc,
	})
}

// ExecuteDocument executes a parsed query or mutation.
func (e *Executor) ExecuteDocument(ctx context.Context, desc *ExecutionDescriptor) (*GraphQLResponse, ExecutionMeta) {
	meta := ExecutionMeta{OperationType: OperationUnknown, OperationName: desc.OperationName}

	op := GetOperation(desc.Document, desc.OperationName)
	if op == nil {
		if desc.OperationName != "" {
			return errorResponse(fmt.Sprintf("operation %q not found", desc.OperationName)), meta
		}
		return errorResponse("no operation found in query"), meta
	}
	meta.OperationType = OperationType(op.Operation)
	meta.OperationName = op.Name

	vars, err := validator.VariableValues(e.schema.AST(), op, desc.Variables)
	if err != nil {
		return &GraphQLResponse{Errors: convertErrors(gqlerror.List{asGQLError(err)})}, meta
	}

	root := e.schema.operationRoot(op.Operation)
	if root == nil {
		return errorResponse(fmt.Sprintf("schema does not support %s operations", op.Operation)), meta
	}

	mark := &cacheMark{}
	ctx = context.WithValue(ctx, cacheMarkKey{}, mark)
	ctx = reqctx.WithContext(ctx, desc.Context)

	st := e.newState(ctx, desc.Document, vars, desc.Context)
	data := st.executeSelectionSet(root, op.SelectionSet, nil, ast.Path{})

	meta.Cachable = mark.cachable.Load()
	if st.fatal != nil {
		meta.Fatal = st.fatal
		meta.Cachable = false
		return errorResponse(ErrInternal), meta
	}

	resp := &GraphQLResponse{Executed: true}
	if data != nil {
		resp.Data = data
	}
	if len(st.errors) > 0 {
		resp.Errors = st.errors
	}
	return resp, meta
}

// GetOperation selects the operation to run from a document. An empty name
// selects the only operation of a single-operation document.
func GetOperation(doc *ast.QueryDocument, name string) *ast.OperationDefinition {
	if doc == nil {
		return nil
	}
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0]
		}
		return nil
	}
	for _, op := range doc.Operations {
		if op.Name == name {
			return op
		}
	}
	return nil
}

// executionState holds the state of one execution.
type executionState struct {
	ctx    context.Context
	e      *Executor
	doc    *ast.QueryDocument
	vars   map[string]interface{}
	rc     reqctx.Context
	errors []GraphQLError
	fatal  error
}

func (e *Executor) newState(ctx context.Context, doc *ast.QueryDocument, vars map[string]interface{}, rc reqctx.Context) *executionState {
	return &executionState{ctx: ctx, e: e, doc: doc, vars: vars, rc: rc}
}

func (st *executionState) addError(err error, field *ast.Field, path ast.Path) {
	gqlErr := GraphQLError{Message: err.Error(), Path: pathValues(path)}
	if field != nil && field.Position != nil {
		gqlErr.Locations = []GraphQLErrorLocation{{Line: field.Position.Line, Column: field.Position.Column}}
	}
	var withExt interface{ Extensions() map[string]interface{} }
	if errors.As(err, &withExt) {
		gqlErr.Extensions = withExt.Extensions()
	}
	st.errors = append(st.errors, gqlErr)
}

// executeSelectionSet executes the selection set of an object value. A nil
// result means a non-null child failed and the object itself is null.
func (st *executionState) executeSelectionSet(objType *ast.Definition, sels ast.SelectionSet, source interface{}, path ast.Path) map[string]interface{} {
	result := make(map[string]interface{})
	for _, group := range st.collectFields(objType, sels, map[string]bool{}) {
		if st.fatal != nil {
			return nil
		}
		field := group.fields[0]
		fieldPath := appendPath(path, ast.PathName(group.key))

		if field.Name == "__typename" {
			result[group.key] = objType.Name
			continue
		}

		def := st.fieldDefinition(objType, field.Name)
		if def == nil {
			st.addError(fmt.Errorf("cannot query field %q on type %q", field.Name, objType.Name), field, fieldPath)
			result[group.key] = nil
			continue
		}

		value := st.executeField(objType, def, group.fields, source, fieldPath)
		if def.Type.NonNull && value == nil {
			return nil
		}
		result[group.key] = value
	}
	return result
}

// fieldDefinition looks up a field, including the introspection entry
// points of the query root.
func (st *executionState) fieldDefinition(objType *ast.Definition, name string) *ast.FieldDefinition {
	if def := objType.Fields.ForName(name); def != nil {
		return def
	}
	if objType != st.e.schema.AST().Query {
		return nil
	}
	switch name {
	case "__schema":
		return &ast.FieldDefinition{Name: name, Type: ast.NonNullNamedType("__Schema", nil)}
	case "__type":
		return &ast.FieldDefinition{Name: name, Type: ast.NamedType("__Type", nil)}
	}
	return nil
}

func (st *executionState) executeField(objType *ast.Definition, def *ast.FieldDefinition, fields []*ast.Field, source interface{}, path ast.Path) interface{} {
	field := fields[0]
	args := map[string]interface{}{}
	if field.Definition != nil {
		args = field.ArgumentMap(st.vars)
	} else if field.Name == "__type" {
		if arg := field.Arguments.ForName("name"); arg != nil {
			if v, err := arg.Value.Value(st.vars); err == nil {
				args["name"] = v
			}
		}
	}

	resolved, err := st.resolveField(objType, def, field, args, source, path)
	if err != nil {
		st.addError(err, field, path)
		return nil
	}
	return st.completeValue(def.Type, fields, resolved, path)
}

func (st *executionState) resolveField(objType *ast.Definition, def *ast.FieldDefinition, field *ast.Field, args map[string]interface{}, source interface{}, path ast.Path) (interface{}, error) {
	if objType == st.e.schema.AST().Query {
		switch field.Name {
		case "__schema":
			if !st.e.introspection {
				return nil, errors.New("introspection is disabled")
			}
			return newIntrospector(st.e.schema.AST()).schemaValue(), nil
		case "__type":
			if !st.e.introspection {
				return nil, errors.New("introspection is disabled")
			}
			name, _ := args["name"].(string)
			return newIntrospector(st.e.schema.AST()).typeByName(name), nil
		}
	}

	if resolver, ok := st.e.resolvers.Fields[objType.Name+"."+def.Name]; ok {
		return resolver(st.ctx, ResolveParams{
			Source:     source,
			Args:       args,
			Field:      field,
			ParentType: objType.Name,
			Path:       pathValues(path),
			Context:    st.rc,
		})
	}
	return defaultResolve(source, def.Name, args)
}

// completeValue completes a resolved value according to its schema type.
func (st *executionState) completeValue(t *ast.Type, fields []*ast.Field, result interface{}, path ast.Path) interface{} {
	if t.NonNull {
		if isNullish(result) {
			st.addError(fmt.Errorf("cannot return null for non-nullable field %s", path.String()), fields[0], path)
			return nil
		}
		inner := *t
		inner.NonNull = false
		return st.completeValue(&inner, fields, result, path)
	}

	if isNullish(result) {
		return nil
	}

	if t.Elem != nil {
		return st.completeListValue(t.Elem, fields, result, path)
	}

	def := st.e.schema.GetType(t.NamedType)
	if def == nil {
		st.addError(fmt.Errorf("unknown type %s", t.NamedType), fields[0], path)
		return nil
	}

	switch def.Kind {
	case ast.Scalar, ast.Enum:
		v, err := serializeLeaf(def, result)
		if err != nil {
			st.addError(err, fields[0], path)
			return nil
		}
		return v
	case ast.Object:
		return st.completeObjectValue(def, fields, result, path)
	case ast.Interface, ast.Union:
		return st.completeAbstractValue(def, fields, result, path)
	default:
		st.addError(fmt.Errorf("cannot complete value of type %s", def.Kind), fields[0], path)
		return nil
	}
}

func (st *executionState) completeListValue(elem *ast.Type, fields []*ast.Field, result interface{}, path ast.Path) interface{} {
	items, ok := result.([]interface{})
	if !ok {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			st.addError(fmt.Errorf("expected list value, got %T", result), fields[0], path)
			return nil
		}
		items = make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	completed := make([]interface{}, len(items))
	for i, item := range items {
		v := st.completeValue(elem, fields, item, appendPath(path, ast.PathIndex(i)))
		if st.fatal != nil {
			return nil
		}
		if elem.NonNull && v == nil {
			return nil
		}
		completed[i] = v
	}
	return completed
}

func (st *executionState) completeObjectValue(def *ast.Definition, fields []*ast.Field, result interface{}, path ast.Path) interface{} {
	sub := make(ast.SelectionSet, 0)
	for _, f := range fields {
		sub = append(sub, f.SelectionSet...)
	}
	obj := st.executeSelectionSet(def, sub, result, path)
	if obj == nil {
		return nil
	}
	return obj
}

// completeAbstractValue resolves the concrete type of a union or interface
// value. A missing resolution rule aborts the whole execution.
func (st *executionState) completeAbstractValue(def *ast.Definition, fields []*ast.Field, result interface{}, path ast.Path) interface{} {
	typeName, err := st.e.types.Resolve(result, def.Name)
	if err != nil {
		st.fatal = err
		return nil
	}
	objType := st.e.schema.GetType(typeName)
	if objType == nil || objType.Kind != ast.Object || !st.e.schema.IsPossibleType(def.Name, typeName) {
		st.addError(fmt.Errorf("abstract type %s must resolve to an object type at runtime, got %q", def.Name, typeName), fields[0], path)
		return nil
	}
	return st.completeObjectValue(objType, fields, result, path)
}

type collectedField struct {
	key    string
	fields []*ast.Field
}

// collectFields flattens fragments and groups fields by response key,
// preserving selection order.
func (st *executionState) collectFields(objType *ast.Definition, sels ast.SelectionSet, visited map[string]bool) []*collectedField {
	var ordered []*collectedField
	index := make(map[string]*collectedField)

	var walk func(ast.SelectionSet)
	walk = func(sels ast.SelectionSet) {
		for _, sel := range sels {
			switch s := sel.(type) {
			case *ast.Field:
				if !st.shouldInclude(s.Directives) {
					continue
				}
				key := s.Alias
				if key == "" {
					key = s.Name
				}
				if cf, ok := index[key]; ok {
					cf.fields = append(cf.fields, s)
					continue
				}
				cf := &collectedField{key: key, fields: []*ast.Field{s}}
				index[key] = cf
				ordered = append(ordered, cf)
			case *ast.InlineFragment:
				if !st.shouldInclude(s.Directives) || !st.fragmentApplies(objType, s.TypeCondition) {
					continue
				}
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				if !st.shouldInclude(s.Directives) || visited[s.Name] {
					continue
				}
				visited[s.Name] = true
				frag := s.Definition
				if frag == nil {
					frag = st.doc.Fragments.ForName(s.Name)
				}
				if frag == nil || !st.fragmentApplies(objType, frag.TypeCondition) {
					continue
				}
				walk(frag.SelectionSet)
			}
		}
	}
	walk(sels)
	return ordered
}

func (st *executionState) fragmentApplies(objType *ast.Definition, condition string) bool {
	if condition == "" || condition == objType.Name {
		return true
	}
	return st.e.schema.IsPossibleType(condition, objType.Name)
}

func (st *executionState) shouldInclude(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil {
		if v, _ := d.ArgumentMap(st.vars)["if"].(bool); v {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if v, _ := d.ArgumentMap(st.vars)["if"].(bool); !v {
			return false
		}
	}
	return true
}

// cacheMark records whether a resolver marked the current result cachable.
type cacheMark struct {
	cachable atomic.Bool
}

type cacheMarkKey struct{}

// MarkCachable marks the result of the current execution as cachable.
// It is a no-op outside an execution.
func MarkCachable(ctx context.Context) {
	if m, ok := ctx.Value(cacheMarkKey{}).(*cacheMark); ok {
		m.cachable.Store(true)
	}
}

func errorResponse(message string) *GraphQLResponse {
	return &GraphQLResponse{Errors: []GraphQLError{{Message: message}}}
}

func asGQLError(err error) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}
	return gqlerror.Errorf("%s", err.Error())
}

func convertErrors(list gqlerror.List) []GraphQLError {
	out := make([]GraphQLError, 0, len(list))
	for _, err := range list {
		if err == nil {
			continue
		}
		gqlErr := GraphQLError{Message: err.Message, Extensions: err.Extensions}
		for _, loc := range err.Locations {
			gqlErr.Locations = append(gqlErr.Locations, GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
		}
		if len(err.Path) > 0 {
			gqlErr.Path = pathValues(err.Path)
		}
		out = append(out, gqlErr)
	}
	return out
}

func appendPath(path ast.Path, elem ast.PathElement) ast.Path {
	next := make(ast.Path, len(path)+1)
	copy(next, path)
	next[len(path)] = elem
	return next
}

func pathValues(path ast.Path) []interface{} {
	out := make([]interface{}, len(path))
	for i, elem := range path {
		switch v := elem.(type) {
		case ast.PathName:
			out[i] = string(v)
		case ast.PathIndex:
			out[i] = int(v)
		default:
			out[i] = v
		}
	}
	return out
}
