package graphql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/getmockd/gqlgateway/pkg/reqctx"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
)

// Subscription is a running subscription. Each source event produces one
// response on Responses; the channel is closed when the event source ends,
// fails, or the subscription is closed.
type Subscription struct {
	responses chan *GraphQLResponse
	iter      EventIterator
	cancel    context.CancelFunc
	done      chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Responses returns the response channel.
func (s *Subscription) Responses() <-chan *GraphQLResponse {
	return s.responses
}

// Close stops the subscription and releases its event source. It is safe to
// call more than once; later calls return the first result.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.iter.Close()
		<-s.done
	})
	return s.closeErr
}

// Subscribe starts a subscription operation. The root field's SubscribeFunc
// creates the event source; every event becomes the root value for executing
// the operation's selection set.
func (e *Executor) Subscribe(ctx context.Context, desc *ExecutionDescriptor) (*Subscription, error) {
	op := GetOperation(desc.Document, desc.OperationName)
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", desc.OperationName)
	}
	if op.Operation != ast.Subscription {
		return nil, ErrNotSubscription
	}
	root := e.schema.AST().Subscription
	if root == nil {
		return nil, errors.New("schema does not support subscription operations")
	}

	vars, err := validator.VariableValues(e.schema.AST(), op, desc.Variables)
	if err != nil {
		return nil, asGQLError(err)
	}

	st := e.newState(ctx, desc.Document, vars, desc.Context)
	fields := st.collectFields(root, op.SelectionSet, map[string]bool{})
	if len(fields) != 1 {
		return nil, gqlerror.Errorf("subscription %s must select exactly one top level field", op.Name)
	}
	field := fields[0].fields[0]

	subscribe, ok := e.resolvers.Subscriptions[root.Name+"."+field.Name]
	if !ok {
		return nil, fmt.Errorf("no event source registered for %s.%s", root.Name, field.Name)
	}

	args := map[string]interface{}{}
	if field.Definition != nil {
		args = field.ArgumentMap(vars)
	}

	ctx = reqctx.WithContext(ctx, desc.Context)
	ctx, cancel := context.WithCancel(ctx)
	iter, err := subscribe(ctx, ResolveParams{
		Args:       args,
		Field:      field,
		ParentType: root.Name,
		Path:       []interface{}{fields[0].key},
		Context:    desc.Context,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		responses: make(chan *GraphQLResponse),
		iter:      iter,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go e.pump(ctx, sub, desc, root, op.SelectionSet, vars)
	return sub, nil
}

func (e *Executor) pump(ctx context.Context, sub *Subscription, desc *ExecutionDescriptor, root *ast.Definition, sels ast.SelectionSet, vars map[string]interface{}) {
	defer close(sub.done)
	defer close(sub.responses)

	for {
		event, err := sub.iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			e.send(ctx, sub, errorResponse(err.Error()))
			return
		}

		st := e.newState(ctx, desc.Document, vars, desc.Context)
		data := st.executeSelectionSet(root, sels, event, ast.Path{})
		var resp *GraphQLResponse
		if st.fatal != nil {
			resp = errorResponse(ErrInternal)
		} else {
			resp = &GraphQLResponse{Errors: st.errors, Executed: true}
			if data != nil {
				resp.Data = data
			}
		}
		if !e.send(ctx, sub, resp) || st.fatal != nil {
			return
		}
	}
}

func (e *Executor) send(ctx context.Context, sub *Subscription, resp *GraphQLResponse) bool {
	select {
	case sub.responses <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
