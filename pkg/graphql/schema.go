package graphql

import (
	"fmt"
	"os"
	"sort"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Schema represents a parsed GraphQL schema with convenient accessors.
type Schema struct {
	ast    *ast.Schema
	source string
}

// ParseSchema parses a GraphQL SDL string and returns a Schema.
func ParseSchema(sdl string) (*Schema, error) {
	return parseSchemaSource(&ast.Source{Name: "schema", Input: sdl})
}

// ParseSchemaFile parses a GraphQL schema from a file and returns a Schema.
func ParseSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return parseSchemaSource(&ast.Source{Name: path, Input: string(data)})
}

func parseSchemaSource(source *ast.Source) (*Schema, error) {
	schema, err := gqlparser.LoadSchema(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL schema from %s: %w", source.Name, err)
	}
	return &Schema{ast: schema, source: source.Input}, nil
}

// AST returns the underlying gqlparser AST schema.
func (s *Schema) AST() *ast.Schema {
	return s.ast
}

// Source returns the original SDL source string.
func (s *Schema) Source() string {
	return s.source
}

// GetType returns a type definition by name, or nil if not found.
func (s *Schema) GetType(name string) *ast.Definition {
	return s.ast.Types[name]
}

// HasQuery returns true if the schema has a query type with fields.
func (s *Schema) HasQuery() bool {
	return s.ast.Query != nil && len(s.ast.Query.Fields) > 0
}

// HasMutation returns true if the schema has a mutation type with fields.
func (s *Schema) HasMutation() bool {
	return s.ast.Mutation != nil && len(s.ast.Mutation.Fields) > 0
}

// HasSubscription returns true if the schema has a subscription type with fields.
func (s *Schema) HasSubscription() bool {
	return s.ast.Subscription != nil && len(s.ast.Subscription.Fields) > 0
}

// Validate performs semantic checks beyond what gqlparser does while parsing.
func (s *Schema) Validate() error {
	if !s.HasQuery() {
		return fmt.Errorf("schema must define a Query type with at least one field")
	}
	return nil
}

// ListTypes returns all type names in sorted order, optionally filtering by kind.
// If kinds is empty, all types are returned.
func (s *Schema) ListTypes(kinds ...ast.DefinitionKind) []string {
	kindSet := make(map[ast.DefinitionKind]bool)
	for _, k := range kinds {
		kindSet[k] = true
	}

	names := make([]string, 0)
	for name, def := range s.ast.Types {
		if len(kindSet) == 0 || kindSet[def.Kind] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AbstractTypes returns the names of all user-defined unions and interfaces,
// sorted. Built-in introspection types are excluded.
func (s *Schema) AbstractTypes() []string {
	var names []string
	for _, name := range s.ListTypes(ast.Union, ast.Interface) {
		if def := s.ast.Types[name]; def.BuiltIn || isIntrospectionName(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// IsAbstractType reports whether name is a union or an interface.
func (s *Schema) IsAbstractType(name string) bool {
	def := s.GetType(name)
	return def != nil && (def.Kind == ast.Union || def.Kind == ast.Interface)
}

// PossibleTypes returns the sorted concrete object types of a union or interface.
func (s *Schema) PossibleTypes(name string) []string {
	def := s.GetType(name)
	if def == nil {
		return nil
	}
	var names []string
	for _, t := range s.ast.GetPossibleTypes(def) {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// IsPossibleType reports whether object type objectName can be a value of
// the abstract type abstractName.
func (s *Schema) IsPossibleType(abstractName, objectName string) bool {
	def := s.GetType(abstractName)
	if def == nil {
		return false
	}
	for _, t := range s.ast.GetPossibleTypes(def) {
		if t.Name == objectName {
			return true
		}
	}
	return false
}

// operationRoot returns the root object type of an operation kind.
func (s *Schema) operationRoot(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Mutation:
		return s.ast.Mutation
	case ast.Subscription:
		return s.ast.Subscription
	default:
		return s.ast.Query
	}
}

// isIntrospectionName returns true if the name is a built-in introspection name.
func isIntrospectionName(name string) bool {
	return len(name) >= 2 && name[0] == '_' && name[1] == '_'
}
