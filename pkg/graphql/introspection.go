package graphql

import (
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
)

// introspector builds __Schema and __Type values from the schema AST. Values
// are maps completed against the built-in introspection types, with
// FieldFunc entries for the fields that recurse.
type introspector struct {
	schema *ast.Schema
}

func newIntrospector(schema *ast.Schema) *introspector {
	return &introspector{schema: schema}
}

func (in *introspector) schemaValue() map[string]interface{} {
	return map[string]interface{}{
		"description": in.schema.Description,
		"types": FieldFunc(func(map[string]interface{}) (interface{}, error) {
			names := make([]string, 0, len(in.schema.Types))
			for name := range in.schema.Types {
				names = append(names, name)
			}
			sort.Strings(names)
			types := make([]interface{}, 0, len(names))
			for _, name := range names {
				types = append(types, in.typeValue(in.schema.Types[name]))
			}
			return types, nil
		}),
		"queryType":        in.typeValue(in.schema.Query),
		"mutationType":     in.typeValue(in.schema.Mutation),
		"subscriptionType": in.typeValue(in.schema.Subscription),
		"directives": FieldFunc(func(map[string]interface{}) (interface{}, error) {
			names := make([]string, 0, len(in.schema.Directives))
			for name := range in.schema.Directives {
				names = append(names, name)
			}
			sort.Strings(names)
			out := make([]interface{}, 0, len(names))
			for _, name := range names {
				out = append(out, in.directiveValue(in.schema.Directives[name]))
			}
			return out, nil
		}),
	}
}

func (in *introspector) typeByName(name string) interface{} {
	def := in.schema.Types[name]
	if def == nil {
		return nil
	}
	return in.typeValue(def)
}

func (in *introspector) typeValue(def *ast.Definition) interface{} {
	if def == nil {
		return nil
	}
	v := map[string]interface{}{
		"kind":        string(def.Kind),
		"name":        def.Name,
		"description": nilIfEmpty(def.Description),
	}

	switch def.Kind {
	case ast.Object, ast.Interface:
		v["fields"] = FieldFunc(func(args map[string]interface{}) (interface{}, error) {
			includeDeprecated, _ := args["includeDeprecated"].(bool)
			out := make([]interface{}, 0, len(def.Fields))
			for _, f := range def.Fields {
				if isIntrospectionName(f.Name) {
					continue
				}
				if _, deprecated := deprecation(f.Directives); deprecated && !includeDeprecated {
					continue
				}
				out = append(out, in.fieldValue(f))
			}
			return out, nil
		})
		v["interfaces"] = FieldFunc(func(map[string]interface{}) (interface{}, error) {
			out := make([]interface{}, 0, len(def.Interfaces))
			for _, name := range def.Interfaces {
				out = append(out, in.typeByName(name))
			}
			return out, nil
		})
	case ast.InputObject:
		v["inputFields"] = FieldFunc(func(map[string]interface{}) (interface{}, error) {
			out := make([]interface{}, 0, len(def.Fields))
			for _, f := range def.Fields {
				out = append(out, in.inputValue(f.Name, f.Description, f.Type, f.DefaultValue, f.Directives))
			}
			return out, nil
		})
	case ast.Enum:
		v["enumValues"] = FieldFunc(func(args map[string]interface{}) (interface{}, error) {
			includeDeprecated, _ := args["includeDeprecated"].(bool)
			out := make([]interface{}, 0, len(def.EnumValues))
			for _, ev := range def.EnumValues {
				reason, deprecated := deprecation(ev.Directives)
				if deprecated && !includeDeprecated {
					continue
				}
				out = append(out, map[string]interface{}{
					"name":              ev.Name,
					"description":       nilIfEmpty(ev.Description),
					"isDeprecated":      deprecated,
					"deprecationReason": reason,
				})
			}
			return out, nil
		})
	}

	if def.Kind == ast.Interface || def.Kind == ast.Union {
		v["possibleTypes"] = FieldFunc(func(map[string]interface{}) (interface{}, error) {
			possible := in.schema.GetPossibleTypes(def)
			names := make([]string, 0, len(possible))
			for _, p := range possible {
				names = append(names, p.Name)
			}
			sort.Strings(names)
			out := make([]interface{}, 0, len(names))
			for _, name := range names {
				out = append(out, in.typeByName(name))
			}
			return out, nil
		})
	}
	return v
}

func (in *introspector) fieldValue(f *ast.FieldDefinition) map[string]interface{} {
	reason, deprecated := deprecation(f.Directives)
	return map[string]interface{}{
		"name":        f.Name,
		"description": nilIfEmpty(f.Description),
		"args": FieldFunc(func(map[string]interface{}) (interface{}, error) {
			return in.argsValue(f.Arguments), nil
		}),
		"type":              in.typeRefValue(f.Type),
		"isDeprecated":      deprecated,
		"deprecationReason": reason,
	}
}

func (in *introspector) argsValue(args ast.ArgumentDefinitionList) []interface{} {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		out = append(out, in.inputValue(a.Name, a.Description, a.Type, a.DefaultValue, a.Directives))
	}
	return out
}

func (in *introspector) inputValue(name, description string, t *ast.Type, defaultValue *ast.Value, directives ast.DirectiveList) map[string]interface{} {
	var def interface{}
	if defaultValue != nil {
		def = defaultValue.String()
	}
	reason, deprecated := deprecation(directives)
	return map[string]interface{}{
		"name":              name,
		"description":       nilIfEmpty(description),
		"type":              in.typeRefValue(t),
		"defaultValue":      def,
		"isDeprecated":      deprecated,
		"deprecationReason": reason,
	}
}

// typeRefValue wraps named types in NON_NULL and LIST layers.
func (in *introspector) typeRefValue(t *ast.Type) interface{} {
	if t == nil {
		return nil
	}
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return map[string]interface{}{
			"kind":   "NON_NULL",
			"name":   nil,
			"ofType": in.typeRefValue(&inner),
		}
	}
	if t.Elem != nil {
		return map[string]interface{}{
			"kind":   "LIST",
			"name":   nil,
			"ofType": in.typeRefValue(t.Elem),
		}
	}
	return in.typeByName(t.NamedType)
}

func (in *introspector) directiveValue(d *ast.DirectiveDefinition) map[string]interface{} {
	locations := make([]interface{}, 0, len(d.Locations))
	for _, loc := range d.Locations {
		locations = append(locations, string(loc))
	}
	return map[string]interface{}{
		"name":         d.Name,
		"description":  nilIfEmpty(d.Description),
		"locations":    locations,
		"args":         in.argsValue(d.Arguments),
		"isRepeatable": d.IsRepeatable,
	}
}

// deprecation returns the deprecation reason, if any.
func deprecation(directives ast.DirectiveList) (interface{}, bool) {
	d := directives.ForName("deprecated")
	if d == nil {
		return nil, false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "No longer supported", true
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
