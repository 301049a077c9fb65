package graphql

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// FieldFunc is a lazily computed field value. A map or struct value may hold
// a FieldFunc to compute a field from its arguments on demand.
type FieldFunc func(args map[string]interface{}) (interface{}, error)

// defaultResolve looks up a field on a map or struct source.
func defaultResolve(source interface{}, name string, args map[string]interface{}) (interface{}, error) {
	v, ok := property(source, name)
	if !ok {
		return nil, nil
	}
	if fn, ok := v.(FieldFunc); ok {
		return fn(args)
	}
	return v, nil
}

// property returns the named property of a map, struct or pointer to either.
// Struct fields match by json tag first, then by name.
func property(source interface{}, name string) (interface{}, bool) {
	switch s := source.(type) {
	case nil:
		return nil, false
	case map[string]interface{}:
		v, ok := s[name]
		return v, ok
	case json.RawMessage:
		var m map[string]interface{}
		if err := json.Unmarshal(s, &m); err != nil {
			return nil, false
		}
		v, ok := m[name]
		return v, ok
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		return structField(rv, name)
	}
	return nil, false
}

func structField(rv reflect.Value, name string) (interface{}, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == "-" {
			continue
		}
		if tag == name {
			return rv.Field(i).Interface(), true
		}
	}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.IsExported() && strings.EqualFold(f.Name, name) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// isNullish reports whether v is nil or a typed nil.
func isNullish(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// serializeLeaf coerces a resolved value to its scalar or enum output form.
func serializeLeaf(def *ast.Definition, v interface{}) (interface{}, error) {
	v = deref(v)
	if def.Kind == ast.Enum {
		s, ok := v.(string)
		if !ok {
			if st, ok := v.(fmt.Stringer); ok {
				s = st.String()
			} else {
				return nil, fmt.Errorf("enum %s cannot represent non-string value %v", def.Name, v)
			}
		}
		if def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf("enum %s cannot represent value %q", def.Name, s)
		}
		return s, nil
	}

	switch def.Name {
	case "Int":
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return nil, fmt.Errorf("Int cannot represent value %v", v)
		}
		return int64(f), nil
	case "Float":
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("Float cannot represent value %v", v)
		}
		return f, nil
	case "String":
		switch s := v.(type) {
		case string:
			return s, nil
		case bool:
			return strconv.FormatBool(s), nil
		case fmt.Stringer:
			return s.String(), nil
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("String cannot represent value %v", v)
	case "Boolean":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("Boolean cannot represent value %v", v)
		}
		return b, nil
	case "ID":
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10), nil
		}
		return nil, fmt.Errorf("ID cannot represent value %v", v)
	}
	// Custom scalars pass through unchanged.
	return v, nil
}

func deref(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool, string:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
