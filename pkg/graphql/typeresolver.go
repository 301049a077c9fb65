package graphql

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// JobProcessingResponse is the shared variant returned when a resolver
// deferred the real computation to an asynchronous job.
const JobProcessingResponse = "JobProcessingResponse"

// Segment variants.
const (
	SegmentTimeSeries = "timeSeries"

	DataSeriesSegment = "DataSeriesSegment"
	LineEqSegment     = "LineEqSegment"
)

// UnresolvedAbstractTypeError is returned when an abstract type has no
// resolution rule. It signals a schema/resolver mismatch and is never
// recovered from by picking a default variant.
type UnresolvedAbstractTypeError struct {
	TypeName string
}

func (e *UnresolvedAbstractTypeError) Error() string {
	return "unhandled union or interface " + e.TypeName
}

// Typed may be implemented by resolver values that know their concrete type.
type Typed interface {
	GraphQLType() string
}

// TypeRule picks the concrete variant for one abstract type.
type TypeRule func(value interface{}) string

// TypeResolver maps declared abstract type names to resolution rules.
type TypeResolver struct {
	rules map[string]TypeRule
}

// jobFamilies lists the abstract types whose values are either a finished
// payload or a job marker, with the name of the finished variant.
var jobFamilies = map[string]string{
	"PopEvalTimeSeriesResponse":            "PopEvalTimeSeries",
	"PdpEvalTimeSeriesResponse":            "PdpEvalTimeSeries",
	"CollectionsEvalTimeSeriesResponse":    "CollectionsEvalTimeSeries",
	"CapacityCollectionTimeseriesResponse": "CapacityCollectionTimeSeries",
	"ScenarioTimeSeriesResponse":           "ScenarioTimeSeries",
	"AnalyticsResultResponse":              "AnalyticsPayload",
}

// NewTypeResolver returns a resolver with the default dispatch table.
func NewTypeResolver() *TypeResolver {
	r := &TypeResolver{rules: make(map[string]TypeRule)}
	for family, direct := range jobFamilies {
		r.Register(family, JobOrDirect(direct))
	}
	r.Register("Segment", segmentRule)
	return r
}

// Register adds or replaces the rule for an abstract type.
func (r *TypeResolver) Register(abstractType string, rule TypeRule) {
	r.rules[abstractType] = rule
}

// Handles reports whether a rule exists for abstractType.
func (r *TypeResolver) Handles(abstractType string) bool {
	_, ok := r.rules[abstractType]
	return ok
}

// Resolve returns the concrete type name for value declared as abstractType.
func (r *TypeResolver) Resolve(value interface{}, abstractType string) (string, error) {
	rule, ok := r.rules[abstractType]
	if !ok {
		return "", &UnresolvedAbstractTypeError{TypeName: abstractType}
	}
	if t, ok := value.(Typed); ok {
		if name := t.GraphQLType(); name != "" {
			return name, nil
		}
	}
	return rule(value), nil
}

// ValidateSchema checks that every abstract type in the schema has a rule
// and that every variant a rule can produce is a possible type.
func (r *TypeResolver) ValidateSchema(s *Schema) error {
	var missing []string
	for _, name := range s.AbstractTypes() {
		if !r.Handles(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no type resolution rule for %s: %w",
			strings.Join(missing, ", "), &UnresolvedAbstractTypeError{TypeName: missing[0]})
	}

	for family, direct := range jobFamilies {
		if !s.IsAbstractType(family) {
			continue
		}
		for _, variant := range []string{JobProcessingResponse, direct} {
			if !s.IsPossibleType(family, variant) {
				return fmt.Errorf("type %s is not a member of %s", variant, family)
			}
		}
	}
	return nil
}

// JobOrDirect returns a rule classifying values that carry a job identifier
// as JobProcessingResponse and everything else as direct.
func JobOrDirect(direct string) TypeRule {
	return func(value interface{}) string {
		if IsJobProcessing(value) {
			return JobProcessingResponse
		}
		return direct
	}
}

// IsJobProcessing reports whether value carries a job id or job batch id.
func IsJobProcessing(value interface{}) bool {
	for _, key := range []string{"jobId", "jobBatchUUID", "jobBatchUuid"} {
		if v, ok := property(value, key); ok && truthy(v) {
			return true
		}
	}
	return false
}

func segmentRule(value interface{}) string {
	for _, key := range []string{"segmentType", "_segmentType"} {
		if v, ok := property(value, key); ok {
			if s, ok := v.(string); ok && s == SegmentTimeSeries {
				return DataSeriesSegment
			}
		}
	}
	return LineEqSegment
}

// truthy mirrors the "present and non-empty" test applied to job ids.
func truthy(v interface{}) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return truthy(rv.Elem().Interface())
	default:
		return true
	}
}
