package graphql

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/vektah/gqlparser/v2/ast"
)

const testSchema = `
type Query {
	popEval(id: ID!): PopEvalTimeSeriesResponse
	segments: [Segment!]!
	location(id: ID!): Location
	locations: [Location!]!
	counter: Int!
	strict: Location!
}

type Mutation {
	renameLocation(id: ID!, name: String!): Location
}

type Subscription {
	locationMutation(filters: SubscriptionFilters): [Location!]
}

input SubscriptionFilters {
	expr: String
}

type Location {
	id: ID!
	name: String!
	kind: LocationKind
	tags: [String!]
	parent: Location
}

enum LocationKind {
	SITE
	METER
}

type JobProcessingResponse {
	jobId: String
	jobBatchUUID: String
	status: String
}

type PopEvalTimeSeries {
	points: [Float!]!
	label: String
}

union PopEvalTimeSeriesResponse = PopEvalTimeSeries | JobProcessingResponse

interface Segment {
	id: ID!
}

type DataSeriesSegment implements Segment {
	id: ID!
	values: [Float!]
}

type LineEqSegment implements Segment {
	id: ID!
	slope: Float
	intercept: Float
}
`

func mustParseSchema(t *testing.T, sdl string) *Schema {
	t.Helper()
	schema, err := ParseSchema(sdl)
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	return schema
}

func TestParseSchema(t *testing.T) {
	schema := mustParseSchema(t, testSchema)

	if schema.AST() == nil {
		t.Error("expected AST to be non-nil")
	}

	if schema.Source() != testSchema {
		t.Error("expected source to match input")
	}
}

func TestParseSchemaFile(t *testing.T) {
	tmpDir := t.TempDir()
	schemaPath := filepath.Join(tmpDir, "schema.graphql")
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0644); err != nil {
		t.Fatalf("failed to write schema file: %v", err)
	}

	schema, err := ParseSchemaFile(schemaPath)
	if err != nil {
		t.Fatalf("failed to parse schema file: %v", err)
	}

	if schema.GetType("Location") == nil {
		t.Error("expected Location type")
	}
}

func TestParseSchemaFile_NotFound(t *testing.T) {
	_, err := ParseSchemaFile("/nonexistent/schema.graphql")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestParseSchema_Invalid(t *testing.T) {
	_, err := ParseSchema("type Query { broken(: }")
	if err == nil {
		t.Error("expected error for invalid schema")
	}
}

func TestSchema_GetType(t *testing.T) {
	schema := mustParseSchema(t, testSchema)

	tests := []struct {
		typeName string
		wantKind ast.DefinitionKind
		wantNil  bool
	}{
		{"Location", ast.Object, false},
		{"LocationKind", ast.Enum, false},
		{"SubscriptionFilters", ast.InputObject, false},
		{"PopEvalTimeSeriesResponse", ast.Union, false},
		{"Segment", ast.Interface, false},
		{"Nonexistent", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			def := schema.GetType(tt.typeName)
			if tt.wantNil {
				if def != nil {
					t.Errorf("expected nil for %s", tt.typeName)
				}
				return
			}
			if def == nil {
				t.Fatalf("expected type %s", tt.typeName)
			}
			if def.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, def.Kind)
			}
		})
	}
}

func TestSchema_HasMethods(t *testing.T) {
	schema := mustParseSchema(t, testSchema)

	if !schema.HasQuery() {
		t.Error("expected HasQuery to be true")
	}
	if !schema.HasMutation() {
		t.Error("expected HasMutation to be true")
	}
	if !schema.HasSubscription() {
		t.Error("expected HasSubscription to be true")
	}
}

func TestSchema_HasMethods_Minimal(t *testing.T) {
	schema := mustParseSchema(t, `type Query { hello: String }`)

	if !schema.HasQuery() {
		t.Error("expected HasQuery to be true")
	}
	if schema.HasMutation() {
		t.Error("expected HasMutation to be false")
	}
	if schema.HasSubscription() {
		t.Error("expected HasSubscription to be false")
	}
}

func TestSchema_Validate(t *testing.T) {
	schema := mustParseSchema(t, testSchema)
	if err := schema.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestSchema_ListTypes(t *testing.T) {
	schema := mustParseSchema(t, testSchema)

	enums := schema.ListTypes(ast.Enum)
	found := false
	for _, name := range enums {
		if name == "LocationKind" {
			found = true
		}
		if def := schema.GetType(name); def.Kind != ast.Enum {
			t.Errorf("expected %s to be an enum", name)
		}
	}
	if !found {
		t.Error("expected LocationKind in enum list")
	}
}

func TestSchema_AbstractTypes(t *testing.T) {
	schema := mustParseSchema(t, testSchema)

	got := schema.AbstractTypes()
	want := []string{"PopEvalTimeSeriesResponse", "Segment"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSchema_PossibleTypes(t *testing.T) {
	schema := mustParseSchema(t, testSchema)

	got := schema.PossibleTypes("Segment")
	want := []string{"DataSeriesSegment", "LineEqSegment"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if !schema.IsPossibleType("PopEvalTimeSeriesResponse", "JobProcessingResponse") {
		t.Error("expected JobProcessingResponse to be a member of PopEvalTimeSeriesResponse")
	}
	if schema.IsPossibleType("PopEvalTimeSeriesResponse", "Location") {
		t.Error("expected Location not to be a member of PopEvalTimeSeriesResponse")
	}
	if schema.PossibleTypes("Nonexistent") != nil {
		t.Error("expected nil for unknown type")
	}
}

func TestFieldPath(t *testing.T) {
	tests := []struct {
		input    string
		wantType string
		wantName string
	}{
		{"Query.location", "Query", "location"},
		{"Subscription.locationMutation", "Subscription", "locationMutation"},
		{"counter", "", "counter"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			fp := ParseFieldPath(tt.input)
			if fp.TypeName != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, fp.TypeName)
			}
			if fp.FieldName != tt.wantName {
				t.Errorf("expected field %q, got %q", tt.wantName, fp.FieldName)
			}
			if tt.wantType != "" && fp.String() != tt.input {
				t.Errorf("expected String() %q, got %q", tt.input, fp.String())
			}
		})
	}
}
