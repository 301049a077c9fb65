package graphql

import (
	"errors"
	"testing"
)

type jobStatus struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type typedPayload struct{}

func (typedPayload) GraphQLType() string { return "PdpEvalTimeSeries" }

func TestTypeResolver_Resolve(t *testing.T) {
	r := NewTypeResolver()

	tests := []struct {
		name     string
		value    interface{}
		declared string
		want     string
	}{
		{"job id", map[string]interface{}{"jobId": "abc"}, "PopEvalTimeSeriesResponse", JobProcessingResponse},
		{"points", map[string]interface{}{"points": []interface{}{1.0, 2.0}}, "PopEvalTimeSeriesResponse", "PopEvalTimeSeries"},
		{"job batch uuid", map[string]interface{}{"jobBatchUUID": "b-1"}, "PdpEvalTimeSeriesResponse", JobProcessingResponse},
		{"job batch uuid lower", map[string]interface{}{"jobBatchUuid": "b-1"}, "ScenarioTimeSeriesResponse", JobProcessingResponse},
		{"empty job id", map[string]interface{}{"jobId": ""}, "CollectionsEvalTimeSeriesResponse", "CollectionsEvalTimeSeries"},
		{"capacity", map[string]interface{}{}, "CapacityCollectionTimeseriesResponse", "CapacityCollectionTimeSeries"},
		{"scenario", map[string]interface{}{"series": []interface{}{}}, "ScenarioTimeSeriesResponse", "ScenarioTimeSeries"},
		{"analytics", map[string]interface{}{"rows": 3}, "AnalyticsResultResponse", "AnalyticsPayload"},
		{"analytics job", map[string]interface{}{"jobId": "j"}, "AnalyticsResultResponse", JobProcessingResponse},
		{"struct job", jobStatus{JobID: "j-1"}, "PdpEvalTimeSeriesResponse", JobProcessingResponse},
		{"struct pointer job", &jobStatus{JobID: "j-1"}, "PdpEvalTimeSeriesResponse", JobProcessingResponse},
		{"struct without job", jobStatus{Status: "done"}, "PdpEvalTimeSeriesResponse", "PdpEvalTimeSeries"},
		{"typed value", typedPayload{}, "PdpEvalTimeSeriesResponse", "PdpEvalTimeSeries"},
		{"segment time series", map[string]interface{}{"segmentType": "timeSeries"}, "Segment", DataSeriesSegment},
		{"segment private tag", map[string]interface{}{"_segmentType": "timeSeries"}, "Segment", DataSeriesSegment},
		{"segment line eq", map[string]interface{}{"segmentType": "lineEq"}, "Segment", LineEqSegment},
		{"segment untagged", map[string]interface{}{}, "Segment", LineEqSegment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.value, tt.declared)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTypeResolver_UnknownType(t *testing.T) {
	r := NewTypeResolver()

	_, err := r.Resolve(map[string]interface{}{"jobId": "abc"}, "MysteryResponse")
	var unresolved *UnresolvedAbstractTypeError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedAbstractTypeError, got %v", err)
	}
	if unresolved.TypeName != "MysteryResponse" {
		t.Errorf("expected type name MysteryResponse, got %s", unresolved.TypeName)
	}
}

func TestTypeResolver_Register(t *testing.T) {
	r := NewTypeResolver()
	r.Register("SearchResult", func(interface{}) string { return "Location" })

	if !r.Handles("SearchResult") {
		t.Fatal("expected SearchResult to be handled")
	}
	got, err := r.Resolve(nil, "SearchResult")
	if err != nil || got != "Location" {
		t.Errorf("expected Location, got %q (%v)", got, err)
	}
}

func TestTypeResolver_ValidateSchema(t *testing.T) {
	t.Run("all abstract types handled", func(t *testing.T) {
		schema := mustParseSchema(t, testSchema)
		if err := NewTypeResolver().ValidateSchema(schema); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unhandled union", func(t *testing.T) {
		schema := mustParseSchema(t, testSchema+`
union SearchResult = Location | PopEvalTimeSeries
`)
		err := NewTypeResolver().ValidateSchema(schema)
		var unresolved *UnresolvedAbstractTypeError
		if !errors.As(err, &unresolved) {
			t.Fatalf("expected UnresolvedAbstractTypeError, got %v", err)
		}
		if unresolved.TypeName != "SearchResult" {
			t.Errorf("expected SearchResult, got %s", unresolved.TypeName)
		}
	})

	t.Run("family missing job variant", func(t *testing.T) {
		schema := mustParseSchema(t, `
type Query { eval: PdpEvalTimeSeriesResponse }
type PdpEvalTimeSeries { points: [Float!] }
type Other { id: ID }
union PdpEvalTimeSeriesResponse = PdpEvalTimeSeries | Other
`)
		if err := NewTypeResolver().ValidateSchema(schema); err == nil {
			t.Error("expected error for family without JobProcessingResponse")
		}
	})
}

func TestIsJobProcessing(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  bool
	}{
		{"nil", nil, false},
		{"map with job", map[string]interface{}{"jobId": "1"}, true},
		{"map with nil job", map[string]interface{}{"jobId": nil}, false},
		{"numeric job", map[string]interface{}{"jobId": 42}, true},
		{"string value", "jobId", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsJobProcessing(tt.value); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
