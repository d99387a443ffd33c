package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

func decision(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Name:          "sampler-test",
	}).Decision
}

func TestParseSampler(t *testing.T) {
	tests := []struct {
		name    string
		sampler string
		ratio   float64
		want    sdktrace.SamplingDecision
	}{
		{"always on", "always_on", 0, sdktrace.RecordAndSample},
		{"always off", "always_off", 1, sdktrace.Drop},
		{"ratio clamped high", "traceidratio", 2, sdktrace.RecordAndSample},
		{"ratio clamped low", "traceidratio", -1, sdktrace.Drop},
		{"parent based zero", "parentbased", 0, sdktrace.Drop},
		{"unknown name", "whatever", 1, sdktrace.RecordAndSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decision(parseSampler(tt.sampler, tt.ratio)); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), domain.TracingConfig{}, "test")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("expected no-op span when tracing is disabled")
	}
}

func TestInitWithoutExporter(t *testing.T) {
	cfg := domain.TracingConfig{Enabled: true, ServiceName: "riskengine-test", Sampler: "always_on", SampleRatio: 1}
	shutdown, err := Init(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer shutdown(context.Background())

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("expected sampled span")
	}
}
