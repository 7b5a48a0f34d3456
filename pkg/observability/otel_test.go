package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

func TestNewResource(t *testing.T) {
	res, err := NewResource(context.Background(), OTelConfig{
		ServiceName:    "tenancy",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		NodeID:         7,
		DatabaseDriver: "postgres",
		CacheBackend:   "redis",
	})
	require.NoError(t, err)

	attrs := res.Set()
	v, ok := attrs.Value(AttrNodeID)
	require.True(t, ok)
	assert.Equal(t, int64(7), v.AsInt64())

	v, ok = attrs.Value(semconv.ServiceInstanceIDKey)
	require.True(t, ok)
	assert.Equal(t, "tenancy-7", v.AsString())

	v, ok = attrs.Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	assert.Equal(t, "staging", v.AsString())

	v, ok = attrs.Value(AttrDatabaseDriver)
	require.True(t, ok)
	assert.Equal(t, "postgres", v.AsString())

	v, ok = attrs.Value(AttrCacheBackend)
	require.True(t, ok)
	assert.Equal(t, "redis", v.AsString())
}

func TestNewResource_OmitsUnsetBackends(t *testing.T) {
	res, err := NewResource(context.Background(), OTelConfig{})
	require.NoError(t, err)

	v, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "tenancy", v.AsString())

	_, ok = res.Set().Value(AttrCacheBackend)
	assert.False(t, ok)
	_, ok = res.Set().Value(semconv.DeploymentEnvironmentKey)
	assert.False(t, ok)
}

func TestSampler(t *testing.T) {
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "orgs.JoinOrganization",
	}

	tests := []struct {
		name  string
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{name: "always", ratio: 1, want: sdktrace.RecordAndSample},
		{name: "above one", ratio: 3, want: sdktrace.RecordAndSample},
		{name: "never", ratio: 0, want: sdktrace.Drop},
		{name: "negative", ratio: -1, want: sdktrace.Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sampler(OTelConfig{SampleRatio: tt.ratio}).ShouldSample(params)
			assert.Equal(t, tt.want, got.Decision)
		})
	}

	t.Run("ratio", func(t *testing.T) {
		s := Sampler(OTelConfig{SampleRatio: 0.5})
		assert.Contains(t, s.Description(), "ParentBased")
		assert.Contains(t, s.Description(), "TraceIDRatioBased{0.5}")
	})
}

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{}, NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NewNopLogger()))
}
