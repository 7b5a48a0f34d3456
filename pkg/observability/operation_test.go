package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
)

func TestOperation_End(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	m := NewMetrics(prometheus.NewRegistry())

	_, op := StartOperation(context.Background(), m, logger, "orgs.KickUser")
	op.End(nil)

	_, op = StartOperation(context.Background(), m, logger, "orgs.KickUser")
	op.End(apperrors.Invalid("orgs.KickUser", "owner cannot be kicked"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("orgs.KickUser", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("orgs.KickUser", "invalid_operation")))
	assert.Empty(t, buf.String(), "classified errors are not logged")

	_, op = StartOperation(context.Background(), m, logger, "orgs.KickUser")
	op.End(errors.New("connection reset"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("orgs.KickUser", "unknown")))
	assert.Contains(t, buf.String(), "connection reset")
	assert.Contains(t, buf.String(), `"operation":"orgs.KickUser"`)
}

func TestOperation_NilMetricsAndLogger(t *testing.T) {
	_, op := StartOperation(context.Background(), nil, nil, "noop")
	assert.NotPanics(t, func() { op.End(errors.New("x")) })
}
