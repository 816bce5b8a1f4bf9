package services

import (
	"context"
	"testing"

	"consenthub/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t)
	env.Service.Metrics = NewMetrics(reg)
	ctx := context.Background()

	r := env.submit(t)
	_, err := env.Service.UpdateStatus(ctx, r.RequestID, StatusUpdate{Status: models.DSARStatusInProgress}, testActor)
	require.NoError(t, err)
	_, err = env.Service.UpdateStatus(ctx, r.RequestID, StatusUpdate{Status: models.DSARStatusInProgress}, testActor)
	require.NoError(t, err)
	_, err = env.Service.UpdateStatus(ctx, r.RequestID, StatusUpdate{Status: models.DSARStatusCompleted}, testActor)
	require.NoError(t, err)

	m := env.Service.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsCreated.WithLabelValues("data_erasure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("pending", "in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("in_progress", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ProcessingDays))

	m.SetOverdue(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.OverdueRequests))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCreated("data_access")
		m.RecordTransition("pending", "completed")
		m.RecordCompletion(3)
		m.SetOverdue(1)
		m.RecordResponsePackage("json")
		m.RecordNotification("SYSTEM")
	})
}
