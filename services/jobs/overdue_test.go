package jobs

import (
	"context"
	"testing"
	"time"

	"consenthub/models"
	"consenthub/services"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSweeper(t *testing.T) (*OverdueSweeper, *services.MemoryBus, *time.Time) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:jobs_"+uuid.New().String()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.DSARRequest{}, &models.AuditLog{}, &models.Notification{}))

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	bus := services.NewMemoryBus(32)
	dsar := services.NewDSARService(db, bus, services.NewMetrics(prometheus.NewRegistry()))
	dsar.Now = func() time.Time { return now }

	return NewOverdueSweeper(dsar), bus, &now
}

func submit(t *testing.T, s *services.DSARService) *models.DSARRequest {
	t.Helper()
	r, err := s.Submit(context.Background(), services.SubmitRequest{
		RequesterEmail: "alice@example.com",
		RequestType:    "data_access",
		Subject:        "Copy of my data",
		Description:    "Send me everything you hold.",
	}, services.SystemActor)
	require.NoError(t, err)
	return r
}

func overdueEvents(bus *services.MemoryBus) []services.Event {
	var out []services.Event
	for _, e := range bus.Since(0, 0) {
		if e.Type == services.EventDSAROverdue {
			out = append(out, e)
		}
	}
	return out
}

func TestSweepOverdue(t *testing.T) {
	sweeper, bus, now := setupSweeper(t)
	ctx := context.Background()

	late := submit(t, sweeper.DSAR)
	done := submit(t, sweeper.DSAR)
	_, err := sweeper.DSAR.UpdateStatus(ctx, done.RequestID, services.StatusUpdate{Status: models.DSARStatusCompleted}, services.SystemActor)
	require.NoError(t, err)

	t.Run("Nothing is overdue inside the window", func(t *testing.T) {
		n, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 0.0, testutil.ToFloat64(sweeper.DSAR.Metrics.OverdueRequests))
	})

	*now = now.Add(31 * 24 * time.Hour)

	t.Run("Alerts once per request per day", func(t *testing.T) {
		n, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1.0, testutil.ToFloat64(sweeper.DSAR.Metrics.OverdueRequests))

		n, err = sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "second sweep on the same day is silent")

		events := overdueEvents(bus)
		require.Len(t, events, 1)
		assert.Equal(t, late.RequestID, events[0].RequestID)
		assert.Equal(t, "system", events[0].Actor)
	})

	t.Run("Alerts again the next day", func(t *testing.T) {
		*now = now.Add(24 * time.Hour)
		n, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Len(t, overdueEvents(bus), 2)
	})

	t.Run("Completed requests drop out", func(t *testing.T) {
		_, err := sweeper.DSAR.UpdateStatus(ctx, late.RequestID, services.StatusUpdate{Status: models.DSARStatusCompleted}, services.SystemActor)
		require.NoError(t, err)

		n, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, 0.0, testutil.ToFloat64(sweeper.DSAR.Metrics.OverdueRequests))
		assert.Empty(t, sweeper.alerted)
	})
}

func TestStartScheduler(t *testing.T) {
	sweeper, _, _ := setupSweeper(t)

	c, err := StartScheduler(sweeper, "@hourly")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	c.Stop()

	_, err = StartScheduler(sweeper, "not a cron spec")
	assert.Error(t, err)
}
