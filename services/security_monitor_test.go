package services

import (
	"testing"
	"time"

	"consenthub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) (*SecurityMonitor, *testClock, *recordingMailer) {
	t.Helper()
	clock := newTestClock()
	mailer := &recordingMailer{}
	m := NewSecurityMonitor(setupTestDB(t), mailer, "security@consenthub.test")
	m.Now = clock.Now
	return m, clock, mailer
}

func TestTrackFailedVerification(t *testing.T) {
	m, clock, mailer := newTestMonitor(t)

	for i := 0; i < FailedVerificationThreshold-1; i++ {
		m.TrackFailedVerification("203.0.113.9", "DSAR-1")
	}
	assert.Empty(t, m.Alerts())

	m.TrackFailedVerification("203.0.113.9", "DSAR-1")
	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "WARNING", alerts[0].Level)
	assert.Equal(t, "203.0.113.9", alerts[0].IP)
	assert.Contains(t, alerts[0].Reason, "DSAR-1")

	assert.Eventually(t, func() bool {
		sent := mailer.Sent()
		return len(sent) == 1 && sent[0].To[0] == "security@consenthub.test"
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		var count int64
		m.DB.Model(&models.AuditLog{}).Where("resource_type = ?", "SECURITY_EVENT").Count(&count)
		return count == 1
	}, time.Second, 10*time.Millisecond)

	t.Run("Cooldown suppresses repeats", func(t *testing.T) {
		m.TrackFailedVerification("203.0.113.9", "DSAR-1")
		assert.Len(t, m.Alerts(), 1)

		clock.Advance(alertCooldown + time.Minute)
		for i := 0; i < FailedVerificationThreshold; i++ {
			m.TrackFailedVerification("203.0.113.9", "DSAR-2")
		}
		assert.Len(t, m.Alerts(), 2)
	})

	t.Run("Old attempts fall out of the window", func(t *testing.T) {
		for i := 0; i < FailedVerificationThreshold-1; i++ {
			m.TrackFailedVerification("198.51.100.1", "DSAR-3")
		}
		clock.Advance(FailedVerificationWindow + time.Second)
		m.TrackFailedVerification("198.51.100.1", "DSAR-3")
		for _, a := range m.Alerts() {
			assert.NotEqual(t, "198.51.100.1", a.IP)
		}
	})
}

func TestTrackDownload(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	for i := 0; i < MassDownloadThreshold; i++ {
		m.TrackDownload("203.0.113.9", "csr-1")
	}
	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "CRITICAL", alerts[0].Level)
	assert.Equal(t, "csr-1", alerts[0].ActorID)

	t.Run("Separate actors are counted separately", func(t *testing.T) {
		m2, _, _ := newTestMonitor(t)
		for i := 0; i < MassDownloadThreshold-1; i++ {
			m2.TrackDownload("203.0.113.9", "csr-1")
			m2.TrackDownload("203.0.113.9", "csr-2")
		}
		assert.Empty(t, m2.Alerts())
	})
}

func TestSecurityMonitorPrune(t *testing.T) {
	m, clock, _ := newTestMonitor(t)
	m.TrackDownload("203.0.113.9", "csr-1")
	for i := 0; i < FailedVerificationThreshold; i++ {
		m.TrackFailedVerification("198.51.100.1", "DSAR-1")
	}

	clock.Advance(2 * time.Hour)
	m.Prune()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.events)
	assert.Empty(t, m.alerted)
	assert.Len(t, m.alerts, 1, "alert history survives pruning")
}

func TestNilSecurityMonitor(t *testing.T) {
	var m *SecurityMonitor
	assert.NotPanics(t, func() {
		m.TrackDownload("ip", "actor")
		m.TrackFailedVerification("ip", "DSAR-1")
	})
	assert.Empty(t, m.Alerts())
}
