package services

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Alert thresholds
const (
	FailedVerificationThreshold = 5
	FailedVerificationWindow    = 10 * time.Minute
	MassDownloadThreshold       = 20
	MassDownloadWindow          = 10 * time.Minute
	alertCooldown               = time.Hour
	maxAlertHistory             = 100
)

// SecurityAlert represents a triggered security alert
type SecurityAlert struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	ActorID   string    `json:"actorId,omitempty"`
	Reason    string    `json:"reason"`
	Level     string    `json:"level"` // WARNING, CRITICAL
}

// SecurityMonitor counts suspicious activity in sliding windows and raises
// alerts: repeated wrong verification codes and bulk downloads of personal data
type SecurityMonitor struct {
	DB         *gorm.DB
	Mailer     Mailer
	AlertEmail string
	Now        func() time.Time

	mu      sync.Mutex
	events  map[string][]time.Time // tracking key -> timestamps inside the window
	alerted map[string]time.Time   // alert key -> last alert time
	alerts  []SecurityAlert        // newest first
}

func NewSecurityMonitor(db *gorm.DB, mailer Mailer, alertEmail string) *SecurityMonitor {
	return &SecurityMonitor{
		DB:         db,
		Mailer:     mailer,
		AlertEmail: alertEmail,
		Now:        time.Now,
		events:     make(map[string][]time.Time),
		alerted:    make(map[string]time.Time),
	}
}

func (m *SecurityMonitor) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// TrackFailedVerification records a wrong verification code from ip
func (m *SecurityMonitor) TrackFailedVerification(ip, requestID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordLocked("verify:"+ip, FailedVerificationWindow) >= FailedVerificationThreshold {
		m.alertLocked("verify:"+ip, SecurityAlert{
			IP:     ip,
			Reason: fmt.Sprintf("Repeated wrong verification codes (last on %s)", requestID),
			Level:  "WARNING",
		})
	}
}

// TrackDownload records a download of personal data by actorID from ip
func (m *SecurityMonitor) TrackDownload(ip, actorID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("dl:%s:%s", ip, actorID)
	if m.recordLocked(key, MassDownloadWindow) >= MassDownloadThreshold {
		m.alertLocked("breach:"+ip, SecurityAlert{
			IP:      ip,
			ActorID: actorID,
			Reason:  "Mass download of personal data detected",
			Level:   "CRITICAL",
		})
	}
}

// recordLocked appends now to key and returns how many events remain in the window
func (m *SecurityMonitor) recordLocked(key string, window time.Duration) int {
	now := m.now()
	windowStart := now.Add(-window)

	valid := m.events[key][:0]
	for _, t := range m.events[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	m.events[key] = append(valid, now)
	return len(m.events[key])
}

// alertLocked raises at most one alert per key per cooldown
func (m *SecurityMonitor) alertLocked(key string, alert SecurityAlert) {
	now := m.now()
	if last, ok := m.alerted[key]; ok && now.Sub(last) < alertCooldown {
		return
	}
	m.alerted[key] = now
	alert.Timestamp = now

	m.alerts = append([]SecurityAlert{alert}, m.alerts...)
	if len(m.alerts) > maxAlertHistory {
		m.alerts = m.alerts[:maxAlertHistory]
	}

	zap.S().Warnw("security alert", "level", alert.Level, "reason", alert.Reason, "ip", alert.IP, "actor_id", alert.ActorID)
	if m.DB != nil {
		LogSecurityEvent(m.DB, alert.Level, alert.ActorID, fmt.Sprintf("%s from IP %s", alert.Reason, alert.IP))
	}
	if m.Mailer != nil && m.AlertEmail != "" {
		sendAsync(m.Mailer, &Email{
			To:      []string{m.AlertEmail},
			Subject: fmt.Sprintf("Security alert: %s", alert.Reason),
			TextBody: fmt.Sprintf("Level: %s\nReason: %s\nIP address: %s\nActor: %s\nTime: %s\n",
				alert.Level, alert.Reason, alert.IP, alert.ActorID, now.Format(time.RFC1123)),
		})
	}
}

// Alerts returns a copy of recent alerts, newest first
func (m *SecurityMonitor) Alerts() []SecurityAlert {
	if m == nil {
		return []SecurityAlert{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SecurityAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Prune drops tracking state that can no longer trigger an alert
func (m *SecurityMonitor) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	window := FailedVerificationWindow
	if MassDownloadWindow > window {
		window = MassDownloadWindow
	}
	for key, times := range m.events {
		if len(times) == 0 || now.Sub(times[len(times)-1]) > window {
			delete(m.events, key)
		}
	}
	for key, last := range m.alerted {
		if now.Sub(last) > alertCooldown {
			delete(m.alerted, key)
		}
	}
}
