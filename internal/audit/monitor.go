package audit

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	burstWindow    = 5 * time.Minute
	burstThreshold = 5
)

// Monitor watches the audit trail for failed-login bursts. It sees
// across visits, so it catches an attacker cycling fresh browsing
// contexts to dodge the per-visit lockout.
type Monitor struct {
	logger *Logger
	log    *zap.Logger

	// usernames already alerted on in the current window, so one
	// burst produces one alert
	alerted map[string]time.Time
}

// NewMonitor creates a new security monitor
func NewMonitor(logger *Logger, log *zap.Logger) *Monitor {
	return &Monitor{
		logger:  logger,
		log:     log,
		alerted: make(map[string]time.Time),
	}
}

// DetectFailedLogins flags usernames with repeated failed logins
// inside the burst window. Login failure events carry the attempted
// username in their metadata.
func (m *Monitor) DetectFailedLogins() error {
	now := time.Now()
	windowStart := now.Add(-burstWindow)

	filters := QueryFilters{
		StartTime:    &windowStart,
		EndTime:      &now,
		ActionPrefix: "LOGIN_",
		Limit:        1000,
	}

	events, err := m.logger.QueryLogs(filters)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	// Count failed attempts per attempted username
	failedAttempts := make(map[string]int)

	for _, event := range events {
		if event.Success || event.Metadata == "" {
			continue
		}
		failedAttempts[event.Metadata]++
	}

	for username, count := range failedAttempts {
		if count < burstThreshold {
			continue
		}
		if last, ok := m.alerted[username]; ok && now.Sub(last) < burstWindow {
			continue
		}
		m.alerted[username] = now

		m.log.Warn("failed login burst detected",
			zap.String("username", username),
			zap.Int("attempts", count),
			zap.Duration("window", burstWindow))

		m.logger.Log(&Event{
			Level:    LevelCritical,
			Action:   ActionFailedLoginBurst,
			Resource: "auth",
			Success:  false,
			Metadata: username,
			ErrorMsg: fmt.Sprintf("%d failed attempts within %s", count, burstWindow),
		})
	}

	return m.expireAlerts(now)
}

func (m *Monitor) expireAlerts(now time.Time) error {
	for username, at := range m.alerted {
		if now.Sub(at) >= burstWindow {
			delete(m.alerted, username)
		}
	}
	return nil
}

// DetectSuspiciousActivity runs all security checks
func (m *Monitor) DetectSuspiciousActivity() error {
	if err := m.DetectFailedLogins(); err != nil {
		m.log.Error("failed to detect failed logins", zap.Error(err))
	}

	return nil
}
