// Package alerting turns confirmed anomalies into alerts, keeps a
// bounded alert history, and fans alerts out to notification channels.
package alerting

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity levels ordered from least to most urgent.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// SeverityAtLeast reports whether severity meets the minimum. Unknown
// severities never pass.
func SeverityAtLeast(severity, minimum string) bool {
	s, ok := severityRank[strings.ToLower(severity)]
	if !ok {
		return false
	}
	m, ok := severityRank[strings.ToLower(minimum)]
	if !ok {
		return false
	}
	return s >= m
}

// Alert describes one confirmed anomaly.
type Alert struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Score     float64           `json:"score"`
	ClientIP  string            `json:"client_ip,omitempty"`
	URI       string            `json:"uri,omitempty"`
	RuleID    string            `json:"rule_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Notify(alert Alert) error
}

// Manager gates alerts on a minimum severity, records them in a bounded
// history, and fans them out. A failing channel is logged, never fatal.
type Manager struct {
	mu          sync.Mutex
	minSeverity string
	maxHistory  int
	history     []Alert
	notifiers   []Notifier
}

func NewManager(minSeverity string, maxHistory int, notifiers ...Notifier) *Manager {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Manager{
		minSeverity: minSeverity,
		maxHistory:  maxHistory,
		notifiers:   notifiers,
	}
}

// Trigger files an alert. Alerts below the minimum severity are dropped.
// The returned alert carries the assigned ID and timestamp; ok is false
// when the alert was gated out.
func (m *Manager) Trigger(alert Alert) (Alert, bool) {
	if !SeverityAtLeast(alert.Severity, m.minSeverity) {
		return Alert{}, false
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.history = append(m.history, alert)
	if len(m.history) > m.maxHistory {
		m.history = append([]Alert(nil), m.history[len(m.history)-m.maxHistory:]...)
	}
	notifiers := m.notifiers
	m.mu.Unlock()

	for _, n := range notifiers {
		if err := n.Notify(alert); err != nil {
			log.Printf("Notifier %s failed for alert %s: %v", n.Name(), alert.ID, err)
		}
	}
	return alert, true
}

// History returns alerts newest-last, optionally filtered by severity
// and bounded by limit (0 means all).
func (m *Manager) History(severity string, limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.history))
	for _, a := range m.history {
		if severity != "" && !strings.EqualFold(a.Severity, severity) {
			continue
		}
		out = append(out, a)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Counts tallies the history per severity.
func (m *Manager) Counts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, a := range m.history {
		out[strings.ToLower(a.Severity)]++
	}
	return out
}
