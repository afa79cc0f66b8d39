package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/realtime"
	"github.com/onyagamarcel2/modsec-ai/internal/ruleengine"
)

func TestAnomalySeverityDefaultsToHigh(t *testing.T) {
	severity, message := anomalySeverity(nil, false)
	assert.Equal(t, alerting.SeverityHigh, severity)
	assert.Equal(t, "Anomalous request detected", message)
}

func TestAnomalySeverityTakesRuleSeverity(t *testing.T) {
	hits := []ruleengine.Rule{{Name: "sqli-signature", Severity: alerting.SeverityMedium}}
	severity, message := anomalySeverity(hits, false)
	assert.Equal(t, alerting.SeverityMedium, severity)
	assert.Contains(t, message, "sqli-signature")
}

func TestAnomalySeverityEscalatesOnSustainedBurst(t *testing.T) {
	hits := []ruleengine.Rule{{Name: "sqli-signature", Severity: alerting.SeverityMedium}}
	severity, message := anomalySeverity(hits, true)
	assert.Equal(t, alerting.SeverityCritical, severity)
	assert.Contains(t, message, "sustained anomaly burst")

	severity, _ = anomalySeverity(nil, true)
	assert.Equal(t, alerting.SeverityCritical, severity)
}

func TestBurstEscalationFollowsStreamDetector(t *testing.T) {
	stream := realtime.New(4, false, 0.2)

	// Stable baseline fills the window without tripping the ratio.
	for i := 0; i < 4; i++ {
		stream.Observe(1.0)
	}
	severity, _ := anomalySeverity(nil, stream.ShouldAlert())
	assert.Equal(t, alerting.SeverityHigh, severity)

	// A spike against the flat baseline pushes the ratio over the
	// configured minimum and every later alert escalates.
	require.True(t, stream.Observe(100.0))
	severity, message := anomalySeverity(nil, stream.ShouldAlert())
	assert.Equal(t, alerting.SeverityCritical, severity)
	assert.Contains(t, message, "sustained anomaly burst")
}
