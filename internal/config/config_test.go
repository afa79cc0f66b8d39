package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ModelDir:             "models",
		MaxSamples:           10000,
		MinSamples:           1000,
		UpdateInterval:       time.Hour,
		PerformanceThreshold: 0.8,
		VectorDim:            256,
		Contamination:        0.1,
		ScoreOperation:       "mean",
		MinAnomalyRatio:      0.1,
		WindowSize:           100,
		MinSeverity:          "medium",
		StoreBackend:         "sqlite",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMinAboveMax(t *testing.T) {
	c := validConfig()
	c.MinSamples = 20000
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIN_SAMPLES")
}

func TestValidateRejectsBadContamination(t *testing.T) {
	c := validConfig()
	c.Contamination = 0.9
	assert.Error(t, c.Validate())

	c.Contamination = 0
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownScoreOperation(t *testing.T) {
	c := validConfig()
	c.ScoreOperation = "median"
	assert.Error(t, c.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	c := validConfig()
	c.StoreBackend = "mongo"
	assert.Error(t, c.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("MAX_SAMPLES", "500")
	t.Setenv("MIN_SAMPLES", "50")
	t.Setenv("UPDATE_INTERVAL", "60")
	t.Setenv("SCORE_OPERATION", "max")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, c.MaxSamples)
	assert.Equal(t, 50, c.MinSamples)
	assert.Equal(t, time.Minute, c.UpdateInterval)
	assert.Equal(t, "max", c.ScoreOperation)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("MAX_SAMPLES", "10")
	t.Setenv("MIN_SAMPLES", "100")

	_, err := Load()
	assert.Error(t, err)
}
