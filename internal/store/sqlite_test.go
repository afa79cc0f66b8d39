package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/evaluation"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFactorySelectsBackend(t *testing.T) {
	s, err := New(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.HealthCheck(context.Background()))

	_, err = New(context.Background(), "mongo", "")
	assert.Error(t, err)
}

func TestAlertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := alerting.Alert{
		ID:        "a1",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Severity:  "high",
		Message:   "sqli attempt",
		Score:     0.93,
		ClientIP:  "203.0.113.7",
		URI:       "/login",
		RuleID:    "942100",
	}
	require.NoError(t, s.SaveAlert(ctx, a))
	require.NoError(t, s.SaveAlert(ctx, alerting.Alert{ID: "a2", Timestamp: time.Now().UTC(), Severity: "low", Message: "noise"}))

	all, err := s.ListAlerts(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	high, err := s.ListAlerts(ctx, "high", 0)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, a.Message, high[0].Message)
	assert.Equal(t, a.Score, high[0].Score)
	assert.True(t, a.Timestamp.Equal(high[0].Timestamp))
}

func TestValidationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := validation.AnomalyValidation{
		ID:        "v1",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Status:    validation.StatusPending,
		Score:     0.88,
		ClientIP:  "198.51.100.2",
		URI:       "/admin",
		Message:   "burst",
	}
	require.NoError(t, s.SaveValidation(ctx, v))

	got, err := s.GetValidation(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, validation.StatusPending, got.Status)
	assert.True(t, got.ValidatedAt.IsZero())

	got.Status = validation.StatusValidated
	got.ValidatedBy = "analyst"
	got.ValidatedAt = time.Now().UTC().Truncate(time.Millisecond)
	got.RuleText = "SecRule ..."
	require.NoError(t, s.UpdateValidation(ctx, got))

	updated, err := s.GetValidation(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, validation.StatusValidated, updated.Status)
	assert.Equal(t, "analyst", updated.ValidatedBy)
	assert.False(t, updated.ValidatedAt.IsZero())

	pending, err := s.ListValidations(ctx, validation.StatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	confirmed, err := s.ListValidations(ctx, validation.StatusValidated, 0)
	require.NoError(t, err)
	assert.Len(t, confirmed, 1)
}

func TestValidationNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetValidation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateValidation(ctx, validation.AnomalyValidation{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPerformanceRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SavePerformance(ctx, PerformanceRow{
		Model:       "isolation_forest",
		Timestamp:   base,
		Performance: evaluation.Performance{Precision: 0.9, Recall: 0.8, F1: 0.85, AUC: 0.95},
	}))
	require.NoError(t, s.SavePerformance(ctx, PerformanceRow{
		Model:     "one_class_svm",
		Timestamp: base.Add(time.Second),
		Err:       "fit failed",
	}))

	forest, err := s.ListPerformance(ctx, "isolation_forest", 0)
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Equal(t, 0.85, forest[0].Performance.F1)

	all, err := s.ListPerformance(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, "one_class_svm", all[0].Model)
	assert.Equal(t, "fit failed", all[0].Err)
}

// The sqlite store backs the validation workflow end to end.
func TestStoreServesValidationManager(t *testing.T) {
	s := openTestStore(t)
	m := validation.NewManager(s, "")
	ctx := context.Background()

	v, err := m.Create(ctx, 0.9, "203.0.113.7", "/admin", "suspicious")
	require.NoError(t, err)

	resolved, err := m.Resolve(ctx, v.ID, validation.StatusValidated, "analyst", "confirmed")
	require.NoError(t, err)
	assert.Contains(t, resolved.RuleText, "SecRule")

	_, err = m.Resolve(ctx, v.ID, validation.StatusNormal, "analyst", "")
	assert.Error(t, err)
}
