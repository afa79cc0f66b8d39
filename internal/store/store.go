// Package store persists alerts, validation findings and performance
// snapshots behind a backend-agnostic interface with sqlite and
// postgres implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/evaluation"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
)

var ErrNotFound = errors.New("store: not found")

// PerformanceRow is one persisted evaluation snapshot for a model.
type PerformanceRow struct {
	Model       string                 `json:"model"`
	Timestamp   time.Time              `json:"timestamp"`
	Performance evaluation.Performance `json:"performance"`
	Err         string                 `json:"error,omitempty"`
}

// Store is the persistence contract the pipeline depends on.
type Store interface {
	SaveAlert(ctx context.Context, a alerting.Alert) error
	ListAlerts(ctx context.Context, severity string, limit int) ([]alerting.Alert, error)

	SaveValidation(ctx context.Context, v validation.AnomalyValidation) error
	GetValidation(ctx context.Context, id string) (validation.AnomalyValidation, error)
	ListValidations(ctx context.Context, status string, limit int) ([]validation.AnomalyValidation, error)
	UpdateValidation(ctx context.Context, v validation.AnomalyValidation) error

	SavePerformance(ctx context.Context, row PerformanceRow) error
	ListPerformance(ctx context.Context, model string, limit int) ([]PerformanceRow, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// New builds the configured backend. Supported backends are "sqlite"
// (dsn is a file path or ":memory:") and "postgres" (dsn is a
// connection string).
func New(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}
