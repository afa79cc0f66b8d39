package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	client_ip TEXT,
	uri TEXT,
	rule_id TEXT
);
CREATE TABLE IF NOT EXISTS validations (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	client_ip TEXT,
	uri TEXT,
	message TEXT,
	validated_by TEXT,
	validated_at TIMESTAMPTZ,
	notes TEXT,
	rule_text TEXT
);
CREATE TABLE IF NOT EXISTS performance (
	model TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	precision_score DOUBLE PRECISION NOT NULL,
	recall DOUBLE PRECISION NOT NULL,
	f1 DOUBLE PRECISION NOT NULL,
	auc DOUBLE PRECISION NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(status);
CREATE INDEX IF NOT EXISTS idx_performance_model ON performance(model);
`

// PostgresStore persists pipeline state in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAlert(ctx context.Context, a alerting.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, created_at, severity, message, score, client_ip, uri, rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Timestamp, a.Severity, a.Message, a.Score, a.ClientIP, a.URI, a.RuleID,
	)
	return err
}

func (s *PostgresStore) ListAlerts(ctx context.Context, severity string, limit int) ([]alerting.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, created_at, severity, message, score, client_ip, uri, rule_id FROM alerts`
	args := []any{}
	if severity != "" {
		query += ` WHERE severity = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, severity, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerting.Alert
	for rows.Next() {
		var a alerting.Alert
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Severity, &a.Message, &a.Score, &a.ClientIP, &a.URI, &a.RuleID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveValidation(ctx context.Context, v validation.AnomalyValidation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO validations (id, created_at, status, score, client_ip, uri, message, validated_by, validated_at, notes, rule_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.CreatedAt, v.Status, v.Score, v.ClientIP, v.URI, v.Message,
		v.ValidatedBy, nullableTime(v.ValidatedAt), v.Notes, v.RuleText,
	)
	return err
}

func (s *PostgresStore) GetValidation(ctx context.Context, id string) (validation.AnomalyValidation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, created_at, status, score, client_ip, uri, message, validated_by, validated_at, notes, rule_text
		FROM validations WHERE id = $1`, id)

	var v validation.AnomalyValidation
	var validatedAt *time.Time
	err := row.Scan(&v.ID, &v.CreatedAt, &v.Status, &v.Score, &v.ClientIP, &v.URI,
		&v.Message, &v.ValidatedBy, &validatedAt, &v.Notes, &v.RuleText)
	if errors.Is(err, pgx.ErrNoRows) {
		return validation.AnomalyValidation{}, ErrNotFound
	}
	if err != nil {
		return validation.AnomalyValidation{}, err
	}
	if validatedAt != nil {
		v.ValidatedAt = *validatedAt
	}
	return v, nil
}

func (s *PostgresStore) ListValidations(ctx context.Context, status string, limit int) ([]validation.AnomalyValidation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, created_at, status, score, client_ip, uri, message, validated_by, validated_at, notes, rule_text
		FROM validations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []validation.AnomalyValidation
	for rows.Next() {
		var v validation.AnomalyValidation
		var validatedAt *time.Time
		if err := rows.Scan(&v.ID, &v.CreatedAt, &v.Status, &v.Score, &v.ClientIP, &v.URI,
			&v.Message, &v.ValidatedBy, &validatedAt, &v.Notes, &v.RuleText); err != nil {
			return nil, err
		}
		if validatedAt != nil {
			v.ValidatedAt = *validatedAt
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateValidation(ctx context.Context, v validation.AnomalyValidation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE validations SET status = $1, validated_by = $2, validated_at = $3, notes = $4, rule_text = $5
		WHERE id = $6`,
		v.Status, v.ValidatedBy, nullableTime(v.ValidatedAt), v.Notes, v.RuleText, v.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SavePerformance(ctx context.Context, row PerformanceRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO performance (model, created_at, precision_score, recall, f1, auc, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.Model, row.Timestamp, row.Performance.Precision, row.Performance.Recall,
		row.Performance.F1, row.Performance.AUC, row.Err,
	)
	return err
}

func (s *PostgresStore) ListPerformance(ctx context.Context, model string, limit int) ([]PerformanceRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT model, created_at, precision_score, recall, f1, auc, error FROM performance`
	args := []any{}
	if model != "" {
		query += ` WHERE model = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, model, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PerformanceRow
	for rows.Next() {
		var r PerformanceRow
		if err := rows.Scan(&r.Model, &r.Timestamp, &r.Performance.Precision, &r.Performance.Recall,
			&r.Performance.F1, &r.Performance.AUC, &r.Err); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
