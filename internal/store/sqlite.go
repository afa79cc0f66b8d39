package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
	"github.com/onyagamarcel2/modsec-ai/internal/validation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	score REAL NOT NULL,
	client_ip TEXT,
	uri TEXT,
	rule_id TEXT
);
CREATE TABLE IF NOT EXISTS validations (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	status TEXT NOT NULL,
	score REAL NOT NULL,
	client_ip TEXT,
	uri TEXT,
	message TEXT,
	validated_by TEXT,
	validated_at TEXT,
	notes TEXT,
	rule_text TEXT
);
CREATE TABLE IF NOT EXISTS performance (
	model TEXT NOT NULL,
	created_at TEXT NOT NULL,
	precision_score REAL NOT NULL,
	recall REAL NOT NULL,
	f1 REAL NOT NULL,
	auc REAL NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_validations_status ON validations(status);
CREATE INDEX IF NOT EXISTS idx_performance_model ON performance(model);
`

// SQLiteStore persists pipeline state in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and ensures the
// schema. Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, a alerting.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, created_at, severity, message, score, client_ip, uri, rule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UTC().Format(time.RFC3339Nano), a.Severity, a.Message,
		a.Score, a.ClientIP, a.URI, a.RuleID,
	)
	return err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, severity string, limit int) ([]alerting.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, created_at, severity, message, score, client_ip, uri, rule_id
		FROM alerts`
	args := []any{}
	if severity != "" {
		query += ` WHERE severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerting.Alert
	for rows.Next() {
		var a alerting.Alert
		var createdAt string
		if err := rows.Scan(&a.ID, &createdAt, &a.Severity, &a.Message, &a.Score, &a.ClientIP, &a.URI, &a.RuleID); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.Timestamp = t
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveValidation(ctx context.Context, v validation.AnomalyValidation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validations (id, created_at, status, score, client_ip, uri, message, validated_by, validated_at, notes, rule_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CreatedAt.UTC().Format(time.RFC3339Nano), v.Status, v.Score,
		v.ClientIP, v.URI, v.Message, v.ValidatedBy, formatNullableTime(v.ValidatedAt),
		v.Notes, v.RuleText,
	)
	return err
}

func (s *SQLiteStore) GetValidation(ctx context.Context, id string) (validation.AnomalyValidation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, status, score, client_ip, uri, message, validated_by, validated_at, notes, rule_text
		FROM validations WHERE id = ?`, id)
	v, err := scanValidation(row.Scan)
	if err == sql.ErrNoRows {
		return validation.AnomalyValidation{}, ErrNotFound
	}
	return v, err
}

func (s *SQLiteStore) ListValidations(ctx context.Context, status string, limit int) ([]validation.AnomalyValidation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, created_at, status, score, client_ip, uri, message, validated_by, validated_at, notes, rule_text
		FROM validations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []validation.AnomalyValidation
	for rows.Next() {
		v, err := scanValidation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateValidation(ctx context.Context, v validation.AnomalyValidation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE validations SET status = ?, validated_by = ?, validated_at = ?, notes = ?, rule_text = ?
		WHERE id = ?`,
		v.Status, v.ValidatedBy, formatNullableTime(v.ValidatedAt), v.Notes, v.RuleText, v.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SavePerformance(ctx context.Context, row PerformanceRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance (model, created_at, precision_score, recall, f1, auc, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Model, row.Timestamp.UTC().Format(time.RFC3339Nano),
		row.Performance.Precision, row.Performance.Recall,
		row.Performance.F1, row.Performance.AUC, row.Err,
	)
	return err
}

func (s *SQLiteStore) ListPerformance(ctx context.Context, model string, limit int) ([]PerformanceRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT model, created_at, precision_score, recall, f1, auc, error FROM performance`
	args := []any{}
	if model != "" {
		query += ` WHERE model = ?`
		args = append(args, model)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PerformanceRow
	for rows.Next() {
		var r PerformanceRow
		var createdAt string
		if err := rows.Scan(&r.Model, &createdAt, &r.Performance.Precision, &r.Performance.Recall,
			&r.Performance.F1, &r.Performance.AUC, &r.Err); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.Timestamp = t
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanValidation(scan func(...any) error) (validation.AnomalyValidation, error) {
	var v validation.AnomalyValidation
	var createdAt, validatedAt string
	if err := scan(&v.ID, &createdAt, &v.Status, &v.Score, &v.ClientIP, &v.URI,
		&v.Message, &v.ValidatedBy, &validatedAt, &v.Notes, &v.RuleText); err != nil {
		return validation.AnomalyValidation{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return validation.AnomalyValidation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	v.CreatedAt = t
	if validatedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, validatedAt)
		if err != nil {
			return validation.AnomalyValidation{}, fmt.Errorf("parsing validated_at: %w", err)
		}
		v.ValidatedAt = t
	}
	return v, nil
}

func formatNullableTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
