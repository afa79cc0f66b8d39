// Package validation runs the human-in-the-loop workflow for flagged
// anomalies: pending findings are confirmed or dismissed, and confirmed
// ones can emit a ModSecurity rule.
package validation

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/onyagamarcel2/modsec-ai/internal/ruleengine"
)

// Validation statuses.
const (
	StatusPending   = "pending"
	StatusValidated = "validated" // confirmed as a real attack
	StatusNormal    = "normal"    // false positive
	StatusIgnored   = "ignored"
)

// AnomalyValidation is one flagged finding moving through review.
type AnomalyValidation struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
	Score       float64   `json:"score"`
	ClientIP    string    `json:"client_ip,omitempty"`
	URI         string    `json:"uri,omitempty"`
	Message     string    `json:"message,omitempty"`
	ValidatedBy string    `json:"validated_by,omitempty"`
	ValidatedAt time.Time `json:"validated_at,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	RuleText    string    `json:"rule_text,omitempty"`
}

// Repository is the persistence the workflow needs.
type Repository interface {
	SaveValidation(ctx context.Context, v AnomalyValidation) error
	GetValidation(ctx context.Context, id string) (AnomalyValidation, error)
	ListValidations(ctx context.Context, status string, limit int) ([]AnomalyValidation, error)
	UpdateValidation(ctx context.Context, v AnomalyValidation) error
}

// Manager drives status transitions and rule generation.
type Manager struct {
	repo    Repository
	rules   *ruleengine.SecRuleGenerator
	ruleDir string // empty disables rule file emission
}

func NewManager(repo Repository, ruleDir string) *Manager {
	return &Manager{
		repo:    repo,
		rules:   ruleengine.NewSecRuleGenerator(),
		ruleDir: ruleDir,
	}
}

// Create files a new pending validation for a flagged anomaly.
func (m *Manager) Create(ctx context.Context, score float64, clientIP, uri, message string) (AnomalyValidation, error) {
	v := AnomalyValidation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Status:    StatusPending,
		Score:     score,
		ClientIP:  clientIP,
		URI:       uri,
		Message:   message,
	}
	if err := m.repo.SaveValidation(ctx, v); err != nil {
		return AnomalyValidation{}, fmt.Errorf("failed to save validation: %w", err)
	}
	return v, nil
}

// Resolve transitions a pending validation to its final status. Only
// pending findings can be resolved; confirming one generates a
// ModSecurity rule when a rule directory is configured.
func (m *Manager) Resolve(ctx context.Context, id, status, validatedBy, notes string) (AnomalyValidation, error) {
	switch status {
	case StatusValidated, StatusNormal, StatusIgnored:
	default:
		return AnomalyValidation{}, fmt.Errorf("invalid target status %q", status)
	}

	v, err := m.repo.GetValidation(ctx, id)
	if err != nil {
		return AnomalyValidation{}, fmt.Errorf("validation %s not found: %w", id, err)
	}
	if v.Status != StatusPending {
		return AnomalyValidation{}, fmt.Errorf("validation %s already resolved as %s", id, v.Status)
	}

	v.Status = status
	v.ValidatedBy = validatedBy
	v.ValidatedAt = time.Now()
	v.Notes = notes

	if status == StatusValidated {
		v.RuleText = m.rules.Generate(v.URI, v.ClientIP, v.Message)
		if m.ruleDir != "" {
			if err := m.writeRuleFile(v); err != nil {
				log.Printf("Failed to write rule file for validation %s: %v", v.ID, err)
			}
		}
	}

	if err := m.repo.UpdateValidation(ctx, v); err != nil {
		return AnomalyValidation{}, fmt.Errorf("failed to update validation: %w", err)
	}
	return v, nil
}

// Pending lists unresolved findings.
func (m *Manager) Pending(ctx context.Context, limit int) ([]AnomalyValidation, error) {
	return m.repo.ListValidations(ctx, StatusPending, limit)
}

// List lists findings, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status string, limit int) ([]AnomalyValidation, error) {
	return m.repo.ListValidations(ctx, status, limit)
}

func (m *Manager) writeRuleFile(v AnomalyValidation) error {
	if err := os.MkdirAll(m.ruleDir, 0o755); err != nil {
		return fmt.Errorf("failed to create rule directory: %w", err)
	}
	path := filepath.Join(m.ruleDir, fmt.Sprintf("validated-%s.conf", v.ID))
	if err := os.WriteFile(path, []byte(v.RuleText), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
