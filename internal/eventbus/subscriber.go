package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/onyagamarcel2/modsec-ai/internal/validation"
)

// ValidationCompletedEvent is emitted by external review tooling when an
// analyst resolves a finding.
type ValidationCompletedEvent struct {
	ValidationID string `json:"validation_id"`
	Status       string `json:"status"`
	ValidatedBy  string `json:"validated_by"`
	Notes        string `json:"notes"`
	Timestamp    int64  `json:"timestamp"`
}

// Subscriber listens for validation resolutions and applies them to the
// workflow, closing the feedback loop.
type Subscriber struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	validations  *validation.Manager
}

func NewSubscriber(natsURL string, validations *validation.Manager) (*Subscriber, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("Pipeline (Sub) connected to NATS at %s", natsURL)

	return &Subscriber{conn: conn, validations: validations}, nil
}

// Start begins listening for validation completion events.
func (s *Subscriber) Start() error {
	var err error

	log.Printf("Subscribing to 'validations.completed' for feedback loop...")

	s.subscription, err = s.conn.Subscribe("validations.completed", func(msg *nats.Msg) {
		s.handleValidationCompleted(msg)
	})
	if err != nil {
		return err
	}

	log.Printf("Subscribed to 'validations.completed'")

	return nil
}

func (s *Subscriber) handleValidationCompleted(msg *nats.Msg) {
	var event ValidationCompletedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("Failed to unmarshal validation completion: %v", err)
		return
	}

	ctx := context.Background()
	resolved, err := s.validations.Resolve(ctx, event.ValidationID, event.Status, event.ValidatedBy, event.Notes)
	if err != nil {
		log.Printf("Warning: failed to apply validation %s: %v", event.ValidationID, err)
		return
	}

	log.Printf("Validation %s resolved as %s by %s", resolved.ID, resolved.Status, resolved.ValidatedBy)
}

func (s *Subscriber) Close() {
	if s.subscription != nil {
		s.subscription.Unsubscribe()
	}

	if s.conn != nil {
		s.conn.Close()
		log.Printf("Pipeline disconnected from NATS")
	}
}

func (s *Subscriber) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}
