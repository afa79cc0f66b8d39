// Package eventbus moves anomaly and alert events over NATS.
package eventbus

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/onyagamarcel2/modsec-ai/internal/alerting"
)

// AnomalyEvent is published for every entry the pipeline flags.
type AnomalyEvent struct {
	TransactionID string             `json:"transaction_id"`
	Timestamp     int64              `json:"timestamp"`
	ClientIP      string             `json:"client_ip,omitempty"`
	URI           string             `json:"uri,omitempty"`
	Score         float64            `json:"score"`
	ModelScores   map[string]float64 `json:"model_scores,omitempty"`
	ValidationID  string             `json:"validation_id,omitempty"`
}

// Publisher publishes pipeline events to NATS.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with retries.
func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Printf("Pipeline (Pub) connected to NATS at %s", natsURL)

	return &Publisher{conn: conn}, nil
}

// PublishAnomaly publishes a flagged entry to the "anomalies" topic.
func (p *Publisher) PublishAnomaly(event *AnomalyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.conn.Publish("anomalies", data); err != nil {
		return err
	}

	log.Printf("Published anomaly to event bus: tx=%s score=%.3f", event.TransactionID, event.Score)

	return nil
}

// PublishAlert publishes a triggered alert to the "alerts" topic.
func (p *Publisher) PublishAlert(alert *alerting.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	if err := p.conn.Publish("alerts", data); err != nil {
		return err
	}

	log.Printf("Published alert to event bus: [%s] %s", alert.Severity, alert.Message)

	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		log.Println("Pipeline (Pub) disconnected from NATS")
	}
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
