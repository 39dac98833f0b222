package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/gantryci/gantry/internal/config"
)

// NATSPublisher mirrors run events onto a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS using the daemon configuration.
func NewNATSPublisher(cfg *config.NATSConfig) (*NATSPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nats config is required")
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS publisher initialized", "url", cfg.URL, "subject", cfg.Subject)
	return &NATSPublisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish sends one event. Publish failures are logged, not propagated: the
// event store remains the source of truth and a flaky broker must not fail
// a run.
func (p *NATSPublisher) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal event for NATS", "type", string(event.Type), "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s", p.subject, string(event.Type))
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("Failed to publish event to NATS", "subject", subject, "error", err)
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			slog.Warn("Failed to drain NATS connection", "error", err)
		}
	}
}
