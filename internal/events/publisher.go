package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event subjects
const (
	SubjectQuoteGenerated     = "rates.quote_generated"
	SubjectShipmentBooked     = "rates.shipment_booked"
	SubjectBookingCompensated = "rates.booking_compensated"
	SubjectVarianceCaseOpened = "rates.variance_case_opened"
	SubjectVarianceCaseClosed = "rates.variance_case_closed"
)

// Event is the envelope published to the message bus
type Event struct {
	Subject   string      `json:"subject"`
	TenantID  string      `json:"tenantId"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher emits domain events. Publishing is fire-and-forget: event bus
// trouble must never fail the request that produced the event.
type Publisher interface {
	Publish(subject, tenantID string, payload interface{})
}

// NATSPublisher publishes events to NATS JetStream
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
}

// NewNATSPublisher connects a publisher to an existing NATS connection
func NewNATSPublisher(conn *nats.Conn, logger *logrus.Logger) (*NATSPublisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "events.publisher"),
	}, nil
}

// Publish emits an event, logging failures instead of returning them
func (p *NATSPublisher) Publish(subject, tenantID string, payload interface{}) {
	event := Event{
		Subject:   subject,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("failed to marshal event")
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Warn("failed to publish event")
	}
}

// NoopPublisher is used when no event bus is configured
type NoopPublisher struct{}

// Publish discards the event
func (NoopPublisher) Publish(subject, tenantID string, payload interface{}) {}
