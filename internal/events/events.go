// Package events publishes visit workflow notifications to a broker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Type names a workflow event.
type Type string

const (
	VisitRegistered   Type = "visit.registered"
	VisitDeleted      Type = "visit.deleted"
	NurseRecorded     Type = "visit.nurse_recorded"
	DoctorRecorded    Type = "visit.doctor_recorded"
	MedicineDispensed Type = "visit.medicine_dispensed"
	DocumentUploaded  Type = "document.uploaded"
)

// Event is the message body sent to every backend. It never carries patient
// identifiers or clinical text.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	VisitID    string            `json:"visitId"`
	CenterID   string            `json:"centerId,omitempty"`
	ActorID    string            `json:"actorId,omitempty"`
	ActorRole  string            `json:"actorRole,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New creates an event stamped with a fresh id and the current time.
func New(t Type, visitID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		VisitID:    visitID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// LogPublisher writes events to the structured log. It is the default
// backend when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID).
		Str("type", string(e.Type)).
		Str("visit_id", e.VisitID).
		Str("actor_role", e.ActorRole).
		Str("stage", e.Stage).
		Msg("workflow event")
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }
