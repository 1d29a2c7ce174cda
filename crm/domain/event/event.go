package event

import (
	"context"
	"encoding/json"
	"time"

	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Kind string

const (
	KindWebhookReceived Kind = "webhook_received"
	KindDuplicate       Kind = "duplicate_delivery"
	KindQueued          Kind = "queued"
	KindMessageSent     Kind = "message_sent"
	KindManualMessage   Kind = "manual_message"
	KindCandidateNew    Kind = "candidate_created"
	KindError           Kind = "error"
)

// Event is an audit entry independent of candidate data.
type Event struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	CandidateID string    `json:"candidate_id,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

func (e *Event) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.Kind, validation.Required),
		validation.Field(&e.At, validation.Required),
	)
}

func Decode(key string, raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	if err := e.Validate(); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	return &e, nil
}

// Log is the bounded global audit trail.
type Log interface {
	Append(ctx context.Context, e Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}
