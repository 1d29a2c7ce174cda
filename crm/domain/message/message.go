package message

import (
	"context"
	"encoding/json"
	"time"

	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Direction string

const (
	FromUser Direction = "user"
	FromBot  Direction = "bot"
	// FromMe marks messages a human typed on the business phone.
	FromMe Direction = "me"
)

type Type string

const (
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
	TypeDocument Type = "document"
)

var Types = []any{TypeText, TypeImage, TypeAudio, TypeVideo, TypeDocument}

type Status string

const (
	StatusReceived Status = "received"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// Message is one entry of a candidate's conversation log.
type Message struct {
	ID        string    `json:"id"`
	Direction Direction `json:"from"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	MediaRef  string    `json:"media_ref,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Message) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Direction, validation.Required, validation.In(FromUser, FromBot, FromMe)),
		validation.Field(&m.Type, validation.Required, validation.In(Types...)),
		validation.Field(&m.Timestamp, validation.Required),
	)
}

// Decode parses and validates a stored log entry.
func Decode(key string, raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	if err := m.Validate(); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	return &m, nil
}

// Inbound is a delivery as handed over by the transport.
type Inbound struct {
	MessageID   string    `json:"message_id"`
	SenderPhone string    `json:"sender_phone"`
	Type        Type      `json:"type"`
	Content     string    `json:"content"`
	MediaRef    string    `json:"media_ref,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	FromMe      bool      `json:"from_me,omitempty"`
}

func (in *Inbound) Validate() error {
	return validation.ValidateStruct(in,
		validation.Field(&in.MessageID, validation.Required),
		validation.Field(&in.SenderPhone, validation.Required),
		validation.Field(&in.Type, validation.Required, validation.In(Types...)),
	)
}

// DecodeInbound parses and validates a buffered waitlist entry.
func DecodeInbound(key string, raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	if err := in.Validate(); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	return &in, nil
}

// ToMessage converts the delivery into its log representation.
func (in Inbound) ToMessage() *Message {
	dir := FromUser
	if in.FromMe {
		dir = FromMe
	}
	return &Message{
		ID:        in.MessageID,
		Direction: dir,
		Type:      in.Type,
		Content:   in.Content,
		MediaRef:  in.MediaRef,
		Status:    StatusReceived,
		Timestamp: in.Timestamp,
	}
}

// Log is the append-only, length-capped conversation history of a candidate.
type Log interface {
	// Append assigns ID and Timestamp when absent and returns the stored message.
	Append(ctx context.Context, candidateID string, msg *Message) (*Message, error)

	// List returns at most limit of the most recent messages, oldest first.
	// limit <= 0 returns the whole retained log.
	List(ctx context.Context, candidateID string, limit int) ([]Message, error)
}
