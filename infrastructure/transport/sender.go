// Package transport is the outbound half of the messaging channel: the core
// hands it a recipient phone and a payload and gets back a delivery receipt.
package transport

import (
	"context"

	"github.com/AzielCF/az-recruit/crm/domain/message"
)

type Payload struct {
	Type     message.Type `json:"type"`
	Text     string       `json:"text,omitempty"`
	MediaRef string       `json:"media_ref,omitempty"`
}

// SendResult is the transport's receipt. Accepted=false with a nil error means
// the transport answered but refused the message.
type SendResult struct {
	DeliveryID string `json:"delivery_id"`
	Accepted   bool   `json:"accepted"`
}

type Sender interface {
	Send(ctx context.Context, phone string, payload Payload) (SendResult, error)
}
