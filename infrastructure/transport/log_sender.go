package transport

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogSender accepts every payload and only logs it. Used when no transport
// URL is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, phone string, payload Payload) (SendResult, error) {
	id := uuid.NewString()
	logrus.WithFields(logrus.Fields{
		"to":          phone,
		"type":        payload.Type,
		"delivery_id": id,
	}).Infof("[TRANSPORT] %s", payload.Text)
	return SendResult{DeliveryID: id, Accepted: true}, nil
}
