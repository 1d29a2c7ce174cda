package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-recruit/crm/domain/message"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
)

// ValkeyMessageLog implements message.Log as one capped list per candidate.
type ValkeyMessageLog struct {
	client *valkey.Client
	keys   keyspace
	max    int
}

func NewValkeyMessageLog(client *valkey.Client, opts Options) *ValkeyMessageLog {
	opts = opts.withDefaults()
	return &ValkeyMessageLog{client: client, keys: keyspace{client: client}, max: opts.MaxMessages}
}

func prepareMessage(msg *message.Message, now time.Time) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now.UTC()
	}
	if msg.Type == "" {
		msg.Type = message.TypeText
	}
	return msg.Validate()
}

// Append pushes and trims in the same pipelined round trip.
func (l *ValkeyMessageLog) Append(ctx context.Context, candidateID string, msg *message.Message) (*message.Message, error) {
	if err := prepareMessage(msg, time.Now()); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	key := l.keys.messages(candidateID)
	inner := l.client.Inner()
	_, err = l.client.Pipeline(ctx,
		inner.B().Rpush().Key(key).Element(string(data)).Build(),
		inner.B().Ltrim().Key(key).Start(int64(-l.max)).Stop(-1).Build(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func (l *ValkeyMessageLog) List(ctx context.Context, candidateID string, limit int) ([]message.Message, error) {
	key := l.keys.messages(candidateID)
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	inner := l.client.Inner()
	raw, err := inner.Do(ctx, inner.B().Lrange().Key(key).Start(start).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]message.Message, 0, len(raw))
	for _, entry := range raw {
		msg, err := message.Decode(key, []byte(entry))
		if err != nil {
			logrus.WithError(err).Warn("[MESSAGES] Skipping corrupt log entry")
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}
