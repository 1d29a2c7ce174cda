package repository

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// MemoryMessageLog implements message.Log on a MemoryDB.
type MemoryMessageLog struct {
	db *MemoryDB
}

func (l *MemoryMessageLog) Append(ctx context.Context, candidateID string, msg *message.Message) (*message.Message, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	if err := prepareMessage(msg, l.db.now()); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	l.db.messages[candidateID] = appendCapped(l.db.messages[candidateID], *msg, l.db.opts.MaxMessages)
	return msg, nil
}

func (l *MemoryMessageLog) List(ctx context.Context, candidateID string, limit int) ([]message.Message, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	all := l.db.messages[candidateID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]message.Message, len(all))
	copy(out, all)
	return out, nil
}
