package repository

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// MemoryEventLog implements event.Log on a MemoryDB.
type MemoryEventLog struct {
	db *MemoryDB
}

func (l *MemoryEventLog) Append(ctx context.Context, e event.Event) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	prepareEvent(&e, l.db.now())
	l.db.events = appendCapped(l.db.events, e, l.db.opts.MaxEvents)
	return nil
}

func (l *MemoryEventLog) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	n := len(l.db.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]event.Event, 0, n)
	for i := len(l.db.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.db.events[i])
	}
	return out, nil
}

// MemoryCounters implements ledger.Counters on a MemoryDB.
type MemoryCounters struct {
	db *MemoryDB
}

func (c *MemoryCounters) Get(ctx context.Context, name string) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.db.counters[name], nil
}

func (c *MemoryCounters) Incr(ctx context.Context, name string) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.counters[name]++
	return c.db.counters[name], nil
}

func (c *MemoryCounters) All(ctx context.Context, names ...string) (map[string]int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = c.db.counters[name]
	}
	return out, nil
}

// MemoryWriter implements ledger.Writer. The whole bundle is applied under the
// shared MemoryDB mutex.
type MemoryWriter struct {
	db *MemoryDB
}

func (w *MemoryWriter) Commit(ctx context.Context, fx ledger.Effects) (bool, error) {
	if fx.CandidateID == "" {
		return false, ledger.ErrMissingCandidate
	}

	w.db.mu.Lock()
	defer w.db.mu.Unlock()

	now := w.db.now().UTC()
	c, ok := w.db.candidates[fx.CandidateID]
	if !ok {
		return false, candidate.ErrNotFound
	}

	var msg message.Message
	if fx.Message != nil {
		if err := prepareMessage(fx.Message, now); err != nil {
			return false, fmt.Errorf("invalid message: %w", err)
		}
		if expireAt, ok := w.db.applied[fx.Message.ID]; ok && now.Before(expireAt) {
			return false, nil
		}
		msg = *fx.Message
	}

	// Validation is done; nothing below can fail.
	if fx.Message != nil {
		w.db.applied[msg.ID] = now.Add(w.db.opts.TTLs.Done)
	}

	updates := fx.CandidateUpdates
	updates.Phone = nil
	updates.Apply(c, now)

	if fx.Message != nil {
		if msg.Direction == message.FromUser {
			c.InboundCount++
		} else {
			c.OutboundCount++
		}
		w.db.messages[fx.CandidateID] = appendCapped(w.db.messages[fx.CandidateID], msg, w.db.opts.MaxMessages)
	}

	if fx.AuditEvent != nil {
		ev := *fx.AuditEvent
		prepareEvent(&ev, now)
		if ev.CandidateID == "" {
			ev.CandidateID = fx.CandidateID
		}
		w.db.events = appendCapped(w.db.events, ev, w.db.opts.MaxEvents)
	}

	if fx.CounterName != "" {
		w.db.counters[fx.CounterName]++
	}
	return true, nil
}
