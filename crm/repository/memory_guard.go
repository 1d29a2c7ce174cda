package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/AzielCF/az-recruit/crm/domain/guard"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// MemoryClaims implements guard.Claims on a MemoryDB.
type MemoryClaims struct {
	db *MemoryDB
}

func (c *MemoryClaims) TryClaim(ctx context.Context, messageID string) (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	now := c.db.now()
	if v, ok := c.db.claims[messageID]; ok && v.alive(now) {
		return false, nil
	}
	c.db.claims[messageID] = memoryValue{
		value:    string(guard.ClaimClaimed),
		expireAt: now.Add(c.db.opts.TTLs.Claim),
	}
	return true, nil
}

func (c *MemoryClaims) Commit(ctx context.Context, messageID string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	c.db.claims[messageID] = memoryValue{
		value:    string(guard.ClaimDone),
		expireAt: c.db.now().Add(c.db.opts.TTLs.Done),
	}
	return nil
}

func (c *MemoryClaims) Release(ctx context.Context, messageID string) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if v, ok := c.db.claims[messageID]; ok && v.value == string(guard.ClaimClaimed) {
		delete(c.db.claims, messageID)
	}
	return nil
}

func (c *MemoryClaims) State(ctx context.Context, messageID string) (guard.ClaimState, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	v, ok := c.db.claims[messageID]
	if !ok {
		return guard.ClaimAbsent, nil
	}
	if !v.alive(c.db.now()) {
		delete(c.db.claims, messageID)
		return guard.ClaimAbsent, nil
	}
	return guard.ClaimState(v.value), nil
}

// MemoryLocks implements guard.Locks on a MemoryDB.
type MemoryLocks struct {
	db *MemoryDB
}

func (l *MemoryLocks) TryAcquire(ctx context.Context, candidateID string) (*guard.Lease, bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	now := l.db.now()
	if v, ok := l.db.locks[candidateID]; ok && v.alive(now) {
		return nil, false, nil
	}
	lease := &guard.Lease{CandidateID: candidateID, Token: uuid.NewString(), AcquiredAt: now}
	l.db.locks[candidateID] = memoryValue{value: lease.Token, expireAt: now.Add(l.db.opts.TTLs.Lock)}
	return lease, true, nil
}

// ownsLocked reports whether lease still holds a live lock.
func (l *MemoryLocks) ownsLocked(lease *guard.Lease) bool {
	v, ok := l.db.locks[lease.CandidateID]
	return ok && v.alive(l.db.now()) && v.value == lease.Token
}

func (l *MemoryLocks) Release(ctx context.Context, lease *guard.Lease) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	if l.ownsLocked(lease) {
		delete(l.db.locks, lease.CandidateID)
	}
	return nil
}

func (l *MemoryLocks) Refresh(ctx context.Context, lease *guard.Lease) (bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	if !l.ownsLocked(lease) {
		return false, nil
	}
	l.db.locks[lease.CandidateID] = memoryValue{
		value:    lease.Token,
		expireAt: l.db.now().Add(l.db.opts.TTLs.Lock),
	}
	return true, nil
}

func (l *MemoryLocks) ReleaseIfIdle(ctx context.Context, lease *guard.Lease) (guard.ReleaseResult, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	if !l.ownsLocked(lease) {
		return guard.Lost, nil
	}
	if q := l.db.liveQueueLocked(lease.CandidateID); q != nil && len(q.items) > 0 {
		return guard.Pending, nil
	}
	delete(l.db.locks, lease.CandidateID)
	return guard.Released, nil
}

// MemoryWaitlist implements guard.Waitlist on a MemoryDB.
type MemoryWaitlist struct {
	db *MemoryDB
}

func (db *MemoryDB) liveQueueLocked(candidateID string) *memoryQueue {
	q, ok := db.waitlists[candidateID]
	if !ok {
		return nil
	}
	if !db.now().Before(q.expireAt) {
		delete(db.waitlists, candidateID)
		return nil
	}
	return q
}

func (w *MemoryWaitlist) Enqueue(ctx context.Context, candidateID string, in message.Inbound) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()

	q := w.db.liveQueueLocked(candidateID)
	if q == nil {
		q = &memoryQueue{}
		w.db.waitlists[candidateID] = q
	}
	q.items = append(q.items, in)
	q.expireAt = w.db.now().Add(w.db.opts.TTLs.Waitlist)
	return nil
}

func (w *MemoryWaitlist) Drain(ctx context.Context, candidateID string) ([]message.Inbound, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()

	q := w.db.liveQueueLocked(candidateID)
	delete(w.db.waitlists, candidateID)
	if q == nil {
		return nil, nil
	}
	return q.items, nil
}

func (w *MemoryWaitlist) Len(ctx context.Context, candidateID string) (int64, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()

	q := w.db.liveQueueLocked(candidateID)
	if q == nil {
		return 0, nil
	}
	return int64(len(q.items)), nil
}
