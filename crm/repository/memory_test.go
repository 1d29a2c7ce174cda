package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/guard"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStores_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) domain.Stores {
		return NewMemoryStores(testOptions)
	})
}

func TestMemoryCandidates_CreateLosesRace(t *testing.T) {
	db := NewMemoryDB(testOptions)
	store := &MemoryCandidateStore{db: db}
	rival := &MemoryCandidateStore{db: db}

	testCandidateCreateLosesRace(t, store, rival, func(fn func(ctx context.Context, canonical, id string)) {
		store.beforeClaim = fn
	})

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Len(t, db.candidates, 1)
}

func TestMemoryLocks_ExpiredLeaseSelfHeals(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStores(testOptions, WithClock(clock.Now))

	crashed, ok, err := s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(guard.DefaultLockTTL - time.Second)
	_, ok, err = s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Second)
	next, ok, err := s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	require.True(t, ok, "lock is acquirable once the TTL elapses")

	// The crashed holder wakes up late and must not touch the new lease.
	require.NoError(t, s.Locks.Release(ctx, crashed))
	refreshed, err := s.Locks.Refresh(ctx, crashed)
	require.NoError(t, err)
	assert.False(t, refreshed)

	res, err := s.Locks.ReleaseIfIdle(ctx, crashed)
	require.NoError(t, err)
	assert.Equal(t, guard.Lost, res)

	refreshed, err = s.Locks.Refresh(ctx, next)
	require.NoError(t, err)
	assert.True(t, refreshed)
}

func TestMemoryLocks_RefreshExtendsTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStores(testOptions, WithClock(clock.Now))

	lease, ok, err := s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(20 * time.Second)
	refreshed, err := s.Locks.Refresh(ctx, lease)
	require.NoError(t, err)
	require.True(t, refreshed)

	clock.Advance(20 * time.Second)
	_, ok, err = s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	assert.False(t, ok, "refreshed lease is still held past the original expiry")
}

func TestMemoryClaims_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStores(testOptions, WithClock(clock.Now))

	ok, err := s.Claims.TryClaim(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	// A crashed claimant is retried after ClaimTTL.
	clock.Advance(guard.DefaultClaimTTL + time.Second)
	ok, err = s.Claims.TryClaim(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Claims.Commit(ctx, "w1"))
	clock.Advance(23 * time.Hour)
	ok, err = s.Claims.TryClaim(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok, "done outlives the provider retry window")

	clock.Advance(2 * time.Hour)
	state, err := s.Claims.State(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, guard.ClaimAbsent, state)
}

func TestMemoryWaitlist_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewMemoryStores(testOptions, WithClock(clock.Now))

	require.NoError(t, s.Waitlist.Enqueue(ctx, "cand-1", inbound("w1", "hola")))
	clock.Advance(guard.DefaultWaitlistTTL + time.Second)

	n, err := s.Waitlist.Len(ctx, "cand-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	items, err := s.Waitlist.Drain(ctx, "cand-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryStores_SharedDB(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryDB(testOptions)
	a, b := db.Stores(), db.Stores()

	c, created, err := a.Candidates.Create(ctx, "528116038195", candidateSeed())
	require.NoError(t, err)
	require.True(t, created)

	got, err := b.Candidates.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	// Returned values are copies.
	got.Attributes["stage"] = "mutated"
	again, err := a.Candidates.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", again.Attributes["stage"])
}

func candidateSeed() candidate.Patch {
	return candidate.Patch{Attributes: map[string]string{"stage": "new"}}
}
