package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/guard"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// testOptions keeps the caps small enough to observe trimming.
var testOptions = Options{MaxMessages: 3, MaxEvents: 5}

// runStoreContract exercises behavior every backend must share. newStores
// must return stores over an empty keyspace.
func runStoreContract(t *testing.T, newStores func(t *testing.T) domain.Stores) {
	t.Run("ClaimLifecycle", func(t *testing.T) { testClaimLifecycle(t, newStores(t)) })
	t.Run("CandidateCRUD", func(t *testing.T) { testCandidateCRUD(t, newStores(t)) })
	t.Run("CandidateCreateRace", func(t *testing.T) { testCandidateCreateRace(t, newStores(t)) })
	t.Run("CandidatePhoneChange", func(t *testing.T) { testCandidatePhoneChange(t, newStores(t)) })
	t.Run("ScanPhones", func(t *testing.T) { testScanPhones(t, newStores(t)) })
	t.Run("MessageLogCap", func(t *testing.T) { testMessageLogCap(t, newStores(t)) })
	t.Run("LockOwnership", func(t *testing.T) { testLockOwnership(t, newStores(t)) })
	t.Run("ReleaseIfIdle", func(t *testing.T) { testReleaseIfIdle(t, newStores(t)) })
	t.Run("WaitlistOrder", func(t *testing.T) { testWaitlistOrder(t, newStores(t)) })
	t.Run("WriterIdempotent", func(t *testing.T) { testWriterIdempotent(t, newStores(t)) })
	t.Run("WriterMissingCandidate", func(t *testing.T) { testWriterMissingCandidate(t, newStores(t)) })
	t.Run("EventsNewestFirst", func(t *testing.T) { testEventsNewestFirst(t, newStores(t)) })
}

func strPtr(s string) *string { return &s }

func testClaimLifecycle(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	ok, err := s.Claims.TryClaim(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claims.TryClaim(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must be a duplicate")

	state, err := s.Claims.State(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, guard.ClaimClaimed, state)

	require.NoError(t, s.Claims.Release(ctx, "wamid.1"))
	state, err = s.Claims.State(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, guard.ClaimAbsent, state)

	ok, err = s.Claims.TryClaim(ctx, "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok, "released id is claimable again")

	require.NoError(t, s.Claims.Commit(ctx, "wamid.1"))
	require.NoError(t, s.Claims.Release(ctx, "wamid.1"))

	state, err = s.Claims.State(ctx, "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, guard.ClaimDone, state, "release never resurrects a done id")

	ok, err = s.Claims.TryClaim(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testCandidateCRUD(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	c, created, err := s.Candidates.Create(ctx, "528116038195", candidate.Patch{Name: strPtr("Ana")})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Ana", c.Name)
	assert.False(t, c.CreatedAt.IsZero())

	again, created, err := s.Candidates.Create(ctx, "528116038195", candidate.Patch{Name: strPtr("Other")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "Ana", again.Name)

	id, err := s.Candidates.LookupPhone(ctx, "528116038195")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	ids, err := s.Candidates.LookupSuffix(ctx, "8116038195")
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids)

	updated, err := s.Candidates.Update(ctx, c.ID, candidate.Patch{
		Attributes: map[string]string{"stage": "screening"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ana", updated.Name, "shallow merge keeps untouched fields")
	assert.Equal(t, "screening", updated.Attributes["stage"])
	assert.Equal(t, c.ID, updated.ID)
	assert.True(t, c.CreatedAt.Equal(updated.CreatedAt), "created_at is protected")

	got, err := s.Candidates.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Attributes, got.Attributes)

	deleted, err := s.Candidates.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Candidates.Get(ctx, c.ID)
	assert.ErrorIs(t, err, candidate.ErrNotFound)

	_, err = s.Candidates.Update(ctx, c.ID, candidate.Patch{Name: strPtr("ghost")})
	assert.ErrorIs(t, err, candidate.ErrNotFound, "update never recreates a deleted record")

	id, err = s.Candidates.LookupPhone(ctx, "528116038195")
	require.NoError(t, err)
	assert.Empty(t, id)

	deleted, err = s.Candidates.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testCandidateCreateRace(t *testing.T, s domain.Stores) {
	ctx := context.Background()
	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]int)
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, created, err := s.Candidates.Create(ctx, "5215512345678", candidate.Patch{})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[c.ID]++
			if created {
				winners++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1, "every racer converges on one candidate")
	assert.Equal(t, 1, winners)

	suffix, err := s.Candidates.LookupSuffix(ctx, "5512345678")
	require.NoError(t, err)
	assert.Len(t, suffix, 1)
}

func testCandidatePhoneChange(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	c, _, err := s.Candidates.Create(ctx, "528110000001", candidate.Patch{})
	require.NoError(t, err)

	updated, err := s.Candidates.Update(ctx, c.ID, candidate.Patch{Phone: strPtr("+52 1 811 000 0002")})
	require.NoError(t, err)
	assert.Equal(t, "528110000002", updated.Phone)

	id, err := s.Candidates.LookupPhone(ctx, "528110000001")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = s.Candidates.LookupPhone(ctx, "528110000002")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	ids, err := s.Candidates.LookupSuffix(ctx, "8110000001")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testScanPhones(t *testing.T, s domain.Stores) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := s.Candidates.Create(ctx, fmt.Sprintf("52811000100%d", i), candidate.Patch{})
		require.NoError(t, err)
	}

	seen := map[string]string{}
	err := s.Candidates.ScanPhones(ctx, 0, func(p, id string) bool {
		seen[p] = id
		return true
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)

	visited := 0
	err = s.Candidates.ScanPhones(ctx, 2, func(p, id string) bool {
		visited++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, visited)
}

func testMessageLogCap(t *testing.T, s domain.Stores) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Messages.Append(ctx, "cand-1", &message.Message{
			Direction: message.FromUser,
			Content:   fmt.Sprintf("m%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	all, err := s.Messages.List(ctx, "cand-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m2", all[0].Content)
	assert.Equal(t, "m4", all[2].Content)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, message.TypeText, all[0].Type)

	last, err := s.Messages.List(ctx, "cand-1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "m3", last[0].Content)

	_, err = s.Messages.Append(ctx, "cand-1", &message.Message{Direction: "robot"})
	assert.Error(t, err)
}

func testLockOwnership(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	lease, ok, err := s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, lease.Token)

	_, ok, err = s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	assert.False(t, ok, "lock is exclusive")

	stale := &guard.Lease{CandidateID: "cand-1", Token: "not-mine"}
	require.NoError(t, s.Locks.Release(ctx, stale))
	refreshed, err := s.Locks.Refresh(ctx, stale)
	require.NoError(t, err)
	assert.False(t, refreshed)

	_, ok, err = s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	assert.False(t, ok, "a foreign token cannot free the lock")

	refreshed, err = s.Locks.Refresh(ctx, lease)
	require.NoError(t, err)
	assert.True(t, refreshed)

	require.NoError(t, s.Locks.Release(ctx, lease))
	_, ok, err = s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func testReleaseIfIdle(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	lease, ok, err := s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Waitlist.Enqueue(ctx, "cand-1", inbound("w2", "hola")))

	res, err := s.Locks.ReleaseIfIdle(ctx, lease)
	require.NoError(t, err)
	assert.Equal(t, guard.Pending, res)

	_, ok, err = s.Locks.TryAcquire(ctx, "cand-1")
	require.NoError(t, err)
	assert.False(t, ok, "pending keeps the lock")

	drained, err := s.Waitlist.Drain(ctx, "cand-1")
	require.NoError(t, err)
	assert.Len(t, drained, 1)

	res, err = s.Locks.ReleaseIfIdle(ctx, lease)
	require.NoError(t, err)
	assert.Equal(t, guard.Released, res)

	res, err = s.Locks.ReleaseIfIdle(ctx, lease)
	require.NoError(t, err)
	assert.Equal(t, guard.Lost, res)
}

func testWaitlistOrder(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	for i, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.Waitlist.Enqueue(ctx, "cand-1", inbound(fmt.Sprintf("w%d", i), text)))
	}
	n, err := s.Waitlist.Len(ctx, "cand-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	items, err := s.Waitlist.Drain(ctx, "cand-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].Content)
	assert.Equal(t, "c", items[2].Content)

	items, err = s.Waitlist.Drain(ctx, "cand-1")
	require.NoError(t, err)
	assert.Empty(t, items)

	n, err = s.Waitlist.Len(ctx, "cand-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testWriterIdempotent(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	c, _, err := s.Candidates.Create(ctx, "528116038195", candidate.Patch{})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	fx := func() ledger.Effects {
		return ledger.Effects{
			CandidateID:      c.ID,
			Message:          inbound("w1", "Hola").ToMessage(),
			CandidateUpdates: candidate.Patch{LastUserMessageAt: &at},
			AuditEvent:       &event.Event{Kind: event.KindWebhookReceived, MessageID: "w1"},
			CounterName:      ledger.CounterInbound,
		}
	}

	applied, err := s.Writer.Commit(ctx, fx())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Writer.Commit(ctx, fx())
	require.NoError(t, err)
	assert.False(t, applied, "re-applying the same message is a no-op")

	msgs, err := s.Messages.List(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "w1", msgs[0].ID)

	got, err := s.Candidates.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.InboundCount)
	assert.True(t, at.Equal(got.LastUserMessageAt))

	n, err := s.Counters.Get(ctx, ledger.CounterInbound)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events, err := s.Events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, c.ID, events[0].CandidateID)
	assert.NotEmpty(t, events[0].ID)

	// A bundle without a message is not idempotent, it only merges.
	applied, err = s.Writer.Commit(ctx, ledger.Effects{
		CandidateID:      c.ID,
		CandidateUpdates: candidate.Patch{Name: strPtr("Ana")},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err = s.Candidates.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.EqualValues(t, 1, got.InboundCount)
}

func testWriterMissingCandidate(t *testing.T, s domain.Stores) {
	ctx := context.Background()

	_, err := s.Writer.Commit(ctx, ledger.Effects{})
	assert.ErrorIs(t, err, ledger.ErrMissingCandidate)

	applied, err := s.Writer.Commit(ctx, ledger.Effects{
		CandidateID: "does-not-exist",
		Message:     inbound("w9", "x").ToMessage(),
		CounterName: ledger.CounterInbound,
	})
	assert.ErrorIs(t, err, candidate.ErrNotFound)
	assert.False(t, applied)

	n, err := s.Counters.Get(ctx, ledger.CounterInbound)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is written for a missing candidate")
}

func testEventsNewestFirst(t *testing.T, s domain.Stores) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, s.Events.Append(ctx, event.Event{Kind: event.KindQueued, Detail: fmt.Sprintf("e%d", i)}))
	}

	events, err := s.Events.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 5, "event log is capped")
	assert.Equal(t, "e6", events[0].Detail)
	assert.Equal(t, "e2", events[4].Detail)

	events, err = s.Events.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	counts, err := s.Counters.All(ctx, ledger.Names()...)
	require.NoError(t, err)
	assert.Len(t, counts, len(ledger.Names()))
}

func inbound(id, text string) message.Inbound {
	return message.Inbound{
		MessageID:   id,
		SenderPhone: "5218116038195",
		Type:        message.TypeText,
		Content:     text,
		Timestamp:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

// testCandidateCreateLosesRace makes rival index the phone between the
// record write and the index claim of store, the window a concurrent first
// contact hits. store must attach to the rival's candidate and drop its own
// orphan record.
func testCandidateCreateLosesRace(t *testing.T, store, rival candidate.Store, setHook func(func(ctx context.Context, canonical, id string))) {
	ctx := context.Background()
	const p = "528116038195"

	var (
		orphanID string
		winner   *candidate.Candidate
	)
	setHook(func(ctx context.Context, canonical, id string) {
		orphanID = id
		c, created, err := rival.Create(ctx, canonical, candidate.Patch{Name: strPtr("Rival")})
		require.NoError(t, err)
		require.True(t, created)
		winner = c
	})

	got, created, err := store.Create(ctx, p, candidate.Patch{Name: strPtr("Loser")})
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.False(t, created)
	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, "Rival", got.Name)

	_, err = store.Get(ctx, orphanID)
	assert.ErrorIs(t, err, candidate.ErrNotFound, "orphan record must be removed")

	id, err := store.LookupPhone(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, id)

	ids, err := store.LookupSuffix(ctx, "8116038195")
	require.NoError(t, err)
	assert.Equal(t, []string{winner.ID}, ids)
}
