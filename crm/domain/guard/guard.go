// Package guard holds the two coordination primitives of the ingestion path,
// the per-message deduplication claim and the per-candidate processing lock,
// plus the waitlist that buffers deliveries while a candidate is locked.
//
// Every marker is TTL-bounded so a crashed holder can never wedge a message id
// or a candidate. The TTLs must keep ClaimTTL < provider retry interval < DoneTTL.
package guard

import (
	"context"
	"time"

	"github.com/AzielCF/az-recruit/crm/domain/message"
)

const (
	// DefaultClaimTTL bounds an in-flight claim. It is shorter than the two
	// minute minimum WhatsApp Cloud waits before retrying a webhook, so a
	// crashed delivery is retryable on the first redelivery.
	DefaultClaimTTL = 2 * time.Minute

	// DefaultDoneTTL keeps committed ids long enough to reject late replays.
	DefaultDoneTTL = 24 * time.Hour

	// DefaultLockTTL is three times the expected AI call plus send latency.
	DefaultLockTTL = 30 * time.Second

	// DefaultWaitlistTTL expires buffered deliveries nobody drained.
	DefaultWaitlistTTL = 10 * time.Minute
)

type TTLs struct {
	Claim    time.Duration
	Done     time.Duration
	Lock     time.Duration
	Waitlist time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Claim:    DefaultClaimTTL,
		Done:     DefaultDoneTTL,
		Lock:     DefaultLockTTL,
		Waitlist: DefaultWaitlistTTL,
	}
}

// WithDefaults fills zero values.
func (t TTLs) WithDefaults() TTLs {
	d := DefaultTTLs()
	if t.Claim <= 0 {
		t.Claim = d.Claim
	}
	if t.Done <= 0 {
		t.Done = d.Done
	}
	if t.Lock <= 0 {
		t.Lock = d.Lock
	}
	if t.Waitlist <= 0 {
		t.Waitlist = d.Waitlist
	}
	return t
}

type ClaimState string

const (
	ClaimAbsent  ClaimState = ""
	ClaimClaimed ClaimState = "claimed"
	ClaimDone    ClaimState = "done"
)

// Claims is the deduplication guard keyed by inbound message id.
// Transitions: absent -> claimed -> done, or claimed -> absent. Never out of done.
type Claims interface {
	// TryClaim is a single set-if-absent. false means duplicate delivery.
	TryClaim(ctx context.Context, messageID string) (bool, error)

	// Commit promotes the id to done with the long TTL.
	Commit(ctx context.Context, messageID string) error

	// Release drops an in-flight claim so a retry can proceed. A done id is left alone.
	Release(ctx context.Context, messageID string) error

	State(ctx context.Context, messageID string) (ClaimState, error)
}

// Lease identifies one successful lock acquisition.
type Lease struct {
	CandidateID string
	Token       string
	AcquiredAt  time.Time
}

type ReleaseResult int

const (
	// Released means the lock is gone and the waitlist was empty.
	Released ReleaseResult = iota
	// Pending means entries arrived in the waitlist; the holder keeps the lock.
	Pending
	// Lost means the lease expired and someone else (or nobody) holds the lock now.
	Lost
)

func (r ReleaseResult) String() string {
	switch r {
	case Released:
		return "released"
	case Pending:
		return "pending"
	case Lost:
		return "lost"
	}
	return "unknown"
}

// Locks is the per-candidate processing lock.
type Locks interface {
	// TryAcquire never waits. ok=false means another invocation holds the candidate.
	TryAcquire(ctx context.Context, candidateID string) (lease *Lease, ok bool, err error)

	// Release frees the lock only if the lease still owns it.
	Release(ctx context.Context, lease *Lease) error

	// Refresh pushes the expiry out by a full TTL. false means the lease was lost.
	Refresh(ctx context.Context, lease *Lease) (bool, error)

	// ReleaseIfIdle frees the lock only when the candidate's waitlist is empty,
	// in one atomic step.
	ReleaseIfIdle(ctx context.Context, lease *Lease) (ReleaseResult, error)
}

// Waitlist buffers deliveries that arrived while the candidate was locked.
type Waitlist interface {
	Enqueue(ctx context.Context, candidateID string, in message.Inbound) error

	// Drain returns the queued entries in arrival order and empties the queue
	// in the same atomic step. Corrupt entries are skipped.
	Drain(ctx context.Context, candidateID string) ([]message.Inbound, error)

	Len(ctx context.Context, candidateID string) (int64, error)
}
