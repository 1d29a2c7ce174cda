package application

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/guard"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// abandonRounds bounds how often abandonLease retries a release that keeps
// finding fresh waitlist entries.
const abandonRounds = 5

// LockFunc runs once per processing unit with the candidate lock held. A
// failed unit has its claims released and the drain loop moves on to the
// next burst; the first such error is returned once the lock is released.
type LockFunc func(ctx context.Context, unit Unit, c *candidate.Candidate) error

// Admission is the lock decision taken for one accepted delivery.
type Admission struct {
	CandidateID string
	// Lease is nil when the delivery was queued for the current holder.
	Lease   *guard.Lease
	Pending []message.Inbound
}

func (a Admission) Queued() bool {
	return a.Lease == nil
}

// Admit takes the candidate lock for msg or queues msg for the holder. It
// never waits, so it can run on the request path and only lock holders need
// a worker. On error the delivery's claim is released.
func (in *Ingestor) Admit(ctx context.Context, candidateID string, msg message.Inbound) (Admission, error) {
	lease, pending, err := in.acquireOrEnqueue(ctx, candidateID, []message.Inbound{msg})
	if err != nil {
		in.releaseClaims(ctx, []message.Inbound{msg})
		return Admission{}, err
	}
	return Admission{CandidateID: candidateID, Lease: lease, Pending: pending}, nil
}

// ProcessAdmitted runs the drain loop for an admission that holds the lock.
// A queued admission returns Outcome{Queued: true} right away.
func (in *Ingestor) ProcessAdmitted(ctx context.Context, adm Admission) (Outcome, error) {
	if adm.Queued() {
		return Outcome{Queued: true}, nil
	}
	return in.runLocked(ctx, adm.Lease, adm.Pending, in.handleUnit)
}

// Withdraw gives up an admission that will not be processed. Its claims and
// those of anything queued behind its lease are released so provider retries
// can claim them again.
func (in *Ingestor) Withdraw(ctx context.Context, adm Admission) {
	logrus.Warnf("[LOCK] Withdrawing %d deliveries for %s", len(adm.Pending), adm.CandidateID)
	in.releaseClaims(ctx, adm.Pending)
	if adm.Lease != nil {
		in.abandonLease(ctx, adm.Lease)
	}
}

// WithCandidateLock runs fn for first under the candidate's lock, then keeps
// draining the waitlist and running fn on each aggregated burst until a drain
// comes back empty. When the lock is held elsewhere, first is queued for the
// holder and the call returns Outcome{Queued: true} without waiting.
func (in *Ingestor) WithCandidateLock(ctx context.Context, candidateID string, first message.Inbound, fn LockFunc) (Outcome, error) {
	lease, pending, err := in.acquireOrEnqueue(ctx, candidateID, []message.Inbound{first})
	if err != nil {
		return Outcome{}, err
	}
	if lease == nil {
		return Outcome{Queued: true}, nil
	}
	return in.runLocked(ctx, lease, pending, fn)
}

// acquireOrEnqueue either takes the lock and hands items back, or queues them
// and re-checks the lock exactly once. The re-check covers a holder that
// drained and released between our first attempt and the enqueue. A nil lease
// with a nil error means the items are queued for the current holder.
func (in *Ingestor) acquireOrEnqueue(ctx context.Context, candidateID string, items []message.Inbound) (*guard.Lease, []message.Inbound, error) {
	lease, ok, err := in.stores.Locks.TryAcquire(ctx, candidateID)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire lock for %s: %w", candidateID, err)
	}
	if ok {
		return lease, items, nil
	}

	for _, it := range items {
		if err := in.stores.Waitlist.Enqueue(ctx, candidateID, it); err != nil {
			return nil, nil, fmt.Errorf("enqueue %s: %w", it.MessageID, err)
		}
		logrus.Debugf("[LOCK] %s busy, queued %s", candidateID, it.MessageID)
		in.audit(ctx, event.Event{Kind: event.KindQueued, CandidateID: candidateID, MessageID: it.MessageID})
	}

	lease, ok, err = in.stores.Locks.TryAcquire(ctx, candidateID)
	if err != nil {
		// Queued already; whoever takes the lock next drains it.
		logrus.WithError(err).Warnf("[LOCK] Re-check for %s failed", candidateID)
		return nil, nil, nil
	}
	if !ok {
		return nil, nil, nil
	}
	return lease, nil, nil
}

func (in *Ingestor) runLocked(ctx context.Context, lease *guard.Lease, pending []message.Inbound, fn LockFunc) (out Outcome, err error) {
	candidateID := lease.CandidateID
	defer func() {
		if err != nil && lease != nil {
			in.abandonLease(ctx, lease)
		}
	}()

	var unitErr error

	if in.cfg.BurstWindow > 0 {
		if err := sleepContext(ctx, in.cfg.BurstWindow); err != nil {
			in.releaseClaims(ctx, pending)
			return out, err
		}
	}

	for {
		drained, err := in.stores.Waitlist.Drain(ctx, candidateID)
		if err != nil {
			in.releaseClaims(ctx, pending)
			return out, fmt.Errorf("drain waitlist for %s: %w", candidateID, err)
		}
		pending = append(pending, drained...)

		if len(pending) == 0 {
			res, err := in.stores.Locks.ReleaseIfIdle(ctx, lease)
			if err != nil {
				return out, fmt.Errorf("release lock for %s: %w", candidateID, err)
			}
			switch res {
			case guard.Released:
				lease = nil
				return out, unitErr
			case guard.Pending:
				continue
			}

			// Lost: the lease expired while we were idle. Take the lock back if
			// nobody else did, so entries queued meanwhile are not stranded.
			logrus.Warnf("[LOCK] Lease on %s expired before release", candidateID)
			next, ok, err := in.stores.Locks.TryAcquire(ctx, candidateID)
			if err != nil || !ok {
				lease = nil
				if err != nil {
					return out, fmt.Errorf("reacquire lock for %s: %w", candidateID, err)
				}
				return out, unitErr
			}
			lease = next
			continue
		}

		held, err := in.stores.Locks.Refresh(ctx, lease)
		if err != nil {
			in.releaseClaims(ctx, pending)
			return out, fmt.Errorf("refresh lock for %s: %w", candidateID, err)
		}
		if !held {
			logrus.Warnf("[LOCK] Lease on %s expired, handing back %d deliveries", candidateID, len(pending))
			items := pending
			lease, pending, err = in.acquireOrEnqueue(ctx, candidateID, items)
			if err != nil {
				in.releaseClaims(ctx, items)
				return out, err
			}
			if lease == nil {
				out.Queued = true
				return out, unitErr
			}
			continue
		}

		c, err := in.stores.Candidates.Get(ctx, candidateID)
		if err != nil {
			in.releaseClaims(ctx, pending)
			return out, fmt.Errorf("load candidate %s: %w", candidateID, err)
		}

		unit := NewUnit(candidateID, pending)
		pending = nil
		out.Units++
		if len(unit.Messages) > 1 {
			logrus.Infof("[LOCK] Processing burst of %d deliveries for %s", len(unit.Messages), candidateID)
		}
		if err := fn(ctx, unit, c); err != nil {
			logrus.WithError(err).Warnf("[LOCK] Unit of %d deliveries for %s failed", len(unit.Messages), candidateID)
			in.releaseClaims(ctx, unit.Messages)
			if unitErr == nil {
				unitErr = err
			}
			if ctx.Err() != nil {
				return out, unitErr
			}
		}
	}
}

// abandonLease releases the lock after the drain loop gave up. Entries still
// queued behind the lease are drained and their claims released, so nothing
// stays claimed without an owner.
func (in *Ingestor) abandonLease(ctx context.Context, lease *guard.Lease) {
	ctx = context.WithoutCancel(ctx)
	for i := 0; i < abandonRounds; i++ {
		drained, err := in.stores.Waitlist.Drain(ctx, lease.CandidateID)
		if err != nil {
			logrus.WithError(err).Warnf("[LOCK] Failed to drain %s while abandoning", lease.CandidateID)
			break
		}
		if len(drained) > 0 {
			logrus.Warnf("[LOCK] Handing back %d queued deliveries for %s", len(drained), lease.CandidateID)
			in.releaseClaims(ctx, drained)
		}

		res, err := in.stores.Locks.ReleaseIfIdle(ctx, lease)
		if err != nil {
			logrus.WithError(err).Warnf("[LOCK] Failed to release %s", lease.CandidateID)
			break
		}
		if res != guard.Pending {
			return
		}
	}
	if err := in.stores.Locks.Release(ctx, lease); err != nil {
		logrus.WithError(err).Warnf("[LOCK] Failed to release %s", lease.CandidateID)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
