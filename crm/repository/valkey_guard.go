package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-recruit/crm/domain/guard"
	"github.com/AzielCF/az-recruit/crm/domain/message"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
)

// refreshLockScript extends KEYS[1] only while it still holds our token.
var refreshLockScript = valkeylib.NewLuaScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseIfIdleScript frees the lock only when the waitlist is empty. Doing
// both checks server-side closes the window where a contender enqueues right
// after the holder's last drain.
var releaseIfIdleScript = valkeylib.NewLuaScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return -1
end
if redis.call("llen", KEYS[2]) > 0 then
	return 0
end
redis.call("del", KEYS[1])
return 1
`)

// drainScript reads and deletes the whole waitlist atomically.
var drainScript = valkeylib.NewLuaScript(`
local items = redis.call("lrange", KEYS[1], 0, -1)
redis.call("del", KEYS[1])
return items
`)

// ValkeyClaims implements guard.Claims.
type ValkeyClaims struct {
	client *valkey.Client
	keys   keyspace
	ttls   guard.TTLs
}

func NewValkeyClaims(client *valkey.Client, opts Options) *ValkeyClaims {
	opts = opts.withDefaults()
	return &ValkeyClaims{client: client, keys: keyspace{client: client}, ttls: opts.TTLs}
}

func (c *ValkeyClaims) TryClaim(ctx context.Context, messageID string) (bool, error) {
	inner := c.client.Inner()
	cmd := inner.B().Set().
		Key(c.keys.claim(messageID)).
		Value(string(guard.ClaimClaimed)).
		Nx().
		Ex(c.ttls.Claim).
		Build()

	err := inner.Do(ctx, cmd).Error()
	if err == nil {
		return true, nil
	}
	if valkey.IsNil(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to claim %s: %w", messageID, err)
}

func (c *ValkeyClaims) Commit(ctx context.Context, messageID string) error {
	inner := c.client.Inner()
	cmd := inner.B().Set().
		Key(c.keys.claim(messageID)).
		Value(string(guard.ClaimDone)).
		Ex(c.ttls.Done).
		Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to commit claim %s: %w", messageID, err)
	}
	return nil
}

func (c *ValkeyClaims) Release(ctx context.Context, messageID string) error {
	err := compareAndDeleteScript.Exec(ctx, c.client.Inner(),
		[]string{c.keys.claim(messageID)},
		[]string{string(guard.ClaimClaimed)},
	).Error()
	if err != nil {
		return fmt.Errorf("failed to release claim %s: %w", messageID, err)
	}
	return nil
}

func (c *ValkeyClaims) State(ctx context.Context, messageID string) (guard.ClaimState, error) {
	inner := c.client.Inner()
	v, err := inner.Do(ctx, inner.B().Get().Key(c.keys.claim(messageID)).Build()).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return guard.ClaimAbsent, nil
		}
		return guard.ClaimAbsent, fmt.Errorf("failed to read claim %s: %w", messageID, err)
	}
	return guard.ClaimState(v), nil
}

// ValkeyLocks implements guard.Locks with token-owned SET NX keys.
type ValkeyLocks struct {
	client *valkey.Client
	keys   keyspace
	ttls   guard.TTLs
}

func NewValkeyLocks(client *valkey.Client, opts Options) *ValkeyLocks {
	opts = opts.withDefaults()
	return &ValkeyLocks{client: client, keys: keyspace{client: client}, ttls: opts.TTLs}
}

func (l *ValkeyLocks) TryAcquire(ctx context.Context, candidateID string) (*guard.Lease, bool, error) {
	token := uuid.New().String()
	inner := l.client.Inner()
	cmd := inner.B().Set().
		Key(l.keys.lock(candidateID)).
		Value(token).
		Nx().
		PxMilliseconds(l.ttls.Lock.Milliseconds()).
		Build()

	err := inner.Do(ctx, cmd).Error()
	if err == nil {
		return &guard.Lease{CandidateID: candidateID, Token: token, AcquiredAt: time.Now()}, true, nil
	}
	if valkey.IsNil(err) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("failed to acquire lock for %s: %w", candidateID, err)
}

func (l *ValkeyLocks) Release(ctx context.Context, lease *guard.Lease) error {
	err := compareAndDeleteScript.Exec(ctx, l.client.Inner(),
		[]string{l.keys.lock(lease.CandidateID)},
		[]string{lease.Token},
	).Error()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *ValkeyLocks) Refresh(ctx context.Context, lease *guard.Lease) (bool, error) {
	n, err := refreshLockScript.Exec(ctx, l.client.Inner(),
		[]string{l.keys.lock(lease.CandidateID)},
		[]string{lease.Token, fmt.Sprintf("%d", l.ttls.Lock.Milliseconds())},
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %w", err)
	}
	return n == 1, nil
}

func (l *ValkeyLocks) ReleaseIfIdle(ctx context.Context, lease *guard.Lease) (guard.ReleaseResult, error) {
	n, err := releaseIfIdleScript.Exec(ctx, l.client.Inner(),
		[]string{l.keys.lock(lease.CandidateID), l.keys.waitlist(lease.CandidateID)},
		[]string{lease.Token},
	).AsInt64()
	if err != nil {
		return guard.Lost, fmt.Errorf("failed to release lock: %w", err)
	}
	switch n {
	case 1:
		return guard.Released, nil
	case 0:
		return guard.Pending, nil
	default:
		return guard.Lost, nil
	}
}

// ValkeyWaitlist implements guard.Waitlist as a list of JSON deliveries.
type ValkeyWaitlist struct {
	client *valkey.Client
	keys   keyspace
	ttls   guard.TTLs
}

func NewValkeyWaitlist(client *valkey.Client, opts Options) *ValkeyWaitlist {
	opts = opts.withDefaults()
	return &ValkeyWaitlist{client: client, keys: keyspace{client: client}, ttls: opts.TTLs}
}

func (w *ValkeyWaitlist) Enqueue(ctx context.Context, candidateID string, in message.Inbound) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	key := w.keys.waitlist(candidateID)
	inner := w.client.Inner()
	_, err = w.client.Pipeline(ctx,
		inner.B().Rpush().Key(key).Element(string(data)).Build(),
		inner.B().Pexpire().Key(key).Milliseconds(w.ttls.Waitlist.Milliseconds()).Build(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	return nil
}

func (w *ValkeyWaitlist) Drain(ctx context.Context, candidateID string) ([]message.Inbound, error) {
	key := w.keys.waitlist(candidateID)
	raw, err := drainScript.Exec(ctx, w.client.Inner(), []string{key}, nil).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to drain waitlist: %w", err)
	}
	out := make([]message.Inbound, 0, len(raw))
	for _, entry := range raw {
		in, err := message.DecodeInbound(key, []byte(entry))
		if err != nil {
			logrus.WithError(err).Warn("[WAITLIST] Skipping corrupt entry")
			continue
		}
		out = append(out, *in)
	}
	return out, nil
}

func (w *ValkeyWaitlist) Len(ctx context.Context, candidateID string) (int64, error) {
	inner := w.client.Inner()
	n, err := inner.Do(ctx, inner.B().Llen().Key(w.keys.waitlist(candidateID)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to read waitlist length: %w", err)
	}
	return n, nil
}
