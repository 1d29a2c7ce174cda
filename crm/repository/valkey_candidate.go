package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
	"github.com/AzielCF/az-recruit/pkg/phone"
)

// hsetIfExistsScript merges fields into an existing hash and refuses to
// create one, so an update can never resurrect a deleted candidate.
var hsetIfExistsScript = valkeylib.NewLuaScript(`
if redis.call("exists", KEYS[1]) == 0 then
	return 0
end
redis.call("hset", KEYS[1], unpack(ARGV))
return 1
`)

// ValkeyCandidateStore implements candidate.Store with one hash per candidate,
// a string key per indexed phone and a set per 10-digit suffix.
type ValkeyCandidateStore struct {
	client *valkey.Client
	keys   keyspace
	now    func() time.Time

	// beforeClaim runs between the record write and the phone index claim.
	beforeClaim func(ctx context.Context, canonical, id string)
}

func NewValkeyCandidateStore(client *valkey.Client) *ValkeyCandidateStore {
	return &ValkeyCandidateStore{
		client: client,
		keys:   keyspace{client: client},
		now:    time.Now,
	}
}

func (s *ValkeyCandidateStore) inner() valkeylib.Client {
	return s.client.Inner()
}

// Create writes the record under a fresh id first and only then claims the
// phone index with SET NX. The loser of a first-contact race deletes its
// orphan record and attaches to the winner, whose record is already visible.
func (s *ValkeyCandidateStore) Create(ctx context.Context, canonical string, seed candidate.Patch) (*candidate.Candidate, bool, error) {
	existing, err := s.LookupPhone(ctx, canonical)
	if err != nil {
		return nil, false, err
	}
	if existing != "" {
		c, err := s.Get(ctx, existing)
		if !errors.Is(err, candidate.ErrNotFound) {
			return c, false, err
		}
		// Stale entry left by a partial delete.
		if err := compareAndDeleteScript.Exec(ctx, s.inner(), []string{s.keys.phone(canonical)}, []string{existing}).Error(); err != nil {
			return nil, false, fmt.Errorf("failed to drop stale phone index: %w", err)
		}
	}

	now := s.now().UTC()
	c := &candidate.Candidate{
		ID:        uuid.NewString(),
		Phone:     canonical,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seed.Phone = nil
	seed.Apply(c, now)
	if err := c.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid candidate: %w", err)
	}

	hset := s.inner().B().Hset().Key(s.keys.candidate(c.ID)).FieldValue()
	for f, v := range c.Fields() {
		hset = hset.FieldValue(f, v)
	}
	if err := s.inner().Do(ctx, hset.Build()).Error(); err != nil {
		return nil, false, fmt.Errorf("failed to write candidate: %w", err)
	}

	if s.beforeClaim != nil {
		s.beforeClaim(ctx, canonical, c.ID)
	}
	claim := s.inner().B().Set().Key(s.keys.phone(canonical)).Value(c.ID).Nx().Build()
	err = s.inner().Do(ctx, claim).Error()
	if err == nil {
		if suffix := phone.Suffix(canonical); suffix != "" {
			sadd := s.inner().B().Sadd().Key(s.keys.suffix(suffix)).Member(c.ID).Build()
			if err := s.inner().Do(ctx, sadd).Error(); err != nil {
				logrus.WithError(err).Warnf("[CANDIDATES] Failed to index suffix for %s", c.ID)
			}
		}
		return c, true, nil
	}
	if !valkey.IsNil(err) {
		_ = s.inner().Do(ctx, s.inner().B().Del().Key(s.keys.candidate(c.ID)).Build()).Error()
		return nil, false, fmt.Errorf("failed to index phone: %w", err)
	}

	// Lost the race.
	if err := s.inner().Do(ctx, s.inner().B().Del().Key(s.keys.candidate(c.ID)).Build()).Error(); err != nil {
		logrus.WithError(err).Warnf("[CANDIDATES] Failed to drop orphan record %s", c.ID)
	}
	winner, err := s.LookupPhone(ctx, canonical)
	if err != nil {
		return nil, false, err
	}
	if winner == "" {
		return nil, false, fmt.Errorf("phone index for %s vanished during create", canonical)
	}
	won, err := s.Get(ctx, winner)
	return won, false, err
}

func (s *ValkeyCandidateStore) Get(ctx context.Context, id string) (*candidate.Candidate, error) {
	key := s.keys.candidate(id)
	fields, err := s.inner().Do(ctx, s.inner().B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	if len(fields) == 0 {
		return nil, candidate.ErrNotFound
	}
	return candidate.FromFields(key, fields)
}

func (s *ValkeyCandidateStore) Update(ctx context.Context, id string, patch candidate.Patch) (*candidate.Candidate, error) {
	var previous *candidate.Candidate
	if patch.Phone != nil {
		canonical := phone.Canonical(*patch.Phone)
		patch.Phone = &canonical
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		previous = cur
	}

	res, err := hsetIfExistsScript.Exec(ctx, s.inner(), []string{s.keys.candidate(id)}, patch.Pairs(s.now().UTC())).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("failed to update candidate: %w", err)
	}
	if res == 0 {
		return nil, candidate.ErrNotFound
	}

	if previous != nil && previous.Phone != *patch.Phone {
		if err := s.reindexPhone(ctx, id, previous.Phone, *patch.Phone); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// reindexPhone points the new phone at id (last writer wins) and drops the
// old entries only if they still point at id.
func (s *ValkeyCandidateStore) reindexPhone(ctx context.Context, id, oldPhone, newPhone string) error {
	cmds := valkeylib.Commands{
		s.inner().B().Set().Key(s.keys.phone(newPhone)).Value(id).Build(),
	}
	if suffix := phone.Suffix(newPhone); suffix != "" {
		cmds = append(cmds, s.inner().B().Sadd().Key(s.keys.suffix(suffix)).Member(id).Build())
	}
	if suffix := phone.Suffix(oldPhone); suffix != "" && suffix != phone.Suffix(newPhone) {
		cmds = append(cmds, s.inner().B().Srem().Key(s.keys.suffix(suffix)).Member(id).Build())
	}
	if _, err := s.client.Pipeline(ctx, cmds...); err != nil {
		return fmt.Errorf("failed to reindex phone: %w", err)
	}
	if err := compareAndDeleteScript.Exec(ctx, s.inner(), []string{s.keys.phone(oldPhone)}, []string{id}).Error(); err != nil {
		return fmt.Errorf("failed to drop old phone index: %w", err)
	}
	return nil
}

func (s *ValkeyCandidateStore) Delete(ctx context.Context, id string) (bool, error) {
	c, err := s.Get(ctx, id)
	if errors.Is(err, candidate.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	cmds := valkeylib.Commands{
		s.inner().B().Del().Key(s.keys.candidate(id), s.keys.messages(id), s.keys.waitlist(id)).Build(),
	}
	if suffix := phone.Suffix(c.Phone); suffix != "" {
		cmds = append(cmds, s.inner().B().Srem().Key(s.keys.suffix(suffix)).Member(id).Build())
	}
	if _, err := s.client.Pipeline(ctx, cmds...); err != nil {
		return false, fmt.Errorf("failed to delete candidate: %w", err)
	}
	if err := compareAndDeleteScript.Exec(ctx, s.inner(), []string{s.keys.phone(c.Phone)}, []string{id}).Error(); err != nil {
		return true, fmt.Errorf("failed to drop phone index: %w", err)
	}
	return true, nil
}

func (s *ValkeyCandidateStore) LookupPhone(ctx context.Context, p string) (string, error) {
	id, err := s.inner().Do(ctx, s.inner().B().Get().Key(s.keys.phone(p)).Build()).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to lookup phone: %w", err)
	}
	return id, nil
}

func (s *ValkeyCandidateStore) LookupSuffix(ctx context.Context, suffix string) ([]string, error) {
	ids, err := s.inner().Do(ctx, s.inner().B().Smembers().Key(s.keys.suffix(suffix)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to lookup suffix: %w", err)
	}
	return ids, nil
}

// ScanPhones uses SCAN so a large index never blocks the server.
func (s *ValkeyCandidateStore) ScanPhones(ctx context.Context, limit int, fn func(phone, id string) bool) error {
	prefix := s.keys.phone("")
	visited := 0
	var cursor uint64

	for {
		cmd := s.inner().B().Scan().Cursor(cursor).Match(s.keys.phonePattern()).Count(100).Build()
		entry, err := s.inner().Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return fmt.Errorf("failed to scan phone index: %w", err)
		}

		if len(entry.Elements) > 0 {
			gets := make(valkeylib.Commands, 0, len(entry.Elements))
			for _, k := range entry.Elements {
				gets = append(gets, s.inner().B().Get().Key(k).Build())
			}
			for i, r := range s.inner().DoMulti(ctx, gets...) {
				id, err := r.ToString()
				if err != nil {
					// Expired between SCAN and GET, or transient; skip either way.
					continue
				}
				visited++
				if !fn(entry.Elements[i][len(prefix):], id) || (limit > 0 && visited >= limit) {
					return nil
				}
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}
