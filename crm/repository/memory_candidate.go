package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/pkg/phone"
)

// MemoryCandidateStore implements candidate.Store on a MemoryDB. Create
// follows the same two steps as the Valkey store: record first, then the
// phone index, so a loser of the index race drops its orphan record.
type MemoryCandidateStore struct {
	db *MemoryDB

	// beforeClaim runs between the record write and the phone index claim.
	beforeClaim func(ctx context.Context, canonical, id string)
}

func (s *MemoryCandidateStore) Create(ctx context.Context, canonical string, seed candidate.Patch) (*candidate.Candidate, bool, error) {
	s.db.mu.Lock()
	if id, ok := s.db.phones[canonical]; ok {
		if c, ok := s.db.candidates[id]; ok {
			s.db.mu.Unlock()
			return c.Clone(), false, nil
		}
	}

	now := s.db.now().UTC()
	c := &candidate.Candidate{
		ID:        uuid.NewString(),
		Phone:     canonical,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seed.Phone = nil
	seed.Apply(c, now)
	if err := c.Validate(); err != nil {
		s.db.mu.Unlock()
		return nil, false, fmt.Errorf("invalid candidate: %w", err)
	}
	s.db.candidates[c.ID] = c
	s.db.mu.Unlock()

	if s.beforeClaim != nil {
		s.beforeClaim(ctx, canonical, c.ID)
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if id, ok := s.db.phones[canonical]; ok && id != c.ID {
		if winner, ok := s.db.candidates[id]; ok {
			delete(s.db.candidates, c.ID)
			return winner.Clone(), false, nil
		}
		// Stale entry left by a partial delete.
		s.db.unindexLocked(id, canonical)
	}
	if _, ok := s.db.candidates[c.ID]; !ok {
		return nil, false, fmt.Errorf("candidate %s deleted during create", c.ID)
	}
	s.db.indexLocked(c.ID, canonical)
	return c.Clone(), true, nil
}

func (db *MemoryDB) indexLocked(id, p string) {
	db.phones[p] = id
	if suffix := phone.Suffix(p); suffix != "" {
		set, ok := db.suffixes[suffix]
		if !ok {
			set = make(map[string]struct{})
			db.suffixes[suffix] = set
		}
		set[id] = struct{}{}
	}
}

func (db *MemoryDB) unindexLocked(id, p string) {
	if db.phones[p] == id {
		delete(db.phones, p)
	}
	if suffix := phone.Suffix(p); suffix != "" {
		delete(db.suffixes[suffix], id)
		if len(db.suffixes[suffix]) == 0 {
			delete(db.suffixes, suffix)
		}
	}
}

func (s *MemoryCandidateStore) Get(ctx context.Context, id string) (*candidate.Candidate, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.candidates[id]
	if !ok {
		return nil, candidate.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryCandidateStore) Update(ctx context.Context, id string, patch candidate.Patch) (*candidate.Candidate, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.candidates[id]
	if !ok {
		return nil, candidate.ErrNotFound
	}
	oldPhone := c.Phone
	if patch.Phone != nil {
		canonical := phone.Canonical(*patch.Phone)
		patch.Phone = &canonical
	}
	patch.Apply(c, s.db.now().UTC())
	if c.Phone != oldPhone {
		s.db.unindexLocked(id, oldPhone)
		s.db.indexLocked(id, c.Phone)
	}
	return c.Clone(), nil
}

func (s *MemoryCandidateStore) Delete(ctx context.Context, id string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.candidates[id]
	if !ok {
		return false, nil
	}
	s.db.unindexLocked(id, c.Phone)
	delete(s.db.candidates, id)
	delete(s.db.messages, id)
	delete(s.db.waitlists, id)
	return true, nil
}

func (s *MemoryCandidateStore) LookupPhone(ctx context.Context, p string) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.phones[p], nil
}

func (s *MemoryCandidateStore) LookupSuffix(ctx context.Context, suffix string) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	ids := make([]string, 0, len(s.db.suffixes[suffix]))
	for id := range s.db.suffixes[suffix] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ScanPhones visits a snapshot so fn may call back into the store.
func (s *MemoryCandidateStore) ScanPhones(ctx context.Context, limit int, fn func(phone, id string) bool) error {
	s.db.mu.Lock()
	phones := make([]string, 0, len(s.db.phones))
	for p := range s.db.phones {
		phones = append(phones, p)
	}
	snapshot := make(map[string]string, len(s.db.phones))
	for p, id := range s.db.phones {
		snapshot[p] = id
	}
	s.db.mu.Unlock()

	sort.Strings(phones)
	for i, p := range phones {
		if limit > 0 && i >= limit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(p, snapshot[p]) {
			return nil
		}
	}
	return nil
}
