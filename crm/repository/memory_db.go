package repository

import (
	"sync"
	"time"

	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// MemoryDB is the in-process backend. All stores built on the same MemoryDB
// share one mutex, which gives the writer the same all-or-nothing visibility
// the Valkey script has. Expired entries are dropped lazily on access.
// Data is lost on restart.
type MemoryDB struct {
	mu   sync.Mutex
	now  func() time.Time
	opts Options

	candidates map[string]*candidate.Candidate
	phones     map[string]string
	suffixes   map[string]map[string]struct{}
	messages   map[string][]message.Message
	claims     map[string]memoryValue
	applied    map[string]time.Time
	locks      map[string]memoryValue
	waitlists  map[string]*memoryQueue
	events     []event.Event
	counters   map[string]int64
}

type memoryValue struct {
	value    string
	expireAt time.Time
}

func (v memoryValue) alive(now time.Time) bool {
	return now.Before(v.expireAt)
}

type memoryQueue struct {
	items    []message.Inbound
	expireAt time.Time
}

type MemoryOption func(*MemoryDB)

// WithClock replaces time.Now, mainly so tests can step over TTLs.
func WithClock(now func() time.Time) MemoryOption {
	return func(db *MemoryDB) {
		db.now = now
	}
}

func NewMemoryDB(opts Options, options ...MemoryOption) *MemoryDB {
	db := &MemoryDB{
		now:        time.Now,
		opts:       opts.withDefaults(),
		candidates: make(map[string]*candidate.Candidate),
		phones:     make(map[string]string),
		suffixes:   make(map[string]map[string]struct{}),
		messages:   make(map[string][]message.Message),
		claims:     make(map[string]memoryValue),
		applied:    make(map[string]time.Time),
		locks:      make(map[string]memoryValue),
		waitlists:  make(map[string]*memoryQueue),
		counters:   make(map[string]int64),
	}
	for _, opt := range options {
		opt(db)
	}
	return db
}

// NewMemoryStores wires every store against a fresh MemoryDB.
func NewMemoryStores(opts Options, options ...MemoryOption) domain.Stores {
	return NewMemoryDB(opts, options...).Stores()
}

func (db *MemoryDB) Stores() domain.Stores {
	return domain.Stores{
		Candidates: &MemoryCandidateStore{db: db},
		Messages:   &MemoryMessageLog{db: db},
		Claims:     &MemoryClaims{db: db},
		Locks:      &MemoryLocks{db: db},
		Waitlist:   &MemoryWaitlist{db: db},
		Events:     &MemoryEventLog{db: db},
		Counters:   &MemoryCounters{db: db},
		Writer:     &MemoryWriter{db: db},
	}
}

// appendCapped keeps the newest max entries.
func appendCapped[T any](list []T, item T, max int) []T {
	list = append(list, item)
	if len(list) > max {
		trimmed := make([]T, max)
		copy(trimmed, list[len(list)-max:])
		list = trimmed
	}
	return list
}
