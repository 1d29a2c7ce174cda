package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/pkg/phone"
)

// DefaultMaxSuffixScan bounds the last-resort walk of the phone index.
const DefaultMaxSuffixScan = 500

// Resolver maps the phone formats a transport delivers onto one candidate.
type Resolver struct {
	candidates candidate.Store
	maxScan    int
}

func NewResolver(candidates candidate.Store, maxScan int) *Resolver {
	if maxScan <= 0 {
		maxScan = DefaultMaxSuffixScan
	}
	return &Resolver{candidates: candidates, maxScan: maxScan}
}

// Resolve is a pure read. It probes the exact digits, then the known Mexican
// variants, then the suffix index, and finally a bounded scan of the phone
// index. Zero or several suffix matches are reported as candidate.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	for _, v := range phone.Variants(raw) {
		id, err := r.candidates.LookupPhone(ctx, v)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}

	suffix := phone.Suffix(raw)
	if suffix == "" {
		return "", candidate.ErrNotFound
	}

	ids, err := r.candidates.LookupSuffix(ctx, suffix)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
	default:
		logrus.Warnf("[RESOLVER] Suffix %s matches %d candidates, treating as unknown", suffix, len(ids))
		return "", candidate.ErrNotFound
	}

	return r.scan(ctx, suffix)
}

// scan covers index entries written without a suffix entry, e.g. phones that
// predate the suffix index.
func (r *Resolver) scan(ctx context.Context, suffix string) (string, error) {
	matches := make(map[string]struct{})
	err := r.candidates.ScanPhones(ctx, r.maxScan, func(p, id string) bool {
		if phone.Suffix(p) == suffix {
			matches[id] = struct{}{}
		}
		return len(matches) < 2
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan phone index: %w", err)
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			logrus.Warnf("[RESOLVER] Scan found several candidates for suffix %s", suffix)
		}
		return "", candidate.ErrNotFound
	}
	for id := range matches {
		return id, nil
	}
	return "", candidate.ErrNotFound
}

// ResolveOrCreate returns the candidate behind raw, creating it under the
// canonical phone when nothing resolves. created reports a fresh record.
func (r *Resolver) ResolveOrCreate(ctx context.Context, raw string, seed candidate.Patch) (*candidate.Candidate, bool, error) {
	id, err := r.Resolve(ctx, raw)
	switch {
	case err == nil:
		c, err := r.candidates.Get(ctx, id)
		if err == nil {
			return c, false, nil
		}
		if !errors.Is(err, candidate.ErrNotFound) {
			return nil, false, err
		}
		// Index entry outlived its record.
		logrus.Warnf("[RESOLVER] Phone index points at missing candidate %s", id)
	case !errors.Is(err, candidate.ErrNotFound):
		return nil, false, err
	}

	if !phone.Valid(raw) {
		return nil, false, fmt.Errorf("cannot create candidate for %q: %w", raw, errInvalidPhone)
	}
	return r.candidates.Create(ctx, phone.Canonical(raw), seed)
}
