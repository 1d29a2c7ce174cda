// Package ledger describes the bundled write that makes one processing step
// visible: message append, candidate merge, audit event and global counter.
package ledger

import (
	"context"
	"errors"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// Counter names.
const (
	CounterInbound  = "messages_inbound"
	CounterOutbound = "messages_outbound"
	CounterManual   = "messages_manual"
	CounterDup      = "deliveries_duplicate"
	CounterErrors   = "processing_errors"
)

var ErrMissingCandidate = errors.New("effects require a candidate id")

// Effects is everything one step wants to persist. Message, AuditEvent and
// CounterName are optional. A phone in CandidateUpdates is ignored: phone
// changes go through candidate.Store.Update, which owns the index.
type Effects struct {
	CandidateID      string
	Message          *message.Message
	CandidateUpdates candidate.Patch
	AuditEvent       *event.Event
	CounterName      string
}

// Writer applies Effects with all-or-nothing visibility. When the bundle
// carries a message, its id keys an applied marker: a second Commit of the
// same message returns applied=false and changes nothing.
type Writer interface {
	Commit(ctx context.Context, fx Effects) (applied bool, err error)
}

// Counters reads the global counters the writer increments.
type Counters interface {
	Get(ctx context.Context, name string) (int64, error)
	Incr(ctx context.Context, name string) (int64, error)
	All(ctx context.Context, names ...string) (map[string]int64, error)
}

// Names lists every counter the ingestion path writes.
func Names() []string {
	return []string{CounterInbound, CounterOutbound, CounterManual, CounterDup, CounterErrors}
}
