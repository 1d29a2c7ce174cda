package domain

import (
	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/guard"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
	"github.com/AzielCF/az-recruit/crm/domain/message"
)

// Stores bundles every persistence port of the ingestion core. Both the
// Valkey and the in-memory backends build one.
type Stores struct {
	Candidates candidate.Store
	Messages   message.Log
	Claims     guard.Claims
	Locks      guard.Locks
	Waitlist   guard.Waitlist
	Events     event.Log
	Counters   ledger.Counters
	Writer     ledger.Writer
}
