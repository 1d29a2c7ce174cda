package repository

import (
	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
)

// NewValkeyStores wires every store against one shared client.
func NewValkeyStores(client *valkey.Client, opts Options) domain.Stores {
	return domain.Stores{
		Candidates: NewValkeyCandidateStore(client),
		Messages:   NewValkeyMessageLog(client, opts),
		Claims:     NewValkeyClaims(client, opts),
		Locks:      NewValkeyLocks(client, opts),
		Waitlist:   NewValkeyWaitlist(client, opts),
		Events:     NewValkeyEventLog(client, opts),
		Counters:   NewValkeyCounters(client),
		Writer:     NewValkeyWriter(client, opts),
	}
}
