package repository

import "github.com/AzielCF/az-recruit/crm/domain/guard"

const (
	DefaultMaxMessages = 200
	DefaultMaxEvents   = 1000
)

// Options tunes retention and expiry for both backends.
type Options struct {
	TTLs        guard.TTLs
	MaxMessages int
	MaxEvents   int
}

func (o Options) withDefaults() Options {
	o.TTLs = o.TTLs.WithDefaults()
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	return o
}
