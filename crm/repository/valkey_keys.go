package repository

import (
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
	valkeylib "github.com/valkey-io/valkey-go"
)

// keyspace is the single source of key names for every Valkey store, so the
// transaction writer touches exactly the keys the individual stores read.
type keyspace struct {
	client *valkey.Client
}

func (k keyspace) candidate(id string) string { return k.client.Key("candidate", id) }
func (k keyspace) phone(canonical string) string { return k.client.Key("phone-index", canonical) }
func (k keyspace) phonePattern() string { return k.client.Key("phone-index", "*") }
func (k keyspace) suffix(last10 string) string { return k.client.Key("phone-suffix", last10) }
func (k keyspace) messages(candidateID string) string {
	return k.client.Key("messages", candidateID)
}
func (k keyspace) claim(messageID string) string { return k.client.Key("claim", messageID) }
func (k keyspace) applied(messageID string) string { return k.client.Key("applied", messageID) }
func (k keyspace) lock(candidateID string) string { return k.client.Key("lock", candidateID) }
func (k keyspace) waitlist(candidateID string) string { return k.client.Key("waitlist", candidateID) }
func (k keyspace) counter(name string) string { return k.client.Key("counters", name) }
func (k keyspace) events() string { return k.client.Key("events") }

// compareAndDeleteScript deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDeleteScript = valkeylib.NewLuaScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)
