package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
	"github.com/AzielCF/az-recruit/crm/domain/message"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
)

// commitEffectsScript applies one ledger.Effects bundle.
//
// KEYS: applied marker, candidate hash, message log, event log, counter.
// ARGV: message json, marker ttl ms, max messages, event json, max events,
// counter flag, candidate count field, then candidate field/value pairs.
//
// The candidate must exist. The applied marker is checked before any write,
// and the counter goes last.
var commitEffectsScript = valkeylib.NewLuaScript(`
if redis.call("exists", KEYS[2]) == 0 then
	return -1
end
if ARGV[1] ~= "" then
	if not redis.call("set", KEYS[1], "1", "NX", "PX", ARGV[2]) then
		return 0
	end
end
if #ARGV > 7 then
	redis.call("hset", KEYS[2], unpack(ARGV, 8))
end
if ARGV[7] ~= "" then
	redis.call("hincrby", KEYS[2], ARGV[7], 1)
end
if ARGV[1] ~= "" then
	redis.call("rpush", KEYS[3], ARGV[1])
	redis.call("ltrim", KEYS[3], -tonumber(ARGV[3]), -1)
end
if ARGV[4] ~= "" then
	redis.call("rpush", KEYS[4], ARGV[4])
	redis.call("ltrim", KEYS[4], -tonumber(ARGV[5]), -1)
end
if ARGV[6] == "1" then
	redis.call("incr", KEYS[5])
end
return 1
`)

// ValkeyWriter implements ledger.Writer as a single server-side script: one
// round trip, and no reader can observe a message without its candidate update.
type ValkeyWriter struct {
	client *valkey.Client
	keys   keyspace
	opts   Options
	now    func() time.Time
}

func NewValkeyWriter(client *valkey.Client, opts Options) *ValkeyWriter {
	return &ValkeyWriter{
		client: client,
		keys:   keyspace{client: client},
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

func (w *ValkeyWriter) Commit(ctx context.Context, fx ledger.Effects) (bool, error) {
	if fx.CandidateID == "" {
		return false, ledger.ErrMissingCandidate
	}
	now := w.now().UTC()

	var (
		msgJSON    string
		markerKey  = w.keys.applied("-")
		countField string
	)
	if fx.Message != nil {
		if err := prepareMessage(fx.Message, now); err != nil {
			return false, fmt.Errorf("invalid message: %w", err)
		}
		data, err := json.Marshal(fx.Message)
		if err != nil {
			return false, fmt.Errorf("failed to marshal message: %w", err)
		}
		msgJSON = string(data)
		markerKey = w.keys.applied(fx.Message.ID)
		countField = candidate.CountField(fx.Message.Direction != message.FromUser)
	}

	var eventJSON string
	if fx.AuditEvent != nil {
		ev := *fx.AuditEvent
		prepareEvent(&ev, now)
		if ev.CandidateID == "" {
			ev.CandidateID = fx.CandidateID
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return false, fmt.Errorf("failed to marshal event: %w", err)
		}
		eventJSON = string(data)
	}

	counterKey := w.keys.counter("-")
	counterFlag := "0"
	if fx.CounterName != "" {
		counterKey = w.keys.counter(fx.CounterName)
		counterFlag = "1"
	}

	args := []string{
		msgJSON,
		strconv.FormatInt(w.opts.TTLs.Done.Milliseconds(), 10),
		strconv.Itoa(w.opts.MaxMessages),
		eventJSON,
		strconv.Itoa(w.opts.MaxEvents),
		counterFlag,
		countField,
	}
	updates := fx.CandidateUpdates
	updates.Phone = nil
	args = append(args, updates.Pairs(now)...)

	keys := []string{
		markerKey,
		w.keys.candidate(fx.CandidateID),
		w.keys.messages(fx.CandidateID),
		w.keys.events(),
		counterKey,
	}

	res, err := commitEffectsScript.Exec(ctx, w.client.Inner(), keys, args).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to commit effects: %w", err)
	}
	switch res {
	case -1:
		return false, candidate.ErrNotFound
	case 0:
		return false, nil
	}
	return true, nil
}
