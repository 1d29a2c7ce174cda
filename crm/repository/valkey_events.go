package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/infrastructure/valkey"
)

// ValkeyEventLog implements event.Log as one capped list, newest at the tail.
type ValkeyEventLog struct {
	client *valkey.Client
	keys   keyspace
	max    int
}

func NewValkeyEventLog(client *valkey.Client, opts Options) *ValkeyEventLog {
	opts = opts.withDefaults()
	return &ValkeyEventLog{client: client, keys: keyspace{client: client}, max: opts.MaxEvents}
}

func prepareEvent(e *event.Event, now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = now.UTC()
	}
}

func (l *ValkeyEventLog) Append(ctx context.Context, e event.Event) error {
	prepareEvent(&e, time.Now())
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	inner := l.client.Inner()
	_, err = l.client.Pipeline(ctx,
		inner.B().Rpush().Key(l.keys.events()).Element(string(data)).Build(),
		inner.B().Ltrim().Key(l.keys.events()).Start(int64(-l.max)).Stop(-1).Build(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (l *ValkeyEventLog) Recent(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	key := l.keys.events()
	inner := l.client.Inner()
	raw, err := inner.Do(ctx, inner.B().Lrange().Key(key).Start(int64(-limit)).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	out := make([]event.Event, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		e, err := event.Decode(key, []byte(raw[i]))
		if err != nil {
			logrus.WithError(err).Warn("[EVENTS] Skipping corrupt event")
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// ValkeyCounters implements ledger.Counters with one integer key per name.
type ValkeyCounters struct {
	client *valkey.Client
	keys   keyspace
}

func NewValkeyCounters(client *valkey.Client) *ValkeyCounters {
	return &ValkeyCounters{client: client, keys: keyspace{client: client}}
}

func (c *ValkeyCounters) Get(ctx context.Context, name string) (int64, error) {
	inner := c.client.Inner()
	v, err := inner.Do(ctx, inner.B().Get().Key(c.keys.counter(name)).Build()).AsInt64()
	if err != nil {
		if valkey.IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return v, nil
}

func (c *ValkeyCounters) Incr(ctx context.Context, name string) (int64, error) {
	inner := c.client.Inner()
	v, err := inner.Do(ctx, inner.B().Incr().Key(c.keys.counter(name)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return v, nil
}

// All reads every named counter in one pipelined round trip.
func (c *ValkeyCounters) All(ctx context.Context, names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	if len(names) == 0 {
		return out, nil
	}
	inner := c.client.Inner()
	cmds := make(valkeylib.Commands, 0, len(names))
	for _, name := range names {
		cmds = append(cmds, inner.B().Get().Key(c.keys.counter(name)).Build())
	}
	for i, r := range inner.DoMulti(ctx, cmds...) {
		v, err := r.ToString()
		if err != nil {
			if valkey.IsNil(err) {
				out[names[i]] = 0
				continue
			}
			return nil, fmt.Errorf("failed to read counter %s: %w", names[i], err)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logrus.WithError(err).Warnf("[COUNTERS] Counter %s holds a non-integer", names[i])
			continue
		}
		out[names[i]] = n
	}
	return out, nil
}
