package candidate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var ErrNotFound = pkgError.NotFoundError("candidate not found")

// Stored hash field names. Attributes live under AttrPrefix so they can never
// shadow a core field.
const (
	FieldID                = "id"
	FieldPhone             = "phone"
	FieldName              = "name"
	FieldCreatedAt         = "created_at"
	FieldUpdatedAt         = "updated_at"
	FieldLastUserMessageAt = "last_user_message_at"
	FieldLastBotMessageAt  = "last_bot_message_at"
	FieldInboundCount      = "inbound_count"
	FieldOutboundCount     = "outbound_count"
	AttrPrefix             = "attr."
)

// Candidate is one person talking to the recruiting line.
type Candidate struct {
	ID                string            `json:"id"`
	Phone             string            `json:"phone"`
	Name              string            `json:"name,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	LastUserMessageAt time.Time         `json:"last_user_message_at,omitempty"`
	LastBotMessageAt  time.Time         `json:"last_bot_message_at,omitempty"`
	InboundCount      int64             `json:"inbound_count"`
	OutboundCount     int64             `json:"outbound_count"`
}

func (c *Candidate) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Phone, validation.Required, is.Digit),
		validation.Field(&c.CreatedAt, validation.Required),
	)
}

func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Attributes != nil {
		clone.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			clone.Attributes[k] = v
		}
	}
	return &clone
}

// Fields flattens the candidate into hash fields for the initial write.
func (c *Candidate) Fields() map[string]string {
	m := map[string]string{
		FieldID:            c.ID,
		FieldPhone:         c.Phone,
		FieldCreatedAt:     formatTime(c.CreatedAt),
		FieldUpdatedAt:     formatTime(c.UpdatedAt),
		FieldInboundCount:  strconv.FormatInt(c.InboundCount, 10),
		FieldOutboundCount: strconv.FormatInt(c.OutboundCount, 10),
	}
	if c.Name != "" {
		m[FieldName] = c.Name
	}
	if !c.LastUserMessageAt.IsZero() {
		m[FieldLastUserMessageAt] = formatTime(c.LastUserMessageAt)
	}
	if !c.LastBotMessageAt.IsZero() {
		m[FieldLastBotMessageAt] = formatTime(c.LastBotMessageAt)
	}
	for k, v := range c.Attributes {
		m[AttrPrefix+k] = v
	}
	return m
}

// FromFields decodes a stored hash. key is only used for error reporting.
func FromFields(key string, m map[string]string) (*Candidate, error) {
	c := &Candidate{}
	var err error
	for k, v := range m {
		switch k {
		case FieldID:
			c.ID = v
		case FieldPhone:
			c.Phone = v
		case FieldName:
			c.Name = v
		case FieldCreatedAt:
			c.CreatedAt, err = parseTime(v)
		case FieldUpdatedAt:
			c.UpdatedAt, err = parseTime(v)
		case FieldLastUserMessageAt:
			c.LastUserMessageAt, err = parseTime(v)
		case FieldLastBotMessageAt:
			c.LastBotMessageAt, err = parseTime(v)
		case FieldInboundCount:
			c.InboundCount, err = strconv.ParseInt(v, 10, 64)
		case FieldOutboundCount:
			c.OutboundCount, err = strconv.ParseInt(v, 10, 64)
		default:
			if strings.HasPrefix(k, AttrPrefix) {
				if c.Attributes == nil {
					c.Attributes = make(map[string]string)
				}
				c.Attributes[strings.TrimPrefix(k, AttrPrefix)] = v
			}
		}
		if err != nil {
			return nil, pkgError.CorruptRecord(key, fmt.Errorf("field %s: %w", k, err))
		}
	}
	if err := c.Validate(); err != nil {
		return nil, pkgError.CorruptRecord(key, err)
	}
	return c, nil
}

// Patch is a partial update. Nil pointers and absent attribute keys leave the
// stored value untouched. It has no way to express ID, CreatedAt or the
// counters, which only the store itself writes.
type Patch struct {
	Name              *string           `json:"name,omitempty"`
	Phone             *string           `json:"phone,omitempty"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	LastUserMessageAt *time.Time        `json:"last_user_message_at,omitempty"`
	LastBotMessageAt  *time.Time        `json:"last_bot_message_at,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Phone == nil && len(p.Attributes) == 0 &&
		p.LastUserMessageAt == nil && p.LastBotMessageAt == nil
}

// Merge overlays other on top of p and returns the result.
func (p Patch) Merge(other Patch) Patch {
	out := p
	if other.Name != nil {
		out.Name = other.Name
	}
	if other.Phone != nil {
		out.Phone = other.Phone
	}
	if other.LastUserMessageAt != nil {
		out.LastUserMessageAt = other.LastUserMessageAt
	}
	if other.LastBotMessageAt != nil {
		out.LastBotMessageAt = other.LastBotMessageAt
	}
	if len(other.Attributes) > 0 {
		merged := make(map[string]string, len(p.Attributes)+len(other.Attributes))
		for k, v := range p.Attributes {
			merged[k] = v
		}
		for k, v := range other.Attributes {
			merged[k] = v
		}
		out.Attributes = merged
	}
	return out
}

// Pairs returns the patch as flat field/value pairs ready for HSET, always
// stamping updated_at.
func (p Patch) Pairs(now time.Time) []string {
	pairs := []string{FieldUpdatedAt, formatTime(now)}
	if p.Name != nil {
		pairs = append(pairs, FieldName, *p.Name)
	}
	if p.Phone != nil {
		pairs = append(pairs, FieldPhone, *p.Phone)
	}
	if p.LastUserMessageAt != nil {
		pairs = append(pairs, FieldLastUserMessageAt, formatTime(*p.LastUserMessageAt))
	}
	if p.LastBotMessageAt != nil {
		pairs = append(pairs, FieldLastBotMessageAt, formatTime(*p.LastBotMessageAt))
	}
	for k, v := range p.Attributes {
		pairs = append(pairs, AttrPrefix+k, v)
	}
	return pairs
}

// Apply merges the patch into c in place.
func (p Patch) Apply(c *Candidate, now time.Time) {
	c.UpdatedAt = now
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.LastUserMessageAt != nil {
		c.LastUserMessageAt = *p.LastUserMessageAt
	}
	if p.LastBotMessageAt != nil {
		c.LastBotMessageAt = *p.LastBotMessageAt
	}
	if len(p.Attributes) > 0 && c.Attributes == nil {
		c.Attributes = make(map[string]string, len(p.Attributes))
	}
	for k, v := range p.Attributes {
		c.Attributes[k] = v
	}
}

// CountField maps a message direction counter to its hash field.
func CountField(outbound bool) string {
	if outbound {
		return FieldOutboundCount
	}
	return FieldInboundCount
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Store persists candidates plus the phone index that makes them reachable.
type Store interface {
	// Create registers a candidate for a canonical phone. When the phone is
	// already indexed the existing candidate is returned with created=false.
	Create(ctx context.Context, phone string, seed Patch) (c *Candidate, created bool, err error)

	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*Candidate, error)

	// Update shallow-merges patch over the stored record.
	Update(ctx context.Context, id string, patch Patch) (*Candidate, error)

	Delete(ctx context.Context, id string) (bool, error)

	// LookupPhone returns the id indexed under an exact phone string, or "".
	LookupPhone(ctx context.Context, phone string) (string, error)

	// LookupSuffix returns every candidate id indexed under a 10-digit suffix.
	LookupSuffix(ctx context.Context, suffix string) ([]string, error)

	// ScanPhones walks the phone index until fn returns false or limit entries
	// have been visited.
	ScanPhones(ctx context.Context, limit int, fn func(phone, id string) bool) error
}
