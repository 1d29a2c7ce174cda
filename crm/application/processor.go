package application

import (
	"context"
	"strings"

	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/message"
	"github.com/AzielCF/az-recruit/infrastructure/transport"
)

// UnitSeparator joins the texts of an aggregated burst.
const UnitSeparator = "\n"

// Unit is one processing step for a candidate: a single delivery or a burst
// drained from the waitlist, in arrival order.
type Unit struct {
	CandidateID string
	Messages    []message.Inbound
	Text        string
}

func NewUnit(candidateID string, msgs []message.Inbound) Unit {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			texts = append(texts, m.Content)
		}
	}
	return Unit{
		CandidateID: candidateID,
		Messages:    msgs,
		Text:        strings.Join(texts, UnitSeparator),
	}
}

func (u Unit) MessageIDs() []string {
	ids := make([]string, len(u.Messages))
	for i, m := range u.Messages {
		ids[i] = m.MessageID
	}
	return ids
}

// split separates deliveries typed on the business phone from the candidate's own.
func (u Unit) split() (user, manual []message.Inbound) {
	for _, m := range u.Messages {
		if m.FromMe {
			manual = append(manual, m)
		} else {
			user = append(user, m)
		}
	}
	return user, manual
}

// Result is what business processing wants persisted and sent. A nil Reply
// sends nothing.
type Result struct {
	Updates candidate.Patch
	Reply   *transport.Payload
}

// Processor is the business collaborator. It is called with the candidate
// lock held and a snapshot that reflects every earlier committed unit.
type Processor interface {
	Process(ctx context.Context, unit Unit, c *candidate.Candidate) (Result, error)
}

type ProcessorFunc func(ctx context.Context, unit Unit, c *candidate.Candidate) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, unit Unit, c *candidate.Candidate) (Result, error) {
	return f(ctx, unit, c)
}

// AutoReplyProcessor answers every unit with a fixed text. An empty Message
// makes it record messages without replying.
type AutoReplyProcessor struct {
	Message string
}

func (p AutoReplyProcessor) Process(ctx context.Context, unit Unit, c *candidate.Candidate) (Result, error) {
	if strings.TrimSpace(p.Message) == "" {
		return Result{}, nil
	}
	text := p.Message
	if c != nil && c.Name != "" {
		text = strings.ReplaceAll(text, "{name}", c.Name)
	} else {
		text = strings.ReplaceAll(text, " {name}", "")
		text = strings.ReplaceAll(text, "{name}", "")
	}
	return Result{Reply: &transport.Payload{Type: message.TypeText, Text: text}}, nil
}
