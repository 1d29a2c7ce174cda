// Package application wires the reliability primitives into the ingestion
// pipeline: resolve, claim, lock or wait, process, commit, release, drain.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/event"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
	"github.com/AzielCF/az-recruit/crm/domain/message"
	"github.com/AzielCF/az-recruit/infrastructure/transport"
	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	"github.com/AzielCF/az-recruit/pkg/phone"
)

var errInvalidPhone = pkgError.ValidationError("invalid phone number")

// DefaultBurstWindow is how long a fresh lock holder waits before its first
// drain. It stays well below guard.DefaultLockTTL.
const DefaultBurstWindow = 2 * time.Second

type Config struct {
	// BurstWindow delays the first drain after a lock is acquired so the
	// first message of a burst is aggregated with the rest. Zero disables it.
	BurstWindow   time.Duration
	MaxSuffixScan int
}

type Ingestor struct {
	stores    domain.Stores
	resolver  *Resolver
	processor Processor
	sender    transport.Sender
	cfg       Config
	now       func() time.Time
}

func NewIngestor(stores domain.Stores, processor Processor, sender transport.Sender, cfg Config) *Ingestor {
	if sender == nil {
		sender = transport.LogSender{}
	}
	return &Ingestor{
		stores:    stores,
		resolver:  NewResolver(stores.Candidates, cfg.MaxSuffixScan),
		processor: processor,
		sender:    sender,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (in *Ingestor) Resolver() *Resolver {
	return in.resolver
}

// Receipt is the answer given to the transport right after the claim decision.
type Receipt struct {
	CandidateID string `json:"candidate_id"`
	Phone       string `json:"phone"`
	Created     bool   `json:"created"`
	Duplicate   bool   `json:"duplicate"`
}

// Outcome describes what happened to an accepted delivery.
type Outcome struct {
	// Queued means another invocation holds the candidate and will process
	// the delivery when it drains the waitlist.
	Queued bool `json:"queued"`
	// Units is the number of processing steps this invocation ran.
	Units int `json:"units"`
}

// Accept resolves the sender and claims the message id. It never runs
// business processing, so the caller can acknowledge immediately.
func (in *Ingestor) Accept(ctx context.Context, msg *message.Inbound) (Receipt, error) {
	if msg.Type == "" {
		msg.Type = message.TypeText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = in.now().UTC()
	}
	if err := msg.Validate(); err != nil {
		return Receipt{}, pkgError.ValidationError(err.Error())
	}
	if !phone.Valid(msg.SenderPhone) {
		return Receipt{}, errInvalidPhone
	}

	c, created, err := in.resolver.ResolveOrCreate(ctx, msg.SenderPhone, candidate.Patch{})
	if err != nil {
		return Receipt{}, fmt.Errorf("resolve %s: %w", msg.SenderPhone, err)
	}
	receipt := Receipt{CandidateID: c.ID, Phone: c.Phone, Created: created}
	if created {
		logrus.Infof("[INGEST] New candidate %s for %s", c.ID, c.Phone)
		in.audit(ctx, event.Event{Kind: event.KindCandidateNew, CandidateID: c.ID, MessageID: msg.MessageID, Detail: c.Phone})
	}

	claimed, err := in.stores.Claims.TryClaim(ctx, msg.MessageID)
	if err != nil {
		return receipt, fmt.Errorf("claim %s: %w", msg.MessageID, err)
	}
	if !claimed {
		receipt.Duplicate = true
		logrus.Infof("[INGEST] Duplicate delivery %s ignored", msg.MessageID)
		in.count(ctx, ledger.CounterDup)
		in.audit(ctx, event.Event{Kind: event.KindDuplicate, CandidateID: c.ID, MessageID: msg.MessageID})
	}
	return receipt, nil
}

// Process runs an accepted delivery through the locked pipeline: Admit then
// ProcessAdmitted in the caller's goroutine. On error the delivery's claim is
// released so a provider retry can reprocess it.
func (in *Ingestor) Process(ctx context.Context, candidateID string, msg message.Inbound) (out Outcome, err error) {
	defer func() {
		if err != nil {
			in.releaseClaims(ctx, []message.Inbound{msg})
		}
	}()
	adm, err := in.Admit(ctx, candidateID, msg)
	if err != nil {
		return Outcome{}, err
	}
	return in.ProcessAdmitted(ctx, adm)
}

// Ingest is Accept followed by Process in the caller's goroutine.
func (in *Ingestor) Ingest(ctx context.Context, msg message.Inbound) (Receipt, Outcome, error) {
	receipt, err := in.Accept(ctx, &msg)
	if err != nil || receipt.Duplicate {
		return receipt, Outcome{}, err
	}
	out, err := in.Process(ctx, receipt.CandidateID, msg)
	return receipt, out, err
}

// RecordEffects is the single write path for processing results.
func (in *Ingestor) RecordEffects(ctx context.Context, fx ledger.Effects) (bool, error) {
	applied, err := in.stores.Writer.Commit(ctx, fx)
	if err != nil {
		return false, fmt.Errorf("record effects for %s: %w", fx.CandidateID, err)
	}
	if !applied && fx.Message != nil {
		logrus.Debugf("[INGEST] Effects for message %s already applied", fx.Message.ID)
	}
	return applied, nil
}

// handleUnit is the LockFunc behind Process. Business processing runs first
// so a failure leaves nothing written, then every delivery of the unit is
// recorded, the reply is sent, and the claims are committed.
func (in *Ingestor) handleUnit(ctx context.Context, unit Unit, c *candidate.Candidate) (err error) {
	defer func() {
		if err != nil {
			in.count(ctx, ledger.CounterErrors)
			in.audit(ctx, event.Event{Kind: event.KindError, CandidateID: unit.CandidateID, Detail: err.Error()})
		}
	}()

	user, _ := unit.split()
	var result Result
	if len(user) > 0 && in.processor != nil {
		result, err = in.processor.Process(ctx, NewUnit(unit.CandidateID, user), c)
		if err != nil {
			return fmt.Errorf("process unit for %s: %w", unit.CandidateID, err)
		}
	}

	lastUser := -1
	for i, m := range unit.Messages {
		if !m.FromMe {
			lastUser = i
		}
	}
	// Deliveries can arrive out of order; last_user_message_at only moves forward.
	latest := c.LastUserMessageAt
	for i, m := range unit.Messages {
		fx := inboundEffects(unit.CandidateID, m)
		if ts := fx.CandidateUpdates.LastUserMessageAt; ts != nil {
			if ts.After(latest) {
				latest = *ts
			} else {
				fx.CandidateUpdates.LastUserMessageAt = nil
			}
		}
		if i == lastUser {
			fx.CandidateUpdates = fx.CandidateUpdates.Merge(result.Updates)
		}
		if _, err := in.RecordEffects(ctx, fx); err != nil {
			return err
		}
	}

	if result.Reply != nil {
		in.sendReply(ctx, c, *result.Reply)
	}

	for _, id := range unit.MessageIDs() {
		if err := in.stores.Claims.Commit(ctx, id); err != nil {
			logrus.WithError(err).Warnf("[INGEST] Failed to commit claim %s", id)
		}
	}
	return nil
}

func inboundEffects(candidateID string, m message.Inbound) ledger.Effects {
	fx := ledger.Effects{
		CandidateID: candidateID,
		Message:     m.ToMessage(),
	}
	if m.FromMe {
		fx.CounterName = ledger.CounterManual
		fx.AuditEvent = &event.Event{Kind: event.KindManualMessage, MessageID: m.MessageID}
		return fx
	}
	ts := m.Timestamp
	fx.CounterName = ledger.CounterInbound
	fx.AuditEvent = &event.Event{Kind: event.KindWebhookReceived, MessageID: m.MessageID}
	fx.CandidateUpdates = candidate.Patch{LastUserMessageAt: &ts}
	return fx
}

// sendReply never fails the unit: the inbound side is already committed, so a
// failed send is recorded as a failed outbound message instead.
func (in *Ingestor) sendReply(ctx context.Context, c *candidate.Candidate, p transport.Payload) {
	if p.Type == "" {
		p.Type = message.TypeText
	}
	msg := &message.Message{
		ID:        uuid.NewString(),
		Direction: message.FromBot,
		Type:      p.Type,
		Content:   p.Text,
		MediaRef:  p.MediaRef,
		Status:    message.StatusSent,
	}
	now := in.now().UTC()
	fx := ledger.Effects{
		CandidateID:      c.ID,
		Message:          msg,
		CandidateUpdates: candidate.Patch{LastBotMessageAt: &now},
		AuditEvent:       &event.Event{Kind: event.KindMessageSent},
		CounterName:      ledger.CounterOutbound,
	}

	res, err := in.sender.Send(ctx, c.Phone, p)
	switch {
	case err != nil:
		logrus.WithError(err).Errorf("[INGEST] Failed to send reply to %s", c.Phone)
		msg.Status = message.StatusFailed
		fx.AuditEvent = &event.Event{Kind: event.KindError, Detail: "send failed: " + err.Error()}
		fx.CounterName = ledger.CounterErrors
		fx.CandidateUpdates = candidate.Patch{}
	case !res.Accepted:
		logrus.Warnf("[INGEST] Transport rejected reply to %s", c.Phone)
		msg.Status = message.StatusFailed
		fx.AuditEvent = &event.Event{Kind: event.KindError, Detail: "send rejected by transport"}
		fx.CounterName = ledger.CounterErrors
		fx.CandidateUpdates = candidate.Patch{}
	case res.DeliveryID != "":
		msg.ID = res.DeliveryID
	}
	fx.AuditEvent.MessageID = msg.ID

	if _, err := in.RecordEffects(ctx, fx); err != nil {
		logrus.WithError(err).Errorf("[INGEST] Failed to record reply for %s", c.ID)
	}
}

func (in *Ingestor) releaseClaims(ctx context.Context, msgs []message.Inbound) {
	ctx = context.WithoutCancel(ctx)
	for _, m := range msgs {
		if err := in.stores.Claims.Release(ctx, m.MessageID); err != nil {
			logrus.WithError(err).Warnf("[INGEST] Failed to release claim %s", m.MessageID)
		}
	}
}

// audit and count are best effort; they never fail the pipeline.
func (in *Ingestor) audit(ctx context.Context, e event.Event) {
	if err := in.stores.Events.Append(ctx, e); err != nil {
		logrus.WithError(err).Warnf("[INGEST] Failed to append %s event", e.Kind)
	}
}

func (in *Ingestor) count(ctx context.Context, name string) {
	if _, err := in.stores.Counters.Incr(ctx, name); err != nil {
		logrus.WithError(err).Warnf("[INGEST] Failed to increment %s", name)
	}
}
