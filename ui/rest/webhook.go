package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-recruit/crm/application"
	"github.com/AzielCF/az-recruit/crm/domain/message"
	pkgError "github.com/AzielCF/az-recruit/pkg/error"
	"github.com/AzielCF/az-recruit/pkg/msgworker"
	"github.com/AzielCF/az-recruit/pkg/utils"
	"github.com/AzielCF/az-recruit/validations"
)

const SignatureHeader = "X-Hub-Signature-256"

type WebhookConfig struct {
	// Secret enables X-Hub-Signature-256 verification when set.
	Secret string
	// VerifyToken answers the provider's subscription handshake when set.
	VerifyToken string
	// ProcessTimeout bounds one background drain loop. Zero means none.
	ProcessTimeout time.Duration
}

type Webhook struct {
	Ingestor *application.Ingestor
	Pool     *msgworker.Pool
	Config   WebhookConfig
}

// DeliveryResult is the per-message acknowledgement.
type DeliveryResult struct {
	MessageID   string `json:"message_id"`
	CandidateID string `json:"candidate_id,omitempty"`
	Status      string `json:"status"`
	Created     bool   `json:"created,omitempty"`
}

const (
	statusAccepted  = "accepted"
	statusQueued    = "queued"
	statusDuplicate = "duplicate"
	statusDeferred  = "deferred"
)

func InitRestWebhook(app fiber.Router, ingestor *application.Ingestor, pool *msgworker.Pool, cfg WebhookConfig) Webhook {
	handler := Webhook{Ingestor: ingestor, Pool: pool, Config: cfg}

	group := app.Group("/webhook")
	group.Get("/messages", handler.Verify)
	group.Post("/messages", handler.Receive)

	return handler
}

// Verify implements the hub.challenge subscription handshake.
func (h *Webhook) Verify(c *fiber.Ctx) error {
	if h.Config.VerifyToken == "" {
		return c.SendStatus(fiber.StatusNotFound)
	}
	if c.Query("hub.mode") != "subscribe" || c.Query("hub.verify_token") != h.Config.VerifyToken {
		return c.SendStatus(fiber.StatusForbidden)
	}
	return c.SendString(c.Query("hub.challenge"))
}

// Receive acknowledges each delivery right after its claim and lock decisions.
// A delivery that finds the candidate busy is queued for the holder; only a
// lock holder is handed to the worker pool, so a burst for one candidate is
// drained as one unit. Processing failures never reach the transport; a
// failure before the lock decision answers 503 so it retries.
func (h *Webhook) Receive(c *fiber.Ctx) error {
	body := c.Body()
	if err := verifySignature(h.Config.Secret, c.Get(SignatureHeader), body); err != nil {
		logrus.WithField("ip", c.IP()).Warnf("[WEBHOOK] Rejected delivery: %v", err)
		return err
	}

	var request message.WebhookRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return pkgError.ValidationError("invalid JSON body: " + err.Error())
	}
	if err := validations.ValidateWebhookRequest(c.UserContext(), request); err != nil {
		return err
	}

	results := make([]DeliveryResult, 0, len(request.Messages))
	deferred := false
	for _, msg := range request.Messages {
		receipt, err := h.Ingestor.Accept(c.UserContext(), &msg)
		if err != nil {
			var verr pkgError.ValidationError
			if errors.As(err, &verr) {
				return err
			}
			logrus.WithError(err).Errorf("[WEBHOOK] Failed to accept %s", msg.MessageID)
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
				Status:  fiber.StatusServiceUnavailable,
				Code:    "STORE_UNAVAILABLE",
				Message: "delivery not accepted, retry later",
				Results: results,
			})
		}

		result := DeliveryResult{MessageID: msg.MessageID, CandidateID: receipt.CandidateID, Created: receipt.Created}
		if receipt.Duplicate {
			result.Status = statusDuplicate
			results = append(results, result)
			continue
		}

		adm, err := h.Ingestor.Admit(c.UserContext(), receipt.CandidateID, msg)
		if err != nil {
			logrus.WithError(err).Errorf("[WEBHOOK] Failed to admit %s", msg.MessageID)
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
				Status:  fiber.StatusServiceUnavailable,
				Code:    "STORE_UNAVAILABLE",
				Message: "delivery not accepted, retry later",
				Results: results,
			})
		}

		switch {
		case adm.Queued():
			result.Status = statusQueued
		case h.dispatch(receipt, msg.MessageID, adm):
			result.Status = statusAccepted
		default:
			h.Ingestor.Withdraw(context.WithoutCancel(c.UserContext()), adm)
			result.Status = statusDeferred
			deferred = true
		}
		results = append(results, result)
	}

	if deferred {
		return c.Status(fiber.StatusServiceUnavailable).JSON(utils.ResponseData{
			Status:  fiber.StatusServiceUnavailable,
			Code:    "QUEUE_FULL",
			Message: "some deliveries were not queued, retry later",
			Results: results,
		})
	}
	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Deliveries accepted",
		Results: results,
	})
}

func (h *Webhook) dispatch(receipt application.Receipt, messageID string, adm application.Admission) bool {
	timeout := h.Config.ProcessTimeout
	return h.Pool.TryDispatch(msgworker.Job{
		Key: receipt.Phone,
		Handler: func(ctx context.Context) error {
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			out, err := h.Ingestor.ProcessAdmitted(ctx, adm)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"message_id": messageID,
				"candidate":  receipt.CandidateID,
				"queued":     out.Queued,
				"units":      out.Units,
			}).Debug("[WEBHOOK] Delivery processed")
			return nil
		},
	})
}

func verifySignature(secret, header string, body []byte) error {
	if secret == "" {
		return nil
	}
	sig := strings.TrimSpace(header)
	if sig == "" {
		return pkgError.WebhookError("missing " + SignatureHeader)
	}
	if !strings.HasPrefix(sig, "sha256=") {
		return pkgError.WebhookError("invalid " + SignatureHeader + " format")
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return pkgError.WebhookError("invalid signature hex")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return pkgError.WebhookError("signature mismatch")
	}
	return nil
}

// Sign returns the header value a transport would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
