package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/webhook"
)

// IntakeInterface is the subset of webhook.Intake the handler needs.
type IntakeInterface interface {
	Receive(ctx context.Context, provider string, headers map[string]string, rawBody []byte, authHeader string) (webhook.Outcome, error)
}

// WebhookHandler handles inbound gateway callbacks (spec §6
// "POST /webhooks/{provider}"). It always answers 200 regardless of
// outcome (spec §4.6) so the gateway never retries a delivery we've
// already accepted or rejected on our own terms.
type WebhookHandler struct {
	intake IntakeInterface
}

// NewWebhookHandler wires a WebhookHandler.
func NewWebhookHandler(intake IntakeInterface) *WebhookHandler {
	return &WebhookHandler{intake: intake}
}

// Receive handles POST /webhooks/:provider.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	provider := c.Params("provider")
	authHeader := c.Get("Authorization")

	headers := make(map[string]string, len(c.GetReqHeaders()))
	for k, v := range c.GetReqHeaders() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	outcome, err := h.intake.Receive(c.Context(), provider, headers, c.Body(), authHeader)
	if err != nil {
		log.Error().Err(err).Str("provider", provider).Msg("failed to process inbound webhook")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}

	log.Info().Str("provider", provider).Bool("accepted", outcome.Accepted).Str("reason", outcome.Reason).Msg("webhook delivery handled")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}
