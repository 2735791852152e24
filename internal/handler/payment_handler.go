package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// DraftOrderServiceInterface is the subset of checkout.DraftOrderService
// the handler needs.
type DraftOrderServiceInterface interface {
	Initiate(ctx context.Context, in checkout.InitiateInput) (*model.Order, error)
}

// InitiatePaymentRequest is the POST /payment/initiate request body.
type InitiatePaymentRequest struct {
	SessionID      string `json:"sessionId" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
	GatewayTxnID   string `json:"gatewayTxnId"`
}

// PaymentHandler handles payment initiation (spec §6
// "POST /payment/initiate"), creating or returning the idempotent
// DraftOrder for a checkout session (C4).
type PaymentHandler struct {
	service   DraftOrderServiceInterface
	validator *validator.Validate
}

// NewPaymentHandler wires a PaymentHandler.
func NewPaymentHandler(svc DraftOrderServiceInterface, v *validator.Validate) *PaymentHandler {
	return &PaymentHandler{service: svc, validator: v}
}

// Initiate handles POST /payment/initiate.
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	var req InitiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	order, err := h.service.Initiate(c.Context(), checkout.InitiateInput{
		SessionID:      req.SessionID,
		IdempotencyKey: req.IdempotencyKey,
		GatewayTxnID:   req.GatewayTxnID,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrMissingIdempotencyKey), errors.Is(err, checkout.ErrEmptyCart):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, checkout.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "checkout session not found"})
		case errors.Is(err, checkout.ErrConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "order could not be resolved"})
		default:
			log.Error().Err(err).Str("session_id", req.SessionID).Msg("failed to initiate payment")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}
