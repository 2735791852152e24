package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// OrderReaderInterface is the subset of checkout.DraftOrderService the
// handler needs for order lookups.
type OrderReaderInterface interface {
	GetByID(ctx context.Context, orderID string) (*model.Order, error)
	GetByGatewayTxnID(ctx context.Context, txnID string) (*model.Order, error)
}

// OrderHandler handles order lookups (spec §6 "GET /orders/{orderId}",
// "GET /orders/by-txn/{gatewayTxnId}").
type OrderHandler struct {
	service OrderReaderInterface
}

// NewOrderHandler wires an OrderHandler.
func NewOrderHandler(svc OrderReaderInterface) *OrderHandler {
	return &OrderHandler{service: svc}
}

// GetByID handles GET /orders/:orderId.
func (h *OrderHandler) GetByID(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	order, err := h.service.GetByID(c.Context(), orderID)
	if err != nil {
		return h.respondLookupError(c, orderID, err)
	}
	return c.Status(fiber.StatusOK).JSON(order)
}

// GetByGatewayTxnID handles GET /orders/by-txn/:gatewayTxnId.
func (h *OrderHandler) GetByGatewayTxnID(c *fiber.Ctx) error {
	txnID := c.Params("gatewayTxnId")
	order, err := h.service.GetByGatewayTxnID(c.Context(), txnID)
	if err != nil {
		return h.respondLookupError(c, txnID, err)
	}
	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) respondLookupError(c *fiber.Ctx, id string, err error) error {
	if errors.Is(err, checkout.ErrOrderNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	log.Error().Err(err).Str("id", id).Msg("failed to look up order")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}
