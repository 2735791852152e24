package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
	"github.com/fairyhunter13/checkout-payment-core/internal/stock"
)

// SessionServiceInterface is the subset of checkout.SessionService the
// handler needs.
type SessionServiceInterface interface {
	Create(ctx context.Context, in checkout.CreateInput) (*model.CheckoutSession, error)
}

// CreateSessionRequest is the POST /checkout/session request body. Items
// is left as raw JSON and normalized via checkout.NormalizeLineItems,
// which tolerates the several historical cart-line shapes (spec §9
// "dynamic cart/items duality") rather than binding to one fixed shape
// here.
type CreateSessionRequest struct {
	UserEmail    string              `json:"userEmail" validate:"required,email"`
	Items        json.RawMessage     `json:"items" validate:"required"`
	ShippingInfo ShippingInfoRequest `json:"shippingInfo" validate:"required"`
	Source       string              `json:"source" validate:"omitempty,oneof=cart buynow"`
}

// ShippingInfoRequest is the inbound shipping address snapshot.
type ShippingInfoRequest struct {
	RecipientName string `json:"recipientName" validate:"required,notblank"`
	Line1         string `json:"line1" validate:"required"`
	Line2         string `json:"line2"`
	City          string `json:"city" validate:"required"`
	PostalCode    string `json:"postalCode" validate:"required"`
	Country       string `json:"country" validate:"required"`
	Phone         string `json:"phone"`
}

// CheckoutHandler handles the checkout-session surface (spec §6
// "POST /checkout/session").
type CheckoutHandler struct {
	service   SessionServiceInterface
	validator *validator.Validate
}

// NewCheckoutHandler wires a CheckoutHandler.
func NewCheckoutHandler(svc SessionServiceInterface, v *validator.Validate) *CheckoutHandler {
	return &CheckoutHandler{service: svc, validator: v}
}

// CreateSession handles POST /checkout/session.
func (h *CheckoutHandler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	items, err := checkout.NormalizeLineItems(req.Items)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid line items: " + err.Error()})
	}
	if len(items) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cart is empty"})
	}

	in := checkout.CreateInput{
		UserEmail: req.UserEmail,
		Items:     items,
		ShippingInfo: model.ShippingInfo{
			RecipientName: req.ShippingInfo.RecipientName,
			Line1:         req.ShippingInfo.Line1,
			Line2:         req.ShippingInfo.Line2,
			City:          req.ShippingInfo.City,
			PostalCode:    req.ShippingInfo.PostalCode,
			Country:       req.ShippingInfo.Country,
			Phone:         req.ShippingInfo.Phone,
		},
		Source: sourceOrDefault(req.Source),
	}

	session, err := h.service.Create(c.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrEmptyCart):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cart is empty"})
		case errors.Is(err, checkout.ErrStaleSnapshot), errors.Is(err, stock.ErrOutOfStock):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "one or more items are out of stock"})
		default:
			log.Error().Err(err).Msg("failed to create checkout session")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

func sourceOrDefault(s string) model.CheckoutSessionSource {
	if s == string(model.SourceBuyNow) {
		return model.SourceBuyNow
	}
	return model.SourceCart
}

// formatValidationError turns the first field error into a short
// human-readable sentence, with a generic fallback.
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	switch fe := verrs[0]; fe.Tag() {
	case "required", "notblank":
		return fe.Field() + " is required"
	default:
		return fe.Field() + " is invalid"
	}
}
