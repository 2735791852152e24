package handler

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/checkout-payment-core/internal/checkout"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

type fakeDraftOrderService struct {
	order *model.Order
	err   error
}

func (f *fakeDraftOrderService) Initiate(ctx context.Context, in checkout.InitiateInput) (*model.Order, error) {
	return f.order, f.err
}

func newPaymentApp(svc DraftOrderServiceInterface) *fiber.App {
	app := fiber.New()
	h := NewPaymentHandler(svc, validator.New())
	app.Post("/payment/initiate", h.Initiate)
	return app
}

func TestPaymentHandler_Initiate_Success(t *testing.T) {
	svc := &fakeDraftOrderService{order: &model.Order{OrderID: "order-1"}}
	app := newPaymentApp(svc)

	body := `{"sessionId": "sess-1", "idempotencyKey": "idem-1"}`
	req := httptest.NewRequest("POST", "/payment/initiate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestPaymentHandler_Initiate_MissingIdempotencyKey(t *testing.T) {
	app := newPaymentApp(&fakeDraftOrderService{})

	body := `{"sessionId": "sess-1"}`
	req := httptest.NewRequest("POST", "/payment/initiate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPaymentHandler_Initiate_SessionNotFound(t *testing.T) {
	svc := &fakeDraftOrderService{err: checkout.ErrSessionNotFound}
	app := newPaymentApp(svc)

	body := `{"sessionId": "missing", "idempotencyKey": "idem-1"}`
	req := httptest.NewRequest("POST", "/payment/initiate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPaymentHandler_Initiate_Conflict(t *testing.T) {
	svc := &fakeDraftOrderService{err: checkout.ErrConflict}
	app := newPaymentApp(svc)

	body := `{"sessionId": "sess-1", "idempotencyKey": "idem-1"}`
	req := httptest.NewRequest("POST", "/payment/initiate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestPaymentHandler_Initiate_InternalError(t *testing.T) {
	svc := &fakeDraftOrderService{err: errors.New("db exploded")}
	app := newPaymentApp(svc)

	body := `{"sessionId": "sess-1", "idempotencyKey": "idem-1"}`
	req := httptest.NewRequest("POST", "/payment/initiate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
