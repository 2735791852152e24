//go:build integration

// Package integration contains end-to-end API flow tests that verify
// the complete checkout-to-confirmed-order journey through the real
// docker-compose stack, mirroring the concrete scenarios table.
package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

// TestHappyPath exercises scenario 1 of the end-to-end table: reserve,
// initiate payment, deliver a COMPLETED webhook, and check the order and
// stock counters land where the contract says they must.
func TestHappyPath(t *testing.T) {
	cleanupTables(t)
	seedStock(t, "SHIRT-1", "M", 3, 0)

	sessionResp, err := postJSON(formatURL("/checkout/session"), map[string]interface{}{
		"userEmail": "buyer@example.com",
		"items": []map[string]interface{}{
			{"productId": "SHIRT-1", "size": "M", "quantity": 2},
		},
		"shippingInfo": map[string]string{
			"recipientName": "Jane Buyer",
			"line1":         "1 Market St",
			"city":          "Springfield",
			"postalCode":    "00000",
			"country":       "US",
		},
	})
	if err != nil {
		t.Fatalf("create session request failed: %v", err)
	}
	var session map[string]interface{}
	if err := readJSONResponse(sessionResp, &session); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	if sessionResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating session, got %d: %v", sessionResp.StatusCode, session)
	}
	sessionID, _ := session["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("session response missing sessionId: %v", session)
	}

	stock, reserved := getStockFromDB(t, "SHIRT-1", "M")
	if stock != 3 || reserved != 2 {
		t.Fatalf("expected stock=3 reserved=2 after session create, got stock=%d reserved=%d", stock, reserved)
	}

	const gatewayTxnID = "txn-happy-path-1"
	paymentResp, err := postJSON(formatURL("/payment/initiate"), map[string]string{
		"sessionId":      sessionID,
		"idempotencyKey": "idem-happy-path-1",
		"gatewayTxnId":   gatewayTxnID,
	})
	if err != nil {
		t.Fatalf("initiate payment request failed: %v", err)
	}
	var order map[string]interface{}
	if err := readJSONResponse(paymentResp, &order); err != nil {
		t.Fatalf("decode payment response: %v", err)
	}
	if paymentResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 initiating payment, got %d: %v", paymentResp.StatusCode, order)
	}
	orderID, _ := order["orderId"].(string)
	if orderID == "" {
		t.Fatalf("payment response missing orderId: %v", order)
	}

	webhookBody := []byte(fmt.Sprintf(`{"event":"payment.updated","orderId":%q,"state":"COMPLETED","amount":200000}`, gatewayTxnID))
	whResp, err := postWebhook("stripe", webhookBody, true)
	if err != nil {
		t.Fatalf("webhook delivery failed: %v", err)
	}
	whResp.Body.Close()
	if whResp.StatusCode != http.StatusOK {
		t.Fatalf("webhook delivery expected 200, got %d", whResp.StatusCode)
	}

	waitForOrderStatus(t, orderID, "CONFIRMED")

	status, paymentStatus := getOrderFromDB(t, orderID)
	if status != "CONFIRMED" || paymentStatus != "PAID" {
		t.Fatalf("expected CONFIRMED/PAID, got %s/%s", status, paymentStatus)
	}

	stock, reserved = getStockFromDB(t, "SHIRT-1", "M")
	if stock != 1 || reserved != 0 {
		t.Fatalf("expected stock=1 reserved=0 after confirm, got stock=%d reserved=%d", stock, reserved)
	}
}

// TestDuplicateWebhook exercises scenario 2: the same COMPLETED webhook
// delivered three times must confirm exactly once and leave stock alone
// on replays.
func TestDuplicateWebhook(t *testing.T) {
	cleanupTables(t)
	seedStock(t, "SHIRT-2", "L", 5, 0)

	sessionResp, err := postJSON(formatURL("/checkout/session"), map[string]interface{}{
		"userEmail": "dup@example.com",
		"items": []map[string]interface{}{
			{"productId": "SHIRT-2", "size": "L", "quantity": 1},
		},
		"shippingInfo": map[string]string{
			"recipientName": "Dup Buyer",
			"line1":         "2 Market St",
			"city":          "Springfield",
			"postalCode":    "00000",
			"country":       "US",
		},
	})
	if err != nil {
		t.Fatalf("create session request failed: %v", err)
	}
	var session map[string]interface{}
	_ = readJSONResponse(sessionResp, &session)
	sessionID, _ := session["sessionId"].(string)

	const gatewayTxnID = "txn-duplicate-1"
	paymentResp, err := postJSON(formatURL("/payment/initiate"), map[string]string{
		"sessionId":      sessionID,
		"idempotencyKey": "idem-duplicate-1",
		"gatewayTxnId":   gatewayTxnID,
	})
	if err != nil {
		t.Fatalf("initiate payment request failed: %v", err)
	}
	var order map[string]interface{}
	_ = readJSONResponse(paymentResp, &order)
	orderID, _ := order["orderId"].(string)

	webhookBody := []byte(fmt.Sprintf(`{"event":"payment.updated","orderId":%q,"state":"COMPLETED","amount":100000}`, gatewayTxnID))
	for i := 0; i < 3; i++ {
		resp, err := postWebhook("stripe", webhookBody, true)
		if err != nil {
			t.Fatalf("webhook delivery %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("webhook delivery %d expected 200, got %d", i, resp.StatusCode)
		}
	}

	waitForOrderStatus(t, orderID, "CONFIRMED")
	_, reserved := getStockFromDB(t, "SHIRT-2", "L")
	if reserved != 0 {
		t.Fatalf("expected reserved=0 after confirm, got %d", reserved)
	}
}

// TestPaymentFailure exercises scenario 4: a FAILED webhook cancels the
// draft order and releases its reservation.
func TestPaymentFailure(t *testing.T) {
	cleanupTables(t)
	seedStock(t, "SHOES-1", "42", 4, 0)

	sessionResp, err := postJSON(formatURL("/checkout/session"), map[string]interface{}{
		"userEmail": "fail@example.com",
		"items": []map[string]interface{}{
			{"productId": "SHOES-1", "size": "42", "quantity": 2},
		},
		"shippingInfo": map[string]string{
			"recipientName": "Fail Buyer",
			"line1":         "3 Market St",
			"city":          "Springfield",
			"postalCode":    "00000",
			"country":       "US",
		},
	})
	if err != nil {
		t.Fatalf("create session request failed: %v", err)
	}
	var session map[string]interface{}
	_ = readJSONResponse(sessionResp, &session)
	sessionID, _ := session["sessionId"].(string)

	const gatewayTxnID = "txn-failure-1"
	paymentResp, err := postJSON(formatURL("/payment/initiate"), map[string]string{
		"sessionId":      sessionID,
		"idempotencyKey": "idem-failure-1",
		"gatewayTxnId":   gatewayTxnID,
	})
	if err != nil {
		t.Fatalf("initiate payment request failed: %v", err)
	}
	var order map[string]interface{}
	_ = readJSONResponse(paymentResp, &order)
	orderID, _ := order["orderId"].(string)

	webhookBody := []byte(fmt.Sprintf(`{"event":"payment.updated","orderId":%q,"state":"FAILED","amount":0}`, gatewayTxnID))
	resp, err := postWebhook("stripe", webhookBody, true)
	if err != nil {
		t.Fatalf("webhook delivery failed: %v", err)
	}
	resp.Body.Close()

	waitForOrderStatus(t, orderID, "CANCELLED")
	_, reserved := getStockFromDB(t, "SHOES-1", "42")
	if reserved != 0 {
		t.Fatalf("expected reserved=0 after payment failure, got %d", reserved)
	}
}

// TestOrphanPaymentCreatesEmergencyOrder exercises scenario 6: a webhook
// with no matching order/session still results in an order record, marked
// for manual review, instead of a silently dropped payment.
func TestOrphanPaymentCreatesEmergencyOrder(t *testing.T) {
	cleanupTables(t)

	webhookBody := []byte(`{"event":"payment.updated","orderId":"txn-orphan-1","state":"COMPLETED","amount":90000}`)
	resp, err := postWebhook("stripe", webhookBody, true)
	if err != nil {
		t.Fatalf("webhook delivery failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	var found bool
	for time.Now().Before(deadline) {
		var count int
		ctx, cancel := contextWithTimeout()
		err := testPool.QueryRow(ctx, "SELECT COUNT(*) FROM orders WHERE gateway_txn_id = $1 AND status = 'CONFIRMED'", "txn-orphan-1").Scan(&count)
		cancel()
		if err == nil && count == 1 {
			found = true
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	if !found {
		t.Fatalf("expected an emergency order confirmed for orphan txn-orphan-1")
	}
}

func waitForOrderStatus(t *testing.T, orderID, wantStatus string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, _ := getOrderFromDBSafe(orderID)
		if status == wantStatus {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("order %s never reached status %s", orderID, wantStatus)
}

func getOrderFromDBSafe(orderID string) (status, paymentStatus string) {
	ctx, cancel := contextWithTimeout()
	defer cancel()
	_ = testPool.QueryRow(ctx, "SELECT status, payment_status FROM orders WHERE order_id = $1", orderID).Scan(&status, &paymentStatus)
	return status, paymentStatus
}
