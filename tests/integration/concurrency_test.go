//go:build integration

// Package integration contains concurrency tests that run against the real
// docker-compose infrastructure. These tests verify race condition handling
// using real HTTP requests to the API server.
package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
)

// TestConcurrentLastUnitReservation exercises scenario 3: two concurrent
// checkout-session creates against the last unit of stock must yield
// exactly one success and one out-of-stock conflict, with reserved never
// exceeding stock.
func TestConcurrentLastUnitReservation(t *testing.T) {
	cleanupTables(t)
	seedStock(t, "LAST-UNIT", "ONE-SIZE", 1, 0)

	var wg sync.WaitGroup
	results := make(chan int, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := postJSON(formatURL("/checkout/session"), map[string]interface{}{
				"userEmail": fmt.Sprintf("racer-%d@example.com", n),
				"items": []map[string]interface{}{
					{"productId": "LAST-UNIT", "size": "ONE-SIZE", "quantity": 1},
				},
				"shippingInfo": map[string]string{
					"recipientName": "Racer",
					"line1":         "1 Race St",
					"city":          "Springfield",
					"postalCode":    "00000",
					"country":       "US",
				},
			})
			if err != nil {
				results <- -1
				return
			}
			defer resp.Body.Close()
			results <- resp.StatusCode
		}(i)
	}

	wg.Wait()
	close(results)

	successCount, conflictCount := 0, 0
	for code := range results {
		switch code {
		case http.StatusCreated:
			successCount++
		case http.StatusConflict:
			conflictCount++
		}
	}

	if successCount != 1 {
		t.Fatalf("expected exactly 1 successful reservation, got %d", successCount)
	}
	if conflictCount != 1 {
		t.Fatalf("expected exactly 1 out-of-stock conflict, got %d", conflictCount)
	}

	stock, reserved := getStockFromDB(t, "LAST-UNIT", "ONE-SIZE")
	if stock != 1 || reserved != 1 {
		t.Fatalf("expected stock=1 reserved=1 after race, got stock=%d reserved=%d", stock, reserved)
	}
}
