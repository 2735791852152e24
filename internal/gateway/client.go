// Package gateway is the outbound payment gateway client (spec §6). No
// teacher or pack repo wires a third-party HTTP client SDK for outbound
// calls, so this package is built on stdlib net/http — see DESIGN.md for
// the justification. Everything around the call (config wiring, sentinel
// errors, context deadlines) follows the teacher's idiom.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fairyhunter13/checkout-payment-core/internal/config"
	"github.com/fairyhunter13/checkout-payment-core/internal/model"
)

// Client talks to the external payment gateway's status-lookup API.
type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
}

// NewClient constructs a Client bound to the given gateway configuration.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type statusResponse struct {
	State       string `json:"state"`
	AmountMinor int64  `json:"amount"`
}

// statusStateMap mirrors §6 "States mapped": COMPLETED|SUCCESS -> success;
// FAILED|CANCELLED -> failure; everything else is left as ignored/unknown
// so the caller (reconciliation) can treat it as transient per §9's Open
// Question decision recorded in DESIGN.md.
var statusStateMap = map[string]model.GatewayEventState{
	"COMPLETED": model.GatewayStateSuccess,
	"SUCCESS":   model.GatewayStateSuccess,
	"FAILED":    model.GatewayStateFailure,
	"CANCELLED": model.GatewayStateFailure,
}

// GetStatus looks up the settlement state of a transaction by its gateway
// id (spec §6 "Status lookup").
func (c *Client) GetStatus(ctx context.Context, gatewayTxnID string) (model.GatewayStatus, error) {
	url := fmt.Sprintf("%s/v1/transactions/%s/status", c.cfg.BaseURL, gatewayTxnID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.GatewayStatus{}, fmt.Errorf("build status request: %w", err)
	}
	c.sign(req, gatewayTxnID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.GatewayStatus{}, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.GatewayStatus{}, fmt.Errorf("%w: read body: %v", ErrGatewayUnreachable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return model.GatewayStatus{}, ErrTxnNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return model.GatewayStatus{}, fmt.Errorf("%w: status %d", ErrGatewayUnreachable, resp.StatusCode)
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return model.GatewayStatus{}, fmt.Errorf("%w: decode response: %v", ErrGatewayUnknownState, err)
	}

	state, ok := statusStateMap[sr.State]
	if !ok {
		state = model.GatewayStateIgnored
	}

	return model.GatewayStatus{State: state, AmountMinor: sr.AmountMinor, Raw: body}, nil
}

// sign attaches the merchant id + salt + salt index signed checksum
// headers required by the gateway for outbound requests (spec §6
// "Authentication for outbound uses merchant id + salt; signed checksum
// headers").
func (c *Client) sign(req *http.Request, payload string) {
	mac := hmac.New(sha256.New, []byte(c.cfg.Salt))
	mac.Write([]byte(c.cfg.MerchantID))
	mac.Write([]byte(payload))
	mac.Write([]byte(c.cfg.SaltIndex))
	checksum := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-Merchant-Id", c.cfg.MerchantID)
	req.Header.Set("X-Salt-Index", c.cfg.SaltIndex)
	req.Header.Set("X-Checksum", checksum)
}
