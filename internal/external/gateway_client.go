package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayClient queries the payment gateway holding the custodial account.
// The engine compares the gateway's reported balance against the recorded
// pool total during reconciliation.
type GatewayClient interface {
	ReportedBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	AccountStatus(ctx context.Context, accountID string) (*GatewayAccountStatus, error)
}

type gatewayClient struct {
	config     *GatewayConfig
	httpClient *http.Client
}

type GatewayConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type GatewayAccountStatus struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	AsOf      time.Time       `json:"as_of"`
}

func NewGatewayClient(config *GatewayConfig) GatewayClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &gatewayClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (c *gatewayClient) ReportedBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	status, err := c.AccountStatus(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return status.Balance, nil
}

func (c *gatewayClient) AccountStatus(ctx context.Context, accountID string) (*GatewayAccountStatus, error) {
	url := fmt.Sprintf("%s/v1/accounts/%s", c.config.BaseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	c.sign(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var status GatewayAccountStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &status, nil
}

// sign adds the API key and an HMAC of method, path and timestamp, matching
// the gateway's request authentication scheme.
func (c *gatewayClient) sign(req *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Api-Key", c.config.APIKey)
	req.Header.Set("X-Timestamp", timestamp)

	if c.config.APISecret != "" {
		mac := hmac.New(sha256.New, []byte(c.config.APISecret))
		mac.Write([]byte(req.Method + req.URL.Path + timestamp))
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
}
