package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Clearhold API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	APIKey   string // API key, e.g. "sk_..."
	Identity string // Caller's address, e.g. "0x..."
}

// ClearholdClient is a pure HTTP client for the Clearhold escrow API.
type ClearholdClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewClearholdClient creates a new client for the Clearhold API.
func NewClearholdClient(cfg Config) *ClearholdClient {
	return &ClearholdClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the service.
type apiError struct {
	Error string `json:"error"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *ClearholdClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// CreateEscrow opens a new escrow with the caller as payer.
func (c *ClearholdClient) CreateEscrow(ctx context.Context, payee, amt, asset string) (json.RawMessage, error) {
	body := map[string]any{
		"payee":  payee,
		"amount": amt,
	}
	if asset != "" {
		body["asset"] = asset
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// GetEscrow fetches one escrow by ID.
func (c *ClearholdClient) GetEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows/"+id, nil, nil)
}

// ListEscrows lists escrows where the caller is a party.
func (c *ClearholdClient) ListEscrows(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/escrows", q, nil)
}

// LockFunds moves the escrow amount plus fee into custody.
func (c *ClearholdClient) LockFunds(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/lock", nil, nil)
}

// ConfirmDelivery marks the trade as delivered (payee side).
func (c *ClearholdClient) ConfirmDelivery(ctx context.Context, id, deliveryInfo string) (json.RawMessage, error) {
	var body any
	if deliveryInfo != "" {
		body = map[string]string{"deliveryInfo": deliveryInfo}
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/confirm", nil, body)
}

// ApproveRelease approves the release as payer.
func (c *ClearholdClient) ApproveRelease(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/approve", nil, nil)
}

// OpenDispute opens a dispute on a delivery-confirmed escrow.
func (c *ClearholdClient) OpenDispute(ctx context.Context, id, reason, bond string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	if bond != "" {
		body["bond"] = bond
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/dispute", nil, body)
}

// SubmitEvidence attaches an evidence reference to an open dispute.
func (c *ClearholdClient) SubmitEvidence(ctx context.Context, id, reference string) (json.RawMessage, error) {
	body := map[string]string{"reference": reference}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/evidence", nil, body)
}

// CastVote votes on an open dispute with the caller's reputation weight.
func (c *ClearholdClient) CastVote(ctx context.Context, id string, forPayer bool) (json.RawMessage, error) {
	body := map[string]bool{"forPayer": forPayer}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/votes", nil, body)
}

// SignRelease adds the caller's multi-sig signature.
func (c *ClearholdClient) SignRelease(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/signatures", nil, nil)
}

// ActivateTimeLock arms the time-lock fallback.
func (c *ClearholdClient) ActivateTimeLock(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/timelock", nil, nil)
}

// ReleaseTimeLock executes an expired time lock.
func (c *ClearholdClient) ReleaseTimeLock(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/timelock/release", nil, nil)
}

// CancelEscrow cancels an unfunded escrow.
func (c *ClearholdClient) CancelEscrow(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows/"+id+"/cancel", nil, nil)
}

// GetReputation returns the reputation score for an identity.
func (c *ClearholdClient) GetReputation(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/reputation/"+address, nil, nil)
}
