// Package wallet provisions custodial wallets for platform users through the
// wallet service HTTP API.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

var ErrUnavailable = errors.New("wallet: service unavailable")

// Provisioner returns the wallet address for a user, creating the wallet
// on first use. Implementations must be idempotent per user id.
type Provisioner interface {
	GetOrCreateWallet(ctx context.Context, email, userID string) (string, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

type Wallet struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Address string `json:"address"`
}

// Client is the HTTP Provisioner.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Provisioner = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("wallet: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

func (c *Client) GetOrCreateWallet(ctx context.Context, email, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("wallet: user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Try the existing wallet first so retries never mint a second one.
	var existing struct {
		Data []Wallet `json:"data"`
	}
	if err := c.get(ctx, "/v1/wallets?userId="+url.QueryEscape(userID), &existing); err != nil {
		return "", err
	}
	for _, w := range existing.Data {
		if w.Address != "" {
			return w.Address, nil
		}
	}

	payload := map[string]string{
		"idempotencyKey": "wallet-" + userID,
		"userId":         userID,
		"email":          email,
	}
	var created struct {
		Data Wallet `json:"data"`
	}
	if err := c.post(ctx, "/v1/wallets", payload, &created); err != nil {
		return "", err
	}
	if created.Data.Address == "" {
		return "", fmt.Errorf("%w: empty address in response", ErrUnavailable)
	}
	return created.Data.Address, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, result any) error {
	return c.request(ctx, http.MethodPost, path, payload, result)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.request(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) request(ctx context.Context, method, path string, payload any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The body can echo request data, keep only a bounded prefix.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUnavailable, method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
