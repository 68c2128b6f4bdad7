package kopokopo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

const (
	defaultBaseURL        = "https://api.kopokopo.com"
	defaultTokenLifetime  = 3600 * time.Second
	tokenRefreshHeadStart = 30 * time.Second
)

// ErrAuthFailed indicates Kopo Kopo rejected the OAuth credentials.
var ErrAuthFailed = errors.New("kopokopo authentication failed")

// Client provides typed access to the Kopo Kopo STK push API.
type Client struct {
	logger       *slog.Logger
	baseURL      string
	clientID     string
	clientSecret string
	tillNumber   string
	callbackURL  string
	http         *http.Client
	metrics      *metrics.Metrics

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Config holds Kopo Kopo client configuration.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TillNumber   string
	CallbackURL  string
	Timeout      time.Duration
}

// New creates a new Kopo Kopo client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:       logger.With("component", "kopokopo"),
		baseURL:      base,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tillNumber:   cfg.TillNumber,
		callbackURL:  cfg.CallbackURL,
		http:         &http.Client{Timeout: timeout},
		metrics:      metrics,
	}
}

// STKPushRequest holds parameters for an M-Pesa STK push prompt.
type STKPushRequest struct {
	FirstName   string
	LastName    string
	PhoneNumber string
	Email       string
	Amount      decimal.Decimal
	Reference   string
}

// InitiateSTKPush triggers an M-Pesa payment prompt on the subscriber's
// phone and returns the location URL of the created payment resource.
func (c *Client) InitiateSTKPush(ctx context.Context, req STKPushRequest) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"payment_channel": "M-PESA STK Push",
		"till_number":     c.tillNumber,
		"subscriber": map[string]any{
			"first_name":   req.FirstName,
			"last_name":    req.LastName,
			"phone_number": req.PhoneNumber,
			"email":        req.Email,
		},
		"amount": map[string]any{
			"currency": "KES",
			"value":    req.Amount.StringFixed(2),
		},
		"metadata": map[string]any{
			"reference": req.Reference,
		},
		"_links": map[string]any{
			"callback_url": c.callbackURL,
		},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal stk push request: %w", err)
	}

	const endpoint = "/api/v1/incoming_payments"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	res, err := c.http.Do(httpReq)
	if err != nil {
		if c.metrics != nil {
			c.metrics.KopokopoRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return "", fmt.Errorf("kopokopo request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.KopokopoRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.KopokopoLatency.WithLabelValues(endpoint, statusLabel).Observe(duration)
	}

	resBody, _ := io.ReadAll(res.Body)

	switch res.StatusCode {
	case http.StatusCreated:
		location := res.Header.Get("Location")
		c.logger.Info("stk push accepted", "reference", req.Reference, "location", location)
		return location, nil
	case http.StatusUnauthorized:
		// Token may have been revoked upstream; drop the cache so the
		// next call re-authenticates.
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
		return "", fmt.Errorf("%w: status=%d", ErrAuthFailed, res.StatusCode)
	default:
		return "", fmt.Errorf("kopokopo stk push failed: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(resBody)))
	}
}

// token returns a cached OAuth access token, fetching a new one when
// the cached token is absent or near expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	body := map[string]any{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	const endpoint = "/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.KopokopoRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return "", fmt.Errorf("kopokopo token request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.KopokopoRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.KopokopoLatency.WithLabelValues(endpoint, statusLabel).Observe(duration)
	}

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrAuthFailed, res.StatusCode, strings.TrimSpace(string(resBody)))
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(resBody, &decoded); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("%w: no access_token in response", ErrAuthFailed)
	}

	lifetime := defaultTokenLifetime
	if decoded.ExpiresIn > 0 {
		lifetime = time.Duration(decoded.ExpiresIn) * time.Second
	}
	if lifetime > tokenRefreshHeadStart {
		lifetime -= tokenRefreshHeadStart
	}

	c.accessToken = decoded.AccessToken
	c.tokenExpiry = time.Now().Add(lifetime)
	return c.accessToken, nil
}
