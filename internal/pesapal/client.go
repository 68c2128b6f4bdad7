package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

const defaultBaseURL = "https://pay.pesapal.com/v3"

// ErrAuthFailed indicates Pesapal rejected the consumer credentials.
var ErrAuthFailed = errors.New("pesapal authentication failed")

// Client provides typed access to the Pesapal API 3.0.
type Client struct {
	logger         *slog.Logger
	baseURL        string
	consumerKey    string
	consumerSecret string
	notificationID string
	timeout        time.Duration
	submitTimeout  time.Duration
	http           *http.Client
	metrics        *metrics.Metrics
}

// Config holds Pesapal client configuration. Timeout bounds the quick
// token, status, and IPN registration calls; SubmitTimeout bounds
// order submission, which the provider takes noticeably longer on.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	NotificationID string
	Timeout        time.Duration
	SubmitTimeout  time.Duration
}

// New creates a new Pesapal client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	submitTimeout := cfg.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}
	return &Client{
		logger:         logger.With("component", "pesapal"),
		baseURL:        base,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		notificationID: cfg.NotificationID,
		timeout:        timeout,
		submitTimeout:  submitTimeout,
		http:           &http.Client{},
		metrics:        metrics,
	}
}

// BillingAddress identifies the paying customer.
type BillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

// OrderRequest holds parameters for a hosted payment page order.
type OrderRequest struct {
	MerchantReference string
	Currency          string
	Amount            decimal.Decimal
	Description       string
	CallbackURL       string
	Billing           BillingAddress
}

// OrderResponse carries the hosted payment page details.
type OrderResponse struct {
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
}

// SubmitOrder registers an order and returns the redirect URL for the
// hosted payment page.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	token, err := c.requestToken(ctx)
	if err != nil {
		return nil, err
	}

	amount, _ := req.Amount.Round(2).Float64()
	body := map[string]any{
		"id":            req.MerchantReference,
		"currency":      req.Currency,
		"amount":        amount,
		"description":   req.Description,
		"callback_url":  req.CallbackURL,
		"redirect_mode": "",
		"branch":        "",
		"billing_address": map[string]any{
			"email_address": req.Billing.EmailAddress,
			"phone_number":  req.Billing.PhoneNumber,
			"country_code":  req.Billing.CountryCode,
			"first_name":    req.Billing.FirstName,
			"last_name":     req.Billing.LastName,
		},
	}
	if c.notificationID != "" {
		body["notification_id"] = c.notificationID
	}

	data, err := c.call(ctx, http.MethodPost, "/api/Transactions/SubmitOrderRequest", token, body, c.submitTimeout)
	if err != nil {
		return nil, err
	}
	if msg := errorMessage(data); msg != "" {
		return nil, fmt.Errorf("pesapal submit order rejected: %s", msg)
	}

	resp := &OrderResponse{
		OrderTrackingID:   firstString(data, "order_tracking_id"),
		MerchantReference: firstString(data, "merchant_reference"),
		RedirectURL:       firstString(data, "redirect_url"),
	}
	if resp.RedirectURL == "" {
		return nil, fmt.Errorf("pesapal submit order: no redirect url in response")
	}
	return resp, nil
}

// TransactionStatus describes the state of a submitted order.
type TransactionStatus struct {
	OrderTrackingID   string
	MerchantReference string
	StatusDescription string
	PaymentMethod     string
	ConfirmationCode  string
	Amount            decimal.Decimal
	Raw               map[string]any
}

// GetTransactionStatus fetches the current state of an order by
// tracking ID.
func (c *Client) GetTransactionStatus(ctx context.Context, orderTrackingID string) (*TransactionStatus, error) {
	token, err := c.requestToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(orderTrackingID)
	data, err := c.call(ctx, http.MethodGet, endpoint, token, nil, c.timeout)
	if err != nil {
		return nil, err
	}
	if msg := errorMessage(data); msg != "" {
		return nil, fmt.Errorf("pesapal transaction status rejected: %s", msg)
	}

	status := &TransactionStatus{
		OrderTrackingID:   firstString(data, "order_tracking_id"),
		MerchantReference: firstString(data, "merchant_reference"),
		StatusDescription: statusDescription(data),
		PaymentMethod:     firstString(data, "payment_method"),
		ConfirmationCode:  firstString(data, "confirmation_code"),
		Raw:               data,
	}
	if amt := firstString(data, "amount"); amt != "" {
		if parsed, err := decimal.NewFromString(amt); err == nil {
			status.Amount = parsed
		}
	}
	return status, nil
}

// RegisterIPN registers a notification URL and returns its ipn_id for
// use as notification_id in order submissions.
func (c *Client) RegisterIPN(ctx context.Context, notifyURL string) (string, error) {
	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"url":                   notifyURL,
		"ipn_notification_type": "GET",
	}
	data, err := c.call(ctx, http.MethodPost, "/api/URLSetup/RegisterIPN", token, body, c.timeout)
	if err != nil {
		return "", err
	}
	if msg := errorMessage(data); msg != "" {
		return "", fmt.Errorf("pesapal register ipn rejected: %s", msg)
	}

	ipnID := firstString(data, "ipn_id")
	if ipnID == "" {
		return "", fmt.Errorf("pesapal register ipn: no ipn_id in response")
	}
	return ipnID, nil
}

// requestToken obtains a short-lived bearer token. Pesapal tokens
// expire in minutes, so a fresh one is fetched per operation.
func (c *Client) requestToken(ctx context.Context) (string, error) {
	body := map[string]any{
		"consumer_key":    c.consumerKey,
		"consumer_secret": c.consumerSecret,
	}
	data, err := c.call(ctx, http.MethodPost, "/api/Auth/RequestToken", "", body, c.timeout)
	if err != nil {
		return "", err
	}

	token := firstString(data, "token")
	if token == "" {
		msg := errorMessage(data)
		if msg == "" {
			msg = "no token in response"
		}
		return "", fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	}
	return token, nil
}

func (c *Client) call(ctx context.Context, method, endpoint, token string, body map[string]any, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	metricEndpoint := endpoint
	if idx := strings.IndexByte(metricEndpoint, '?'); idx >= 0 {
		metricEndpoint = metricEndpoint[:idx]
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.PesapalRequests.WithLabelValues(metricEndpoint, "error").Inc()
		}
		return nil, fmt.Errorf("pesapal request: %w", err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.PesapalRequests.WithLabelValues(metricEndpoint, statusLabel).Inc()
		c.metrics.PesapalLatency.WithLabelValues(metricEndpoint, statusLabel).Observe(duration)
	}

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: status=%d", ErrAuthFailed, res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("pesapal error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(resBody)))
	}

	return decodeMap(resBody)
}

// statusDescription pulls the payment status token from the response,
// checking the top level first and then one level of nesting since the
// provider sometimes wraps status fields in a data or result object.
func statusDescription(data map[string]any) string {
	keys := []string{"payment_status_description", "status", "payment_status"}
	if s := firstString(data, keys...); s != "" {
		return s
	}
	for _, val := range data {
		if nested, ok := val.(map[string]any); ok {
			if s := firstString(nested, keys...); s != "" {
				return s
			}
		}
	}
	return ""
}

// errorMessage extracts the error description from a 200 response that
// still carries an error object.
func errorMessage(data map[string]any) string {
	val, ok := data["error"]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if msg := firstString(v, "message", "error_type", "code"); msg != "" {
			return msg
		}
		return "unspecified error"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str := toString(val); str != "" {
				return str
			}
		}
	}
	return ""
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == 0 {
			return ""
		}
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
