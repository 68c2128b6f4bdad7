package ig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// Client sends messages through the Meta Graph send API.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	accessToken string
	http        *http.Client
	metrics     *metrics.Metrics
}

// Config holds Graph API client configuration.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// New creates a new Graph send API client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGraphBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:      logger.With("component", "ig"),
		baseURL:     base,
		accessToken: cfg.AccessToken,
		http:        &http.Client{Timeout: timeout},
		metrics:     metrics,
	}
}

// Button is a postback button on a button template.
type Button struct {
	Title   string
	Payload string
}

// CarouselElement is one card in a generic template carousel.
type CarouselElement struct {
	Title    string
	Subtitle string
	ImageURL string
	Buttons  []Button
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	payload := map[string]any{
		"recipient": map[string]any{"id": recipientID},
		"message":   map[string]any{"text": text},
	}
	return c.send(ctx, "text", payload)
}

// SendButtonTemplate delivers text with up to three postback buttons.
func (c *Client) SendButtonTemplate(ctx context.Context, recipientID, text string, buttons []Button) error {
	rendered := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		rendered = append(rendered, map[string]any{
			"type":    "postback",
			"title":   b.Title,
			"payload": b.Payload,
		})
	}
	payload := map[string]any{
		"recipient": map[string]any{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "button",
					"text":          text,
					"buttons":       rendered,
				},
			},
		},
	}
	return c.send(ctx, "button_template", payload)
}

// SendURLButton delivers text with a single web_url button, used for
// hosted payment pages.
func (c *Client) SendURLButton(ctx context.Context, recipientID, text, buttonTitle, buttonURL string) error {
	payload := map[string]any{
		"recipient": map[string]any{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "button",
					"text":          text,
					"buttons": []map[string]any{
						{
							"type":  "web_url",
							"title": buttonTitle,
							"url":   buttonURL,
						},
					},
				},
			},
		},
	}
	return c.send(ctx, "url_button", payload)
}

// SendCarousel delivers a generic template with one card per element.
func (c *Client) SendCarousel(ctx context.Context, recipientID string, elements []CarouselElement) error {
	if len(elements) == 0 {
		return fmt.Errorf("carousel requires at least one element")
	}
	cards := make([]map[string]any, 0, len(elements))
	for _, el := range elements {
		buttons := make([]map[string]any, 0, len(el.Buttons))
		for _, b := range el.Buttons {
			buttons = append(buttons, map[string]any{
				"type":    "postback",
				"title":   b.Title,
				"payload": b.Payload,
			})
		}
		card := map[string]any{
			"title":   el.Title,
			"buttons": buttons,
		}
		if el.Subtitle != "" {
			card["subtitle"] = el.Subtitle
		}
		if el.ImageURL != "" {
			card["image_url"] = el.ImageURL
		}
		cards = append(cards, card)
	}
	payload := map[string]any{
		"recipient": map[string]any{"id": recipientID},
		"message": map[string]any{
			"attachment": map[string]any{
				"type": "template",
				"payload": map[string]any{
					"template_type": "generic",
					"elements":      cards,
				},
			},
		},
	}
	return c.send(ctx, "carousel", payload)
}

// graphError mirrors Meta's error envelope.
type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

func (c *Client) send(ctx context.Context, messageType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	reqURL := fmt.Sprintf("%s/me/messages?access_token=%s", c.baseURL, url.QueryEscape(c.accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IGOutgoingMessages.WithLabelValues(messageType, "error").Inc()
		}
		return fmt.Errorf("graph send request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.IGOutgoingMessages.WithLabelValues(messageType, statusLabel).Inc()
	}

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		var ge graphError
		if err := json.Unmarshal(resBody, &ge); err == nil && ge.Error.Message != "" {
			return fmt.Errorf("graph send %s failed: %s (code=%d)", messageType, ge.Error.Message, ge.Error.Code)
		}
		return fmt.Errorf("graph send %s failed: status=%d body=%s", messageType, res.StatusCode, strings.TrimSpace(string(resBody)))
	}

	c.logger.Debug("message sent", "type", messageType)
	return nil
}
