package ig

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

const processTimeout = 30 * time.Second

// WebhookProcessor handles a decoded webhook payload after the HTTP
// response has been written.
type WebhookProcessor interface {
	ProcessPayload(ctx context.Context, payload WebhookPayload)
}

// WebhookHandler serves the Meta webhook endpoint: GET handshake
// verification and POST event ingestion.
type WebhookHandler struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	verifyToken string
	processor   WebhookProcessor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, verifyToken string, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger.With("component", "ig_webhook"),
		metrics:     metrics,
		verifyToken: verifyToken,
		processor:   processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.ingest(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// verify answers the Meta subscription handshake by echoing
// hub.challenge when the verify token matches.
func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "missing verification parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.verifyToken {
		h.metrics.Errors.WithLabelValues("ig_webhook_verify").Inc()
		h.logger.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// ingest acknowledges the delivery immediately and processes events in
// the background so Meta never sees handler latency.
func (h *WebhookHandler) ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.Errors.WithLabelValues("ig_webhook").Inc()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.Errors.WithLabelValues("ig_webhook").Inc()
		h.logger.Warn("webhook payload decode failed", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	h.metrics.IGIncomingEvents.WithLabelValues(payload.Object).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"received"}`))

	if h.processor == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		h.processor.ProcessPayload(ctx, payload)
	}()
}
