package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/philiapseudo-collab/dumu-apparels/internal/handlers"
	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

const ipnProcessTimeout = 30 * time.Second

// IPNProcessor reconciles an order against provider state.
type IPNProcessor interface {
	ProcessIPN(ctx context.Context, orderTrackingID, merchantRef string) (*handlers.ReconcileResult, error)
}

// CallbackProcessor settles an order from a provider webhook body.
type CallbackProcessor interface {
	ProcessCallback(ctx context.Context, payload map[string]any) (*handlers.ReconcileResult, error)
}

// CatalogReloader invalidates cached showroom listings.
type CatalogReloader interface {
	InvalidateCatalogCache(ctx context.Context) error
}

// Handlers groups the handlers and processors to mount.
type Handlers struct {
	Webhook  http.Handler
	IPN      IPNProcessor
	Kopokopo CallbackProcessor
	Catalog  CatalogReloader
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	basePath   string
}

// New creates a new HTTP server listening on addr with health and metrics endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/pesapal/ipn", server.handlePesapalIPN)
	mux.HandleFunc("/pesapal/status-check", server.handleStatusCheck)
	mux.HandleFunc("/kopokopo/callback", server.handleKopokopoCallback)
	mux.HandleFunc("/payment/callback", server.handlePaymentCallback)
	mux.HandleFunc("/admin/reload-catalog-cache", server.handleReloadCatalogCache)

	if handlers.Webhook != nil {
		mux.Handle("/webhook", handlers.Webhook)
	}

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// handlePesapalIPN acknowledges the notification immediately in the
// echo format Pesapal expects and reconciles the order in the
// background. Both the API 3.0 and legacy parameter names are
// accepted since registered IPN URLs can be old.
func (s *Server) handlePesapalIPN(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	trackingID := firstParam(query, "OrderTrackingId", "orderTrackingId", "pesapal_transaction_tracking_id")
	merchantRef := firstParam(query, "OrderMerchantReference", "orderMerchantReference", "pesapal_merchant_reference")
	notificationType := firstParam(query, "OrderNotificationType", "pesapal_notification_type")
	if notificationType == "" {
		notificationType = "CHANGE"
	}

	if trackingID == "" || merchantRef == "" {
		s.metrics.Errors.WithLabelValues("pesapal_ipn_http").Inc()
		http.Error(w, "missing tracking id or merchant reference", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "pesapal_notification_type=%s&pesapal_transaction_tracking_id=%s&pesapal_merchant_reference=%s",
		notificationType, trackingID, merchantRef)

	if s.handlers.IPN == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ipnProcessTimeout)
		defer cancel()
		if _, err := s.handlers.IPN.ProcessIPN(ctx, trackingID, merchantRef); err != nil {
			s.logger.Error("ipn processing failed", "tracking_id", trackingID, "merchant_ref", merchantRef, "error", err)
		}
	}()
}

// handleKopokopoCallback acknowledges the payment result webhook and
// settles the order in the background. Kopo Kopo retries on non-2xx,
// so only an unreadable body is rejected.
func (s *Server) handleKopokopoCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.Errors.WithLabelValues("kopokopo_callback_http").Inc()
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]string{"status": "received"})

	if s.handlers.Kopokopo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ipnProcessTimeout)
		defer cancel()
		if _, err := s.handlers.Kopokopo.ProcessCallback(ctx, payload); err != nil {
			s.logger.Error("kopokopo callback processing failed", "error", err)
		}
	}()
}

// handleStatusCheck runs a reconciliation synchronously, used by
// operators to resolve an order without waiting for the next IPN.
func (s *Server) handleStatusCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.IPN == nil {
		http.Error(w, "reconciliation unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		OrderTrackingID   string `json:"order_tracking_id"`
		MerchantReference string `json:"merchant_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderTrackingID == "" || req.MerchantReference == "" {
		http.Error(w, "order_tracking_id and merchant_reference are required", http.StatusBadRequest)
		return
	}

	result, err := s.handlers.IPN.ProcessIPN(r.Context(), req.OrderTrackingID, req.MerchantReference)
	if err != nil {
		s.logger.Error("status check failed", "merchant_ref", req.MerchantReference, "error", err)
		http.Error(w, "status check failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// handlePaymentCallback is where the hosted payment page redirects the
// buyer after checkout. Settlement happens via IPN, so this page only
// tells the buyer to return to the chat.
func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Dumu Apparels</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem;">
<h2>Thank you for shopping with Dumu Apparels! 🇰🇪</h2>
<p>Your payment is being confirmed. Head back to Instagram — we'll send your order confirmation there.</p>
</body>
</html>`))
}

func (s *Server) handleReloadCatalogCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.Catalog == nil {
		http.Error(w, "catalog cache unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.handlers.Catalog.InvalidateCatalogCache(r.Context()); err != nil {
		s.logger.Error("catalog cache reload failed", "error", err)
		http.Error(w, "failed reloading catalog cache", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func firstParam(query url.Values, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(query.Get(key)); val != "" {
			return val
		}
	}
	return ""
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
