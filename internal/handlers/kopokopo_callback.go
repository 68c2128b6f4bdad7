package handlers

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
)

// KopokopoCallbackProcessor settles mobile-money orders from Kopo Kopo
// payment result webhooks. The charge's metadata echoes back the
// reference the order was created under.
type KopokopoCallbackProcessor struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	repo     repo.Repository
	notifier Notifier
}

// NewKopokopoCallbackProcessor creates a callback processor.
func NewKopokopoCallbackProcessor(logger *slog.Logger, metrics *metrics.Metrics, repository repo.Repository, notifier Notifier) *KopokopoCallbackProcessor {
	return &KopokopoCallbackProcessor{
		logger:   logger.With("component", "kopokopo_callback"),
		metrics:  metrics,
		repo:     repository,
		notifier: notifier,
	}
}

// ProcessCallback extracts the charge outcome and metadata reference
// from the webhook body and settles the matching order at most once.
// Payloads without a resolvable reference are skipped without error so
// provider retries stay harmless.
func (p *KopokopoCallbackProcessor) ProcessCallback(ctx context.Context, payload map[string]any) (*ReconcileResult, error) {
	attrs := nestedMap(payload, "data", "attributes")
	if attrs == nil {
		p.logger.Warn("callback without data.attributes")
		return &ReconcileResult{Status: "skipped"}, nil
	}

	reference := stringField(nestedMap(attrs, "metadata"), "reference")
	if reference == "" {
		p.logger.Warn("callback without metadata reference")
		return &ReconcileResult{Status: "skipped"}, nil
	}

	order, err := p.repo.GetOrderByTransactionRef(ctx, reference)
	if err != nil {
		p.logger.Warn("order not found for callback", "reference", reference, "error", err)
		return &ReconcileResult{Status: "skipped"}, nil
	}
	if order.IsTerminal() {
		p.logger.Info("order already settled", "order_id", order.ID, "status", order.Status)
		return &ReconcileResult{OrderID: order.ID, Status: order.Status}, nil
	}

	newStatus, decided := classifyStatus(stringField(attrs, "status"))
	if !decided {
		p.logger.Info("charge still pending", "order_id", order.ID, "provider_status", stringField(attrs, "status"))
		return &ReconcileResult{OrderID: order.ID, Status: repo.OrderStatusPending}, nil
	}

	// Record the M-Pesa receipt when the result carries one, keeping
	// the charge reference otherwise.
	settleRef := stringField(nestedMap(attrs, "event", "resource"), "reference")
	if settleRef == "" {
		settleRef = reference
	}

	settled, err := p.repo.SettleOrder(ctx, order.ID, newStatus, settleRef)
	if err != nil {
		p.metrics.Errors.WithLabelValues("kopokopo_callback").Inc()
		return nil, fmt.Errorf("settle order %d: %w", order.ID, err)
	}
	if !settled {
		p.logger.Info("order settled concurrently", "order_id", order.ID)
		return &ReconcileResult{OrderID: order.ID, Status: newStatus}, nil
	}

	p.metrics.OrdersSettled.WithLabelValues(newStatus).Inc()
	p.logger.Info("order settled", "order_id", order.ID, "status", newStatus, "reference", settleRef)

	notifyBuyer(ctx, p.logger, p.repo, p.notifier, order, newStatus)
	return &ReconcileResult{OrderID: order.ID, Status: newStatus, Settled: true}, nil
}

func nestedMap(data map[string]any, keys ...string) map[string]any {
	current := data
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
