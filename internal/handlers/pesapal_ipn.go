package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"log/slog"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
	"github.com/philiapseudo-collab/dumu-apparels/internal/pesapal"
	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
)

var merchantRefRegex = regexp.MustCompile(`^ORDER_(\d+)$`)

// StatusFetcher resolves the provider-side state of a tracked payment.
type StatusFetcher interface {
	GetTransactionStatus(ctx context.Context, orderTrackingID string) (*pesapal.TransactionStatus, error)
}

// Notifier delivers the payment outcome back to the buyer.
type Notifier interface {
	SendText(ctx context.Context, recipientID, text string) error
}

// ReconcileResult summarizes one reconciliation attempt.
type ReconcileResult struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
	Settled bool   `json:"settled"`
}

// PesapalIPNProcessor reconciles pending orders against Pesapal
// transaction state when an IPN or status check arrives.
type PesapalIPNProcessor struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	repo     repo.Repository
	status   StatusFetcher
	notifier Notifier
}

// NewPesapalIPNProcessor creates a reconciliation processor.
func NewPesapalIPNProcessor(logger *slog.Logger, metrics *metrics.Metrics, repository repo.Repository, status StatusFetcher, notifier Notifier) *PesapalIPNProcessor {
	return &PesapalIPNProcessor{
		logger:   logger.With("component", "pesapal_ipn"),
		metrics:  metrics,
		repo:     repository,
		status:   status,
		notifier: notifier,
	}
}

// ProcessIPN looks up the order named by the merchant reference,
// resolves the transaction state upstream, and settles the order at
// most once. Terminal orders and unknown references are skipped
// without error so provider retries stay harmless.
func (p *PesapalIPNProcessor) ProcessIPN(ctx context.Context, orderTrackingID, merchantRef string) (*ReconcileResult, error) {
	orderID, ok := parseMerchantRef(merchantRef)
	if !ok {
		p.logger.Warn("unrecognized merchant reference", "merchant_ref", merchantRef)
		return &ReconcileResult{Status: "skipped"}, nil
	}

	order, err := p.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		p.logger.Warn("order not found for ipn", "order_id", orderID, "error", err)
		return &ReconcileResult{OrderID: orderID, Status: "skipped"}, nil
	}
	if order.IsTerminal() {
		p.logger.Info("order already settled", "order_id", orderID, "status", order.Status)
		return &ReconcileResult{OrderID: orderID, Status: order.Status}, nil
	}

	status, err := p.status.GetTransactionStatus(ctx, orderTrackingID)
	if err != nil {
		p.metrics.Errors.WithLabelValues("pesapal_ipn").Inc()
		return nil, fmt.Errorf("fetch transaction status: %w", err)
	}

	newStatus, decided := classifyStatus(status.StatusDescription)
	if !decided {
		p.logger.Info("payment still pending", "order_id", orderID, "provider_status", status.StatusDescription)
		return &ReconcileResult{OrderID: orderID, Status: repo.OrderStatusPending}, nil
	}

	settled, err := p.repo.SettleOrder(ctx, orderID, newStatus, orderTrackingID)
	if err != nil {
		p.metrics.Errors.WithLabelValues("pesapal_ipn").Inc()
		return nil, fmt.Errorf("settle order %d: %w", orderID, err)
	}
	if !settled {
		p.logger.Info("order settled concurrently", "order_id", orderID)
		return &ReconcileResult{OrderID: orderID, Status: newStatus}, nil
	}

	p.metrics.OrdersSettled.WithLabelValues(newStatus).Inc()
	p.logger.Info("order settled", "order_id", orderID, "status", newStatus, "tracking_id", orderTrackingID)

	notifyBuyer(ctx, p.logger, p.repo, p.notifier, order, newStatus)
	return &ReconcileResult{OrderID: orderID, Status: newStatus, Settled: true}, nil
}

// notifyBuyer tells the order's owner how their payment ended and
// journals the message. Shared by the card and mobile-money settlement
// paths.
func notifyBuyer(ctx context.Context, logger *slog.Logger, repository repo.Repository, notifier Notifier, order *repo.Order, status string) {
	if notifier == nil {
		return
	}
	user, err := repository.GetUserByID(ctx, order.UserID)
	if err != nil {
		logger.Warn("buyer lookup failed", "order_id", order.ID, "error", err)
		return
	}

	var text string
	if status == repo.OrderStatusPaid {
		text = fmt.Sprintf("✅ Payment successful! 🎉\n\nYour order #%d has been confirmed.\n\nThank you for shopping with Dumu Apparels!", order.ID)
	} else {
		text = fmt.Sprintf("❌ Payment was not successful.\n\nYour order #%d could not be processed.\n\nPlease try again or contact support if the issue persists.", order.ID)
	}

	if err := notifier.SendText(ctx, user.InstagramID, text); err != nil {
		logger.Warn("buyer notification failed", "order_id", order.ID, "error", err)
		return
	}
	err = repository.InsertConversationLog(ctx, repo.ConversationLog{
		UserID:  user.ID,
		Message: text,
		Sender:  repo.SenderBot,
	})
	if err != nil {
		logger.Warn("conversation log write failed", "error", err)
	}
}

func parseMerchantRef(ref string) (int64, bool) {
	matches := merchantRefRegex.FindStringSubmatch(strings.TrimSpace(ref))
	if matches == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// classifyStatus maps a provider status token onto a terminal order
// status. Unknown tokens leave the order pending.
func classifyStatus(token string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "completed", "complete", "success", "successful", "paid":
		return repo.OrderStatusPaid, true
	case "failed", "cancelled", "rejected":
		return repo.OrderStatusFailed, true
	default:
		return "", false
	}
}
