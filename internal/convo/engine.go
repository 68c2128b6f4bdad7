package convo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/philiapseudo-collab/dumu-apparels/internal/cache"
	"github.com/philiapseudo-collab/dumu-apparels/internal/ig"
	"github.com/philiapseudo-collab/dumu-apparels/internal/kopokopo"
	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
	"github.com/philiapseudo-collab/dumu-apparels/internal/pesapal"
	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
)

const (
	carouselCachePrefix = "catalog:carousel:"
	carouselCacheTTL    = 2 * time.Minute
)

const (
	welcomeText = "Welcome to Dumu Apparels! 🇰🇪\nWe have the best fits for you.\n\nChoose a collection to start shopping:"

	unavailableText     = "Sorry, this item is no longer available or out of stock."
	chooseAnotherText   = "Sorry, that item is no longer available. Please choose another item."
	genericErrorText    = "Sorry, there was an error processing your request. Please try again."
	gatewayErrorText    = "Sorry, we couldn't process your payment request at this time. Please try again later."
	showroomErrorText   = "We are having trouble loading the showroom. Please try again in a moment."
	askPhoneText        = "Please reply with your M-Pesa number (e.g., 0712345678) to complete the payment."
	stkSentText         = "I have sent a prompt to your phone! Please enter your PIN."
	phoneSavedText      = "Thanks! Your M-Pesa number has been saved. Tap M-Pesa again to pay."
	invalidPhoneText    = "Please send a valid M-Pesa number like 0712345678."
	defaultBillingEmail = "@dumuapparels.local"
)

// Messenger delivers outbound messages to a conversation.
type Messenger interface {
	SendText(ctx context.Context, recipientID, text string) error
	SendButtonTemplate(ctx context.Context, recipientID, text string, buttons []ig.Button) error
	SendURLButton(ctx context.Context, recipientID, text, buttonTitle, buttonURL string) error
	SendCarousel(ctx context.Context, recipientID string, elements []ig.CarouselElement) error
}

// CardGateway submits hosted payment page orders.
type CardGateway interface {
	SubmitOrder(ctx context.Context, req pesapal.OrderRequest) (*pesapal.OrderResponse, error)
}

// MpesaGateway initiates STK push prompts.
type MpesaGateway interface {
	InitiateSTKPush(ctx context.Context, req kopokopo.STKPushRequest) (string, error)
}

// Engine drives the sales conversation: greeting, showroom, item
// selection, and payment initiation.
type Engine struct {
	logger          *slog.Logger
	metrics         *metrics.Metrics
	repo            repo.Repository
	messenger       Messenger
	card            CardGateway
	mpesa           MpesaGateway
	cache           *cache.Redis
	currency        string
	cardCallbackURL string
}

// Config holds engine configuration.
type Config struct {
	Currency        string
	CardCallbackURL string
}

// New creates a conversation engine. The cache may be nil, in which
// case showroom listings always hit the database.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics, repository repo.Repository, messenger Messenger, card CardGateway, mpesa MpesaGateway, redis *cache.Redis) *Engine {
	currency := cfg.Currency
	if currency == "" {
		currency = "KES"
	}
	return &Engine{
		logger:          logger.With("component", "convo"),
		metrics:         metrics,
		repo:            repository,
		messenger:       messenger,
		card:            card,
		mpesa:           mpesa,
		cache:           redis,
		currency:        currency,
		cardCallbackURL: cfg.CardCallbackURL,
	}
}

// ProcessPayload walks every messaging event in a webhook delivery.
// Events are independent: a panic or error in one never blocks the
// rest of the batch.
func (e *Engine) ProcessPayload(ctx context.Context, payload ig.WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, event := range entry.Messaging {
			e.handleEvent(ctx, event)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, event ig.MessagingEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "panic", r)
			e.metrics.Errors.WithLabelValues("convo_panic").Inc()
		}
	}()

	if event.Message != nil && event.Message.IsEcho {
		return
	}
	// Attachment-only messages carry no text and there is nothing to
	// dispatch on, same as delivery and read receipts.
	if event.Postback == nil && (event.Message == nil || strings.TrimSpace(event.Message.Text) == "") {
		return
	}
	senderID := strings.TrimSpace(event.Sender.ID)
	if senderID == "" {
		return
	}

	logger := e.logger.With("event_id", uuid.NewString(), "instagram_id", senderID)

	user, err := e.repo.FindOrCreateUserByInstagramID(ctx, senderID)
	if err != nil {
		logger.Error("find or create user failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_user").Inc()
		if sendErr := e.messenger.SendText(ctx, senderID, genericErrorText); sendErr != nil {
			logger.Error("send error reply failed", "error", sendErr)
		}
		return
	}

	if event.Postback != nil {
		e.handlePostback(ctx, logger, user, event.Postback.Payload)
		return
	}
	e.handleText(ctx, logger, user, event.Message.Text)
}

func (e *Engine) handleText(ctx context.Context, logger *slog.Logger, user *repo.User, text string) {
	e.logConversation(ctx, logger, user.ID, text, repo.SenderUser)

	if _, ok := NormalizeKenyanPhone(text); ok {
		e.capturePhoneNumber(ctx, logger, user, text)
		return
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "hi", "hello", "start":
		e.sendWelcome(ctx, logger, user)
	case "men":
		e.sendCarousel(ctx, logger, user, repo.CategoryMen)
	case "women":
		e.sendCarousel(ctx, logger, user, repo.CategoryWomen)
	default:
		e.sendText(ctx, logger, user, fmt.Sprintf("You said: %s. (AI coming soon!)", text))
	}
}

func (e *Engine) handlePostback(ctx context.Context, logger *slog.Logger, user *repo.User, payload string) {
	e.logConversation(ctx, logger, user.ID, "[BUTTON CLICK] "+payload, repo.SenderUser)

	switch {
	case payload == "SHOW_MEN":
		e.sendCarousel(ctx, logger, user, repo.CategoryMen)
	case payload == "SHOW_WOMEN":
		e.sendCarousel(ctx, logger, user, repo.CategoryWomen)
	case strings.HasPrefix(payload, "BUY_"):
		productID, ok := parsePayloadID(payload, "BUY_")
		if !ok {
			logger.Warn("malformed postback payload", "payload", payload)
			e.sendText(ctx, logger, user, genericErrorText)
			return
		}
		e.sendPaymentSelector(ctx, logger, user, productID)
	case strings.HasPrefix(payload, "PAY_MPESA_"):
		productID, ok := parsePayloadID(payload, "PAY_MPESA_")
		if !ok {
			logger.Warn("malformed postback payload", "payload", payload)
			e.sendText(ctx, logger, user, genericErrorText)
			return
		}
		e.startMpesaPayment(ctx, logger, user, productID)
	case strings.HasPrefix(payload, "PAY_CARD_"):
		productID, ok := parsePayloadID(payload, "PAY_CARD_")
		if !ok {
			logger.Warn("malformed postback payload", "payload", payload)
			e.sendText(ctx, logger, user, genericErrorText)
			return
		}
		e.startCardPayment(ctx, logger, user, productID)
	default:
		logger.Warn("unknown postback payload", "payload", payload)
	}
}

func (e *Engine) sendWelcome(ctx context.Context, logger *slog.Logger, user *repo.User) {
	buttons := []ig.Button{
		{Title: "Men's Collection 👟", Payload: "SHOW_MEN"},
		{Title: "Women's Collection 👗", Payload: "SHOW_WOMEN"},
	}
	if err := e.messenger.SendButtonTemplate(ctx, user.InstagramID, welcomeText, buttons); err != nil {
		logger.Error("send welcome failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_send").Inc()
		return
	}
	e.logConversation(ctx, logger, user.ID, "Welcome menu displayed", repo.SenderBot)
}

func (e *Engine) sendCarousel(ctx context.Context, logger *slog.Logger, user *repo.User, category string) {
	products, err := e.loadShowroom(ctx, logger, category)
	if err != nil {
		logger.Error("load showroom failed", "category", category, "error", err)
		e.metrics.Errors.WithLabelValues("convo_showroom").Inc()
		e.sendText(ctx, logger, user, showroomErrorText)
		return
	}
	elements := BuildCarouselElements(products)
	if len(elements) == 0 {
		e.sendText(ctx, logger, user, fmt.Sprintf("Sorry, no %s items in stock right now.", category))
		return
	}
	if err := e.messenger.SendCarousel(ctx, user.InstagramID, elements); err != nil {
		logger.Error("send carousel failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_send").Inc()
		return
	}
	e.logConversation(ctx, logger, user.ID, fmt.Sprintf("[CAROUSEL] Showing %s products (%d items)", category, len(elements)), repo.SenderBot)
}

func (e *Engine) loadShowroom(ctx context.Context, logger *slog.Logger, category string) ([]repo.Product, error) {
	cacheKey := carouselCachePrefix + category
	if e.cache != nil {
		var cached []repo.Product
		ok, err := e.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			logger.Warn("read showroom cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	products, err := e.repo.ListActiveProductsByCategory(ctx, category, carouselLimit)
	if err != nil {
		return nil, err
	}

	if e.cache != nil && len(products) > 0 {
		if err := e.cache.SetJSON(ctx, cacheKey, products, carouselCacheTTL); err != nil {
			logger.Warn("set showroom cache failed", "error", err)
		}
	}
	return products, nil
}

// InvalidateCatalogCache drops all cached showroom listings so the
// next carousel request reflects catalog changes immediately.
func (e *Engine) InvalidateCatalogCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.DeleteByPrefix(ctx, carouselCachePrefix)
}

func (e *Engine) sendPaymentSelector(ctx context.Context, logger *slog.Logger, user *repo.User, productID int64) {
	product, err := e.repo.GetProductByID(ctx, productID)
	if err != nil || !product.IsActive {
		if err != nil {
			logger.Warn("product lookup failed", "product_id", productID, "error", err)
		}
		e.sendText(ctx, logger, user, unavailableText)
		return
	}

	text := fmt.Sprintf("Great choice! 👟 You are buying %s for KES %s.\n\nHow would you like to pay?", product.Name, FormatPrice(product.Price))
	buttons := []ig.Button{
		{Title: "M-Pesa (IntaSend)", Payload: fmt.Sprintf("PAY_MPESA_%d", product.ID)},
		{Title: "Card (PesaPal)", Payload: fmt.Sprintf("PAY_CARD_%d", product.ID)},
	}
	if err := e.messenger.SendButtonTemplate(ctx, user.InstagramID, text, buttons); err != nil {
		logger.Error("send payment selector failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_send").Inc()
		return
	}
	e.logConversation(ctx, logger, user.ID, "Payment selector displayed", repo.SenderBot)
}

func (e *Engine) startCardPayment(ctx context.Context, logger *slog.Logger, user *repo.User, productID int64) {
	product, err := e.repo.GetProductByID(ctx, productID)
	if err != nil || !product.IsActive {
		if err != nil {
			logger.Warn("product lookup failed", "product_id", productID, "error", err)
		}
		e.sendText(ctx, logger, user, chooseAnotherText)
		return
	}

	order, err := e.repo.InsertOrder(ctx, repo.Order{
		UserID:          user.ID,
		ProductID:       product.ID,
		Amount:          product.Price,
		Status:          repo.OrderStatusPending,
		PaymentProvider: repo.ProviderPesapal,
	})
	if err != nil {
		logger.Error("create card order failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_order").Inc()
		e.sendText(ctx, logger, user, genericErrorText)
		return
	}

	firstName, lastName := billingName(user)
	billing := pesapal.BillingAddress{
		EmailAddress: billingEmail(user),
		CountryCode:  "KE",
		FirstName:    firstName,
		LastName:     lastName,
	}
	if user.PhoneNumber != nil {
		billing.PhoneNumber = *user.PhoneNumber
	}

	resp, err := e.card.SubmitOrder(ctx, pesapal.OrderRequest{
		MerchantReference: fmt.Sprintf("ORDER_%d", order.ID),
		Currency:          e.currency,
		Amount:            product.Price,
		Description:       product.Name,
		CallbackURL:       e.cardCallbackURL,
		Billing:           billing,
	})
	if err != nil {
		logger.Error("submit card order failed", "order_id", order.ID, "error", err)
		e.metrics.Errors.WithLabelValues("convo_card").Inc()
		if _, settleErr := e.repo.SettleOrder(ctx, order.ID, repo.OrderStatusFailed, ""); settleErr != nil {
			logger.Error("mark order failed", "order_id", order.ID, "error", settleErr)
		}
		e.sendText(ctx, logger, user, gatewayErrorText)
		return
	}

	text := fmt.Sprintf("Perfect! 💳\n\nComplete your payment of KES %s for %s.\n\nClick the button below to pay securely via Card (Visa/Mastercard).", FormatPrice(product.Price), product.Name)
	if err := e.messenger.SendURLButton(ctx, user.InstagramID, text, "Pay Now 💳", resp.RedirectURL); err != nil {
		logger.Error("send payment link failed", "order_id", order.ID, "error", err)
		e.metrics.Errors.WithLabelValues("convo_send").Inc()
		return
	}
	logger.Info("card payment link sent", "order_id", order.ID, "tracking_id", resp.OrderTrackingID)
	e.logConversation(ctx, logger, user.ID, fmt.Sprintf("Payment link sent for order %d", order.ID), repo.SenderBot)
}

func (e *Engine) startMpesaPayment(ctx context.Context, logger *slog.Logger, user *repo.User, productID int64) {
	product, err := e.repo.GetProductByID(ctx, productID)
	if err != nil || !product.IsActive {
		if err != nil {
			logger.Warn("product lookup failed", "product_id", productID, "error", err)
		}
		e.clearPendingProduct(ctx, logger, user)
		e.sendText(ctx, logger, user, chooseAnotherText)
		return
	}

	if user.PhoneNumber == nil || *user.PhoneNumber == "" {
		if err := e.repo.SetPendingProduct(ctx, user.ID, &product.ID); err != nil {
			logger.Error("set pending product failed", "error", err)
			e.metrics.Errors.WithLabelValues("convo_user").Inc()
			e.sendText(ctx, logger, user, genericErrorText)
			return
		}
		e.sendText(ctx, logger, user, askPhoneText)
		return
	}

	msisdn, ok := NormalizeKenyanPhone(*user.PhoneNumber)
	if !ok {
		logger.Warn("stored phone number invalid", "user_id", user.ID)
		if err := e.repo.SetUserPhoneNumber(ctx, user.ID, nil); err != nil {
			logger.Error("clear phone number failed", "error", err)
		}
		if err := e.repo.SetPendingProduct(ctx, user.ID, &product.ID); err != nil {
			logger.Error("set pending product failed", "error", err)
		}
		e.sendText(ctx, logger, user, invalidPhoneText)
		return
	}

	// The charge id carries a per-attempt suffix so a retried or repeat
	// purchase never collides with an earlier order's unique ref.
	reference := fmt.Sprintf("IG_%s_PRODUCT_%d_%s", user.InstagramID, product.ID, uuid.NewString())
	order, err := e.repo.InsertOrder(ctx, repo.Order{
		UserID:          user.ID,
		ProductID:       product.ID,
		Amount:          product.Price,
		Status:          repo.OrderStatusPending,
		PaymentProvider: repo.ProviderKopokopo,
		TransactionRef:  &reference,
	})
	if err != nil {
		logger.Error("create mpesa order failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_order").Inc()
		e.sendText(ctx, logger, user, genericErrorText)
		return
	}

	firstName, lastName := billingName(user)
	_, err = e.mpesa.InitiateSTKPush(ctx, kopokopo.STKPushRequest{
		FirstName:   firstName,
		LastName:    lastName,
		PhoneNumber: msisdn,
		Email:       billingEmail(user),
		Amount:      product.Price,
		Reference:   reference,
	})
	if err != nil {
		logger.Error("stk push failed", "order_id", order.ID, "error", err)
		e.metrics.Errors.WithLabelValues("convo_mpesa").Inc()
		if _, settleErr := e.repo.SettleOrder(ctx, order.ID, repo.OrderStatusFailed, reference); settleErr != nil {
			logger.Error("mark order failed", "order_id", order.ID, "error", settleErr)
		}
		e.sendText(ctx, logger, user, gatewayErrorText)
		return
	}

	e.clearPendingProduct(ctx, logger, user)
	logger.Info("stk push initiated", "order_id", order.ID, "reference", reference)
	e.sendText(ctx, logger, user, stkSentText)
}

// capturePhoneNumber stores an msisdn-shaped message as the buyer's
// number as typed. When a phone prompt interrupted a mobile-money
// charge, that charge resumes against the product the prompt was
// issued for.
func (e *Engine) capturePhoneNumber(ctx context.Context, logger *slog.Logger, user *repo.User, text string) {
	if !e.savePhoneNumber(ctx, logger, user, text) {
		return
	}
	if user.PendingProductID == nil {
		e.sendText(ctx, logger, user, phoneSavedText)
		return
	}
	e.startMpesaPayment(ctx, logger, user, *user.PendingProductID)
}

func (e *Engine) savePhoneNumber(ctx context.Context, logger *slog.Logger, user *repo.User, text string) bool {
	phone := strings.TrimSpace(text)
	if err := e.repo.SetUserPhoneNumber(ctx, user.ID, &phone); err != nil {
		logger.Error("save phone number failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_user").Inc()
		e.sendText(ctx, logger, user, genericErrorText)
		return false
	}
	user.PhoneNumber = &phone
	return true
}

func (e *Engine) clearPendingProduct(ctx context.Context, logger *slog.Logger, user *repo.User) {
	if user.PendingProductID == nil {
		return
	}
	if err := e.repo.SetPendingProduct(ctx, user.ID, nil); err != nil {
		logger.Warn("clear pending product failed", "error", err)
		return
	}
	user.PendingProductID = nil
}

// sendText delivers a plain reply and records it in the conversation
// log. Send failures are logged, never propagated.
func (e *Engine) sendText(ctx context.Context, logger *slog.Logger, user *repo.User, text string) {
	if err := e.messenger.SendText(ctx, user.InstagramID, text); err != nil {
		logger.Error("send text failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo_send").Inc()
		return
	}
	e.logConversation(ctx, logger, user.ID, text, repo.SenderBot)
}

func (e *Engine) logConversation(ctx context.Context, logger *slog.Logger, userID int64, message, sender string) {
	err := e.repo.InsertConversationLog(ctx, repo.ConversationLog{
		UserID:  userID,
		Message: message,
		Sender:  sender,
	})
	if err != nil {
		logger.Warn("conversation log write failed", "error", err)
	}
}

func billingEmail(user *repo.User) string {
	return "instagram_" + user.InstagramID + defaultBillingEmail
}

func billingName(user *repo.User) (string, string) {
	firstName, lastName := "Instagram", "Customer"
	if user.Name != nil {
		parts := strings.Fields(strings.TrimSpace(*user.Name))
		if len(parts) > 0 {
			firstName = parts[0]
		}
		if len(parts) > 1 {
			lastName = strings.Join(parts[1:], " ")
		}
	}
	return firstName, lastName
}

func parsePayloadID(payload, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
