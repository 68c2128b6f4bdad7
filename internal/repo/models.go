package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. pending is the only non-terminal state.
const (
	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusFailed  = "failed"
)

// Payment providers.
const (
	ProviderPesapal  = "pesapal"
	ProviderKopokopo = "kopokopo"
)

// Conversation log senders.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Product categories.
const (
	CategoryMen   = "men"
	CategoryWomen = "women"
)

// User represents an Instagram account interacting with the bot.
type User struct {
	ID               int64
	InstagramID      string
	Name             *string
	PhoneNumber      *string
	Location         *string
	PendingProductID *int64
	CreatedAt        time.Time
}

// Product is a sellable catalog item. The catalog is administered outside the
// bot; the engine only reads it.
type Product struct {
	ID          int64
	Name        string
	Description *string
	Category    string
	Type        string
	Price       decimal.Decimal
	ImageURL    string
	Sizes       []string
	IsActive    bool
}

// Order is one purchase attempt. Amount is captured at creation time and never
// re-read from the product.
type Order struct {
	ID              int64
	UserID          int64
	ProductID       int64
	Amount          decimal.Decimal
	Status          string
	PaymentProvider string
	TransactionRef  *string
	CreatedAt       time.Time
}

// ConversationLog is one append-only audit entry for a conversation turn.
type ConversationLog struct {
	ID        int64
	UserID    int64
	Message   string
	Sender    string
	Timestamp time.Time
}

// IsTerminal reports whether the order has reached a final status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusFailed
}
