package repo

import (
	"context"
	"io/fs"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	FindOrCreateUserByInstagramID(ctx context.Context, instagramID string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	SetUserPhoneNumber(ctx context.Context, userID int64, phoneNumber *string) error
	SetPendingProduct(ctx context.Context, userID int64, productID *int64) error

	// Products
	GetProductByID(ctx context.Context, id int64) (*Product, error)
	ListActiveProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error)
	InsertProduct(ctx context.Context, product Product) (*Product, error)

	// Orders
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	GetOrderByID(ctx context.Context, id int64) (*Order, error)
	GetOrderByTransactionRef(ctx context.Context, transactionRef string) (*Order, error)
	SettleOrder(ctx context.Context, orderID int64, status, transactionRef string) (bool, error)
	ListOrdersByStatus(ctx context.Context, status string) ([]Order, error)

	// Conversation logs
	InsertConversationLog(ctx context.Context, entry ConversationLog) error
	ListRecentConversationLogs(ctx context.Context, userID int64, limit int) ([]ConversationLog, error)
}
