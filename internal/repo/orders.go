package repo

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// InsertOrder stores a new order record. Amount is persisted as captured by
// the caller, not re-read from the product.
func (r *PostgresRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	const q = `
INSERT INTO orders (user_id, product_id, amount, status, payment_provider, transaction_ref)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
RETURNING id, created_at;
`
	ref := ""
	if order.TransactionRef != nil {
		ref = *order.TransactionRef
	}
	if err := r.pool.QueryRow(ctx, q,
		order.UserID,
		order.ProductID,
		order.Amount.StringFixed(2),
		order.Status,
		order.PaymentProvider,
		ref,
	).Scan(&order.ID, &order.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return &order, nil
}

// GetOrderByID retrieves an order by internal identifier.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*Order, error) {
	const q = `
SELECT id, user_id, product_id, amount::text, status, payment_provider, transaction_ref, created_at
FROM orders
WHERE id = $1
LIMIT 1;
`
	return scanOrder(r.pool.QueryRow(ctx, q, id))
}

// GetOrderByTransactionRef retrieves the order carrying the given
// provider reference.
func (r *PostgresRepository) GetOrderByTransactionRef(ctx context.Context, transactionRef string) (*Order, error) {
	const q = `
SELECT id, user_id, product_id, amount::text, status, payment_provider, transaction_ref, created_at
FROM orders
WHERE transaction_ref = $1
LIMIT 1;
`
	return scanOrder(r.pool.QueryRow(ctx, q, transactionRef))
}

// SettleOrder moves a pending order to a terminal status and records the
// provider transaction reference. The WHERE clause enforces one-directional,
// at-most-once settlement: a second settlement attempt reports false.
func (r *PostgresRepository) SettleOrder(ctx context.Context, orderID int64, status, transactionRef string) (bool, error) {
	const q = `
UPDATE orders
SET status = $2, transaction_ref = NULLIF($3, '')
WHERE id = $1 AND status = 'pending';
`
	ct, err := r.pool.Exec(ctx, q, orderID, status, transactionRef)
	if err != nil {
		return false, fmt.Errorf("settle order: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListOrdersByStatus returns orders in the given status, oldest first.
func (r *PostgresRepository) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	const q = `
SELECT id, user_id, product_id, amount::text, status, payment_provider, transaction_ref, created_at
FROM orders
WHERE status = $1
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var order Order
	var amountStr string
	if err := row.Scan(&order.ID, &order.UserID, &order.ProductID, &amountStr, &order.Status, &order.PaymentProvider, &order.TransactionRef, &order.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse order amount %q: %w", amountStr, err)
	}
	order.Amount = amount
	return &order, nil
}
