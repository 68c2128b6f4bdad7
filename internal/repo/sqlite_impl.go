package repo

import (
	"context"
	"fmt"
)

// -- Users --

func (r *SQLiteRepository) FindOrCreateUserByInstagramID(ctx context.Context, instagramID string) (*User, error) {
	// SQLite supports ON CONFLICT ... RETURNING from 3.35+.
	const q = `
INSERT INTO users (instagram_id)
VALUES (?)
ON CONFLICT (instagram_id) DO UPDATE SET instagram_id = excluded.instagram_id
RETURNING id, instagram_id, name, phone_number, location, pending_product_id, created_at;
`
	row := r.db.QueryRowContext(ctx, q, instagramID)
	var u User
	if err := row.Scan(&u.ID, &u.InstagramID, &u.Name, &u.PhoneNumber, &u.Location, &u.PendingProductID, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("find or create user: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	const q = `
SELECT id, instagram_id, name, phone_number, location, pending_product_id, created_at
FROM users
WHERE id = ?
LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, id)
	var u User
	if err := row.Scan(&u.ID, &u.InstagramID, &u.Name, &u.PhoneNumber, &u.Location, &u.PendingProductID, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) SetUserPhoneNumber(ctx context.Context, userID int64, phoneNumber *string) error {
	const q = `UPDATE users SET phone_number = ? WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, phoneNumber, userID)
	if err != nil {
		return fmt.Errorf("set phone number: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}

func (r *SQLiteRepository) SetPendingProduct(ctx context.Context, userID int64, productID *int64) error {
	const q = `UPDATE users SET pending_product_id = ? WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, productID, userID)
	if err != nil {
		return fmt.Errorf("set pending product: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}

// -- Products --

func (r *SQLiteRepository) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	const q = `
SELECT id, name, description, category, type, CAST(price AS TEXT), image_url, sizes, is_active
FROM products
WHERE id = ?
LIMIT 1;
`
	return scanProduct(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLiteRepository) ListActiveProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, name, description, category, type, CAST(price AS TEXT), image_url, sizes, is_active
FROM products
WHERE category = ? AND is_active = 1
ORDER BY id ASC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, category, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *SQLiteRepository) InsertProduct(ctx context.Context, product Product) (*Product, error) {
	sizes, err := sizesToJSON(product.Sizes)
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO products (name, description, category, type, price, image_url, sizes, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id;
`
	if err := r.db.QueryRowContext(ctx, q,
		product.Name,
		product.Description,
		product.Category,
		product.Type,
		product.Price.StringFixed(2),
		product.ImageURL,
		sizes,
		product.IsActive,
	).Scan(&product.ID); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return &product, nil
}

// -- Orders --

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	const q = `
INSERT INTO orders (user_id, product_id, amount, status, payment_provider, transaction_ref)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''))
RETURNING id, created_at;
`
	ref := ""
	if order.TransactionRef != nil {
		ref = *order.TransactionRef
	}
	if err := r.db.QueryRowContext(ctx, q,
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

func (r *SQLiteRepository) GetOrderByID(ctx context.Context, id int64) (*Order, error) {
	const q = `
SELECT id, user_id, product_id, CAST(amount AS TEXT), status, payment_provider, transaction_ref, created_at
FROM orders
WHERE id = ?
LIMIT 1;
`
	return scanOrder(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLiteRepository) GetOrderByTransactionRef(ctx context.Context, transactionRef string) (*Order, error) {
	const q = `
SELECT id, user_id, product_id, CAST(amount AS TEXT), status, payment_provider, transaction_ref, created_at
FROM orders
WHERE transaction_ref = ?
LIMIT 1;
`
	return scanOrder(r.db.QueryRowContext(ctx, q, transactionRef))
}

func (r *SQLiteRepository) SettleOrder(ctx context.Context, orderID int64, status, transactionRef string) (bool, error) {
	const q = `
UPDATE orders
SET status = ?, transaction_ref = NULLIF(?, '')
WHERE id = ? AND status = 'pending';
`
	ct, err := r.db.ExecContext(ctx, q, status, transactionRef, orderID)
	if err != nil {
		return false, fmt.Errorf("settle order: %w", err)
	}
	n, err := ct.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle order rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	const q = `
SELECT id, user_id, product_id, CAST(amount AS TEXT), status, payment_provider, transaction_ref, created_at
FROM orders
WHERE status = ?
ORDER BY created_at ASC;
`
	rows, err := r.db.QueryContext(ctx, q, status)
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

// -- Conversation logs --

func (r *SQLiteRepository) InsertConversationLog(ctx context.Context, entry ConversationLog) error {
	const q = `
INSERT INTO conversation_logs (user_id, message, sender)
VALUES (?, ?, ?);
`
	if _, err := r.db.ExecContext(ctx, q, entry.UserID, entry.Message, entry.Sender); err != nil {
		return fmt.Errorf("insert conversation log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListRecentConversationLogs(ctx context.Context, userID int64, limit int) ([]ConversationLog, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, user_id, message, sender, timestamp
FROM conversation_logs
WHERE user_id = ?
ORDER BY timestamp DESC, id DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation logs: %w", err)
	}
	defer rows.Close()

	var entries []ConversationLog
	for rows.Next() {
		var entry ConversationLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Message, &entry.Sender, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("scan conversation log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation logs: %w", err)
	}
	return entries, nil
}
