package repo

import (
	"context"
	"fmt"
)

// FindOrCreateUserByInstagramID returns the user for the given Instagram ID,
// creating the record on first contact. The upsert makes concurrent first
// messages from the same account converge on a single row.
func (r *PostgresRepository) FindOrCreateUserByInstagramID(ctx context.Context, instagramID string) (*User, error) {
	const q = `
INSERT INTO users (instagram_id)
VALUES ($1)
ON CONFLICT (instagram_id) DO UPDATE SET instagram_id = EXCLUDED.instagram_id
RETURNING id, instagram_id, name, phone_number, location, pending_product_id, created_at;
`
	row := r.pool.QueryRow(ctx, q, instagramID)
	var u User
	if err := row.Scan(&u.ID, &u.InstagramID, &u.Name, &u.PhoneNumber, &u.Location, &u.PendingProductID, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("find or create user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns a user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	const q = `
SELECT id, instagram_id, name, phone_number, location, pending_product_id, created_at
FROM users
WHERE id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, id)
	var u User
	if err := row.Scan(&u.ID, &u.InstagramID, &u.Name, &u.PhoneNumber, &u.Location, &u.PendingProductID, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// SetUserPhoneNumber stores (or clears, when nil) the user's phone number.
func (r *PostgresRepository) SetUserPhoneNumber(ctx context.Context, userID int64, phoneNumber *string) error {
	const q = `UPDATE users SET phone_number = $2 WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, phoneNumber)
	if err != nil {
		return fmt.Errorf("set phone number: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}

// SetPendingProduct stores (or clears, when nil) the user's in-flight product
// selection awaiting a phone number.
func (r *PostgresRepository) SetPendingProduct(ctx context.Context, userID int64, productID *int64) error {
	const q = `UPDATE users SET pending_product_id = $2 WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, userID, productID)
	if err != nil {
		return fmt.Errorf("set pending product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %d", userID)
	}
	return nil
}
