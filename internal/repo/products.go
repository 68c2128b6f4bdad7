package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// GetProductByID retrieves a single product regardless of active flag; callers
// decide how to treat inactive items.
func (r *PostgresRepository) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	const q = `
SELECT id, name, description, category, type, price::text, image_url, sizes, is_active
FROM products
WHERE id = $1
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, id)
	return scanProduct(row)
}

// ListActiveProductsByCategory returns up to limit active products in
// insertion order.
func (r *PostgresRepository) ListActiveProductsByCategory(ctx context.Context, category string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, name, description, category, type, price::text, image_url, sizes, is_active
FROM products
WHERE category = $1 AND is_active = TRUE
ORDER BY id ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, category, limit)
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

// InsertProduct stores a catalog item. The catalog is managed by external
// tooling; this exists for seeding and tests.
func (r *PostgresRepository) InsertProduct(ctx context.Context, product Product) (*Product, error) {
	sizes, err := sizesToJSON(product.Sizes)
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO products (name, description, category, type, price, image_url, sizes, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id;
`
	if err := r.pool.QueryRow(ctx, q,
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var priceStr string
	var sizesJSON []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Type, &priceStr, &p.ImageURL, &sizesJSON, &p.IsActive); err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse product price %q: %w", priceStr, err)
	}
	p.Price = price
	p.Sizes, err = sizesFromJSON(sizesJSON)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func sizesToJSON(sizes []string) ([]byte, error) {
	// Sizes are optional but the column is NOT NULL; an absent list is
	// stored as an empty JSON array.
	if len(sizes) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(sizes)
	if err != nil {
		return nil, fmt.Errorf("marshal sizes: %w", err)
	}
	return data, nil
}

func sizesFromJSON(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var sizes []string
	if err := json.Unmarshal(data, &sizes); err != nil {
		return nil, fmt.Errorf("unmarshal sizes: %w", err)
	}
	return sizes, nil
}
