package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
	"ecommerce/internal/model"
)

// ProductStore is the read side of the product catalog. The catalog itself
// is maintained by another service.
type ProductStore struct {
	db *database.DB
}

func NewProductStore(db *database.DB) *ProductStore {
	return &ProductStore{db: db}
}

// GetByCodes returns at most one product per known code. Unknown codes are
// absent from the result.
func (s *ProductStore) GetByCodes(ctx context.Context, codes []string) ([]model.Product, error) {
	unique := dedupe(codes)
	if len(unique) == 0 {
		return nil, nil
	}

	args := make([]any, len(unique))
	for i, c := range unique {
		args[i] = c
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, code, product_name, price
		FROM products
		WHERE code IN (`+database.Placeholders(1, len(unique))+`)`),
		args...,
	)
	if err != nil {
		return nil, apperr.Dependency("products.get_by_codes", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var (
			p     model.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &price); err != nil {
			return nil, apperr.Dependency("products.get_by_codes", fmt.Errorf("scan product: %w", err))
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, apperr.Dependency("products.get_by_codes", fmt.Errorf("parse price: %w", err))
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Dependency("products.get_by_codes", fmt.Errorf("rows iteration failed: %w", err))
	}
	return products, nil
}

// Put inserts or replaces a catalog entry. Used to seed local databases.
func (s *ProductStore) Put(ctx context.Context, p model.Product) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO products (id, code, product_name, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET product_name = excluded.product_name, price = excluded.price`),
		p.ID, p.Code, p.Name, p.Price.String(),
	)
	if err != nil {
		return apperr.Dependency("products.put", err)
	}
	return nil
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
