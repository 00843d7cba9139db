// Package store implements the durable stores on top of database/sql: orders,
// the order event log, invoice transactions, the product catalog read API and
// the audit archive.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
	"ecommerce/internal/model"
)

type OrderStore struct {
	db *database.DB
}

func NewOrderStore(db *database.DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `owner_key, order_id, created_at, shipping_type, carrier, payment, total_price, products`

func (s *OrderStore) Create(ctx context.Context, o model.Order) error {
	products, err := json.Marshal(o.Products)
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		o.Email, o.ID, o.CreatedAt, o.Shipping.Type, o.Shipping.Carrier,
		o.Billing.Payment, o.Billing.TotalPrice.String(), string(products),
	)
	if err != nil {
		return apperr.Dependency("orders.create", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, email, orderID string) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+orderColumns+`
		FROM orders
		WHERE owner_key = $1 AND order_id = $2`),
		email, orderID,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, apperr.NotFound("orders.get", "order not found")
	}
	if err != nil {
		return model.Order{}, apperr.Dependency("orders.get", err)
	}
	return o, nil
}

func (s *OrderStore) ListByOwner(ctx context.Context, email string) ([]model.Order, error) {
	return s.list(ctx, "orders.list_by_owner", `
		SELECT `+orderColumns+`
		FROM orders
		WHERE owner_key = $1
		ORDER BY created_at DESC`, email)
}

// ListAll scans the whole table.
func (s *OrderStore) ListAll(ctx context.Context) ([]model.Order, error) {
	return s.list(ctx, "orders.list_all", `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC`)
}

// Delete removes the order and returns the removed snapshot.
func (s *OrderStore) Delete(ctx context.Context, email, orderID string) (model.Order, error) {
	o, err := s.Get(ctx, email, orderID)
	if err != nil {
		return model.Order{}, err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM orders WHERE owner_key = $1 AND order_id = $2`),
		email, orderID,
	)
	if err != nil {
		return model.Order{}, apperr.Dependency("orders.delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// removed concurrently between the lookup and the delete
		return model.Order{}, apperr.NotFound("orders.delete", "order not found")
	}
	return o, nil
}

func (s *OrderStore) list(ctx context.Context, op, query string, args ...any) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Dependency(op, fmt.Errorf("scan order: %w", err))
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Dependency(op, fmt.Errorf("rows iteration failed: %w", err))
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (model.Order, error) {
	var (
		o        model.Order
		total    string
		products string
	)
	err := row.Scan(&o.Email, &o.ID, &o.CreatedAt, &o.Shipping.Type, &o.Shipping.Carrier,
		&o.Billing.Payment, &total, &products)
	if err != nil {
		return model.Order{}, err
	}
	if o.Billing.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return model.Order{}, fmt.Errorf("parse total price: %w", err)
	}
	if err := json.Unmarshal([]byte(products), &o.Products); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal products: %w", err)
	}
	return o, nil
}
