package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
	"ecommerce/internal/events"
)

// EventLogEntry is an appended order lifecycle event. CreatedAt is the
// append time; the order's own creation time travels in Event.
type EventLogEntry struct {
	OwnerKey  string
	LogKey    string
	EventType events.EventType
	Event     events.OrderEvent
	CreatedAt int64
}

// EventLog is the append-only record of order lifecycle events. Entries are
// grouped under "#order_<email>" and keyed by "<orderId>#<snowflake id>".
type EventLog struct {
	db   *database.DB
	node *snowflake.Node
	now  func() time.Time
}

func NewEventLog(db *database.DB, node *snowflake.Node) *EventLog {
	return &EventLog{db: db, node: node, now: time.Now}
}

func OwnerKey(email string) string {
	return "#order_" + email
}

func (l *EventLog) Append(ctx context.Context, eventType events.EventType, e events.OrderEvent) (string, error) {
	codes, err := json.Marshal(e.ProductCodes)
	if err != nil {
		return "", fmt.Errorf("marshal product codes: %w", err)
	}

	logKey := fmt.Sprintf("%s#%s", e.OrderID, l.node.Generate().String())
	_, err = l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO order_events (owner_key, log_key, event_type, email, order_id, request_id,
			payment, total_price, shipping_type, carrier, product_codes, order_created_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`),
		OwnerKey(e.Email), logKey, eventType, e.Email, e.OrderID, e.RequestID,
		e.Billing.Payment, e.Billing.TotalPrice.String(), e.Shipping.Type, e.Shipping.Carrier,
		string(codes), e.CreatedAt, l.now().UnixMilli(),
	)
	if err != nil {
		return "", apperr.Dependency("order_events.append", err)
	}
	return logKey, nil
}

// AppendEnvelope decodes an order events topic message and appends it.
func (l *EventLog) AppendEnvelope(ctx context.Context, body []byte) (string, error) {
	typ, payload, err := events.Decode(body)
	if err != nil {
		return "", err
	}
	e, ok := payload.(events.OrderEvent)
	if !ok {
		return "", apperr.New(apperr.KindDecodeError, "order_events.append", fmt.Sprintf("unexpected event type %s", typ))
	}
	return l.Append(ctx, typ, e)
}

// ListByOrder returns the events of one order, oldest first.
func (l *EventLog) ListByOrder(ctx context.Context, email, orderID string) ([]EventLogEntry, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT owner_key, log_key, event_type, email, order_id, request_id,
			payment, total_price, shipping_type, carrier, product_codes, order_created_at, created_at
		FROM order_events
		WHERE owner_key = $1 AND order_id = $2
		ORDER BY log_key ASC`),
		OwnerKey(email), orderID,
	)
	if err != nil {
		return nil, apperr.Dependency("order_events.list", err)
	}
	defer rows.Close()

	entries := []EventLogEntry{}
	for rows.Next() {
		var (
			en    EventLogEntry
			total string
			codes string
		)
		err := rows.Scan(&en.OwnerKey, &en.LogKey, &en.EventType, &en.Event.Email, &en.Event.OrderID,
			&en.Event.RequestID, &en.Event.Billing.Payment, &total, &en.Event.Shipping.Type,
			&en.Event.Shipping.Carrier, &codes, &en.Event.CreatedAt, &en.CreatedAt)
		if err != nil {
			return nil, apperr.Dependency("order_events.list", fmt.Errorf("scan event: %w", err))
		}
		if en.Event.Billing.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, apperr.Dependency("order_events.list", fmt.Errorf("parse total price: %w", err))
		}
		if err := json.Unmarshal([]byte(codes), &en.Event.ProductCodes); err != nil {
			return nil, apperr.Dependency("order_events.list", fmt.Errorf("unmarshal product codes: %w", err))
		}
		entries = append(entries, en)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Dependency("order_events.list", fmt.Errorf("rows iteration failed: %w", err))
	}
	return entries, nil
}
