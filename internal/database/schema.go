package database

import (
	"context"
	"fmt"
)

// The schema sticks to types both Postgres and SQLite accept. Timestamps are
// stored as unix integers.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    product_name TEXT NOT NULL DEFAULT '',
    price NUMERIC(12,2) NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    owner_key TEXT NOT NULL,
    order_id TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    shipping_type TEXT NOT NULL,
    carrier TEXT NOT NULL,
    payment TEXT NOT NULL,
    total_price NUMERIC(12,2) NOT NULL,
    products TEXT NOT NULL,
    PRIMARY KEY (owner_key, order_id)
);

CREATE TABLE IF NOT EXISTS order_events (
    owner_key TEXT NOT NULL,
    log_key TEXT NOT NULL,
    event_type TEXT NOT NULL,
    email TEXT NOT NULL,
    order_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    payment TEXT NOT NULL,
    total_price NUMERIC(12,2) NOT NULL,
    shipping_type TEXT NOT NULL,
    carrier TEXT NOT NULL,
    product_codes TEXT NOT NULL,
    order_created_at BIGINT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (owner_key, log_key)
);

CREATE TABLE IF NOT EXISTS invoice_transactions (
    partition_key TEXT NOT NULL,
    transaction_key TEXT NOT NULL,
    status TEXT NOT NULL,
    connection_id TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    request_id TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    expires_in INTEGER NOT NULL,
    expires_at BIGINT NOT NULL,
    PRIMARY KEY (partition_key, transaction_key)
);

CREATE TABLE IF NOT EXISTS audit_archive (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    detail_type TEXT NOT NULL,
    envelope TEXT NOT NULL,
    occurred_at BIGINT NOT NULL,
    archived_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_dead_letters (
    id BIGINT PRIMARY KEY,
    queue TEXT NOT NULL,
    envelope TEXT NOT NULL,
    enqueued_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_dead_letters_queue ON audit_dead_letters(queue, id);
CREATE INDEX IF NOT EXISTS idx_invoice_transactions_expires_at ON invoice_transactions(expires_at);
CREATE INDEX IF NOT EXISTS idx_audit_archive_archived_at ON audit_archive(archived_at);
`

func InitSchema(ctx context.Context, db *DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
