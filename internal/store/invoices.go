package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
	"ecommerce/internal/model"
)

// Expiry selects which records a transition may touch with respect to their
// expiry marker.
type Expiry int

const (
	// Live records only: the expiry marker lies in the future.
	Live Expiry = iota
	// Expired records only.
	Expired
	// AnyExpiry ignores the marker.
	AnyExpiry
)

// InvoiceTransactionStore keeps one record per issued upload grant. Records
// past their expiry marker are invisible to Get even before PurgeExpired
// removes them.
type InvoiceTransactionStore struct {
	db *database.DB
}

func NewInvoiceTransactionStore(db *database.DB) *InvoiceTransactionStore {
	return &InvoiceTransactionStore{db: db}
}

const invoiceColumns = `transaction_key, status, connection_id, endpoint, request_id, created_at, expires_in, expires_at`

func (s *InvoiceTransactionStore) Create(ctx context.Context, tx model.InvoiceTransaction) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO invoice_transactions (partition_key, `+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		model.InvoiceTransactionPartition, tx.Key, tx.Status, tx.ConnectionID, tx.Endpoint,
		tx.RequestID, tx.CreatedAt, tx.ExpiresIn, tx.ExpiresAt,
	)
	if err != nil {
		return apperr.Dependency("invoice_transactions.create", err)
	}
	return nil
}

// Get returns the live record for key. Absent and expired records both
// yield NotFound.
func (s *InvoiceTransactionStore) Get(ctx context.Context, key string, now time.Time) (model.InvoiceTransaction, error) {
	tx, err := s.Lookup(ctx, key)
	if err != nil {
		return model.InvoiceTransaction{}, err
	}
	if tx.ExpiresAt <= now.Unix() {
		return model.InvoiceTransaction{}, apperr.NotFound("invoice_transactions.get", "transaction not found")
	}
	return tx, nil
}

// Lookup returns the record for key regardless of its expiry marker.
func (s *InvoiceTransactionStore) Lookup(ctx context.Context, key string) (model.InvoiceTransaction, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT `+invoiceColumns+`
		FROM invoice_transactions
		WHERE partition_key = $1 AND transaction_key = $2`),
		model.InvoiceTransactionPartition, key,
	)
	tx, err := scanInvoiceTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InvoiceTransaction{}, apperr.NotFound("invoice_transactions.get", "transaction not found")
	}
	if err != nil {
		return model.InvoiceTransaction{}, apperr.Dependency("invoice_transactions.get", err)
	}
	return tx, nil
}

// Transition moves key from one status to another in a single conditional
// update. When nothing matches, the error tells why: NotFound for absent (or,
// under Live, expired) records, AlreadyFinal for records in a terminal state
// and InvalidState for records still in flight in another state.
func (s *InvoiceTransactionStore) Transition(ctx context.Context, key string, from, to model.InvoiceTransactionStatus, expiry Expiry, now time.Time) error {
	const op = "invoice_transactions.transition"

	query := `
		UPDATE invoice_transactions SET status = $1
		WHERE partition_key = $2 AND transaction_key = $3 AND status = $4`
	args := []any{to, model.InvoiceTransactionPartition, key, from}
	switch expiry {
	case Live:
		query += ` AND expires_at > $5`
		args = append(args, now.Unix())
	case Expired:
		query += ` AND expires_at <= $5`
		args = append(args, now.Unix())
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return apperr.Dependency(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Dependency(op, err)
	}
	if n == 1 {
		return nil
	}

	cur, err := s.Lookup(ctx, key)
	if err != nil {
		return err
	}
	live := cur.ExpiresAt > now.Unix()
	switch {
	case expiry == Live && !live:
		return apperr.NotFound(op, "transaction not found")
	case cur.Status != from:
		return StatusMismatch(op, cur.Status)
	default:
		return apperr.New(apperr.KindBadRequest, op, "transaction has not expired")
	}
}

// StatusMismatch reports a record found in status when another was expected.
func StatusMismatch(op string, status model.InvoiceTransactionStatus) error {
	kind := apperr.KindInvalidState
	if status.Terminal() {
		kind = apperr.KindAlreadyFinal
	}
	return apperr.New(kind, op, fmt.Sprintf("transaction is %s", status))
}

// ListExpired returns up to limit records in status whose expiry marker is
// at or before now.
func (s *InvoiceTransactionStore) ListExpired(ctx context.Context, status model.InvoiceTransactionStatus, now time.Time, limit int) ([]model.InvoiceTransaction, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT `+invoiceColumns+`
		FROM invoice_transactions
		WHERE partition_key = $1 AND status = $2 AND expires_at <= $3
		ORDER BY expires_at ASC
		LIMIT $4`),
		model.InvoiceTransactionPartition, status, now.Unix(), limit,
	)
	if err != nil {
		return nil, apperr.Dependency("invoice_transactions.list_expired", err)
	}
	defer rows.Close()

	var txs []model.InvoiceTransaction
	for rows.Next() {
		tx, err := scanInvoiceTransaction(rows)
		if err != nil {
			return nil, apperr.Dependency("invoice_transactions.list_expired", fmt.Errorf("scan transaction: %w", err))
		}
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, apperr.Dependency("invoice_transactions.list_expired", fmt.Errorf("rows iteration failed: %w", err))
	}
	return txs, nil
}

// PurgeExpired deletes lapsed records in a terminal state. GENERATED and
// RECEIVED records are kept until they have been moved to TIMEOUT so the
// timeout is always reported.
func (s *InvoiceTransactionStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM invoice_transactions
		WHERE partition_key = $1 AND expires_at <= $2 AND status NOT IN ($3, $4)`),
		model.InvoiceTransactionPartition, now.Unix(), model.InvoiceGenerated, model.InvoiceReceived,
	)
	if err != nil {
		return 0, apperr.Dependency("invoice_transactions.purge", err)
	}
	return res.RowsAffected()
}

func scanInvoiceTransaction(row scanner) (model.InvoiceTransaction, error) {
	var tx model.InvoiceTransaction
	err := row.Scan(&tx.Key, &tx.Status, &tx.ConnectionID, &tx.Endpoint, &tx.RequestID,
		&tx.CreatedAt, &tx.ExpiresIn, &tx.ExpiresAt)
	return tx, err
}
