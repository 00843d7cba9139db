package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"ecommerce/internal/apperr"
	"ecommerce/internal/events"
	"ecommerce/internal/model"
	"ecommerce/internal/store"
)

// MinInvoiceNumberLength is the shortest invoice number accepted on import.
const MinInvoiceNumberLength = 5

type InvoiceTransactionRepository interface {
	Create(ctx context.Context, tx model.InvoiceTransaction) error
	Get(ctx context.Context, key string, now time.Time) (model.InvoiceTransaction, error)
	Lookup(ctx context.Context, key string) (model.InvoiceTransaction, error)
	Transition(ctx context.Context, key string, from, to model.InvoiceTransactionStatus, expiry store.Expiry, now time.Time) error
}

type UploadURLIssuer interface {
	IssueWriteURL(ctx context.Context, objectKey string, validity time.Duration) (string, error)
}

type ConnectionPusher interface {
	Send(ctx context.Context, connectionID string, data []byte) error
}

type InvoiceConfig struct {
	// GrantWindow is how long a GENERATED transaction waits for its upload.
	GrantWindow time.Duration
	// URLValidity is how long the issued upload URL stays valid.
	URLValidity time.Duration
	// Endpoint identifies the connection endpoint that issued the grant.
	Endpoint string
}

// InvoiceService drives invoice transactions through their states:
//
//	GENERATED -> RECEIVED -> CONFIRMED | NON_VALID_INVOICE_NUMBER
//	GENERATED -> CANCELLED | TIMEOUT
//	RECEIVED  -> TIMEOUT (validation never finished within the grant window)
//
// Transitions against absent, expired or already moved records change
// nothing and return NotFound, AlreadyFinal or InvalidState.
type InvoiceService struct {
	txs   InvoiceTransactionRepository
	urls  UploadURLIssuer
	conns ConnectionPusher
	audit AuditPublisher
	cfg   InvoiceConfig
	now   func() time.Time
	newID func() string
}

func NewInvoiceService(txs InvoiceTransactionRepository, urls UploadURLIssuer, conns ConnectionPusher, audit AuditPublisher, cfg InvoiceConfig) *InvoiceService {
	return &InvoiceService{
		txs:   txs,
		urls:  urls,
		conns: conns,
		audit: audit,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

type grantMessage struct {
	URL           string `json:"url"`
	Expires       int    `json:"expires"`
	TransactionID string `json:"transactionId"`
}

type statusMessage struct {
	TransactionID string                         `json:"transactionId"`
	Status        model.InvoiceTransactionStatus `json:"status"`
}

// IssueGrant opens a GENERATED transaction for the connection and pushes the
// upload URL to it. When the push fails the transaction is returned together
// with the ConnectionGone error; the record stays in place.
func (s *InvoiceService) IssueGrant(ctx context.Context, connectionID, requestID string) (model.InvoiceTransaction, error) {
	const op = "invoices.issue_grant"

	now := s.now()
	tx := model.InvoiceTransaction{
		Key:          s.newID(),
		Status:       model.InvoiceGenerated,
		ConnectionID: connectionID,
		Endpoint:     s.cfg.Endpoint,
		RequestID:    requestID,
		CreatedAt:    now.UnixMilli(),
		ExpiresIn:    int(s.cfg.URLValidity / time.Second),
		ExpiresAt:    now.Add(s.cfg.GrantWindow).Unix(),
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return model.InvoiceTransaction{}, passThrough(op, err)
	}

	url, err := s.urls.IssueWriteURL(ctx, tx.Key, s.cfg.URLValidity)
	if err != nil {
		return tx, dependency(op, err)
	}

	msg, err := json.Marshal(grantMessage{URL: url, Expires: tx.ExpiresIn, TransactionID: tx.Key})
	if err != nil {
		return tx, fmt.Errorf("marshal grant message: %w", err)
	}
	if err := s.conns.Send(ctx, connectionID, msg); err != nil {
		slog.Warn("upload grant not delivered",
			"connection_id", connectionID, "transaction_id", tx.Key, "request_id", requestID, "error", err)
		return tx, passThrough(op, err)
	}

	slog.Info("upload grant issued",
		"connection_id", connectionID, "transaction_id", tx.Key, "request_id", requestID)
	return tx, nil
}

// UploadReceived records that the object for key has been uploaded.
func (s *InvoiceService) UploadReceived(ctx context.Context, key string) error {
	return s.transition(ctx, key, model.InvoiceGenerated, model.InvoiceReceived, store.Live)
}

// ValidateNumber finishes a RECEIVED transaction: CONFIRMED when the
// invoice number is acceptable, NON_VALID_INVOICE_NUMBER otherwise.
func (s *InvoiceService) ValidateNumber(ctx context.Context, key string, inv model.Invoice) (model.InvoiceTransactionStatus, error) {
	if len(inv.InvoiceNumber) >= MinInvoiceNumberLength {
		if err := s.transition(ctx, key, model.InvoiceReceived, model.InvoiceConfirmed, store.AnyExpiry); err != nil {
			return "", err
		}
		return model.InvoiceConfirmed, nil
	}

	tx, err := s.current(ctx, "invoices.validate_number", key, model.InvoiceReceived)
	if err != nil {
		return "", err
	}
	if err := s.publishFailure(ctx, tx, events.ErrorDetailNoInvoiceNumber, map[string]any{"invoiceNumber": inv.InvoiceNumber}); err != nil {
		return "", dependency("invoices.validate_number", err)
	}
	if err := s.transition(ctx, key, model.InvoiceReceived, model.InvoiceNonValidInvoiceNumber, store.AnyExpiry); err != nil {
		return "", err
	}
	return model.InvoiceNonValidInvoiceNumber, nil
}

// ProcessUpload handles the upload-completion signal for key: the
// transaction is marked RECEIVED, the invoice number is checked and the
// issuing connection is told about each step. A repeated signal for a
// transaction left in RECEIVED by an earlier failed attempt resumes at the
// number check.
func (s *InvoiceService) ProcessUpload(ctx context.Context, key string, inv model.Invoice) (model.InvoiceTransactionStatus, error) {
	const op = "invoices.process_upload"

	resumed := false
	if err := s.UploadReceived(ctx, key); err != nil {
		if apperr.KindOf(err) != apperr.KindInvalidState {
			return "", err
		}
		resumed = true
	}
	tx, err := s.txs.Lookup(ctx, key)
	if err != nil {
		return "", passThrough(op, err)
	}
	if tx.Status != model.InvoiceReceived {
		return "", store.StatusMismatch(op, tx.Status)
	}
	if resumed {
		slog.Info("resuming invoice validation", "transaction_id", key)
	} else {
		s.notify(ctx, tx.ConnectionID, key, model.InvoiceReceived)
	}

	status, err := s.ValidateNumber(ctx, key, inv)
	if err != nil {
		return "", err
	}
	s.notify(ctx, tx.ConnectionID, key, status)
	return status, nil
}

// Cancel abandons a GENERATED transaction on the client's request.
func (s *InvoiceService) Cancel(ctx context.Context, key string) error {
	if err := s.transition(ctx, key, model.InvoiceGenerated, model.InvoiceCancelled, store.Live); err != nil {
		return err
	}
	if tx, err := s.txs.Lookup(ctx, key); err == nil {
		s.notify(ctx, tx.ConnectionID, key, model.InvoiceCancelled)
	}
	return nil
}

// Expire moves a lapsed GENERATED or RECEIVED transaction to TIMEOUT. The
// audit event is published before the transition, so a failed publish
// leaves the record for the next attempt.
func (s *InvoiceService) Expire(ctx context.Context, key string) error {
	const op = "invoices.expire"

	tx, err := s.current(ctx, op, key, model.InvoiceGenerated, model.InvoiceReceived)
	if err != nil {
		return err
	}
	if tx.ExpiresAt > s.now().Unix() {
		return apperr.New(apperr.KindBadRequest, op, "transaction has not expired")
	}
	if err := s.publishFailure(ctx, tx, events.ErrorDetailTimeout, nil); err != nil {
		return dependency(op, err)
	}
	if err := s.transition(ctx, key, tx.Status, model.InvoiceTimeout, store.Expired); err != nil {
		return err
	}
	s.notify(ctx, tx.ConnectionID, key, model.InvoiceTimeout)
	return nil
}

// Status reports the state of key. Absent and expired transactions read as
// TIMEOUT.
func (s *InvoiceService) Status(ctx context.Context, key string) (model.InvoiceTransactionStatus, error) {
	tx, err := s.txs.Get(ctx, key, s.now())
	if apperr.KindOf(err) == apperr.KindNotFound {
		return model.InvoiceTimeout, nil
	}
	if err != nil {
		return "", passThrough("invoices.status", err)
	}
	return tx.Status, nil
}

func (s *InvoiceService) transition(ctx context.Context, key string, from, to model.InvoiceTransactionStatus, expiry store.Expiry) error {
	err := s.txs.Transition(ctx, key, from, to, expiry, s.now())
	if err != nil {
		if apperr.IsNoop(err) {
			slog.Info("invoice transition skipped",
				"transaction_id", key, "from", from, "to", to, "reason", apperr.KindOf(err))
		}
		return passThrough("invoices.transition", err)
	}
	slog.Info("invoice transition", "transaction_id", key, "from", from, "to", to)
	return nil
}

// current loads key and checks that it is in one of the wanted states,
// using the same no-op errors as a failed transition.
func (s *InvoiceService) current(ctx context.Context, op, key string, want ...model.InvoiceTransactionStatus) (model.InvoiceTransaction, error) {
	tx, err := s.txs.Lookup(ctx, key)
	if err != nil {
		return model.InvoiceTransaction{}, passThrough(op, err)
	}
	if !slices.Contains(want, tx.Status) {
		return model.InvoiceTransaction{}, store.StatusMismatch(op, tx.Status)
	}
	return tx, nil
}

type invoiceFailureDetail struct {
	TransactionID string         `json:"transactionId"`
	ConnectionID  string         `json:"connectionId"`
	RequestID     string         `json:"requestId"`
	Status        string         `json:"status"`
	ErrorDetail   string         `json:"errorDetail"`
	CreatedAt     int64          `json:"createdAt"`
	Info          map[string]any `json:"info,omitempty"`
}

func (s *InvoiceService) publishFailure(ctx context.Context, tx model.InvoiceTransaction, errorDetail string, info map[string]any) error {
	detail, err := json.Marshal(invoiceFailureDetail{
		TransactionID: tx.Key,
		ConnectionID:  tx.ConnectionID,
		RequestID:     tx.RequestID,
		Status:        string(tx.Status),
		ErrorDetail:   errorDetail,
		CreatedAt:     tx.CreatedAt,
		Info:          info,
	})
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	return s.audit.Publish(ctx, events.AuditEvent{
		Source:     events.SourceInvoice,
		DetailType: events.DetailTypeInvoice,
		Time:       s.now().UnixMilli(),
		Attributes: map[string]string{events.AttrErrorDetail: errorDetail},
		Detail:     detail,
	})
}

// notify pushes a status update to the issuing connection. Delivery is best
// effort; the client may have gone away.
func (s *InvoiceService) notify(ctx context.Context, connectionID, key string, status model.InvoiceTransactionStatus) {
	msg, err := json.Marshal(statusMessage{TransactionID: key, Status: status})
	if err != nil {
		return
	}
	if err := s.conns.Send(ctx, connectionID, msg); err != nil {
		slog.Info("invoice status not delivered",
			"connection_id", connectionID, "transaction_id", key, "status", status, "error", err)
	}
}
