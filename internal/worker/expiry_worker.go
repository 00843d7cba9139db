package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ecommerce/internal/apperr"
	"ecommerce/internal/model"
)

type TransactionSweeper interface {
	ListExpired(ctx context.Context, status model.InvoiceTransactionStatus, now time.Time, limit int) ([]model.InvoiceTransaction, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Expirer interface {
	Expire(ctx context.Context, key string) error
}

type ArchivePurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExpiryWorker periodically times out lapsed upload grants (including uploads
// whose validation never finished), purges finished transactions past their
// expiry marker and trims the audit archive.
type ExpiryWorker struct {
	txs       TransactionSweeper
	invoices  Expirer
	archive   ArchivePurger
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
}

func NewExpiryWorker(txs TransactionSweeper, invoices Expirer, archive ArchivePurger, interval, retention time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		txs:       txs,
		invoices:  invoices,
		archive:   archive,
		interval:  interval,
		retention: retention,
		batchSize: 100,
		now:       time.Now,
	}
}

func (w *ExpiryWorker) Start(ctx context.Context) {
	slog.Info("starting expiry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry worker stopped")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass. Failures on single transactions are logged and left
// for the next pass.
func (w *ExpiryWorker) Sweep(ctx context.Context) error {
	now := w.now()

	var lapsed []model.InvoiceTransaction
	for _, status := range []model.InvoiceTransactionStatus{model.InvoiceGenerated, model.InvoiceReceived} {
		txs, err := w.txs.ListExpired(ctx, status, now, w.batchSize)
		if err != nil {
			return fmt.Errorf("list lapsed %s transactions: %w", status, err)
		}
		lapsed = append(lapsed, txs...)
	}
	var timedOut int
	for _, tx := range lapsed {
		err := w.invoices.Expire(ctx, tx.Key)
		switch {
		case err == nil:
			timedOut++
		case apperr.IsNoop(err), apperr.KindOf(err) == apperr.KindInvalidState:
			// raced with an upload or a cancel
		default:
			slog.Error("failed to expire transaction", "transaction_id", tx.Key, "status", tx.Status, "error", err)
		}
	}

	var errs []error
	purged, err := w.txs.PurgeExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge transactions: %w", err))
	}
	archived, err := w.archive.PurgeBefore(ctx, now.Add(-w.retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge audit archive: %w", err))
	}

	if timedOut > 0 || purged > 0 || archived > 0 {
		slog.Info("sweep done", "timed_out", timedOut, "purged", purged, "archive_purged", archived)
	}
	return errors.Join(errs...)
}
