package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecommerce/internal/apperr"
	"ecommerce/internal/model"
)

type fakeTxs struct {
	lapsed   map[model.InvoiceTransactionStatus][]model.InvoiceTransaction
	listErr  error
	purgedAt []time.Time
	purgeErr error
	listed   []model.InvoiceTransactionStatus
}

func (f *fakeTxs) ListExpired(_ context.Context, status model.InvoiceTransactionStatus, _ time.Time, limit int) ([]model.InvoiceTransaction, error) {
	f.listed = append(f.listed, status)
	txs := f.lapsed[status]
	if len(txs) > limit {
		return txs[:limit], f.listErr
	}
	return txs, f.listErr
}

func (f *fakeTxs) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	f.purgedAt = append(f.purgedAt, now)
	return 1, f.purgeErr
}

type fakeExpirer struct {
	expired []string
	errs    map[string]error
}

func (f *fakeExpirer) Expire(_ context.Context, key string) error {
	f.expired = append(f.expired, key)
	return f.errs[key]
}

type fakeArchive struct{ cutoffs []time.Time }

func (f *fakeArchive) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

func TestSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	txs := &fakeTxs{lapsed: map[model.InvoiceTransactionStatus][]model.InvoiceTransaction{
		model.InvoiceGenerated: {{Key: "a"}, {Key: "b"}, {Key: "c"}},
		model.InvoiceReceived:  {{Key: "d"}, {Key: "e"}},
	}}
	expirer := &fakeExpirer{errs: map[string]error{
		"b": apperr.New(apperr.KindAlreadyFinal, "invoices.expire", "transaction is CANCELLED"),
		"c": apperr.Dependency("invoices.expire", errors.New("bus down")),
		"e": apperr.New(apperr.KindInvalidState, "invoices.expire", "transaction is RECEIVED"),
	}}
	archive := &fakeArchive{}

	w := NewExpiryWorker(txs, expirer, archive, time.Minute, 240*time.Hour)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Sweep(context.Background()))
	assert.Equal(t, []model.InvoiceTransactionStatus{model.InvoiceGenerated, model.InvoiceReceived}, txs.listed)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, expirer.expired)
	assert.Equal(t, []time.Time{now}, txs.purgedAt)
	assert.Equal(t, []time.Time{now.Add(-240 * time.Hour)}, archive.cutoffs)
}

func TestSweepErrors(t *testing.T) {
	t.Run("list fails", func(t *testing.T) {
		txs := &fakeTxs{listErr: errors.New("db down")}
		archive := &fakeArchive{}
		w := NewExpiryWorker(txs, &fakeExpirer{}, archive, time.Minute, time.Hour)

		assert.Error(t, w.Sweep(context.Background()))
		assert.Empty(t, txs.purgedAt)
	})

	t.Run("purge fails", func(t *testing.T) {
		txs := &fakeTxs{purgeErr: errors.New("db down")}
		archive := &fakeArchive{}
		w := NewExpiryWorker(txs, &fakeExpirer{}, archive, time.Minute, time.Hour)

		err := w.Sweep(context.Background())
		assert.ErrorContains(t, err, "purge transactions")
		assert.Len(t, archive.cutoffs, 1)
	})
}

func TestStartStopsOnCancel(t *testing.T) {
	txs := &fakeTxs{}
	w := NewExpiryWorker(txs, &fakeExpirer{}, &fakeArchive{}, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
