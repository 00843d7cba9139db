package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
	"ecommerce/internal/events"
	"ecommerce/internal/model"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB("sqlite://" + filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(context.Background(), db) })
	require.NoError(t, database.InitSchema(context.Background(), db))
	return db
}

func makeOrder(email, id string, createdAt int64) model.Order {
	return model.Order{
		Email:     email,
		ID:        id,
		CreatedAt: createdAt,
		Shipping:  model.Shipping{Type: model.ShippingEconomic, Carrier: model.CarrierB},
		Billing:   model.Billing{Payment: model.PaymentCash, TotalPrice: decimal.RequireFromString("25.5")},
		Products: []model.OrderProduct{
			{Code: "P1", Price: decimal.NewFromInt(10)},
			{Code: "P2", Price: decimal.RequireFromString("15.5")},
		},
	}
}

func TestOrderStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore(newTestDB(t))

	require.NoError(t, s.Create(ctx, makeOrder("a@x.com", "o1", 1000)))
	require.NoError(t, s.Create(ctx, makeOrder("a@x.com", "o2", 2000)))
	require.NoError(t, s.Create(ctx, makeOrder("b@x.com", "o3", 3000)))

	got, err := s.Get(ctx, "a@x.com", "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, int64(1000), got.CreatedAt)
	assert.Equal(t, model.CarrierB, got.Shipping.Carrier)
	assert.True(t, decimal.RequireFromString("25.5").Equal(got.Billing.TotalPrice))
	assert.Equal(t, []string{"P1", "P2"}, got.ProductCodes())

	byOwner, err := s.ListByOwner(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, byOwner, 2)
	assert.Equal(t, "o2", byOwner[0].ID, "newest first")

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	deleted, err := s.Delete(ctx, "a@x.com", "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", deleted.ID)

	_, err = s.Get(ctx, "a@x.com", "o1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.Delete(ctx, "a@x.com", "o1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOrderStoreListByOwnerEmpty(t *testing.T) {
	orders, err := NewOrderStore(newTestDB(t)).ListByOwner(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestEventLogAppendDistinctKeys(t *testing.T) {
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := NewEventLog(newTestDB(t), node)

	e := events.OrderEvent{
		Email:        "a@x.com",
		OrderID:      "o1",
		Billing:      model.Billing{Payment: model.PaymentDebit, TotalPrice: decimal.NewFromInt(25)},
		Shipping:     model.Shipping{Type: model.ShippingUrgent, Carrier: model.CarrierA},
		ProductCodes: []string{"P1", "P2"},
		RequestID:    "req-1",
		CreatedAt:    1_700_000_000_123,
	}
	k1, err := log.Append(ctx, events.OrderCreated, e)
	require.NoError(t, err)
	k2, err := log.Append(ctx, events.OrderDeleted, e)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	entries, err := log.ListByOrder(ctx, "a@x.com", "o1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, events.OrderCreated, entries[0].EventType)
	assert.Equal(t, events.OrderDeleted, entries[1].EventType)
	assert.Equal(t, "#order_a@x.com", entries[0].OwnerKey)
	assert.Equal(t, []string{"P1", "P2"}, entries[0].Event.ProductCodes)
	assert.True(t, decimal.NewFromInt(25).Equal(entries[0].Event.Billing.TotalPrice))
	assert.Equal(t, int64(1_700_000_000_123), entries[0].Event.CreatedAt)
}

func TestProductStoreGetByCodes(t *testing.T) {
	ctx := context.Background()
	s := NewProductStore(newTestDB(t))
	require.NoError(t, s.Put(ctx, model.Product{ID: "1", Code: "P1", Name: "One", Price: decimal.NewFromInt(10)}))
	require.NoError(t, s.Put(ctx, model.Product{ID: "2", Code: "P2", Name: "Two", Price: decimal.NewFromInt(15)}))
	require.NoError(t, s.Put(ctx, model.Product{ID: "2", Code: "P2", Name: "Two", Price: decimal.NewFromInt(16)}))

	products, err := s.GetByCodes(ctx, []string{"P1", "P2", "P2", "P9"})
	require.NoError(t, err)
	require.Len(t, products, 2)

	prices := map[string]decimal.Decimal{}
	for _, p := range products {
		prices[p.Code] = p.Price
	}
	assert.True(t, decimal.NewFromInt(10).Equal(prices["P1"]))
	assert.True(t, decimal.NewFromInt(16).Equal(prices["P2"]))

	none, err := s.GetByCodes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func newTransaction(key string, now time.Time, window time.Duration) model.InvoiceTransaction {
	return model.InvoiceTransaction{
		Key:          key,
		Status:       model.InvoiceGenerated,
		ConnectionID: "conn-1",
		Endpoint:     "ws.local/invoices",
		RequestID:    "req-1",
		CreatedAt:    now.UnixMilli(),
		ExpiresIn:    300,
		ExpiresAt:    now.Add(window).Unix(),
	}
}

func TestInvoiceTransactionStoreTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewInvoiceTransactionStore(newTestDB(t))
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.Create(ctx, newTransaction("k1", now, 2*time.Minute)))

	got, err := s.Get(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceGenerated, got.Status)
	assert.Equal(t, now.Unix()+120, got.ExpiresAt)

	require.NoError(t, s.Transition(ctx, "k1", model.InvoiceGenerated, model.InvoiceReceived, Live, now))

	err = s.Transition(ctx, "k1", model.InvoiceGenerated, model.InvoiceCancelled, Live, now)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err), "RECEIVED is still in flight")
	assert.Equal(t, "transaction is RECEIVED", apperr.Message(err))

	require.NoError(t, s.Transition(ctx, "k1", model.InvoiceReceived, model.InvoiceConfirmed, AnyExpiry, now))
	err = s.Transition(ctx, "k1", model.InvoiceReceived, model.InvoiceConfirmed, AnyExpiry, now)
	assert.Equal(t, apperr.KindAlreadyFinal, apperr.KindOf(err))

	err = s.Transition(ctx, "missing", model.InvoiceGenerated, model.InvoiceReceived, Live, now)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	got, err = s.Get(ctx, "k1", now)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceConfirmed, got.Status)
}

func TestInvoiceTransactionStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewInvoiceTransactionStore(newTestDB(t))
	now := time.Unix(1_700_000_000, 0)
	later := now.Add(3 * time.Minute)

	require.NoError(t, s.Create(ctx, newTransaction("k1", now, 2*time.Minute)))
	require.NoError(t, s.Create(ctx, newTransaction("k2", now, 10*time.Minute)))
	require.NoError(t, s.Create(ctx, newTransaction("k3", now, 2*time.Minute)))
	require.NoError(t, s.Transition(ctx, "k3", model.InvoiceGenerated, model.InvoiceReceived, Live, now))

	_, err := s.Get(ctx, "k1", later)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "expired records read as absent")

	err = s.Transition(ctx, "k1", model.InvoiceGenerated, model.InvoiceReceived, Live, later)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	err = s.Transition(ctx, "k2", model.InvoiceGenerated, model.InvoiceTimeout, Expired, later)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	expired, err := s.ListExpired(ctx, model.InvoiceGenerated, later, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "k1", expired[0].Key)

	n, err := s.PurgeExpired(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, n, "GENERATED and RECEIVED records wait for their timeout transition")

	received, err := s.ListExpired(ctx, model.InvoiceReceived, later, 10)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "k3", received[0].Key)

	require.NoError(t, s.Transition(ctx, "k1", model.InvoiceGenerated, model.InvoiceTimeout, Expired, later))
	n, err = s.PurgeExpired(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Lookup(ctx, "k1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = s.Lookup(ctx, "k3")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "k2", later)
	assert.NoError(t, err)
}

func TestAuditArchive(t *testing.T) {
	ctx := context.Background()
	a := NewAuditArchive(newTestDB(t))
	base := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return base }

	e := events.AuditEvent{Source: events.SourceOrder, DetailType: events.DetailTypeOrder, Time: base.UnixMilli()}
	require.NoError(t, a.Archive(ctx, e, []byte(`{"eventType":"AUDIT","data":{}}`)))

	envs, err := a.ListBySource(ctx, events.SourceOrder)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.JSONEq(t, `{"eventType":"AUDIT","data":{}}`, string(envs[0]))

	n, err := a.PurgeBefore(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = a.PurgeBefore(ctx, base.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeadLetterStore(t *testing.T) {
	ctx := context.Background()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	db := newTestDB(t)
	s := NewDeadLetterStore(db, node)

	for _, env := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		_, err := s.Push(ctx, "timeouts", []byte(env))
		require.NoError(t, err)
	}
	depth, err := s.Push(ctx, "other", []byte(`{"n":9}`))
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	depth, err = s.Depth(ctx, "timeouts")
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	got, err := s.Drain(ctx, "timeouts", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"n":1}`, string(got[0]))
	assert.JSONEq(t, `{"n":2}`, string(got[1]))

	// a second store over the same database sees what is left
	reopened := NewDeadLetterStore(db, node)
	depth, err = reopened.Depth(ctx, "timeouts")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	got, err = reopened.Drain(ctx, "timeouts", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"n":3}`, string(got[0]))

	got, err = reopened.Drain(ctx, "timeouts", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	depth, err = s.Depth(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestEventLogAppendEnvelope(t *testing.T) {
	ctx := context.Background()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	log := NewEventLog(newTestDB(t), node)

	body, err := events.Encode(events.OrderCreated, events.OrderEvent{
		Email:        "a@x.com",
		OrderID:      "o7",
		Billing:      model.Billing{Payment: model.PaymentCredit, TotalPrice: decimal.NewFromInt(10)},
		ProductCodes: []string{"P1"},
	})
	require.NoError(t, err)

	key, err := log.AppendEnvelope(ctx, body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "o7#"))

	entries, err := log.ListByOrder(ctx, "a@x.com", "o7")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.OrderCreated, entries[0].EventType)

	audit, err := events.Encode(events.Audit, events.AuditEvent{Source: events.SourceOrder})
	require.NoError(t, err)
	_, err = log.AppendEnvelope(ctx, audit)
	assert.Equal(t, apperr.KindDecodeError, apperr.KindOf(err))

	_, err = log.AppendEnvelope(ctx, []byte("{"))
	assert.Equal(t, apperr.KindDecodeError, apperr.KindOf(err))
}

func TestSeedProducts(t *testing.T) {
	ctx := context.Background()
	products := NewProductStore(newTestDB(t))

	path := filepath.Join(t.TempDir(), "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
products:
  - id: id-1
    code: P1
    productName: Product 1
    price: "10.00"
  - code: P2
    productName: Product 2
    price: "15.5"
`), 0o600))

	n, err := SeedProducts(ctx, products, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := products.GetByCodes(ctx, []string{"P1", "P2"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = ParseProducts([]byte("products:\n  - code: P3\n    price: ten\n"))
	assert.ErrorContains(t, err, "invalid price")
	_, err = ParseProducts([]byte("products:\n  - price: \"1\"\n"))
	assert.ErrorContains(t, err, "code is required")
	_, err = ParseProducts([]byte("products:\n  - code: P4\n    price: \"-0.01\"\n"))
	assert.ErrorContains(t, err, "negative price")

	free, err := ParseProducts([]byte("products:\n  - code: P5\n    price: \"0\"\n"))
	require.NoError(t, err)
	assert.True(t, free[0].Price.IsZero())
}
