package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecommerce/internal/apperr"
	"ecommerce/internal/events"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingHandler struct {
	events    []events.AuditEvent
	envelopes [][]byte
}

func (h *recordingHandler) Handle(_ context.Context, e events.AuditEvent, envelope []byte) error {
	h.events = append(h.events, e)
	h.envelopes = append(h.envelopes, envelope)
	return nil
}

func encode(t *testing.T, e events.AuditEvent) []byte {
	t.Helper()
	b, err := events.Encode(events.Audit, e)
	require.NoError(t, err)
	return b
}

func orderNotFound() events.AuditEvent {
	return events.AuditEvent{
		Source:     events.SourceOrder,
		DetailType: events.DetailTypeOrder,
		Time:       1,
		Attributes: map[string]string{events.AttrReason: events.ReasonProductNotFound},
		Detail:     json.RawMessage(`{"productIds":["P1","P9"]}`),
	}
}

func TestDefaultRulesRouteEachFailureClass(t *testing.T) {
	rs, err := LoadRules("")
	require.NoError(t, err)
	require.Len(t, rs.Rules, 3)
	assert.Equal(t, []string{events.SourceOrder}, rs.Archive.Source)

	orders, invoices, timeouts := &recordingHandler{}, &recordingHandler{}, &recordingHandler{}
	router, err := NewRouter(rs.Rules, map[string]Handler{
		TargetOrdersErrors:         orders,
		TargetInvoicesErrors:       invoices,
		TargetInvoiceImportTimeout: timeouts,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, router.Route(ctx, encode(t, orderNotFound())))
	require.NoError(t, router.Route(ctx, encode(t, events.AuditEvent{
		Source: events.SourceInvoice, DetailType: events.DetailTypeInvoice,
		Attributes: map[string]string{events.AttrErrorDetail: events.ErrorDetailNoInvoiceNumber},
	})))
	require.NoError(t, router.Route(ctx, encode(t, events.AuditEvent{
		Source: events.SourceInvoice, DetailType: events.DetailTypeInvoice,
		Attributes: map[string]string{events.AttrErrorDetail: events.ErrorDetailTimeout},
	})))

	assert.Len(t, orders.events, 1)
	assert.Len(t, invoices.events, 1)
	assert.Len(t, timeouts.events, 1)
	assert.Zero(t, router.Unmatched())
}

func TestRouteForwardsEnvelopeUnmodified(t *testing.T) {
	h := &recordingHandler{}
	router, err := NewRouter([]Rule{{Name: "all", Target: "t"}}, map[string]Handler{"t": h})
	require.NoError(t, err)

	env := encode(t, orderNotFound())
	require.NoError(t, router.Route(context.Background(), env))
	require.Len(t, h.envelopes, 1)
	assert.Equal(t, env, h.envelopes[0])
	assert.Equal(t, orderNotFound(), h.events[0])
}

func TestRouteFirstMatchWins(t *testing.T) {
	narrow, broad := &recordingHandler{}, &recordingHandler{}
	rules := []Rule{
		{Name: "narrow", Source: []string{events.SourceOrder}, Detail: map[string][]string{events.AttrReason: {events.ReasonProductNotFound}}, Target: "narrow"},
		{Name: "broad", Source: []string{events.SourceOrder}, Target: "broad"},
	}
	router, err := NewRouter(rules, map[string]Handler{"narrow": narrow, "broad": broad})
	require.NoError(t, err)

	require.NoError(t, router.Route(context.Background(), encode(t, orderNotFound())))
	assert.Len(t, narrow.events, 1)
	assert.Empty(t, broad.events)

	other := orderNotFound()
	other.Attributes = map[string]string{events.AttrReason: "OTHER"}
	require.NoError(t, router.Route(context.Background(), encode(t, other)))
	assert.Len(t, narrow.events, 1)
	assert.Len(t, broad.events, 1)
}

func TestRouteUnmatchedIsCountedNotFailed(t *testing.T) {
	router, err := NewRouter(nil, nil)
	require.NoError(t, err)

	before := unmatchedEvents.Value()
	require.NoError(t, router.Route(context.Background(), encode(t, orderNotFound())))
	assert.Equal(t, int64(1), router.Unmatched())
	assert.Equal(t, before+1, unmatchedEvents.Value())
}

func TestRouteDropsUndecodable(t *testing.T) {
	h := &recordingHandler{}
	router, err := NewRouter([]Rule{{Name: "all", Target: "t"}}, map[string]Handler{"t": h})
	require.NoError(t, err)

	err = router.Route(context.Background(), []byte("{not json"))
	assert.Equal(t, apperr.KindDecodeError, apperr.KindOf(err))

	orderEnv, err := events.Encode(events.OrderCreated, events.OrderEvent{OrderID: "o1"})
	require.NoError(t, err)
	err = router.Route(context.Background(), orderEnv)
	assert.Equal(t, apperr.KindDecodeError, apperr.KindOf(err))

	assert.Empty(t, h.events)
}

func TestNewRouterRejectsUnknownTarget(t *testing.T) {
	_, err := NewRouter([]Rule{{Name: "r", Target: "nowhere"}}, map[string]Handler{})
	assert.Error(t, err)
}

func TestParseRules(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - name: any-invoice
    source: [app.invoice]
    target: invoices-errors
`))
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.True(t, rs.Rules[0].Matches(events.AuditEvent{Source: events.SourceInvoice}))
	assert.False(t, rs.Rules[0].Matches(events.AuditEvent{Source: events.SourceOrder}))

	_, err = ParseRules([]byte("rules:\n  - name: no-target\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("rules: ["))
	assert.Error(t, err)
}

func TestRuleRequiresAttributePresence(t *testing.T) {
	r := Rule{Detail: map[string][]string{events.AttrReason: {events.ReasonProductNotFound}}}
	assert.False(t, r.Matches(events.AuditEvent{}))
	assert.True(t, r.Matches(orderNotFound()))
}

type fakeArchive struct {
	sources []string
	err     error
}

func (a *fakeArchive) Archive(_ context.Context, e events.AuditEvent, _ []byte) error {
	a.sources = append(a.sources, e.Source)
	return a.err
}

func TestBusArchivesConfiguredSourcesAndRoutes(t *testing.T) {
	h := &recordingHandler{}
	router, err := NewRouter([]Rule{{Name: "all", Target: "t"}}, map[string]Handler{"t": h})
	require.NoError(t, err)
	archive := &fakeArchive{}
	bus := NewBus(router, archive, []string{events.SourceOrder})

	e := orderNotFound()
	e.Time = 0
	require.NoError(t, bus.Publish(context.Background(), e))
	require.NoError(t, bus.Publish(context.Background(), events.AuditEvent{Source: events.SourceInvoice}))

	assert.Equal(t, []string{events.SourceOrder}, archive.sources)
	require.Len(t, h.events, 2)
	assert.NotZero(t, h.events[0].Time, "publish stamps the event time")
}

func TestBusReportsArchiveFailureButStillRoutes(t *testing.T) {
	h := &recordingHandler{}
	router, err := NewRouter([]Rule{{Name: "all", Target: "t"}}, map[string]Handler{"t": h})
	require.NoError(t, err)
	boom := errors.New("archive down")
	bus := NewBus(router, &fakeArchive{err: boom}, []string{events.SourceOrder})

	err = bus.Publish(context.Background(), orderNotFound())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, h.events, 1)
}

type memoryDeadLetters struct {
	queues  map[string][][]byte
	pushErr error
}

func (m *memoryDeadLetters) Push(_ context.Context, queue string, envelope []byte) (int, error) {
	if m.pushErr != nil {
		return 0, m.pushErr
	}
	if m.queues == nil {
		m.queues = map[string][][]byte{}
	}
	m.queues[queue] = append(m.queues[queue], envelope)
	return len(m.queues[queue]), nil
}

func (m *memoryDeadLetters) Depth(_ context.Context, queue string) (int, error) {
	return len(m.queues[queue]), nil
}

func (m *memoryDeadLetters) Drain(_ context.Context, queue string, n int) ([][]byte, error) {
	msgs := m.queues[queue]
	if n <= 0 || n > len(msgs) {
		n = len(msgs)
	}
	m.queues[queue] = msgs[n:]
	return msgs[:n], nil
}

func TestDeadLetterQueueAlarm(t *testing.T) {
	storage := &memoryDeadLetters{}
	q := NewDeadLetterQueue(TargetInvoiceImportTimeout, 2, storage, discard)
	ctx := context.Background()

	require.NoError(t, q.Handle(ctx, events.AuditEvent{}, []byte("a")))
	depth, alarm, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.False(t, alarm)

	require.NoError(t, q.Handle(ctx, events.AuditEvent{}, []byte("b")))
	depth, alarm, err = q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.True(t, alarm)
	assert.Len(t, storage.queues[TargetInvoiceImportTimeout], 2)

	got, err := q.Drain(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, got)
	depth, alarm, err = q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.False(t, alarm)

	got, err = q.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b")}, got)
}

func TestDeadLetterQueueStorageFailure(t *testing.T) {
	boom := apperr.Dependency("audit_dead_letters.push", errors.New("db down"))
	q := NewDeadLetterQueue(TargetInvoiceImportTimeout, 2, &memoryDeadLetters{pushErr: boom}, discard)

	err := q.Handle(context.Background(), events.AuditEvent{}, []byte("a"))
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestCorrectiveAndAlertHandlers(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, CorrectiveHandler(discard).Handle(ctx, orderNotFound(), nil))

	before := alerts.Value()
	assert.NoError(t, AlertHandler(discard).Handle(ctx, orderNotFound(), nil))
	assert.Equal(t, before+1, alerts.Value())
}
