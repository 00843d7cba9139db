package audit

import (
	"context"
	"encoding/json"
	"expvar"
	"log/slog"

	"ecommerce/internal/events"
)

// Target names used by the rule files.
const (
	TargetOrdersErrors         = "orders-errors"
	TargetInvoicesErrors       = "invoices-errors"
	TargetInvoiceImportTimeout = "invoice-import-timeout"
)

var alerts = expvar.NewInt("audit_alerts")

// CorrectiveHandler records rejected requests so they can be followed up.
func CorrectiveHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, e events.AuditEvent, _ []byte) error {
		logger.WarnContext(ctx, "rejected request recorded for correction",
			"source", e.Source, "detail_type", e.DetailType, "attributes", e.Attributes,
			"detail", json.RawMessage(e.Detail))
		return nil
	})
}

// AlertHandler raises an alert for each event.
func AlertHandler(logger *slog.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, e events.AuditEvent, _ []byte) error {
		alerts.Add(1)
		logger.ErrorContext(ctx, "audit alert",
			"source", e.Source, "detail_type", e.DetailType, "attributes", e.Attributes,
			"detail", json.RawMessage(e.Detail))
		return nil
	})
}

// DeadLetterStorage keeps dead-lettered envelopes per queue.
type DeadLetterStorage interface {
	Push(ctx context.Context, queue string, envelope []byte) (int, error)
	Depth(ctx context.Context, queue string) (int, error)
	Drain(ctx context.Context, queue string, n int) ([][]byte, error)
}

// DeadLetterQueue parks envelopes for manual inspection. The queue is in
// alarm while its depth is at or above the threshold; every push in alarm
// logs at error level.
type DeadLetterQueue struct {
	name      string
	threshold int
	storage   DeadLetterStorage
	logger    *slog.Logger
}

func NewDeadLetterQueue(name string, threshold int, storage DeadLetterStorage, logger *slog.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{name: name, threshold: threshold, storage: storage, logger: logger}
}

func (q *DeadLetterQueue) Handle(ctx context.Context, e events.AuditEvent, envelope []byte) error {
	depth, err := q.storage.Push(ctx, q.name, envelope)
	if err != nil {
		return err
	}
	q.logger.InfoContext(ctx, "audit event dead-lettered",
		"queue", q.name, "depth", depth, "attributes", e.Attributes)

	if q.inAlarm(depth) {
		q.logger.ErrorContext(ctx, "dead letter queue alarm",
			"queue", q.name, "depth", depth, "threshold", q.threshold)
	}
	return nil
}

// Status reports the current depth and whether the queue is in alarm.
func (q *DeadLetterQueue) Status(ctx context.Context) (int, bool, error) {
	depth, err := q.storage.Depth(ctx, q.name)
	if err != nil {
		return 0, false, err
	}
	return depth, q.inAlarm(depth), nil
}

// Drain removes and returns up to n envelopes, oldest first. n <= 0 drains
// everything.
func (q *DeadLetterQueue) Drain(ctx context.Context, n int) ([][]byte, error) {
	msgs, err := q.storage.Drain(ctx, q.name, n)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		q.logger.InfoContext(ctx, "dead letters drained", "queue", q.name, "count", len(msgs))
	}
	return msgs, nil
}

func (q *DeadLetterQueue) inAlarm(depth int) bool {
	return q.threshold > 0 && depth >= q.threshold
}
