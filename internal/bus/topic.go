// Package bus fans encoded event envelopes out to in-process subscribers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"ecommerce/internal/events"
)

// Handler consumes one encoded envelope.
type Handler func(ctx context.Context, msg Message) error

type Message struct {
	ID        string
	EventType events.EventType
	Body      []byte
}

type subscription struct {
	name    string
	handler Handler
	filter  map[events.EventType]struct{}
}

// Topic delivers every published message synchronously to the subscribers
// whose filter accepts its event type. Publish returns once all deliveries
// have finished and reports every failed delivery.
type Topic struct {
	name string
	mu   sync.RWMutex
	subs []subscription
}

func NewTopic(name string) *Topic {
	return &Topic{name: name}
}

// Subscribe registers handler. An empty filter accepts every event type.
func (t *Topic) Subscribe(name string, handler Handler, filter ...events.EventType) {
	s := subscription{name: name, handler: handler}
	if len(filter) > 0 {
		s.filter = make(map[events.EventType]struct{}, len(filter))
		for _, f := range filter {
			s.filter[f] = struct{}{}
		}
	}

	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
}

// Publish encodes payload and delivers it. The returned message id is valid
// even when some deliveries failed.
func (t *Topic) Publish(ctx context.Context, eventType events.EventType, payload any) (string, error) {
	body, err := events.Encode(eventType, payload)
	if err != nil {
		return "", err
	}
	msg := Message{ID: uuid.NewString(), EventType: eventType, Body: body}

	t.mu.RLock()
	subs := append([]subscription(nil), t.subs...)
	t.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if s.filter != nil {
			if _, ok := s.filter[eventType]; !ok {
				continue
			}
		}
		if err := s.handler(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "event delivery failed",
				"topic", t.name, "subscriber", s.name, "message_id", msg.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return msg.ID, errors.Join(errs...)
}
