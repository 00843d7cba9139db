package events

import (
	"encoding/json"
	"fmt"

	"ecommerce/internal/apperr"
)

// Envelope tags a payload with its event type. Data holds the JSON encoded
// payload.
type Envelope struct {
	EventType EventType       `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// Encode wraps payload into an envelope of the given type. The payload must
// be the Go type registered for eventType.
func Encode(eventType EventType, payload any) ([]byte, error) {
	if err := checkPayload(eventType, payload); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{EventType: eventType, Data: data})
}

// Decode unwraps an envelope and decodes its payload into the registered
// type: OrderEvent for order lifecycle events, AuditEvent for audit events.
// Malformed input and unknown types yield a DecodeError.
func Decode(b []byte) (EventType, any, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", nil, apperr.Wrap(apperr.KindDecodeError, "events.decode", err)
	}
	if len(env.Data) == 0 {
		return "", nil, apperr.New(apperr.KindDecodeError, "events.decode", "envelope has no data")
	}

	switch env.EventType {
	case OrderCreated, OrderDeleted:
		var e OrderEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return "", nil, apperr.Wrap(apperr.KindDecodeError, "events.decode", err)
		}
		return env.EventType, e, nil
	case Audit:
		var e AuditEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return "", nil, apperr.Wrap(apperr.KindDecodeError, "events.decode", err)
		}
		return env.EventType, e, nil
	}
	return "", nil, apperr.New(apperr.KindDecodeError, "events.decode", fmt.Sprintf("unknown event type %q", env.EventType))
}

func checkPayload(eventType EventType, payload any) error {
	var ok bool
	switch eventType {
	case OrderCreated, OrderDeleted:
		_, ok = payload.(OrderEvent)
	case Audit:
		_, ok = payload.(AuditEvent)
	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
	if !ok {
		return fmt.Errorf("payload %T does not match event type %s", payload, eventType)
	}
	return nil
}
