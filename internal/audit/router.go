package audit

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"sync/atomic"

	"ecommerce/internal/apperr"
	"ecommerce/internal/events"
)

var (
	unmatchedEvents  = expvar.NewInt("audit_unmatched_events")
	droppedEnvelopes = expvar.NewInt("audit_dropped_envelopes")
	routedEvents     = expvar.NewMap("audit_routed_events")
)

// Handler receives an audit event together with the envelope it arrived in.
type Handler interface {
	Handle(ctx context.Context, e events.AuditEvent, envelope []byte) error
}

type HandlerFunc func(ctx context.Context, e events.AuditEvent, envelope []byte) error

func (f HandlerFunc) Handle(ctx context.Context, e events.AuditEvent, envelope []byte) error {
	return f(ctx, e, envelope)
}

// Router evaluates rules in order and forwards each event to the target of
// the first matching rule. The rule set is fixed at construction.
type Router struct {
	rules     []Rule
	targets   map[string]Handler
	unmatched atomic.Int64
}

// NewRouter fails when a rule names a target that has no handler.
func NewRouter(rules []Rule, targets map[string]Handler) (*Router, error) {
	for _, r := range rules {
		if _, ok := targets[r.Target]; !ok {
			return nil, fmt.Errorf("audit rule %s: unknown target %q", r.Name, r.Target)
		}
	}
	return &Router{rules: append([]Rule(nil), rules...), targets: targets}, nil
}

// Route decodes envelope and forwards it. Malformed envelopes and non-audit
// events are logged and dropped with a DecodeError; events no rule matches
// are counted and dropped without error.
func (r *Router) Route(ctx context.Context, envelope []byte) error {
	typ, payload, err := events.Decode(envelope)
	if err == nil && typ != events.Audit {
		err = apperr.New(apperr.KindDecodeError, "audit.route", fmt.Sprintf("unexpected event type %s", typ))
	}
	if err != nil {
		droppedEnvelopes.Add(1)
		slog.WarnContext(ctx, "dropping undecodable audit envelope", "error", err)
		return err
	}
	e := payload.(events.AuditEvent)

	rule, ok := r.Match(e)
	if !ok {
		r.unmatched.Add(1)
		unmatchedEvents.Add(1)
		slog.InfoContext(ctx, "audit event matched no rule",
			"source", e.Source, "detail_type", e.DetailType, "attributes", e.Attributes)
		return nil
	}

	routedEvents.Add(rule.Target, 1)
	if err := r.targets[rule.Target].Handle(ctx, e, envelope); err != nil {
		return fmt.Errorf("audit target %s: %w", rule.Target, err)
	}
	return nil
}

// Match returns the first rule matching e.
func (r *Router) Match(e events.AuditEvent) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.Matches(e) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Unmatched reports how many events this router dropped for lack of a rule.
func (r *Router) Unmatched() int64 {
	return r.unmatched.Load()
}
