package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"ecommerce/internal/events"
)

type Archiver interface {
	Archive(ctx context.Context, e events.AuditEvent, envelope []byte) error
}

// Bus is the entry point for producers of audit events. It stamps, encodes
// and archives each event before handing it to the router.
type Bus struct {
	router         *Router
	archive        Archiver
	archiveSources []string
	now            func() time.Time
}

// NewBus builds a bus. archive may be nil to disable archiving.
func NewBus(router *Router, archive Archiver, archiveSources []string) *Bus {
	return &Bus{router: router, archive: archive, archiveSources: archiveSources, now: time.Now}
}

func (b *Bus) Publish(ctx context.Context, e events.AuditEvent) error {
	if e.Time == 0 {
		e.Time = b.now().UnixMilli()
	}
	envelope, err := events.Encode(events.Audit, e)
	if err != nil {
		return err
	}

	var archiveErr error
	if b.archive != nil && slices.Contains(b.archiveSources, e.Source) {
		if archiveErr = b.archive.Archive(ctx, e, envelope); archiveErr != nil {
			slog.ErrorContext(ctx, "audit archive failed", "source", e.Source, "error", archiveErr)
		}
	}
	return errors.Join(b.router.Route(ctx, envelope), archiveErr)
}
