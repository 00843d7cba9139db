package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
	"ecommerce/internal/events"
)

// AuditArchive retains encoded audit envelopes for later inspection.
type AuditArchive struct {
	db  *database.DB
	now func() time.Time
}

func NewAuditArchive(db *database.DB) *AuditArchive {
	return &AuditArchive{db: db, now: time.Now}
}

func (a *AuditArchive) Archive(ctx context.Context, e events.AuditEvent, envelope []byte) error {
	_, err := a.db.ExecContext(ctx, a.db.Rebind(`
		INSERT INTO audit_archive (id, source, detail_type, envelope, occurred_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6)`),
		uuid.NewString(), e.Source, e.DetailType, string(envelope), e.Time, a.now().UnixMilli(),
	)
	if err != nil {
		return apperr.Dependency("audit_archive.archive", err)
	}
	return nil
}

// ListBySource returns archived envelopes of a source, oldest first.
func (a *AuditArchive) ListBySource(ctx context.Context, source string) ([][]byte, error) {
	rows, err := a.db.QueryContext(ctx, a.db.Rebind(`
		SELECT envelope FROM audit_archive WHERE source = $1 ORDER BY archived_at ASC`), source)
	if err != nil {
		return nil, apperr.Dependency("audit_archive.list", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var env string
		if err := rows.Scan(&env); err != nil {
			return nil, apperr.Dependency("audit_archive.list", err)
		}
		out = append(out, []byte(env))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Dependency("audit_archive.list", err)
	}
	return out, nil
}

// PurgeBefore drops entries archived before cutoff.
func (a *AuditArchive) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, a.db.Rebind(`
		DELETE FROM audit_archive WHERE archived_at < $1`), cutoff.UnixMilli())
	if err != nil {
		return 0, apperr.Dependency("audit_archive.purge", err)
	}
	return res.RowsAffected()
}
