package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"

	"ecommerce/internal/apperr"
	"ecommerce/internal/database"
)

// DeadLetterStore parks audit envelopes per queue until an operator drains
// them. Ids are snowflakes, so id order is arrival order.
type DeadLetterStore struct {
	db   *database.DB
	node *snowflake.Node
	now  func() time.Time
}

func NewDeadLetterStore(db *database.DB, node *snowflake.Node) *DeadLetterStore {
	return &DeadLetterStore{db: db, node: node, now: time.Now}
}

// Push appends envelope to queue and returns the queue depth after the
// insert.
func (s *DeadLetterStore) Push(ctx context.Context, queue string, envelope []byte) (int, error) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_dead_letters (id, queue, envelope, enqueued_at)
		VALUES ($1, $2, $3, $4)`),
		s.node.Generate().Int64(), queue, string(envelope), s.now().UnixMilli(),
	)
	if err != nil {
		return 0, apperr.Dependency("audit_dead_letters.push", err)
	}
	return s.Depth(ctx, queue)
}

func (s *DeadLetterStore) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(*) FROM audit_dead_letters WHERE queue = $1`), queue).Scan(&n)
	if err != nil {
		return 0, apperr.Dependency("audit_dead_letters.depth", err)
	}
	return n, nil
}

// Drain removes and returns up to n envelopes of queue, oldest first.
// n <= 0 drains everything.
func (s *DeadLetterStore) Drain(ctx context.Context, queue string, n int) ([][]byte, error) {
	const op = "audit_dead_letters.drain"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	defer tx.Rollback()

	query := `SELECT id, envelope FROM audit_dead_letters WHERE queue = $1 ORDER BY id ASC`
	args := []any{queue}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}
	if s.db.Dialect == database.Postgres {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	rows, err := tx.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	var (
		ids []any
		out [][]byte
	)
	for rows.Next() {
		var (
			id  int64
			env string
		)
		if err := rows.Scan(&id, &env); err != nil {
			rows.Close()
			return nil, apperr.Dependency(op, fmt.Errorf("scan dead letter: %w", err))
		}
		ids = append(ids, id)
		out = append(out, []byte(env))
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, apperr.Dependency(op, fmt.Errorf("rows iteration failed: %w", err))
	}
	if len(ids) == 0 {
		return out, nil
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM audit_dead_letters WHERE id IN (`+database.Placeholders(1, len(ids))+`)`), ids...)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Dependency(op, err)
	}
	return out, nil
}
