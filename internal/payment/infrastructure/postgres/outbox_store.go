package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palsapos/payments/pkg/outbox"
)

// OutboxStore is the postgres side of the transactional outbox. Batches are
// leased with FOR UPDATE SKIP LOCKED so multiple relay instances never pick
// up the same events.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE outbox
		 SET status = $1, relay_id = $2, lease_until = now() + $3
		 WHERE id IN (
			SELECT id FROM outbox
			WHERE status = $4
			   OR (status = $1 AND lease_until < now())
			ORDER BY id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, aggregate_type, aggregate_id, type, payload,
			COALESCE(traceparent, ''), created_at, retry_count`,
		outbox.StatusInProgress, relayID, lease, outbox.StatusPending, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var e outbox.Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type,
			&e.Payload, &e.Traceparent, &e.CreatedAt, &e.RetryCount); err != nil {
			return nil, err
		}
		e.Status = outbox.StatusInProgress
		e.RelayID = relayID
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET status = $1, relay_id = NULL, lease_until = NULL WHERE id = ANY($2)`,
		outbox.StatusSent, ids)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox
		 SET status = $1, retry_count = retry_count + 1, last_error = $2,
		     relay_id = NULL, lease_until = NULL
		 WHERE id = $3`,
		outbox.StatusFailed, errMsg, id)
	return err
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET lease_until = now() + $1 WHERE relay_id = $2 AND id = ANY($3)`,
		lease, relayID, ids)
	return err
}
