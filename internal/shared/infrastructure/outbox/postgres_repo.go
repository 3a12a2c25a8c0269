package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
)

// PostgresRepository stores the outbox in PostgreSQL.
type PostgresRepository struct {
	conn database.Connection
}

// NewPostgresRepository creates a new PostgreSQL outbox repository.
func NewPostgresRepository(conn database.Connection) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

func (r *PostgresRepository) Save(ctx context.Context, msgs ...*Message) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	for _, msg := range msgs {
		var metadata []byte
		if len(msg.Metadata) > 0 {
			metadata = msg.Metadata
		}
		err := db.QueryRow(ctx, `
			INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, routing_key,
				payload, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			msg.EventID,
			msg.AggregateType,
			msg.AggregateID,
			msg.EventType,
			msg.RoutingKey,
			[]byte(msg.Payload),
			metadata,
			msg.CreatedAt,
		).Scan(&msg.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	rows, err := db.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, routing_key,
		       payload, metadata, created_at, published_at, retry_count, last_error,
		       next_retry_at, dead_lettered_at, dead_letter_reason
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var (
			msg      Message
			eventID  uuid.UUID
			aggID    uuid.UUID
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(&msg.ID, &eventID, &msg.AggregateType, &aggID, &msg.EventType, &msg.RoutingKey,
			&payload, &metadata, &msg.CreatedAt, &msg.PublishedAt, &msg.RetryCount, &msg.LastError,
			&msg.NextRetryAt, &msg.DeadLetteredAt, &msg.DeadLetterReason); err != nil {
			return nil, err
		}
		msg.EventID = eventID
		msg.AggregateID = aggID
		msg.Payload = payload
		msg.Metadata = metadata
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = $2, next_retry_at = $3
		WHERE id = $1`, id, errMsg, nextRetryAt)
	return err
}

func (r *PostgresRepository) MarkDead(ctx context.Context, id int64, reason string, at time.Time) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, dead_lettered_at = $2, dead_letter_reason = $3, last_error = $3
		WHERE id = $1`, id, at, reason)
	return err
}

func (r *PostgresRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `DELETE FROM outbox WHERE published_at IS NOT NULL AND created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// NewRepository picks the implementation matching the connection's driver.
func NewRepository(conn database.Connection) Repository {
	if conn.Driver() == database.DriverPostgres {
		return NewPostgresRepository(conn)
	}
	return NewSQLiteRepository(conn)
}
