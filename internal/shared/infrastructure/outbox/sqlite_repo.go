package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
)

// SQLiteRepository stores the outbox in SQLite with RFC 3339 text timestamps.
type SQLiteRepository struct {
	conn database.Connection
}

// NewSQLiteRepository creates a new SQLite outbox repository.
func NewSQLiteRepository(conn database.Connection) *SQLiteRepository {
	return &SQLiteRepository{conn: conn}
}

const sqliteColumns = `id, event_id, aggregate_type, aggregate_id, event_type, routing_key,
	payload, metadata, created_at, published_at, retry_count, last_error,
	next_retry_at, dead_lettered_at, dead_letter_reason`

func (r *SQLiteRepository) Save(ctx context.Context, msgs ...*Message) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	for _, msg := range msgs {
		var id int64
		err := db.QueryRow(ctx, `
			INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, routing_key,
				payload, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			msg.EventID.String(),
			msg.AggregateType,
			msg.AggregateID.String(),
			msg.EventType,
			msg.RoutingKey,
			string(msg.Payload),
			nullableText(msg.Metadata),
			formatTime(msg.CreatedAt),
		).Scan(&id)
		if err != nil {
			return err
		}
		msg.ID = id
	}
	return nil
}

func (r *SQLiteRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	rows, err := db.Query(ctx, `
		SELECT `+sqliteColumns+`
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (r *SQLiteRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `UPDATE outbox SET published_at = ? WHERE id = ?`, formatTime(at), id)
	return err
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ?
		WHERE id = ?`, errMsg, formatTime(nextRetryAt), id)
	return err
}

func (r *SQLiteRepository) MarkDead(ctx context.Context, id int64, reason string, at time.Time) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, dead_lettered_at = ?, dead_letter_reason = ?, last_error = ?
		WHERE id = ?`, formatTime(at), reason, reason, id)
	return err
}

func (r *SQLiteRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `DELETE FROM outbox WHERE published_at IS NOT NULL AND created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSQLiteMessage(row database.Row) (*Message, error) {
	var (
		msg                                   Message
		eventID, aggregateID, payload, create string
		metadata, publishedAt, lastError      sql.NullString
		nextRetryAt, deadAt, deadReason       sql.NullString
	)
	err := row.Scan(&msg.ID, &eventID, &msg.AggregateType, &aggregateID, &msg.EventType, &msg.RoutingKey,
		&payload, &metadata, &create, &publishedAt, &msg.RetryCount, &lastError,
		&nextRetryAt, &deadAt, &deadReason)
	if err != nil {
		return nil, err
	}

	msg.EventID, _ = uuid.Parse(eventID)
	msg.AggregateID, _ = uuid.Parse(aggregateID)
	msg.Payload = json.RawMessage(payload)
	if metadata.Valid {
		msg.Metadata = json.RawMessage(metadata.String)
	}
	msg.CreatedAt = parseTime(create)
	msg.PublishedAt = parseNullTime(publishedAt)
	msg.NextRetryAt = parseNullTime(nextRetryAt)
	msg.DeadLetteredAt = parseNullTime(deadAt)
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if deadReason.Valid {
		msg.DeadLetterReason = &deadReason.String
	}
	return &msg, nil
}

// Fixed-width fraction keeps lexical order equal to chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullableText(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}
