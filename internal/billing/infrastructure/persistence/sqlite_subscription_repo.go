// Package persistence implements the billing repositories for SQLite and
// PostgreSQL.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
)

// SQLiteSubscriptionRepository implements domain.SubscriptionRepository using SQLite.
type SQLiteSubscriptionRepository struct {
	conn database.Connection
}

// NewSQLiteSubscriptionRepository creates a new SQLite subscription repository.
func NewSQLiteSubscriptionRepository(conn database.Connection) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{conn: conn}
}

const subscriptionColumns = `id, owner_type, owner_id, plan, status, start_date, end_date, created_at, updated_at`

func (r *SQLiteSubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(),
		string(s.OwnerType),
		s.OwnerID.String(),
		string(s.Plan),
		string(s.Status),
		formatNullTime(s.StartDate),
		formatNullTime(s.EndDate),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrSubscriptionExists, s.Owner())
	}
	return err
}

func (r *SQLiteSubscriptionRepository) Update(ctx context.Context, s *domain.Subscription) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `
		UPDATE subscriptions
		SET plan = ?, status = ?, start_date = ?, end_date = ?, updated_at = ?
		WHERE id = ?`,
		string(s.Plan),
		string(s.Status),
		formatNullTime(s.StartDate),
		formatNullTime(s.EndDate),
		formatTime(s.UpdatedAt),
		s.ID.String(),
	)
	if err != nil {
		return err
	}
	return requireOneRow(res, domain.ErrSubscriptionNotFound)
}

func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id.String())
	return scanSQLiteSubscription(row)
}

func (r *SQLiteSubscriptionRepository) FindByOwner(ctx context.Context, owner domain.Owner) (*domain.Subscription, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE owner_type = ? AND owner_id = ?`,
		string(owner.Type), owner.ID.String())
	return scanSQLiteSubscription(row)
}

func scanSQLiteSubscription(row database.Row) (*domain.Subscription, error) {
	var (
		id, ownerType, ownerID, plan, status string
		startDate, endDate                   sql.NullString
		createdAt, updatedAt                 string
	)
	err := row.Scan(&id, &ownerType, &ownerID, &plan, &status, &startDate, &endDate, &createdAt, &updatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s := &domain.Subscription{
		OwnerType: domain.SubscriberType(ownerType),
		Plan:      domain.Plan(plan),
		Status:    domain.SubscriptionStatus(status),
		StartDate: parseNullTime(startDate),
		EndDate:   parseNullTime(endDate),
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if s.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return nil, err
	}
	return s, nil
}

// Fixed-width fraction keeps lexical order equal to chronological order,
// which the stale-checkout query relies on.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
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

func requireOneRow(res database.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
