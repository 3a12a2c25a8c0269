package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
)

// PostgresSubscriptionRepository implements domain.SubscriptionRepository using PostgreSQL.
type PostgresSubscriptionRepository struct {
	conn database.Connection
}

// NewPostgresSubscriptionRepository creates a new PostgreSQL subscription repository.
func NewPostgresSubscriptionRepository(conn database.Connection) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{conn: conn}
}

func (r *PostgresSubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID,
		string(s.OwnerType),
		s.OwnerID,
		string(s.Plan),
		string(s.Status),
		s.StartDate,
		s.EndDate,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrSubscriptionExists, s.Owner())
	}
	return err
}

func (r *PostgresSubscriptionRepository) Update(ctx context.Context, s *domain.Subscription) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `
		UPDATE subscriptions
		SET plan = $2, status = $3, start_date = $4, end_date = $5, updated_at = $6
		WHERE id = $1`,
		s.ID, string(s.Plan), string(s.Status), s.StartDate, s.EndDate, s.UpdatedAt)
	if err != nil {
		return err
	}
	return requireOneRow(res, domain.ErrSubscriptionNotFound)
}

func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	return scanPostgresSubscription(row)
}

func (r *PostgresSubscriptionRepository) FindByOwner(ctx context.Context, owner domain.Owner) (*domain.Subscription, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE owner_type = $1 AND owner_id = $2`,
		string(owner.Type), owner.ID)
	return scanPostgresSubscription(row)
}

func scanPostgresSubscription(row database.Row) (*domain.Subscription, error) {
	var (
		s                       domain.Subscription
		ownerType, plan, status string
	)
	err := row.Scan(&s.ID, &ownerType, &s.OwnerID, &plan, &status, &s.StartDate, &s.EndDate, &s.CreatedAt, &s.UpdatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.OwnerType = domain.SubscriberType(ownerType)
	s.Plan = domain.Plan(plan)
	s.Status = domain.SubscriptionStatus(status)
	return &s, nil
}
