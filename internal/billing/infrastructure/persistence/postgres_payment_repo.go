package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
	"github.com/shopspring/decimal"
)

// PostgresPaymentRepository implements domain.PaymentRepository using
// PostgreSQL. Amounts travel as text so NUMERIC keeps its exact value.
type PostgresPaymentRepository struct {
	conn database.Connection
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository.
func NewPostgresPaymentRepository(conn database.Connection) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{conn: conn}
}

const postgresPaymentSelect = `SELECT id, subscription_id, amount::text, currency, payment_method, status,
	transaction_id, intent_kind, intent_months, intent_target_plan, pay_token, notif_token,
	external_order_id, failure_reason, created_at, updated_at, completed_at
	FROM subscription_payments`

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		INSERT INTO subscription_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID,
		p.SubscriptionID,
		p.Amount.String(),
		p.Currency,
		p.Method,
		string(p.Status),
		p.TransactionID,
		string(p.Intent.Kind),
		p.Intent.Months,
		string(p.Intent.TargetPlan),
		p.PayToken,
		p.NotifToken,
		p.ExternalOrderID,
		string(p.FailureReason),
		p.CreatedAt,
		p.UpdatedAt,
		p.CompletedAt,
	)
	if isPendingViolation(err) {
		return fmt.Errorf("%w: subscription %s", domain.ErrCheckoutInProgress, p.SubscriptionID)
	}
	if err != nil {
		return fmt.Errorf("create payment %s: %w", p.TransactionID, err)
	}
	return nil
}

func (r *PostgresPaymentRepository) AttachProviderRefs(ctx context.Context, p *domain.Payment) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `
		UPDATE subscription_payments
		SET pay_token = $2, notif_token = $3, external_order_id = $4, updated_at = $5
		WHERE id = $1`,
		p.ID, p.PayToken, p.NotifToken, p.ExternalOrderID, p.UpdatedAt)
	if err != nil {
		return err
	}
	return requireOneRow(res, domain.ErrPaymentNotFound)
}

func (r *PostgresPaymentRepository) TransitionStatus(ctx context.Context, p *domain.Payment) (bool, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `
		UPDATE subscription_payments
		SET status = $2, failure_reason = $3, updated_at = $4, completed_at = $5
		WHERE id = $1 AND status = 'PENDING'`,
		p.ID, string(p.Status), string(p.FailureReason), p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresPaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, postgresPaymentSelect+` WHERE transaction_id = $1`, transactionID)
	p, err := scanPostgresPayment(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return p, err
}

func (r *PostgresPaymentRepository) FindPendingBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, postgresPaymentSelect+` WHERE subscription_id = $1 AND status = 'PENDING'`, subscriptionID)
	p, err := scanPostgresPayment(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return p, err
}

func (r *PostgresPaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	rows, err := db.Query(ctx, postgresPaymentSelect+`
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	return collectPostgresPayments(rows)
}

func (r *PostgresPaymentRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	rows, err := db.Query(ctx, postgresPaymentSelect+`
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectPostgresPayments(rows)
}

func collectPostgresPayments(rows database.Rows) ([]*domain.Payment, error) {
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPostgresPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPostgresPayment(row database.Row) (*domain.Payment, error) {
	var (
		p                            domain.Payment
		amount                       string
		status, kind, target, reason string
	)
	err := row.Scan(&p.ID, &p.SubscriptionID, &amount, &p.Currency, &p.Method, &status,
		&p.TransactionID, &kind, &p.Intent.Months, &target, &p.PayToken, &p.NotifToken,
		&p.ExternalOrderID, &reason, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		return nil, err
	}

	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount: %w", p.ID, err)
	}
	p.Status = domain.PaymentStatus(status)
	p.Intent.Kind = domain.IntentKind(kind)
	p.Intent.TargetPlan = domain.Plan(target)
	p.FailureReason = domain.FailureReason(reason)
	return &p, nil
}
