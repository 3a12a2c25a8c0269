package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
	"github.com/shopspring/decimal"
)

// SQLitePaymentRepository implements domain.PaymentRepository using SQLite.
// Amounts are stored as decimal text.
type SQLitePaymentRepository struct {
	conn database.Connection
}

// NewSQLitePaymentRepository creates a new SQLite payment repository.
func NewSQLitePaymentRepository(conn database.Connection) *SQLitePaymentRepository {
	return &SQLitePaymentRepository{conn: conn}
}

const paymentColumns = `id, subscription_id, amount, currency, payment_method, status, transaction_id,
	intent_kind, intent_months, intent_target_plan, pay_token, notif_token, external_order_id,
	failure_reason, created_at, updated_at, completed_at`

func (r *SQLitePaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	_, err := db.Exec(ctx, `
		INSERT INTO subscription_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(),
		p.SubscriptionID.String(),
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
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
		formatNullTime(p.CompletedAt),
	)
	if isPendingViolation(err) {
		return fmt.Errorf("%w: subscription %s", domain.ErrCheckoutInProgress, p.SubscriptionID)
	}
	if err != nil {
		return fmt.Errorf("create payment %s: %w", p.TransactionID, err)
	}
	return nil
}

func (r *SQLitePaymentRepository) AttachProviderRefs(ctx context.Context, p *domain.Payment) error {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `
		UPDATE subscription_payments
		SET pay_token = ?, notif_token = ?, external_order_id = ?, updated_at = ?
		WHERE id = ?`,
		p.PayToken, p.NotifToken, p.ExternalOrderID, formatTime(p.UpdatedAt), p.ID.String())
	if err != nil {
		return err
	}
	return requireOneRow(res, domain.ErrPaymentNotFound)
}

func (r *SQLitePaymentRepository) TransitionStatus(ctx context.Context, p *domain.Payment) (bool, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	res, err := db.Exec(ctx, `
		UPDATE subscription_payments
		SET status = ?, failure_reason = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		string(p.Status), string(p.FailureReason), formatTime(p.UpdatedAt), formatNullTime(p.CompletedAt), p.ID.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLitePaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM subscription_payments WHERE transaction_id = ?`, transactionID)
	p, err := scanSQLitePayment(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return p, err
}

func (r *SQLitePaymentRepository) FindPendingBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	row := db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM subscription_payments
		WHERE subscription_id = ? AND status = 'PENDING'`, subscriptionID.String())
	p, err := scanSQLitePayment(row)
	if database.IsNoRows(err) {
		return nil, nil
	}
	return p, err
}

func (r *SQLitePaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	rows, err := db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM subscription_payments
		WHERE subscription_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, subscriptionID.String(), limit)
	if err != nil {
		return nil, err
	}
	return collectSQLitePayments(rows)
}

func (r *SQLitePaymentRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	db := database.ExecutorFromContext(ctx, r.conn)
	rows, err := db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM subscription_payments
		WHERE status = 'PENDING' AND created_at < ?
		ORDER BY created_at
		LIMIT ?`, formatTime(createdBefore), limit)
	if err != nil {
		return nil, err
	}
	return collectSQLitePayments(rows)
}

func collectSQLitePayments(rows database.Rows) ([]*domain.Payment, error) {
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanSQLitePayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanSQLitePayment(row database.Row) (*domain.Payment, error) {
	var (
		p                            domain.Payment
		id, subscriptionID, amount   string
		status, kind, target, reason string
		createdAt, updatedAt         string
		completedAt                  sql.NullString
	)
	err := row.Scan(&id, &subscriptionID, &amount, &p.Currency, &p.Method, &status, &p.TransactionID,
		&kind, &p.Intent.Months, &target, &p.PayToken, &p.NotifToken, &p.ExternalOrderID,
		&reason, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if p.SubscriptionID, err = uuid.Parse(subscriptionID); err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount: %w", id, err)
	}
	p.Status = domain.PaymentStatus(status)
	p.Intent.Kind = domain.IntentKind(kind)
	p.Intent.TargetPlan = domain.Plan(target)
	p.FailureReason = domain.FailureReason(reason)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	p.CompletedAt = parseNullTime(completedAt)
	return &p, nil
}
