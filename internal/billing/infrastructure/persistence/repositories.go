package persistence

import (
	"github.com/medplan/medplan/internal/billing/domain"
	"github.com/medplan/medplan/internal/shared/infrastructure/database"
)

// NewSubscriptionRepository picks the implementation matching the connection's driver.
func NewSubscriptionRepository(conn database.Connection) domain.SubscriptionRepository {
	if conn.Driver() == database.DriverPostgres {
		return NewPostgresSubscriptionRepository(conn)
	}
	return NewSQLiteSubscriptionRepository(conn)
}

// NewPaymentRepository picks the implementation matching the connection's driver.
func NewPaymentRepository(conn database.Connection) domain.PaymentRepository {
	if conn.Driver() == database.DriverPostgres {
		return NewPostgresPaymentRepository(conn)
	}
	return NewSQLitePaymentRepository(conn)
}

// onePendingIndex allows a single PENDING payment per subscription.
const (
	onePendingIndex  = "idx_subscription_payments_one_pending"
	onePendingColumn = "subscription_payments.subscription_id"
)

func isPendingViolation(err error) bool {
	return database.IsUniqueViolationOn(err, onePendingIndex, onePendingColumn)
}
