package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	sharedDomain "github.com/medplan/medplan/internal/shared/domain"
)

// SubscriptionStatus is the stored lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusPending  SubscriptionStatus = "PENDING"
	StatusInactive SubscriptionStatus = "INACTIVE"
	StatusExpired  SubscriptionStatus = "EXPIRED"
)

// MaxMonths bounds a single checkout.
const MaxMonths = 36

// Owner identifies the doctor or hospital a subscription belongs to.
type Owner struct {
	Type SubscriberType
	ID   uuid.UUID
}

func (o Owner) String() string {
	return fmt.Sprintf("%s:%s", o.Type, o.ID)
}

// Subscription is the plan a subscriber is on and the period it covers.
type Subscription struct {
	sharedDomain.EventRecorder

	ID        uuid.UUID
	OwnerType SubscriberType
	OwnerID   uuid.UUID
	Plan      Plan
	Status    SubscriptionStatus
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFreeSubscription provisions the default subscription of a new subscriber.
func NewFreeSubscription(owner Owner, now time.Time) *Subscription {
	now = now.UTC()
	start := now
	s := &Subscription{
		ID:        uuid.New(),
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		Plan:      PlanFree,
		Status:    StatusActive,
		StartDate: &start,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Record(NewSubscriptionProvisioned(s, now))
	return s
}

func (s *Subscription) Owner() Owner {
	return Owner{Type: s.OwnerType, ID: s.OwnerID}
}

// DisplayStatus derives what the subscriber sees: an ACTIVE subscription
// past its end date shows as EXPIRED. Nothing is written.
func (s *Subscription) DisplayStatus(now time.Time) SubscriptionStatus {
	if s.Status == StatusActive && s.EndDate != nil && s.EndDate.Before(now) {
		return StatusExpired
	}
	return s.Status
}

// CheckRenewable rejects renewals of the free plan.
func (s *Subscription) CheckRenewable() error {
	if !s.Plan.IsPaid() {
		return ErrFreePlanNotRenewable
	}
	return nil
}

// CheckPlanChange validates a switch to target.
func (s *Subscription) CheckPlanChange(target Plan) error {
	if target == s.Plan {
		return fmt.Errorf("%w: %s", ErrPlanAlreadyActive, target)
	}
	if !target.IsPaid() {
		return ErrDowngradeToFree
	}
	return nil
}

// ApplyRenewal extends the subscription by months. The new period starts at
// the current end date when it is still in the future and now otherwise.
func (s *Subscription) ApplyRenewal(months int, now time.Time) {
	now = now.UTC()
	start := now
	if s.EndDate != nil && s.EndDate.After(now) {
		start = s.EndDate.UTC()
	}
	end := start.AddDate(0, months, 0)

	s.Status = StatusActive
	s.StartDate = &start
	s.EndDate = &end
	s.UpdatedAt = now

	s.Record(&SubscriptionRenewed{
		BaseEvent: sharedDomain.NewBaseEvent(s.ID, AggregateSubscription, RoutingKeySubscriptionRenewed, now),
		Plan:      s.Plan,
		Months:    months,
		StartDate: start,
		EndDate:   end,
	})
}

// ApplyPlanChange moves the subscription to target for months starting now.
func (s *Subscription) ApplyPlanChange(target Plan, months int, now time.Time) {
	now = now.UTC()
	start := now
	end := start.AddDate(0, months, 0)
	previous := s.Plan

	s.Plan = target
	s.Status = StatusActive
	s.StartDate = &start
	s.EndDate = &end
	s.UpdatedAt = now

	s.Record(&SubscriptionPlanChanged{
		BaseEvent:    sharedDomain.NewBaseEvent(s.ID, AggregateSubscription, RoutingKeySubscriptionPlanChanged, now),
		PreviousPlan: previous,
		Plan:         target,
		Months:       months,
		StartDate:    start,
		EndDate:      end,
	})
}

// ApplyIntent applies a paid intent. It reports false for unknown intents,
// which leave the subscription untouched.
func (s *Subscription) ApplyIntent(intent Intent, now time.Time) bool {
	if !intent.IsKnown() {
		return false
	}
	switch intent.Kind {
	case IntentRenewal:
		s.ApplyRenewal(intent.Months, now)
	case IntentPlanChange:
		s.ApplyPlanChange(intent.TargetPlan, intent.Months, now)
	}
	return true
}

// NormalizeMonths coerces values below one to one and rejects periods longer
// than MaxMonths.
func NormalizeMonths(months int) (int, error) {
	if months < 1 {
		return 1, nil
	}
	if months > MaxMonths {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyMonths, months, MaxMonths)
	}
	return months, nil
}
