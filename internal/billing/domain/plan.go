// Package domain holds the subscription billing model: plans, prices,
// subscriptions, payments and the checkout intents that link them.
package domain

import (
	"fmt"
	"strings"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree     Plan = "FREE"
	PlanStandard Plan = "STANDARD"
	PlanPremium  Plan = "PREMIUM"
)

// Plans lists every tier in ascending order.
var Plans = []Plan{PlanFree, PlanStandard, PlanPremium}

// ParsePlan accepts plan names case-insensitively.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PlanFree, PlanStandard, PlanPremium:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlan, s)
}

// IsPaid reports whether the plan is billed.
func (p Plan) IsPaid() bool {
	return p == PlanStandard || p == PlanPremium
}

// SubscriberType is the kind of account that owns a subscription.
type SubscriberType string

const (
	SubscriberDoctor   SubscriberType = "DOCTOR"
	SubscriberHospital SubscriberType = "HOSPITAL"
)

// SubscriberTypes lists every subscriber type.
var SubscriberTypes = []SubscriberType{SubscriberDoctor, SubscriberHospital}

// ParseSubscriberType accepts subscriber types case-insensitively.
func ParseSubscriberType(s string) (SubscriberType, error) {
	t := SubscriberType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case SubscriberDoctor, SubscriberHospital:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSubscriberType, s)
}
