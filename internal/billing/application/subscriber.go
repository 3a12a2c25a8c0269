package application

import (
	"slices"

	"github.com/google/uuid"
	"github.com/medplan/medplan/internal/billing/domain"
)

const (
	RoleHospitalAdmin = "hospital_admin"
	RoleSuperadmin    = "superadmin"
)

// AuthenticatedSubscriber is the caller resolved at the request boundary.
type AuthenticatedSubscriber struct {
	UserID       string
	Type         domain.SubscriberType
	SubscriberID uuid.UUID
	Roles        []string
}

func (s AuthenticatedSubscriber) Owner() domain.Owner {
	return domain.Owner{Type: s.Type, ID: s.SubscriberID}
}

func (s AuthenticatedSubscriber) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// CanManageBilling reports whether the caller may start checkouts. Doctors
// manage their own subscription; hospital billing needs an admin.
func (s AuthenticatedSubscriber) CanManageBilling() bool {
	if s.HasRole(RoleSuperadmin) {
		return true
	}
	switch s.Type {
	case domain.SubscriberDoctor:
		return true
	case domain.SubscriberHospital:
		return s.HasRole(RoleHospitalAdmin)
	}
	return false
}

func (s AuthenticatedSubscriber) identified() bool {
	_, err := domain.ParseSubscriberType(string(s.Type))
	return err == nil && s.SubscriberID != uuid.Nil
}
