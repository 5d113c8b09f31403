package model

import "github.com/google/uuid"

// Actor is the authenticated caller bound to every lifecycle operation.
// It is built from verified token claims, never from request payloads.
type Actor struct {
	UserID         uuid.UUID
	Role           string
	OrganizationID uuid.UUID
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanSubmit reports whether the actor may file claims of their own.
func (a Actor) CanSubmit() bool {
	return a.Role == RoleEmployee || a.Role == RoleEngineer || a.Role == RoleAdmin
}

// SeesOrganization reports whether the actor may read every claim of the organization.
func (a Actor) SeesOrganization() bool {
	return a.Role == RoleAdmin || a.Role == RoleCashier
}
