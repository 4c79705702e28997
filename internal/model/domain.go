package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleAdmin     UserRole = "ADMIN"
	UserRoleInspector UserRole = "INSPECTOR"
	UserRoleOperator  UserRole = "OPERATOR"
)

// Principal is the authenticated caller extracted from the access token.
type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleAdmin
}

// CanManageVehicles reports whether the caller may change the vehicle master.
func (p Principal) CanManageVehicles() bool {
	return p.Role == UserRoleAdmin || p.Role == UserRoleInspector
}

// CanInvalidateCache reports whether the caller may drop cached estimates.
func (p Principal) CanInvalidateCache() bool {
	return p.Role == UserRoleAdmin
}
