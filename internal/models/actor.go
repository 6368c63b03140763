package models

import "github.com/google/uuid"

// Role is the marketplace role carried in the access token
type Role string

const (
	RoleTourist Role = "tourist"
	RoleDriver  Role = "driver"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated caller of a lifecycle operation
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanAccess reports whether the actor has rights over b: tourists over their
// own bookings, drivers over bookings of their vehicles, admins over all
func (a Actor) CanAccess(b *Booking) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleTourist:
		return b.TouristID == a.UserID
	case RoleDriver:
		return b.DriverID == a.UserID
	default:
		return false
	}
}

// DefaultCancellationReason is used when the caller gives none
func (a Actor) DefaultCancellationReason() string {
	switch a.Role {
	case RoleDriver:
		return "Cancelled by driver"
	case RoleAdmin:
		return "Cancelled by admin"
	default:
		return "Cancelled by tourist"
	}
}
