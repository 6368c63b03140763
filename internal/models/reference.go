package models

import (
	"github.com/google/uuid"
)

// Vehicle is the read-only catalog view of a vehicle used for availability
type Vehicle struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DriverID    uuid.UUID `json:"driver_id" db:"driver_id"`
	Model       string    `json:"model" db:"model"`
	PlateNumber string    `json:"plate_number" db:"plate_number"`
	Capacity    int       `json:"capacity" db:"capacity"`
	PricePerDay Money     `json:"price_per_day" db:"price_per_day"`
}

// UserProfile is the contact view of a tourist or driver
type UserProfile struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Email string    `json:"email" db:"email"`
	Name  string    `json:"name" db:"name"`
}

// Optional is the result of a lookup that may legitimately find nothing.
// A failed lookup is reported separately through the error return.
type Optional[T any] struct {
	value T
	ok    bool
}

func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

func (o Optional[T]) Present() bool { return o.ok }
