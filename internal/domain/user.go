package domain

import (
	"time"

	"github.com/google/uuid"
)

// User owns every instrument and transaction.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	DateOfBirth  *time.Time
	PhoneNumber  *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileUpdate holds the profile fields a user may change. Nil leaves the
// field as is; an empty PhoneNumber clears it.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	DateOfBirth *time.Time
	PhoneNumber *string
}
