package models

import (
	"time"

	"github.com/google/uuid"
)

// Role constants for access control
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Preferences holds per-user display/notification settings.
type Preferences struct {
	TimeFormat    string `json:"timeFormat"`    // "12h" or "24h"
	WeekStartDay  int    `json:"weekStartDay"`  // 0=Sunday .. 6=Saturday
	Notifications bool   `json:"notifications"`
}

// DefaultPreferences returns the preferences assigned at registration.
func DefaultPreferences() Preferences {
	return Preferences{
		TimeFormat:    "24h",
		WeekStartDay:  1,
		Notifications: true,
	}
}

// User is an account holder of the time-tracking core.
type User struct {
	ID             uuid.UUID   `json:"id"`
	Email          string      `json:"email"`
	Name           string      `json:"name"`
	PasswordHash   string      `json:"-"`
	Role           string      `json:"role"`
	OrganizationID *uuid.UUID  `json:"organizationId,omitempty"`
	Preferences    Preferences `json:"preferences"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
