package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-side record of an authenticated device/browser.
// It lives in the Session Store (Redis), not the durable Persistence Adapter.
type Session struct {
	ID             string    `json:"id"`
	UserID         uuid.UUID `json:"userId"`
	RefreshTokenID string    `json:"-"`
	UserAgent      string    `json:"userAgent"`
	IPAddress      string    `json:"ipAddress"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// RefreshToken is an opaque, high-entropy, single-use token id stored
// alongside the session it was minted for. Consuming it rotates it;
// presenting an already-consumed id is a replay signal.
type RefreshToken struct {
	ID        string    `json:"-"`
	UserID    uuid.UUID `json:"-"`
	SessionID string    `json:"-"`
	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}
