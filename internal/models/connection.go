package models

import (
	"time"

	"github.com/google/uuid"
)

// Connection auth kinds.
const (
	AuthKindMachine   = "machine"   // server-to-server credential grant, no refresh token
	AuthKindDelegated = "delegated" // user-delegated OAuth with refresh token rotation
)

// Connection statuses.
const (
	ConnectionStatusActive  = "active"
	ConnectionStatusExpired = "expired"
	ConnectionStatusError   = "error"
)

// Connection holds provider credentials and the current access token for one account.
type Connection struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	AuthKind       string     `json:"auth_kind"`
	ClientID       string     `json:"-"`
	ClientSecret   string     `json:"-"`
	AccountID      string     `json:"-"`
	RefreshToken   string     `json:"-"`
	AccessToken    string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Status         string     `json:"status"`
	StatusReason   string     `json:"status_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
