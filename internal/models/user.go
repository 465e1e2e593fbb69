package models

import (
	"time"

	"github.com/google/uuid"
)

// HostIdentity is what the embedding platform tells us about the caller.
type HostIdentity struct {
	UserID    string  `json:"userId"`
	AccountID string  `json:"accountId"`
	Email     *string `json:"email,omitempty"`
	Name      *string `json:"name,omitempty"`
}

type UserProfile struct {
	ID            uuid.UUID `json:"id"`
	HostUserID    string    `json:"host_user_id"`
	HostAccountID string    `json:"host_account_id"`
	Email         *string   `json:"email"`
	Name          *string   `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
}

type SyncProfileRequest struct {
	Email *string `json:"email"`
	Name  *string `json:"name"`
}
