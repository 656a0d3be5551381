package model

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID          uuid.UUID  `json:"id"`
	Handle      string     `json:"handle"`
	DisplayName string     `json:"display_name"`
	IsVerified  bool       `json:"is_verified"`
	IsClaimed   bool       `json:"is_claimed"`
	ClaimCode   string     `json:"-"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
