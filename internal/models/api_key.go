package models

import (
	"github.com/google/uuid"
)

// APIKeyPrefix is prepended to every minted external API key.
const APIKeyPrefix = "sk_live_"

type APIKey struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	IsActive  bool      `json:"is_active"`
}
