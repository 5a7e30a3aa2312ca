package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription types written by the payment collaborator.
const (
	SubscriptionMonthly = "PREMIUM_MONTHLY"
	SubscriptionYearly  = "PREMIUM_YEARLY"
)

// User carries identity plus the quota-relevant columns. Counters may hold
// historically corrupted negative values; readers clamp them.
type User struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	PasswordHash      string     `json:"-"`
	FreeTrialsUsed    int        `json:"free_trials_used"`
	CreditsPurchased  int        `json:"credits_purchased"`
	CreditsUsed       int        `json:"credits_used"`
	IsPremium         bool       `json:"is_premium"`
	PremiumExpiresAt  *time.Time `json:"premium_expires_at,omitempty"`
	SubscriptionType  string     `json:"subscription_type,omitempty"`
	PremiumUsageCount int        `json:"premium_usage_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SubscriptionActive reports whether the user has a live subscription at now.
func (u *User) SubscriptionActive(now time.Time) bool {
	if !u.IsPremium || u.SubscriptionType == "" {
		return false
	}
	return u.PremiumExpiresAt == nil || u.PremiumExpiresAt.After(now)
}
