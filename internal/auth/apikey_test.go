package auth

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/models"
)

func TestGenerateAPIKey(t *testing.T) {
	userID := uuid.New()
	raw, key, err := GenerateAPIKey(userID)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, models.APIKeyPrefix) {
		t.Errorf("expected prefix %q, got %q", models.APIKeyPrefix, raw)
	}
	if got := len(raw) - len(models.APIKeyPrefix); got != 32 {
		t.Errorf("expected 32 random chars, got %d", got)
	}
	if key.UserID != userID || !key.IsActive {
		t.Errorf("unexpected key record: %+v", key)
	}
	if key.KeyHash != HashAPIKey(raw) {
		t.Error("stored hash does not match raw key")
	}
	if strings.Contains(key.KeyHash, raw) {
		t.Error("raw key leaked into hash")
	}

	raw2, _, err := GenerateAPIKey(userID)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if raw == raw2 {
		t.Error("expected distinct keys")
	}
}
