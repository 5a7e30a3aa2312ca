package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/models"
)

const (
	apiKeyAlphabet   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	apiKeyRandomLen  = 32
	apiKeyDisplayLen = 12
)

// HashAPIKey returns the hex SHA-256 of a raw key. Only hashes are stored.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a new external key for userID. The raw key is
// returned once and never persisted.
func GenerateAPIKey(userID uuid.UUID) (string, *models.APIKey, error) {
	buf := make([]byte, apiKeyRandomLen)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", nil, err
		}
		buf[i] = apiKeyAlphabet[n.Int64()]
	}
	raw := models.APIKeyPrefix + string(buf)
	return raw, &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		KeyHash:   HashAPIKey(raw),
		KeyPrefix: raw[:apiKeyDisplayLen],
		IsActive:  true,
	}, nil
}
