package utils

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// GenerateID generates a random unique ID
func GenerateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return generateFallbackID()
	}
	return hex.EncodeToString(b)
}

// InstanceID returns a short random tag used to tell client instances
// apart in logs
func InstanceID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return generateFallbackID()[:8]
	}
	return hex.EncodeToString(b)
}

func generateFallbackID() string {
	return hex.EncodeToString([]byte(time.Now().String()))
}
