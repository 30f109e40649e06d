package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"tunnelsync/internal/shared/protocol"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24

	entryRegion    = "region"
	entrySponsorID = "sponsorId"
	entryVPN       = "vpn"
	entryIssuedAt  = "issuedAt"
)

// Sealer seals connection info for exchange between devices with NaCl
// secretbox under a shared key
type Sealer struct {
	key [keySize]byte
}

// NewSealer creates a Sealer from a base64 encoded 32-byte key
func NewSealer(encodedKey string) (*Sealer, error) {
	if encodedKey == "" {
		return nil, ErrNoExchangeKey
	}
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidExchangeKey
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateExchangeKey returns a fresh base64 encoded key
func GenerateExchangeKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("failed to generate exchange key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Seal encrypts msg and returns it URL-safe base64 encoded with the
// nonce prepended
func (s *Sealer) Seal(msg []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], msg, &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

// Open decrypts a payload produced by Seal
func (s *Sealer) Open(payload string) ([]byte, error) {
	box, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrInvalidExchange
	}

	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	msg, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrInvalidExchange
	}
	return msg, nil
}

// ExportEntry seals the server entry the engine is connected through
func (s *Sealer) ExportEntry(cfg EngineConfig, vpn bool) (string, error) {
	data, err := protocol.EncodeBundle(protocol.Bundle{
		entryRegion:    cfg.Region,
		entrySponsorID: cfg.SponsorID,
		entryVPN:       vpn,
		entryIssuedAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return s.Seal(data)
}

// ImportEntry opens an exchanged server entry and returns its region
func (s *Sealer) ImportEntry(payload string) (string, error) {
	msg, err := s.Open(payload)
	if err != nil {
		return "", err
	}
	entry, err := protocol.DecodeBundle(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExchange, err)
	}
	region, ok := entry.String(entryRegion)
	if !ok || region == "" {
		return "", fmt.Errorf("%w: missing region", ErrInvalidExchange)
	}
	return region, nil
}
