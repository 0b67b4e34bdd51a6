package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderWebhookID = "X-Webhook-Id"
	HeaderTimestamp = "X-Webhook-Timestamp"

	DefaultInboundSignatureHeader = "X-Source-Signature"

	secretPrefix = "whsec_"
	apiKeyPrefix = "mvk_"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Sign returns the hex HMAC-SHA256 of body under secret. body is used byte for
// byte; callers must sign exactly what goes on the wire.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify compares in constant time. A presented value that is not valid hex
// never matches. An optional "sha256=" prefix is accepted.
func Verify(secret string, body []byte, presented string) bool {
	presented = strings.TrimPrefix(strings.TrimSpace(presented), "sha256=")
	got, err := hex.DecodeString(presented)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hmac.Equal(h.Sum(nil), got)
}

// VerifyRequest gates an inbound message. An empty secret disables the check.
func VerifyRequest(secret string, body []byte, presented string) error {
	if secret == "" {
		return nil
	}
	if strings.TrimSpace(presented) == "" {
		return ErrMissingSignature
	}
	if !Verify(secret, body, presented) {
		return ErrInvalidSignature
	}
	return nil
}

func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(b), nil
}

func GenerateAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

// HashAPIKey is what the tenants table stores in place of the raw key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
