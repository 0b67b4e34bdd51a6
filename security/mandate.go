package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedMandate = errors.New("malformed mandate")
	ErrMissingClaim     = errors.New("missing required claim")
)

// MandateClaims is the JWT-VC payload of an AP2 mandate.
type MandateClaims struct {
	jwt.RegisteredClaims
	VC struct {
		Type              []string `json:"type,omitempty"`
		CredentialSubject struct {
			Scope       string      `json:"scope,omitempty"`
			AmountLimit json.Number `json:"amount_limit,omitempty"`
			Currency    string      `json:"currency,omitempty"`
		} `json:"credentialSubject"`
	} `json:"vc"`
}

// Mandate is the protocol-agnostic projection stored on the authorization.
type Mandate struct {
	ID          string
	Issuer      string
	Subject     string
	Scope       string
	AmountLimit *int64
	Currency    string
	ExpiresAt   *time.Time
	Claims      map[string]interface{}
}

// ParseAP2Mandate extracts mandate claims without checking the signature.
// Cryptographic verification of the credential is done by the issuer-facing
// verifier, so callers must store the result as UNVERIFIED.
func ParseAP2Mandate(token string) (*Mandate, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedMandate)
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &MandateClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMandate, err)
	}

	raw := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMandate, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	if claims.Issuer == "" {
		return nil, fmt.Errorf("%w: iss", ErrMissingClaim)
	}

	m := &Mandate{
		ID:       claims.ID,
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
		Scope:    claims.VC.CredentialSubject.Scope,
		Currency: strings.ToUpper(claims.VC.CredentialSubject.Currency),
		Claims:   raw,
	}

	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time.UTC()
		m.ExpiresAt = &exp
	}

	if s := claims.VC.CredentialSubject.AmountLimit.String(); s != "" {
		amount, err := claims.VC.CredentialSubject.AmountLimit.Int64()
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("%w: amount_limit must be a non-negative integer in minor units", ErrMalformedMandate)
		}
		m.AmountLimit = &amount
	}

	return m, nil
}
