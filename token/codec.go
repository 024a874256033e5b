package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Reason string

const (
	ReasonMalformed         Reason = "malformed"
	ReasonSignatureMismatch Reason = "signature_mismatch"
	ReasonExpired           Reason = "expired"
)

type InvalidTokenError struct {
	Reason Reason
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

// Claims binds a token to a ticket at a specific version. A version bump on
// the ticket (revocation, admission) invalidates every previously minted
// token without any storage round-trip at mint time.
type Claims struct {
	TicketID string `json:"tid"`
	Version  int64  `json:"ver"`
	jwt.RegisteredClaims
}

// Codec signs and verifies ticket bearer tokens with a symmetric key, so
// forged or expired tokens are rejected before touching shared state.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

func (c *Codec) Encode(ticketID string, version int64, expiry time.Time) (string, error) {
	claims := Claims{
		TicketID: ticketID,
		Version:  version,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token encode: %w", err)
	}
	return signed, nil
}

func (c *Codec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &InvalidTokenError{Reason: ReasonExpired}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, &InvalidTokenError{Reason: ReasonSignatureMismatch}
		default:
			return nil, &InvalidTokenError{Reason: ReasonMalformed}
		}
	}

	if claims.TicketID == "" {
		return nil, &InvalidTokenError{Reason: ReasonMalformed}
	}
	return claims, nil
}
