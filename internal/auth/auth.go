// Package auth verifies the bearer credentials presented at connection setup.
// Token issuance belongs to the external auth service; this package only
// checks that a token decodes to a valid identity under the shared secret.
package auth

import (
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for missing, malformed, expired, or otherwise
// unverifiable credentials.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the authenticated principal extracted from a verified token.
type Identity struct {
	UserID string // stable user id ("uid" claim)
	Email  string
	Name   string
}

// Verifier validates HS256-signed bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString and returns the identity it
// carries. The uid claim is required; email and name are optional profile
// fields.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	uid, _ := claims["uid"].(string)
	if uid == "" {
		return Identity{}, ErrInvalidToken
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return Identity{UserID: uid, Email: email, Name: name}, nil
}
