// Package token inspects externally-issued bearer tokens. The server never
// mints or validates signatures; tokens come from the Microsoft identity
// platform and are verified by the resource they are presented to. We only
// read claims to learn expiry and the caller's directory object id.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotAToken = errors.New("value is not a parseable JWT")

// Claims is the subset of an access token's payload the server cares about.
type Claims struct {
	ObjectID  string
	TenantID  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type rawClaims struct {
	OID string `json:"oid"`
	TID string `json:"tid"`
	jwt.RegisteredClaims
}

// Inspect decodes the token payload without verifying the signature.
func Inspect(raw string) (*Claims, error) {
	parser := jwt.NewParser()

	var rc rawClaims
	if _, _, err := parser.ParseUnverified(raw, &rc); err != nil {
		return nil, ErrNotAToken
	}

	claims := &Claims{
		ObjectID: rc.OID,
		TenantID: rc.TID,
	}
	if rc.ExpiresAt != nil {
		claims.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}
	return claims, nil
}

// Expired reports whether the token's exp claim has passed. Tokens without
// a parseable payload or without an exp claim report false; the caller's
// max-age policy bounds those instead.
func Expired(raw string, now time.Time) bool {
	claims, err := Inspect(raw)
	if err != nil {
		return false
	}
	if claims.ExpiresAt.IsZero() {
		return false
	}
	return now.After(claims.ExpiresAt)
}
