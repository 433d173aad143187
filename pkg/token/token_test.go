package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, oid string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"oid": oid,
		"tid": "tenant-1",
		"exp": exp.Unix(),
		"iat": time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("irrelevant-secret"))
	if err != nil {
		t.Fatalf("failed to mint test token: %v", err)
	}
	return signed
}

func TestInspect(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := mintToken(t, "aad-object-1", exp)

	claims, err := Inspect(raw)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if claims.ObjectID != "aad-object-1" {
		t.Errorf("expected oid aad-object-1, got %s", claims.ObjectID)
	}
	if claims.TenantID != "tenant-1" {
		t.Errorf("expected tid tenant-1, got %s", claims.TenantID)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Errorf("expected exp %v, got %v", exp, claims.ExpiresAt)
	}
}

func TestInspect_NotAToken(t *testing.T) {
	if _, err := Inspect("opaque-bearer-value"); err != ErrNotAToken {
		t.Fatalf("expected ErrNotAToken, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	live := mintToken(t, "u", now.Add(time.Hour))
	if Expired(live, now) {
		t.Error("live token reported expired")
	}

	stale := mintToken(t, "u", now.Add(-time.Minute))
	if !Expired(stale, now) {
		t.Error("stale token reported live")
	}

	// Opaque tokens defer to the caller's max-age policy.
	if Expired("opaque-bearer-value", now) {
		t.Error("opaque token must not report expired")
	}
}
