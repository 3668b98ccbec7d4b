package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "greenloop-auth",
		Audience:      "greenloop-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })

	token, expiresIn, err := issuer.IssueToken(context.Background(), 42, RoleAdmin)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected subject 42, got %d", claims.UserID)
	}
	if claims.Role != RoleAdmin {
		t.Fatalf("expected role %q, got %q", RoleAdmin, claims.Role)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issuedAt })

	token, _, err := issuer.IssueToken(context.Background(), 7, RoleUser)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	later := newTestIssuer(func() time.Time { return issuedAt.Add(31 * time.Minute) })
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })

	token, _, err := issuer.IssueToken(context.Background(), 7, RoleUser)
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "greenloop-auth",
		Audience:      "greenloop-api",
		Clock:         func() time.Time { return now },
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	issuer := newTestIssuer(nil)
	if _, _, err := issuer.IssueToken(context.Background(), 0, RoleUser); err == nil {
		t.Fatalf("expected error for zero user id")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hashed, err := HashPassword("s3cret-passphrase")
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	if !CheckPassword(hashed, "s3cret-passphrase") {
		t.Fatalf("expected matching password to verify")
	}
	if CheckPassword(hashed, "wrong") {
		t.Fatalf("expected mismatched password to fail")
	}
}
