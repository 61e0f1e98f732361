package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)

	token, err := signer.GenerateToken("client-1")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := signer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("Expected client-1, got %s", claims.ClientID)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)
	other := NewSigner("other-secret", time.Hour)

	token, err := signer.GenerateToken("client-1")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := other.ValidateToken(token); err == nil {
		t.Error("Token signed with a different secret should be rejected")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	signer := NewSigner("test-secret", -time.Hour)

	token, err := signer.GenerateToken("client-1")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := signer.ValidateToken(token); err == nil {
		t.Error("Expired token should be rejected")
	}
}
