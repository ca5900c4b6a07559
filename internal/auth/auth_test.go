package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret-1234567890", time.Hour)

	token, err := svc.GenerateToken("ops")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("claims.Subject = %q, want %q", claims.Subject, "ops")
	}
	if claims.ID == "" {
		t.Fatal("claims.ID is empty, want a token id")
	}
	if claims.ExpiresAt == nil {
		t.Fatal("claims.ExpiresAt = nil, want expiry")
	}
}

func TestGenerateTokenIDsAreUnique(t *testing.T) {
	svc := NewService("test-secret-1234567890", time.Hour)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		token, err := svc.GenerateToken("ops")
		if err != nil {
			t.Fatal(err)
		}
		claims, err := svc.ValidateToken(token)
		if err != nil {
			t.Fatal(err)
		}
		if seen[claims.ID] {
			t.Fatalf("duplicate token id %q", claims.ID)
		}
		seen[claims.ID] = true
	}
}

func TestGenerateTokenRequiresSubject(t *testing.T) {
	svc := NewService("test-secret-1234567890", time.Hour)
	if _, err := svc.GenerateToken("  "); err == nil {
		t.Fatal("GenerateToken(blank) succeeded, want error")
	}
}

func TestZeroDurationNeverExpires(t *testing.T) {
	svc := NewService("test-secret-1234567890", 0)
	token, err := svc.GenerateToken("ops")
	if err != nil {
		t.Fatal(err)
	}
	svc.now = func() time.Time { return time.Now().Add(24 * 365 * time.Hour) }
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ExpiresAt != nil {
		t.Fatalf("claims.ExpiresAt = %v, want nil", claims.ExpiresAt)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewService("test-secret-1234567890", -time.Minute)

	token, err := svc.GenerateToken("expired")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	_, err = svc.ValidateToken(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("ValidateToken error = %v, want %v", err, ErrTokenExpired)
	}
}

func TestValidateTokenInvalidScenarios(t *testing.T) {
	svc := NewService("test-secret-1234567890", time.Hour)
	other := NewService("different-secret-123", time.Hour)

	tokenFromOtherSecret, err := other.GenerateToken("alice")
	if err != nil {
		t.Fatalf("GenerateToken(other): %v", err)
	}
	validToken, err := svc.GenerateToken("bob")
	if err != nil {
		t.Fatalf("GenerateToken(valid): %v", err)
	}

	tests := []struct {
		name     string
		tokenStr string
	}{
		{name: "malformed token", tokenStr: "not-a-jwt"},
		{name: "wrong signing secret", tokenStr: tokenFromOtherSecret},
		{name: "tampered signature", tokenStr: mutateSignature(validToken)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tc.tokenStr)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
			}
		})
	}
}

// mutateSignature flips the first signature character, which always carries
// significant bits.
func mutateSignature(token string) string {
	idx := strings.LastIndex(token, ".") + 1
	if idx <= 0 || idx >= len(token) {
		return token
	}
	replacement := byte('A')
	if token[idx] == replacement {
		replacement = 'B'
	}
	return token[:idx] + string(replacement) + token[idx+1:]
}
