package auth

import (
	"testing"
	"time"
)

func testConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "wirechat-dev",
		Audience: "wirechat-client",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := testConfig()
	other.Secret = []byte("different-secret")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestValidateRejectsWrongIssuerAndAudience(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	badIssuer := testConfig()
	badIssuer.Issuer = "someone-else"
	if _, err := ValidateToken(badIssuer, token); err == nil {
		t.Fatal("wrong issuer accepted")
	}

	badAudience := testConfig()
	badAudience.Audience = "other-app"
	if _, err := ValidateToken(badAudience, token); err == nil {
		t.Fatal("wrong audience accepted")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Minute
	token, err := GenerateToken(cfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatal("expired token accepted")
	}
}
