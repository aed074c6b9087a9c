package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret = "test-secret-key-at-least-32-characters-long"
	testIssuer = "zigbeegate"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("platform", RoleOperator, testSecret, testIssuer, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret, testIssuer)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "platform" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "platform")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("ID should be set")
	}
	if !claims.Can(PermDeviceOperate) {
		t.Error("operator should be able to operate devices")
	}
	if claims.Can(PermDeviceConfigure) {
		t.Error("operator should not be able to reconfigure devices")
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("svc", RoleViewer, testSecret, "", 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != defaultTokenTTL {
		t.Errorf("ttl = %v, want %v", ttl, defaultTokenTTL)
	}
}

func TestGenerateToken_UnknownRole(t *testing.T) {
	_, err := GenerateToken("svc", Role("owner"), testSecret, testIssuer, time.Minute)
	if !errors.Is(err, ErrUnknownRole) {
		t.Errorf("error = %v, want ErrUnknownRole", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid := func(t *testing.T) string {
		t.Helper()
		tok, err := GenerateToken("svc", RoleAdmin, testSecret, testIssuer, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	sign := func(t *testing.T, method jwt.SigningMethod, claims jwt.Claims) string {
		t.Helper()
		tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Minute))

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"garbage", "not-a-token", testSecret, testIssuer},
		{"wrong secret", valid(t), "another-secret-that-is-long-enough-123", testIssuer},
		{"wrong issuer", valid(t), testSecret, "someone-else"},
		{"expired", func() string {
			tok, _ := GenerateToken("svc", RoleAdmin, testSecret, testIssuer, -time.Minute) //nolint:errcheck // role is valid
			return tok
		}(), testSecret, testIssuer},
		{"no expiry", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "svc", Issuer: testIssuer},
			Role:             RoleAdmin,
		}), testSecret, testIssuer},
		{"no subject", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer, ExpiresAt: future},
			Role:             RoleAdmin,
		}), testSecret, testIssuer},
		{"unknown role", sign(t, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "svc", Issuer: testIssuer, ExpiresAt: future},
			Role:             "owner",
		}), testSecret, testIssuer},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "svc", Issuer: testIssuer, ExpiresAt: future},
			Role:             RoleAdmin,
		}), testSecret, testIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
