package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-123",
		"email": "a@x.com",
		"aud":   "api://aud",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nbf":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
}

func localProvider() *Provider {
	return NewProvider(Config{Audience: "api://aud", Issuer: "https://issuer/", LocalSecret: testSecret})
}

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString("   "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerTokenFromString(header); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestBearerTokenFromStringWrongScheme(t *testing.T) {
	if _, err := bearerTokenFromString("Basic a.b.c"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestFromTokenHS256(t *testing.T) {
	sess, err := localProvider().FromToken(signed(t, validClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if sess.Email != "a@x.com" || sess.Subject != "user-123" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry to be set")
	}
}

func TestFromTokenRejects(t *testing.T) {
	tests := map[string]func(jwt.MapClaims){
		"missing email":  func(c jwt.MapClaims) { delete(c, "email") },
		"expired":        func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
		"missing exp":    func(c jwt.MapClaims) { delete(c, "exp") },
		"not yet valid":  func(c jwt.MapClaims) { c["nbf"] = time.Now().Add(time.Hour).Unix() },
		"wrong audience": func(c jwt.MapClaims) { c["aud"] = "api://other" },
		"wrong issuer":   func(c jwt.MapClaims) { c["iss"] = "https://evil/" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			claims := validClaims()
			mutate(claims)
			if _, err := localProvider().FromToken(signed(t, claims)); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestFromTokenAcceptsShortLivedToken(t *testing.T) {
	tok, err := LocalToken(testSecret, "a@x.com", 30*time.Second)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p := NewProvider(Config{LocalSecret: testSecret})
	if _, err := p.FromToken(tok); err != nil {
		t.Fatalf("token valid for 30 more seconds rejected: %v", err)
	}
}

func TestFromTokenToleratesClockSkew(t *testing.T) {
	claims := validClaims()
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
	claims["nbf"] = time.Now().Add(30 * time.Second).Unix()
	claims["iat"] = time.Now().Add(30 * time.Second).Unix()
	if _, err := localProvider().FromToken(signed(t, claims)); err != nil {
		t.Fatalf("expected skew within a minute to be tolerated: %v", err)
	}
}

func TestFromTokenWrongSecret(t *testing.T) {
	p := NewProvider(Config{LocalSecret: []byte("other-secret")})
	if _, err := p.FromToken(signed(t, validClaims())); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestFromTokenWithoutJWKS(t *testing.T) {
	p := NewProvider(Config{})
	if p.LocalMode() {
		t.Fatalf("provider without secret must not be in local mode")
	}
	if _, err := p.FromToken(signed(t, validClaims())); err == nil {
		t.Fatalf("expected HS256 token to be rejected in JWKS mode")
	}
}

func TestResolvePrefersCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/board", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: signed(t, validClaims())})
	req.Header.Set("Authorization", "Bearer not.a.token")

	sess, err := localProvider().Resolve(req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sess == nil || sess.Email != "a@x.com" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestResolveHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/board", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, validClaims()))

	sess, err := localProvider().Resolve(req)
	if err != nil || sess == nil {
		t.Fatalf("expected session, got %v / %v", sess, err)
	}
}

func TestResolveWithoutCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/board", nil)
	sess, err := localProvider().Resolve(req)
	if err != nil || sess != nil {
		t.Fatalf("expected no session and no error, got %v / %v", sess, err)
	}
}

func TestLocalTokenRoundTrip(t *testing.T) {
	token, err := LocalToken(testSecret, "a@x.com", time.Hour)
	if err != nil {
		t.Fatalf("local token: %v", err)
	}
	sess, err := NewProvider(Config{LocalSecret: testSecret}).FromToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sess.Email != "a@x.com" {
		t.Fatalf("unexpected email: %s", sess.Email)
	}
	if _, err := LocalToken(nil, "a@x.com", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
