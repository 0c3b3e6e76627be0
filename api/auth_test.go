package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringErrors(t *testing.T) {
	cases := map[string]error{
		"":                                   errMissingAuthorization,
		"Basic abc":                          errBadAuthorization,
		"Bearer ":                            errBadAuthorization,
		"Bearer " + strings.Repeat(".", 100): errBadAuthorization,
	}
	for raw, want := range cases {
		if _, err := bearerTokenFromString(raw); err != want {
			t.Fatalf("bearerTokenFromString(%q) = %v, want %v", raw, err, want)
		}
	}
}

func TestAuthHeaderQueryFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=a.b.c", nil)
	if got := authHeader(req, false); got != "" {
		t.Fatalf("query token must be ignored outside the stream, got %q", got)
	}
	if got := authHeader(req, true); got != "Bearer a.b.c" {
		t.Fatalf("unexpected header %q", got)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	if got := authHeader(req, true); got != "Bearer x.y.z" {
		t.Fatalf("header must win over query, got %q", got)
	}
}

func TestLocalAuthHS256(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret, "api://aud", "https://issuer/")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestLocalAuthAcceptsUserIDClaim(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret, "", "")
	signed := signHS256(t, secret, jwt.MapClaims{
		"userId": "664f1c",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	userID, err := auth.UserIDFromBearer([]byte(signed))
	if err != nil || userID != "664f1c" {
		t.Fatalf("unexpected result %q %v", userID, err)
	}
}

func TestLocalAuthRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret, "api://aud", "")
	cases := map[string]string{
		"expired":  signHS256(t, secret, jwt.MapClaims{"sub": "u", "aud": "api://aud", "exp": time.Now().Add(-time.Hour).Unix()}),
		"audience": signHS256(t, secret, jwt.MapClaims{"sub": "u", "aud": "other", "exp": time.Now().Add(time.Hour).Unix()}),
		"secret":   signHS256(t, []byte("wrong"), jwt.MapClaims{"sub": "u", "aud": "api://aud", "exp": time.Now().Add(time.Hour).Unix()}),
		"no sub":   signHS256(t, secret, jwt.MapClaims{"aud": "api://aud", "exp": time.Now().Add(time.Hour).Unix()}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.UserIDFromBearer([]byte(token)); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestRemoteAuthWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "")
	signed := signHS256(t, []byte("s"), jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := auth.UserIDFromBearer([]byte(signed)); err == nil {
		t.Fatalf("HS256 token must be rejected in RS256 mode")
	}
}

func TestIdentityCarriesEmailAndName(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewLocalAuth(secret, "", "")
	signed := signHS256(t, secret, jwt.MapClaims{
		"userId": "664f1c",
		"email":  "sam@example.com",
		"name":   " Sam ",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	id, err := auth.IdentityFromBearer([]byte(signed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != (Identity{ID: "664f1c", Email: "sam@example.com", Name: "Sam"}) {
		t.Fatalf("unexpected identity %#v", id)
	}
}

func TestCurrentUser(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub":   "user-123",
		"email": "sam@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	cases := []struct {
		name   string
		auth   Authenticator
		header string
		status int
		want   Identity
	}{
		{"token claims", NewLocalAuth(secret, "", ""), "Bearer " + signed, http.StatusOK, Identity{ID: "user-123", Email: "sam@example.com"}},
		{"id only authenticator", mockAuth{}, "Bearer x", http.StatusOK, Identity{ID: "user"}},
		{"auth disabled", nil, "", http.StatusOK, Identity{ID: "anonymous", Anonymous: true}},
		{"bad token", NewLocalAuth(secret, "", ""), "Bearer nope", http.StatusUnauthorized, Identity{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestServer(&mockBoard{}, &mockStream{}, tc.auth, nil)
			headers := map[string]string{}
			if tc.header != "" {
				headers[echo.HeaderAuthorization] = tc.header
			}
			rec := do(e, http.MethodGet, "/api/auth/me", "", headers)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status != http.StatusOK {
				return
			}
			var got Identity
			if err := sonic.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected identity %#v", got)
			}
		})
	}
}
