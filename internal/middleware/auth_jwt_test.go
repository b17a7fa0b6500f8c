package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signed(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	claims := TokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: sub}}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := SignJWT(secret, claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestVerifyJWT(t *testing.T) {
	claims, err := VerifyJWT(testSecret, signed(t, testSecret, "user-1", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}

	bad := map[string]string{
		"wrong secret": signed(t, "other", "user-1", time.Time{}),
		"expired":      signed(t, testSecret, "user-1", time.Now().Add(-time.Minute)),
		"no subject":   signed(t, testSecret, "", time.Time{}),
		"garbage":      "a.b.c",
	}
	for name, token := range bad {
		if _, err := VerifyJWT(testSecret, token); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestVerifyJWTRejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyJWT(testSecret, token); err == nil {
		t.Fatal("HS512 token accepted")
	}
}

func TestAuthJWT(t *testing.T) {
	var seen string
	h := AuthJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signed(t, testSecret, "user-9", time.Time{}), want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK && seen != "user-9" {
				t.Fatalf("user id = %q", seen)
			}
		})
	}
}
