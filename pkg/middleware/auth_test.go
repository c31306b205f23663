package middleware

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example"
	testAudience = "gatekeeper"
)

type tokenSigner struct {
	t      *testing.T
	signer jose.Signer
}

func newTokenSigner(t *testing.T) (*tokenSigner, crypto.PublicKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)
	return &tokenSigner{t: t, signer: signer}, key.Public()
}

func (s *tokenSigner) sign(claims map[string]interface{}) string {
	s.t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(s.t, err)
	jws, err := s.signer.Sign(payload)
	require.NoError(s.t, err)
	raw, err := jws.CompactSerialize()
	require.NoError(s.t, err)
	return raw
}

func claims(sub, aud string, expiry time.Time) map[string]interface{} {
	return map[string]interface{}{
		"iss": testIssuer,
		"sub": sub,
		"aud": aud,
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": expiry.Unix(),
	}
}

func TestAuthMiddleware(t *testing.T) {
	signer, pub := newTokenSigner(t)
	verifier := NewOIDCVerifierWithKeySet(testIssuer, testAudience, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{pub}})

	otherSigner, _ := newTokenSigner(t)

	var seen *Caller
	handler := NewAuthMiddleware(verifier, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := signer.sign(claims("bot-1", testAudience, time.Now().Add(time.Hour)))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + signer.sign(claims("bot-1", testAudience, time.Now().Add(-time.Hour))), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signer.sign(claims("bot-1", "someone-else", time.Now().Add(time.Hour))), http.StatusUnauthorized},
		{"unknown key", "Bearer " + otherSigner.sign(claims("bot-1", testAudience, time.Now().Add(time.Hour))), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/v1/guilds/g1/authorize", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusNoContent {
				assert.Nil(t, seen)
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "bot-1", seen.Subject)
			assert.Equal(t, testIssuer, seen.Issuer)
			assert.Equal(t, []string{testAudience}, seen.Audience)
		})
	}
}

func TestCallerFromContext_Empty(t *testing.T) {
	assert.Nil(t, CallerFromContext(context.Background()))
}

func TestRequireSubjects(t *testing.T) {
	reached := false
	handler := RequireSubjects([]string{"ops-1"}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		caller *Caller
		status int
	}{
		{"listed subject", &Caller{Subject: "ops-1"}, http.StatusNoContent},
		{"other subject", &Caller{Subject: "bot-1"}, http.StatusForbidden},
		{"no caller", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/cache/invalidate", nil)
			if tt.caller != nil {
				req = req.WithContext(WithCaller(req.Context(), tt.caller))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status == http.StatusNoContent, reached)
		})
	}
}
