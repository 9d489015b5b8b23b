package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://project.supabase.co/auth/v1"

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":           testIssuer,
		"sub":           "3f1c9a2e-user",
		"aud":           "authenticated",
		"email":         "user@example.com",
		"exp":           time.Now().Add(time.Hour).Unix(),
		"iat":           time.Now().Unix(),
		"user_metadata": map[string]any{"full_name": "Test User"},
	}
}

func newStaticVerifier(t *testing.T, key *rsa.PrivateKey) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierConfig{
		Issuer: testIssuer + "/",
		KeySet: &gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
	})
	require.NoError(t, err)
	return v
}

func TestVerifier_ValidToken(t *testing.T) {
	key := newTestKey(t)
	v := newStaticVerifier(t, key)

	id, err := v.Verify(context.Background(), signToken(t, key, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "3f1c9a2e-user", id.ID)
	assert.Equal(t, "user@example.com", id.Email)
	assert.Equal(t, "Test User", id.DisplayName())
}

func TestVerifier_Rejections(t *testing.T) {
	key := newTestKey(t)
	other := newTestKey(t)
	v := newStaticVerifier(t, key)

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongIssuer := baseClaims()
	wrongIssuer["iss"] = "https://evil.example/auth/v1"

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "garbage", raw: "not.a.jwt"},
		{name: "expired", raw: signToken(t, key, expired)},
		{name: "wrong issuer", raw: signToken(t, key, wrongIssuer)},
		{name: "foreign key", raw: signToken(t, other, baseClaims())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.raw)
			require.ErrorIs(t, err, domainauth.ErrNotAuthenticated)
		})
	}
}

func TestVerifier_RemoteKeySet(t *testing.T) {
	key := newTestKey(t)
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{rsaJWK(&key.PublicKey)},
		})
	}))
	defer jwks.Close()

	v, err := NewVerifier(VerifierConfig{Issuer: testIssuer, JWKSURL: jwks.URL})
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), signToken(t, key, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "3f1c9a2e-user", id.ID)
}

func TestNewVerifier_ValidationErrors(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{JWKSURL: "https://x/jwks"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer")

	_, err = NewVerifier(VerifierConfig{Issuer: testIssuer})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWKS")
}

func rsaJWK(pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
