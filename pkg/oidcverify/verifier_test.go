package oidcverify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengateway/core/pkg/gatetoken"
	"github.com/tokengateway/core/pkg/jwkset"
)

type testIssuer struct {
	*httptest.Server
	key *rsa.PrivateKey
	kid string
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ti := &testIssuer{key: key, kid: "key-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": ti.kid,
				"alg": "RS256",
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(ti.key.E)).Bytes()),
				"n":   base64.RawURLEncoding.EncodeToString(ti.key.N.Bytes()),
			}},
		})
	})
	ti.Server = httptest.NewServer(mux)
	return ti
}

func (ti *testIssuer) sign(t *testing.T, claims map[string]any, kid string) string {
	t.Helper()
	opts := &jose.SignerOptions{}
	opts.WithHeader("kid", kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: ti.key}, opts)
	require.NoError(t, err)
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	require.NoError(t, err)
	return token
}

func TestVerify_Success(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))

	token := issuer.sign(t, map[string]any{
		"iss": issuer.URL,
		"aud": "client-1",
		"sub": "user-1",
		"jti": "jti-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}, issuer.kid)

	verified, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", verified.JTI)
	assert.Equal(t, "user-1", verified.Claims["sub"])
}

func TestVerify_MissingJTIDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"iss": issuer.URL,
		"aud": "client-1",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)

	verified, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", verified.JTI)
}

func TestVerify_InvalidIssuer(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"iss": "https://not-the-configured-issuer.example.com",
		"aud": "client-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	var verr *gatetoken.VerifyTokenError
	assert.ErrorAs(t, err, &verr)
}

func TestVerify_UnknownKeyID(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"iss": issuer.URL,
		"aud": "client-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, "no-such-kid")

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	var unknownKid *gatetoken.UnknownKeyIdError
	assert.ErrorAs(t, err, &unknownKid)
}

func TestVerify_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	// Configured algorithm differs from what the issuer's key set advertises.
	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "ES256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"iss": issuer.URL,
		"aud": "client-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	var unknownAlg *gatetoken.UnknownAlgorithmError
	assert.ErrorAs(t, err, &unknownAlg)
}

func TestVerify_WrongAudience(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"iss": issuer.URL,
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	var verr *gatetoken.VerifyTokenError
	assert.ErrorAs(t, err, &verr)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"iss": issuer.URL,
		"aud": "client-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, issuer.kid)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	var verr *gatetoken.VerifyTokenError
	assert.ErrorAs(t, err, &verr)
}

func TestVerify_MissingIss(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))
	token := issuer.sign(t, map[string]any{
		"aud": "client-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	var missing *gatetoken.MissingClaimsError
	assert.ErrorAs(t, err, &missing)
}

// TestVerify_KeyRotationTolerance exercises the key-rotation scenario from
// spec.md §8: when a previously cached/retired key is replaced, a fresh
// JWKS fetch (no caching is implemented here) succeeds against the new key.
func TestVerify_KeyRotationTolerance(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	defer issuer.Close()

	v := New(Config{Issuer: issuer.URL, Audience: "client-1", Algorithm: "RS256"}, jwkset.NewFetcher(issuer.Client()))

	tokenOld := issuer.sign(t, map[string]any{
		"iss": issuer.URL, "aud": "client-1", "exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)
	_, err := v.Verify(context.Background(), tokenOld)
	require.NoError(t, err)

	// Rotate: issuer now signs with a new key under a new kid. The fetcher
	// re-fetches JWKS on every call, so this requires no invalidation step.
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer.key = newKey
	issuer.kid = "key-2"

	tokenNew := issuer.sign(t, map[string]any{
		"iss": issuer.URL, "aud": "client-1", "exp": time.Now().Add(time.Hour).Unix(),
	}, issuer.kid)
	verified, err := v.Verify(context.Background(), tokenNew)
	require.NoError(t, err)
	assert.NotEmpty(t, verified.Encoded)
}
