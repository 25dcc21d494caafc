// Package oidcverify validates signed upstream OIDC ID tokens: issuer,
// audience, signature, algorithm, and kid (spec.md §4.2, C3).
package oidcverify

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/tokengateway/core/pkg/gatetoken"
	"github.com/tokengateway/core/pkg/jwkset"
	"github.com/tokengateway/core/pkg/logger"
)

// VerifiedToken carries the encoded form of an upstream ID token alongside
// its decoded claim map and jti, once signature/issuer/audience/algorithm
// checks have all passed (spec.md §3, UpstreamOIDCToken).
type VerifiedToken struct {
	Encoded string
	Claims  map[string]any
	JTI     string
}

// Config configures a Verifier for one upstream issuer.
type Config struct {
	// Issuer is the exact "iss" value a verified token must carry.
	Issuer string
	// Audience is the single "aud" value a verified token must carry.
	Audience string
	// Algorithm is the required JWS signature algorithm (e.g. "RS256").
	// Keys whose alg differs fail with UnknownAlgorithmError.
	Algorithm string
}

// Verifier validates upstream ID tokens against a single configured issuer.
type Verifier struct {
	cfg     Config
	fetcher *jwkset.Fetcher
}

// New returns a Verifier using fetcher to resolve the issuer's keys.
func New(cfg Config, fetcher *jwkset.Fetcher) *Verifier {
	return &Verifier{cfg: cfg, fetcher: fetcher}
}

// Verify validates encoded as a JWT issued by the configured issuer. It
// decodes the header and payload without verification to find kid and iss,
// fetches the matching public key, then verifies signature, algorithm,
// audience, and expiry.
func (v *Verifier) Verify(ctx context.Context, encoded string) (VerifiedToken, error) {
	tok, err := jwt.ParseSigned(encoded)
	if err != nil {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "malformed JWT", Cause: err}
	}
	if len(tok.Headers) == 0 {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "JWT has no header"}
	}

	var unverified map[string]any
	if err := tok.UnsafeClaimsWithoutVerification(&unverified); err != nil {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "failed to decode JWT payload", Cause: err}
	}

	issAny, ok := unverified["iss"]
	if !ok {
		return VerifiedToken{}, &gatetoken.MissingClaimsError{Claim: "iss"}
	}
	iss, ok := issAny.(string)
	if !ok {
		return VerifiedToken{}, &gatetoken.MissingClaimsError{Claim: "iss"}
	}

	kid := tok.Headers[0].KeyID
	if kid == "" {
		return VerifiedToken{}, &gatetoken.MissingClaimsError{Claim: "kid (header)"}
	}

	if jti, ok := unverified["jti"]; ok {
		if s, ok := jti.(string); ok {
			logger.Debugf("oidcverify: verifying token %s from issuer %s", s, iss)
		}
	} else {
		logger.Debugf("oidcverify: verifying token from issuer %s", iss)
	}

	if iss != v.cfg.Issuer {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "unknown issuer: " + iss}
	}

	pemKey, err := jwkset.GetKeyPEM(ctx, v.fetcher, iss, kid, v.cfg.Algorithm)
	if err != nil {
		return VerifiedToken{}, err
	}
	pubKey, err := parseRSAPublicKeyPEM(pemKey)
	if err != nil {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "failed to parse issuer public key", Cause: err}
	}

	if string(tok.Headers[0].Algorithm) != v.cfg.Algorithm {
		return VerifiedToken{}, &gatetoken.UnknownAlgorithmError{
			Issuer: iss, KeyID: kid, Alg: string(tok.Headers[0].Algorithm), Expected: v.cfg.Algorithm,
		}
	}

	var registered jwt.Claims
	var claims map[string]any
	if err := tok.Claims(pubKey, &registered, &claims); err != nil {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "signature verification failed", Cause: err}
	}

	expected := jwt.Expected{
		Issuer:   v.cfg.Issuer,
		Audience: jwt.Audience{v.cfg.Audience},
		Time:     time.Now(),
	}
	if err := registered.Validate(expected); err != nil {
		return VerifiedToken{}, &gatetoken.VerifyTokenError{Message: "claim validation failed", Cause: err}
	}

	jti := "UNKNOWN"
	if j, ok := claims["jti"].(string); ok && j != "" {
		jti = j
	}

	return VerifiedToken{Encoded: encoded, Claims: claims, JTI: jti}, nil
}

func parseRSAPublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, jose.ErrCryptoFailure
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, jose.ErrCryptoFailure
	}
	return rsaPub, nil
}
