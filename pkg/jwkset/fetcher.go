// Package jwkset resolves an OIDC issuer's JWKS URI via discovery and
// fetches/parses the issuer's public key material (spec.md §4.2, C2).
package jwkset

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/tokengateway/core/pkg/gatetoken"
	"github.com/tokengateway/core/pkg/logger"
)

// HTTPClient is the minimal HTTP surface jwkset depends on. Satisfied by
// *http.Client; callers own timeouts and transport configuration (out of
// scope here, per spec.md §1).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Key is an issuer's public signing key, as carried in a JWKS document
// (spec.md §3, JWKSKey).
type Key struct {
	KID string `json:"kid"`
	Alg string `json:"alg"`
	E   string `json:"e"`
	N   string `json:"n"`
}

type jwksDocument struct {
	Keys []Key `json:"keys"`
}

type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

// Fetcher resolves and fetches JWKS documents for OIDC issuers.
type Fetcher struct {
	Client HTTPClient
}

// NewFetcher returns a Fetcher using the given HTTP client.
func NewFetcher(client HTTPClient) *Fetcher {
	return &Fetcher{Client: client}
}

// GetKeys resolves iss's JWKS URI (via OIDC discovery, falling back to the
// conventional /.well-known/jwks.json path) and returns its keys array
// verbatim. See spec.md §4.2 get_keys.
func (f *Fetcher) GetKeys(ctx context.Context, iss string) ([]Key, error) {
	jwksURI, discovered, err := f.discoverJWKSURI(ctx, iss)
	if err != nil {
		// Discovery document was fetched successfully but is missing
		// jwks_uri: the provider is misconfigured, do not fall back.
		return nil, err
	}
	if !discovered {
		jwksURI = strings.TrimRight(iss, "/") + "/.well-known/jwks.json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, &gatetoken.FetchKeysError{Message: fmt.Sprintf("cannot build request for %s", jwksURI), Cause: err}
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &gatetoken.FetchKeysError{Message: fmt.Sprintf("cannot retrieve keys from %s", jwksURI), Cause: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("jwkset: failed to close JWKS response body: %v", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, &gatetoken.FetchKeysError{Message: fmt.Sprintf("cannot retrieve keys from %s: HTTP %d", jwksURI, resp.StatusCode)}
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &gatetoken.FetchKeysError{Message: fmt.Sprintf("no keys property in JWKS metadata for %s", jwksURI), Cause: err}
	}
	return doc.Keys, nil
}

// discoverJWKSURI fetches iss's OIDC discovery document and extracts
// jwks_uri. The bool return reports whether a discovery document was
// successfully obtained at all: false means the caller should fall back to
// the conventional JWKS path. A non-nil error means discovery succeeded but
// the document was missing jwks_uri, which is a hard failure (no fallback).
func (f *Fetcher) discoverJWKSURI(ctx context.Context, iss string) (string, bool, error) {
	url := strings.TrimRight(iss, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, nil
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", false, nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("jwkset: failed to close discovery response body: %v", cerr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", false, nil
	}
	if doc.JWKSURI == "" {
		return "", false, &gatetoken.FetchKeysError{
			Message: fmt.Sprintf("no jwks_uri property in OIDC metadata for %s", iss),
		}
	}
	return doc.JWKSURI, true, nil
}

// GetKeyPEM resolves the PEM-encoded public key for (iss, kid), per
// spec.md §4.2 get_key. If multiple keys share kid, the last match in the
// JWKS keys array wins (spec.md §9 open question: issuers producing
// duplicate kids are malformed, and this is a don't-care).
func GetKeyPEM(ctx context.Context, f *Fetcher, iss, kid, algorithm string) (string, error) {
	keys, err := f.GetKeys(ctx, iss)
	if err != nil {
		return "", err
	}

	var match *Key
	for i := range keys {
		if keys[i].KID == kid {
			match = &keys[i]
		}
	}
	if match == nil {
		return "", &gatetoken.UnknownKeyIdError{Issuer: iss, KeyID: kid}
	}
	if match.Alg != algorithm {
		return "", &gatetoken.UnknownAlgorithmError{Issuer: iss, KeyID: kid, Alg: match.Alg, Expected: algorithm}
	}

	return keyToPEM(*match)
}

func keyToPEM(key Key) (string, error) {
	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return "", &gatetoken.FetchKeysError{Message: "malformed exponent in JWKS key", Cause: err}
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return "", &gatetoken.FetchKeysError{Message: "malformed modulus in JWKS key", Cause: err}
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", &gatetoken.FetchKeysError{Message: "failed to marshal public key", Cause: err}
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
