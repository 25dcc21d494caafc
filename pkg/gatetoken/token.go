package gatetoken

import (
	"encoding/base64"
	"io"
	"regexp"
	"strings"

	"github.com/tokengateway/core/pkg/gateclock"
)

// keyLength and secretLength are the number of raw bytes backing the
// key and secret halves of a Token. 16 bytes base64url-encodes (without
// padding) to exactly 22 characters, giving 128 bits of entropy per half.
const (
	keyLength    = 16
	secretLength = 16
	tokenPrefix  = "gt-"
	codePrefix   = "gc-"
)

// urlSafeAlphabet matches the RFC 4648 URL-safe base64 alphabet with no
// padding, exactly what base64.RawURLEncoding produces.
var urlSafeAlphabet = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

// Token is an opaque bearer credential: a (key, secret) pair of 22-character
// URL-safe base64 strings. The key names the token for lookup purposes; the
// secret authenticates possession of it. Canonical string form is
// "gt-<key>.<secret>".
type Token struct {
	Key    string
	Secret string
}

// NewToken mints a fresh Token by drawing 32 random bytes (16 for the key,
// 16 for the secret) from rnd.
func NewToken(rnd gateclock.RandReader) (Token, error) {
	key, err := randomURLSafeString(rnd, keyLength)
	if err != nil {
		return Token{}, err
	}
	secret, err := randomURLSafeString(rnd, secretLength)
	if err != nil {
		return Token{}, err
	}
	return Token{Key: key, Secret: secret}, nil
}

func randomURLSafeString(rnd gateclock.RandReader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// String returns the canonical "gt-<key>.<secret>" form of the token.
func (t Token) String() string {
	return tokenPrefix + t.Key + "." + t.Secret
}

// ParseToken parses the canonical "gt-<key>.<secret>" form, rejecting any
// deviation: wrong or missing prefix, missing separator, empty halves, or
// characters outside the URL-safe base64 alphabet.
func ParseToken(s string) (Token, error) {
	key, secret, err := parsePrefixed(s, tokenPrefix)
	if err != nil {
		return Token{}, err
	}
	return Token{Key: key, Secret: secret}, nil
}

// AuthorizationCode has the same shape as Token but uses the "gc-" prefix
// (spec.md §3: AuthorizationCode).
type AuthorizationCode struct {
	Key    string
	Secret string
}

// NewAuthorizationCode mints a fresh AuthorizationCode.
func NewAuthorizationCode(rnd gateclock.RandReader) (AuthorizationCode, error) {
	key, err := randomURLSafeString(rnd, keyLength)
	if err != nil {
		return AuthorizationCode{}, err
	}
	secret, err := randomURLSafeString(rnd, secretLength)
	if err != nil {
		return AuthorizationCode{}, err
	}
	return AuthorizationCode{Key: key, Secret: secret}, nil
}

// String returns the canonical "gc-<key>.<secret>" form.
func (c AuthorizationCode) String() string {
	return codePrefix + c.Key + "." + c.Secret
}

// ParseAuthorizationCode parses the canonical "gc-<key>.<secret>" form.
func ParseAuthorizationCode(s string) (AuthorizationCode, error) {
	key, secret, err := parsePrefixed(s, codePrefix)
	if err != nil {
		return AuthorizationCode{}, err
	}
	return AuthorizationCode{Key: key, Secret: secret}, nil
}

func parsePrefixed(s, prefix string) (key, secret string, err error) {
	if !strings.HasPrefix(s, prefix) {
		return "", "", &InvalidTokenError{Reason: "missing " + prefix + " prefix"}
	}
	rest := strings.TrimPrefix(s, prefix)
	idx := strings.IndexByte(rest, '.')
	if idx < 0 {
		return "", "", &InvalidTokenError{Reason: "missing '.' separator"}
	}
	key, secret = rest[:idx], rest[idx+1:]
	if key == "" || secret == "" {
		return "", "", &InvalidTokenError{Reason: "empty key or secret"}
	}
	if !urlSafeAlphabet.MatchString(key) {
		return "", "", &InvalidTokenError{Reason: "key is not 22 url-safe base64 characters"}
	}
	if !urlSafeAlphabet.MatchString(secret) {
		return "", "", &InvalidTokenError{Reason: "secret is not 22 url-safe base64 characters"}
	}
	return key, secret, nil
}
