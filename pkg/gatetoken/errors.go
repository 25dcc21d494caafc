package gatetoken

import "fmt"

// InvalidTokenError indicates that a string could not be parsed as a Token
// or AuthorizationCode: wrong prefix, missing separator, empty half, or
// characters outside the URL-safe base64 alphabet.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

// OIDCError represents a failure in the upstream OIDC protocol exchange,
// or an HTTP transport failure while talking to the upstream provider.
type OIDCError struct {
	Message string
	Cause   error
}

func (e *OIDCError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *OIDCError) Unwrap() error { return e.Cause }

// FetchKeysError indicates the JWKS document (or the discovery document
// that locates it) could not be retrieved or was malformed.
type FetchKeysError struct {
	Message string
	Cause   error
}

func (e *FetchKeysError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *FetchKeysError) Unwrap() error { return e.Cause }

// UnknownKeyIdError indicates the JWT's kid was not present in the
// issuer's JWKS.
type UnknownKeyIdError struct { //nolint:revive // matches spec error-kind naming
	Issuer string
	KeyID  string
}

func (e *UnknownKeyIdError) Error() string {
	return fmt.Sprintf("issuer %s has no kid %s", e.Issuer, e.KeyID)
}

// UnknownAlgorithmError indicates a matching kid was found but its alg
// does not match the configured algorithm.
type UnknownAlgorithmError struct {
	Issuer   string
	KeyID    string
	Alg      string
	Expected string
}

func (e *UnknownAlgorithmError) Error() string {
	return fmt.Sprintf("issuer %s kid %s had algorithm %s not %s", e.Issuer, e.KeyID, e.Alg, e.Expected)
}

// VerifyTokenError indicates a signature, audience, issuer, or expiry
// failure while verifying an upstream ID token.
type VerifyTokenError struct {
	Message string
	Cause   error
}

func (e *VerifyTokenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *VerifyTokenError) Unwrap() error { return e.Cause }

// MissingClaimsError indicates a verified token lacks a claim the gateway
// requires (e.g. the configured username claim).
type MissingClaimsError struct {
	Claim string
}

func (e *MissingClaimsError) Error() string {
	return fmt.Sprintf("no %s claim in token", e.Claim)
}

// InvalidClientError indicates a downstream relying party presented an
// unregistered client_id or an incorrect client_secret.
type InvalidClientError struct {
	Message string
}

func (e *InvalidClientError) Error() string { return e.Message }

// InvalidGrantError indicates an authorization code redemption failed:
// unknown code, secret mismatch, client/redirect_uri mismatch, or a
// missing/expired backing session.
type InvalidGrantError struct {
	Message string
}

func (e *InvalidGrantError) Error() string { return e.Message }

// UnauthorizedClientError indicates issue_code was called for a client_id
// that is not in the configured client list, or with a redirect_uri that is
// not registered for that client.
type UnauthorizedClientError struct {
	ClientID string
}

func (e *UnauthorizedClientError) Error() string {
	return fmt.Sprintf("client %q is not authorized to request authorization codes", e.ClientID)
}
