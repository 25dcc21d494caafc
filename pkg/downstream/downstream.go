// Package downstream implements the downstream OIDC service (spec.md §4.4,
// C7): issuing and redeeming opaque, one-shot authorization codes, and
// minting signed downstream ID tokens for relying parties configured as
// {client_id, client_secret} pairs.
package downstream

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/tokengateway/core/pkg/gateclock"
	"github.com/tokengateway/core/pkg/gatestore"
	"github.com/tokengateway/core/pkg/gatetoken"
	"github.com/tokengateway/core/pkg/logger"
)

const (
	codeKVPrefix  = "oidc:"
	tokenKVPrefix = "token:"
)

// Config configures the downstream OIDC service.
type Config struct {
	Issuer   string
	Audience string

	// SigningKey signs downstream ID tokens. KeyID and Algorithm identify
	// it in the issued JWT's header.
	SigningKey *rsa.PrivateKey
	KeyID      string
	Algorithm  string

	// AEADKey is the 32-byte ChaCha20-Poly1305 key used to encrypt
	// authorization-code envelopes at rest. This is a gateway-wide secret,
	// not derived from any individual session (spec.md §9's "session
	// secret" is read here as "the gateway's own envelope-encryption
	// secret" — see the per-component design note in DESIGN.md).
	AEADKey [chacha20poly1305.KeySize]byte

	CodeLifetime    time.Duration
	IDTokenLifetime time.Duration

	Clients []Client

	// UsernameClaim and UIDClaim name the claims the issued ID token
	// carries the username and UID under, beyond the mandatory
	// preferred_username/sub claims (spec.md §6).
	UsernameClaim string
	UIDClaim      string
}

// IssuedToken is the result of a successful RedeemCode call.
type IssuedToken struct {
	JWT    string
	Claims map[string]any
}

// Service is the downstream OIDC provider.
type Service struct {
	cfg      Config
	kv       gatestore.KVStore
	clock    gateclock.Clock
	rnd      gateclock.RandReader
	clients  *registry
	aead     cipherAEAD
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// New returns a downstream Service. It returns an error only if cfg.AEADKey
// cannot construct a ChaCha20-Poly1305 AEAD, which for a correctly-sized key
// never happens.
func New(cfg Config, kv gatestore.KVStore, clock gateclock.Clock, rnd gateclock.RandReader) (*Service, error) {
	aead, err := chacha20poly1305.New(cfg.AEADKey[:])
	if err != nil {
		return nil, fmt.Errorf("downstream: constructing AEAD: %w", err)
	}
	return &Service{
		cfg: cfg, kv: kv, clock: clock, rnd: rnd,
		clients: newRegistry(cfg.Clients),
		aead:    aead,
	}, nil
}

// codeEnvelope is the JSON structure encrypted at rest under
// "oidc:<code.key>" (spec.md §4.4 issue_code).
type codeEnvelope struct {
	CodeSecret  string    `json:"code_secret"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	TokenKey    string    `json:"token_key"`
	CreatedAt   time.Time `json:"created_at"`
}

// IssueCode mints a fresh, one-shot authorization code referencing token,
// bound to clientID and redirectURI (spec.md §4.4 issue_code). redirectURI
// must be one of clientID's registered redirect URIs (RFC 8252 §7.3 loopback
// matching applies), per SPEC_FULL.md [ADD 4.4b].
func (s *Service) IssueCode(ctx context.Context, clientID, redirectURI string, token gatetoken.Token) (gatetoken.AuthorizationCode, error) {
	client, ok := s.clients.find(clientID)
	if !ok {
		return gatetoken.AuthorizationCode{}, &gatetoken.UnauthorizedClientError{ClientID: clientID}
	}
	if !client.allowsRedirect(redirectURI) {
		return gatetoken.AuthorizationCode{}, &gatetoken.UnauthorizedClientError{ClientID: clientID}
	}

	code, err := gatetoken.NewAuthorizationCode(s.rnd)
	if err != nil {
		return gatetoken.AuthorizationCode{}, err
	}

	envelope := codeEnvelope{
		CodeSecret: code.Secret, ClientID: clientID, RedirectURI: redirectURI,
		TokenKey: token.Key, CreatedAt: s.clock.Now(),
	}
	plaintext, err := json.Marshal(envelope)
	if err != nil {
		return gatetoken.AuthorizationCode{}, err
	}
	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return gatetoken.AuthorizationCode{}, err
	}

	if err := s.kv.Set(ctx, codeKVPrefix+code.Key, ciphertext, s.cfg.CodeLifetime); err != nil {
		return gatetoken.AuthorizationCode{}, err
	}

	logger.Infof("downstream: issued authorization code key=%s client=%s", code.Key, clientID)
	return code, nil
}

// RedeemCode exchanges code for a signed downstream ID token, in the exact
// order spec.md §4.4 redeem_code mandates. The code is consumed
// unconditionally once loaded, making redemption one-shot regardless of
// whether later checks succeed.
func (s *Service) RedeemCode(ctx context.Context, clientID, clientSecret, redirectURI string, code gatetoken.AuthorizationCode) (IssuedToken, error) {
	client, ok := s.clients.find(clientID)
	if !ok {
		return IssuedToken{}, &gatetoken.InvalidClientError{Message: "unknown client_id"}
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		return IssuedToken{}, &gatetoken.InvalidClientError{Message: "client secret mismatch"}
	}

	ciphertext, ok, err := s.kv.Get(ctx, codeKVPrefix+code.Key)
	if err != nil {
		return IssuedToken{}, err
	}
	if !ok {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "unknown or expired authorization code"}
	}
	defer func() {
		if derr := s.kv.Delete(ctx, codeKVPrefix+code.Key); derr != nil {
			logger.Debugf("downstream: failed to delete redeemed code %s: %v", code.Key, derr)
		}
	}()

	plaintext, err := s.decrypt(ciphertext)
	if err != nil {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "malformed authorization code envelope"}
	}
	var envelope codeEnvelope
	if err := json.Unmarshal(plaintext, &envelope); err != nil {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "malformed authorization code envelope"}
	}
	if subtle.ConstantTimeCompare([]byte(envelope.CodeSecret), []byte(code.Secret)) != 1 {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "code secret mismatch"}
	}

	if envelope.ClientID != clientID || envelope.RedirectURI != redirectURI {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "client_id or redirect_uri does not match the issued code"}
	}

	tokenRaw, ok, err := s.kv.Get(ctx, tokenKVPrefix+envelope.TokenKey)
	if err != nil {
		return IssuedToken{}, err
	}
	if !ok {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "referenced session token is no longer available"}
	}
	session, err := gatetoken.UnmarshalTokenData(tokenRaw)
	if err != nil {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "referenced session token is corrupt"}
	}
	if !session.Expires.IsZero() && !session.Expires.After(s.clock.Now()) {
		return IssuedToken{}, &gatetoken.InvalidGrantError{Message: "referenced session token has expired"}
	}

	return s.signIDToken(code, session)
}

func (s *Service) signIDToken(code gatetoken.AuthorizationCode, session gatetoken.TokenData) (IssuedToken, error) {
	now := s.clock.Now()
	claims := map[string]any{
		"iss":                s.cfg.Issuer,
		"aud":                s.cfg.Audience,
		"iat":                now.Unix(),
		"exp":                now.Add(s.cfg.IDTokenLifetime).Unix(),
		"jti":                code.Key,
		"sub":                session.Username,
		"preferred_username": session.Username,
		"scope":              "openid",
		"name":               session.Name,
	}
	if s.cfg.UsernameClaim != "" {
		claims[s.cfg.UsernameClaim] = session.Username
	}
	if s.cfg.UIDClaim != "" && session.UID != "" {
		claims[s.cfg.UIDClaim] = session.UID
	}

	opts := &jose.SignerOptions{}
	opts.WithHeader("kid", s.cfg.KeyID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.SignatureAlgorithm(s.cfg.Algorithm), Key: s.cfg.SigningKey}, opts)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("downstream: constructing signer: %w", err)
	}
	signed, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return IssuedToken{}, fmt.Errorf("downstream: signing ID token: %w", err)
	}

	return IssuedToken{JWT: signed, Claims: claims}, nil
}

func (s *Service) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Service) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("downstream: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return s.aead.Open(nil, nonce, sealed, nil)
}
