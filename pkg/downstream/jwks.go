package downstream

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKS returns the JSON Web Key Set publishing the service's public signing
// key, for exposure at a relying party's configured jwks_uri (spec.md §4.4a:
// downstream token consumers verify the issued ID token against this set).
func (s *Service) JWKS() ([]byte, error) {
	key, err := jwk.Import(&s.cfg.SigningKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("downstream: building JWK from signing key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, s.cfg.KeyID); err != nil {
		return nil, fmt.Errorf("downstream: setting kid: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, s.cfg.Algorithm); err != nil {
		return nil, fmt.Errorf("downstream: setting alg: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("downstream: setting key usage: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("downstream: adding key to set: %w", err)
	}

	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("downstream: marshaling JWKS: %w", err)
	}
	return raw, nil
}
