// Package upstream implements the upstream OIDC provider driver: building
// the authorize redirect and redeeming the authorization code for verified
// user information (spec.md §4.1, C4).
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tokengateway/core/pkg/gatetoken"
	"github.com/tokengateway/core/pkg/logger"
	"github.com/tokengateway/core/pkg/oidcverify"
)

// HTTPClient is the minimal HTTP surface this package depends on. Satisfied
// by *http.Client configured with the caller's own timeout (spec.md §5:
// "HTTP calls to upstream providers inherit a client-level timeout").
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the upstream OIDC provider driver for one issuer.
type Config struct {
	ClientID     string
	ClientSecret string

	LoginURL    string // authorization endpoint
	TokenURL    string // token endpoint
	RedirectURL string // our own callback URL, registered with the provider

	// Scopes are appended after the mandatory leading "openid" scope.
	Scopes []string

	// LoginParams are merged into the authorize redirect's query string and
	// may override any default parameter except response_type.
	LoginParams map[string]string

	// UsernameClaim and UIDClaim name the ID token claims that carry the
	// user's username and numeric UID. LDAP-based resolution of either is
	// out of scope (spec.md §1); both are read directly from claims.
	UsernameClaim string
	UIDClaim      string

	// GroupsClaim names the ID token claim carrying group membership, if
	// any. Empty means no groups are extracted from the token.
	GroupsClaim string
}

// UserInfo is the user information extracted from a verified upstream ID
// token (spec.md §4.1, TokenUserInfo).
type UserInfo struct {
	Username string
	Name     string
	Email    string
	UID      string
	Groups   []string
}

// Provider drives the upstream OIDC authorization-code flow.
type Provider struct {
	cfg      Config
	client   HTTPClient
	verifier *oidcverify.Verifier
}

// New returns a Provider for the given config, HTTP client, and verifier.
func New(cfg Config, client HTTPClient, verifier *oidcverify.Verifier) *Provider {
	return &Provider{cfg: cfg, client: client, verifier: verifier}
}

// RedirectURL builds the authorization-endpoint URL the user's browser
// should be sent to, per spec.md §4.1 redirect_url(state).
func (p *Provider) RedirectURL(state string) string {
	scopes := append([]string{"openid"}, p.cfg.Scopes...)

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", p.cfg.ClientID)
	params.Set("redirect_uri", p.cfg.RedirectURL)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	for k, v := range p.cfg.LoginParams {
		if k == "response_type" {
			continue
		}
		params.Set(k, v)
	}

	logger.Infof("upstream: redirecting user to %s for authentication", p.cfg.LoginURL)
	return p.cfg.LoginURL + "?" + params.Encode()
}

// tokenResponse is the token endpoint's JSON response shape.
type tokenResponse struct {
	IDToken          string `json:"id_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CreateUserInfo redeems an authorization code for a verified upstream ID
// token and returns the user information it carries, per spec.md §4.1
// create_user_info. session is accepted for interface symmetry with other
// providers but is unused here, matching the upstream OIDC flow (no
// provider-specific session state is needed to redeem a code).
func (p *Provider) CreateUserInfo(ctx context.Context, code, state string, session string) (UserInfo, error) {
	_ = state // CSRF state is validated by the caller before this is invoked.
	_ = session

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURL)

	logger.Infof("upstream: retrieving ID token from %s", p.cfg.TokenURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return UserInfo{}, &gatetoken.OIDCError{Message: "failed to build token request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return UserInfo{}, &gatetoken.OIDCError{Message: "token request failed", Cause: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("upstream: failed to close token response body: %v", cerr)
		}
	}()

	var result tokenResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	// Response handling, in the exact order spec.md §4.1 mandates.
	if decodeErr != nil {
		if resp.StatusCode != http.StatusOK {
			return UserInfo{}, &gatetoken.OIDCError{Message: fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode)}
		}
		return UserInfo{}, &gatetoken.OIDCError{Message: fmt.Sprintf("response from %s not valid JSON", p.cfg.TokenURL), Cause: decodeErr}
	}
	if resp.StatusCode != http.StatusOK && result.Error != "" {
		return UserInfo{}, &gatetoken.OIDCError{Message: result.Error + ": " + result.ErrorDescription}
	}
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, &gatetoken.OIDCError{Message: fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode)}
	}
	if result.IDToken == "" {
		return UserInfo{}, &gatetoken.OIDCError{Message: fmt.Sprintf("no id_token in token reply from %s", p.cfg.TokenURL)}
	}

	verified, err := p.verifier.Verify(ctx, result.IDToken)
	if err != nil {
		return UserInfo{}, &gatetoken.OIDCError{Message: "OpenID Connect token verification failed", Cause: err}
	}

	return p.userInfoFromClaims(verified)
}

func (p *Provider) userInfoFromClaims(verified oidcverify.VerifiedToken) (UserInfo, error) {
	username, ok := verified.Claims[p.cfg.UsernameClaim].(string)
	if !ok || username == "" {
		return UserInfo{}, &gatetoken.MissingClaimsError{Claim: p.cfg.UsernameClaim}
	}

	info := UserInfo{Username: username}
	if name, ok := verified.Claims["name"].(string); ok {
		info.Name = name
	}
	if email, ok := verified.Claims["email"].(string); ok {
		info.Email = email
	}
	if p.cfg.UIDClaim != "" {
		if uid, ok := verified.Claims[p.cfg.UIDClaim].(string); ok {
			info.UID = uid
		}
	}
	if p.cfg.GroupsClaim != "" {
		if raw, ok := verified.Claims[p.cfg.GroupsClaim].([]any); ok {
			for _, g := range raw {
				if s, ok := g.(string); ok {
					info.Groups = append(info.Groups, s)
				}
			}
		}
	}
	return info, nil
}
