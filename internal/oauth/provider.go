// Package oauth implements the provider credential lifecycle: acquiring
// tokens through the authorization-code flow, storing them encrypted,
// refreshing them near expiry, and revoking them on disconnect.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Token operations against a provider must complete within this bound;
// a timeout is treated as the corresponding failure, never as success.
const providerTimeout = 10 * time.Second

// ProviderTokens is the result of a code exchange or refresh
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not issue one
	ExpiresAt    time.Time
	Scopes       []string
}

// Provider is a third-party email service exposing an OAuth2
// authorization-code flow.
type Provider interface {
	// Name is the stable identifier used in routes and storage ("google")
	Name() string
	// AuthCodeURL builds the consent URL carrying the anti-CSRF state
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for tokens
	Exchange(ctx context.Context, code string) (*ProviderTokens, error)
	// Refresh mints a new access token from a refresh token
	Refresh(ctx context.Context, refreshToken string) (*ProviderTokens, error)
	// Revoke invalidates the credential upstream; best effort
	Revoke(ctx context.Context, accessToken string) error
}

// tokenResponse is the common shape of OAuth2 token endpoints
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// requestTokens POSTs a form to a token endpoint and parses the response.
// Shared by the concrete providers; both Google and Microsoft speak the
// same token endpoint dialect.
func requestTokens(ctx context.Context, client *http.Client, endpoint string, form url.Values) (*ProviderTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &oauthErr)
		// invalid_grant means the grant itself is dead (revoked or expired
		// refresh token), which no retry can fix.
		if oauthErr.Error == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", ErrReauthorizationRequired, string(body))
		}
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	tokens := &ProviderTokens{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}
	if parsed.Scope != "" {
		tokens.Scopes = strings.Fields(parsed.Scope)
	}

	return tokens, nil
}
