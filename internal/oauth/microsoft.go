package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultMicrosoftAuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	defaultMicrosoftTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// offline_access is what makes Microsoft issue a refresh token.
var microsoftScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/Mail.ReadWrite",
	"https://graph.microsoft.com/MailboxSettings.ReadWrite",
}

// MicrosoftConfig configures the Outlook provider.
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides for tests
	AuthURL  string
	TokenURL string
}

// MicrosoftProvider implements the Provider interface for Outlook accounts.
type MicrosoftProvider struct {
	config MicrosoftConfig
	client *http.Client
}

func NewMicrosoftProvider(config MicrosoftConfig) *MicrosoftProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultMicrosoftAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultMicrosoftTokenURL
	}
	return &MicrosoftProvider{
		config: config,
		client: &http.Client{Timeout: providerTimeout},
	}
}

func (p *MicrosoftProvider) Name() string {
	return "microsoft"
}

func (p *MicrosoftProvider) AuthCodeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"response_mode": {"query"},
		"scope":         {strings.Join(microsoftScopes, " ")},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

func (p *MicrosoftProvider) Exchange(ctx context.Context, code string) (*ProviderTokens, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}
	return requestTokens(ctx, p.client, p.config.TokenURL, form)
}

func (p *MicrosoftProvider) Refresh(ctx context.Context, refreshToken string) (*ProviderTokens, error) {
	form := url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"grant_type":    {"refresh_token"},
	}
	return requestTokens(ctx, p.client, p.config.TokenURL, form)
}

// Revoke is a no-op: the Microsoft identity platform has no token
// revocation endpoint for this flow. Tokens age out on their own once the
// local record is revoked.
func (p *MicrosoftProvider) Revoke(ctx context.Context, accessToken string) error {
	return nil
}

var _ Provider = (*MicrosoftProvider)(nil)
