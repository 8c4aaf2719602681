package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuth2Config holds the settings for the OAuth2 grants the login service supports.
type OAuth2Config struct {
	// LoginURL is the login host; the token endpoint is derived from it.
	LoginURL     string
	ClientID     string
	ClientSecret string
	// Username and Password select the password grant. Password includes
	// the security token when the org requires one.
	Username     string
	Password     string
	RefreshToken string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// TokenURL returns the OAuth2 token endpoint.
func (c *OAuth2Config) TokenURL() string {
	loginURL := strings.TrimSuffix(c.LoginURL, "/")
	if loginURL == "" {
		loginURL = constants.DefaultLoginURL
	}

	return loginURL + constants.TokenPath
}

// OAuth2Source obtains tokens through golang.org/x/oauth2. The grant is
// chosen from the config: refresh token, then password, then client credentials.
type OAuth2Source struct {
	config *OAuth2Config
}

// NewOAuth2Source creates a token source.
func NewOAuth2Source(config *OAuth2Config) *OAuth2Source {
	return &OAuth2Source{config: config}
}

func (s *OAuth2Source) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		RedirectURL:  s.config.RedirectURL,
		Scopes:       s.config.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.config.TokenURL(),
			AuthURL:   strings.TrimSuffix(s.config.TokenURL(), "/token") + "/authorize",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (s *OAuth2Source) context(ctx context.Context) context.Context {
	httpClient := s.config.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = constants.ShortHTTPTimeout
	}

	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

// Token implements TokenSource.
func (s *OAuth2Source) Token(ctx context.Context) (*Token, error) {
	ctx = s.context(ctx)

	var (
		token *oauth2.Token
		err   error
	)

	switch {
	case s.config.RefreshToken != "":
		token, err = s.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: s.config.RefreshToken}).Token()
	case s.config.Username != "":
		token, err = s.oauthConfig().PasswordCredentialsToken(ctx, s.config.Username, s.config.Password)
	case s.config.ClientID != "" && s.config.ClientSecret != "":
		clientConfig := &clientcredentials.Config{
			ClientID:     s.config.ClientID,
			ClientSecret: s.config.ClientSecret,
			TokenURL:     s.config.TokenURL(),
			Scopes:       s.config.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		token, err = clientConfig.Token(ctx)
	default:
		return nil, constants.ErrNoTokenSource
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrTokenRequestFailed, err)
	}

	return fromOAuth2Token(token, s.config.RefreshToken)
}

// AuthCodeURL returns the browser URL for the authorization code flow.
func (s *OAuth2Source) AuthCodeURL(state string) string {
	return s.oauthConfig().AuthCodeURL(state)
}

// Exchange trades an authorization code for a token.
func (s *OAuth2Source) Exchange(ctx context.Context, code string) (*Token, error) {
	token, err := s.oauthConfig().Exchange(s.context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrTokenRequestFailed, err)
	}

	return fromOAuth2Token(token, "")
}

func fromOAuth2Token(token *oauth2.Token, previousRefresh string) (*Token, error) {
	if token == nil || token.AccessToken == "" {
		return nil, constants.ErrNoAccessToken
	}

	result := &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		InstanceURL:  extraString(token, "instance_url"),
		ID:           extraString(token, "id"),
		Scope:        extraString(token, "scope"),
		Signature:    extraString(token, "signature"),
		IssuedAt:     extraString(token, "issued_at"),
	}

	if result.RefreshToken == "" {
		result.RefreshToken = previousRefresh
	}

	if !token.Expiry.IsZero() {
		result.ExpiresIn = int(time.Until(token.Expiry).Seconds())
	}

	return result, nil
}

func extraString(token *oauth2.Token, key string) string {
	value, _ := token.Extra(key).(string)

	return value
}
