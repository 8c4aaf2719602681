// Package sfclient provides the main entry point for creating Bulk API 2.0 clients.
package sfclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/fivetwenty-io/sfbulk/internal/auth"
	"github.com/fivetwenty-io/sfbulk/internal/client"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

// Option adjusts the configuration built by the convenience constructors.
type Option func(*sfbulk.Config)

// WithAPIVersion pins the REST API version.
func WithAPIVersion(version string) Option {
	return func(c *sfbulk.Config) {
		c.APIVersion = version
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger sfbulk.Logger) Option {
	return func(c *sfbulk.Config) {
		c.Logger = logger
	}
}

// WithPublisher publishes observed job transitions.
func WithPublisher(publisher sfbulk.JobEventPublisher) Option {
	return func(c *sfbulk.Config) {
		c.Publisher = publisher
	}
}

// WithRetry replaces the retry settings.
func WithRetry(retry sfbulk.RetryConfig) Option {
	return func(c *sfbulk.Config) {
		c.Retry = retry
	}
}

// WithConfig copies every non-credential setting from base.
func WithConfig(base sfbulk.Config) Option {
	return func(c *sfbulk.Config) {
		credentials := c.Credentials
		*c = base
		c.Credentials = credentials
	}
}

// New creates a new Bulk API client from a complete configuration.
func New(ctx context.Context, config *sfbulk.Config) (sfbulk.Client, error) {
	if config == nil {
		return nil, sfbulk.ErrConfigRequired
	}

	if config.Credentials == nil {
		return nil, sfbulk.ErrCredentialsRequired
	}

	c, err := client.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create new client: %w", err)
	}

	return c, nil
}

func newWithCredentials(ctx context.Context, credentials sfbulk.CredentialProvider, opts []Option) (sfbulk.Client, error) {
	config := &sfbulk.Config{}
	for _, opt := range opts {
		opt(config)
	}

	config.Credentials = credentials

	return New(ctx, config)
}

func newWithSource(ctx context.Context, source auth.TokenSource, opts []Option) (sfbulk.Client, error) {
	provider, err := auth.NewRefreshingProvider(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}

	return newWithCredentials(ctx, provider, opts)
}

// NewWithToken creates a new client with an instance URL and an existing session token.
func NewWithToken(ctx context.Context, instanceURL, token string, opts ...Option) (sfbulk.Client, error) {
	credentials, err := auth.NewCredentials(instanceURL, token)
	if err != nil {
		return nil, err
	}

	return newWithCredentials(ctx, credentials, opts)
}

// NewWithJWT creates a new client using the OAuth2 JWT bearer flow. The
// private key is PEM encoded and belongs to the connected app certificate.
func NewWithJWT(ctx context.Context, loginURL, clientID, username string, privateKeyPEM []byte, opts ...Option) (sfbulk.Client, error) {
	key, err := auth.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	source, err := auth.NewJWTBearerSource(&auth.JWTConfig{
		LoginURL:   normalizeLoginURL(loginURL),
		ClientID:   clientID,
		Username:   username,
		PrivateKey: key,
	})
	if err != nil {
		return nil, err
	}

	return newWithSource(ctx, source, opts)
}

// NewWithClientCredentials creates a new client using the OAuth2 client credentials flow.
// loginURL must be the org's My Domain URL for this flow.
func NewWithClientCredentials(ctx context.Context, loginURL, clientID, clientSecret string, opts ...Option) (sfbulk.Client, error) {
	return newWithSource(ctx, auth.NewOAuth2Source(&auth.OAuth2Config{
		LoginURL:     normalizeLoginURL(loginURL),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}), opts)
}

// NewWithRefreshToken creates a new client from a previously issued refresh token.
func NewWithRefreshToken(ctx context.Context, loginURL, clientID, clientSecret, refreshToken string, opts ...Option) (sfbulk.Client, error) {
	return newWithSource(ctx, auth.NewOAuth2Source(&auth.OAuth2Config{
		LoginURL:     normalizeLoginURL(loginURL),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
	}), opts)
}

// NewWithPassword creates a new client using the username/password flow.
// The password must include the security token when the org requires one.
func NewWithPassword(ctx context.Context, loginURL, clientID, clientSecret, username, password string, opts ...Option) (sfbulk.Client, error) {
	return newWithSource(ctx, auth.NewOAuth2Source(&auth.OAuth2Config{
		LoginURL:     normalizeLoginURL(loginURL),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Username:     username,
		Password:     password,
	}), opts)
}

// normalizeLoginURL adds a missing scheme and strips the trailing slash.
func normalizeLoginURL(loginURL string) string {
	loginURL = strings.TrimSuffix(strings.TrimSpace(loginURL), "/")
	if loginURL != "" && !strings.HasPrefix(loginURL, "http://") && !strings.HasPrefix(loginURL, "https://") {
		loginURL = "https://" + loginURL
	}

	return loginURL
}
