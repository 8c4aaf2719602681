package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// JWTConfig configures the JWT bearer flow used by server-to-server integrations.
type JWTConfig struct {
	LoginURL   string
	ClientID   string
	Username   string
	PrivateKey *rsa.PrivateKey
	HTTPClient *http.Client
	Now        func() time.Time
}

// ParsePrivateKey decodes a PEM encoded RSA private key.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrInvalidPrivateKey, err)
	}

	return key, nil
}

// JWTBearerSource signs a short-lived assertion and trades it for an access token.
type JWTBearerSource struct {
	config *JWTConfig
}

// NewJWTBearerSource validates the config and returns a token source.
func NewJWTBearerSource(config *JWTConfig) (*JWTBearerSource, error) {
	if config.ClientID == "" {
		return nil, constants.ErrClientIDRequired
	}

	if config.Username == "" {
		return nil, constants.ErrUsernameRequired
	}

	if config.PrivateKey == nil {
		return nil, constants.ErrInvalidPrivateKey
	}

	return &JWTBearerSource{config: config}, nil
}

func (s *JWTBearerSource) loginURL() string {
	loginURL := strings.TrimSuffix(s.config.LoginURL, "/")
	if loginURL == "" {
		return constants.DefaultLoginURL
	}

	return loginURL
}

func (s *JWTBearerSource) now() time.Time {
	if s.config.Now != nil {
		return s.config.Now()
	}

	return time.Now()
}

// Assertion returns the signed RS256 assertion.
func (s *JWTBearerSource) Assertion() (string, error) {
	issued := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.config.ClientID,
		Subject:   s.config.Username,
		Audience:  jwt.ClaimStrings{s.loginURL()},
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(constants.JWTAssertionLifetime)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.config.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}

	return signed, nil
}

// Token implements TokenSource.
func (s *JWTBearerSource) Token(ctx context.Context) (*Token, error) {
	assertion, err := s.Assertion()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL()+constants.TokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", constants.ContentTypeJSON)

	httpClient := s.config.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = constants.ShortHTTPTimeout
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrTokenRequestFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}

		_ = json.Unmarshal(body, &failure)

		return nil, fmt.Errorf("%w: status %d: %s %s", constants.ErrTokenRequestFailed, resp.StatusCode, failure.Error, failure.ErrorDescription)
	}

	var token Token

	err = json.Unmarshal(body, &token)
	if err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, constants.ErrNoAccessToken
	}

	if token.ExpiresIn > 0 {
		token.ExpiresAt = s.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	return &token, nil
}
