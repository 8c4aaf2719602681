package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

// TokenSource obtains a fresh token from the login service.
type TokenSource interface {
	Token(ctx context.Context) (*Token, error)
}

// StaticTokenSource always returns the same token. It suits tokens pasted
// in by a user, which cannot be renewed.
type StaticTokenSource struct {
	token *Token
}

// NewStaticTokenSource wraps a fixed token.
func NewStaticTokenSource(token *Token) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the wrapped token.
func (s *StaticTokenSource) Token(context.Context) (*Token, error) {
	if s.token == nil || s.token.AccessToken == "" {
		return nil, constants.ErrNoAccessToken
	}

	return s.token, nil
}

// RefreshingProvider serves the current Credentials and swaps in a new
// immutable value whenever the token is renewed.
type RefreshingProvider struct {
	source  TokenSource
	current atomic.Pointer[Credentials]
	store   *TokenStore
	mu      sync.Mutex
	logger  sfbulk.Logger
}

// ProviderOption configures a RefreshingProvider.
type ProviderOption func(*RefreshingProvider)

// WithProviderLogger logs token refreshes.
func WithProviderLogger(logger sfbulk.Logger) ProviderOption {
	return func(p *RefreshingProvider) {
		p.logger = logger
	}
}

// NewRefreshingProvider obtains an initial token from source.
func NewRefreshingProvider(ctx context.Context, source TokenSource, opts ...ProviderOption) (*RefreshingProvider, error) {
	if source == nil {
		return nil, constants.ErrNoTokenSource
	}

	provider := &RefreshingProvider{source: source, store: NewTokenStore()}
	for _, opt := range opts {
		opt(provider)
	}

	err := provider.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	return provider, nil
}

// Credentials returns the current immutable value.
func (p *RefreshingProvider) Credentials() *Credentials {
	return p.current.Load()
}

// InstanceURL implements sfbulk.CredentialProvider.
func (p *RefreshingProvider) InstanceURL() string {
	return p.current.Load().InstanceURL()
}

// AccessToken implements sfbulk.CredentialProvider.
func (p *RefreshingProvider) AccessToken() string {
	return p.current.Load().AccessToken()
}

// String implements sfbulk.CredentialProvider.
func (p *RefreshingProvider) String() string {
	return p.current.Load().String()
}

// EnsureFresh refreshes the token when it is missing or about to expire.
// Concurrent callers share a single refresh.
func (p *RefreshingProvider) EnsureFresh(ctx context.Context) error {
	if p.store.Get().Valid() {
		return nil
	}

	return p.refresh(ctx, false)
}

// Refresh obtains a new token and publishes new Credentials.
func (p *RefreshingProvider) Refresh(ctx context.Context) error {
	return p.refresh(ctx, true)
}

func (p *RefreshingProvider) refresh(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller may have refreshed while this one waited for the lock.
	if !force && p.store.Get().Valid() {
		return nil
	}

	token, err := p.source.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	instanceURL := token.InstanceURL
	if instanceURL == "" {
		previous := p.current.Load()
		if previous == nil {
			return constants.ErrNoInstanceURL
		}

		instanceURL = previous.InstanceURL()
	}

	credentials, err := NewCredentials(instanceURL, token.AccessToken)
	if err != nil {
		return fmt.Errorf("building credentials: %w", err)
	}

	p.store.Set(token)
	p.current.Store(credentials)

	if p.logger != nil {
		p.logger.Debug("Credentials refreshed", map[string]interface{}{
			"instance_url": instanceURL,
			"token":        RedactToken(token.AccessToken),
		})
	}

	return nil
}
