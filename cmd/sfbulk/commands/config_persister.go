package commands

import (
	"sync"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/auth"
)

// ConfigPersister implements the auth.TokenPersister interface.
type ConfigPersister struct {
	mutex sync.Mutex
}

var _ auth.TokenPersister = (*ConfigPersister)(nil)

// NewConfigPersister creates a new config persister.
func NewConfigPersister() *ConfigPersister {
	return &ConfigPersister{}
}

// SaveToken stores a freshly obtained session in the config file.
func (p *ConfigPersister) SaveToken(token *auth.Token) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	config := loadConfig()
	config.AccessToken = token.AccessToken

	if token.InstanceURL != "" {
		config.InstanceURL = token.InstanceURL
	}

	if token.RefreshToken != "" {
		config.RefreshToken = token.RefreshToken
	}

	config.TokenExpiresAt = nil
	if !token.ExpiresAt.IsZero() {
		expiresAt := token.ExpiresAt.UTC()
		config.TokenExpiresAt = &expiresAt
	}

	now := time.Now().UTC()
	config.LastRefreshed = &now

	return saveConfigStruct(config)
}
