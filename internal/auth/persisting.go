package auth

import (
	"context"

	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

// TokenPersister stores tokens so a later process can reuse them.
type TokenPersister interface {
	SaveToken(token *Token) error
}

// PersistingSource saves every token obtained from the wrapped source.
// A failed save is logged and does not fail the request.
type PersistingSource struct {
	source    TokenSource
	persister TokenPersister
	logger    sfbulk.Logger
}

// NewPersistingSource wraps source.
func NewPersistingSource(source TokenSource, persister TokenPersister, logger sfbulk.Logger) *PersistingSource {
	return &PersistingSource{source: source, persister: persister, logger: logger}
}

// Token implements TokenSource.
func (s *PersistingSource) Token(ctx context.Context) (*Token, error) {
	token, err := s.source.Token(ctx)
	if err != nil {
		return nil, err
	}

	if s.persister == nil {
		return token, nil
	}

	err = s.persister.SaveToken(token)
	if err != nil && s.logger != nil {
		s.logger.Warn("Failed to persist token", map[string]interface{}{"error": err.Error()})
	}

	return token, nil
}
