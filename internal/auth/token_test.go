package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToken_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token *Token
		valid bool
	}{
		{name: "nil token", token: nil, valid: false},
		{name: "empty access token", token: &Token{}, valid: false},
		{name: "no expiry", token: &Token{AccessToken: "00Dx!abc"}, valid: true},
		{name: "expires later", token: &Token{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}, valid: true},
		{name: "expires within buffer", token: &Token{AccessToken: "t", ExpiresAt: time.Now().Add(10 * time.Second)}, valid: false},
		{name: "expired", token: &Token{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Minute)}, valid: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.valid, testCase.token.Valid())
		})
	}
}

func TestTokenStore(t *testing.T) {
	t.Parallel()

	store := NewTokenStore()
	assert.Nil(t, store.Get())

	token := &Token{AccessToken: "first"}
	store.Set(token)
	assert.Same(t, token, store.Get())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			store.Set(&Token{AccessToken: "concurrent"})
			_ = store.Get()
		}()
	}

	wg.Wait()
	assert.Equal(t, "concurrent", store.Get().AccessToken)

	store.Clear()
	assert.Nil(t, store.Get())
}
