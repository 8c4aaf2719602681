package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return key
}

func TestParsePrivateKey(t *testing.T) {
	t.Parallel()

	key := generateKey(t)
	encoded := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	parsed, err := ParsePrivateKey(encoded)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = ParsePrivateKey([]byte("not a key"))
	assert.ErrorIs(t, err, constants.ErrInvalidPrivateKey)
}

func TestNewJWTBearerSource_Validation(t *testing.T) {
	t.Parallel()

	key := generateKey(t)

	_, err := NewJWTBearerSource(&JWTConfig{Username: "u", PrivateKey: key})
	require.ErrorIs(t, err, constants.ErrClientIDRequired)

	_, err = NewJWTBearerSource(&JWTConfig{ClientID: "c", PrivateKey: key})
	require.ErrorIs(t, err, constants.ErrUsernameRequired)

	_, err = NewJWTBearerSource(&JWTConfig{ClientID: "c", Username: "u"})
	require.ErrorIs(t, err, constants.ErrInvalidPrivateKey)
}

func TestJWTBearerSource_Assertion(t *testing.T) {
	t.Parallel()

	key := generateKey(t)
	issued := time.Now().Truncate(time.Second)

	source, err := NewJWTBearerSource(&JWTConfig{
		LoginURL:   constants.SandboxLoginURL,
		ClientID:   "consumer-key",
		Username:   "integration@example.com",
		PrivateKey: key,
		Now:        func() time.Time { return issued },
	})
	require.NoError(t, err)

	assertion, err := source.Assertion()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(assertion, claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "consumer-key", claims.Issuer)
	assert.Equal(t, "integration@example.com", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{constants.SandboxLoginURL}, claims.Audience)
	assert.Equal(t, issued.Add(constants.JWTAssertionLifetime).Unix(), claims.ExpiresAt.Unix())
}

func TestJWTBearerSource_Token(t *testing.T) {
	t.Parallel()

	t.Run("exchanges assertion", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, constants.TokenPath, r.URL.Path)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, jwtBearerGrant, r.Form.Get("grant_type"))
			assert.NotEmpty(t, r.Form.Get("assertion"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Token{
				AccessToken: "00Djwt!token",
				InstanceURL: "https://acme.my.salesforce.com",
				ExpiresIn:   7200,
			})
		}))
		defer server.Close()

		source, err := NewJWTBearerSource(&JWTConfig{LoginURL: server.URL, ClientID: "c", Username: "u", PrivateKey: generateKey(t)})
		require.NoError(t, err)

		token, err := source.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "00Djwt!token", token.AccessToken)
		assert.Equal(t, "https://acme.my.salesforce.com", token.InstanceURL)
		assert.True(t, token.Valid())
	})

	t.Run("reports rejection", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"user hasn't approved this consumer"}`))
		}))
		defer server.Close()

		source, err := NewJWTBearerSource(&JWTConfig{LoginURL: server.URL, ClientID: "c", Username: "u", PrivateKey: generateKey(t)})
		require.NoError(t, err)

		_, err = source.Token(context.Background())
		require.ErrorIs(t, err, constants.ErrTokenRequestFailed)
		assert.Contains(t, err.Error(), "invalid_grant")
	})
}
