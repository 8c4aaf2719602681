package sfclient_test

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

	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/fivetwenty-io/sfbulk/pkg/sfclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionToken = "00Dxx0000001gPL!AQ4AQ.session_token_value"

// newOrg serves the token endpoint and a minimal job listing.
func newOrg(t *testing.T) *httptest.Server {
	t.Helper()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")

		switch request.URL.Path {
		case "/services/oauth2/token":
			_ = json.NewEncoder(writer).Encode(map[string]interface{}{
				"access_token": sessionToken,
				"instance_url": server.URL,
				"token_type":   "Bearer",
				"issued_at":    "1767323045000",
			})
		case "/services/data/v62.0/jobs/ingest":
			if request.Header.Get("Authorization") != "Bearer "+sessionToken {
				writer.WriteHeader(http.StatusUnauthorized)

				return
			}

			writer.Header().Set("Sforce-Limit-Info", "api-usage=3/15000")
			_, _ = writer.Write([]byte(`{"done":true,"records":[{"id":"7505g000001","operation":"insert","object":"Account","state":"Open"}]}`))
		default:
			writer.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := sfclient.New(context.Background(), nil)
	require.ErrorIs(t, err, sfbulk.ErrConfigRequired)

	_, err = sfclient.New(context.Background(), &sfbulk.Config{})
	require.ErrorIs(t, err, sfbulk.ErrCredentialsRequired)
}

func TestNewWithToken(t *testing.T) {
	t.Parallel()

	org := newOrg(t)

	client, err := sfclient.NewWithToken(context.Background(), org.URL, sessionToken, sfclient.WithAPIVersion("62.0"))
	require.NoError(t, err)
	assert.NotContains(t, client.Credentials().String(), "session_token_value")

	jobs, err := client.Jobs().List(context.Background(), sfbulk.JobKindIngest)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, sfbulk.JobKindIngest, jobs[0].Kind)

	usage, ok := client.APIUsage()
	require.True(t, ok)
	assert.Equal(t, sfbulk.APIUsage{Used: 3, Limit: 15000}, usage)

	_, err = sfclient.NewWithToken(context.Background(), org.URL, "")
	require.Error(t, err)
}

func TestNewWithOAuth2Flows(t *testing.T) {
	t.Parallel()

	org := newOrg(t)
	ctx := context.Background()

	constructors := map[string]func() (sfbulk.Client, error){
		"client credentials": func() (sfbulk.Client, error) {
			return sfclient.NewWithClientCredentials(ctx, org.URL, "client-id", "client-secret")
		},
		"refresh token": func() (sfbulk.Client, error) {
			return sfclient.NewWithRefreshToken(ctx, org.URL, "client-id", "client-secret", "5Aep861refresh")
		},
		"password": func() (sfbulk.Client, error) {
			return sfclient.NewWithPassword(ctx, org.URL, "client-id", "client-secret", "user@example.com", "passwordTOKEN")
		},
	}

	for name, construct := range constructors {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client, err := construct()
			require.NoError(t, err)
			assert.Equal(t, org.URL, client.Credentials().InstanceURL())

			_, err = client.Jobs().List(ctx, sfbulk.JobKindIngest)
			require.NoError(t, err)
		})
	}
}

func TestNewWithJWT(t *testing.T) {
	t.Parallel()

	org := newOrg(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	client, err := sfclient.NewWithJWT(context.Background(), org.URL, "client-id", "user@example.com", keyPEM)
	require.NoError(t, err)
	assert.Equal(t, org.URL, client.Credentials().InstanceURL())

	_, err = sfclient.NewWithJWT(context.Background(), org.URL, "client-id", "user@example.com", []byte("not a key"))
	require.Error(t, err)
}
