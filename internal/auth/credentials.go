// Package auth obtains and holds the bearer credentials used to authorize
// Bulk API requests.
package auth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

// Credentials is an immutable instance URL and bearer token pair. A refresh
// produces a new value; an existing one is never edited.
type Credentials struct {
	instanceURL string
	accessToken string
	apiVersion  string
}

// NewCredentials validates and normalises an instance URL and token.
func NewCredentials(instanceURL, accessToken string) (*Credentials, error) {
	instanceURL = strings.TrimSuffix(strings.TrimSpace(instanceURL), "/")
	if instanceURL == "" {
		return nil, sfbulk.ErrInstanceURLRequired
	}

	if !strings.HasPrefix(instanceURL, "http://") && !strings.HasPrefix(instanceURL, "https://") {
		instanceURL = "https://" + instanceURL
	}

	parsed, err := url.Parse(instanceURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", sfbulk.ErrInstanceURLRequired, instanceURL)
	}

	if accessToken == "" {
		return nil, sfbulk.ErrAccessTokenRequired
	}

	return &Credentials{instanceURL: instanceURL, accessToken: accessToken}, nil
}

// WithAPIVersion returns a copy pinned to an API version.
func (c *Credentials) WithAPIVersion(version string) *Credentials {
	clone := *c
	clone.apiVersion = version

	return &clone
}

// InstanceURL returns the org's instance URL without a trailing slash.
func (c *Credentials) InstanceURL() string {
	return c.instanceURL
}

// AccessToken returns the bearer token.
func (c *Credentials) AccessToken() string {
	return c.accessToken
}

// APIVersion returns the pinned API version, or "".
func (c *Credentials) APIVersion() string {
	return c.apiVersion
}

// String never reveals more than a short token prefix.
func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials{instance_url=%s, access_token=%s}", c.instanceURL, RedactToken(c.accessToken))
}

// GoString keeps %#v from printing the token.
func (c *Credentials) GoString() string {
	return c.String()
}

// MarshalJSON emits the redacted form.
func (c *Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"instance_url": c.instanceURL,
		"access_token": RedactToken(c.accessToken),
		"api_version":  c.apiVersion,
	})
}

// RedactToken keeps a fixed prefix of a secret and hides the rest.
func RedactToken(token string) string {
	if len(token) <= constants.TokenDisplayPrefix {
		return "[REDACTED]"
	}

	return token[:constants.TokenDisplayPrefix] + "...[REDACTED]"
}
