package client

import (
	"context"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/internal/http"
	"github.com/fivetwenty-io/sfbulk/internal/logging"
	"github.com/fivetwenty-io/sfbulk/internal/retry"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

// apiVersioned is implemented by credential providers pinned to an API version.
type apiVersioned interface {
	APIVersion() string
}

// Client implements the sfbulk.Client interface.
type Client struct {
	httpClient  *http.Client
	credentials sfbulk.CredentialProvider
	logger      sfbulk.Logger
	policy      *retry.Policy
	jobs        *JobsClient
}

// createHTTPClientOptions builds HTTP client options from config.
func createHTTPClientOptions(config *sfbulk.Config, logger sfbulk.Logger) []http.Option {
	httpOpts := []http.Option{http.WithLogger(logger)}

	if config.Debug {
		httpOpts = append(httpOpts, http.WithDebug(true))
	}

	if config.UserAgent != "" {
		httpOpts = append(httpOpts, http.WithUserAgent(config.UserAgent))
	}

	if config.HTTPTimeout > 0 {
		httpOpts = append(httpOpts, http.WithTimeout(config.HTTPTimeout))
	}

	if config.RequestsPerSecond > 0 {
		httpOpts = append(httpOpts, http.WithRateLimit(config.RequestsPerSecond, config.RequestBurst))
	}

	return httpOpts
}

// resolveAPIVersion prefers the config, then the credentials, then the default.
func resolveAPIVersion(config *sfbulk.Config) string {
	if config.APIVersion != "" {
		return config.APIVersion
	}

	if versioned, ok := config.Credentials.(apiVersioned); ok && versioned.APIVersion() != "" {
		return versioned.APIVersion()
	}

	return constants.DefaultAPIVersion
}

// New creates a new Bulk API client.
func New(_ context.Context, config *sfbulk.Config) (*Client, error) {
	if config == nil {
		return nil, sfbulk.ErrConfigRequired
	}

	if config.Credentials == nil {
		return nil, sfbulk.ErrCredentialsRequired
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	httpClient := http.NewClient(config.Credentials, createHTTPClientOptions(config, logger)...)
	policy := retry.New(config.Retry, retry.WithLogger(logger))

	jobs := NewJobsClient(httpClient, policy, resolveAPIVersion(config),
		WithJobsLogger(logger),
		WithPolling(config.PollInterval, config.MaxWait, config.PollJitter),
		WithParallelConcurrency(config.ParallelConcurrency),
		WithPublisher(config.Publisher),
	)

	return &Client{
		httpClient:  httpClient,
		credentials: config.Credentials,
		logger:      logger,
		policy:      policy,
		jobs:        jobs,
	}, nil
}

// Jobs implements sfbulk.Client.Jobs.
func (c *Client) Jobs() sfbulk.JobsClient {
	return c.jobs
}

// Credentials implements sfbulk.Client.Credentials.
func (c *Client) Credentials() sfbulk.CredentialProvider {
	return c.credentials
}

// APIUsage implements sfbulk.Client.APIUsage.
func (c *Client) APIUsage() (sfbulk.APIUsage, bool) {
	return c.httpClient.LastAPIUsage()
}

// RetryConfig returns the effective retry settings after defaults are applied.
func (c *Client) RetryConfig() sfbulk.RetryConfig {
	return c.policy.Config()
}
