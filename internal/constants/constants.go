package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// API defaults.
const (
	// DefaultAPIVersion is the REST API version used when none is configured.
	DefaultAPIVersion = "62.0"

	// DefaultLoginURL is the production login endpoint.
	DefaultLoginURL = "https://login.salesforce.com"

	// SandboxLoginURL is the sandbox login endpoint.
	SandboxLoginURL = "https://test.salesforce.com"

	// TokenPath is appended to a login URL to reach the OAuth2 token endpoint.
	TokenPath = "/services/oauth2/token"

	// DefaultUserAgent identifies this client on the wire.
	DefaultUserAgent = "sfbulk-go/1.0"
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as token exchange.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry defaults.
const (
	// DefaultRetryMaxAttempts is the default number of attempts per call, first try included.
	DefaultRetryMaxAttempts = 3

	// DefaultRetryBaseBackoff is the delay before the first retry.
	DefaultRetryBaseBackoff = 500 * time.Millisecond

	// DefaultRetryMaxBackoff caps any single computed delay.
	DefaultRetryMaxBackoff = 30 * time.Second

	// DefaultRetryJitterFraction is the additive jitter applied to backoff delays.
	DefaultRetryJitterFraction = 0.5

	// DefaultMaxRetryAfter is the largest server Retry-After that is honoured.
	DefaultMaxRetryAfter = 60 * time.Second
)

// Job polling.
const (
	// DefaultPollInterval is the cadence of status requests while awaiting a job.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxWait bounds how long AwaitCompletion waits for a terminal state.
	DefaultMaxWait = time.Hour

	// DefaultPollJitter is the fraction of the poll interval used as +/- jitter.
	DefaultPollJitter = 0.1
)

// Payload and result limits.
const (
	// MaxUploadBytes is the largest CSV payload accepted by a single upload.
	MaxUploadBytes = 150 * 1024 * 1024

	// DefaultParallelConcurrency limits concurrent result downloads.
	DefaultParallelConcurrency = 4

	// MaxErrorMessageLength bounds the length of sanitized error messages.
	MaxErrorMessageLength = 500

	// TokenDisplayPrefix is the number of token characters shown when redacting.
	TokenDisplayPrefix = 5

	// JWTAssertionLifetime is the validity of a JWT bearer assertion.
	JWTAssertionLifetime = 3 * time.Minute
)

// Job events.
const (
	// DefaultEventSubjectPrefix is the NATS subject prefix for job events.
	DefaultEventSubjectPrefix = "sfbulk.jobs"
)

// Wire headers.
const (
	HeaderLocator      = "Sforce-Locator"
	HeaderLimitInfo    = "Sforce-Limit-Info"
	HeaderRequestID    = "X-Request-Id"
	HeaderRetryAfter   = "Retry-After"
	ContentTypeCSV     = "text/csv"
	ContentTypeJSON    = "application/json"
	AcceptEncodingList = "gzip, deflate"
)

// CLI settings.
const (
	// ConfigDirName is the directory under the user's home holding CLI state.
	ConfigDirName = ".sfbulk"

	// ConfigFileName is the CLI configuration file inside ConfigDirName.
	ConfigFileName = "config.yml"

	// EnvPrefix is the prefix of environment variables read by the CLI.
	EnvPrefix = "SFBULK"

	// MinimumArgumentCount is the argument count of KEY VALUE commands.
	MinimumArgumentCount = 2
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatCSV   = "csv"
)
