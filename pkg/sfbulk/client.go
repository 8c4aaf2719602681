package sfbulk

import (
	"context"
	"io"
	"time"
)

// Client is the entry point for Bulk API 2.0 operations.
type Client interface {
	// Jobs returns the job lifecycle client.
	Jobs() JobsClient
	// Credentials returns the provider used to authorize requests.
	Credentials() CredentialProvider
	// APIUsage returns the last API usage reported by the server, if any.
	APIUsage() (APIUsage, bool)
}

// JobsClient drives bulk jobs through their lifecycle. Every method that
// observes the server returns a fresh Job snapshot.
type JobsClient interface {
	Create(ctx context.Context, req CreateJobRequest) (Job, error)
	Upload(ctx context.Context, job Job, payload io.Reader) error
	Close(ctx context.Context, job Job) (Job, error)
	Poll(ctx context.Context, job Job) (Job, error)
	AwaitCompletion(ctx context.Context, job Job, pollInterval, maxWait time.Duration) (Job, error)
	FetchResults(ctx context.Context, job Job, opts *FetchOptions) (*ResultSet, error)
	Abort(ctx context.Context, job Job) (Job, error)
	Delete(ctx context.Context, job Job) error

	Get(ctx context.Context, kind JobKind, id string) (Job, error)
	List(ctx context.Context, kind JobKind) ([]Job, error)
	FetchQueryResultsParallel(ctx context.Context, job Job, opts *FetchOptions) ([]string, [][]string, error)

	Ingest(ctx context.Context, req CreateJobRequest, payload io.Reader) (*IngestResult, error)
	Query(ctx context.Context, soql string, opts *QueryOptions) (*QueryResult, error)
}

// CredentialProvider supplies the instance URL and bearer token for every
// request. Implementations must be safe for concurrent use and must redact
// the token in String.
type CredentialProvider interface {
	InstanceURL() string
	AccessToken() string
	String() string
}

// CredentialRefresher is implemented by providers that renew their token
// before it expires. The transport calls EnsureFresh ahead of each request.
type CredentialRefresher interface {
	EnsureFresh(ctx context.Context) error
}

// JobEventPublisher receives observed job transitions. Publishing is best-effort.
type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// RetryConfig configures the per-call retry policy. Zero values fall back to defaults.
type RetryConfig struct {
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; it doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps every computed delay.
	MaxBackoff time.Duration
	// JitterFraction adds up to this fraction of the delay at random. Zero
	// uses the default of 0.5; a negative value disables jitter.
	JitterFraction float64
	// MaxElapsed bounds the total time spent retrying one call; zero disables it.
	MaxElapsed time.Duration
	// MaxRetryAfter is the largest server Retry-After honoured as-is.
	MaxRetryAfter time.Duration
}

// Config represents client configuration for building a sfbulk.Client.
type Config struct {
	// Credentials authorizes every request. Required.
	Credentials CredentialProvider
	// APIVersion is the REST API version, e.g. "62.0".
	APIVersion string
	// HTTPTimeout bounds a single request/response cycle.
	HTTPTimeout time.Duration
	// UserAgent overrides the default User-Agent header.
	UserAgent string
	// Debug enables request/response logging through Logger.
	Debug bool
	// Logger receives structured log output. Nil discards logs.
	Logger Logger
	// RequestsPerSecond enables a client-side request limiter when positive.
	RequestsPerSecond float64
	RequestBurst      int

	Retry RetryConfig

	// PollInterval and MaxWait are the AwaitCompletion defaults.
	PollInterval time.Duration
	MaxWait      time.Duration
	// PollJitter is the +/- fraction applied to each poll interval.
	PollJitter float64

	// Publisher receives job transitions when set.
	Publisher JobEventPublisher
	// ParallelConcurrency bounds parallel result downloads.
	ParallelConcurrency int
}
