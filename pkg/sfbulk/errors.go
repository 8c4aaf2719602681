package sfbulk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies a failure. Transport assigns it once; upper layers never change it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindHTTP
	KindRateLimited
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindPreconditionFailed
	KindTimeout
	KindConnection
	KindSerialization
	KindBusinessLogic
	KindJobState
	KindRetriesExhausted
	KindWaitTimeout
	KindValidation
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "Unknown",
	KindHTTP:               "Http",
	KindRateLimited:        "RateLimited",
	KindAuthentication:     "Authentication",
	KindAuthorization:      "Authorization",
	KindNotFound:           "NotFound",
	KindPreconditionFailed: "PreconditionFailed",
	KindTimeout:            "Timeout",
	KindConnection:         "Connection",
	KindSerialization:      "Serialization",
	KindBusinessLogic:      "BusinessLogic",
	KindJobState:           "JobStateError",
	KindRetriesExhausted:   "RetriesExhausted",
	KindWaitTimeout:        "WaitTimeout",
	KindValidation:         "Validation",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// APIError is one entry of a Salesforce error payload.
type APIError struct {
	ErrorCode string   `json:"errorCode"        yaml:"error_code"`
	Message   string   `json:"message"          yaml:"message"`
	Fields    []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %s)", e.ErrorCode, e.Message, strings.Join(e.Fields, ", "))
	}

	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

// ParseAPIErrors decodes an error body, which the server sends either as an
// array of errors or as a single error object.
func ParseAPIErrors(data []byte) []APIError {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	var list []APIError
	if strings.HasPrefix(trimmed, "[") {
		if json.Unmarshal(data, &list) == nil {
			return nonEmptyAPIErrors(list)
		}

		return nil
	}

	var single APIError
	if json.Unmarshal(data, &single) == nil {
		return nonEmptyAPIErrors([]APIError{single})
	}

	return nil
}

func nonEmptyAPIErrors(list []APIError) []APIError {
	out := list[:0]

	for _, apiErr := range list {
		if apiErr.ErrorCode != "" || apiErr.Message != "" {
			out = append(out, apiErr)
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

// Error is the classified failure returned by every layer of the client.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	// RetryAfter is set when the server supplied a Retry-After hint.
	RetryAfter *time.Duration
	APIErrors  []APIError
	// Attempts is the number of attempts made, set on RetriesExhausted.
	Attempts int
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString(e.Kind.String())

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}

	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case len(e.APIErrors) > 0:
		b.WriteString(": ")
		b.WriteString(e.APIErrors[0].Error())
	}

	if e.Kind == KindRetriesExhausted && e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry policy may try the call again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindConnection:
		return true
	case KindHTTP:
		return IsTransientStatus(e.StatusCode)
	default:
		return false
	}
}

// FirstAPIError returns the first server error entry or nil.
func (e *Error) FirstAPIError() *APIError {
	if len(e.APIErrors) > 0 {
		return &e.APIErrors[0]
	}

	return nil
}

// IsTransientStatus reports whether an HTTP status is a retryable server failure.
func IsTransientStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// NewJobStateError reports an operation attempted against a job in the wrong state.
func NewJobStateError(op string, job Job, expected string) *Error {
	return &Error{
		Kind:    KindJobState,
		Op:      op,
		Message: fmt.Sprintf("job %s is %s, expected %s", job.ID, job.State, expected),
	}
}

// NewValidationError reports invalid caller input detected before any request.
func NewValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// AsError extracts the outermost classified error.
func AsError(err error) (*Error, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified, true
	}

	return nil, false
}

// KindOf returns the kind of the outermost classified error, or KindUnknown.
func KindOf(err error) ErrorKind {
	if classified, ok := AsError(err); ok {
		return classified.Kind
	}

	return KindUnknown
}

// IsRetryable reports whether err is a classified, retryable failure.
func IsRetryable(err error) bool {
	classified, ok := AsError(err)

	return ok && classified.Retryable()
}

// IsRateLimited checks if the error is a 429 rate limit.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsUnauthorized checks if the error is an authentication failure.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindAuthentication
}

// IsForbidden checks if the error is an authorization failure.
func IsForbidden(err error) bool {
	return KindOf(err) == KindAuthorization
}

// IsJobStateError checks if an operation was rejected locally because of job state.
func IsJobStateError(err error) bool {
	return KindOf(err) == KindJobState
}

// IsWaitTimeout checks if AwaitCompletion ran out of time.
func IsWaitTimeout(err error) bool {
	return KindOf(err) == KindWaitTimeout
}

// IsRetriesExhausted checks if a call used up its retry budget.
func IsRetriesExhausted(err error) bool {
	return KindOf(err) == KindRetriesExhausted
}

// Static errors for err113 compliance.
var (
	ErrUnknownEnumValue      = errors.New("unrecognized value")
	ErrConfigRequired        = errors.New("config is required")
	ErrCredentialsRequired   = errors.New("credentials are required")
	ErrInstanceURLRequired   = errors.New("instance URL is required")
	ErrAccessTokenRequired   = errors.New("access token is required")
	ErrObjectRequired        = errors.New("object is required for ingest jobs")
	ErrInvalidObjectName     = errors.New("object name is not a valid API name")
	ErrQueryRequired         = errors.New("query is required for query jobs")
	ErrExternalIDRequired    = errors.New("external ID field is required for upsert")
	ErrExternalIDNotAllowed  = errors.New("external ID field is only valid for upsert")
	ErrPayloadTooLarge       = errors.New("payload exceeds the upload size limit")
	ErrPayloadRequired       = errors.New("payload is required")
	ErrJobIDRequired         = errors.New("job ID is required")
	ErrNotQueryJob           = errors.New("job is not a query job")
	ErrUnexpectedJobID       = errors.New("server returned a different job")
	ErrNoMoreRecords         = errors.New("no more records")
	ErrInvalidPollInterval   = errors.New("poll interval must be positive")
	ErrInconsistentCSVHeader = errors.New("result page header differs from the first page")
	ErrJobFailed             = errors.New("job failed")
	ErrJobAborted            = errors.New("job was aborted")
	ErrStalledContinuation   = errors.New("server repeated the previous continuation token")
)
