package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
)

var (
	sessionTokenPattern = regexp.MustCompile(`00[A-Za-z0-9]{13,}![A-Za-z0-9_.]+`)
	sessionIDPattern    = regexp.MustCompile(`sid=[A-Za-z0-9]{20,}`)
	limitInfoPattern    = regexp.MustCompile(`api-usage=(\d+)/(\d+)`)
)

// classifyResponse maps a completed exchange to nil or a classified failure.
func classifyResponse(op string, req *Request, resp *Response) error {
	status := resp.StatusCode

	if status == http.StatusNotModified && req.Conditions.IsSet() {
		return nil
	}

	if status >= 200 && status < 300 {
		if len(req.ExpectedStatus) == 0 || slices.Contains(req.ExpectedStatus, status) {
			return nil
		}

		return &sfbulk.Error{
			Kind:       sfbulk.KindHTTP,
			Op:         op,
			StatusCode: status,
			Message:    fmt.Sprintf("unexpected status, want one of %v", req.ExpectedStatus),
		}
	}

	apiErrors := sfbulk.ParseAPIErrors(resp.Body)
	for i := range apiErrors {
		apiErrors[i].Message = SanitizeMessage(apiErrors[i].Message)
	}

	classified := &sfbulk.Error{
		Kind:       kindForStatus(status, len(apiErrors) > 0),
		Op:         op,
		StatusCode: status,
		APIErrors:  apiErrors,
	}

	if len(apiErrors) == 0 {
		classified.Message = SanitizeMessage(strings.TrimSpace(string(resp.Body)))
	}

	if classified.Kind == sfbulk.KindRateLimited {
		if retryAfter, ok := ParseRetryAfter(resp.Header.Get(constants.HeaderRetryAfter), time.Now()); ok {
			classified.RetryAfter = &retryAfter
		}
	}

	return classified
}

func kindForStatus(status int, hasAPIErrors bool) sfbulk.ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return sfbulk.KindAuthentication
	case http.StatusForbidden:
		return sfbulk.KindAuthorization
	case http.StatusNotFound:
		return sfbulk.KindNotFound
	case http.StatusPreconditionFailed:
		return sfbulk.KindPreconditionFailed
	case http.StatusTooManyRequests:
		return sfbulk.KindRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if hasAPIErrors {
			return sfbulk.KindBusinessLogic
		}

		return sfbulk.KindHTTP
	default:
		return sfbulk.KindHTTP
	}
}

// classifyTransportError maps a failure that produced no response.
func classifyTransportError(op string, err error) error {
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &sfbulk.Error{Kind: sfbulk.KindTimeout, Op: op, Err: err}
	case errors.Is(err, context.Canceled):
		return &sfbulk.Error{Kind: sfbulk.KindConnection, Op: op, Message: "request canceled", Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &sfbulk.Error{Kind: sfbulk.KindTimeout, Op: op, Err: err}
	default:
		return &sfbulk.Error{Kind: sfbulk.KindConnection, Op: op, Err: err}
	}
}

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}

		return time.Duration(seconds) * time.Second, true
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}

	delay := when.Sub(now)
	if delay < 0 {
		delay = 0
	}

	return delay, true
}

// ParseLimitInfo reads "api-usage=used/limit" from a Sforce-Limit-Info header.
func ParseLimitInfo(value string) (sfbulk.APIUsage, bool) {
	match := limitInfoPattern.FindStringSubmatch(value)
	if match == nil {
		return sfbulk.APIUsage{}, false
	}

	used, err := strconv.Atoi(match[1])
	if err != nil {
		return sfbulk.APIUsage{}, false
	}

	limit, err := strconv.Atoi(match[2])
	if err != nil {
		return sfbulk.APIUsage{}, false
	}

	return sfbulk.APIUsage{Used: used, Limit: limit}, true
}

// SanitizeMessage strips session tokens from server text and bounds its length.
func SanitizeMessage(message string) string {
	sanitized := sessionTokenPattern.ReplaceAllString(message, "[REDACTED_TOKEN]")
	sanitized = sessionIDPattern.ReplaceAllString(sanitized, "sid=[REDACTED]")

	if len(sanitized) > constants.MaxErrorMessageLength {
		sanitized = sanitized[:constants.MaxErrorMessageLength] + "...[truncated]"
	}

	return sanitized
}
