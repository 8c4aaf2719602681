package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"
)

// Client executes exactly one HTTP request per call and classifies the
// outcome. Retries are the caller's concern.
type Client struct {
	credentials sfbulk.CredentialProvider
	httpClient  *retryablehttp.Client
	limiter     *rate.Limiter
	logger      sfbulk.Logger
	debug       bool
	userAgent   string
	usage       atomic.Pointer[sfbulk.APIUsage]
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for debug output.
func WithLogger(logger sfbulk.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug logs every request and response when a logger is set.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithTimeout bounds a single request/response cycle.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.HTTPClient.Timeout = timeout
		}
	}
}

// WithRateLimit throttles outgoing requests client-side.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			return
		}

		if burst < 1 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithHTTPClient replaces the underlying pooled client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient.HTTPClient = httpClient
		}
	}
}

// NewClient creates a transport authorized by credentials.
func NewClient(credentials sfbulk.CredentialProvider, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = cleanhttp.DefaultPooledClient()
	retryClient.HTTPClient.Timeout = constants.DefaultHTTPTimeout
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	retryClient.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{
		credentials: credentials,
		httpClient:  retryClient,
		userAgent:   constants.DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Conditions are the conditional request headers.
type Conditions struct {
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
}

// IsSet reports whether any conditional header will be sent.
func (c Conditions) IsSet() bool {
	return c.IfMatch != "" || c.IfNoneMatch != "" || !c.IfModifiedSince.IsZero() || !c.IfUnmodifiedSince.IsZero()
}

func (c Conditions) apply(header http.Header) {
	if c.IfMatch != "" {
		header.Set("If-Match", c.IfMatch)
	}

	if c.IfNoneMatch != "" {
		header.Set("If-None-Match", c.IfNoneMatch)
	}

	if !c.IfModifiedSince.IsZero() {
		header.Set("If-Modified-Since", c.IfModifiedSince.UTC().Format(http.TimeFormat))
	}

	if !c.IfUnmodifiedSince.IsZero() {
		header.Set("If-Unmodified-Since", c.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}
}

// Request describes one HTTP call. Path is resolved against the instance URL
// unless it is already absolute.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	// Body is encoded as JSON when RawBody is nil.
	Body        interface{}
	RawBody     []byte
	ContentType string
	Accept      string
	Conditions  Conditions
	// ExpectedStatus narrows the accepted statuses; empty accepts any 2xx.
	ExpectedStatus []int
}

// Response is a completed HTTP exchange with a decoded body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// ETag returns the entity tag of the response.
func (r *Response) ETag() string {
	return r.Header.Get("ETag")
}

// LastModified returns the Last-Modified time, or zero.
func (r *Response) LastModified() time.Time {
	parsed, err := http.ParseTime(r.Header.Get("Last-Modified"))
	if err != nil {
		return time.Time{}
	}

	return parsed
}

// NotModified reports a 304 answer to a conditional request.
func (r *Response) NotModified() bool {
	return r.StatusCode == http.StatusNotModified
}

// Locator returns the result continuation token; the server sends "null" on the last page.
func (r *Response) Locator() string {
	locator := strings.TrimSpace(r.Header.Get(constants.HeaderLocator))
	if locator == "" || locator == "null" {
		return ""
	}

	return locator
}

// APIUsage parses the Sforce-Limit-Info header.
func (r *Response) APIUsage() (sfbulk.APIUsage, bool) {
	return ParseLimitInfo(r.Header.Get(constants.HeaderLimitInfo))
}

// DecodeJSON unmarshals the body. A malformed body is a Serialization failure.
func (r *Response) DecodeJSON(op string, target interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: op, StatusCode: r.StatusCode, Message: "empty response body"}
	}

	err := json.Unmarshal(r.Body, target)
	if err != nil {
		return &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: op, StatusCode: r.StatusCode, Err: err}
	}

	return nil
}

// InstanceURL returns the instance URL of the current credentials.
func (c *Client) InstanceURL() string {
	if c.credentials == nil {
		return ""
	}

	return strings.TrimSuffix(c.credentials.InstanceURL(), "/")
}

// LastAPIUsage returns the most recent usage reported by the server.
func (c *Client) LastAPIUsage() (sfbulk.APIUsage, bool) {
	usage := c.usage.Load()
	if usage == nil {
		return sfbulk.APIUsage{}, false
	}

	return *usage, true
}

// Do executes the request once. On a non-success status both the response
// and a classified *sfbulk.Error are returned.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	op := req.Method + " " + req.Path

	if c.limiter != nil {
		err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, classifyTransportError(op, err)
		}
	}

	if refresher, ok := c.credentials.(sfbulk.CredentialRefresher); ok {
		err := refresher.EnsureFresh(ctx)
		if err != nil {
			return nil, &sfbulk.Error{Kind: sfbulk.KindAuthentication, Op: op, Message: "refreshing credentials", Err: err}
		}
	}

	httpReq, err := c.buildRequest(ctx, op, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.logRequest(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if httpResp != nil && httpResp.Body != nil {
			_ = httpResp.Body.Close()
		}

		return nil, classifyTransportError(op, err)
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := readBody(httpResp)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}

	if usage, ok := resp.APIUsage(); ok {
		c.usage.Store(&usage)
	}

	c.logResponse(httpReq, resp)

	err = classifyResponse(op, req, resp)
	if err != nil {
		return resp, err
	}

	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, op string, req *Request) (*retryablehttp.Request, error) {
	fullURL, err := c.resolveURL(req)
	if err != nil {
		return nil, sfbulk.NewValidationError(op, err)
	}

	var body interface{}

	contentType := req.ContentType

	switch {
	case req.RawBody != nil:
		body = req.RawBody
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: op, Err: err}
		}

		body = encoded

		if contentType == "" {
			contentType = constants.ContentTypeJSON
		}
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, sfbulk.NewValidationError(op, fmt.Errorf("creating request: %w", err))
	}

	accept := req.Accept
	if accept == "" {
		accept = constants.ContentTypeJSON
	}

	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Accept-Encoding", constants.AcceptEncodingList)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(constants.HeaderRequestID, uuid.NewString())

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	if c.credentials != nil {
		if token := c.credentials.AccessToken(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	req.Conditions.apply(httpReq.Header)

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) resolveURL(req *Request) (string, error) {
	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		instanceURL := c.InstanceURL()
		if instanceURL == "" {
			return "", sfbulk.ErrInstanceURLRequired
		}

		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}

		target = instanceURL + target
	}

	if len(req.Query) == 0 {
		return target, nil
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}

	query := parsed.Query()
	for key, values := range req.Query {
		for _, value := range values {
			query.Add(key, value)
		}
	}

	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}

			return nil, fmt.Errorf("opening gzip body: %w", err)
		}

		defer func() {
			_ = gzipReader.Close()
		}()

		reader = gzipReader
	case "deflate":
		flateReader := flate.NewReader(resp.Body)

		defer func() {
			_ = flateReader.Close()
		}()

		reader = flateReader
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return body, nil
}

func (c *Client) logRequest(req *retryablehttp.Request) {
	if !c.debug || c.logger == nil {
		return
	}

	c.logger.Debug("HTTP Request", map[string]interface{}{
		"method":     req.Method,
		"url":        req.URL.String(),
		"request_id": req.Header.Get(constants.HeaderRequestID),
	})
}

func (c *Client) logResponse(req *retryablehttp.Request, resp *Response) {
	if !c.debug || c.logger == nil {
		return
	}

	c.logger.Debug("HTTP Response", map[string]interface{}{
		"method":     req.Method,
		"url":        req.URL.String(),
		"status":     resp.StatusCode,
		"duration":   resp.Duration.String(),
		"bytes":      len(resp.Body),
		"request_id": req.Header.Get(constants.HeaderRequestID),
	})
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}
