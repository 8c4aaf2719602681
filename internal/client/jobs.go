package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	sfhttp "github.com/fivetwenty-io/sfbulk/internal/http"
	"github.com/fivetwenty-io/sfbulk/internal/logging"
	"github.com/fivetwenty-io/sfbulk/internal/retry"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/google/uuid"
)

var objectNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// JobsClient implements sfbulk.JobsClient. It holds no per-job state: every
// method takes a Job snapshot and returns a new one.
type JobsClient struct {
	requester    *requester
	apiVersion   string
	pollInterval time.Duration
	maxWait      time.Duration
	pollJitter   float64
	concurrency  int
	publisher    sfbulk.JobEventPublisher
	logger       sfbulk.Logger
	random       func() float64
	sleep        func(ctx context.Context, delay time.Duration) error
}

// JobsOption configures a JobsClient.
type JobsOption func(*JobsClient)

// WithPublisher publishes every observed state transition.
func WithPublisher(publisher sfbulk.JobEventPublisher) JobsOption {
	return func(c *JobsClient) {
		c.publisher = publisher
	}
}

// WithPolling sets the AwaitCompletion defaults. Zero values keep the
// current setting; a negative jitter disables jitter.
func WithPolling(interval, maxWait time.Duration, jitter float64) JobsOption {
	return func(c *JobsClient) {
		if interval > 0 {
			c.pollInterval = interval
		}

		if maxWait > 0 {
			c.maxWait = maxWait
		}

		switch {
		case jitter < 0:
			c.pollJitter = 0
		case jitter > 0 && jitter < 1:
			c.pollJitter = jitter
		}
	}
}

// WithParallelConcurrency bounds concurrent result downloads.
func WithParallelConcurrency(concurrency int) JobsOption {
	return func(c *JobsClient) {
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}

// WithJobsLogger sets the logger for lifecycle events.
func WithJobsLogger(logger sfbulk.Logger) JobsOption {
	return func(c *JobsClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewJobsClient creates a jobs client on top of a transport and retry policy.
func NewJobsClient(httpClient *sfhttp.Client, policy *retry.Policy, apiVersion string, opts ...JobsOption) *JobsClient {
	if apiVersion == "" {
		apiVersion = constants.DefaultAPIVersion
	}

	client := &JobsClient{
		requester:    &requester{http: httpClient, policy: policy},
		apiVersion:   apiVersion,
		pollInterval: constants.DefaultPollInterval,
		maxWait:      constants.DefaultMaxWait,
		pollJitter:   constants.DefaultPollJitter,
		concurrency:  constants.DefaultParallelConcurrency,
		logger:       logging.Discard(),
		random:       rand.Float64, //nolint:gosec // poll jitter does not need a CSPRNG
		sleep:        sleepContext,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *JobsClient) basePath(kind sfbulk.JobKind) string {
	return fmt.Sprintf("/services/data/v%s/jobs/%s", c.apiVersion, kind)
}

func (c *JobsClient) jobPath(job sfbulk.Job) string {
	return c.basePath(kindOf(job)) + "/" + url.PathEscape(job.ID)
}

func kindOf(job sfbulk.Job) sfbulk.JobKind {
	if job.Kind != "" {
		return job.Kind
	}

	return job.Operation.Kind()
}

func requireID(op string, job sfbulk.Job) error {
	if job.ID == "" {
		return sfbulk.NewValidationError(op, sfbulk.ErrJobIDRequired)
	}

	return nil
}

type createIngestBody struct {
	Object              string                 `json:"object"`
	Operation           sfbulk.Operation       `json:"operation"`
	ExternalIDFieldName string                 `json:"externalIdFieldName,omitempty"`
	ContentType         sfbulk.ContentType     `json:"contentType"`
	ColumnDelimiter     sfbulk.ColumnDelimiter `json:"columnDelimiter"`
	LineEnding          sfbulk.LineEnding      `json:"lineEnding"`
}

type createQueryBody struct {
	Operation       sfbulk.Operation       `json:"operation"`
	Query           string                 `json:"query"`
	ContentType     sfbulk.ContentType     `json:"contentType"`
	ColumnDelimiter sfbulk.ColumnDelimiter `json:"columnDelimiter"`
	LineEnding      sfbulk.LineEnding      `json:"lineEnding"`
}

type stateChange struct {
	State sfbulk.JobState `json:"state"`
}

// buildCreateBody validates req and returns the job kind and request body.
func buildCreateBody(req sfbulk.CreateJobRequest) (sfbulk.JobKind, interface{}, error) {
	operation, err := sfbulk.ParseOperation(string(req.Operation))
	if err != nil {
		return "", nil, err
	}

	format, err := normalizeFormat(req.Format)
	if err != nil {
		return "", nil, err
	}

	if operation.Kind() == sfbulk.JobKindQuery {
		if req.Query == "" {
			return "", nil, sfbulk.ErrQueryRequired
		}

		return sfbulk.JobKindQuery, createQueryBody{
			Operation:       operation,
			Query:           req.Query,
			ContentType:     sfbulk.ContentTypeCSV,
			ColumnDelimiter: format.ColumnDelimiter,
			LineEnding:      format.LineEnding,
		}, nil
	}

	switch {
	case req.Object == "":
		return "", nil, sfbulk.ErrObjectRequired
	case !objectNamePattern.MatchString(req.Object):
		return "", nil, fmt.Errorf("%w: %q", sfbulk.ErrInvalidObjectName, req.Object)
	case operation == sfbulk.OperationUpsert && req.ExternalIDFieldName == "":
		return "", nil, sfbulk.ErrExternalIDRequired
	case operation != sfbulk.OperationUpsert && req.ExternalIDFieldName != "":
		return "", nil, sfbulk.ErrExternalIDNotAllowed
	}

	return sfbulk.JobKindIngest, createIngestBody{
		Object:              req.Object,
		Operation:           operation,
		ExternalIDFieldName: req.ExternalIDFieldName,
		ContentType:         sfbulk.ContentTypeCSV,
		ColumnDelimiter:     format.ColumnDelimiter,
		LineEnding:          format.LineEnding,
	}, nil
}

func normalizeFormat(format sfbulk.ContentFormat) (sfbulk.ContentFormat, error) {
	defaults := sfbulk.DefaultContentFormat()

	if format.ColumnDelimiter == "" {
		format.ColumnDelimiter = defaults.ColumnDelimiter
	}

	if format.LineEnding == "" {
		format.LineEnding = defaults.LineEnding
	}

	_, err := sfbulk.ParseColumnDelimiter(string(format.ColumnDelimiter))
	if err != nil {
		return format, err
	}

	_, err = sfbulk.ParseLineEnding(string(format.LineEnding))
	if err != nil {
		return format, err
	}

	return format, nil
}

// Create implements sfbulk.JobsClient.Create.
func (c *JobsClient) Create(ctx context.Context, req sfbulk.CreateJobRequest) (sfbulk.Job, error) {
	const op = "create job"

	kind, body, err := buildCreateBody(req)
	if err != nil {
		return sfbulk.Job{}, sfbulk.NewValidationError(op, err)
	}

	job, resp, err := call[sfbulk.Job](ctx, c.requester, op, &sfhttp.Request{
		Method:         http.MethodPost,
		Path:           c.basePath(kind),
		Body:           body,
		ExpectedStatus: []int{http.StatusOK, http.StatusCreated},
	}, retry.OnlyRateLimited())
	if err != nil {
		return sfbulk.Job{}, fmt.Errorf("creating %s job: %w", kind, err)
	}

	job.Kind = kind
	job.ETag = resp.ETag()

	c.logger.Info("Job created", map[string]interface{}{
		"job_id":    job.ID,
		"kind":      string(kind),
		"operation": string(job.Operation),
		"state":     string(job.State),
	})
	c.observe(ctx, "", job)

	return job, nil
}

// Upload implements sfbulk.JobsClient.Upload. The payload is buffered so
// that a rate-limited request can be replayed.
func (c *JobsClient) Upload(ctx context.Context, job sfbulk.Job, payload io.Reader) error {
	const op = "upload job data"

	err := requireID(op, job)
	if err != nil {
		return err
	}

	if kindOf(job) != sfbulk.JobKindIngest || job.State != sfbulk.JobStateOpen {
		return sfbulk.NewJobStateError(op, job, "an open ingest job")
	}

	if payload == nil {
		return sfbulk.NewValidationError(op, sfbulk.ErrPayloadRequired)
	}

	data, err := io.ReadAll(io.LimitReader(payload, constants.MaxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("reading upload payload: %w", err)
	}

	if len(data) > constants.MaxUploadBytes {
		return sfbulk.NewValidationError(op, sfbulk.ErrPayloadTooLarge)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return sfbulk.NewValidationError(op, sfbulk.ErrPayloadRequired)
	}

	_, err = c.requester.do(ctx, op, &sfhttp.Request{
		Method:         http.MethodPut,
		Path:           c.jobPath(job) + "/batches",
		RawBody:        data,
		ContentType:    constants.ContentTypeCSV,
		ExpectedStatus: []int{http.StatusCreated, http.StatusOK},
	}, retry.OnlyRateLimited())
	if err != nil {
		return fmt.Errorf("uploading data to job %s: %w", job.ID, err)
	}

	c.logger.Debug("Job data uploaded", map[string]interface{}{"job_id": job.ID, "bytes": len(data)})

	return nil
}

// Close implements sfbulk.JobsClient.Close.
func (c *JobsClient) Close(ctx context.Context, job sfbulk.Job) (sfbulk.Job, error) {
	const op = "close job"

	err := requireID(op, job)
	if err != nil {
		return job, err
	}

	if kindOf(job) != sfbulk.JobKindIngest || job.State != sfbulk.JobStateOpen {
		return job, sfbulk.NewJobStateError(op, job, "an open ingest job")
	}

	closed, err := c.changeState(ctx, op, job, sfbulk.JobStateUploadComplete)
	if err != nil {
		return job, fmt.Errorf("closing job %s: %w", job.ID, err)
	}

	return closed, nil
}

func (c *JobsClient) changeState(ctx context.Context, op string, job sfbulk.Job, state sfbulk.JobState) (sfbulk.Job, error) {
	next, resp, err := call[sfbulk.Job](ctx, c.requester, op, &sfhttp.Request{
		Method:         http.MethodPatch,
		Path:           c.jobPath(job),
		Body:           stateChange{State: state},
		ExpectedStatus: []int{http.StatusOK},
	})
	if err != nil {
		return job, err
	}

	next, err = c.snapshot(op, job, next, resp)
	if err != nil {
		return job, err
	}

	c.observe(ctx, job.State, next)

	return next, nil
}

// snapshot finishes a decoded job response: it carries over the client-side
// kind, checks identity, and keeps states monotonic.
func (c *JobsClient) snapshot(op string, previous, observed sfbulk.Job, resp *sfhttp.Response) (sfbulk.Job, error) {
	if observed.ID != "" && observed.ID != previous.ID {
		return previous, &sfbulk.Error{
			Kind:    sfbulk.KindSerialization,
			Op:      op,
			Message: fmt.Sprintf("expected job %s, got %s", previous.ID, observed.ID),
			Err:     sfbulk.ErrUnexpectedJobID,
		}
	}

	observed.ID = previous.ID
	observed.Kind = kindOf(previous)

	if observed.Operation == "" {
		observed.Operation = previous.Operation
	}

	if resp != nil {
		observed.ETag = resp.ETag()
	}

	if observed.State.Rank() < previous.State.Rank() {
		c.logger.Debug("Ignoring stale job snapshot", map[string]interface{}{
			"job_id":   previous.ID,
			"state":    string(previous.State),
			"observed": string(observed.State),
		})

		return previous, nil
	}

	return observed, nil
}

// Poll implements sfbulk.JobsClient.Poll.
func (c *JobsClient) Poll(ctx context.Context, job sfbulk.Job) (sfbulk.Job, error) {
	const op = "poll job"

	err := requireID(op, job)
	if err != nil {
		return job, err
	}

	if job.State.IsTerminal() {
		return job, sfbulk.NewJobStateError(op, job, "a non-terminal job")
	}

	next, err := c.fetchJob(ctx, op, job)
	if err != nil {
		return job, fmt.Errorf("polling job %s: %w", job.ID, err)
	}

	c.observe(ctx, job.State, next)

	return next, nil
}

// fetchJob reads the job status, conditionally when the snapshot has an ETag.
func (c *JobsClient) fetchJob(ctx context.Context, op string, job sfbulk.Job) (sfbulk.Job, error) {
	resp, err := c.requester.do(ctx, op, &sfhttp.Request{
		Method:     http.MethodGet,
		Path:       c.jobPath(job),
		Conditions: sfhttp.Conditions{IfNoneMatch: job.ETag},
	})
	if err != nil {
		return job, err
	}

	if resp.NotModified() {
		return job, nil
	}

	var observed sfbulk.Job

	err = resp.DecodeJSON(op, &observed)
	if err != nil {
		return job, err
	}

	return c.snapshot(op, job, observed, resp)
}

// AwaitCompletion implements sfbulk.JobsClient.AwaitCompletion.
func (c *JobsClient) AwaitCompletion(ctx context.Context, job sfbulk.Job, pollInterval, maxWait time.Duration) (sfbulk.Job, error) {
	const op = "await job completion"

	if job.State.IsTerminal() {
		return job, nil
	}

	if pollInterval < 0 {
		return job, sfbulk.NewValidationError(op, sfbulk.ErrInvalidPollInterval)
	}

	if pollInterval == 0 {
		pollInterval = c.pollInterval
	}

	if maxWait <= 0 {
		maxWait = c.maxWait
	}

	deadline := time.Now().Add(maxWait)
	current := job
	polls := 0

	for {
		next, err := c.Poll(ctx, current)
		if err != nil {
			return current, err
		}

		polls++
		current = next

		if current.State.IsTerminal() {
			c.logger.Info("Job finished", map[string]interface{}{
				"job_id": current.ID,
				"state":  string(current.State),
				"polls":  polls,
			})

			return current, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return current, waitTimeout(op, current, maxWait)
		}

		delay := min(c.jittered(pollInterval), remaining)

		err = c.sleep(ctx, delay)
		if err != nil {
			kind := sfbulk.KindConnection
			if errors.Is(err, context.DeadlineExceeded) {
				kind = sfbulk.KindTimeout
			}

			return current, &sfbulk.Error{Kind: kind, Op: op, Message: "wait canceled", Err: err}
		}

		if !time.Now().Before(deadline) {
			return current, waitTimeout(op, current, maxWait)
		}
	}
}

func waitTimeout(op string, job sfbulk.Job, maxWait time.Duration) error {
	return &sfbulk.Error{
		Kind:    sfbulk.KindWaitTimeout,
		Op:      op,
		Message: fmt.Sprintf("job %s still %s after %s", job.ID, job.State, maxWait),
	}
}

// jittered spreads interval by +/- pollJitter.
func (c *JobsClient) jittered(interval time.Duration) time.Duration {
	if c.pollJitter <= 0 {
		return interval
	}

	offset := (c.random()*2 - 1) * c.pollJitter * float64(interval)

	return interval + time.Duration(offset)
}

// FetchResults implements sfbulk.JobsClient.FetchResults.
func (c *JobsClient) FetchResults(ctx context.Context, job sfbulk.Job, opts *sfbulk.FetchOptions) (*sfbulk.ResultSet, error) {
	const op = "fetch job results"

	err := requireID(op, job)
	if err != nil {
		return nil, err
	}

	if !job.State.IsTerminal() {
		return nil, sfbulk.NewJobStateError(op, job, "a terminal job")
	}

	format := job.Format()
	path := c.jobPath(job)

	if kindOf(job) == sfbulk.JobKindQuery {
		return &sfbulk.ResultSet{
			JobID:       job.ID,
			Successful:  sfbulk.NewRecordIterator(ctx, format, c.queryPages(path+"/results", opts)),
			Failed:      sfbulk.EmptyRecordIterator(),
			Unprocessed: sfbulk.EmptyRecordIterator(),
		}, nil
	}

	return &sfbulk.ResultSet{
		JobID:       job.ID,
		Successful:  sfbulk.NewRecordIterator(ctx, format, c.singlePage(path+"/successfulResults")),
		Failed:      sfbulk.NewRecordIterator(ctx, format, c.singlePage(path+"/failedResults")),
		Unprocessed: sfbulk.NewRecordIterator(ctx, format, c.singlePage(path+"/unprocessedrecords")),
	}, nil
}

func (c *JobsClient) singlePage(path string) sfbulk.PageFetcher {
	return func(ctx context.Context, _ string) (sfbulk.Page, error) {
		resp, err := c.requester.do(ctx, "fetch result page", &sfhttp.Request{
			Method: http.MethodGet,
			Path:   path,
			Accept: constants.ContentTypeCSV,
		})
		if err != nil {
			return sfbulk.Page{}, fmt.Errorf("fetching %s: %w", path, err)
		}

		return sfbulk.Page{Body: resp.Body}, nil
	}
}

func (c *JobsClient) queryPages(path string, opts *sfbulk.FetchOptions) sfbulk.PageFetcher {
	return func(ctx context.Context, locator string) (sfbulk.Page, error) {
		query := url.Values{}
		if locator != "" {
			query.Set("locator", locator)
		}

		if opts != nil && opts.MaxRecordsPerPage > 0 {
			query.Set("maxRecords", strconv.Itoa(opts.MaxRecordsPerPage))
		}

		resp, err := c.requester.do(ctx, "fetch query results", &sfhttp.Request{
			Method: http.MethodGet,
			Path:   path,
			Query:  query,
			Accept: constants.ContentTypeCSV,
		})
		if err != nil {
			return sfbulk.Page{}, fmt.Errorf("fetching query results: %w", err)
		}

		return sfbulk.Page{Body: resp.Body, Next: resp.Locator()}, nil
	}
}

// Abort implements sfbulk.JobsClient.Abort. Aborting a terminal job is a no-op.
func (c *JobsClient) Abort(ctx context.Context, job sfbulk.Job) (sfbulk.Job, error) {
	const op = "abort job"

	err := requireID(op, job)
	if err != nil {
		return job, err
	}

	if job.State.IsTerminal() {
		return job, nil
	}

	aborted, err := c.changeState(ctx, op, job, sfbulk.JobStateAborted)
	if err == nil {
		c.logger.Info("Job aborted", map[string]interface{}{"job_id": job.ID})

		return aborted, nil
	}

	kind := sfbulk.KindOf(err)
	if kind != sfbulk.KindBusinessLogic && kind != sfbulk.KindHTTP {
		return job, fmt.Errorf("aborting job %s: %w", job.ID, err)
	}

	// The job may have finished between the caller's last poll and the abort.
	current, pollErr := c.fetchJob(ctx, op, sfbulk.Job{ID: job.ID, Kind: kindOf(job), Operation: job.Operation, State: job.State})
	if pollErr == nil && current.State.IsTerminal() {
		c.observe(ctx, job.State, current)

		return current, nil
	}

	return job, fmt.Errorf("aborting job %s: %w", job.ID, err)
}

// Delete implements sfbulk.JobsClient.Delete. A job that no longer exists
// counts as deleted.
func (c *JobsClient) Delete(ctx context.Context, job sfbulk.Job) error {
	const op = "delete job"

	err := requireID(op, job)
	if err != nil {
		return err
	}

	_, err = c.requester.do(ctx, op, &sfhttp.Request{Method: http.MethodDelete, Path: c.jobPath(job)})
	if err != nil {
		if sfbulk.IsNotFound(err) {
			return nil
		}

		return fmt.Errorf("deleting job %s: %w", job.ID, err)
	}

	c.logger.Info("Job deleted", map[string]interface{}{"job_id": job.ID})

	return nil
}

// Get implements sfbulk.JobsClient.Get.
func (c *JobsClient) Get(ctx context.Context, kind sfbulk.JobKind, id string) (sfbulk.Job, error) {
	const op = "get job"

	if id == "" {
		return sfbulk.Job{}, sfbulk.NewValidationError(op, sfbulk.ErrJobIDRequired)
	}

	_, err := sfbulk.ParseJobKind(string(kind))
	if err != nil {
		return sfbulk.Job{}, sfbulk.NewValidationError(op, err)
	}

	job, err := c.fetchJob(ctx, op, sfbulk.Job{ID: id, Kind: kind})
	if err != nil {
		return sfbulk.Job{}, fmt.Errorf("getting job %s: %w", id, err)
	}

	return job, nil
}

// List implements sfbulk.JobsClient.List, following nextRecordsUrl until done.
func (c *JobsClient) List(ctx context.Context, kind sfbulk.JobKind) ([]sfbulk.Job, error) {
	const op = "list jobs"

	_, err := sfbulk.ParseJobKind(string(kind))
	if err != nil {
		return nil, sfbulk.NewValidationError(op, err)
	}

	var jobs []sfbulk.Job

	path := c.basePath(kind)
	for path != "" {
		page, _, err := call[sfbulk.JobList](ctx, c.requester, op, &sfhttp.Request{Method: http.MethodGet, Path: path})
		if err != nil {
			return nil, fmt.Errorf("listing %s jobs: %w", kind, err)
		}

		for _, job := range page.Records {
			job.Kind = kind
			jobs = append(jobs, job)
		}

		if page.Done {
			break
		}

		if page.NextRecordsURL == path {
			return nil, &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: op, Err: sfbulk.ErrStalledContinuation}
		}

		path = page.NextRecordsURL
	}

	return jobs, nil
}

// observe publishes a state transition when a publisher is configured.
func (c *JobsClient) observe(ctx context.Context, previous sfbulk.JobState, job sfbulk.Job) {
	if c.publisher == nil || previous == job.State {
		return
	}

	counts, _ := job.Counts()
	event := sfbulk.JobEvent{
		EventID:    uuid.NewString(),
		JobID:      job.ID,
		Kind:       kindOf(job),
		Operation:  job.Operation,
		Object:     job.Object,
		Previous:   previous,
		Current:    job.State,
		Counts:     counts,
		ObservedAt: time.Now().UTC(),
	}

	err := c.publisher.PublishJobEvent(ctx, event)
	if err != nil {
		c.logger.Warn("Failed to publish job event", map[string]interface{}{
			"job_id": job.ID,
			"state":  string(job.State),
			"error":  err.Error(),
		})
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
