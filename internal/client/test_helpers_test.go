package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/auth"
	sfhttp "github.com/fivetwenty-io/sfbulk/internal/http"
	"github.com/fivetwenty-io/sfbulk/internal/retry"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/stretchr/testify/require"
)

const (
	testAPIVersion = "62.0"
	jobsPrefix     = "/services/data/v" + testAPIVersion + "/jobs/"
	testToken      = "00Dtest000000001!AQEAQ.fake_session_token"
)

// fakeJob is the server-side state of one job.
type fakeJob struct {
	job sfbulk.Job
	// polls scripts the states returned by successive GET requests.
	polls    []sfbulk.JobState
	etag     string
	uploaded []byte
	// results holds successfulResults, failedResults, and unprocessedrecords bodies.
	results map[string]string
	// pages are query result pages in locator order.
	pages []string
	// chunks are parallel result batches of chunk paths.
	chunks    [][]string
	processed int64
	failed    int64
	// rejectAbort makes an abort fail with INVALIDJOBSTATE and finishes the job.
	rejectAbort bool
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// fakeBulkServer emulates the Bulk API 2.0 job endpoints.
type fakeBulkServer struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	jobs      map[string]*fakeJob
	nextID    int
	requests  []recordedRequest
	chunks    map[string]string
	listPages [][]sfbulk.Job
	// intercept runs first and may answer the request itself.
	intercept func(w http.ResponseWriter, r *http.Request) bool
	// onCreate customises jobs as they are created.
	onCreate func(job *fakeJob)
}

func newFakeBulkServer(t *testing.T) *fakeBulkServer {
	t.Helper()

	fake := &fakeBulkServer{t: t, jobs: map[string]*fakeJob{}, chunks: map[string]string{}}
	fake.server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.server.Close)

	return fake
}

func (f *fakeBulkServer) URL() string {
	return f.server.URL
}

// addJob registers a job directly, bypassing create.
func (f *fakeBulkServer) addJob(job *fakeJob) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.jobs[job.job.ID] = job
}

func (f *fakeBulkServer) setIntercept(intercept func(w http.ResponseWriter, r *http.Request) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.intercept = intercept
}

// count returns how many requests matched method and path suffix.
func (f *fakeBulkServer) count(method, suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, req := range f.requests {
		if req.Method == method && strings.HasSuffix(req.Path, suffix) {
			n++
		}
	}

	return n
}

func (f *fakeBulkServer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

func (f *fakeBulkServer) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeBulkServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	intercept := f.intercept
	f.mu.Unlock()

	if intercept != nil && intercept(w, r) {
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+testToken {
		writeAPIError(w, http.StatusUnauthorized, "INVALID_SESSION_ID", "Session expired or invalid")

		return
	}

	if strings.HasPrefix(r.URL.Path, "/chunks/") {
		f.serveChunk(w, r)

		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, jobsPrefix)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")

		return
	}

	segments := strings.Split(rest, "/")
	kind := sfbulk.JobKind(segments[0])

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case len(segments) == 1 && r.Method == http.MethodPost:
		f.create(w, kind, body)
	case len(segments) == 1 && r.Method == http.MethodGet:
		f.list(w, r)
	case len(segments) >= 2:
		job, found := f.jobs[segments[1]]
		if !found {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist")

			return
		}

		f.serveJob(w, r, job, segments[2:], body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeBulkServer) create(w http.ResponseWriter, kind sfbulk.JobKind, body []byte) {
	var req map[string]string
	if err := json.Unmarshal(body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "JSON_PARSER_ERROR", err.Error())

		return
	}

	f.nextID++

	job := &fakeJob{job: sfbulk.Job{
		ID:                  fmt.Sprintf("7505g%010d", f.nextID),
		Operation:           sfbulk.Operation(req["operation"]),
		Object:              req["object"],
		Query:               req["query"],
		ExternalIDFieldName: req["externalIdFieldName"],
		ContentType:         sfbulk.ContentTypeCSV,
		ColumnDelimiter:     sfbulk.ColumnDelimiter(req["columnDelimiter"]),
		LineEnding:          sfbulk.LineEnding(req["lineEnding"]),
		State:               sfbulk.JobStateOpen,
	}}

	if kind == sfbulk.JobKindQuery {
		job.job.State = sfbulk.JobStateUploadComplete
	}

	if f.onCreate != nil {
		f.onCreate(job)
	}

	f.jobs[job.job.ID] = job
	writeJob(w, http.StatusOK, job)
}

func (f *fakeBulkServer) serveJob(w http.ResponseWriter, r *http.Request, job *fakeJob, sub []string, body []byte) {
	if len(sub) == 0 {
		switch r.Method {
		case http.MethodGet:
			f.poll(w, r, job)
		case http.MethodPatch:
			f.patch(w, job, body)
		case http.MethodDelete:
			delete(f.jobs, job.job.ID)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

		return
	}

	switch sub[0] {
	case "batches":
		if job.job.State != sfbulk.JobStateOpen {
			writeAPIError(w, http.StatusBadRequest, "INVALIDJOBSTATE", "Job is not open")

			return
		}

		job.uploaded = append(job.uploaded, body...)
		w.WriteHeader(http.StatusCreated)
	case "successfulResults", "failedResults", "unprocessedrecords":
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(job.results[sub[0]]))
	case "results":
		f.queryPage(w, r, job)
	case "parallelResults":
		f.parallelBatch(w, r, job)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBulkServer) poll(w http.ResponseWriter, r *http.Request, job *fakeJob) {
	if job.etag != "" && r.Header.Get("If-None-Match") == job.etag {
		w.WriteHeader(http.StatusNotModified)

		return
	}

	if len(job.polls) > 0 {
		job.job.State = job.polls[0]
		job.polls = job.polls[1:]
	}

	if job.job.State.IsTerminal() {
		job.job.NumberRecordsProcessed = job.processed
		job.job.NumberRecordsFailed = job.failed
	}

	writeJob(w, http.StatusOK, job)
}

func (f *fakeBulkServer) patch(w http.ResponseWriter, job *fakeJob, body []byte) {
	var change struct {
		State sfbulk.JobState `json:"state"`
	}

	if err := json.Unmarshal(body, &change); err != nil {
		writeAPIError(w, http.StatusBadRequest, "JSON_PARSER_ERROR", err.Error())

		return
	}

	if change.State == sfbulk.JobStateAborted && job.rejectAbort {
		job.job.State = sfbulk.JobStateJobComplete
		writeAPIError(w, http.StatusBadRequest, "INVALIDJOBSTATE", "Job is already complete")

		return
	}

	if job.job.State.IsTerminal() {
		writeAPIError(w, http.StatusBadRequest, "INVALIDJOBSTATE", "Job is in a terminal state")

		return
	}

	job.job.State = change.State
	writeJob(w, http.StatusOK, job)
}

func (f *fakeBulkServer) queryPage(w http.ResponseWriter, r *http.Request, job *fakeJob) {
	index := 0

	if locator := r.URL.Query().Get("locator"); locator != "" {
		parsed, err := strconv.Atoi(strings.TrimPrefix(locator, "LOC"))
		if err != nil || parsed >= len(job.pages) {
			writeAPIError(w, http.StatusBadRequest, "INVALID_LOCATOR", "bad locator")

			return
		}

		index = parsed
	}

	next := "null"
	if index+1 < len(job.pages) {
		next = fmt.Sprintf("LOC%d", index+1)
	}

	w.Header().Set("Sforce-Locator", next)
	w.Header().Set("Sforce-Limit-Info", "api-usage=25/15000")
	w.Header().Set("Content-Type", "text/csv")

	if len(job.pages) > 0 {
		_, _ = w.Write([]byte(job.pages[index]))
	}
}

func (f *fakeBulkServer) parallelBatch(w http.ResponseWriter, r *http.Request, job *fakeJob) {
	index, _ := strconv.Atoi(r.URL.Query().Get("batch"))

	batch := sfbulk.ParallelResultsBatch{ResultURLs: []string{}}
	if index < len(job.chunks) {
		batch.ResultURLs = job.chunks[index]
	}

	if index+1 < len(job.chunks) {
		batch.NextRecordsURL = fmt.Sprintf("%s%s/%s/parallelResults?batch=%d", jobsPrefix, sfbulk.JobKindQuery, job.job.ID, index+1)
	}

	writeJSON(w, http.StatusOK, batch)
}

func (f *fakeBulkServer) serveChunk(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	content, ok := f.chunks[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "chunk expired")

		return
	}

	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write([]byte(content))
}

func (f *fakeBulkServer) list(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(r.URL.Query().Get("page"))

	page := sfbulk.JobList{Records: []sfbulk.Job{}, Done: true}
	if index < len(f.listPages) {
		page.Records = f.listPages[index]
	}

	if index+1 < len(f.listPages) {
		page.Done = false
		page.NextRecordsURL = strings.TrimSuffix(r.URL.Path, "/") + "?page=" + strconv.Itoa(index+1)
	}

	writeJSON(w, http.StatusOK, page)
}

func writeJob(w http.ResponseWriter, status int, job *fakeJob) {
	wire := map[string]interface{}{
		"id":                     job.job.ID,
		"operation":              job.job.Operation,
		"state":                  job.job.State,
		"contentType":            "CSV",
		"columnDelimiter":        job.job.ColumnDelimiter,
		"lineEnding":             job.job.LineEnding,
		"apiVersion":             62.0,
		"concurrencyMode":        "Parallel",
		"createdDate":            "2026-01-02T03:04:05.000+0000",
		"numberRecordsProcessed": job.job.NumberRecordsProcessed,
		"numberRecordsFailed":    job.job.NumberRecordsFailed,
	}

	if job.job.Query != "" {
		wire["query"] = job.job.Query
	} else {
		wire["object"] = job.job.Object
	}

	if job.job.ExternalIDFieldName != "" {
		wire["externalIdFieldName"] = job.job.ExternalIDFieldName
	}

	if job.etag != "" {
		w.Header().Set("ETag", job.etag)
	}

	writeJSON(w, status, wire)
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, []map[string]string{{"errorCode": code, "message": message}})
}

// recordingSleep captures retry delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, delay)

	return ctx.Err()
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

// recordingPublisher captures job events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []sfbulk.JobEvent
	err    error
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, event sfbulk.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return p.err
}

func (p *recordingPublisher) states() []sfbulk.JobState {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make([]sfbulk.JobState, 0, len(p.events))
	for _, event := range p.events {
		states = append(states, event.Current)
	}

	return states
}

// newTestJobsClient builds a jobs client against fake with instant retries.
func newTestJobsClient(t *testing.T, fake *fakeBulkServer, opts ...JobsOption) *JobsClient {
	t.Helper()

	credentials, err := auth.NewCredentials(fake.URL(), testToken)
	require.NoError(t, err)

	policy := retry.New(sfbulk.RetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	httpClient := sfhttp.NewClient(credentials)

	return NewJobsClient(httpClient, policy, testAPIVersion, opts...)
}

func ingestJob(id string, state sfbulk.JobState) sfbulk.Job {
	return sfbulk.Job{
		ID:              id,
		Kind:            sfbulk.JobKindIngest,
		Operation:       sfbulk.OperationInsert,
		Object:          "Account",
		State:           state,
		ColumnDelimiter: sfbulk.DelimiterComma,
		LineEnding:      sfbulk.LineEndingLF,
	}
}

func queryJob(id string, state sfbulk.JobState) sfbulk.Job {
	return sfbulk.Job{
		ID:              id,
		Kind:            sfbulk.JobKindQuery,
		Operation:       sfbulk.OperationQuery,
		Query:           "SELECT Id, Name FROM Account",
		State:           state,
		ColumnDelimiter: sfbulk.DelimiterComma,
		LineEnding:      sfbulk.LineEndingLF,
	}
}
