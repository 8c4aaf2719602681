package client

import (
	"context"
	"fmt"
	"io"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/hashicorp/go-multierror"
)

// Ingest runs a complete ingest job: create, upload, close, await, and
// fetch results. If upload or close fails the job is aborted so it does not
// linger in Open. A wait timeout leaves the job running.
func (c *JobsClient) Ingest(ctx context.Context, req sfbulk.CreateJobRequest, payload io.Reader) (*sfbulk.IngestResult, error) {
	if req.Operation.Kind() != sfbulk.JobKindIngest {
		return nil, sfbulk.NewValidationError("ingest", fmt.Errorf("%w: operation %q", sfbulk.ErrUnknownEnumValue, req.Operation))
	}

	job, err := c.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	err = c.Upload(ctx, job, payload)
	if err != nil {
		return &sfbulk.IngestResult{Job: job}, c.abortAfterFailure(ctx, job, err)
	}

	closed, err := c.Close(ctx, job)
	if err != nil {
		return &sfbulk.IngestResult{Job: job}, c.abortAfterFailure(ctx, job, err)
	}

	done, err := c.AwaitCompletion(ctx, closed, 0, 0)
	if err != nil {
		return &sfbulk.IngestResult{Job: done}, err
	}

	results, err := c.FetchResults(ctx, done, nil)
	if err != nil {
		return &sfbulk.IngestResult{Job: done}, err
	}

	return &sfbulk.IngestResult{Job: done, Results: results}, jobOutcome("ingest", done)
}

// Query runs a complete query job: create, await, and return the rows.
func (c *JobsClient) Query(ctx context.Context, soql string, opts *sfbulk.QueryOptions) (*sfbulk.QueryResult, error) {
	if opts == nil {
		opts = &sfbulk.QueryOptions{}
	}

	operation := sfbulk.OperationQuery
	if opts.IncludeDeleted {
		operation = sfbulk.OperationQueryAll
	}

	job, err := c.Create(ctx, sfbulk.CreateJobRequest{Operation: operation, Query: soql, Format: opts.Format})
	if err != nil {
		return nil, err
	}

	done, err := c.AwaitCompletion(ctx, job, 0, 0)
	if err != nil {
		return &sfbulk.QueryResult{Job: done}, err
	}

	err = jobOutcome("query", done)
	if err != nil {
		return &sfbulk.QueryResult{Job: done, Records: sfbulk.EmptyRecordIterator()}, err
	}

	results, err := c.FetchResults(ctx, done, &opts.Fetch)
	if err != nil {
		return &sfbulk.QueryResult{Job: done}, err
	}

	return &sfbulk.QueryResult{Job: done, Records: results.Successful}, nil
}

// abortAfterFailure aborts job on a context that outlives the caller's
// cancellation, and joins any abort failure to cause.
func (c *JobsClient) abortAfterFailure(ctx context.Context, job sfbulk.Job, cause error) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShortHTTPTimeout)
	defer cancel()

	_, err := c.Abort(cleanupCtx, job)
	if err != nil {
		c.logger.Warn("Failed to abort job after error", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})

		return multierror.Append(cause, err)
	}

	return cause
}

// jobOutcome turns a terminal unsuccessful job into an error.
func jobOutcome(op string, job sfbulk.Job) error {
	switch job.State {
	case sfbulk.JobStateFailed:
		return &sfbulk.Error{Kind: sfbulk.KindBusinessLogic, Op: op, Message: job.ErrorMessage, Err: sfbulk.ErrJobFailed}
	case sfbulk.JobStateAborted:
		return &sfbulk.Error{Kind: sfbulk.KindBusinessLogic, Op: op, Message: job.ErrorMessage, Err: sfbulk.ErrJobAborted}
	default:
		return nil
	}
}
