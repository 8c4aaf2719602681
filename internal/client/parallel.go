package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	sfhttp "github.com/fivetwenty-io/sfbulk/internal/http"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// FetchQueryResultsParallel downloads every result chunk of a terminal query
// job concurrently. Rows come back in chunk order. Any failed chunk fails
// the whole call, with every chunk error aggregated.
func (c *JobsClient) FetchQueryResultsParallel(ctx context.Context, job sfbulk.Job, opts *sfbulk.FetchOptions) ([]string, [][]string, error) {
	const op = "fetch parallel query results"

	err := requireID(op, job)
	if err != nil {
		return nil, nil, err
	}

	if kindOf(job) != sfbulk.JobKindQuery {
		return nil, nil, sfbulk.NewValidationError(op, sfbulk.ErrNotQueryJob)
	}

	if !job.State.IsTerminal() {
		return nil, nil, sfbulk.NewJobStateError(op, job, "a terminal job")
	}

	resultURLs, err := c.parallelResultURLs(ctx, op, job, opts)
	if err != nil {
		return nil, nil, err
	}

	concurrency := c.concurrency
	if opts != nil && opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}

	chunks := make([][][]string, len(resultURLs))

	var (
		group  errgroup.Group
		mu     sync.Mutex
		result *multierror.Error
	)

	group.SetLimit(concurrency)

	for index, resultURL := range resultURLs {
		group.Go(func() error {
			rows, err := c.fetchChunk(ctx, resultURL, job.Format())
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("result chunk %d: %w", index, err))
				mu.Unlock()

				return err
			}

			chunks[index] = rows

			return nil
		})
	}

	// Chunk errors are aggregated in result; Wait only reports the first.
	_ = group.Wait()

	err = result.ErrorOrNil()
	if err != nil {
		return nil, nil, fmt.Errorf("fetching results of job %s: %w", job.ID, err)
	}

	return mergeChunks(op, chunks)
}

func (c *JobsClient) parallelResultURLs(ctx context.Context, op string, job sfbulk.Job, opts *sfbulk.FetchOptions) ([]string, error) {
	query := url.Values{}
	if opts != nil && opts.MaxRecordsPerPage > 0 {
		query.Set("maxRecords", strconv.Itoa(opts.MaxRecordsPerPage))
	}

	var resultURLs []string

	next := c.jobPath(job) + "/parallelResults"
	for next != "" {
		batch, _, err := call[sfbulk.ParallelResultsBatch](ctx, c.requester, op, &sfhttp.Request{
			Method: http.MethodGet,
			Path:   c.absoluteURL(next),
			Query:  query,
		})
		if err != nil {
			return nil, fmt.Errorf("listing result chunks of job %s: %w", job.ID, err)
		}

		for _, resultURL := range batch.ResultURLs {
			resultURLs = append(resultURLs, c.absoluteURL(resultURL))
		}

		if batch.NextRecordsURL == next {
			return nil, &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: op, Err: sfbulk.ErrStalledContinuation}
		}

		next = batch.NextRecordsURL
		query = nil
	}

	return resultURLs, nil
}

// absoluteURL resolves server-relative URLs against the instance URL.
func (c *JobsClient) absoluteURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}

	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}

	return c.requester.http.InstanceURL() + target
}

func (c *JobsClient) fetchChunk(ctx context.Context, resultURL string, format sfbulk.ContentFormat) ([][]string, error) {
	resp, err := c.requester.do(ctx, "fetch result chunk", &sfhttp.Request{
		Method: http.MethodGet,
		Path:   resultURL,
		Accept: constants.ContentTypeCSV,
	})
	if err != nil {
		return nil, err
	}

	rows, err := sfbulk.ParseCSVRows(resp.Body, format)
	if err != nil {
		return nil, &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: "parse result chunk", Err: err}
	}

	return rows, nil
}

// mergeChunks strips each chunk's header row and concatenates the data rows.
func mergeChunks(op string, chunks [][][]string) ([]string, [][]string, error) {
	var (
		header []string
		rows   [][]string
	)

	for _, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}

		if header == nil {
			header = chunk[0]
		} else if !slices.Equal(header, chunk[0]) {
			return nil, nil, &sfbulk.Error{Kind: sfbulk.KindSerialization, Op: op, Err: sfbulk.ErrInconsistentCSVHeader}
		}

		rows = append(rows, chunk[1:]...)
	}

	return header, rows, nil
}
