package sfbulk_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIErrors(t *testing.T) {
	t.Parallel()

	list := sfbulk.ParseAPIErrors([]byte(`[{"errorCode":"INVALIDJOB","message":"Invalid job id"},{"errorCode":"","message":""}]`))
	require.Len(t, list, 1)
	assert.Equal(t, "INVALIDJOB", list[0].ErrorCode)

	single := sfbulk.ParseAPIErrors([]byte(`{"errorCode":"INVALID_FIELD","message":"No such column","fields":["Foo__c"]}`))
	require.Len(t, single, 1)
	assert.Equal(t, "INVALID_FIELD: No such column (fields: Foo__c)", single[0].Error())

	assert.Nil(t, sfbulk.ParseAPIErrors([]byte("<html>maintenance</html>")))
	assert.Nil(t, sfbulk.ParseAPIErrors(nil))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := &sfbulk.Error{
		Kind:       sfbulk.KindBusinessLogic,
		Op:         "close job",
		StatusCode: 400,
		APIErrors:  []sfbulk.APIError{{ErrorCode: "INVALIDJOBSTATE", Message: "Job is not open"}},
	}
	assert.Equal(t, "close job: BusinessLogic (HTTP 400): INVALIDJOBSTATE: Job is not open", err.Error())

	exhausted := &sfbulk.Error{Kind: sfbulk.KindRetriesExhausted, Op: "poll job", Attempts: 3, Err: errors.New("boom")}
	assert.Equal(t, "poll job: RetriesExhausted after 3 attempt(s): boom", exhausted.Error())

	assert.Equal(t, "ErrorKind(99)", sfbulk.ErrorKind(99).String())
}

func TestErrorRetryable(t *testing.T) {
	t.Parallel()

	retryAfter := time.Second

	assert.True(t, (&sfbulk.Error{Kind: sfbulk.KindRateLimited, RetryAfter: &retryAfter}).Retryable())
	assert.True(t, (&sfbulk.Error{Kind: sfbulk.KindTimeout}).Retryable())
	assert.True(t, (&sfbulk.Error{Kind: sfbulk.KindConnection}).Retryable())
	assert.True(t, (&sfbulk.Error{Kind: sfbulk.KindHTTP, StatusCode: 502}).Retryable())
	assert.False(t, (&sfbulk.Error{Kind: sfbulk.KindHTTP, StatusCode: 501}).Retryable())
	assert.False(t, (&sfbulk.Error{Kind: sfbulk.KindWaitTimeout}).Retryable())
	assert.False(t, (&sfbulk.Error{Kind: sfbulk.KindRetriesExhausted}).Retryable())
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("polling job 750: %w", &sfbulk.Error{Kind: sfbulk.KindNotFound, StatusCode: 404})

	assert.True(t, sfbulk.IsNotFound(wrapped))
	assert.False(t, sfbulk.IsRetryable(wrapped))
	assert.Equal(t, sfbulk.KindNotFound, sfbulk.KindOf(wrapped))
	assert.Equal(t, sfbulk.KindUnknown, sfbulk.KindOf(errors.New("plain")))

	stateErr := sfbulk.NewJobStateError("upload job data", sfbulk.Job{ID: "750", State: sfbulk.JobStateInProgress}, "an open ingest job")
	assert.True(t, sfbulk.IsJobStateError(stateErr))
	assert.Contains(t, stateErr.Error(), "job 750 is InProgress")

	validation := sfbulk.NewValidationError("create job", sfbulk.ErrObjectRequired)
	require.ErrorIs(t, validation, sfbulk.ErrObjectRequired)
	assert.Equal(t, sfbulk.KindValidation, sfbulk.KindOf(validation))

	assert.True(t, sfbulk.IsRateLimited(&sfbulk.Error{Kind: sfbulk.KindRateLimited}))
	assert.True(t, sfbulk.IsUnauthorized(&sfbulk.Error{Kind: sfbulk.KindAuthentication}))
	assert.True(t, sfbulk.IsForbidden(&sfbulk.Error{Kind: sfbulk.KindAuthorization}))
	assert.True(t, sfbulk.IsWaitTimeout(&sfbulk.Error{Kind: sfbulk.KindWaitTimeout}))
	assert.True(t, sfbulk.IsRetriesExhausted(&sfbulk.Error{Kind: sfbulk.KindRetriesExhausted}))
}
