package commands

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedJob() sfbulk.Job {
	return sfbulk.Job{
		ID:                     "7505g00000AbCdE",
		Kind:                   sfbulk.JobKindIngest,
		Operation:              sfbulk.OperationInsert,
		Object:                 "Account",
		State:                  sfbulk.JobStateJobComplete,
		NumberRecordsProcessed: 4,
		NumberRecordsFailed:    1,
	}
}

func pagedRecords(body string) *sfbulk.RecordIterator {
	return sfbulk.NewRecordIterator(context.Background(), sfbulk.DefaultContentFormat(),
		func(context.Context, string) (sfbulk.Page, error) {
			return sfbulk.Page{Body: []byte(body)}, nil
		})
}

func TestRenderJob(t *testing.T) {
	t.Parallel()

	t.Run("table", func(t *testing.T) {
		t.Parallel()

		out := &bytes.Buffer{}
		require.NoError(t, renderJob(out, constants.FormatTable, finishedJob()))
		assert.Contains(t, out.String(), "7505g00000AbCdE")
		assert.Contains(t, out.String(), "JobComplete")
		assert.Contains(t, out.String(), "75.0%")
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		out := &bytes.Buffer{}
		require.NoError(t, renderJob(out, constants.FormatJSON, finishedJob()))
		assert.Contains(t, out.String(), `"id": "7505g00000AbCdE"`)
		assert.Contains(t, out.String(), `"numberRecordsFailed": 1`)
	})

	t.Run("open job has no counts", func(t *testing.T) {
		t.Parallel()

		job := finishedJob()
		job.State = sfbulk.JobStateOpen

		out := &bytes.Buffer{}
		require.NoError(t, renderJob(out, constants.FormatTable, job))
		assert.NotContains(t, out.String(), "Success Rate")
	})
}

func TestRenderJobs(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	require.NoError(t, renderJobs(out, constants.FormatTable, nil))
	assert.Equal(t, "No jobs found\n", out.String())

	out.Reset()
	require.NoError(t, renderJobs(out, constants.FormatYAML, []sfbulk.Job{finishedJob()}))
	assert.Contains(t, out.String(), "id: 7505g00000AbCdE")
}

func TestRenderRecords(t *testing.T) {
	t.Parallel()

	body := "Id,Name\n001A,\"Acme, Inc\"\n001B,Globex\n"

	t.Run("csv", func(t *testing.T) {
		t.Parallel()

		out := &bytes.Buffer{}
		count, err := renderRecords(out, constants.FormatCSV, pagedRecords(body))
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, body, out.String())
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		out := &bytes.Buffer{}
		count, err := renderRecords(out, constants.FormatJSON, pagedRecords(body))
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Contains(t, out.String(), `"Name": "Acme, Inc"`)
	})

	t.Run("empty stream", func(t *testing.T) {
		t.Parallel()

		out := &bytes.Buffer{}
		count, err := renderRecords(out, constants.FormatCSV, sfbulk.EmptyRecordIterator())
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Empty(t, out.String())
	})
}

func TestSelectStream(t *testing.T) {
	t.Parallel()

	results := &sfbulk.ResultSet{
		Successful:  sfbulk.EmptyRecordIterator(),
		Failed:      sfbulk.EmptyRecordIterator(),
		Unprocessed: sfbulk.EmptyRecordIterator(),
	}

	stream, err := selectStream(results, resultsFailed)
	require.NoError(t, err)
	assert.Same(t, results.Failed, stream)

	_, err = selectStream(results, "errors")
	require.ErrorIs(t, err, constants.ErrInvalidResultType)
}

func TestIngestOptionsRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts ingestOptions
		err  error
	}{
		{name: "missing object", opts: ingestOptions{file: "a.csv"}, err: constants.ErrObjectRequired},
		{name: "missing file", opts: ingestOptions{object: "Account"}, err: constants.ErrFileRequired},
		{name: "bad operation", opts: ingestOptions{object: "Account", file: "a.csv", operation: "merge"}, err: sfbulk.ErrUnknownEnumValue},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := testCase.opts.request()
			require.ErrorIs(t, err, testCase.err)
		})
	}

	req, err := (&ingestOptions{
		object:     "Contact",
		file:       "contacts.csv",
		operation:  "upsert",
		externalID: "Email__c",
		delimiter:  "PIPE",
		lineEnding: "CRLF",
	}).request()
	require.NoError(t, err)
	assert.Equal(t, sfbulk.OperationUpsert, req.Operation)
	assert.Equal(t, "Email__c", req.ExternalIDFieldName)
	assert.Equal(t, sfbulk.DelimiterPipe, req.Format.ColumnDelimiter)
	assert.Equal(t, sfbulk.LineEndingCRLF, req.Format.LineEnding)
}

func TestJobsCommandStructure(t *testing.T) {
	t.Parallel()

	cmd := NewJobsCommand()
	assert.Equal(t, "jobs", cmd.Use)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("kind"))

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.ElementsMatch(t, []string{"list", "get", "wait", "close", "abort", "delete", "results"}, names)

	results := newJobsResultsCommand()
	for _, flag := range []string{"type", "max-records", "parallel", "out"} {
		assert.NotNil(t, results.Flags().Lookup(flag), "flag %s should exist", flag)
	}
}

func TestJobsGetCommand(t *testing.T) {
	useTempConfig(t)

	var paths []string

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		paths = append(paths, request.URL.Path)

		if request.Header.Get("Authorization") != "Bearer session-token" {
			writer.WriteHeader(http.StatusUnauthorized)

			return
		}

		writer.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(writer, `{"id":"750Q","operation":"query","query":"SELECT Id FROM Account",`+
			`"state":"InProgress","contentType":"CSV","apiVersion":62.0}`)
	}))
	defer server.Close()

	viper.Set("instance_url", server.URL)
	viper.Set("access_token", "session-token")
	viper.Set("api_version", "62.0")
	viper.Set("output", constants.FormatJSON)

	cmd := NewJobsCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"get", "750Q", "--kind", "query"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, []string{"/services/data/v62.0/jobs/query/750Q"}, paths)
	assert.Contains(t, out.String(), `"state": "InProgress"`)
	assert.True(t, strings.Contains(out.String(), `"query": "SELECT Id FROM Account"`))
}

func TestJobsCommandWithoutSession(t *testing.T) {
	useTempConfig(t)

	cmd := NewJobsCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"list"})

	require.ErrorIs(t, cmd.ExecuteContext(context.Background()), constants.ErrNoInstanceConfigured)
}
