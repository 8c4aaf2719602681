package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/spf13/cobra"
)

type ingestOptions struct {
	object     string
	operation  string
	externalID string
	file       string
	delimiter  string
	lineEnding string
	failedOut  string
	noWait     bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand() *cobra.Command {
	opts := &ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a CSV file into an object",
		Long: `Create an ingest job, upload a CSV file, and wait for the job to finish.

Use --file - to read the CSV from stdin. Failed rows can be saved with --failed-out.`,
		Example: `  sfbulk ingest --object Account --file accounts.csv
  sfbulk ingest --object Contact --operation upsert --external-id Email__c --file contacts.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.object, "object", "", "target sObject")
	cmd.Flags().StringVar(&opts.operation, "operation", string(sfbulk.OperationInsert), "insert, update, upsert, delete, or hardDelete")
	cmd.Flags().StringVar(&opts.externalID, "external-id", "", "external ID field for upsert")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "CSV file to upload")
	cmd.Flags().StringVar(&opts.delimiter, "delimiter", string(sfbulk.DelimiterComma), "column delimiter")
	cmd.Flags().StringVar(&opts.lineEnding, "line-ending", string(sfbulk.LineEndingLF), "line ending (LF, CRLF)")
	cmd.Flags().StringVar(&opts.failedOut, "failed-out", "", "write failed rows to this file")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "return once the upload is complete")

	return cmd
}

func (o *ingestOptions) request() (sfbulk.CreateJobRequest, error) {
	if o.object == "" {
		return sfbulk.CreateJobRequest{}, constants.ErrObjectRequired
	}

	if o.file == "" {
		return sfbulk.CreateJobRequest{}, constants.ErrFileRequired
	}

	operation, err := sfbulk.ParseOperation(o.operation)
	if err != nil {
		return sfbulk.CreateJobRequest{}, err
	}

	delimiter, err := sfbulk.ParseColumnDelimiter(o.delimiter)
	if err != nil {
		return sfbulk.CreateJobRequest{}, err
	}

	lineEnding, err := sfbulk.ParseLineEnding(o.lineEnding)
	if err != nil {
		return sfbulk.CreateJobRequest{}, err
	}

	return sfbulk.CreateJobRequest{
		Operation:           operation,
		Object:              o.object,
		ExternalIDFieldName: o.externalID,
		Format:              sfbulk.ContentFormat{ColumnDelimiter: delimiter, LineEnding: lineEnding},
	}, nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}

	// #nosec G304 -- the input path is supplied by the user
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return file, func() { _ = file.Close() }, nil
}

func runIngest(cmd *cobra.Command, opts *ingestOptions) error {
	req, err := opts.request()
	if err != nil {
		return err
	}

	payload, closeIn, err := openInput(cmd, opts.file)
	if err != nil {
		return err
	}
	defer closeIn()

	c, cleanup, err := createClient(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	jobs := c.Jobs()

	if opts.noWait {
		job, err := jobs.Create(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		err = jobs.Upload(ctx, job, payload)
		if err == nil {
			job, err = jobs.Close(ctx, job)
		}

		if err != nil {
			_, _ = jobs.Abort(ctx, job)

			return fmt.Errorf("failed to submit job %s: %w", job.ID, err)
		}

		return renderJob(cmd.OutOrStdout(), outputFormat(), job)
	}

	result, ingestErr := jobs.Ingest(ctx, req, payload)
	if result == nil {
		return fmt.Errorf("ingest failed: %w", ingestErr)
	}

	if result.Job.ID != "" {
		err = renderJob(cmd.OutOrStdout(), outputFormat(), result.Job)
		if err != nil {
			return err
		}
	}

	if opts.failedOut != "" && result.Results != nil {
		err = writeFailedRows(cmd, opts.failedOut, result.Results.Failed)
		if err != nil {
			return err
		}
	}

	if ingestErr != nil {
		return fmt.Errorf("ingest failed: %w", ingestErr)
	}

	return nil
}

func writeFailedRows(cmd *cobra.Command, path string, records *sfbulk.RecordIterator) error {
	writer, closeOut, err := openOutput(cmd, path)
	if err != nil {
		return err
	}
	defer closeOut()

	count, err := renderRecords(writer, constants.FormatCSV, records)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d failed record(s) to %s\n", count, path)

	return nil
}
