package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/spf13/cobra"
)

// Result stream names accepted by jobs results.
const (
	resultsSuccessful  = "successful"
	resultsFailed      = "failed"
	resultsUnprocessed = "unprocessed"
)

// NewJobsCommand creates the jobs command group.
func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Manage bulk jobs",
		Long:    "List, inspect, await and clean up Bulk API 2.0 jobs",
	}

	cmd.PersistentFlags().String("kind", string(sfbulk.JobKindIngest), "job kind (ingest, query)")

	cmd.AddCommand(newJobsListCommand())
	cmd.AddCommand(newJobsGetCommand())
	cmd.AddCommand(newJobsWaitCommand())
	cmd.AddCommand(newJobsCloseCommand())
	cmd.AddCommand(newJobsAbortCommand())
	cmd.AddCommand(newJobsDeleteCommand())
	cmd.AddCommand(newJobsResultsCommand())

	return cmd
}

func jobKindFlag(cmd *cobra.Command) (sfbulk.JobKind, error) {
	value, err := cmd.Flags().GetString("kind")
	if err != nil {
		return "", fmt.Errorf("reading --kind: %w", err)
	}

	return sfbulk.ParseJobKind(value)
}

// lookupJob fetches the job named on the command line.
func lookupJob(cmd *cobra.Command, jobs sfbulk.JobsClient, id string) (sfbulk.Job, error) {
	kind, err := jobKindFlag(cmd)
	if err != nil {
		return sfbulk.Job{}, err
	}

	job, err := jobs.Get(cmd.Context(), kind, id)
	if err != nil {
		return sfbulk.Job{}, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

func newJobsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Long:  "List the jobs of one kind visible to the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := jobKindFlag(cmd)
			if err != nil {
				return err
			}

			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			jobs, err := c.Jobs().List(cmd.Context(), kind)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			return renderJobs(cmd.OutOrStdout(), outputFormat(), jobs)
		},
	}
}

func newJobsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Get job details",
		Long:  "Display detailed information about a specific job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := lookupJob(cmd, c.Jobs(), args[0])
			if err != nil {
				return err
			}

			return renderJob(cmd.OutOrStdout(), outputFormat(), job)
		},
	}
}

func newJobsWaitCommand() *cobra.Command {
	var (
		interval string
		timeout  string
	)

	cmd := &cobra.Command{
		Use:   "wait JOB_ID",
		Short: "Wait for a job to finish",
		Long:  "Poll a job until it completes, fails, is aborted, or the timeout elapses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pollInterval, err := parseDuration(interval, constants.DefaultPollInterval)
			if err != nil {
				return err
			}

			maxWait, err := parseDuration(timeout, constants.DefaultMaxWait)
			if err != nil {
				return err
			}

			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := lookupJob(cmd, c.Jobs(), args[0])
			if err != nil {
				return err
			}

			job, err = c.Jobs().AwaitCompletion(cmd.Context(), job, pollInterval, maxWait)
			if err != nil {
				return fmt.Errorf("failed waiting for job %s: %w", args[0], err)
			}

			return renderJob(cmd.OutOrStdout(), outputFormat(), job)
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "poll interval (default 5s)")
	cmd.Flags().StringVar(&timeout, "timeout", "", "maximum time to wait (default 1h)")

	return cmd
}

func newJobsCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close JOB_ID",
		Short: "Mark an ingest job's upload as complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := c.Jobs().Get(cmd.Context(), sfbulk.JobKindIngest, args[0])
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}

			job, err = c.Jobs().Close(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("failed to close job: %w", err)
			}

			return renderJob(cmd.OutOrStdout(), outputFormat(), job)
		},
	}
}

func newJobsAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort JOB_ID",
		Short: "Abort a job",
		Long:  "Abort a job that has not finished. Finished jobs are left unchanged.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := lookupJob(cmd, c.Jobs(), args[0])
			if err != nil {
				return err
			}

			job, err = c.Jobs().Abort(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("failed to abort job: %w", err)
			}

			return renderJob(cmd.OutOrStdout(), outputFormat(), job)
		},
	}
}

func newJobsDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete JOB_ID",
		Short: "Delete a job",
		Long:  "Delete a job and its results. Unfinished jobs are aborted first when --force is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := lookupJob(cmd, c.Jobs(), args[0])
			if err != nil {
				return err
			}

			if !job.State.IsTerminal() && force {
				job, err = c.Jobs().Abort(cmd.Context(), job)
				if err != nil {
					return fmt.Errorf("failed to abort job: %w", err)
				}
			}

			err = c.Jobs().Delete(cmd.Context(), job)
			if err != nil {
				return fmt.Errorf("failed to delete job: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", job.ID)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "abort the job first if it is still running")

	return cmd
}

func newJobsResultsCommand() *cobra.Command {
	var (
		stream     string
		maxRecords int
		parallel   bool
		outFile    string
	)

	cmd := &cobra.Command{
		Use:   "results JOB_ID",
		Short: "Download job results",
		Long: `Download the results of a finished job as CSV (or json/yaml with --output).

Ingest jobs have successful, failed and unprocessed streams. Query jobs have
one stream; --parallel downloads its chunks concurrently.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := lookupJob(cmd, c.Jobs(), args[0])
			if err != nil {
				return err
			}

			writer, closeOut, err := openOutput(cmd, outFile)
			if err != nil {
				return err
			}
			defer closeOut()

			opts := &sfbulk.FetchOptions{MaxRecordsPerPage: maxRecords}
			format := resultsFormat()

			if parallel {
				header, rows, err := c.Jobs().FetchQueryResultsParallel(cmd.Context(), job, opts)
				if err != nil {
					return fmt.Errorf("failed to fetch results: %w", err)
				}

				return renderRows(writer, format, header, rows)
			}

			results, err := c.Jobs().FetchResults(cmd.Context(), job, opts)
			if err != nil {
				return fmt.Errorf("failed to fetch results: %w", err)
			}

			records, err := selectStream(results, stream)
			if err != nil {
				return err
			}

			_, err = renderRecords(writer, format, records)

			return err
		},
	}

	cmd.Flags().StringVar(&stream, "type", resultsSuccessful, "result stream (successful, failed, unprocessed)")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "records per page")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "download query result chunks concurrently")
	cmd.Flags().StringVar(&outFile, "out", "", "write results to a file instead of stdout")

	return cmd
}

func selectStream(results *sfbulk.ResultSet, stream string) (*sfbulk.RecordIterator, error) {
	switch stream {
	case resultsSuccessful:
		return results.Successful, nil
	case resultsFailed:
		return results.Failed, nil
	case resultsUnprocessed:
		return results.Unprocessed, nil
	default:
		return nil, fmt.Errorf("%w: %s", constants.ErrInvalidResultType, stream)
	}
}

// resultsFormat maps the table output format to CSV.
func resultsFormat() string {
	format := outputFormat()
	if format == constants.FormatTable {
		return constants.FormatCSV
	}

	return format
}

// openOutput returns stdout, or the named file created with owner-only permissions.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}

	// #nosec G304 -- the output path is supplied by the user
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.ConfigFilePerm)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return file, func() { _ = file.Close() }, nil
}
