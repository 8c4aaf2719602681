package commands

import (
	"fmt"
	"strings"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/spf13/cobra"
)

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	var (
		includeDeleted bool
		maxRecords     int
		outFile        string
	)

	cmd := &cobra.Command{
		Use:   "query SOQL",
		Short: "Run a bulk query",
		Long:  "Run a SOQL query as a bulk job and print the rows as CSV (or json/yaml with --output)",
		Example: `  sfbulk query "SELECT Id, Name FROM Account"
  sfbulk query --all --out accounts.csv "SELECT Id FROM Account WHERE IsDeleted = true"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			soql := strings.TrimSpace(strings.Join(args, " "))
			if soql == "" {
				return constants.ErrQueryRequired
			}

			c, cleanup, err := createClient(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := c.Jobs().Query(cmd.Context(), soql, &sfbulk.QueryOptions{
				IncludeDeleted: includeDeleted,
				Fetch:          sfbulk.FetchOptions{MaxRecordsPerPage: maxRecords},
			})
			if err != nil {
				if result != nil && result.Job.ID != "" {
					return fmt.Errorf("query job %s: %w", result.Job.ID, err)
				}

				return fmt.Errorf("query failed: %w", err)
			}

			writer, closeOut, err := openOutput(cmd, outFile)
			if err != nil {
				return err
			}
			defer closeOut()

			count, err := renderRecords(writer, resultsFormat(), result.Records)
			if err != nil {
				return err
			}

			if outFile != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d record(s) to %s\n", count, outFile)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "all", false, "include deleted and archived records (queryAll)")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "records per result page")
	cmd.Flags().StringVar(&outFile, "out", "", "write rows to a file instead of stdout")

	return cmd
}
