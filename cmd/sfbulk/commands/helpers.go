package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/auth"
	"github.com/fivetwenty-io/sfbulk/internal/client"
	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/internal/events"
	"github.com/fivetwenty-io/sfbulk/internal/logging"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func outputFormat() string {
	output := viper.GetString("output")
	if output == "" {
		return constants.FormatTable
	}

	return output
}

func validateOutputFormat(format string) error {
	switch format {
	case constants.FormatTable, constants.FormatJSON, constants.FormatYAML, constants.FormatCSV:
		return nil
	default:
		return fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, format)
	}
}

// newLogger builds the CLI logger. Verbose output switches to debug level.
func newLogger() *logging.Logger {
	level := "warn"
	if viper.GetBool("verbose") {
		level = "debug"
	}

	return logging.New(logging.Options{Name: "sfbulk", Level: level, Output: os.Stderr})
}

// tokenSource builds the token source recorded by login.
func tokenSource(config *Config) (auth.TokenSource, error) {
	switch config.AuthMethod {
	case authMethodJWT:
		// #nosec G304 -- the key path comes from the user's own configuration
		keyPEM, err := os.ReadFile(config.JWTKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading JWT key: %w", err)
		}

		key, err := auth.ParsePrivateKey(keyPEM)
		if err != nil {
			return nil, err
		}

		return auth.NewJWTBearerSource(&auth.JWTConfig{
			LoginURL:   config.LoginURL,
			ClientID:   config.ClientID,
			Username:   config.Username,
			PrivateKey: key,
		})
	case authMethodClientCredentials:
		return auth.NewOAuth2Source(&auth.OAuth2Config{
			LoginURL:     config.LoginURL,
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
		}), nil
	case authMethodRefreshToken, authMethodPassword:
		if config.RefreshToken == "" {
			if config.AuthMethod == authMethodPassword {
				return nil, nil //nolint:nilnil // the session is used as-is
			}

			return nil, constants.ErrNoRefreshToken
		}

		return auth.NewOAuth2Source(&auth.OAuth2Config{
			LoginURL:     config.LoginURL,
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RefreshToken: config.RefreshToken,
		}), nil
	default:
		return nil, nil //nolint:nilnil // static session
	}
}

// credentialsFor returns a provider for the saved session. Sessions that
// can be renewed use a refreshing provider seeded with the stored token.
func credentialsFor(ctx context.Context, config *Config, logger sfbulk.Logger) (sfbulk.CredentialProvider, error) {
	if config.InstanceURL == "" || config.AccessToken == "" {
		return nil, constants.ErrNoInstanceConfigured
	}

	source, err := tokenSource(config)
	if err != nil {
		return nil, err
	}

	if source == nil {
		credentials, err := auth.NewCredentials(config.InstanceURL, config.AccessToken)
		if err != nil {
			return nil, err
		}

		return credentials.WithAPIVersion(config.APIVersion), nil
	}

	stored := &auth.Token{AccessToken: config.AccessToken, InstanceURL: config.InstanceURL, RefreshToken: config.RefreshToken}
	if config.TokenExpiresAt != nil {
		stored.ExpiresAt = *config.TokenExpiresAt
	}

	// The stored token is used while valid; later tokens come from source and are saved.
	seeded := &seededSource{first: stored, next: auth.NewPersistingSource(source, NewConfigPersister(), logger)}

	return auth.NewRefreshingProvider(ctx, seeded, auth.WithProviderLogger(logger))
}

// seededSource returns a stored token once, then defers to next.
type seededSource struct {
	first *auth.Token
	next  auth.TokenSource
}

func (s *seededSource) Token(ctx context.Context) (*auth.Token, error) {
	if s.first != nil && s.first.Valid() {
		token := s.first
		s.first = nil

		return token, nil
	}

	s.first = nil

	return s.next.Token(ctx)
}

// createClient builds a client from the saved configuration. The returned
// cleanup closes the event publisher, if any.
func createClient(ctx context.Context) (*client.Client, func(), error) {
	config := loadConfig()
	logger := newLogger()

	credentials, err := credentialsFor(ctx, config, logger)
	if err != nil {
		return nil, nil, err
	}

	clientConfig := &sfbulk.Config{
		Credentials: credentials,
		APIVersion:  config.APIVersion,
		Logger:      logger,
		Debug:       viper.GetBool("verbose"),
	}

	cleanup := func() {}

	if config.NATSURL != "" {
		opts := []events.Option{events.WithFlush()}
		if config.EventsSubject != "" {
			opts = append(opts, events.WithSubjectPrefix(config.EventsSubject))
		}

		publisher, err := events.Connect(config.NATSURL, opts...)
		if err != nil {
			logger.Warn("Job events disabled", map[string]interface{}{"error": err.Error()})
		} else {
			clientConfig.Publisher = publisher
			cleanup = publisher.Close
		}
	}

	c, err := client.New(ctx, clientConfig)
	if err != nil {
		cleanup()

		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	return c, cleanup, nil
}

func encodeValue(writer io.Writer, format string, value interface{}) (bool, error) {
	switch format {
	case constants.FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")

		return true, encoder.Encode(value)
	case constants.FormatYAML:
		return true, yaml.NewEncoder(writer).Encode(value)
	default:
		return false, nil
	}
}

func renderJob(writer io.Writer, format string, job sfbulk.Job) error {
	handled, err := encodeValue(writer, format, job)
	if handled {
		return err
	}

	table := tablewriter.NewWriter(writer)
	table.Header("Property", "Value")

	_ = table.Append("ID", job.ID)
	_ = table.Append("Kind", string(job.Kind))
	_ = table.Append("Operation", string(job.Operation))
	_ = table.Append("State", string(job.State))

	if job.Object != "" {
		_ = table.Append("Object", job.Object)
	}

	if job.Query != "" {
		_ = table.Append("Query", job.Query)
	}

	if job.CreatedDate != "" {
		_ = table.Append("Created", job.CreatedDate)
	}

	if counts, ok := job.Counts(); ok {
		_ = table.Append("Processed", strconv.FormatInt(counts.Processed, 10))
		_ = table.Append("Failed", strconv.FormatInt(counts.Failed, 10))
		_ = table.Append("Success Rate", fmt.Sprintf("%.1f%%", job.SuccessRate()*100)) //nolint:mnd
	}

	if job.ErrorMessage != "" {
		_ = table.Append("Error", job.ErrorMessage)
	}

	err = table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func renderJobs(writer io.Writer, format string, jobs []sfbulk.Job) error {
	handled, err := encodeValue(writer, format, jobs)
	if handled {
		return err
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(writer, "No jobs found")

		return nil
	}

	table := tablewriter.NewWriter(writer)
	table.Header("ID", "Kind", "Operation", "Object", "State", "Created")

	for _, job := range jobs {
		_ = table.Append(job.ID, string(job.Kind), string(job.Operation), job.Object, string(job.State), job.CreatedDate)
	}

	err = table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// renderRecords drains records as CSV, or as json/yaml lists of maps.
func renderRecords(writer io.Writer, format string, records *sfbulk.RecordIterator) (int, error) {
	all, err := records.All()
	if err != nil {
		return 0, fmt.Errorf("reading results: %w", err)
	}

	values := make([][]string, 0, len(all))
	for _, record := range all {
		values = append(values, record.Values())
	}

	return len(values), renderRows(writer, format, records.Header(), values)
}

func renderRows(writer io.Writer, format string, header []string, rows [][]string) error {
	if format == constants.FormatJSON || format == constants.FormatYAML {
		maps := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			maps = append(maps, sfbulk.NewRecord(header, row).Map())
		}

		_, err := encodeValue(writer, format, maps)

		return err
	}

	if len(header) == 0 {
		return nil
	}

	data, err := sfbulk.EncodeCSV(sfbulk.DefaultContentFormat(), header, rows)
	if err != nil {
		return err
	}

	_, err = writer.Write(data)

	return err
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}

	return duration, nil
}
