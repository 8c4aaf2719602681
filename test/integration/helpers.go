//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/fivetwenty-io/sfbulk/pkg/sfclient"
)

// TestConfig holds configuration for integration tests
type TestConfig struct {
	InstanceURL string
	AccessToken string
	APIVersion  string
	BinaryPath  string
	Verbose     bool
}

// LoadTestConfig loads configuration from environment variables
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		InstanceURL: os.Getenv("SF_INSTANCE_URL"),
		AccessToken: os.Getenv("SF_ACCESS_TOKEN"),
		APIVersion:  os.Getenv("SF_API_VERSION"),
		BinaryPath:  getBinaryPath(),
		Verbose:     os.Getenv("SFBULK_VERBOSE") == "true",
	}
}

// getBinaryPath determines the path to the sfbulk binary
func getBinaryPath() string {
	if path := os.Getenv("SFBULK_BINARY_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"../../sfbulk",
		"./sfbulk",
		"../sfbulk",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "sfbulk"
}

// SkipIfMissingConfig skips test if required config is missing
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	t.Helper()

	if os.Getenv("SFBULK_INTEGRATION") != "1" {
		t.Skip("SFBULK_INTEGRATION not set, skipping integration test")
	}

	if config.InstanceURL == "" || config.AccessToken == "" {
		t.Skip("SF_INSTANCE_URL or SF_ACCESS_TOKEN not set, skipping integration test")
	}
}

// SkipIfMissingBinary skips test if the CLI binary cannot be found
func (config *TestConfig) SkipIfMissingBinary(t *testing.T) {
	t.Helper()

	if _, err := os.Stat(config.BinaryPath); os.IsNotExist(err) {
		t.Skipf("sfbulk binary not found at %s, skipping integration test", config.BinaryPath)
	}
}

// NewClient creates a library client for the configured org
func (config *TestConfig) NewClient(t *testing.T) sfbulk.Client {
	t.Helper()

	var opts []sfclient.Option
	if config.APIVersion != "" {
		opts = append(opts, sfclient.WithAPIVersion(config.APIVersion))
	}

	client, err := sfclient.NewWithToken(context.Background(), config.InstanceURL, config.AccessToken, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	return client
}

// CommandRunner provides utilities for running sfbulk commands
type CommandRunner struct {
	config     *TestConfig
	t          *testing.T
	configFile string
}

// NewCommandRunner creates a runner with its own config file
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	t.Helper()

	return &CommandRunner{
		config:     config,
		t:          t,
		configFile: t.TempDir() + "/config.yml",
	}
}

// Run executes a sfbulk command and returns output
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	return runner.RunWithInput("", args...)
}

// RunWithInput executes a sfbulk command with stdin input
func (runner *CommandRunner) RunWithInput(input string, args ...string) (stdout, stderr string, err error) {
	args = append([]string{"--config", runner.configFile}, args...)

	// #nosec G204 -- test binary and arguments are controlled by the test
	cmd := exec.Command(runner.config.BinaryPath, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.Stdin = strings.NewReader(input)

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.BinaryPath, strings.Join(args, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// Login stores the test session in the runner's config file
func (runner *CommandRunner) Login() error {
	_, stderr, err := runner.Run("login",
		"--instance-url", runner.config.InstanceURL,
		"--token", runner.config.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to log in: %s", stderr)
	}

	return nil
}

// GenerateTestName creates a unique test record name
func GenerateTestName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// CleanupJob deletes a job, ignoring failures
func CleanupJob(t *testing.T, client sfbulk.Client, job sfbulk.Job) {
	t.Helper()

	if job.ID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := client.Jobs().Abort(ctx, job); err != nil {
		t.Logf("Cleanup warning for job %s: %v", job.ID, err)
	}

	if err := client.Jobs().Delete(ctx, job); err != nil {
		t.Logf("Cleanup warning for job %s: %v", job.ID, err)
	}
}
