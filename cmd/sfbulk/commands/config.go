package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/auth"
	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration.
type Config struct {
	// Connection
	InstanceURL string `json:"instance_url,omitempty" yaml:"instance_url,omitempty"`
	LoginURL    string `json:"login_url,omitempty"    yaml:"login_url,omitempty"`
	APIVersion  string `json:"api_version,omitempty"  yaml:"api_version,omitempty"`

	// Session
	AccessToken    string     `json:"access_token,omitempty"     yaml:"access_token,omitempty"`
	RefreshToken   string     `json:"refresh_token,omitempty"    yaml:"refresh_token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty" yaml:"token_expires_at,omitempty"`
	LastRefreshed  *time.Time `json:"last_refreshed,omitempty"   yaml:"last_refreshed,omitempty"`

	// Connected app
	AuthMethod   string `json:"auth_method,omitempty"   yaml:"auth_method,omitempty"`
	ClientID     string `json:"client_id,omitempty"     yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	Username     string `json:"username,omitempty"      yaml:"username,omitempty"`
	JWTKeyFile   string `json:"jwt_key_file,omitempty"  yaml:"jwt_key_file,omitempty"`

	// Job events
	NATSURL       string `json:"nats_url,omitempty"       yaml:"nats_url,omitempty"`
	EventsSubject string `json:"events_subject,omitempty" yaml:"events_subject,omitempty"`

	// Global settings
	Output string `json:"output" yaml:"output"`
}

// Authentication methods recorded by login.
const (
	authMethodToken             = "token"
	authMethodJWT               = "jwt"
	authMethodClientCredentials = "client_credentials"
	authMethodPassword          = "password"
	authMethodRefreshToken      = "refresh_token"
)

var secretKeys = map[string]bool{"access_token": true, "refresh_token": true, "client_secret": true}

// configSetters maps settable keys to their fields.
var configSetters = map[string]func(*Config, string){
	"instance_url":   func(c *Config, v string) { c.InstanceURL = v },
	"login_url":      func(c *Config, v string) { c.LoginURL = v },
	"api_version":    func(c *Config, v string) { c.APIVersion = v },
	"access_token":   func(c *Config, v string) { c.AccessToken = v },
	"refresh_token":  func(c *Config, v string) { c.RefreshToken = v },
	"auth_method":    func(c *Config, v string) { c.AuthMethod = v },
	"client_id":      func(c *Config, v string) { c.ClientID = v },
	"client_secret":  func(c *Config, v string) { c.ClientSecret = v },
	"username":       func(c *Config, v string) { c.Username = v },
	"jwt_key_file":   func(c *Config, v string) { c.JWTKeyFile = v },
	"nats_url":       func(c *Config, v string) { c.NATSURL = v },
	"events_subject": func(c *Config, v string) { c.EventsSubject = v },
	"output":         func(c *Config, v string) { c.Output = v },
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and change the sfbulk CLI configuration",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current CLI configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderConfig(cmd.OutOrStdout(), redactedConfig(loadConfig()), outputFormat())
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Keys: " + strings.Join(configKeys(), ", "),
		Args:  cobra.ExactArgs(constants.MinimumArgumentCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			err := setConfigValue(config, args[0], args[1])
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return err
			}

			value := args[1]
			if secretKeys[args[0]] {
				value = redactSecret(value)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], value)

			return nil
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset KEY",
		Short: "Unset a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()

			err := setConfigValue(config, args[0], "")
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])

			return nil
		},
	}
}

func configKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for key := range configSetters {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func setConfigValue(config *Config, key, value string) error {
	setter, ok := configSetters[key]
	if !ok {
		return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
	}

	if key == "output" && value != "" {
		err := validateOutputFormat(value)
		if err != nil {
			return err
		}
	}

	setter(config, value)

	return nil
}

// loadConfig reads the effective configuration from viper: flags, then
// SFBULK_* environment variables, then the config file.
func loadConfig() *Config {
	config := &Config{
		InstanceURL:   viper.GetString("instance_url"),
		LoginURL:      viper.GetString("login_url"),
		APIVersion:    viper.GetString("api_version"),
		AccessToken:   viper.GetString("access_token"),
		RefreshToken:  viper.GetString("refresh_token"),
		AuthMethod:    viper.GetString("auth_method"),
		ClientID:      viper.GetString("client_id"),
		ClientSecret:  viper.GetString("client_secret"),
		Username:      viper.GetString("username"),
		JWTKeyFile:    viper.GetString("jwt_key_file"),
		NATSURL:       viper.GetString("nats_url"),
		EventsSubject: viper.GetString("events_subject"),
		Output:        viper.GetString("output"),
	}

	config.TokenExpiresAt = parseConfigTime(viper.GetString("token_expires_at"))
	config.LastRefreshed = parseConfigTime(viper.GetString("last_refreshed"))

	return config
}

func parseConfigTime(value string) *time.Time {
	if value == "" {
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}

	return &parsed
}

// configFilePath returns the file in use, or the default location.
func configFilePath() (string, error) {
	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		return configFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, constants.ConfigDirName, constants.ConfigFileName), nil
}

func saveConfigStruct(config *Config) error {
	configFile, err := configFilePath()
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(configFile), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(configFile, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	viper.SetConfigFile(configFile)

	err = viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	return nil
}

func redactedConfig(config *Config) *Config {
	redacted := *config
	redacted.AccessToken = redactSecret(config.AccessToken)
	redacted.RefreshToken = redactSecret(config.RefreshToken)
	redacted.ClientSecret = redactSecret(config.ClientSecret)

	return &redacted
}

func redactSecret(value string) string {
	if value == "" {
		return ""
	}

	return auth.RedactToken(value)
}

func renderConfig(writer io.Writer, config *Config, format string) error {
	switch format {
	case constants.FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")

		return encoder.Encode(config)
	case constants.FormatYAML:
		return yaml.NewEncoder(writer).Encode(config)
	}

	table := tablewriter.NewWriter(writer)
	table.Header("Property", "Value")

	rows := [][]string{
		{"Instance URL", config.InstanceURL},
		{"Login URL", config.LoginURL},
		{"API Version", config.APIVersion},
		{"Auth Method", config.AuthMethod},
		{"Client ID", config.ClientID},
		{"Username", config.Username},
		{"Access Token", config.AccessToken},
		{"Refresh Token", config.RefreshToken},
		{"NATS URL", config.NATSURL},
		{"Output", config.Output},
	}

	if config.TokenExpiresAt != nil {
		rows = append(rows, []string{"Token Expires", config.TokenExpiresAt.Format(time.RFC3339)})
	}

	for _, row := range rows {
		if row[1] != "" {
			_ = table.Append(row)
		}
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
