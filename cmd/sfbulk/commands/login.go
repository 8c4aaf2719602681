package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fivetwenty-io/sfbulk/internal/auth"
	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type loginOptions struct {
	instanceURL  string
	loginURL     string
	sandbox      bool
	apiVersion   string
	token        string
	jwtKey       string
	clientID     string
	clientSecret string
	username     string
	password     string
}

// NewLoginCommand creates the login command.
func NewLoginCommand() *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to a Salesforce org",
		Long: `Authenticate with a Salesforce org and save the session.

Supported flows:
  --token                      an existing session id (requires --instance-url)
  --jwt-key                    OAuth2 JWT bearer flow (requires --client-id, --username)
  --username                   username/password flow (requires --client-id, --client-secret)
  --client-secret              client credentials flow (requires --client-id and a My Domain --login-url)

Without flags on a terminal, the session id is prompted for.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.instanceURL, "instance-url", "", "instance URL, e.g. https://example.my.salesforce.com")
	cmd.Flags().StringVar(&opts.loginURL, "login-url", constants.DefaultLoginURL, "OAuth2 login URL")
	cmd.Flags().BoolVar(&opts.sandbox, "sandbox", false, "use the sandbox login URL")
	cmd.Flags().StringVar(&opts.apiVersion, "api-version", constants.DefaultAPIVersion, "REST API version")
	cmd.Flags().StringVar(&opts.token, "token", "", "existing session id")
	cmd.Flags().StringVar(&opts.jwtKey, "jwt-key", "", "PEM private key for the JWT bearer flow")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "", "connected app consumer key")
	cmd.Flags().StringVar(&opts.clientSecret, "client-secret", "", "connected app consumer secret")
	cmd.Flags().StringVar(&opts.username, "username", "", "Salesforce username")
	cmd.Flags().StringVar(&opts.password, "password", "", "password followed by the security token")

	return cmd
}

func runLogin(cmd *cobra.Command, opts *loginOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.sandbox {
		opts.loginURL = constants.SandboxLoginURL
	}

	config := loadConfig()
	config.LoginURL = opts.loginURL
	config.APIVersion = opts.apiVersion
	config.ClientID = opts.clientID
	config.Username = opts.username
	config.ClientSecret = ""
	config.JWTKeyFile = ""
	config.RefreshToken = ""
	config.TokenExpiresAt = nil

	method, source, err := loginSource(opts)
	if err != nil {
		return err
	}

	config.AuthMethod = method

	var token *auth.Token

	if source == nil {
		token, err = sessionToken(opts)
	} else {
		token, err = source.Token(ctx)
	}

	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	switch method {
	case authMethodJWT:
		config.JWTKeyFile = opts.jwtKey
	case authMethodClientCredentials:
		config.ClientSecret = opts.clientSecret
	case authMethodPassword:
		if token.RefreshToken != "" {
			config.ClientSecret = opts.clientSecret
			config.AuthMethod = authMethodRefreshToken
		}
	}

	err = saveConfigStruct(config)
	if err != nil {
		return err
	}

	err = NewConfigPersister().SaveToken(token)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s (%s)\n", loadConfig().InstanceURL, config.AuthMethod)

	return nil
}

// loginSource picks the flow from the flags. A nil source means an existing session id.
func loginSource(opts *loginOptions) (string, auth.TokenSource, error) {
	switch {
	case opts.token != "":
		return authMethodToken, nil, nil
	case opts.jwtKey != "":
		keyPath, err := filepath.Abs(opts.jwtKey)
		if err != nil {
			return "", nil, fmt.Errorf("resolving JWT key path: %w", err)
		}

		opts.jwtKey = keyPath

		// #nosec G304 -- the key path is supplied by the user
		keyPEM, err := os.ReadFile(keyPath)
		if err != nil {
			return "", nil, fmt.Errorf("reading JWT key: %w", err)
		}

		key, err := auth.ParsePrivateKey(keyPEM)
		if err != nil {
			return "", nil, err
		}

		source, err := auth.NewJWTBearerSource(&auth.JWTConfig{
			LoginURL:   opts.loginURL,
			ClientID:   opts.clientID,
			Username:   opts.username,
			PrivateKey: key,
		})

		return authMethodJWT, source, err
	case opts.username != "":
		if opts.clientID == "" {
			return "", nil, constants.ErrClientIDRequired
		}

		if opts.password == "" {
			password, err := prompt("Password: ")
			if err != nil {
				return "", nil, err
			}

			opts.password = password
		}

		return authMethodPassword, auth.NewOAuth2Source(&auth.OAuth2Config{
			LoginURL:     opts.loginURL,
			ClientID:     opts.clientID,
			ClientSecret: opts.clientSecret,
			Username:     opts.username,
			Password:     opts.password,
		}), nil
	case opts.clientSecret != "":
		if opts.clientID == "" {
			return "", nil, constants.ErrClientIDRequired
		}

		return authMethodClientCredentials, auth.NewOAuth2Source(&auth.OAuth2Config{
			LoginURL:     opts.loginURL,
			ClientID:     opts.clientID,
			ClientSecret: opts.clientSecret,
		}), nil
	case term.IsTerminal(int(os.Stdin.Fd())): //nolint:gosec // file descriptors fit in int
		return authMethodToken, nil, nil
	default:
		return "", nil, constants.ErrMissingLoginOptions
	}
}

// sessionToken wraps an existing session id, prompting for it when needed.
func sessionToken(opts *loginOptions) (*auth.Token, error) {
	if opts.instanceURL == "" {
		return nil, fmt.Errorf("%w: --instance-url is required with a session id", constants.ErrMissingLoginOptions)
	}

	if opts.token == "" {
		token, err := prompt("Session ID: ")
		if err != nil {
			return nil, err
		}

		opts.token = token
	}

	credentials, err := auth.NewCredentials(opts.instanceURL, opts.token)
	if err != nil {
		return nil, err
	}

	return &auth.Token{AccessToken: credentials.AccessToken(), InstanceURL: credentials.InstanceURL()}, nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	value, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // file descriptors fit in int
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	return strings.TrimSpace(string(value)), nil
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig()
			config.AccessToken = ""
			config.RefreshToken = ""
			config.ClientSecret = ""
			config.TokenExpiresAt = nil
			config.LastRefreshed = nil

			err := saveConfigStruct(config)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

			return nil
		},
	}
}
