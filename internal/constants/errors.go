package constants

import "errors"

// Configuration errors.
var (
	ErrNoInstanceConfigured = errors.New("no instance configured, use 'sfbulk login' first")
	ErrNoRefreshToken       = errors.New("no refresh token available, please run 'sfbulk login' again")
	ErrUnknownConfigKey     = errors.New("unknown configuration key")
	ErrInvalidOutputFormat  = errors.New("invalid output format, use table, json, yaml, or csv")
	ErrInvalidResultType    = errors.New("invalid result type, use successful, failed, or unprocessed")
)

// Authentication errors.
var (
	ErrNoAccessToken       = errors.New("token response did not include an access token")
	ErrNoInstanceURL       = errors.New("token response did not include an instance URL")
	ErrInvalidPrivateKey   = errors.New("invalid RSA private key")
	ErrTokenRequestFailed  = errors.New("token request failed")
	ErrNoTokenSource       = errors.New("no token source configured")
	ErrMissingLoginOptions = errors.New("login requires --token, --jwt-key, --client-secret, or --username")
)

// Required field errors.
var (
	ErrObjectRequired   = errors.New("--object flag is required")
	ErrFileRequired     = errors.New("--file flag is required")
	ErrQueryRequired    = errors.New("a SOQL query is required")
	ErrClientIDRequired = errors.New("--client-id flag is required")
	ErrUsernameRequired = errors.New("--username flag is required")
)
