package config

import (
	"os"
	"strings"
)

const (
	appNameVar        = "APP_NAME"
	apiBaseURLVar     = "API_BASE_URL"
	realtimeURLVar    = "REALTIME_URL"
	realtimePollVar   = "REALTIME_POLL_URL"
	credentialFileVar = "CREDENTIAL_FILE"
	credentialKeyVar  = "CREDENTIAL_KEY"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Mail Sentry Console")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetAPIBaseURL returns the base URL every gateway path is resolved against (e.g. "https://api.example.com/api")
func (EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiBaseURLVar, "http://localhost:5000/api"), "/")
}

func (EnvVars) GetRealtimeURL() string {
	return GetEnv(realtimeURLVar, "ws://localhost:5000/ws")
}

func (EnvVars) GetRealtimePollURL() string {
	return GetEnv(realtimePollVar, "http://localhost:5000/poll")
}

func (EnvVars) GetCredentialFile() string {
	return GetEnv(credentialFileVar, "./data/credentials.json")
}

// GetCredentialKey returns the base64 encoded 32 byte key used to seal the credential file.
// Empty means the file is stored unsealed.
func (EnvVars) GetCredentialKey() string {
	return GetEnv(credentialKeyVar, "")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv("LOG_LEVEL", "info")
}

func (EnvVars) GetUsername() string {
	return GetEnv("CONSOLE_USERNAME", "")
}

func (EnvVars) GetPassword() string {
	return GetEnv("CONSOLE_PASSWORD", "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
