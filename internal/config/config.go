package config

type Config interface {
	EnvConfig
	GatewayConfig
	RealtimeConfig
	SessionConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetAPIBaseURL() string
	GetRealtimeURL() string
	GetRealtimePollURL() string
	GetCredentialFile() string
	GetCredentialKey() string
	GetLogLevel() string
	GetUsername() string
	GetPassword() string
}

type mainConfig struct {
	EnvVars
	Gateway
	Realtime
	Session
}

func New() Config {
	return mainConfig{}
}
