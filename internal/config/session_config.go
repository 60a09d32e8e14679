package config

import "time"

type SessionConfig interface {
	GetExpiryWarningThreshold() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetExpiryWarningThreshold() time.Duration {
	return 5 * time.Minute
}
