package config

import "time"

type GatewayConfig interface {
	GetRequestTimeout() time.Duration
	GetUserAgent() string
}

type Gateway struct{}

var _ GatewayConfig = Gateway{}

func (Gateway) GetRequestTimeout() time.Duration {
	return 30 * time.Second
}

func (Gateway) GetUserAgent() string {
	return "mailsentry-console/1"
}
