package config

import "time"

type RealtimeConfig interface {
	GetMaxReconnectAttempts() int
	GetReconnectBaseDelay() time.Duration
	GetLivenessPeriod() time.Duration
	GetHandshakeTimeout() time.Duration
	GetReadLimit() int64
}

type Realtime struct{}

var _ RealtimeConfig = Realtime{}

func (Realtime) GetMaxReconnectAttempts() int {
	return 5
}

func (Realtime) GetReconnectBaseDelay() time.Duration {
	return 1 * time.Second
}

func (Realtime) GetLivenessPeriod() time.Duration {
	return 10 * time.Second
}

func (Realtime) GetHandshakeTimeout() time.Duration {
	return 10 * time.Second
}

func (Realtime) GetReadLimit() int64 {
	return 1 << 20 // 1MiB
}
