package realtime

// CheckLiveness runs one liveness monitor tick.
func (c *Client) CheckLiveness() {
	c.checkLiveness()
}

// MonitorRunning reports whether a liveness monitor is currently running.
func (c *Client) MonitorRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitorStop != nil
}

// WithMonitorStartHook calls f every time a liveness monitor goroutine is started.
func WithMonitorStartHook(f func()) Option {
	return func(c *Client) {
		c.onMonitorStart = f
	}
}
