// Package config contains a configuration of the reqguard server. Each
// value has its own type which validates it on decoding and returns a
// default if value is not set.
package config

import "time"

const (
	DefaultBindTo            = "127.0.0.1:8080"
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultIdleTimeout       = time.Minute
	DefaultEventsDirectory   = "logs"
)
