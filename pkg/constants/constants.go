// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// RedisHealthCheckInterval is how often Redis is pinged to enter or leave degraded mode
	RedisHealthCheckInterval = 10 * time.Second
)

// WebSocket constants
const (
	// WebSocketWriteWait is the time allowed to write a message to the peer
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong message from the peer
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be less than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketMaxMessageSize bounds inbound frames; SDP offers stay well below it
	WebSocketMaxMessageSize = 64 * 1024

	// WebSocketSendBuffer is the per-connection outbound queue length
	WebSocketSendBuffer = 256

	// CallEventTimeout bounds the repository lookups of one inbound call event
	CallEventTimeout = 5 * time.Second
)

// Call channel naming for cross-instance fan-out
const (
	// CallUserChannelPrefix is followed by the user id
	CallUserChannelPrefix = "call:user:"

	// CallUserChannelPattern matches every per-user call channel
	CallUserChannelPattern = CallUserChannelPrefix + "*"
)

// Media server constants
const (
	// LiveKitDefaultPort is used when the configured URL has no port
	LiveKitDefaultPort = "7880"

	// LiveKitTokenTTL is the default lifetime of a media room token
	LiveKitTokenTTL = 6 * time.Hour
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)
