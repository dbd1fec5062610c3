package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max subscription document size (bytes).
	maxQueryBytes = 8 << 10
)

const (
	// The first frame must arrive within this window.
	defaultInitTimeout = 10 * time.Second

	// Clients must send some frame (ping) at least this often.
	defaultKeepAliveTimeout = 60 * time.Second

	defaultWriteTimeout = 5 * time.Second

	// Per-connection inbound rate limit (frames per window, also the burst).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	closeGrace = 1 * time.Second
)
