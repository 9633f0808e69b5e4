package relay

import "time"

// Transport limits. SVG payloads from the drawing client regularly reach
// hundreds of kilobytes, so the frame cap is generous compared to a chat
// workload.
const (
	maxFrameBytes = 1 << 20 // 1 MiB

	defaultSendQueueSize = 64
	minSendQueueSize     = 8
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound message budget.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
