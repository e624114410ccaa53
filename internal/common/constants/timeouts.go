// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for gateway RPCs. These bound individual calls to the executor
// and CI-server transports; the state machine's own staleness thresholds
// (spec.md §4.7) are configured separately via internal/common/config.
const (
	// ExecutorCallTimeout bounds a single ExecutorClient RPC.
	ExecutorCallTimeout = 30 * time.Second

	// CIServerCallTimeout bounds a single CIServer RPC.
	CIServerCallTimeout = 15 * time.Second

	// PingTimeout bounds an entire reconciliation ping, including the
	// per-cluster fan-out.
	PingTimeout = 60 * time.Second
)
