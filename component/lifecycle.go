// Package component defines the lifecycle contract shared by the network
// endpoints of the state-synchronization core: listeners, datagram
// endpoints, and the event feed all follow the same
// Initialize/Start/Stop pattern so the server binary can manage them
// uniformly and shut them down in reverse start order.
package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component.
type State int

const (
	// StateStarting indicates the component is constructed but not serving.
	StateStarting State = iota
	// StateRunning indicates the component is serving.
	StateRunning
	// StateShuttingDown indicates a stop has been requested and the
	// component is draining.
	StateShuttingDown
	// StateStopped is terminal.
	StateStopped
)

// String returns a string representation of the component state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle defines components that support managed startup and bounded
// graceful shutdown:
//   - Start(ctx) begins serving; the context governs in-flight work.
//   - Stop(timeout) requests cooperative shutdown and waits at most
//     timeout before abandoning lingering work.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// HealthStatus reports a point-in-time component health check.
type HealthStatus struct {
	Healthy    bool
	LastCheck  time.Time
	ErrorCount int
	LastError  string
	Uptime     time.Duration
}

// Healther is implemented by components that report health.
type Healther interface {
	Health() HealthStatus
}
