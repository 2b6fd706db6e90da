// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package model

// Event is something that moves a host between states.
type Event int

const (
	// EventEnrolled fires when the enrollment pipeline completes.
	EventEnrolled Event = iota
	// EventHeartbeatOK fires on a successful probe.
	EventHeartbeatOK
	// EventHeartbeatFailed fires on any failed probe.
	EventHeartbeatFailed
	// EventOperatorStop fires when an operator stops the agent.
	EventOperatorStop
)

func (e Event) String() string {
	switch e {
	case EventEnrolled:
		return "enrolled"
	case EventHeartbeatOK:
		return "heartbeat_ok"
	case EventHeartbeatFailed:
		return "heartbeat_failed"
	case EventOperatorStop:
		return "operator_stop"
	}
	return "unknown"
}

// Transition returns the state a host enters on e. The prior state never
// matters: heartbeat outcomes overwrite whatever was there, including
// Stopped when a probe is explicitly requested.
func Transition(_ HostState, e Event) HostState {
	switch e {
	case EventEnrolled, EventHeartbeatOK:
		return StateRunning
	case EventOperatorStop:
		return StateStopped
	default:
		return StateDisconnected
	}
}

// HeartbeatEvent maps a probe result to its event.
func HeartbeatEvent(r HeartbeatResult) Event {
	if r.OK {
		return EventHeartbeatOK
	}
	return EventHeartbeatFailed
}
