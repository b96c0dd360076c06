// SPDX-License-Identifier: MIT

// Package camera supervises a single camera's worker process across its
// full lifetime: spawning ffmpeg, feeding its stdout through a byte-stream
// parser, publishing framed units to the broadcast hub, and restarting on
// failure with the camera reconnect backoff schedule.
//
//	[idle] --start--> [connecting] --first unit--> [online]
//	                        |                          |
//	                        |                          | (worker exit / read timeout)
//	                        v                          v
//	                  [backoff]  <------------------ [offline]
//	                        |
//	                        `-- sleep(backoff(attempt)) --> [connecting]
package camera

import "fmt"

// State is a camera's supervision state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOnline
	StateOffline
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
