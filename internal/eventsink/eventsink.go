// SPDX-License-Identifier: MIT

// Package eventsink defines the typed events the engine emits toward
// whatever UI or logging layer is attached, mirroring the named events the
// original desktop prototype pushed to its webview via app.emit.
package eventsink

import (
	"log/slog"
	"time"
)

// Type identifies which kind of event a payload carries.
type Type string

const (
	TypeCameraStatus  Type = "camera-status"
	TypeStreamHealth  Type = "stream-health"
	TypeStreamError   Type = "stream-error"
	TypeRemoteCommand Type = "remote-command"
	TypeReloadConfig  Type = "reload-config"
)

// CameraState is the supervisor state carried by a camera-status event.
type CameraState string

const (
	StateConnecting   CameraState = "connecting"
	StateOnline       CameraState = "online"
	StateOffline      CameraState = "offline"
	StateReconnecting CameraState = "reconnecting"
)

// CameraStatus reports a camera's supervisor state transition.
type CameraStatus struct {
	CameraID string      `json:"camera_id"`
	State    CameraState `json:"state"`
	Attempt  int         `json:"attempt,omitempty"`
	Wait     string      `json:"wait,omitempty"` // human-readable backoff wait, set only when Attempt's wait is >= 60s
}

// StreamHealth is a rolling health snapshot published every monitor tick.
type StreamHealth struct {
	CameraID       string    `json:"camera_id"`
	FPS            float64   `json:"fps"`
	BitrateKbps    float64   `json:"bitrate_kbps"`
	FrameCount     uint64    `json:"frame_count"`
	LastFrameAt    time.Time `json:"last_frame_at"`
	UptimeSecs     uint64    `json:"uptime_secs"`
	Resolution     string    `json:"resolution,omitempty"`
	QualitySetting string    `json:"quality_setting"`
}

// StreamError reports a worker or parser failure after startup-noise
// suppression (only once attempt >= 3).
type StreamError struct {
	CameraID string `json:"camera_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempt  int    `json:"attempt"`
}

// RemoteCommand carries a UI control action (grid/solo/fullscreen) pushed
// from the control endpoint toward whatever renders the camera wall.
type RemoteCommand struct {
	Command string `json:"command"`
	Index   int    `json:"index,omitempty"`
}

// ReloadConfig signals that the engine finished a stop+reload+start cycle.
type ReloadConfig struct{}

// Event is a typed envelope: exactly one of the payload fields is non-nil,
// selected by Type.
type Event struct {
	Type          Type
	CameraStatus  *CameraStatus  `json:"camera_status,omitempty"`
	StreamHealth  *StreamHealth  `json:"stream_health,omitempty"`
	StreamError   *StreamError   `json:"stream_error,omitempty"`
	RemoteCommand *RemoteCommand `json:"remote_command,omitempty"`
	ReloadConfig  *ReloadConfig  `json:"reload_config,omitempty"`
}

// Sink receives events emitted by the engine and its supervisors. Publish
// must not block the caller for long: a slow sink should buffer or drop
// internally rather than stall a supervisor's state machine.
type Sink interface {
	Publish(Event)
}

// NopSink discards every event. Useful as a default when no UI or
// logging layer is attached.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// ChanSink delivers events over a buffered channel, dropping the oldest
// queued event on overflow rather than blocking a publisher.
type ChanSink struct {
	ch chan Event
}

// NewChanSink returns a ChanSink buffering up to capacity events.
func NewChanSink(capacity int) *ChanSink {
	return &ChanSink{ch: make(chan Event, capacity)}
}

// C returns the channel to range over for delivered events.
func (s *ChanSink) C() <-chan Event {
	return s.ch
}

func (s *ChanSink) Publish(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// LogSink writes each event to a structured logger, at a level chosen by
// event type (errors at Warn, reload-config at Info, everything else at
// Debug so routine health ticks don't flood an Info-level log).
type LogSink struct {
	log *slog.Logger
}

// NewLogSink returns a Sink that logs every event through log.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// MultiSink fans a published event out to every sink in sinks, in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink returns a Sink that publishes to every one of sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Publish(ev Event) {
	for _, sink := range s.sinks {
		sink.Publish(ev)
	}
}

func (s *LogSink) Publish(ev Event) {
	switch ev.Type {
	case TypeCameraStatus:
		cs := ev.CameraStatus
		s.log.Debug("camera status", "camera", cs.CameraID, "state", cs.State, "attempt", cs.Attempt, "wait", cs.Wait)
	case TypeStreamHealth:
		sh := ev.StreamHealth
		s.log.Debug("stream health", "camera", sh.CameraID, "fps", sh.FPS, "bitrate_kbps", sh.BitrateKbps, "resolution", sh.Resolution)
	case TypeStreamError:
		se := ev.StreamError
		s.log.Warn("stream error", "camera", se.CameraID, "kind", se.Kind, "message", se.Message, "attempt", se.Attempt)
	case TypeRemoteCommand:
		rc := ev.RemoteCommand
		s.log.Debug("remote command", "command", rc.Command, "index", rc.Index)
	case TypeReloadConfig:
		s.log.Info("configuration reloaded")
	}
}
