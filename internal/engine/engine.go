// SPDX-License-Identifier: MIT

// Package engine is the facade that owns every camera's Supervisor, the
// shared broadcast hubs keyed by camera id, and the start/stop/reload
// lifecycle the HTTP control surface drives.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/keithhegstad/stageview-go/internal/broadcast"
	"github.com/keithhegstad/stageview-go/internal/camera"
	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/eventsink"
	"github.com/keithhegstad/stageview-go/internal/util"
)

// camState bundles the running pieces for one configured camera.
type camState struct {
	camera config.Camera
	hub    *broadcast.Hub
	mode   camera.StreamMode
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns the camera-id -> (Supervisor, Hub) map and the engine-wide
// config reload path. The zero value is not usable; construct with New.
type Engine struct {
	mu sync.Mutex // guards cams; short critical sections only, no I/O under lock

	cams map[string]*camState

	ffmpegPath string
	configPath string
	streamMode camera.StreamMode
	sink       eventsink.Sink
	log        *slog.Logger
	logDir     string
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithLogDir directs every camera's ffmpeg stderr to a rotating log file
// under dir. Leaving it unset discards stderr, matching prior behavior.
func WithLogDir(dir string) Option {
	return func(e *Engine) { e.logDir = dir }
}

// New constructs an Engine. sink receives every camera-status/health/error/
// remote-command/reload-config event; configPath is reloaded by Reload.
func New(ffmpegPath, configPath string, streamMode camera.StreamMode, sink eventsink.Sink, log *slog.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = eventsink.NopSink{}
	}
	e := &Engine{
		cams:       make(map[string]*camState),
		ffmpegPath: ffmpegPath,
		configPath: configPath,
		streamMode: streamMode,
		sink:       sink,
		log:        log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Lookup implements httpstream.HubLookup.
func (e *Engine) Lookup(cameraID string) (*broadcast.Hub, camera.StreamMode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.cams[cameraID]
	if !ok {
		return nil, 0, false
	}
	return st.hub, st.mode, true
}

// Cameras implements control.Engine: the current roster ordered by camera
// id.
func (e *Engine) Cameras() []config.Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]config.Camera, 0, len(e.cams))
	for _, st := range e.order() {
		out = append(out, st.camera)
	}
	return out
}

// order returns cams in a stable, insertion-independent order (by camera
// id) since Go map iteration order is not stable across calls.
func (e *Engine) order() []*camState {
	ids := make([]string, 0, len(e.cams))
	for id := range e.cams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*camState, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.cams[id])
	}
	return out
}

// Start stops any running supervisors, clears every shared cache, and
// spawns one supervisor goroutine per camera in cameras.
func (e *Engine) Start(streamCfg config.StreamConfig, cameras []config.Camera) {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cam := range cameras {
		hub := broadcast.NewHub()
		var supOpts []camera.Option
		if e.logDir != "" {
			supOpts = append(supOpts, camera.WithLogDir(e.logDir))
		}
		sup := camera.NewSupervisor(cam, streamCfg, e.ffmpegPath, e.streamMode, hub, e.sink, e.log, supOpts...)

		ctx, cancel := context.WithCancel(context.Background())
		st := &camState{camera: cam, hub: hub, mode: e.streamMode, cancel: cancel, done: make(chan struct{})}
		e.cams[cam.ID] = st

		util.SafeGo(fmt.Sprintf("supervisor:%s", cam.ID), nil, func() {
			defer close(st.done)
			_ = sup.Run(ctx)
		}, func(r interface{}, stack []byte) {
			e.log.Error("camera supervisor panicked, recovering", "camera", cam.ID, "panic", r, "stack", string(stack))
		})
	}
}

// Stop aborts every running supervisor, waits for them to exit, clears
// every shared cache, and emits an offline status for every camera that
// was running.
func (e *Engine) Stop() {
	e.mu.Lock()
	cams := e.cams
	e.cams = make(map[string]*camState)
	e.mu.Unlock()

	for id, st := range cams {
		st.cancel()
		<-st.done
		e.sink.Publish(eventsink.Event{
			Type: eventsink.TypeCameraStatus,
			CameraStatus: &eventsink.CameraStatus{
				CameraID: id,
				State:    eventsink.StateOffline,
			},
		})
	}
}

// Reload stops every supervisor, reloads the camera set from disk, starts
// fresh supervisors for the reloaded set, and emits reload-config.
// Implements control.Engine.
func (e *Engine) Reload() error {
	cfg, err := config.LoadConfig(e.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	e.Start(cfg.StreamConfig, cfg.Cameras)
	e.sink.Publish(eventsink.Event{Type: eventsink.TypeReloadConfig, ReloadConfig: &eventsink.ReloadConfig{}})
	return nil
}
