// SPDX-License-Identifier: MIT

package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keithhegstad/stageview-go/internal/boxstream"
	"github.com/keithhegstad/stageview-go/internal/broadcast"
	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/eventsink"
	"github.com/keithhegstad/stageview-go/internal/logrotate"
	"github.com/keithhegstad/stageview-go/internal/mjpegstream"
	"github.com/keithhegstad/stageview-go/internal/stageerr"
	"github.com/keithhegstad/stageview-go/internal/util"
	"github.com/keithhegstad/stageview-go/internal/worker"
)

const (
	readTimeout       = 30 * time.Second
	healthTick        = 2 * time.Second
	errorSuppressMin  = 3 // attempt threshold before stream-error is emitted
	reconnectLongWait = 60 * time.Second
)

// StreamMode selects which byte format a camera's worker produces.
type StreamMode int

const (
	StreamFMP4 StreamMode = iota
	StreamMJPEG
)

// Supervisor owns one camera's full lifecycle: worker spawn, parser
// feeding, broadcast publishing, health accounting, and reconnect backoff.
// A Supervisor is single-use: call Run once; create a new one to restart
// after Stop.
type Supervisor struct {
	camera     config.Camera
	streamCfg  config.StreamConfig
	ffmpegPath string
	mode       StreamMode

	hub  *broadcast.Hub
	sink eventsink.Sink
	log  *slog.Logger

	state   atomic.Int32 // State
	backoff *Backoff

	frameCount    atomic.Uint64
	bytesReceived atomic.Uint64
	lastFrameAtMs atomic.Int64
	startedAt     atomic.Int64

	mjpegResolution atomic.Value // string

	logDir    string
	stderrLog io.WriteCloser

	resources *util.ResourceTracker
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithLogDir directs a camera's ffmpeg stderr to a rotating log file
// under dir, named after the camera's id. Leaving it unset (or passing
// an empty dir) discards stderr, matching prior behavior.
func WithLogDir(dir string) Option {
	return func(s *Supervisor) { s.logDir = dir }
}

// NewSupervisor constructs a Supervisor for one camera. hub is the
// broadcast fabric the camera's fragments publish to; sink receives
// status/health/error events.
func NewSupervisor(cam config.Camera, streamCfg config.StreamConfig, ffmpegPath string, mode StreamMode, hub *broadcast.Hub, sink eventsink.Sink, log *slog.Logger, opts ...Option) *Supervisor {
	if sink == nil {
		sink = eventsink.NopSink{}
	}
	s := &Supervisor{
		camera:     cam,
		streamCfg:  streamCfg,
		ffmpegPath: ffmpegPath,
		mode:       mode,
		hub:        hub,
		sink:       sink,
		log:        log,
		backoff:    NewBackoff(),
		resources:  util.NewResourceTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logDir != "" {
		if w, err := logrotate.ForCamera(s.logDir, cam.ID); err != nil {
			log.Warn("camera log file unavailable, discarding ffmpeg stderr", "camera", cam.ID, "error", err)
		} else {
			s.stderrLog = w
			s.resources.TrackResource("stderr-log", w)
		}
	}
	s.state.Store(int32(StateIdle))
	s.mjpegResolution.Store("")
	return s
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// LeakedResources reports any ffmpeg process or log file this supervisor
// opened that was never cleaned up. It should be empty once Run has
// returned; a non-empty result after that point is a shutdown bug.
func (s *Supervisor) LeakedResources() []string {
	return s.resources.LeakedResources()
}

// Run drives the camera's connecting/online/offline/backoff loop until ctx
// is cancelled. It never returns an error for a camera that simply cannot
// connect — that is what backoff is for — only for ctx cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.stderrLog != nil {
		defer func() {
			s.resources.UntrackResource("stderr-log")
			s.stderrLog.Close()
		}()
	}
	for {
		// Cancellation's terminal offline event is Engine.Stop's to emit,
		// once, after every camera has unwound — not ours here, or stop
		// would double-publish offline for a camera that was mid-attempt.
		if ctx.Err() != nil {
			s.setState(StateOffline)
			return ctx.Err()
		}

		attempt := s.backoff.RecordAttempt()
		s.setState(StateConnecting)
		s.emitStatus(eventsink.StateConnecting, attempt, "")

		err := s.attempt(ctx)

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			s.setState(StateOffline)
			return ctx.Err()
		}

		s.setState(StateOffline)
		s.emitStatus(eventsink.StateOffline, attempt, "")
		if attempt >= errorSuppressMin {
			s.emitError(err, attempt)
		}

		s.setState(StateBackoff)
		wait := s.backoff.Delay()
		waitLabel := ""
		if wait >= reconnectLongWait {
			waitLabel = wait.String()
		}
		s.emitStatus(eventsink.StateReconnecting, attempt, waitLabel)

		if waitErr := s.backoff.Wait(ctx); waitErr != nil {
			s.setState(StateOffline)
			return waitErr
		}
	}
}

// attempt runs one worker lifecycle: spawn, read loop, and cleanup. It
// returns once the worker exits, the read loop times out, or ctx is
// cancelled. All state dropped at the end of attempt is local: the hub is
// reset, the parser is discarded, and the next attempt starts fresh.
func (s *Supervisor) attempt(ctx context.Context) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mode, quality, fpsMode := s.selectMode()

	h, err := worker.Spawn(attemptCtx, s.ffmpegPath, s.camera.ID, s.camera.URL, mode, quality, fpsMode, s.stderrLog)
	if err != nil && mode == worker.ModeMJPEGPassthrough {
		mode = worker.ModeMJPEG
		h, err = worker.Spawn(attemptCtx, s.ffmpegPath, s.camera.ID, s.camera.URL, mode, quality, fpsMode, s.stderrLog)
	}
	if err != nil {
		return err
	}
	s.resources.TrackProcess(s.camera.ID, h.Process())
	defer s.resources.UntrackProcess(s.camera.ID)

	s.hub.Reset()
	s.startedAt.Store(time.Now().UnixMilli())
	s.frameCount.Store(0)
	s.bytesReceived.Store(0)

	healthCtx, healthCancel := context.WithCancel(attemptCtx)
	defer healthCancel()
	var healthWG sync.WaitGroup
	healthWG.Add(1)
	go func() {
		defer healthWG.Done()
		s.runHealthMonitor(healthCtx)
	}()
	defer healthWG.Wait()

	readErr := s.readLoop(attemptCtx, h, mode)

	h.Stop(5 * time.Second)

	if readErr != nil {
		return readErr
	}
	return h.Err()
}

// selectMode decides the worker output mode for this attempt, applying the
// MJPEG-passthrough-with-fallback heuristic: already-MJPEG sources try
// passthrough first, at the cost of one retry if ffmpeg rejects it.
func (s *Supervisor) selectMode() (worker.Mode, config.Quality, config.FpsMode) {
	codec := s.camera.EffectiveCodec(config.CodecSettings{Quality: s.streamCfg.Quality, FpsMode: config.NativeFpsMode()})

	switch s.mode {
	case StreamMJPEG:
		if worker.LooksLikeMJPEGSource(s.camera.URL) {
			return worker.ModeMJPEGPassthrough, codec.Quality, codec.FpsMode
		}
		return worker.ModeMJPEG, codec.Quality, codec.FpsMode
	default:
		return worker.ModeFMP4, codec.Quality, codec.FpsMode
	}
}

// readLoop reads worker stdout, feeds it to the appropriate parser, and
// publishes every recovered unit to the broadcast hub. It enforces the
// 30s read timeout that detects a silently dead multicast source.
func (s *Supervisor) readLoop(ctx context.Context, h *worker.Handle, mode worker.Mode) error {
	switch mode {
	case worker.ModeMJPEG, worker.ModeMJPEGPassthrough:
		return s.readMJPEGLoop(ctx, h)
	default:
		return s.readFMP4Loop(ctx, h)
	}
}

func (s *Supervisor) readFMP4Loop(ctx context.Context, h *worker.Handle) error {
	parser := boxstream.NewParser(s.camera.ID)
	buf := make([]byte, 64*1024)

	type readResult struct {
		n   int
		err error
	}
	results := make(chan readResult, 1)

	read := func() {
		n, err := h.Stdout().Read(buf)
		results <- readResult{n: n, err: err}
	}
	go read()

	online := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readTimeout):
			return stageerr.New(stageerr.ReadTimeout, s.camera.ID, "no bytes from worker", nil)
		case res := <-results:
			if res.n > 0 {
				chunk := append([]byte(nil), buf[:res.n]...)
				units, perr := parser.Feed(chunk)
				for _, u := range units {
					s.publishFMP4Unit(u, &online)
				}
				if perr != nil {
					s.log.Warn("fmp4 parse error, continuing", "camera", s.camera.ID, "error", perr)
				}
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return stageerr.New(stageerr.ReadIO, s.camera.ID, "stdout read failed", res.err)
			}
			go read()
		}
	}
}

func (s *Supervisor) publishFMP4Unit(u boxstream.Unit, online *bool) {
	now := time.Now().UnixMilli()
	switch u.Kind {
	case boxstream.UnitInit:
		s.hub.PublishInit(u.Data)
		if !*online {
			*online = true
			s.setState(StateOnline)
			s.backoff.Reset()
			s.emitStatus(eventsink.StateOnline, 0, "")
		}
	case boxstream.UnitFragment:
		s.frameCount.Add(uint64(maxUint32(u.SampleCount, 1)))
		s.bytesReceived.Add(uint64(len(u.Data)))
		s.lastFrameAtMs.Store(now)
		s.hub.PublishFragment(broadcast.Fragment{Data: u.Data, Keyframe: u.Keyframe})
	}
}

func maxUint32(v, floor uint32) uint32 {
	if v == 0 {
		return floor
	}
	return v
}

func (s *Supervisor) readMJPEGLoop(ctx context.Context, h *worker.Handle) error {
	parser := mjpegstream.NewParser()
	defer parser.Close()
	buf := make([]byte, 64*1024)

	type readResult struct {
		n   int
		err error
	}
	results := make(chan readResult, 1)
	read := func() {
		n, err := h.Stdout().Read(buf)
		results <- readResult{n: n, err: err}
	}
	go read()

	online := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readTimeout):
			return stageerr.New(stageerr.ReadTimeout, s.camera.ID, "no bytes from worker", nil)
		case res := <-results:
			if res.n > 0 {
				chunk := append([]byte(nil), buf[:res.n]...)
				frames := parser.Feed(chunk)
				for _, f := range frames {
					s.publishMJPEGFrame(f, &online)
				}
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return stageerr.New(stageerr.ReadIO, s.camera.ID, "stdout read failed", res.err)
			}
			go read()
		}
	}
}

func (s *Supervisor) publishMJPEGFrame(frame []byte, online *bool) {
	now := time.Now().UnixMilli()
	s.frameCount.Add(1)
	s.bytesReceived.Add(uint64(len(frame)))
	s.lastFrameAtMs.Store(now)

	if res := mjpegstream.ParseResolution(frame); res != "" {
		s.mjpegResolution.Store(res)
	}

	if !*online {
		*online = true
		s.setState(StateOnline)
		s.backoff.Reset()
		s.emitStatus(eventsink.StateOnline, 0, "")
	}

	// MJPEG frames are independently decodable: every frame is a keyframe.
	s.hub.PublishFragment(broadcast.Fragment{Data: frame, Keyframe: true})
}

// runHealthMonitor ticks every 2s, computing rolling fps/bitrate deltas and
// publishing a StreamHealth snapshot. A missed tick (the consumer wasn't
// scheduled in time) is skipped, not caught up: the next tick simply
// computes a larger delta over a longer interval.
func (s *Supervisor) runHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(healthTick)
	defer ticker.Stop()

	var lastFrames, lastBytes uint64
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frames := s.frameCount.Load()
			bytesRecv := s.bytesReceived.Load()
			dt := now.Sub(lastTick).Seconds()
			if dt <= 0 {
				dt = healthTick.Seconds()
			}

			fps := float64(frames-lastFrames) / dt
			bitrateKbps := float64(bytesRecv-lastBytes) * 8 / (dt * 1000)

			lastFrames, lastBytes, lastTick = frames, bytesRecv, now

			lastFrameMs := s.lastFrameAtMs.Load()
			var lastFrameAt time.Time
			if lastFrameMs > 0 {
				lastFrameAt = time.UnixMilli(lastFrameMs)
			}

			startedMs := s.startedAt.Load()
			uptime := uint64(0)
			if startedMs > 0 {
				uptime = uint64(time.Since(time.UnixMilli(startedMs)).Seconds())
			}

			s.sink.Publish(eventsink.Event{
				Type: eventsink.TypeStreamHealth,
				StreamHealth: &eventsink.StreamHealth{
					CameraID:       s.camera.ID,
					FPS:            fps,
					BitrateKbps:    bitrateKbps,
					FrameCount:     frames,
					LastFrameAt:    lastFrameAt,
					UptimeSecs:     uptime,
					Resolution:     s.mjpegResolution.Load().(string),
					QualitySetting: string(s.streamCfg.Quality),
				},
			})
		}
	}
}

func (s *Supervisor) emitStatus(st eventsink.CameraState, attempt int, wait string) {
	s.sink.Publish(eventsink.Event{
		Type: eventsink.TypeCameraStatus,
		CameraStatus: &eventsink.CameraStatus{
			CameraID: s.camera.ID,
			State:    st,
			Attempt:  attempt,
			Wait:     wait,
		},
	})
}

func (s *Supervisor) emitError(err error, attempt int) {
	kind := "unknown"
	if k, ok := stageerr.KindOf(err); ok {
		kind = string(k)
	}
	s.sink.Publish(eventsink.Event{
		Type: eventsink.TypeStreamError,
		StreamError: &eventsink.StreamError{
			CameraID: s.camera.ID,
			Kind:     kind,
			Message:  err.Error(),
			Attempt:  attempt,
		},
	})
}
