// SPDX-License-Identifier: MIT

package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keithhegstad/stageview-go/internal/camera"
	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/eventsink"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngine_LookupUnknownCameraReturnsFalse(t *testing.T) {
	e := New("/nonexistent/ffmpeg", "", camera.StreamFMP4, nil, discardLogger())
	_, _, ok := e.Lookup("nope")
	require.False(t, ok)
}

func TestEngine_StartRegistersEveryCameraForLookup(t *testing.T) {
	e := New("/nonexistent/ffmpeg", "", camera.StreamFMP4, nil, discardLogger())
	cams := []config.Camera{{ID: "a", URL: "rtsp://a"}, {ID: "b", URL: "rtsp://b"}}

	e.Start(config.StreamConfig{Quality: config.QualityMedium}, cams)
	defer e.Stop()

	for _, id := range []string{"a", "b"} {
		hub, mode, ok := e.Lookup(id)
		require.True(t, ok, id)
		require.NotNil(t, hub)
		require.Equal(t, camera.StreamFMP4, mode)
	}

	require.Len(t, e.Cameras(), 2)
}

func TestEngine_StopClearsLookupAndEmitsOffline(t *testing.T) {
	sink := &captureSink{}
	e := New("/nonexistent/ffmpeg", "", camera.StreamFMP4, sink, discardLogger())
	e.Start(config.StreamConfig{Quality: config.QualityMedium}, []config.Camera{{ID: "a", URL: "rtsp://a"}})

	e.Stop()

	_, _, ok := e.Lookup("a")
	require.False(t, ok)

	offlineCount := 0
	for _, ev := range sink.events() {
		if ev.Type == eventsink.TypeCameraStatus && ev.CameraStatus.CameraID == "a" && ev.CameraStatus.State == eventsink.StateOffline {
			offlineCount++
		}
	}
	require.Equal(t, 1, offlineCount, "expected exactly one offline camera-status event for camera a")
}

func TestEngine_ReloadStartsFromDiskConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cameras":[{"id":"c1","name":"Cam 1","url":"rtsp://c1"}]}`), 0o600))

	sink := &captureSink{}
	e := New("/nonexistent/ffmpeg", path, camera.StreamFMP4, sink, discardLogger())

	require.NoError(t, e.Reload())
	defer e.Stop()

	require.Len(t, e.Cameras(), 1)
	require.Equal(t, "c1", e.Cameras()[0].ID)

	reloaded := false
	for _, ev := range sink.events() {
		if ev.Type == eventsink.TypeReloadConfig {
			reloaded = true
		}
	}
	require.True(t, reloaded)
}

func TestEngine_ReloadReturnsErrorOnMissingFile(t *testing.T) {
	e := New("/nonexistent/ffmpeg", "/nonexistent/config.json", camera.StreamFMP4, nil, discardLogger())
	require.Error(t, e.Reload())
}

func TestEngine_WithLogDirCreatesPerCameraLogFile(t *testing.T) {
	logDir := t.TempDir()
	e := New("/nonexistent/ffmpeg", "", camera.StreamFMP4, nil, discardLogger(), WithLogDir(logDir))
	e.Start(config.StreamConfig{Quality: config.QualityMedium}, []config.Camera{{ID: "cam-1", URL: "rtsp://cam-1"}})
	defer e.Stop()

	_, err := os.Stat(filepath.Join(logDir, "ffmpeg-cam-1.log"))
	require.NoError(t, err)
}

type captureSink struct {
	mu  sync.Mutex
	buf []eventsink.Event
}

func (c *captureSink) Publish(ev eventsink.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, ev)
}

func (c *captureSink) events() []eventsink.Event {
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]eventsink.Event(nil), c.buf...)
}
