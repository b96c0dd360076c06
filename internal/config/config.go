// SPDX-License-Identifier: MIT

// Package config loads, validates, and persists the engine's camera set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "config.json"

// Quality selects the transcode quality tier for a camera.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// FpsMode selects whether a camera's output fps is native or capped.
type FpsMode struct {
	// Native is true when no -r flag should be added (camera's own fps).
	Native bool `json:"-"`
	// Capped holds the fps cap when Native is false.
	Capped uint32 `json:"-"`
}

// MarshalJSON renders FpsMode the way the original prototype's serde enum
// does: "native" or {"capped": N}.
func (f FpsMode) MarshalJSON() ([]byte, error) {
	if f.Native {
		return json.Marshal("native")
	}
	return json.Marshal(struct {
		Capped uint32 `json:"capped"`
	}{f.Capped})
}

func (f *FpsMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "native" || s == "" {
			*f = FpsMode{Native: true}
			return nil
		}
		return fmt.Errorf("fps_mode: unknown string variant %q", s)
	}
	var wrapped struct {
		Capped *uint32 `json:"capped"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("fps_mode: %w", err)
	}
	if wrapped.Capped == nil {
		return fmt.Errorf("fps_mode: capped variant missing value")
	}
	*f = FpsMode{Capped: *wrapped.Capped}
	return nil
}

// NativeFpsMode is the default fps mode: no cap.
func NativeFpsMode() FpsMode { return FpsMode{Native: true} }

// CappedFpsMode caps output to n frames per second.
func CappedFpsMode(n uint32) FpsMode { return FpsMode{Capped: n} }

// CodecSettings is applied per camera or as the engine-wide default.
type CodecSettings struct {
	Quality Quality `json:"quality"`
	FpsMode FpsMode `json:"fps_mode"`
}

// DefaultCodecSettings matches the spec's documented defaults.
func DefaultCodecSettings() CodecSettings {
	return CodecSettings{Quality: QualityMedium, FpsMode: NativeFpsMode()}
}

// Camera is a single configured video source. Identity is ID.
type Camera struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	URL           string         `json:"url"`
	CodecOverride *CodecSettings `json:"codec_override,omitempty"`
}

// EffectiveCodec merges a camera's override (if any) over the stream
// default, field by field (zero value in the override means "inherit").
func (c Camera) EffectiveCodec(streamDefault CodecSettings) CodecSettings {
	if c.CodecOverride == nil {
		return streamDefault
	}
	result := streamDefault
	if c.CodecOverride.Quality != "" {
		result.Quality = c.CodecOverride.Quality
	}
	if c.CodecOverride.FpsMode.Native || c.CodecOverride.FpsMode.Capped != 0 {
		result.FpsMode = c.CodecOverride.FpsMode
	}
	return result
}

// StreamConfig carries the engine-wide default quality.
type StreamConfig struct {
	Quality Quality `json:"quality"`
}

// WindowState is a UI-only field the core ignores but must round-trip.
type WindowState struct {
	X         int32 `json:"x"`
	Y         int32 `json:"y"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	Maximized bool  `json:"maximized"`
}

// DefaultWindowState matches the prototype's defaults.
func DefaultWindowState() WindowState {
	return WindowState{X: 100, Y: 100, Width: 1280, Height: 720}
}

// EngineConfig is the single JSON configuration document. Fields the core
// doesn't interpret (ShuffleIntervalSecs, ShowStatusDots, ShowCameraNames,
// WindowState) are parsed and preserved for round-trip, never acted on by
// the engine.
type EngineConfig struct {
	Cameras            []Camera     `json:"cameras"`
	APIPort            uint16       `json:"api_port"`
	StreamConfig       StreamConfig `json:"stream_config"`
	ShuffleIntervalSecs uint64      `json:"shuffle_interval_secs,omitempty"`
	ShowStatusDots     *bool        `json:"show_status_dots,omitempty"`
	ShowCameraNames    *bool        `json:"show_camera_names,omitempty"`
	WindowState        *WindowState `json:"window_state,omitempty"`
}

// DefaultConfig returns a configuration with the spec's documented
// defaults (api_port=8090 in the original prototype; spec.md §6 restates
// it as 8090 as well).
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Cameras:             nil,
		APIPort:             8090,
		StreamConfig:        StreamConfig{Quality: QualityMedium},
		ShuffleIntervalSecs: 900,
	}
}

// LoadConfig reads and parses the configuration file. Missing fields take
// defaults per spec.md §6; unknown fields are ignored (encoding/json does
// this by default), never cause rejection.
func LoadConfig(path string) (*EngineConfig, error) {
	// #nosec G304 - Config path is operator-controlled.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}
	if cfg.StreamConfig.Quality == "" {
		cfg.StreamConfig.Quality = QualityMedium
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = 8090
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a JSON file atomically: write to a
// temp file in the same directory, fsync, chmod, then rename.
func (c *EngineConfig) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *EngineConfig) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmpFile, err := createTemp(dir, ".config.*.json")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp config file: %w", err)
	}
	// Config may carry api_port and camera URLs; restrict to owner+group.
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config file: %w", err)
	}
	success = true
	return nil
}

// Validate checks the configuration for invalid values. Camera ids must be
// non-empty and unique; quality/fps_mode are free-form enough that
// LoadConfig's defaulting already covers the "missing" case.
func (c *EngineConfig) Validate() error {
	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera[%d]: id must not be empty", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("camera[%d]: duplicate id %q", i, cam.ID)
		}
		seen[cam.ID] = true
		if cam.URL == "" {
			return fmt.Errorf("camera %q: url must not be empty", cam.ID)
		}
	}
	switch c.StreamConfig.Quality {
	case QualityLow, QualityMedium, QualityHigh, "":
	default:
		return fmt.Errorf("stream_config.quality must be low, medium, or high (got %q)", c.StreamConfig.Quality)
	}
	return nil
}
