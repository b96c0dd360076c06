// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CurrentSchemaVersion is the schema version MigrateConfigBytes treats as
// current. Configs written by the original desktop prototype (and any file
// with no schema_version field at all) are schema version 0. EngineConfig
// has no schema_version field, so a file written by Save is also detected
// as version 0.
const CurrentSchemaVersion = 1

// legacyV0Config mirrors the original desktop prototype's AppConfig JSON
// shape. It predates api_port defaulting to int(0)-means-missing handling
// and the schema_version field; structurally it is almost identical to
// EngineConfig, since SPEC_FULL.md's data model absorbed the prototype's
// fields directly, but a v0 document may be missing stream_config entirely
// (the very first prototype releases didn't have per-stream quality).
type legacyV0Config struct {
	Cameras             []Camera      `json:"cameras"`
	ShuffleIntervalSecs uint64        `json:"shuffle_interval_secs"`
	ShowStatusDots      *bool         `json:"show_status_dots"`
	ShowCameraNames     *bool         `json:"show_camera_names"`
	APIPort             uint16        `json:"api_port"`
	WindowState         *WindowState  `json:"window_state"`
	StreamConfig        *StreamConfig `json:"stream_config"`
}

// DetectSchemaVersion inspects raw config JSON for a "schema_version"
// field, returning 0 if absent (pre-versioning documents).
func DetectSchemaVersion(data []byte) (int, error) {
	var probe struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("probe schema_version: %w", err)
	}
	if probe.SchemaVersion == nil {
		return 0, nil
	}
	return *probe.SchemaVersion, nil
}

// MigrateConfigBytes upgrades raw config JSON of any known schema version
// to the current EngineConfig, applying the same field defaults LoadConfig
// would apply to a current-version document.
func MigrateConfigBytes(data []byte) (*EngineConfig, error) {
	version, err := DetectSchemaVersion(data)
	if err != nil {
		return nil, err
	}

	switch version {
	case CurrentSchemaVersion:
		cfg := DefaultConfig()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal v%d config: %w", version, err)
		}
		return applyDefaults(cfg), nil

	case 0:
		var legacy legacyV0Config
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("unmarshal v0 config: %w", err)
		}
		cfg := DefaultConfig()
		cfg.Cameras = legacy.Cameras
		cfg.ShuffleIntervalSecs = legacy.ShuffleIntervalSecs
		cfg.ShowStatusDots = legacy.ShowStatusDots
		cfg.ShowCameraNames = legacy.ShowCameraNames
		cfg.WindowState = legacy.WindowState
		if legacy.APIPort != 0 {
			cfg.APIPort = legacy.APIPort
		}
		if legacy.StreamConfig != nil {
			cfg.StreamConfig = *legacy.StreamConfig
		}
		return applyDefaults(cfg), nil

	default:
		return nil, fmt.Errorf("unknown config schema version %d", version)
	}
}

func applyDefaults(cfg *EngineConfig) *EngineConfig {
	if cfg.APIPort == 0 {
		cfg.APIPort = 8090
	}
	if cfg.StreamConfig.Quality == "" {
		cfg.StreamConfig.Quality = QualityMedium
	}
	return cfg
}

// MigrateConfigFile reads a config file of any known schema version,
// migrates it to the current schema, and returns the result without
// writing anything back (callers decide whether/where to persist it).
func MigrateConfigFile(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-controlled path
	if err != nil {
		return nil, fmt.Errorf("read config for migration: %w", err)
	}
	cfg, err := MigrateConfigBytes(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("migrated configuration invalid: %w", err)
	}
	return cfg, nil
}
