// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// KoanfConfig wraps koanf for layered configuration management: a JSON
// config file overridden by environment variables, with file-watch-driven
// hot reload.
type KoanfConfig struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a KoanfConfig.
type Option func(*KoanfConfig) error

// WithJSONFile sets the JSON configuration file path.
func WithJSONFile(path string) Option {
	return func(kc *KoanfConfig) error {
		kc.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default: "STAGEVIEW").
func WithEnvPrefix(prefix string) Option {
	return func(kc *KoanfConfig) error {
		kc.envPrefix = prefix
		return nil
	}
}

// NewKoanfConfig creates a koanf-based configuration loader with
// precedence (highest to lowest): environment variables (STAGEVIEW_*),
// the JSON config file, built-in defaults.
func NewKoanfConfig(opts ...Option) (*KoanfConfig, error) {
	kc := &KoanfConfig{
		k:         koanf.New("."),
		envPrefix: "STAGEVIEW",
	}
	for _, opt := range opts {
		if err := opt(kc); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := kc.reload(); err != nil {
		return nil, err
	}
	return kc, nil
}

// Load unmarshals the configuration into an EngineConfig.
func (kc *KoanfConfig) Load() (*EngineConfig, error) {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Reload reloads configuration from all sources.
func (kc *KoanfConfig) Reload() error {
	return kc.reload()
}

func (kc *KoanfConfig) reload() error {
	newK := koanf.New(".")

	if kc.filePath != "" {
		if err := newK.Load(file.Provider(kc.filePath), json.Parser()); err != nil {
			return fmt.Errorf("load json file: %w", err)
		}
	}

	// Environment overrides: STAGEVIEW_API_PORT -> api_port,
	// STAGEVIEW_STREAM_CONFIG_QUALITY -> stream_config.quality. Field names
	// themselves contain underscores, so only the stream_config_ prefix
	// becomes a nesting level; the rest of the name is kept as is.
	envProvider := env.Provider(".", env.Opt{
		Prefix: kc.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ToLower(strings.TrimPrefix(k, kc.envPrefix+"_"))
			if rest, ok := strings.CutPrefix(k, "stream_config_"); ok {
				k = "stream_config." + rest
			}
			return k, v
		},
	})
	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("load environment variables: %w", err)
	}

	kc.mu.Lock()
	kc.k = newK
	kc.mu.Unlock()
	return nil
}

// Watch starts watching the configuration file for changes, reloading and
// invoking callback on each change.
//
// Known limitation (carried from the library this is adapted from): the
// underlying koanf file.Provider spawns an fsnotify goroutine internally
// with no Stop() method, so that goroutine outlives ctx cancellation and is
// only collected at process exit. Acceptable for a long-lived daemon.
func (kc *KoanfConfig) Watch(ctx context.Context, callback func(event string, err error)) error {
	if kc.filePath == "" {
		return fmt.Errorf("cannot watch: no file path specified")
	}

	fp := file.Provider(kc.filePath)
	watchErr := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			callback("watch error", fmt.Errorf("file watch error: %w", err))
			return
		}
		if err := kc.reload(); err != nil {
			callback("reload error", fmt.Errorf("config reload failed: %w", err))
			return
		}
		callback("config reloaded", nil)
	})
	if watchErr != nil {
		return fmt.Errorf("start watching: %w", watchErr)
	}

	<-ctx.Done()
	return nil
}

// All returns the entire configuration as a map (debugging/diagnostics).
func (kc *KoanfConfig) All() map[string]interface{} {
	kc.mu.RLock()
	k := kc.k
	kc.mu.RUnlock()
	return k.All()
}
