// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cameras":[{"id":"cam1","name":"Front","url":"rtsp://example/cam1"}]}`), 0640))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint16(8090), cfg.APIPort)
	require.Equal(t, QualityMedium, cfg.StreamConfig.Quality)
	require.Len(t, cfg.Cameras, 1)
	require.Equal(t, "cam1", cfg.Cameras[0].ID)
}

func TestLoadConfig_UnknownFieldsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cameras":[],"api_port":9001,"totally_unknown":{"x":1}}`), 0640))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint16(9001), cfg.APIPort)
}

func TestValidate_DuplicateCameraID(t *testing.T) {
	cfg := &EngineConfig{Cameras: []Camera{
		{ID: "a", URL: "rtsp://x"},
		{ID: "a", URL: "rtsp://y"},
	}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_EmptyURL(t *testing.T) {
	cfg := &EngineConfig{Cameras: []Camera{{ID: "a", URL: ""}}}
	require.Error(t, cfg.Validate())
}

func TestSave_AtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Cameras = []Camera{{ID: "cam1", Name: "Front Door", URL: "rtsp://cam1"}}

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Cameras, loaded.Cameras)

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSave_FailureLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := DefaultConfig()

	boom := func(dir, pattern string) (atomicFile, error) {
		return nil, os.ErrPermission
	}
	err := cfg.saveWith(path, boom)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCamera_EffectiveCodec_InheritsWhenNoOverride(t *testing.T) {
	cam := Camera{ID: "a", URL: "rtsp://a"}
	eff := cam.EffectiveCodec(CodecSettings{Quality: QualityHigh, FpsMode: NativeFpsMode()})
	require.Equal(t, QualityHigh, eff.Quality)
}

func TestCamera_EffectiveCodec_OverridesQualityOnly(t *testing.T) {
	cam := Camera{ID: "a", URL: "rtsp://a", CodecOverride: &CodecSettings{Quality: QualityLow}}
	eff := cam.EffectiveCodec(CodecSettings{Quality: QualityHigh, FpsMode: CappedFpsMode(15)})
	require.Equal(t, QualityLow, eff.Quality)
	require.Equal(t, uint32(15), eff.FpsMode.Capped)
}

func TestFpsMode_JSONRoundTrip(t *testing.T) {
	for _, fm := range []FpsMode{NativeFpsMode(), CappedFpsMode(10)} {
		data, err := json.Marshal(fm)
		require.NoError(t, err)
		var out FpsMode
		require.NoError(t, json.Unmarshal(data, &out))
		require.Equal(t, fm, out)
	}
}

func TestEngineConfig_PreservesUIOnlyFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	ws := DefaultWindowState()
	cfg := DefaultConfig()
	cfg.WindowState = &ws
	cfg.ShuffleIntervalSecs = 42

	require.NoError(t, cfg.Save(path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.WindowState)
	require.Equal(t, ws, *loaded.WindowState)
	require.Equal(t, uint64(42), loaded.ShuffleIntervalSecs)
}
