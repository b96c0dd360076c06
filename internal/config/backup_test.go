// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(`{"cameras":[{"id":"a","url":"rtsp://a"}]}`), 0640))
}

func TestBackupConfig_CreatesTimestampedCopy(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	backupDir := filepath.Join(dir, "backups")
	writeConfigFile(t, configPath)

	backupPath, err := BackupConfig(configPath, backupDir)
	require.NoError(t, err)
	require.FileExists(t, backupPath)

	original, _ := os.ReadFile(configPath)
	backed, _ := os.ReadFile(backupPath)
	require.Equal(t, original, backed)
}

func TestListBackups_SortedNewestFirst(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	backupDir := filepath.Join(dir, "backups")
	writeConfigFile(t, configPath)

	first, err := BackupConfig(configPath, backupDir)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	second, err := BackupConfig(configPath, backupDir)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	backups, err := ListBackups(backupDir, "config.json")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	require.True(t, backups[0].Timestamp.After(backups[1].Timestamp) || backups[0].Timestamp.Equal(backups[1].Timestamp))
}

func TestRestoreBackup_BacksUpCurrentFirst(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	backupDir := filepath.Join(dir, "backups")
	writeConfigFile(t, configPath)

	backupPath, err := BackupConfig(configPath, backupDir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte(`{"cameras":[{"id":"b","url":"rtsp://b"}]}`), 0640))

	previous, err := RestoreBackup(backupPath, configPath, backupDir)
	require.NoError(t, err)
	require.NotEmpty(t, previous)

	restored, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.Equal(t, "a", restored.Cameras[0].ID)
}

func TestCleanOldBackups_KeepsOnlyNewest(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	backupDir := filepath.Join(dir, "backups")
	writeConfigFile(t, configPath)

	for i := 0; i < 3; i++ {
		_, err := BackupConfig(configPath, backupDir)
		require.NoError(t, err)
		time.Sleep(1100 * time.Millisecond)
	}

	deleted, err := CleanOldBackups(backupDir, "config.json", 1)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	remaining, err := ListBackups(backupDir, "config.json")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func TestBackupBeforeSave(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	backupDir := filepath.Join(dir, "backups")
	writeConfigFile(t, configPath)

	cfg := DefaultConfig()
	cfg.Cameras = []Camera{{ID: "c", URL: "rtsp://c"}}

	backupPath, err := BackupBeforeSave(cfg, configPath, backupDir)
	require.NoError(t, err)
	require.FileExists(t, backupPath)

	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.Equal(t, "c", loaded.Cameras[0].ID)
}
