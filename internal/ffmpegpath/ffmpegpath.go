// SPDX-License-Identifier: MIT

// Package ffmpegpath locates the ffmpeg binary the worker package shells
// out to: a sidecar placed next to the running executable first (the way
// a packaged desktop build ships its own copy), then common install
// locations, then $PATH.
package ffmpegpath

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// commonLocations are checked before falling back to $PATH, matching the
// teacher's findFFmpegPath list.
var commonLocations = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/opt/homebrew/bin/ffmpeg",
}

// Resolve returns the ffmpeg binary to use, trying in order: a sidecar
// named "ffmpeg" next to the current executable, the common install
// locations, then $PATH.
func Resolve() (string, error) {
	if sidecar, ok := sidecarPath(); ok {
		return sidecar, nil
	}

	for _, p := range commonLocations {
		if fileExists(p) {
			return p, nil
		}
	}

	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("ffmpeg not found next to the executable, in common locations, or on PATH")
}

func sidecarPath() (string, bool) {
	exePath, err := os.Executable()
	if err != nil {
		return "", false
	}
	sidecar := filepath.Join(filepath.Dir(exePath), "ffmpeg")
	if fileExists(sidecar) {
		return sidecar, true
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
