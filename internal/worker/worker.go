// SPDX-License-Identifier: MIT

// Package worker constructs ffmpeg command lines for a single camera and
// manages the spawned process: independent stdout/stderr capture and
// deterministic termination on stop or context cancellation.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/stageerr"
)

// Mode selects the output container the worker asks ffmpeg to produce.
type Mode int

const (
	// ModeFMP4 requests fragmented MP4 with H.264 passthrough.
	ModeFMP4 Mode = iota
	// ModeMJPEG requests an MJPEG image2pipe stream (legacy quality path).
	ModeMJPEG
	// ModeMJPEGPassthrough copies an already-MJPEG source straight to
	// image2pipe instead of re-encoding it. Callers should fall back to
	// ModeMJPEG if a worker spawned with this mode fails.
	ModeMJPEGPassthrough
)

// LooksLikeMJPEGSource reports whether a camera URL names an MJPEG source
// (by file extension or an explicit "mjpeg" substring), making
// ModeMJPEGPassthrough worth attempting before falling back to transcode.
func LooksLikeMJPEGSource(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "mjpeg") ||
		strings.HasSuffix(lower, ".mjpg") ||
		strings.HasSuffix(lower, ".mjpeg")
}

// BuildArgs constructs the ffmpeg argument vector for a camera URL under
// the given quality and fps mode. It is a pure function of its inputs:
// no I/O, no process state, so the exact preamble and output flags can be
// covered with table-driven tests.
func BuildArgs(rawURL string, mode Mode, quality config.Quality, fpsMode config.FpsMode) []string {
	input := inputPreamble(rawURL)

	args := []string{"-loglevel", "warning"}
	args = append(args, input.flags...)
	args = append(args, "-i", input.url)

	switch mode {
	case ModeMJPEG:
		args = append(args, mjpegOutputArgs(quality, fpsMode)...)
	case ModeMJPEGPassthrough:
		args = append(args, mjpegPassthroughOutputArgs()...)
	default:
		args = append(args, fmp4OutputArgs()...)
	}

	return append(args, "pipe:1")
}

type preamble struct {
	flags []string
	url   string
}

// inputPreamble dispatches on URL scheme per the protocol preamble table:
// each transport needs different probing/reconnect behavior to avoid
// ffmpeg stalling or exiting on transient network noise.
func inputPreamble(rawURL string) preamble {
	lowDelay := []string{"-flags", "low_delay", "-thread_queue_size", "512"}

	switch {
	case strings.HasPrefix(rawURL, "rtp://"):
		return preamble{
			flags: append([]string{
				"-analyzeduration", "10000000",
				"-probesize", "10M",
				"-fflags", "+genpts+discardcorrupt+fastseek",
			}, lowDelay...),
			url: rawURL,
		}

	case strings.HasPrefix(rawURL, "udp://"):
		addr := strings.TrimPrefix(rawURL, "udp://")
		addr = strings.TrimPrefix(addr, "@")
		rewritten := fmt.Sprintf("udp://@%s?timeout=10000000", addr)
		flags := append([]string{
			"-analyzeduration", "10000000",
			"-probesize", "10M",
			"-fflags", "+genpts+discardcorrupt+fastseek",
		}, lowDelay...)
		flags = append(flags, "-buffer_size", "2000000", "-overrun_nonfatal", "1")
		return preamble{flags: flags, url: rewritten}

	case strings.HasPrefix(rawURL, "rtsp://"):
		return preamble{
			flags: []string{
				"-analyzeduration", "100000",
				"-probesize", "50K",
				"-fflags", "nobuffer+discardcorrupt+fastseek",
				"-flags", "low_delay",
				"-avioflags", "direct",
				"-rtsp_transport", "tcp",
				"-allowed_media_types", "video",
				"-stimeout", "10000000",
			},
			url: rawURL,
		}

	case strings.HasPrefix(rawURL, "srt://"):
		return preamble{
			flags: append(append([]string{}, lowDelay...), "-timeout", "10000000"),
			url:   rawURL,
		}

	default:
		return preamble{
			flags: append(append([]string{}, lowDelay...), "-rw_timeout", "10000000"),
			url:   rawURL,
		}
	}
}

func fmp4OutputArgs() []string {
	return []string{
		"-c:v", "copy",
		"-an",
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-frag_duration", "50000",
		"-min_frag_duration", "50000",
		"-flush_packets", "1",
	}
}

func mjpegPassthroughOutputArgs() []string {
	return []string{
		"-c:v", "copy",
		"-an",
		"-f", "image2pipe",
	}
}

func mjpegOutputArgs(quality config.Quality, fpsMode config.FpsMode) []string {
	q := "5"
	switch quality {
	case config.QualityLow:
		q = "10"
	case config.QualityHigh:
		q = "3"
	}

	args := []string{
		"-c:v", "mjpeg",
		"-q:v", q,
		"-an",
		"-f", "image2pipe",
	}

	if !fpsMode.Native {
		args = append(args, "-r", fmt.Sprintf("%d", fpsMode.Capped))
	} else {
		switch quality {
		case config.QualityLow:
			args = append(args, "-r", "10")
		case config.QualityMedium:
			args = append(args, "-r", "15")
		}
	}

	return args
}

// Handle wraps a running ffmpeg process. Stdout (the media stream) and
// stderr (diagnostic lines) are captured independently so a parent that
// stops reading one never blocks the other.
type Handle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu sync.Mutex

	done chan struct{}
	err  error
}

// Spawn builds the argument vector and starts ffmpeg for the given camera
// URL. The returned Handle's Stdout() yields the raw media byte stream.
// stderrSink, if non-nil, receives ffmpeg's diagnostic stderr output.
func Spawn(ctx context.Context, ffmpegPath, cameraID, rawURL string, mode Mode, quality config.Quality, fpsMode config.FpsMode, stderrSink io.Writer) (*Handle, error) {
	args := BuildArgs(rawURL, mode, quality, fpsMode)

	// #nosec G204 - ffmpegPath is resolved from validated configuration, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, stageerr.New(stageerr.WorkerSpawn, cameraID, "attach stdout pipe", err)
	}
	if stderrSink != nil {
		cmd.Stderr = stderrSink
	}

	if err := cmd.Start(); err != nil {
		return nil, stageerr.New(stageerr.WorkerSpawn, cameraID, "start ffmpeg", err)
	}

	h := &Handle{
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan struct{}),
	}

	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

// Stdout returns the process's standard output stream.
func (h *Handle) Stdout() io.Reader {
	return h.stdout
}

// Done is closed once the underlying process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the process exit error, valid only after Done is closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// Pid returns the OS process id, or 0 if the process never started.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Process returns the underlying OS process, for leak-tracking callers.
func (h *Handle) Process() *os.Process {
	return h.cmd.Process
}

// Stop terminates the process, sending SIGINT first for a clean ffmpeg
// shutdown and escalating to SIGKILL if it has not exited within grace.
// It blocks until the process has actually exited.
func (h *Handle) Stop(grace time.Duration) {
	h.mu.Lock()
	proc := h.cmd.Process
	h.mu.Unlock()
	if proc == nil {
		return
	}

	// ESRCH (process already exited) is an expected benign race.
	_ = proc.Signal(syscall.SIGINT)

	select {
	case <-h.done:
	case <-time.After(grace):
		_ = proc.Kill()
		<-h.done
	}
}
