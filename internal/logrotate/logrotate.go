// SPDX-License-Identifier: MIT

// Package logrotate provides a size- and age-bounded rotating writer for
// per-camera ffmpeg stderr logs.
package logrotate

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the default log file size before rotation.
	DefaultMaxSize = 10 * 1024 * 1024 // 10 MB

	// DefaultMaxFiles is the default number of rotated logs to keep.
	DefaultMaxFiles = 5

	// DefaultMaxAge is the default age after which a rotated log is
	// removed regardless of how many files are retained.
	DefaultMaxAge = 30 * 24 * time.Hour
)

// Writer is an io.WriteCloser that rotates a log file when it exceeds a
// size limit, and prunes rotated files by count and by age.
//
// Reference: mediamtx-stream-manager.sh cleanup_old_logs
type Writer struct {
	path     string
	maxSize  int64
	maxFiles int
	maxAge   time.Duration
	compress bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithMaxSize sets the maximum log file size before rotation.
func WithMaxSize(size int64) Option {
	return func(w *Writer) { w.maxSize = size }
}

// WithMaxFiles sets the maximum number of rotated files to keep.
func WithMaxFiles(count int) Option {
	return func(w *Writer) { w.maxFiles = count }
}

// WithMaxAge sets how long a rotated file is kept before pruning removes
// it regardless of maxFiles.
func WithMaxAge(age time.Duration) Option {
	return func(w *Writer) { w.maxAge = age }
}

// WithCompression enables gzip compression of rotated logs.
func WithCompression(compress bool) Option {
	return func(w *Writer) { w.compress = compress }
}

// New creates a rotating log writer at path, creating parent directories
// as needed.
func New(path string, opts ...Option) (*Writer, error) {
	w := &Writer{
		path:     path,
		maxSize:  DefaultMaxSize,
		maxFiles: DefaultMaxFiles,
		maxAge:   DefaultMaxAge,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer, rotating first if the write would exceed
// maxSize.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		_ = w.rotate()
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Rotate forces a rotation.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *Writer) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.file = nil
	}

	if err := w.shiftFiles(); err != nil {
		return err
	}

	rotated := w.rotatedPath(1)
	if err := os.Rename(w.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate log file: %w", err)
	}

	if w.compress {
		go w.compressFile(rotated)
	}

	w.prune()

	return w.openFile()
}

func (w *Writer) openFile() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *Writer) shiftFiles() error {
	for i := w.maxFiles - 1; i >= 1; i-- {
		oldPath := w.rotatedPath(i)
		newPath := w.rotatedPath(i + 1)
		for _, ext := range []string{"", ".gz"} {
			old := oldPath + ext
			nw := newPath + ext
			if _, err := os.Stat(old); err == nil {
				if err := os.Rename(old, nw); err != nil {
					return fmt.Errorf("shift log file %s -> %s: %w", old, nw, err)
				}
			}
		}
	}
	return nil
}

func (w *Writer) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *Writer) compressFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	gzPath := path + ".gz"
	gzFile, err := os.Create(gzPath)
	if err != nil {
		return
	}
	defer gzFile.Close()

	gzWriter := gzip.NewWriter(gzFile)
	if _, err := gzWriter.Write(data); err != nil {
		os.Remove(gzPath)
		return
	}
	if err := gzWriter.Close(); err != nil {
		os.Remove(gzPath)
		return
	}
	os.Remove(path)
}

// prune removes rotated files beyond maxFiles, then removes any
// remaining rotated file older than maxAge.
func (w *Writer) prune() {
	for i := w.maxFiles + 1; i <= w.maxFiles+10; i++ {
		path := w.rotatedPath(i)
		os.Remove(path)
		os.Remove(path + ".gz")
	}

	if w.maxAge <= 0 {
		return
	}
	files, err := ListRotated(w.path)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-w.maxAge)
	for _, f := range files {
		if f.ModTime.Before(cutoff) {
			os.Remove(f.Path)
		}
	}
}

// Size returns the current log file size.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// RotatedFile describes a rotated log file on disk.
type RotatedFile struct {
	Path       string
	Name       string
	Size       int64
	ModTime    time.Time
	Compressed bool
}

// ListRotated returns the rotated files for basePath, newest first.
func ListRotated(basePath string) ([]RotatedFile, error) {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []RotatedFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, RotatedFile{
			Path:       filepath.Join(dir, name),
			Name:       name,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			Compressed: strings.HasSuffix(name, ".gz"),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// TotalSize returns the combined size of the active log and all its
// rotated files.
func TotalSize(basePath string) (int64, error) {
	var total int64
	if info, err := os.Stat(basePath); err == nil {
		total += info.Size()
	}
	files, err := ListRotated(basePath)
	if err != nil {
		return total, err
	}
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// CleanupAll removes the active log and all of its rotated files.
func CleanupAll(basePath string) error {
	os.Remove(basePath)
	files, err := ListRotated(basePath)
	if err != nil {
		return err
	}
	for _, f := range files {
		os.Remove(f.Path)
	}
	return nil
}

// ForCamera opens a rotating writer for a camera's ffmpeg stderr log,
// sanitizing the camera id into a safe filename.
func ForCamera(logDir, cameraID string, opts ...Option) (io.WriteCloser, error) {
	safeName := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, cameraID)

	path := filepath.Join(logDir, fmt.Sprintf("ffmpeg-%s.log", safeName))
	return New(path, opts...)
}
