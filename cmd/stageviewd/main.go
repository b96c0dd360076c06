// Package main implements stageviewd, the camera streaming supervision and
// fan-out daemon.
//
// stageviewd is designed for 24/7 unattended operation: it spawns one
// ffmpeg worker per configured camera, republishes each worker's output
// over HTTP to any number of viewers, and restarts failed workers with
// exponential backoff.
//
// Usage:
//
//	stageviewd [options]
//
// Options:
//
//	--config=PATH     Path to config file (default: config.json)
//	--lock-dir=PATH   Directory for the single-instance lock file
//	--log-level=LEVEL Log level: debug, info, warn, error (default: info)
//	--mjpeg           Transcode every camera to MJPEG instead of fMP4
//	--help            Show this help message
//
// The daemon automatically:
//   - Spawns an ffmpeg worker per configured camera
//   - Restarts failed workers with exponential backoff
//   - Serves live fragments over HTTP and advertises itself via mDNS
//   - Exposes /healthz and /metrics for monitoring
//   - Handles SIGINT/SIGTERM for graceful shutdown, SIGHUP to reload config
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/keithhegstad/stageview-go/internal/camera"
	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/control"
	"github.com/keithhegstad/stageview-go/internal/diagnostics"
	"github.com/keithhegstad/stageview-go/internal/engine"
	"github.com/keithhegstad/stageview-go/internal/eventsink"
	"github.com/keithhegstad/stageview-go/internal/ffmpegpath"
	"github.com/keithhegstad/stageview-go/internal/health"
	"github.com/keithhegstad/stageview-go/internal/httpstream"
	"github.com/keithhegstad/stageview-go/internal/lock"
	"github.com/keithhegstad/stageview-go/internal/mdnsadv"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	lockDir    = flag.String("lock-dir", "/var/run/stageview", "Directory for the single-instance lock file")
	logDir     = flag.String("log-dir", "/var/log/stageview", "Directory for per-camera ffmpeg stderr logs (empty disables)")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	mjpegAll   = flag.Bool("mjpeg", false, "Transcode every camera to MJPEG instead of fMP4")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	log.Info("starting stageviewd", "version", Version, "commit", Commit, "built", BuildTime)

	if err := os.MkdirAll(*lockDir, 0750); err != nil {
		log.Error("failed to create lock directory", "dir", *lockDir, "error", err)
		os.Exit(1)
	}

	fileLock, err := lock.NewFileLock(filepath.Join(*lockDir, "stageviewd.lock"))
	if err != nil {
		log.Error("failed to initialize instance lock", "error", err)
		os.Exit(1)
	}
	if err := fileLock.Acquire(lock.DefaultAcquireTimeout); err != nil {
		log.Error("another stageviewd instance is already running", "error", err)
		os.Exit(1)
	}
	defer fileLock.Release()

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	log.Info("loaded configuration", "path", *configPath, "cameras", len(cfg.Cameras))

	ffmpegBin, err := ffmpegpath.Resolve()
	if err != nil {
		log.Error("ffmpeg not found", "error", err)
		os.Exit(1)
	}
	log.Info("using ffmpeg", "path", ffmpegBin)

	streamMode := camera.StreamFMP4
	if *mjpegAll {
		streamMode = camera.StreamMJPEG
	}

	statusTracker := health.NewStatusTracker()
	sink := eventsink.NewMultiSink(eventsink.NewLogSink(log), statusTracker)
	var engOpts []engine.Option
	if *logDir != "" {
		if err := os.MkdirAll(*logDir, 0750); err != nil {
			log.Warn("failed to create ffmpeg log directory, stderr will be discarded", "dir", *logDir, "error", err)
		} else {
			engOpts = append(engOpts, engine.WithLogDir(*logDir))
		}
	}
	eng := engine.New(ffmpegBin, *configPath, streamMode, sink, log, engOpts...)
	eng.Start(cfg.StreamConfig, cfg.Cameras)
	defer eng.Stop()

	mux := http.NewServeMux()
	httpstream.NewHandler(eng, log).Register(mux)
	controlHandler := control.NewHandler(eng, sink, nil, log)
	controlHandler.Register(mux)

	healthHandler := health.NewHandler(statusTracker)
	mux.Handle("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", healthHandler)

	diagRunner := diagnostics.NewRunner(diagnostics.Options{
		Mode:       diagnostics.ModeFull,
		ConfigPath: *configPath,
		APIPort:    cfg.APIPort,
		Cameras:    cfg.Cameras,
	})
	mux.HandleFunc("GET /api/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		report, err := diagRunner.Run(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data, err := report.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})

	httpSvc, err := engine.NewHTTPService(fmt.Sprintf(":%d", cfg.APIPort), controlHandler.WithFallback(mux))
	if err != nil {
		log.Error("failed to bind control/stream port", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}

	sup := engine.BuildSupervisor(httpSvc, mdnsadv.New(int(cfg.APIPort), log))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				log.Info("received SIGHUP, reloading configuration")
				if err := eng.Reload(); err != nil {
					log.Error("config reload failed", "error", err)
				}
				continue
			}
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
			return
		}
	}()

	log.Info("serving", "port", cfg.APIPort, "cameras", len(cfg.Cameras))
	if err := sup.Serve(ctx); err != nil && err != context.Canceled {
		log.Error("supervisor exited with error", "error", err)
	}
	log.Info("shutdown complete")
}

// loadConfiguration loads the config file, falling back to defaults if it
// doesn't exist yet.
func loadConfiguration(path string) (*config.EngineConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printUsage() {
	fmt.Println("stageviewd - camera streaming supervision and fan-out daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: stageviewd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
	fmt.Println("  SIGHUP           Reload configuration")
}
