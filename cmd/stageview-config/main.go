// SPDX-License-Identifier: MIT

// stageview-config is the interactive configuration and maintenance CLI
// for stageviewd: a camera-list editor, diagnostics runner, and self-
// updater, so an operator never has to hand-edit config.json.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/keithhegstad/stageview-go/internal/config"
	"github.com/keithhegstad/stageview-go/internal/diagnostics"
	"github.com/keithhegstad/stageview-go/internal/menu"
	"github.com/keithhegstad/stageview-go/internal/updater"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	defaultConfigPath = config.ConfigFilePath
	exitSuccess       = 0
	exitError         = 1
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

// run is the main entry point, extracted for testability.
func run(args []string) error {
	if len(args) == 0 {
		return runHelp()
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "help", "--help", "-h":
		return runHelp()
	case "version", "--version", "-v":
		return runVersion()
	case "cameras":
		return runCameras(commandArgs)
	case "add-camera":
		return runAddCamera(commandArgs)
	case "remove-camera":
		return runRemoveCamera(commandArgs)
	case "test-cameras":
		return runTestCameras(commandArgs)
	case "validate":
		return runValidate(commandArgs)
	case "setup":
		return runSetup(commandArgs)
	case "check-system":
		return runDiagnose(commandArgs, diagnostics.ModeQuick)
	case "diagnose":
		return runDiagnose(commandArgs, diagnostics.ModeFull)
	case "update":
		return runUpdate(commandArgs)
	case "menu":
		return runMenu(commandArgs)
	default:
		return fmt.Errorf("unknown command: %s (run 'stageview-config help' for usage)", command)
	}
}

func runHelp() error {
	fmt.Printf(`stageview-config v%s

Usage: stageview-config <command> [flags]

Commands:
  cameras                List configured cameras
  add-camera             Add a camera interactively
  remove-camera          Remove a camera interactively
  test-cameras           Check TCP reachability of every configured camera
  validate               Validate the configuration file
  setup                  Interactive first-run setup wizard
  check-system           Quick system/camera health check
  diagnose               Full diagnostics report
  update [--check]       Check for and install stageviewd updates
  menu                   Launch the interactive management menu
  version                Show version information
  help                   Show this help message

Flags accepted by most commands:
  --config=PATH          Path to config file (default: %s)
`, Version, defaultConfigPath)
	return nil
}

func runVersion() error {
	fmt.Printf("stageview-config %s (%s, built %s)\n", Version, GitCommit, BuildDate)
	return nil
}

// configPathFromArgs extracts an optional --config=PATH/--config PATH flag.
func configPathFromArgs(args []string) string {
	path := defaultConfigPath
	for i := 0; i < len(args); i++ {
		switch {
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--config" && i+1 < len(args):
			path = args[i+1]
			i++
		}
	}
	return path
}

func loadConfigForEdit(path string) (*config.EngineConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

func runCameras(args []string) error {
	path := configPathFromArgs(args)
	cfg, err := loadConfigForEdit(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.Cameras) == 0 {
		fmt.Println("No cameras configured.")
		return nil
	}

	fmt.Printf("%d camera(s) configured:\n\n", len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		fmt.Printf("  %s  %s\n          %s\n", cam.ID, cam.Name, cam.URL)
	}
	return nil
}

func runAddCamera(args []string) error {
	path := configPathFromArgs(args)
	cfg, err := loadConfigForEdit(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id := menu.Input(os.Stdin, os.Stdout, "Camera ID (unique, no spaces)")
	if id == "" {
		return fmt.Errorf("camera ID is required")
	}
	name := menu.Input(os.Stdin, os.Stdout, "Display name")
	url := menu.Input(os.Stdin, os.Stdout, "Stream URL (rtsp://, http://, or srt://)")
	if url == "" {
		return fmt.Errorf("stream URL is required")
	}

	qualities := []string{"low", "medium", "high"}
	idx := menu.Select(os.Stdin, os.Stdout, "Codec override (blank to inherit the default)", append([]string{"(inherit default)"}, qualities...))

	cam := config.Camera{ID: id, Name: name, URL: url}
	if idx > 0 {
		quality := config.Quality(qualities[idx-1])
		cam.CodecOverride = &config.CodecSettings{Quality: quality, FpsMode: config.NativeFpsMode()}
	}

	cfg.Cameras = append(cfg.Cameras, cam)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Added camera %q. Reload stageviewd (SIGHUP) to pick it up.\n", id)
	return nil
}

func runRemoveCamera(args []string) error {
	path := configPathFromArgs(args)
	cfg, err := loadConfigForEdit(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Cameras) == 0 {
		fmt.Println("No cameras configured.")
		return nil
	}

	labels := make([]string, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		labels[i] = fmt.Sprintf("%s (%s)", cam.ID, cam.Name)
	}
	idx := menu.Select(os.Stdin, os.Stdout, "Select a camera to remove", labels)
	if idx < 0 {
		fmt.Println("Cancelled.")
		return nil
	}

	removed := cfg.Cameras[idx].ID
	cfg.Cameras = append(cfg.Cameras[:idx], cfg.Cameras[idx+1:]...)
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Removed camera %q.\n", removed)
	return nil
}

func runTestCameras(args []string) error {
	path := configPathFromArgs(args)
	cfg, err := loadConfigForEdit(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runner := diagnostics.NewRunner(diagnostics.Options{
		Mode:       diagnostics.ModeQuick,
		ConfigPath: path,
		Cameras:    cfg.Cameras,
	})
	report, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("run diagnostics: %w", err)
	}
	diagnostics.PrintReport(os.Stdout, report)
	return nil
}

func runValidate(args []string) error {
	path := configPathFromArgs(args)
	fmt.Printf("Validating configuration: %s\n\n", path)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("Loaded %d camera(s)\n", len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		fmt.Printf("  - %s (%s)\n", cam.ID, cam.Name)
	}
	return nil
}

func runDiagnose(args []string, mode diagnostics.CheckMode) error {
	path := configPathFromArgs(args)
	cfg, err := loadConfigForEdit(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runner := diagnostics.NewRunner(diagnostics.Options{
		Mode:       mode,
		ConfigPath: path,
		APIPort:    cfg.APIPort,
		Cameras:    cfg.Cameras,
	})
	report, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("run diagnostics: %w", err)
	}
	diagnostics.PrintReport(os.Stdout, report)
	return nil
}

// runSetup walks a first-time operator through creating config.json.
func runSetup(args []string) error {
	path := configPathFromArgs(args)
	if _, err := os.Stat(path); err == nil {
		if !menu.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("%s already exists. Overwrite?", path)) {
			fmt.Println("Setup cancelled.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	fmt.Println("StageView Setup")
	fmt.Println("===============")
	fmt.Println()

	for {
		id := menu.Input(os.Stdin, os.Stdout, "Camera ID (blank to finish)")
		if id == "" {
			break
		}
		name := menu.Input(os.Stdin, os.Stdout, "Display name")
		url := menu.Input(os.Stdin, os.Stdout, "Stream URL")
		if url == "" {
			fmt.Println("Stream URL is required, skipping this camera.")
			continue
		}
		cfg.Cameras = append(cfg.Cameras, config.Camera{ID: id, Name: name, URL: url})
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("\nSaved %s with %d camera(s).\n", path, len(cfg.Cameras))
	return nil
}

// runUpdate checks for and installs stageviewd updates.
func runUpdate(args []string) error {
	checkOnly := false
	force := false
	for _, arg := range args {
		switch arg {
		case "--check":
			checkOnly = true
		case "--force":
			force = true
		}
	}

	fmt.Println("StageView Update")
	fmt.Println("================")
	fmt.Println()

	u := updater.New(updater.WithCurrentVersion(Version))
	ctx := context.Background()

	fmt.Println("Checking for updates...")
	info, err := u.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}

	fmt.Println(updater.FormatUpdateInfo(info))
	if !info.UpdateAvailable {
		return nil
	}
	if checkOnly {
		fmt.Println("\nRun 'stageview-config update' without --check to install the update.")
		return nil
	}

	if !force && !menu.Confirm(os.Stdin, os.Stdout, "Download and install update?") {
		fmt.Println("Update cancelled.")
		return nil
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determine binary path: %w", err)
	}

	fmt.Println("\nDownloading update...")
	lastPercent := 0
	progress := func(downloaded, total int64) {
		if total > 0 {
			percent := int(float64(downloaded) / float64(total) * 100)
			if percent > lastPercent+5 || percent == 100 {
				fmt.Printf("\rProgress: %d%%", percent)
				lastPercent = percent
			}
		}
	}

	if err := u.Update(ctx, info, binaryPath, progress); err != nil {
		fmt.Println()
		if u.HasBackup(binaryPath) {
			fmt.Println("Update failed. Rolling back...")
			if rbErr := u.Rollback(binaryPath); rbErr != nil {
				return fmt.Errorf("update failed (%w) and rollback failed (%w)", err, rbErr)
			}
			fmt.Println("Rolled back to previous version.")
		}
		return fmt.Errorf("update failed: %w", err)
	}

	fmt.Printf("\nSuccessfully updated to %s!\n", info.LatestVersion)
	return nil
}

func runMenu(args []string) error {
	m := menu.CreateMainMenu()
	return m.Display()
}
