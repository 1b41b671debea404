// Package main is the companion host: it supervises the local companion
// server, exposes a control API and optionally shows a terminal dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dock108/aicli-companion/internal/config"
	"github.com/dock108/aicli-companion/internal/hostapp"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/prefs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	var port int
	var development bool
	var noTUI bool
	var noAPI bool
	var autoStart bool
	var verbose bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "Path to config.yaml or config.toml")
	flag.IntVar(&port, "port", 0, "Companion server port (overrides config)")
	flag.BoolVar(&development, "dev", false, "Locate the server relative to the working directory")
	flag.BoolVar(&noTUI, "no-tui", false, "Run headless even on a terminal")
	flag.BoolVar(&noAPI, "no-api", false, "Disable the local control API")
	flag.BoolVar(&autoStart, "start", false, "Start the server on launch")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("AICLI Companion Host %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	if errEnv := config.LoadDotEnv(wd); errEnv != nil {
		log.WithError(errEnv).Warn("failed to load .env")
	}

	if configPath == "" {
		if candidate := filepath.Join(wd, "config.yaml"); fileExists(candidate) {
			configPath = candidate
		}
	}
	cfg, err := config.LoadConfigOptional(configPath, false)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if port > 0 {
		cfg.Port = port
	}
	if development {
		cfg.Development = true
	}
	if noAPI {
		cfg.API.Disabled = true
	}
	if autoStart {
		cfg.AutoStart = true
	}
	if _, err = config.ValidateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	useTUI := !noTUI && term.IsTerminal(int(os.Stdout.Fd()))
	if useTUI {
		// the dashboard owns the terminal; shell logs go to the file only
		logging.SetConsoleOutput(false)
		cfg.Logging.ToFile = true
	}
	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = prefs.DefaultLogPath()
	}
	if err = logging.ConfigureLogOutput(cfg.Logging.ToFile, logFile, cfg.Logging.MaxSizeMB); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	logging.SetLogLevel(cfg.Logging.Level)
	if verbose {
		logging.SetLogLevel("debug")
	}
	log.Infof("AICLI Companion Host %s, commit %s, built %s", Version, Commit, BuildDate)

	app, err := hostapp.New(cfg, hostapp.Options{
		ConfigPath: configPath,
		Prefs:      prefs.NewStore(""),
	})
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = app.Run(ctx, hostapp.RunOptions{TUI: useTUI}); err != nil {
		log.Errorf("host exited: %v", err)
		os.Exit(1)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
