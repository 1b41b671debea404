// Package hostapp assembles the companion host: it builds the supervisor from
// configuration and preferences, then runs the control API, the config
// watcher and the optional dashboard until shutdown.
package hostapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dock108/aicli-companion/internal/api"
	"github.com/dock108/aicli-companion/internal/config"
	"github.com/dock108/aicli-companion/internal/health"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/netinfo"
	"github.com/dock108/aicli-companion/internal/portprobe"
	"github.com/dock108/aicli-companion/internal/prefs"
	"github.com/dock108/aicli-companion/internal/supervisor"
	"github.com/dock108/aicli-companion/internal/tui"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the control API's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options carries the pieces New does not derive from config.
type Options struct {
	// ConfigPath is watched for changes when non-empty.
	ConfigPath string
	Prefs      *prefs.Store
	// Prober and KillPID override process lookup, mainly for tests.
	Prober  portprobe.Prober
	KillPID func(pid int) error
	// Program and Args override the server command line.
	Program string
	Args    []string
}

// RunOptions selects the front ends started by Run.
type RunOptions struct {
	TUI bool
	// Listener serves the control API instead of listening on the configured address.
	Listener net.Listener
}

// App is a configured companion host.
type App struct {
	// cfgMu guards cfg and mirror.
	cfgMu  sync.Mutex
	cfg    *config.Config
	mirror bool

	configPath string
	prefs      *prefs.Store
	sink       *logging.Sink
	sup        *supervisor.Supervisor
	api        *api.Server
	startOpts  supervisor.StartOptions

	closeOnce sync.Once
}

// New builds the supervisor and control API for cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	store := opts.Prefs
	if store == nil {
		store = prefs.NewStore("")
	}

	token := cfg.AuthToken
	if token == "" {
		t, err := store.AuthToken()
		if err != nil {
			return nil, fmt.Errorf("load auth token: %w", err)
		}
		token = t
	}

	sink := logging.NewSink(cfg.Logging.MaxEntries)
	sup := supervisor.New(supervisor.Options{
		DefaultPort: cfg.Port,
		Sink:        sink,
		Locator:     locatorFor(cfg),
		Health:      &health.Checker{Host: cfg.HealthHost, Timeout: cfg.HealthTimeout()},
		Prober:      opts.Prober,
		KillPID:     opts.KillPID,
		Program:     opts.Program,
		Args:        opts.Args,
	})

	a := &App{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		prefs:      store,
		sink:       sink,
		sup:        sup,
		startOpts: supervisor.StartOptions{
			Port:       cfg.Port,
			AuthToken:  token,
			ConfigPath: cfg.ServerConfigPath,
		},
	}
	a.setMirror(cfg.Logging.MirrorShellLogs)

	if !cfg.API.Disabled {
		a.api = api.NewServer(sup, cfg.APIAddr(), api.WithStartDefaults(a.fillStartDefaults))
	}
	return a, nil
}

// locatorFor pins ServerDir when configured, otherwise picks the layout.
func locatorFor(cfg *config.Config) supervisor.Locator {
	if cfg.ServerDir == "" {
		return supervisor.DefaultLocator(cfg.Development)
	}
	dir := cfg.ServerDir
	return supervisor.LocatorFunc(func() (string, error) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", err
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory", abs)
		}
		return abs, nil
	})
}

func (a *App) fillStartDefaults(o *supervisor.StartOptions) {
	if o.AuthToken == "" {
		o.AuthToken = a.startOpts.AuthToken
	}
	if o.ConfigPath == "" {
		o.ConfigPath = a.startOpts.ConfigPath
	}
}

// Supervisor exposes the underlying supervisor.
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// API returns the control API, or nil when it is disabled.
func (a *App) API() *api.Server { return a.api }

// StartOptions returns the options used for launch and dashboard starts.
func (a *App) StartOptions() supervisor.StartOptions { return a.startOpts }

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// Launch reconciles with any server already on the configured port and
// starts one when auto-start is enabled in config or preferences.
func (a *App) Launch(ctx context.Context) supervisor.ServerStatus {
	st := a.sup.DetectRunning(ctx, a.startOpts.Port)
	if st.Running {
		log.Infof("Found existing server on port %d", st.Port)
		return st
	}

	autoStart := a.Config().AutoStart
	if p, err := a.prefs.Load(); err == nil && p.AutoStart {
		autoStart = true
	}
	if !autoStart {
		return st
	}

	st, err := a.sup.Start(ctx, a.startOpts)
	if err != nil {
		log.WithError(err).Warn("auto-start failed")
		return a.sup.Status()
	}
	if errSave := a.prefs.SetLastPort(st.Port); errSave != nil {
		log.WithError(errSave).Debug("failed to save last port")
	}
	return st
}

// Run launches and then serves until ctx is done, the dashboard quits, or a
// component fails. The supervisor is closed before Run returns.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Launch(ctx)

	g, gctx := errgroup.WithContext(ctx)

	// Keeps a headless run without API or watcher alive until ctx is done.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if a.api != nil {
		g.Go(func() error {
			if opts.Listener != nil {
				return a.api.Serve(opts.Listener)
			}
			return a.api.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return a.api.Stop(shutdownCtx)
		})
	}

	if a.configPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, a.configPath, a.applyConfig); err != nil {
				log.WithError(err).Warn("config watcher disabled")
			}
			return nil
		})
	}

	if opts.TUI {
		g.Go(func() error {
			defer cancel()
			ip, _ := netinfo.LocalIP()
			return tui.Run(gctx, a.sup, tui.Options{
				Start:         a.startOpts,
				LocalIP:       ip,
				MaxLogEntries: a.Config().Logging.MaxEntries,
			})
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyConfig applies the settings that can change without a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()

	logging.SetLogLevel(cfg.Logging.Level)
	a.sink.SetMaxEntries(cfg.Logging.MaxEntries)
	a.setMirror(cfg.Logging.MirrorShellLogs)
	if err := a.prefs.SetAutoStart(cfg.AutoStart); err != nil {
		log.WithError(err).Debug("failed to save auto-start preference")
	}
	log.Info("configuration reloaded")
}

func (a *App) setMirror(enabled bool) {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if enabled == a.mirror {
		return
	}
	a.mirror = enabled
	if enabled {
		log.AddHook(a.sink)
		return
	}
	removeHook(a.sink)
}

// removeHook drops h from the standard logger's hooks.
func removeHook(h log.Hook) {
	kept := make(log.LevelHooks)
	for level, hooks := range log.StandardLogger().Hooks {
		for _, existing := range hooks {
			if existing != h {
				kept[level] = append(kept[level], existing)
			}
		}
	}
	log.StandardLogger().ReplaceHooks(kept)
}

// Close stops any managed server and releases the log pipeline.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.setMirror(false)
		a.sup.Close()
	})
}
