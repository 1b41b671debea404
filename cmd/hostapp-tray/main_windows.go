//go:build windows

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dock108/aicli-companion/internal/config"
	"github.com/dock108/aicli-companion/internal/desktopctl"
	"github.com/dock108/aicli-companion/internal/hostapp"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/netinfo"
	"github.com/dock108/aicli-companion/internal/prefs"
	"github.com/dock108/aicli-companion/internal/supervisor"
	"github.com/dock108/aicli-companion/internal/trayicon"
	"github.com/dock108/aicli-companion/internal/winutil"
	"github.com/getlantern/systray"
	log "github.com/sirupsen/logrus"
)

const autostartAppName = "AICLICompanion"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config.yaml or config.toml")
	flag.Parse()

	lock, err := winutil.AcquireSingleInstance(winutil.DefaultAppID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "single instance check failed:", err)
	} else if lock == nil {
		return
	}
	defer lock.Release()

	logging.SetupBaseLogger()
	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if _, err = config.ValidateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	// no console attached: log to the rotated file only
	logging.SetConsoleOutput(false)
	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = prefs.DefaultLogPath()
	}
	if err = logging.ConfigureLogOutput(true, logFile, cfg.Logging.MaxSizeMB); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	logging.SetLogLevel(cfg.Logging.Level)

	store := prefs.NewStore("")
	app, err := hostapp.New(cfg, hostapp.Options{ConfigPath: configPath, Prefs: store})
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}
	run(app, store)
}

func run(app *hostapp.App, store *prefs.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	systray.Run(func() {
		go func() {
			defer close(done)
			if err := app.Run(ctx, hostapp.RunOptions{}); err != nil {
				log.WithError(err).Error("host stopped")
			}
			systray.Quit()
		}()
		setupMenu(ctx, app, store)
		go notifyExits(ctx, app.Supervisor())
	}, func() {
		cancel()
		<-done
	})
}

func setupMenu(ctx context.Context, app *hostapp.App, store *prefs.Store) {
	sup := app.Supervisor()

	systray.SetIcon(trayicon.ICO(trayicon.Stopped))
	systray.SetTitle("AICLI Companion")
	systray.SetTooltip("AICLI Companion")

	statusItem := systray.AddMenuItem("Stopped", "Server status")
	statusItem.Disable()
	addressItem := systray.AddMenuItem("Copy Address", "Copy the LAN address for the mobile app")
	systray.AddSeparator()

	toggleItem := systray.AddMenuItem("Start Server", "Start/Stop the companion server")
	forceStopItem := systray.AddMenuItem("Force Stop External", "Stop a server this app did not start")
	detectItem := systray.AddMenuItem("Detect Running Server", "Look for a server already on the port")
	systray.AddSeparator()

	healthItem := systray.AddMenuItem("Open Health Page", "Open the server health endpoint")
	logsItem := systray.AddMenuItem("Open Logs Folder", "Open the log folder")
	p, _ := store.Load()
	autoStartItem := systray.AddMenuItemCheckbox("Start Server on Launch", "Start the server when this app opens", p.AutoStart)
	loginEnabled, _ := desktopctl.AutostartEnabled(autostartAppName)
	loginItem := systray.AddMenuItemCheckbox("Launch at Login", "Start this app when you sign in", loginEnabled)
	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Stop the server and quit")

	var last trayicon.State = -1
	refresh := func() {
		st := sup.Status()
		state := trayicon.Stopped
		switch {
		case !st.Running:
			statusItem.SetTitle(fmt.Sprintf("Stopped (port %d)", st.Port))
			toggleItem.SetTitle("Start Server")
			systray.SetTooltip("AICLI Companion - Stopped")
		case st.External:
			state = trayicon.External
			statusItem.SetTitle(fmt.Sprintf("External server on port %d", st.Port))
			toggleItem.SetTitle("Stop Server")
			systray.SetTooltip(fmt.Sprintf("AICLI Companion - External (:%d)", st.Port))
		default:
			state = trayicon.Running
			statusItem.SetTitle(fmt.Sprintf("Running on port %d (PID %d)", st.Port, pidOf(st)))
			toggleItem.SetTitle("Stop Server")
			systray.SetTooltip(fmt.Sprintf("AICLI Companion - Running (:%d)", st.Port))
		}
		if st.External {
			forceStopItem.Enable()
		} else {
			forceStopItem.Disable()
		}
		if state != last {
			systray.SetIcon(trayicon.ICO(state))
			last = state
		}
	}
	refresh()

	go func() {
		t := time.NewTicker(2 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				refresh()
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-toggleItem.ClickedCh:
				actionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if sup.Status().Running {
					if err := sup.Stop(actionCtx, supervisor.StopOptions{}); err != nil {
						log.WithError(err).Warn("tray: stop failed")
					}
				} else if _, err := sup.Start(actionCtx, app.StartOptions()); err != nil {
					log.WithError(err).Warn("tray: start failed")
				}
				cancel()
				refresh()
			case <-forceStopItem.ClickedCh:
				actionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				if err := sup.Stop(actionCtx, supervisor.StopOptions{ForceExternal: true}); err != nil {
					log.WithError(err).Warn("tray: force stop failed")
				}
				cancel()
				refresh()
			case <-detectItem.ClickedCh:
				actionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				sup.DetectRunning(actionCtx, app.StartOptions().Port)
				cancel()
				refresh()
			case <-addressItem.ClickedCh:
				info, err := netinfo.Info(sup.Status().Port)
				if err != nil {
					log.WithError(err).Warn("tray: no network address")
					continue
				}
				_ = copyToClipboard(fmt.Sprintf("%s:%d", info.IP, info.Port))
			case <-healthItem.ClickedCh:
				_ = desktopctl.OpenBrowser(sup.Status().HealthURL)
			case <-logsItem.ClickedCh:
				_ = desktopctl.OpenFolder(prefs.Dir())
			case <-autoStartItem.ClickedCh:
				enabled := !autoStartItem.Checked()
				if err := store.SetAutoStart(enabled); err != nil {
					log.WithError(err).Warn("tray: failed to save preference")
					continue
				}
				setChecked(autoStartItem, enabled)
			case <-loginItem.ClickedCh:
				enabled := !loginItem.Checked()
				exe, err := os.Executable()
				if err != nil {
					continue
				}
				if err := desktopctl.SetAutostart(autostartAppName, `"`+exe+`"`, enabled); err != nil {
					log.WithError(err).Warn("tray: failed to update login autostart")
					continue
				}
				setChecked(loginItem, enabled)
			case <-quitItem.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

// notifyExits raises a toast whenever the server process exits.
func notifyExits(ctx context.Context, sup *supervisor.Supervisor) {
	entries, cancel := sup.SubscribeLogs(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if strings.HasPrefix(e.Message, "Server process exited") {
				_ = winutil.ShowToast("AICLI Companion", e.Message)
			}
		}
	}
}

func setChecked(item *systray.MenuItem, checked bool) {
	if checked {
		item.Check()
	} else {
		item.Uncheck()
	}
}

func pidOf(st supervisor.ServerStatus) int {
	if st.PID == nil {
		return 0
	}
	return *st.PID
}

func copyToClipboard(text string) error {
	cmd := exec.Command("cmd", "/c", "clip")
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}
