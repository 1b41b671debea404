//go:build windows

package desktopctl

import (
	"errors"
	"strings"

	"golang.org/x/sys/windows/registry"
)

const windowsRunKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

// AutostartEnabled reports whether appName is registered to run at login.
func AutostartEnabled(appName string) (bool, error) {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return false, errors.New("app name is required")
	}
	k, err := registry.OpenKey(registry.CURRENT_USER, windowsRunKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return false, err
	}
	defer k.Close()
	s, _, err := k.GetStringValue(appName)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(s) != "", nil
}

// SetAutostart registers or removes command under the per-user Run key.
func SetAutostart(appName, command string, enabled bool) error {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return errors.New("app name is required")
	}
	if !enabled {
		k, err := registry.OpenKey(registry.CURRENT_USER, windowsRunKeyPath, registry.SET_VALUE)
		if err != nil {
			if errors.Is(err, registry.ErrNotExist) {
				return nil
			}
			return err
		}
		defer k.Close()
		if err := k.DeleteValue(appName); err != nil && !errors.Is(err, registry.ErrNotExist) {
			return err
		}
		return nil
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return errors.New("autostart command is required")
	}
	k, _, err := registry.CreateKey(registry.CURRENT_USER, windowsRunKeyPath, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	return k.SetStringValue(appName, command)
}
