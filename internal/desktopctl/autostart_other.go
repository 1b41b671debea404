//go:build !windows

package desktopctl

import "errors"

// ErrAutostartUnsupported is returned outside Windows.
var ErrAutostartUnsupported = errors.New("login autostart is only supported on Windows")

func AutostartEnabled(string) (bool, error) { return false, nil }

func SetAutostart(string, string, bool) error { return ErrAutostartUnsupported }
