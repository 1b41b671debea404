package prefs

import (
	"os"
	"path/filepath"
)

// AppDirName names the per-user directory holding shell state and logs.
const AppDirName = "AICLICompanion"

// Dir returns the per-user application directory.
func Dir() string {
	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		if d, err := os.UserConfigDir(); err == nil && d != "" {
			base = d
		}
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, AppDirName)
}

// DefaultPath is the preferences file inside Dir.
func DefaultPath() string {
	return filepath.Join(Dir(), "host-prefs.json")
}

// DefaultLogPath is where the shell writes its own rotated log.
func DefaultLogPath() string {
	return filepath.Join(Dir(), "logs", "hostapp.log")
}
