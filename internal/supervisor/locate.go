package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
)

// ServerDirName is the directory holding the companion server sources.
const ServerDirName = "server"

// EntryPoint is the script run with node, relative to the server directory.
var EntryPoint = filepath.Join("src", "index.js")

// Locator finds the directory the server is launched from.
type Locator interface {
	Locate() (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func() (string, error)

func (f LocatorFunc) Locate() (string, error) { return f() }

// DevLocator walks up from Start looking for <dir>/server or <dir>/../server
// containing src/index.js. Start defaults to the working directory.
type DevLocator struct {
	Start string
}

func (l DevLocator) Locate() (string, error) {
	start := l.Start
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		start = wd
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		for _, candidate := range []string{
			filepath.Join(dir, ServerDirName),
			filepath.Join(dir, "..", ServerDirName),
		} {
			if hasEntryPoint(candidate) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no %s directory with %s above %s", ServerDirName, EntryPoint, start)
}

// ProdLocator resolves <ExeDir>/server, where ExeDir defaults to the
// directory of the running executable.
type ProdLocator struct {
	ExeDir string
}

func (l ProdLocator) Locate() (string, error) {
	exeDir := l.ExeDir
	if exeDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolve executable: %w", err)
		}
		exeDir = filepath.Dir(exe)
	}
	dir := filepath.Join(exeDir, ServerDirName)
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}

// DefaultLocator picks the development walk-up or the production layout.
func DefaultLocator(development bool) Locator {
	if development {
		return DevLocator{}
	}
	return ProdLocator{}
}

func hasEntryPoint(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, EntryPoint))
	return err == nil && !info.IsDir()
}
