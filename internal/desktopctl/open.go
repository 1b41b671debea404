package desktopctl

import (
	"github.com/pkg/browser"
)

// OpenBrowser opens url in the default browser.
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}

// OpenFolder opens path in the platform file manager.
func OpenFolder(path string) error {
	return browser.OpenFile(path)
}
