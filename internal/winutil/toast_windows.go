//go:build windows

package winutil

import (
	"os/exec"
	"syscall"
)

// ShowToast displays a notification through PowerShell on Windows 10+.
func ShowToast(title, message string) error {
	cmd := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-Command", toastScript(DefaultAppID, title, message))
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Run()
}
