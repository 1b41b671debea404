//go:build windows

package winutil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// SingleInstance holds a named mutex for single-instance enforcement.
type SingleInstance struct {
	handle windows.Handle
}

// AcquireSingleInstance takes the named mutex. It returns nil, nil when
// another instance already holds it.
func AcquireSingleInstance(name string) (*SingleInstance, error) {
	namePtr, err := windows.UTF16PtrFromString(mutexName(name))
	if err != nil {
		return nil, fmt.Errorf("invalid mutex name: %w", err)
	}
	handle, err := windows.CreateMutex(nil, false, namePtr)
	if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		if handle != 0 {
			_ = windows.CloseHandle(handle)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("CreateMutex failed: %w", err)
	}
	return &SingleInstance{handle: handle}, nil
}

// Release drops the mutex.
func (s *SingleInstance) Release() {
	if s != nil && s.handle != 0 {
		_ = windows.ReleaseMutex(s.handle)
		_ = windows.CloseHandle(s.handle)
		s.handle = 0
	}
}
