//go:build !windows

package winutil

// SingleInstance is a no-op outside Windows.
type SingleInstance struct{}

// AcquireSingleInstance always succeeds outside Windows.
func AcquireSingleInstance(string) (*SingleInstance, error) { return &SingleInstance{}, nil }

func (s *SingleInstance) Release() {}

// ShowToast is a no-op outside Windows.
func ShowToast(string, string) error { return nil }
