package supervisor

import "time"

// DefaultPort is the port the companion server listens on unless told otherwise.
const DefaultPort = 3001

// ServerStatus is the supervisor's view of the companion server.
//
// When External is true the server was found already running and PID is nil.
// When Running is false, PID is nil and External is false.
type ServerStatus struct {
	Running   bool   `json:"running"`
	Port      int    `json:"port"`
	PID       *int   `json:"pid"`
	HealthURL string `json:"health_url"`
	External  bool   `json:"external"`
}

// Managed reports whether the status describes a child spawned by this supervisor.
func (s ServerStatus) Managed() bool {
	return s.Running && !s.External && s.PID != nil
}

func (s ServerStatus) clone() ServerStatus {
	if s.PID != nil {
		pid := *s.PID
		s.PID = &pid
	}
	return s
}

func idleStatus(port int, healthURL string) ServerStatus {
	return ServerStatus{Port: port, HealthURL: healthURL}
}

func externalStatus(port int, healthURL string) ServerStatus {
	return ServerStatus{Running: true, Port: port, HealthURL: healthURL, External: true}
}

func managedStatus(port, pid int, healthURL string) ServerStatus {
	return ServerStatus{Running: true, Port: port, PID: &pid, HealthURL: healthURL}
}

// StartOptions configures a start request.
type StartOptions struct {
	// Port defaults to the supervisor's default port when zero.
	Port int `json:"port"`
	// AuthToken is passed to the child as AUTH_TOKEN when non-empty.
	AuthToken string `json:"auth_token,omitempty"`
	// ConfigPath is passed to the child as CONFIG_PATH when non-empty.
	ConfigPath string `json:"config_path,omitempty"`
}

// StopOptions configures a stop request.
type StopOptions struct {
	// ForceExternal allows killing a server this supervisor did not spawn.
	ForceExternal bool `json:"force_external"`
}

// DefaultStopTimeout bounds how long Stop waits for a killed child to be reaped.
const DefaultStopTimeout = 5 * time.Second
