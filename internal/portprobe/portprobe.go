// Package portprobe resolves which OS process is listening on a local TCP port
// and terminates processes by pid. Lookups shell out to the platform's socket
// introspection tool; parsing works on raw text so it can be tested anywhere.
package portprobe

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single invocation of the introspection tool.
const DefaultTimeout = 5 * time.Second

// Prober looks up the pid listening on a TCP port.
type Prober interface {
	// FindProcessByPort returns the listening pid and true, or false when
	// nothing is found. It never returns an error: tool failures and
	// unparseable output mean "not found".
	FindProcessByPort(ctx context.Context, port int) (int, bool)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, port int) (int, bool)

func (f ProberFunc) FindProcessByPort(ctx context.Context, port int) (int, bool) {
	return f(ctx, port)
}

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)
	return cmd.Output()
}

// CommandProber shells out to lsof (Unix) or netstat (Windows).
type CommandProber struct {
	// Run defaults to os/exec.
	Run Runner
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// Default returns the prober for the running platform.
func Default() *CommandProber {
	return &CommandProber{}
}

// FindProcessByPort implements Prober.
func (p *CommandProber) FindProcessByPort(ctx context.Context, port int) (int, bool) {
	if !validPort(port) {
		return 0, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := p.Run
	if run == nil {
		run = execRunner
	}
	return lookup(ctx, run, port)
}

// FindProcessByPort queries the default prober for this platform.
func FindProcessByPort(ctx context.Context, port int) (int, bool) {
	return Default().FindProcessByPort(ctx, port)
}

// ParseLsof extracts the first pid from `lsof -t` output (one pid per line).
func ParseLsof(output string) (int, bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		if pid, ok := parsePID(sc.Text()); ok {
			return pid, true
		}
	}
	return 0, false
}

// ParseNetstat scans `netstat -ano -p TCP` output for a LISTENING socket whose
// local address ends in :port and returns the trailing pid column.
func ParseNetstat(output string, port int) (int, bool) {
	suffix := ":" + strconv.Itoa(port)
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		// Proto  Local Address  Foreign Address  State  PID
		if len(fields) < 5 {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		if pid, ok := parsePID(fields[len(fields)-1]); ok {
			return pid, true
		}
	}
	return 0, false
}

func parsePID(s string) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
