// Package supervisor owns the lifecycle of the local companion server: it
// spawns it as a managed child, adopts an instance that is already running,
// captures its output into a log sink and stops it on request.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dock108/aicli-companion/internal/errors"
	"github.com/dock108/aicli-companion/internal/health"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/portprobe"
	log "github.com/sirupsen/logrus"
)

// HealthChecker probes the server's health endpoint.
type HealthChecker interface {
	Check(ctx context.Context, port int) bool
	URL(port int) string
}

// Options configures a Supervisor. Zero fields take defaults.
type Options struct {
	DefaultPort   int
	MaxLogEntries int
	// Sink overrides the log sink; MaxLogEntries is ignored when set.
	Sink    *logging.Sink
	Locator Locator
	Health  HealthChecker
	Prober  portprobe.Prober
	// KillPID terminates an external server by pid.
	KillPID func(pid int) error
	// Program and Args launch the server inside the located directory.
	Program     string
	Args        []string
	StopTimeout time.Duration
}

type child struct {
	cmd  *exec.Cmd
	pid  int
	port int
	done chan struct{}
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
	}
	return false
}

// Supervisor manages at most one companion server instance.
//
// statusMu guards status and handleMu guards the child handle. Neither is
// held across process or network I/O, and they are never held together.
type Supervisor struct {
	defaultPort int
	locator     Locator
	health      HealthChecker
	prober      portprobe.Prober
	killPID     func(pid int) error
	program     string
	args        []string
	stopTimeout time.Duration

	sink      *logging.Sink
	records   chan logging.Record
	drainDone chan struct{}
	reapers   sync.WaitGroup

	statusMu sync.RWMutex
	status   ServerStatus

	handleMu sync.Mutex
	child    *child
	starting bool
	closed   bool
	// starts counts claimed starts; Add only happens under handleMu while
	// !closed, so Close can Wait on it.
	starts sync.WaitGroup

	closeOnce sync.Once
}

// New builds a supervisor and starts its log consumer.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		defaultPort: opts.DefaultPort,
		locator:     opts.Locator,
		health:      opts.Health,
		prober:      opts.Prober,
		killPID:     opts.KillPID,
		program:     opts.Program,
		args:        opts.Args,
		stopTimeout: opts.StopTimeout,
		sink:        opts.Sink,
		records:     make(chan logging.Record, 256),
		drainDone:   make(chan struct{}),
	}
	if s.defaultPort <= 0 {
		s.defaultPort = DefaultPort
	}
	if s.locator == nil {
		s.locator = DefaultLocator(false)
	}
	if s.health == nil {
		s.health = &health.Checker{}
	}
	if s.prober == nil {
		s.prober = portprobe.Default()
	}
	if s.killPID == nil {
		s.killPID = portprobe.KillPID
	}
	if s.program == "" {
		s.program = "node"
		s.args = []string{EntryPoint}
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	if s.sink == nil {
		s.sink = logging.NewSink(opts.MaxLogEntries)
	}
	s.status = idleStatus(s.defaultPort, s.health.URL(s.defaultPort))

	go func() {
		defer close(s.drainDone)
		s.sink.Drain(s.records)
	}()
	return s
}

// Sink returns the log sink holding captured server output.
func (s *Supervisor) Sink() *logging.Sink { return s.sink }

// DefaultPort returns the port used when a request leaves it unset.
func (s *Supervisor) DefaultPort() int { return s.defaultPort }

// Status returns a copy of the current status without probing anything.
func (s *Supervisor) Status() ServerStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status.clone()
}

func (s *Supervisor) setStatus(st ServerStatus) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

// CheckHealth probes the health endpoint on port.
func (s *Supervisor) CheckHealth(ctx context.Context, port int) bool {
	return s.health.Check(ctx, s.portOrDefault(port))
}

// HealthURL returns the health endpoint for port.
func (s *Supervisor) HealthURL(port int) string {
	return s.health.URL(s.portOrDefault(port))
}

// Start launches the server on the requested port, or adopts one that is
// already answering health checks there.
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) (ServerStatus, error) {
	port := s.portOrDefault(opts.Port)
	url := s.health.URL(port)

	if s.health.Check(ctx, port) {
		s.handleMu.Lock()
		busy := s.child != nil || s.starting
		s.handleMu.Unlock()
		if busy {
			return ServerStatus{}, errors.AlreadyManaged()
		}
		st := externalStatus(port, url)
		s.setStatus(st)
		s.logf(logging.LevelInfo, "Server already running on port %d, attached as external", port)
		return st.clone(), nil
	}

	s.handleMu.Lock()
	if s.closed {
		s.handleMu.Unlock()
		return ServerStatus{}, errors.SpawnFailed(fmt.Errorf("supervisor is closed"))
	}
	if s.child != nil || s.starting {
		s.handleMu.Unlock()
		return ServerStatus{}, errors.AlreadyManaged()
	}
	s.starting = true
	s.starts.Add(1)
	s.handleMu.Unlock()
	defer s.starts.Done()

	dir, err := s.locator.Locate()
	if err != nil {
		s.releaseStart(nil)
		s.logf(logging.LevelError, "Could not find server directory: %v", err)
		return ServerStatus{}, errors.ServerNotFound(err)
	}

	c, err := s.spawn(dir, port, opts)
	if err != nil {
		s.releaseStart(nil)
		s.logf(logging.LevelError, "Failed to start server: %v", err)
		return ServerStatus{}, errors.SpawnFailed(err)
	}
	if !s.releaseStart(c) {
		// Close ran while spawning; the child has no owner left.
		if err := killProcessTree(c.cmd); err != nil {
			log.WithError(err).WithField("pid", c.pid).Warn("failed to kill server spawned during shutdown")
		}
		return ServerStatus{}, errors.SpawnFailed(fmt.Errorf("supervisor is closed"))
	}

	st := managedStatus(port, c.pid, url)
	s.setStatus(st)
	s.logf(logging.LevelInfo, "Server started on port %d (PID: %d)", port, c.pid)
	return st.clone(), nil
}

// releaseStart drops the in-flight claim and stores c. It reports false when
// the supervisor was closed meanwhile, in which case c is not stored.
func (s *Supervisor) releaseStart(c *child) bool {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	s.starting = false
	if s.closed {
		return false
	}
	if c != nil {
		s.child = c
	}
	return true
}

func (s *Supervisor) spawn(dir string, port int, opts StartOptions) (*child, error) {
	cmd := exec.Command(s.program, s.args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	if opts.AuthToken != "" {
		cmd.Env = append(cmd.Env, "AUTH_TOKEN="+opts.AuthToken)
	}
	if opts.ConfigPath != "" {
		cmd.Env = append(cmd.Env, "CONFIG_PATH="+opts.ConfigPath)
	}
	cmd.Stdin = nil
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &child{cmd: cmd, pid: cmd.Process.Pid, port: port, done: make(chan struct{})}
	s.watch(c, stdout, stderr)
	return c, nil
}

// watch attaches one reader per stream and a reaper that waits for both
// readers to hit EOF before collecting the exit status.
func (s *Supervisor) watch(c *child, stdout, stderr io.Reader) {
	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStream(stdout, logging.StreamStdout, &readers)
	go s.readStream(stderr, logging.StreamStderr, &readers)

	s.reapers.Add(1)
	go func() {
		defer s.reapers.Done()
		readers.Wait()
		err := c.cmd.Wait()
		close(c.done)

		code := -1
		if c.cmd.ProcessState != nil {
			code = c.cmd.ProcessState.ExitCode()
		}
		level := logging.LevelInfo
		if err != nil {
			level = logging.LevelWarning
		}
		msg := fmt.Sprintf("Server process exited (PID: %d, code: %d)", c.pid, code)
		s.records <- logging.Record{Level: level, Message: msg}
		log.WithFields(log.Fields{logging.SourceField: logging.SourceSupervisor, "pid": c.pid}).Info(msg)
	}()
}

func (s *Supervisor) readStream(r io.Reader, stream logging.Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		s.records <- logging.Record{Level: logging.ClassifyLine(line, stream), Message: line}
	}
	if err := sc.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// Stop terminates the managed child. An external server is only stopped when
// opts.ForceExternal is set, by resolving its pid from the listening port.
func (s *Supervisor) Stop(ctx context.Context, opts StopOptions) error {
	st := s.Status()
	if st.Running && st.External {
		if !opts.ForceExternal {
			return errors.NotOwned()
		}
		return s.stopExternal(ctx, st)
	}

	s.handleMu.Lock()
	c := s.child
	s.child = nil
	s.handleMu.Unlock()

	if c != nil {
		if err := s.stopChild(ctx, c); err != nil {
			s.handleMu.Lock()
			if s.child == nil {
				s.child = c
			}
			s.handleMu.Unlock()
			s.logf(logging.LevelError, "Failed to stop server (PID: %d): %v", c.pid, err)
			return errors.StopFailed(err)
		}
		s.setStatus(idleStatus(c.port, s.health.URL(c.port)))
		s.logf(logging.LevelInfo, "Server stopped (PID: %d)", c.pid)
		return nil
	}
	return errors.NotRunning()
}

// stopExternal kills whatever is listening on the external server's port.
func (s *Supervisor) stopExternal(ctx context.Context, st ServerStatus) error {
	pid, ok := s.prober.FindProcessByPort(ctx, st.Port)
	if !ok {
		s.logf(logging.LevelError, "Could not find process listening on port %d", st.Port)
		return errors.ProcessNotFound(st.Port)
	}
	if err := s.killPID(pid); err != nil {
		s.logf(logging.LevelError, "Failed to kill external server (PID: %d): %v", pid, err)
		return errors.StopFailed(err)
	}
	s.setStatus(idleStatus(st.Port, s.health.URL(st.Port)))
	s.logf(logging.LevelInfo, "Stopped external server on port %d (PID: %d)", st.Port, pid)
	return nil
}

func (s *Supervisor) stopChild(ctx context.Context, c *child) error {
	if c.exited() {
		return nil
	}
	if err := killProcessTree(c.cmd); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		s.logf(logging.LevelWarning, "Server (PID: %d) killed but not yet reaped", c.pid)
	case <-ctx.Done():
	}
	return nil
}

// DetectRunning reconciles the status with a fresh health probe on port.
// A live server is reported as managed only when it belongs to the child
// this supervisor spawned on that port.
func (s *Supervisor) DetectRunning(ctx context.Context, port int) ServerStatus {
	port = s.portOrDefault(port)
	url := s.health.URL(port)
	alive := s.health.Check(ctx, port)

	s.handleMu.Lock()
	c := s.child
	s.handleMu.Unlock()

	var st ServerStatus
	switch {
	case !alive:
		st = idleStatus(port, url)
	case c != nil && c.port == port:
		st = managedStatus(port, c.pid, url)
	default:
		st = externalStatus(port, url)
	}
	s.setStatus(st)
	return st.clone()
}

// Logs returns a snapshot of captured output, oldest first.
func (s *Supervisor) Logs() []logging.Entry { return s.sink.Snapshot() }

// ClearLogs empties the sink.
func (s *Supervisor) ClearLogs() { s.sink.Clear() }

// SubscribeLogs streams entries appended after the call.
func (s *Supervisor) SubscribeLogs(buffer int) (<-chan logging.Entry, func()) {
	return s.sink.Subscribe(buffer)
}

// Close kills a still-managed child and stops the log consumer. External
// servers are left running. A start in flight is waited for and its child
// killed.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.handleMu.Lock()
		s.closed = true
		s.handleMu.Unlock()
		s.starts.Wait()

		s.handleMu.Lock()
		c := s.child
		s.child = nil
		s.handleMu.Unlock()
		if c != nil && !c.exited() {
			if err := killProcessTree(c.cmd); err != nil {
				log.WithError(err).WithField("pid", c.pid).Warn("failed to kill server on shutdown")
			}
			s.setStatus(idleStatus(c.port, s.health.URL(c.port)))
		}

		reaped := make(chan struct{})
		go func() {
			s.reapers.Wait()
			close(reaped)
		}()
		select {
		case <-reaped:
			close(s.records)
			<-s.drainDone
		case <-time.After(s.stopTimeout):
			log.Warn("server output readers still open at shutdown")
		}
	})
}

func (s *Supervisor) portOrDefault(port int) int {
	if port <= 0 {
		return s.defaultPort
	}
	return port
}

// logf records a supervisor message in the sink and in the shell log.
func (s *Supervisor) logf(level logging.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.sink.Append(level, msg)
	entry := log.WithField(logging.SourceField, logging.SourceSupervisor)
	switch level {
	case logging.LevelError:
		entry.Error(msg)
	case logging.LevelWarning:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}
