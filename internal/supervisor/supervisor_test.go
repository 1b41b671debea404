package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dock108/aicli-companion/internal/errors"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/portprobe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (f *fakeHealth) Check(context.Context, int) bool {
	f.calls.Add(1)
	return f.healthy.Load()
}

func (f *fakeHealth) URL(port int) string {
	return fmt.Sprintf("http://localhost:%d/health", port)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("spawns POSIX shell scripts")
	}
}

// newTestSupervisor runs script with sh in a temp directory instead of node.
func newTestSupervisor(t *testing.T, h *fakeHealth, script string) *Supervisor {
	t.Helper()
	dir := t.TempDir()
	s := New(Options{
		Locator:     LocatorFunc(func() (string, error) { return dir, nil }),
		Health:      h,
		Program:     "sh",
		Args:        []string{"-c", script},
		StopTimeout: 3 * time.Second,
	})
	t.Cleanup(s.Close)
	return s
}

func waitForLog(t *testing.T, s *Supervisor, substr string) logging.Entry {
	t.Helper()
	var found logging.Entry
	require.Eventually(t, func() bool {
		for _, e := range s.Logs() {
			if strings.Contains(e.Message, substr) {
				found = e
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "no log entry containing %q", substr)
	return found
}

func assertStatusInvariants(t *testing.T, st ServerStatus) {
	t.Helper()
	if st.External {
		assert.Nil(t, st.PID, "external status must not carry a pid")
	}
	if !st.Running {
		assert.Nil(t, st.PID)
		assert.False(t, st.External)
	}
}

func TestNew_DefaultStatus(t *testing.T) {
	s := New(Options{Health: &fakeHealth{}})
	defer s.Close()

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, DefaultPort, st.Port)
	assert.Nil(t, st.PID)
	assert.Equal(t, "http://localhost:3001/health", st.HealthURL)
	assert.False(t, st.External)
	assert.Empty(t, s.Logs())
}

func TestServerStatus_JSON(t *testing.T) {
	data, err := json.Marshal(idleStatus(3001, "http://localhost:3001/health"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"running":false,"port":3001,"pid":null,"health_url":"http://localhost:3001/health","external":false}`, string(data))

	data, err = json.Marshal(managedStatus(3001, 4242, "u"))
	require.NoError(t, err)
	var back ServerStatus
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.PID)
	assert.Equal(t, 4242, *back.PID)
	assert.True(t, back.Managed())

	for _, st := range []ServerStatus{idleStatus(3001, "u"), externalStatus(3002, "v")} {
		data, err := json.Marshal(st)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"pid":null`)

		var got ServerStatus
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Nil(t, got.PID)
		assert.Equal(t, st, got)
	}
}

func TestStatus_ReturnsCopy(t *testing.T) {
	s := New(Options{Health: &fakeHealth{}})
	defer s.Close()
	s.setStatus(managedStatus(3001, 10, "u"))

	st := s.Status()
	*st.PID = 99
	assert.Equal(t, 10, *s.Status().PID)
}

func TestStart_AdoptsHealthyServer(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	located := false
	s := New(Options{
		Health:  h,
		Locator: LocatorFunc(func() (string, error) { located = true; return "", nil }),
	})
	defer s.Close()

	st, err := s.Start(context.Background(), StartOptions{Port: 4100})
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.True(t, st.External)
	assert.Nil(t, st.PID)
	assert.Equal(t, 4100, st.Port)
	assert.Equal(t, "http://localhost:4100/health", st.HealthURL)
	assert.False(t, located, "adopting must not spawn")
	assert.Equal(t, st, s.Status())
}

func TestStart_SpawnsManagedChild(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHealth{}
	s := newTestSupervisor(t, h, `echo "listening on $PORT token=$AUTH_TOKEN cfg=$CONFIG_PATH"; echo "deprecation warning" ; echo "boom" 1>&2; exec sleep 30`)

	st, err := s.Start(context.Background(), StartOptions{Port: 4101, AuthToken: "tok", ConfigPath: "/tmp/c.json"})
	require.NoError(t, err)
	assertStatusInvariants(t, st)
	require.NotNil(t, st.PID)
	assert.True(t, st.Running)
	assert.False(t, st.External)
	assert.Equal(t, 4101, st.Port)

	started := waitForLog(t, s, "Server started on port 4101")
	assert.Equal(t, logging.LevelInfo, started.Level)
	assert.Contains(t, started.Message, fmt.Sprintf("(PID: %d)", *st.PID))

	env := waitForLog(t, s, "listening on 4101")
	assert.Equal(t, "listening on 4101 token=tok cfg=/tmp/c.json", env.Message)
	assert.Equal(t, logging.LevelInfo, env.Level)
	assert.Equal(t, logging.LevelWarning, waitForLog(t, s, "deprecation warning").Level)
	assert.Equal(t, logging.LevelError, waitForLog(t, s, "boom").Level)

	_, err = s.Start(context.Background(), StartOptions{Port: 4101})
	assert.ErrorIs(t, err, errors.ErrAlreadyManaged)

	require.NoError(t, s.Stop(context.Background(), StopOptions{}))
	after := s.Status()
	assertStatusInvariants(t, after)
	assert.False(t, after.Running)
	assert.Equal(t, 4101, after.Port)
	waitForLog(t, s, "Server process exited")
	assert.False(t, portprobe.Alive(*st.PID))
}

func TestStart_OmitsEmptyOptionalEnv(t *testing.T) {
	skipOnWindows(t)
	s := newTestSupervisor(t, &fakeHealth{}, `echo "token=[${AUTH_TOKEN-unset}] cfg=[${CONFIG_PATH-unset}]"`)

	_, err := s.Start(context.Background(), StartOptions{Port: 4102})
	require.NoError(t, err)
	e := waitForLog(t, s, "token=")
	assert.Equal(t, "token=[unset] cfg=[unset]", e.Message)
}

func TestStart_ServerNotFoundLeavesStatus(t *testing.T) {
	h := &fakeHealth{}
	s := New(Options{
		Health:  h,
		Locator: LocatorFunc(func() (string, error) { return "", fmt.Errorf("nowhere") }),
	})
	defer s.Close()
	before := s.Status()

	_, err := s.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, errors.ErrServerNotFound)
	assert.Equal(t, before, s.Status())

	// the in-flight claim is released
	_, err = s.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestStart_SpawnFailure(t *testing.T) {
	h := &fakeHealth{}
	dir := t.TempDir()
	s := New(Options{
		Health:  h,
		Locator: LocatorFunc(func() (string, error) { return dir, nil }),
		Program: filepath.Join(dir, "definitely-not-here"),
	})
	defer s.Close()

	_, err := s.Start(context.Background(), StartOptions{Port: 4103})
	assert.ErrorIs(t, err, errors.ErrSpawnFailed)
	assert.False(t, s.Status().Running)

	e := waitForLog(t, s, "Failed to start server")
	assert.Equal(t, logging.LevelError, e.Level)
}

func TestStart_ConcurrentCallsSpawnOnce(t *testing.T) {
	skipOnWindows(t)
	var spawns atomic.Int32
	dir := t.TempDir()
	s := New(Options{
		Health: &fakeHealth{},
		Locator: LocatorFunc(func() (string, error) {
			spawns.Add(1)
			time.Sleep(50 * time.Millisecond)
			return dir, nil
		}),
		Program: "sleep",
		Args:    []string{"30"},
	})
	defer s.Close()

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Start(context.Background(), StartOptions{Port: 4104})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, errors.ErrAlreadyManaged)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int32(1), spawns.Load())
	require.NoError(t, s.Stop(context.Background(), StopOptions{}))
}

func TestStart_HealthyWhileManagedIsRejected(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHealth{}
	s := newTestSupervisor(t, h, "exec sleep 30")

	st, err := s.Start(context.Background(), StartOptions{Port: 4105})
	require.NoError(t, err)

	h.healthy.Store(true)
	_, err = s.Start(context.Background(), StartOptions{Port: 4105})
	assert.ErrorIs(t, err, errors.ErrAlreadyManaged)
	assert.Equal(t, st, s.Status())
}

func TestStop_NotRunning(t *testing.T) {
	s := New(Options{Health: &fakeHealth{}})
	defer s.Close()
	assert.ErrorIs(t, s.Stop(context.Background(), StopOptions{}), errors.ErrNotRunning)
	assert.ErrorIs(t, s.Stop(context.Background(), StopOptions{ForceExternal: true}), errors.ErrNotRunning)
}

func TestStop_ExternalRequiresForce(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	s := New(Options{Health: h})
	defer s.Close()

	_, err := s.Start(context.Background(), StartOptions{Port: 4106})
	require.NoError(t, err)

	err = s.Stop(context.Background(), StopOptions{})
	assert.ErrorIs(t, err, errors.ErrNotOwned)
	assert.True(t, s.Status().External)
}

func TestStop_ForceExternal(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	var probedPort int
	var killed []int
	s := New(Options{
		Health: h,
		Prober: portprobe.ProberFunc(func(_ context.Context, port int) (int, bool) {
			probedPort = port
			return 777, true
		}),
		KillPID: func(pid int) error { killed = append(killed, pid); return nil },
	})
	defer s.Close()

	_, err := s.Start(context.Background(), StartOptions{Port: 4107})
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background(), StopOptions{ForceExternal: true}))

	assert.Equal(t, 4107, probedPort)
	assert.Equal(t, []int{777}, killed)
	st := s.Status()
	assertStatusInvariants(t, st)
	assert.False(t, st.Running)
	waitForLog(t, s, "Stopped external server on port 4107 (PID: 777)")
}

func TestStop_ForceExternalProcessNotFound(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	s := New(Options{
		Health: h,
		Prober: portprobe.ProberFunc(func(context.Context, int) (int, bool) { return 0, false }),
		KillPID: func(int) error {
			t.Fatal("kill must not be called")
			return nil
		},
	})
	defer s.Close()

	_, err := s.Start(context.Background(), StartOptions{Port: 4108})
	require.NoError(t, err)

	err = s.Stop(context.Background(), StopOptions{ForceExternal: true})
	require.ErrorIs(t, err, errors.ErrProcessNotFound)
	assert.Contains(t, err.Error(), "could not find process listening on port 4108")
	assert.True(t, s.Status().Running, "status unchanged on failure")
}

func TestStop_ForceExternalKillFailure(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	s := New(Options{
		Health:  h,
		Prober:  portprobe.ProberFunc(func(context.Context, int) (int, bool) { return 5, true }),
		KillPID: func(int) error { return fmt.Errorf("operation not permitted") },
	})
	defer s.Close()

	_, err := s.Start(context.Background(), StartOptions{Port: 4109})
	require.NoError(t, err)

	err = s.Stop(context.Background(), StopOptions{ForceExternal: true})
	assert.ErrorIs(t, err, errors.ErrStopFailed)
	assert.True(t, s.Status().External)
}

func TestStop_AfterChildExited(t *testing.T) {
	skipOnWindows(t)
	s := newTestSupervisor(t, &fakeHealth{}, "echo bye")

	_, err := s.Start(context.Background(), StartOptions{Port: 4110})
	require.NoError(t, err)
	waitForLog(t, s, "Server process exited")

	// handle is kept until stop
	_, err = s.Start(context.Background(), StartOptions{Port: 4110})
	assert.ErrorIs(t, err, errors.ErrAlreadyManaged)

	require.NoError(t, s.Stop(context.Background(), StopOptions{}))
	assert.False(t, s.Status().Running)
	assert.ErrorIs(t, s.Stop(context.Background(), StopOptions{}), errors.ErrNotRunning)
}

func TestStop_KillsProcessGroup(t *testing.T) {
	skipOnWindows(t)
	pidFile := filepath.Join(t.TempDir(), "grandchild.pid")
	s := newTestSupervisor(t, &fakeHealth{}, fmt.Sprintf("sleep 30 & echo $! > %s; wait", pidFile))

	_, err := s.Start(context.Background(), StartOptions{Port: 4111})
	require.NoError(t, err)

	var grandchild int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		_, err = fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &grandchild)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Greater(t, grandchild, 0)

	require.NoError(t, s.Stop(context.Background(), StopOptions{}))
	// the grandchild holds stdout open, so the reaper only finishes once it is dead too
	waitForLog(t, s, "Server process exited")
}

func TestDetectRunning(t *testing.T) {
	h := &fakeHealth{}
	s := New(Options{Health: h})
	defer s.Close()

	st := s.DetectRunning(context.Background(), 4112)
	assertStatusInvariants(t, st)
	assert.False(t, st.Running)
	assert.Equal(t, 4112, st.Port)
	assert.Equal(t, "http://localhost:4112/health", st.HealthURL)

	h.healthy.Store(true)
	first := s.DetectRunning(context.Background(), 4112)
	second := s.DetectRunning(context.Background(), 4112)
	assert.Equal(t, first, second)
	assert.True(t, first.Running)
	assert.True(t, first.External)
	assert.Nil(t, first.PID)
	assert.Equal(t, first, s.Status())

	h.healthy.Store(false)
	st = s.DetectRunning(context.Background(), 0)
	assert.False(t, st.Running)
	assert.Equal(t, DefaultPort, st.Port)
}

func TestDetectRunning_KeepsManagedChild(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHealth{}
	s := newTestSupervisor(t, h, "exec sleep 30")

	started, err := s.Start(context.Background(), StartOptions{Port: 4113})
	require.NoError(t, err)

	h.healthy.Store(true)
	st := s.DetectRunning(context.Background(), 4113)
	assert.Equal(t, started, st)
	assert.True(t, st.Managed())

	// a live server on another port is not ours
	other := s.DetectRunning(context.Background(), 4999)
	assert.True(t, other.External)
	assert.Nil(t, other.PID)
}

func TestStop_ExternalStatusWinsOverManagedChild(t *testing.T) {
	skipOnWindows(t)
	h := &fakeHealth{}
	s := newTestSupervisor(t, h, "exec sleep 30")

	started, err := s.Start(context.Background(), StartOptions{Port: 4201})
	require.NoError(t, err)

	h.healthy.Store(true)
	require.True(t, s.DetectRunning(context.Background(), 4202).External)

	err = s.Stop(context.Background(), StopOptions{})
	require.ErrorIs(t, err, errors.ErrNotOwned)

	st := s.Status()
	assert.True(t, st.Running)
	assert.True(t, st.External)
	assert.Equal(t, 4202, st.Port)
	assert.True(t, portprobe.Alive(*started.PID), "managed child must survive")
}

func TestCheckHealth_DelegatesAndDefaultsPort(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	s := New(Options{Health: h})
	defer s.Close()

	assert.True(t, s.CheckHealth(context.Background(), 0))
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, s.Status(), idleStatus(DefaultPort, h.URL(DefaultPort)), "check does not touch status")
}

func TestClearLogsAndSubscribe(t *testing.T) {
	h := &fakeHealth{}
	h.healthy.Store(true)
	s := New(Options{Health: h})
	defer s.Close()

	ch, cancel := s.SubscribeLogs(8)
	defer cancel()

	_, err := s.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.Contains(t, e.Message, "attached as external")
	case <-time.After(time.Second):
		t.Fatal("no log event")
	}

	require.NotEmpty(t, s.Logs())
	s.ClearLogs()
	assert.Empty(t, s.Logs())
}

func TestClose_KillsManagedChild(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	s := New(Options{
		Health:      &fakeHealth{},
		Locator:     LocatorFunc(func() (string, error) { return dir, nil }),
		Program:     "sleep",
		Args:        []string{"30"},
		StopTimeout: 3 * time.Second,
	})

	st, err := s.Start(context.Background(), StartOptions{Port: 4114})
	require.NoError(t, err)
	s.Close()
	s.Close()

	assert.Eventually(t, func() bool { return !portprobe.Alive(*st.PID) }, 5*time.Second, 20*time.Millisecond)
	assert.False(t, s.Status().Running)

	_, err = s.Start(context.Background(), StartOptions{Port: 4114})
	assert.ErrorIs(t, err, errors.ErrSpawnFailed)
}

func TestSpawn_UsesLocatedDirectory(t *testing.T) {
	skipOnWindows(t)
	if _, err := exec.LookPath("pwd"); err != nil {
		t.Skip("pwd not available")
	}
	dir := t.TempDir()
	s := New(Options{
		Health:  &fakeHealth{},
		Locator: LocatorFunc(func() (string, error) { return dir, nil }),
		Program: "sh",
		Args:    []string{"-c", "echo cwd=$(pwd -P)"},
	})
	defer s.Close()

	_, err := s.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	e := waitForLog(t, s, "cwd=")
	assert.Equal(t, "cwd="+want, e.Message)
}

func TestClose_DuringStartKillsLateChild(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	entered := make(chan struct{})
	release := make(chan struct{})
	s := New(Options{
		Health: &fakeHealth{},
		Locator: LocatorFunc(func() (string, error) {
			close(entered)
			<-release
			return dir, nil
		}),
		Program:     "sh",
		Args:        []string{"-c", "echo late start; exec sleep 30"},
		StopTimeout: 3 * time.Second,
	})

	type result struct {
		st  ServerStatus
		err error
	}
	started := make(chan result, 1)
	go func() {
		st, err := s.Start(context.Background(), StartOptions{Port: 4115})
		started <- result{st, err}
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		s.handleMu.Lock()
		defer s.handleMu.Unlock()
		return s.closed
	}, time.Second, 5*time.Millisecond)

	select {
	case <-closed:
		t.Fatal("close returned while a start was in flight")
	default:
	}
	close(release)

	res := <-started
	require.ErrorIs(t, res.err, errors.ErrSpawnFailed)
	assert.False(t, res.st.Running)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	assert.False(t, s.Status().Running)
	s.handleMu.Lock()
	assert.Nil(t, s.child)
	s.handleMu.Unlock()

	var exited bool
	for _, e := range s.Logs() {
		if strings.Contains(e.Message, "Server process exited") {
			exited = true
		}
	}
	assert.True(t, exited, "late child must be killed and reaped before close returns")
}
