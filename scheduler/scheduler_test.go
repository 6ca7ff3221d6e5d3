package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/dockerapi"
	"github.com/aypapol/gamehost/notify"
	"github.com/aypapol/gamehost/repository"
)

const testPrefix = "game-panel-"

// fakeRuntime tracks containers by name and records the order of
// state-changing calls.
type fakeRuntime struct {
	mu         sync.Mutex
	running    map[string]bool
	pullErr    error
	createErr  error
	startErr   error
	callOrder  []string
	containers map[string]dockerapi.ContainerInfo
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running:    make(map[string]bool),
		containers: make(map[string]dockerapi.ContainerInfo),
	}
}

func (f *fakeRuntime) record(call string) {
	f.callOrder = append(f.callOrder, call)
}

func (f *fakeRuntime) ListContainers(_ context.Context, includeStopped bool) ([]dockerapi.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []dockerapi.ContainerInfo
	for name, info := range f.containers {
		if !includeStopped && !f.running[name] {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (f *fakeRuntime) Inspect(_ context.Context, name string) (*dockerapi.ContainerDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return nil, fmt.Errorf("container %s: %w", name, gamehost.ErrNotFound)
	}
	return &dockerapi.ContainerDetail{Name: name, Running: f.running[name]}, nil
}

func (f *fakeRuntime) Create(_ context.Context, spec dockerapi.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create " + spec.Name)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.containers[spec.Name] = dockerapi.ContainerInfo{
		ID:     "id-" + spec.Name,
		Name:   spec.Name,
		Labels: spec.Labels,
	}
	return "id-" + spec.Name, nil
}

func (f *fakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start " + name)
	if f.startErr != nil {
		return f.startErr
	}
	f.running[name] = true
	info := f.containers[name]
	info.State = "running"
	f.containers[name] = info
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop " + name)
	f.running[name] = false
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove " + name)
	if _, ok := f.containers[name]; !ok {
		return fmt.Errorf("container %s: %w", name, gamehost.ErrNotFound)
	}
	delete(f.containers, name)
	delete(f.running, name)
	return nil
}

func (f *fakeRuntime) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull " + ref)
	return f.pullErr
}

// stopExternally simulates the engine losing the container outside the
// scheduler's control.
func (f *fakeRuntime) stopExternally(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = false
}

type fakeServers struct {
	mu      sync.Mutex
	servers map[string]*gamehost.Server
}

func (f *fakeServers) GetAll(context.Context, string) ([]*gamehost.Server, error) { return nil, nil }

func (f *fakeServers) GetByID(_ context.Context, id string) (*gamehost.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	server, ok := f.servers[id]
	if !ok {
		return nil, gamehost.ErrNotFound
	}
	return server, nil
}

func (f *fakeServers) GetByPort(context.Context, int) (*gamehost.Server, error) {
	return nil, gamehost.ErrNotFound
}

func (f *fakeServers) Insert(_ context.Context, server *gamehost.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[server.ID] = server
	return nil
}

func (f *fakeServers) Update(context.Context, *gamehost.Server) error { return nil }

func (f *fakeServers) UpdateTheme(context.Context, string, *string, *string) error { return nil }

func (f *fakeServers) DeleteByID(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.servers, id)
	return nil
}

type fakeRuns struct {
	mu     sync.Mutex
	nextID int64
	runs   []*gamehost.Run
}

func (f *fakeRuns) Start(_ context.Context, serverID string, startedAt time.Time) (*gamehost.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	run := &gamehost.Run{ID: f.nextID, ServerID: serverID, StartedAt: startedAt}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeRuns) Stop(_ context.Context, serverID string, stoppedAt time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.ServerID == serverID && run.StoppedAt == nil {
			run.StoppedAt = &stoppedAt
			run.StopReason = &reason
		}
	}
	return nil
}

func (f *fakeRuns) Open(_ context.Context, serverID string) (*gamehost.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.ServerID == serverID && run.StoppedAt == nil {
			return run, nil
		}
	}
	return nil, nil
}

func (f *fakeRuns) History(_ context.Context, serverID string) ([]*gamehost.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*gamehost.Run
	for _, run := range f.runs {
		if run.ServerID == serverID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRuns) DeleteByServer(_ context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*gamehost.Run
	for _, run := range f.runs {
		if run.ServerID != serverID {
			kept = append(kept, run)
		}
	}
	f.runs = kept
	return nil
}

func (f *fakeRuns) open() []*gamehost.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*gamehost.Run
	for _, run := range f.runs {
		if run.StoppedAt == nil {
			out = append(out, run)
		}
	}
	return out
}

func (f *fakeRuns) reasonFor(serverID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.runs) - 1; i >= 0; i-- {
		if f.runs[i].ServerID == serverID && f.runs[i].StopReason != nil {
			return *f.runs[i].StopReason
		}
	}
	return ""
}

type fakeSettings struct {
	values map[string]string
}

func (f *fakeSettings) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.values[key]; ok {
		return v, nil
	}
	return gamehost.SettingDefaults[key], nil
}
func (f *fakeSettings) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}
func (f *fakeSettings) Unset(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}
func (f *fakeSettings) GetAll(context.Context) (map[string]string, error) { return f.values, nil }

type fakeNotifier struct {
	mu      sync.Mutex
	crashes []string
}

func (f *fakeNotifier) Crash(_ context.Context, serverName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crashes = append(f.crashes, serverName)
	return nil
}

func (f *fakeNotifier) Error(context.Context, notify.ErrorReport) error {
	return nil
}

func (f *fakeNotifier) crashCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.crashes)
}

type testEnv struct {
	scheduler *Scheduler
	runtime   *fakeRuntime
	servers   *fakeServers
	runs      *fakeRuns
	notifier  *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	runtime := newFakeRuntime()
	servers := &fakeServers{servers: make(map[string]*gamehost.Server)}
	runs := &fakeRuns{}
	notifier := &fakeNotifier{}

	repo := &repository.Repository{
		Servers:       servers,
		Runs:          runs,
		PanelSettings: &fakeSettings{values: make(map[string]string)},
	}

	sched := New(runtime, repo, notifier, nil, testPrefix, slog.Default())
	sched.lookupEnv = func(string) string { return "" }
	t.Cleanup(sched.Shutdown)

	return &testEnv{
		scheduler: sched,
		runtime:   runtime,
		servers:   servers,
		runs:      runs,
		notifier:  notifier,
	}
}

func (e *testEnv) addServer(id, name string) {
	e.servers.servers[id] = &gamehost.Server{
		ID:    id,
		Name:  name,
		Image: "example/" + id + ":latest",
		Port:  25565,
	}
}

func TestStartHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")

	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	assert.True(t, env.runtime.running[testPrefix+"mc"])
	open := env.runs.open()
	require.Len(t, open, 1)
	assert.Equal(t, "mc", open[0].ServerID)
	assert.Equal(t, gamehost.StatusRunning, env.scheduler.Status(context.Background(), "mc"))
}

func TestStartUnknownServer(t *testing.T) {
	env := newTestEnv(t)
	err := env.scheduler.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, gamehost.ErrNotFound)
}

func TestStartPullFailureWritesNoRun(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	env.runtime.pullErr = errors.New("registry unreachable")

	err := env.scheduler.Start(context.Background(), "mc")
	require.ErrorIs(t, err, gamehost.ErrRuntime)
	assert.Empty(t, env.runs.open())
	assert.Empty(t, env.scheduler.watchers)
}

func TestStartReplacesRunningServer(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	env.addServer("vh", "Valheim")

	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))
	require.NoError(t, env.scheduler.Start(context.Background(), "vh"))

	assert.False(t, env.runtime.running[testPrefix+"mc"])
	assert.True(t, env.runtime.running[testPrefix+"vh"])

	open := env.runs.open()
	require.Len(t, open, 1)
	assert.Equal(t, "vh", open[0].ServerID)
	assert.Equal(t, gamehost.StopReasonReplaced, env.runs.reasonFor("mc"))

	// The old container stops before the new one starts.
	var stopIdx, startIdx int
	for i, call := range env.runtime.callOrder {
		switch call {
		case "stop " + testPrefix + "mc":
			stopIdx = i
		case "start " + testPrefix + "vh":
			startIdx = i
		}
	}
	assert.Less(t, stopIdx, startIdx)
}

func TestStartSameServerTwiceKeepsOneOpenRun(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")

	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	assert.True(t, env.runtime.running[testPrefix+"mc"])

	// The restart closes the first run before opening the second.
	open := env.runs.open()
	require.Len(t, open, 1)
	assert.Equal(t, "mc", open[0].ServerID)
	assert.Equal(t, gamehost.StopReasonReplaced, env.runs.reasonFor("mc"))
}

func TestConcurrentStartsLeaveOneRunning(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	env.addServer("vh", "Valheim")

	var wg sync.WaitGroup
	for _, id := range []string{"mc", "vh"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, env.scheduler.Start(context.Background(), id))
		}()
	}
	wg.Wait()

	runningCount := 0
	env.runtime.mu.Lock()
	for _, running := range env.runtime.running {
		if running {
			runningCount++
		}
	}
	env.runtime.mu.Unlock()
	assert.Equal(t, 1, runningCount)

	open := env.runs.open()
	require.Len(t, open, 1)

	// Whichever start lost the race had its run closed as replaced.
	replaced := "mc"
	if open[0].ServerID == "mc" {
		replaced = "vh"
	}
	assert.Equal(t, gamehost.StopReasonReplaced, env.runs.reasonFor(replaced))
}

func TestStopClosesRunAsUser(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	msg, err := env.scheduler.Stop(context.Background(), "mc")
	require.NoError(t, err)
	assert.Equal(t, "Server stopped", msg)
	assert.Empty(t, env.runs.open())
	assert.Equal(t, gamehost.StopReasonUser, env.runs.reasonFor("mc"))
}

func TestStopActivePseudoID(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	msg, err := env.scheduler.Stop(context.Background(), ActiveServerID)
	require.NoError(t, err)
	assert.Equal(t, "Server stopped", msg)
	assert.Equal(t, gamehost.StopReasonUser, env.runs.reasonFor("mc"))
}

func TestStopActiveWithNothingRunning(t *testing.T) {
	env := newTestEnv(t)

	msg, err := env.scheduler.Stop(context.Background(), ActiveServerID)
	require.NoError(t, err)
	assert.Equal(t, "No server running", msg)
}

func TestDeleteRefusesRunningServer(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	err := env.scheduler.Delete(context.Background(), "mc")
	assert.ErrorIs(t, err, gamehost.ErrConflict)
}

func TestDeleteRemovesServerAndRuns(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))
	_, err := env.scheduler.Stop(context.Background(), "mc")
	require.NoError(t, err)

	require.NoError(t, env.scheduler.Delete(context.Background(), "mc"))

	_, err = env.servers.GetByID(context.Background(), "mc")
	assert.ErrorIs(t, err, gamehost.ErrNotFound)
	history, err := env.runs.History(context.Background(), "mc")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCrashWatcherClassifiesUnexpectedStop(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.watchInterval = 10 * time.Millisecond
	env.addServer("mc", "Minecraft")
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	env.runtime.stopExternally(testPrefix + "mc")

	assert.Eventually(t, func() bool {
		return env.runs.reasonFor("mc") == gamehost.StopReasonCrash
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return env.notifier.crashCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Minecraft"}, env.notifier.crashes)
}

func TestCrashWatcherIgnoresIntentionalStop(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.watchInterval = 10 * time.Millisecond
	env.addServer("mc", "Minecraft")
	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))

	_, err := env.scheduler.Stop(context.Background(), "mc")
	require.NoError(t, err)

	// The watcher fires once and tears itself down without a crash record.
	assert.Eventually(t, func() bool {
		env.scheduler.mu.Lock()
		defer env.scheduler.mu.Unlock()
		_, watching := env.scheduler.watchers["mc"]
		return !watching
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, gamehost.StopReasonUser, env.runs.reasonFor("mc"))
	assert.Zero(t, env.notifier.crashCount())
}

func TestStatusDerivation(t *testing.T) {
	env := newTestEnv(t)
	env.addServer("mc", "Minecraft")

	assert.Equal(t, gamehost.StatusMissing, env.scheduler.Status(context.Background(), "mc"))

	require.NoError(t, env.scheduler.Start(context.Background(), "mc"))
	assert.Equal(t, gamehost.StatusRunning, env.scheduler.Status(context.Background(), "mc"))

	env.runtime.stopExternally(testPrefix + "mc")
	assert.Equal(t, gamehost.StatusStopped, env.scheduler.Status(context.Background(), "mc"))
}

func TestResolvePlaceholders(t *testing.T) {
	lookup := func(key string) string {
		if key == "STEAM_TOKEN" {
			return "secret"
		}
		return ""
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"${STEAM_TOKEN}", "secret"},
		{"token=${STEAM_TOKEN}!", "token=secret!"},
		{"${MISSING}", ""},
		{"$NOTBRACED", "$NOTBRACED"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, resolvePlaceholders(tt.input, lookup), "input %q", tt.input)
	}
}
