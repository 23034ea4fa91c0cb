package terminal

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/termstack/internal/domain/environment"
	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/sequencer"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu       sync.Mutex
	output   strings.Builder
	states   []types.TerminalState
	persists int
	exits    []int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Output: func(chunk string) {
			r.mu.Lock()
			r.output.WriteString(chunk)
			r.mu.Unlock()
		},
		State: func(state types.TerminalState) {
			r.mu.Lock()
			r.states = append(r.states, state)
			r.mu.Unlock()
		},
		Persist: func() {
			r.mu.Lock()
			r.persists++
			r.mu.Unlock()
		},
		Exit: func(code int) {
			r.mu.Lock()
			r.exits = append(r.exits, code)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output.String()
}

func (r *recorder) Persists() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persists
}

func (r *recorder) Exits() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.exits...)
}

func (r *recorder) RunningTransitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	prev := false
	for _, s := range r.states {
		if s.Running && !prev {
			count++
		}
		prev = s.Running
	}
	return count
}

type fixture struct {
	session *Session
	rec     *recorder
	env     *environment.Store
	history *history.Store
}

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, cmd string) (string, error) {
	return strings.TrimPrefix(cmd, "echo "), nil
}

func newFixture(t *testing.T, record *types.Terminal, rerun RerunConfig) *fixture {
	t.Helper()
	return newFixtureWithRunner(t, record, rerun, nil)
}

func newFixtureWithRunner(t *testing.T, record *types.Terminal, rerun RerunConfig, runner sequencer.Runner) *fixture {
	t.Helper()

	env := environment.NewStore()
	env.Register("stack-1", []types.EnvironmentSet{
		{Title: "stack", Pairs: map[string]string{"FROM_STACK": "stack", "SHARED": "stack"}, Order: 1},
	}, false)

	hist := history.NewMemory()
	rec := &recorder{}
	session := NewSession(record, Options{
		StackID: "stack-1",
		Env:     env,
		History: hist,
		Runner:  runner,
		Rerun:   rerun,
		Hooks:   rec.hooks(),
		Logger:  zap.NewNop(),
	})
	t.Cleanup(func() {
		_ = session.SetMetaSetting(SettingRerun, []byte("false"))
		session.Stop()
	})

	return &fixture{session: session, rec: rec, env: env, history: hist}
}

func requirePosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty tests need a posix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shTerminal(cmd string) *types.Terminal {
	return &types.Terminal{
		ID:      "term-1",
		Title:   "test",
		Command: types.Command{Cmd: cmd, Shell: "sh"},
	}
}

func TestStateRoundTrip(t *testing.T) {
	f := newFixture(t, &types.Terminal{
		ID:      "term-1",
		Title:   "api",
		Command: types.Command{Cmd: "npm start", Cwd: "/srv/api"},
	}, DefaultRerunConfig())

	first := f.session.State()
	second := f.session.State()

	assert.NotEmpty(t, first.Command.Shell)
	assert.Equal(t, first.Command.Cmd, second.Command.Cmd)
	assert.Equal(t, first.Command.Cwd, second.Command.Cwd)
	assert.Equal(t, "stack-1", first.StackID)
	assert.False(t, first.Running)
	assert.Equal(t, DefaultCols, first.Cols)
	assert.Equal(t, DefaultRows, first.Rows)
	assert.NotNil(t, first.Command.Env)
}

func TestStateReflectsEnvironmentStore(t *testing.T) {
	f := newFixture(t, &types.Terminal{ID: "term-1", Command: types.Command{Env: []types.EnvironmentSet{
		{Title: "own", Pairs: map[string]string{"A": "1"}},
	}}}, DefaultRerunConfig())

	f.session.AddEnvironmentSet("extra", map[string]string{"B": "2"})

	env := f.session.State().Command.Env
	require.Len(t, env, 2)
	assert.Equal(t, "own", env[0].Title)
	assert.Equal(t, "extra", env[1].Title)
	assert.Equal(t, 1, f.rec.Persists())
	assert.Len(t, f.session.Record().Command.Env, 2)
}

func TestMutationsRecordPreviousValues(t *testing.T) {
	f := newFixture(t, &types.Terminal{
		ID:      "term-1",
		Title:   "old title",
		Command: types.Command{Cmd: "old cmd", Cwd: "/old", Shell: "zsh"},
	}, DefaultRerunConfig())

	require.NoError(t, f.session.UpdateCommand("  new cmd "))
	require.NoError(t, f.session.UpdateCwd("/new"))
	require.NoError(t, f.session.ChangeShell("fish"))
	require.NoError(t, f.session.ChangeTitle("<b>New</b> title"))
	require.NoError(t, f.session.SetHealth(0, "curl -f localhost"))
	require.NoError(t, f.session.SetHealth(0, "pg_isready"))

	assert.Equal(t, []string{"old cmd"}, f.history.List(history.KindCommand))
	assert.Equal(t, []string{"/old"}, f.history.List(history.KindCwd))
	assert.Equal(t, []string{"zsh"}, f.history.List(history.KindShell))
	assert.Equal(t, []string{"curl -f localhost"}, f.history.List(history.KindHealthCheck))

	state := f.session.State()
	assert.Equal(t, "new cmd", state.Command.Cmd)
	assert.Equal(t, "/new", state.Command.Cwd)
	assert.Equal(t, "fish", state.Command.Shell)
	assert.Equal(t, "New title", state.Title)
	assert.Equal(t, &types.Health{HealthCheck: "pg_isready"}, state.Health)
	assert.Equal(t, 6, f.rec.Persists())

	require.NoError(t, f.session.SetHealth(0, ""))
	assert.Nil(t, f.session.Health())
}

func TestChangeTitleRejectsEmpty(t *testing.T) {
	f := newFixture(t, shTerminal("true"), DefaultRerunConfig())

	assert.Error(t, f.session.ChangeTitle("<script>x</script>"))
	assert.Equal(t, "test", f.session.Title())
	assert.Error(t, f.session.SetHealth(-1, ""))
}

func TestSetMetaSetting(t *testing.T) {
	f := newFixture(t, shTerminal("true"), DefaultRerunConfig())
	meta := func() *types.MetaSettings { return f.session.Record().MetaSettings }

	require.NoError(t, f.session.SetMetaSetting(SettingRerun, []byte("true")))
	require.NoError(t, f.session.SetMetaSetting(SettingDelay, []byte("1500")))
	assert.Equal(t, &types.MetaSettings{Rerun: true, Delay: 1500}, meta())

	require.NoError(t, f.session.SetMetaSetting(SettingRerun, []byte("false")))
	require.NoError(t, f.session.SetMetaSetting(SettingDelay, []byte("0")))
	assert.Nil(t, meta())

	require.NoError(t, f.session.SetMetaSetting(SettingSequencing, []byte("true")))
	require.NotNil(t, meta())
	assert.NotNil(t, meta().Sequencing)
	assert.Empty(t, meta().Sequencing)

	require.NoError(t, f.session.SetMetaSetting(SettingSequencing, []byte("false")))
	assert.Nil(t, meta())

	assert.ErrorIs(t, f.session.SetMetaSetting("bogus", []byte("true")), ErrUnknownSetting)
	assert.Error(t, f.session.SetMetaSetting(SettingLoose, []byte(`"yes"`)))
	assert.Error(t, f.session.SetMetaSetting(SettingDelay, []byte("-5")))
}

func TestSetMetaSettingMergesSequencingEcho(t *testing.T) {
	record := shTerminal("true")
	record.MetaSettings = &types.MetaSettings{Sequencing: []types.SequenceStep{
		{Index: 1, Message: "name?"},
		{Index: 3, Message: "sure?"},
	}}
	f := newFixture(t, record, DefaultRerunConfig())

	require.NoError(t, f.session.SetMetaSetting(SettingSequencing, []byte(`{"index":3,"echo":"y"}`)))

	steps := f.session.Record().MetaSettings.Sequencing
	assert.Equal(t, []types.SequenceStep{
		{Index: 1, Message: "name?"},
		{Index: 3, Message: "sure?", Echo: "y"},
	}, steps)

	assert.Error(t, f.session.SetMetaSetting(SettingSequencing, []byte(`{"index":9,"echo":"n"}`)))
}

func TestReserve(t *testing.T) {
	f := newFixture(t, shTerminal("true"), DefaultRerunConfig())

	f.session.Reserve()
	assert.True(t, f.session.State().Reserved)
	f.session.UnReserve()
	assert.False(t, f.session.State().Reserved)
}

func TestResizeWithoutProcess(t *testing.T) {
	f := newFixture(t, shTerminal("true"), DefaultRerunConfig())

	f.session.Resize(120, 40)
	f.session.Resize(0, 10)

	state := f.session.State()
	assert.Equal(t, 120, state.Cols)
	assert.Equal(t, 40, state.Rows)
}

func TestStartRunsCommandAndExits(t *testing.T) {
	requirePosix(t)
	f := newFixture(t, shTerminal("echo hello-$FROM_STACK-$TERM"), DefaultRerunConfig())

	require.NoError(t, f.session.Start())

	require.Eventually(t, func() bool { return len(f.rec.Exits()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, f.session.Running())
	assert.Contains(t, f.rec.Output(), "hello-stack-xterm-256color")
	assert.Contains(t, f.rec.Output(), "[process exited with code 0]")
	assert.Equal(t, []int{0}, f.rec.Exits())
	assert.Equal(t, 1, f.rec.RunningTransitions())
}

func TestStartReportsExitCode(t *testing.T) {
	requirePosix(t)
	f := newFixture(t, shTerminal("exit 7"), DefaultRerunConfig())

	require.NoError(t, f.session.Start())
	f.session.Wait()

	assert.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "[process exited with code 7]")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTerminalEnvironmentOverridesStack(t *testing.T) {
	requirePosix(t)
	record := shTerminal("echo value=$SHARED")
	record.Command.Env = []types.EnvironmentSet{{Title: "own", Pairs: map[string]string{"SHARED": "terminal"}}}
	f := newFixture(t, record, DefaultRerunConfig())

	require.NoError(t, f.session.Start())
	f.session.Wait()

	assert.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "value=terminal")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSpawnFailureIsRecovered(t *testing.T) {
	record := shTerminal("true")
	record.Command.Shell = "/definitely/not/a/shell"
	f := newFixture(t, record, DefaultRerunConfig())

	err := f.session.Start()
	require.Error(t, err)

	assert.Equal(t, Stopped, f.session.Status())
	assert.Contains(t, f.rec.Output(), "/definitely/not/a/shell")
}

func TestLooseTypesCommand(t *testing.T) {
	requirePosix(t)
	record := shTerminal("echo loose-$((40+2))")
	record.MetaSettings = &types.MetaSettings{Loose: true}
	f := newFixture(t, record, DefaultRerunConfig())

	require.NoError(t, f.session.Start())

	assert.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "loose-42")
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.session.Running())

	f.session.Stop()
	assert.Eventually(t, func() bool { return !f.session.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestStopDoesNotRerun(t *testing.T) {
	requirePosix(t)
	record := shTerminal("sleep 30")
	record.MetaSettings = &types.MetaSettings{Rerun: true}
	f := newFixture(t, record, RerunConfig{Backoff: 10 * time.Millisecond, MaxCrashes: 100, Cooldown: time.Second})

	require.NoError(t, f.session.Start())
	require.True(t, f.session.Running())

	f.session.Stop()
	f.session.Wait()

	assert.Eventually(t, func() bool { return !f.session.Running() }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, f.session.Running())
	assert.Equal(t, 1, f.rec.RunningTransitions())
	assert.False(t, f.session.rerun.Pending())
}

func TestStopWithCtrlC(t *testing.T) {
	requirePosix(t)
	record := shTerminal("sleep 30")
	record.MetaSettings = &types.MetaSettings{CtrlC: true}
	f := newFixture(t, record, DefaultRerunConfig())

	require.NoError(t, f.session.Start())
	time.Sleep(100 * time.Millisecond)
	f.session.Stop()

	assert.Eventually(t, func() bool { return !f.session.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestInterruptOnlyCountsAsStopWithinGrace(t *testing.T) {
	now := time.Now()

	p := &process{}
	assert.False(t, p.userStopped(now))

	p.markInterrupted(now.Add(-interruptGrace - time.Second))
	assert.False(t, p.userStopped(now), "a shell that outlived the interrupt exits on its own")

	p.markInterrupted(now.Add(-100 * time.Millisecond))
	assert.True(t, p.userStopped(now))

	terminated := &process{}
	terminated.stopped.Store(true)
	assert.True(t, terminated.userStopped(now.Add(time.Hour)))
}

func TestCtrlCStopDoesNotMarkTerminated(t *testing.T) {
	requirePosix(t)
	record := shTerminal("sleep 30")
	record.MetaSettings = &types.MetaSettings{CtrlC: true}
	f := newFixture(t, record, DefaultRerunConfig())

	require.NoError(t, f.session.Start())
	f.session.mu.RLock()
	proc := f.session.proc
	f.session.mu.RUnlock()
	require.NotNil(t, proc)

	f.session.Stop()
	assert.False(t, proc.stopped.Load())
	assert.NotZero(t, proc.interrupted.Load())
}

func TestRerunRestartsAfterExit(t *testing.T) {
	requirePosix(t)
	record := shTerminal("true")
	record.MetaSettings = &types.MetaSettings{Rerun: true}
	f := newFixture(t, record, RerunConfig{Backoff: 10 * time.Millisecond, MaxCrashes: 1000, Cooldown: time.Second})

	require.NoError(t, f.session.Start())

	assert.Eventually(t, func() bool {
		return f.rec.RunningTransitions() >= 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRerunSuspendedAfterCrashes(t *testing.T) {
	requirePosix(t)
	record := shTerminal("exit 1")
	record.MetaSettings = &types.MetaSettings{Rerun: true}
	f := newFixture(t, record, RerunConfig{
		Backoff:    5 * time.Millisecond,
		MinUptime:  time.Minute,
		MaxCrashes: 3,
		Cooldown:   time.Hour,
	})

	require.NoError(t, f.session.Start())

	assert.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "rerun suspended")
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, f.rec.RunningTransitions())
	assert.True(t, f.session.rerun.Pending())
}

func TestRestartIgnoresOldExit(t *testing.T) {
	requirePosix(t)
	f := newFixture(t, shTerminal("sleep 30"), DefaultRerunConfig())

	require.NoError(t, f.session.Start())
	require.NoError(t, f.session.Start())

	time.Sleep(200 * time.Millisecond)
	assert.True(t, f.session.Running())
	assert.Empty(t, f.rec.Exits())
}

func TestSequencingLearnsStepsOnFirstRun(t *testing.T) {
	requirePosix(t)
	record := shTerminal("printf 'name?\\n'; read answer; echo got-$answer")
	record.MetaSettings = &types.MetaSettings{Sequencing: []types.SequenceStep{}}
	f := newFixture(t, record, DefaultRerunConfig())

	require.NoError(t, f.session.Start())
	require.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "name?")
	}, 5*time.Second, 10*time.Millisecond)

	f.session.Write("bob\r")
	f.session.Wait()

	assert.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "got-bob")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.rec.Persists() == 1 }, 5*time.Second, 10*time.Millisecond)

	steps := f.session.Record().MetaSettings.Sequencing
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Index)
}

func TestSequencingReplaysStoredSteps(t *testing.T) {
	requirePosix(t)
	record := shTerminal("printf 'name?\\n'; read answer; echo got-$answer")
	record.MetaSettings = &types.MetaSettings{
		Delay:      10,
		Sequencing: []types.SequenceStep{{Index: 1, Echo: "echo alice"}},
	}
	f := newFixtureWithRunner(t, record, DefaultRerunConfig(), echoRunner{})

	require.NoError(t, f.session.Start())

	assert.Eventually(t, func() bool {
		return strings.Contains(f.rec.Output(), "got-alice")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.rec.Persists())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "running", Running.String())
}

func TestResolveDir(t *testing.T) {
	assert.Equal(t, "/srv", resolveDir(" /srv "))
	assert.NotEqual(t, "~/code", resolveDir("~/code"))
	assert.Equal(t, resolveDir(""), resolveDir("~"))
}
