package palette

import (
	"context"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/termstack/internal/domain/environment"
	"github.com/GriffinCanCode/termstack/internal/domain/shell"
	"github.com/GriffinCanCode/termstack/internal/realtime"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic string
	msg   types.Outbound
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, msg types.Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, msg: msg})
}

func (f *fakePublisher) Events(topic, event string) []types.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Outbound
	for _, m := range f.msgs {
		if m.topic == topic && m.msg.Event == event {
			out = append(out, m.msg)
		}
	}
	return out
}

type persistCounter struct {
	mu sync.Mutex
	n  int
}

func (c *persistCounter) persist() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *persistCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func intPtr(n int) *int { return &n }

func newTestPalette(t *testing.T, stack *types.Stack) (*Palette, *fakePublisher, *persistCounter) {
	t.Helper()
	pub := &fakePublisher{}
	saves := &persistCounter{}
	p := New(stack, Deps{
		Env:       environment.NewStore(),
		Runner:    shell.NewRunner(5 * time.Second),
		Publisher: pub,
		Persist:   saves.persist,
		Config:    Config{Interval: 5 * time.Millisecond, Limit: 10},
		Logger:    zap.NewNop(),
	})
	t.Cleanup(p.Close)
	return p, pub, saves
}

func requirePosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a posix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shTerminal(id, cmd string, order int) *types.Terminal {
	return &types.Terminal{
		ID:             id,
		Title:          id,
		ExecutionOrder: intPtr(order),
		Command:        types.Command{Cmd: cmd, Shell: "sh"},
	}
}

func TestNewRegistersStackEnvironment(t *testing.T) {
	p, _, _ := newTestPalette(t, &types.Stack{
		ID:   "stk-1",
		Name: "dev",
		EnvironmentSets: []types.EnvironmentSet{
			{Title: "shared", Pairs: map[string]string{"A": "1"}, Order: 1},
		},
	})

	sets := p.EnvironmentSets()
	require.Len(t, sets, 2)
	assert.Equal(t, environment.OSTitle, sets[0].Title)
	assert.Equal(t, "shared", sets[1].Title)
}

func TestCreateTerminal(t *testing.T) {
	p, pub, saves := newTestPalette(t, &types.Stack{ID: "stk-1", Name: "dev", Terminals: []*types.Terminal{
		shTerminal("a", "true", 4),
	}})

	created, err := p.CreateTerminal("<i>api</i>")
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "api", created.Title)
	assert.Equal(t, DefaultCommand, created.Command.Cmd)
	require.NotNil(t, created.ExecutionOrder)
	assert.Equal(t, 5, *created.ExecutionOrder)
	assert.True(t, p.Has(created.ID))
	assert.Equal(t, 1, saves.Count())
	assert.NotEmpty(t, pub.Events(realtime.PaletteTopic("stk-1"), types.EventStackState))

	untitled, err := p.CreateTerminal("")
	require.NoError(t, err)
	assert.Equal(t, "Terminal", untitled.Title)

	assert.Len(t, p.Record().Terminals, 3)
}

func TestDeleteTerminal(t *testing.T) {
	p, pub, saves := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{
		shTerminal("a", "true", 0),
		shTerminal("b", "true", 1),
	}})
	_, err := p.Session("a")
	require.NoError(t, err)

	require.NoError(t, p.DeleteTerminal("a"))

	assert.False(t, p.Has("a"))
	assert.Equal(t, 1, saves.Count())
	assert.Len(t, pub.Events(realtime.PaletteTopic("stk-1"), types.EventTerminalDelete), 1)
	assert.Len(t, pub.Events(realtime.TerminalTopic("stk-1", "a"), types.EventTerminalDelete), 1)
	assert.Equal(t, []string{"b"}, terminalIDs(p.Record()))

	assert.ErrorIs(t, p.DeleteTerminal("a"), ErrTerminalNotFound)
}

func TestSessionIsLazyAndCached(t *testing.T) {
	p, _, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{shTerminal("a", "true", 0)}})

	assert.Equal(t, map[string]bool{"a": false}, p.RunningStates())

	s1, err := p.Session("a")
	require.NoError(t, err)
	s2, err := p.Session("a")
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	_, err = p.Session("missing")
	assert.ErrorIs(t, err, ErrTerminalNotFound)
}

func TestRecordPullsFromSessions(t *testing.T) {
	p, _, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Name: "dev", Terminals: []*types.Terminal{
		shTerminal("a", "true", 0),
		shTerminal("b", "true", 1),
	}})

	s, err := p.Session("a")
	require.NoError(t, err)
	require.NoError(t, s.UpdateCommand("npm run dev"))
	s.AddEnvironmentSet("own", map[string]string{"PORT": "3000"})
	p.AddEnvironmentSet("shared", map[string]string{"NODE_ENV": "development"})

	record := p.Record()
	assert.Equal(t, "dev", record.Name)
	require.Len(t, record.Terminals, 2)
	assert.Equal(t, "npm run dev", record.Terminals[0].Command.Cmd)
	require.Len(t, record.Terminals[0].Command.Env, 1)
	assert.Equal(t, "3000", record.Terminals[0].Command.Env[0].Pairs["PORT"])
	assert.Equal(t, "true", record.Terminals[1].Command.Cmd)
	assert.Equal(t, "shared", record.EnvironmentSets[len(record.EnvironmentSets)-1].Title)

	record.Terminals[0].Command.Cmd = "mutated"
	assert.Equal(t, "npm run dev", p.Record().Terminals[0].Command.Cmd)
}

func TestTerminalRecord(t *testing.T) {
	p, _, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{shTerminal("a", "true", 0)}})

	record, err := p.Terminal("a")
	require.NoError(t, err)
	assert.Equal(t, "true", record.Command.Cmd)

	_, err = p.Terminal("zzz")
	assert.ErrorIs(t, err, ErrTerminalNotFound)
}

func TestPaletteEnvironment(t *testing.T) {
	p, pub, saves := newTestPalette(t, &types.Stack{ID: "stk-1"})

	set := p.AddEnvironmentSet("shared", map[string]string{"A": "1"})
	assert.Equal(t, 1, set.Order)

	require.NoError(t, p.EditEnvironment(1, "B", "2", ""))
	require.NoError(t, p.MuteEnvironment(1, "A"))
	require.NoError(t, p.RemoveEnvironmentKey(1, "B"))
	assert.Error(t, p.EditEnvironment(1, "not valid", "x", ""))
	assert.ErrorIs(t, p.MuteEnvironment(9, ""), environment.ErrNotFound)

	sets := p.EnvironmentSets()
	assert.Equal(t, map[string]string{"A": "1"}, sets[1].Pairs)
	assert.Equal(t, []string{"A"}, sets[1].Disabled)

	require.NoError(t, p.RemoveEnvironmentSet(1))
	assert.Len(t, p.EnvironmentSets(), 1)

	assert.Equal(t, 5, saves.Count())
	assert.Len(t, pub.Events(realtime.PaletteTopic("stk-1"), types.EventSettings), 5)
}

func TestFlushEnvironment(t *testing.T) {
	p, pub, saves := newTestPalette(t, &types.Stack{ID: "stk-1"})
	set := p.AddEnvironmentSet("shared", map[string]string{"A": "1", "B": "2"})

	require.NoError(t, p.FlushEnvironment(set.Order, map[string]string{"C": "3"}))
	assert.Equal(t, map[string]string{"C": "3"}, p.EnvironmentSets()[1].Pairs)

	assert.Error(t, p.FlushEnvironment(set.Order, map[string]string{"no good": "x"}))
	assert.ErrorIs(t, p.FlushEnvironment(9, nil), environment.ErrNotFound)
	assert.Equal(t, map[string]string{"C": "3"}, p.EnvironmentSets()[1].Pairs)

	assert.Equal(t, 2, saves.Count())
	assert.Len(t, pub.Events(realtime.PaletteTopic("stk-1"), types.EventSettings), 2)
}

func TestRename(t *testing.T) {
	p, _, saves := newTestPalette(t, &types.Stack{ID: "stk-1", Name: "old"})

	require.NoError(t, p.Rename("  new name "))
	assert.Equal(t, "new name", p.Name())
	assert.Equal(t, 1, saves.Count())
	assert.Error(t, p.Rename(""))
}

func TestPingAll(t *testing.T) {
	p, pub, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{
		shTerminal("a", "true", 0),
		shTerminal("b", "true", 1),
	}})
	_, err := p.Session("a")
	require.NoError(t, err)

	p.PingAll()

	assert.Len(t, pub.Events(realtime.TerminalTopic("stk-1", "a"), types.EventTerminalState), 1)
	assert.Empty(t, pub.Events(realtime.TerminalTopic("stk-1", "b"), types.EventTerminalState))
}

func TestStartAllAndStopAll(t *testing.T) {
	requirePosix(t)
	p, pub, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{
		shTerminal("a", "sleep 30", 0),
		shTerminal("b", "sleep 30", 1),
	}})

	p.StartAll(context.Background())

	require.Eventually(t, func() bool {
		states := p.RunningStates()
		return states["a"] && states["b"]
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, p.Running())
	assert.True(t, p.Summary().Running)
	assert.NotEmpty(t, pub.Events(realtime.TerminalTopic("stk-1", "a"), types.EventTerminalState))

	p.StopAll()

	assert.Eventually(t, func() bool { return !p.Running() }, 5*time.Second, 10*time.Millisecond)
}

func TestHaltWaitsForExit(t *testing.T) {
	requirePosix(t)
	migrate := shTerminal("migrate", "sleep 0.3", 0)
	migrate.MetaSettings = &types.MetaSettings{Halt: true}
	p, pub, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{
		migrate,
		shTerminal("api", "sleep 30", 1),
	}})

	p.StartAll(context.Background())

	require.Eventually(t, func() bool { return p.RunningStates()["migrate"] }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, p.RunningStates()["api"])

	require.Eventually(t, func() bool { return p.RunningStates()["api"] }, 5*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, pub.Events(realtime.PaletteTopic("stk-1"), types.EventHaltBeat))
}

func TestHaltWithFailedSpawnReleasesLaterTerminals(t *testing.T) {
	requirePosix(t)
	migrate := shTerminal("migrate", "true", 0)
	migrate.Command.Shell = "/nonexistent/shell"
	migrate.MetaSettings = &types.MetaSettings{Halt: true}
	p, _, _ := newTestPalette(t, &types.Stack{ID: "stk-1", Terminals: []*types.Terminal{
		migrate,
		shTerminal("api", "sleep 30", 1),
	}})

	p.StartAll(context.Background())

	require.Eventually(t, func() bool { return p.RunningStates()["api"] }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, p.RunningStates()["migrate"])
}

func terminalIDs(stack *types.Stack) []string {
	out := make([]string, len(stack.Terminals))
	for i, t := range stack.Terminals {
		out[i] = t.ID
	}
	return out
}
