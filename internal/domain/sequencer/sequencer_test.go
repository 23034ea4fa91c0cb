package sequencer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func (f *fakeRunner) Run(_ context.Context, cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.outputs[cmd], f.errs[cmd]
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBindRequiresProcess(t *testing.T) {
	s := New(&fakeRunner{}, zap.NewNop())
	assert.ErrorIs(t, s.Bind(nil, nil, 0), ErrNoProcess)
	assert.Equal(t, Unbound, s.State())
}

func TestBindPicksState(t *testing.T) {
	s := New(&fakeRunner{}, nil)

	require.NoError(t, s.Bind(&syncBuffer{}, nil, 0))
	assert.Equal(t, Recording, s.State())

	require.NoError(t, s.Bind(&syncBuffer{}, []types.SequenceStep{{Index: 1}}, 0))
	assert.Equal(t, Replaying, s.State())
}

func TestTraceCountsNewlineChunks(t *testing.T) {
	s := New(&fakeRunner{}, nil)

	s.Trace("ignored\n")
	assert.Equal(t, 0, s.Index())

	require.NoError(t, s.Bind(&syncBuffer{}, nil, 0))
	s.Trace("no newline")
	s.Trace("one\ntwo\nthree\n")
	s.Trace("\r\n")
	assert.Equal(t, 2, s.Index())
}

func TestReplayOnce(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"printf yes": "yes"}}
	out := &syncBuffer{}
	s := New(runner, zap.NewNop())

	var replayed []int
	s.OnReplay(func(index int) { replayed = append(replayed, index) })

	require.NoError(t, s.Bind(out, []types.SequenceStep{{Index: 2, Echo: "printf yes"}}, time.Millisecond))

	s.Trace("first\n")
	s.Trace("second\n")
	s.Play()
	s.Play()
	s.Trace("still on the same line")
	s.Wait()

	assert.Equal(t, []string{"printf yes"}, runner.Calls())
	assert.Equal(t, "yes\r", out.String())
	assert.Equal(t, []int{2}, replayed)
}

func TestReplayFallsBackToLiteralEcho(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"echo y": "y"},
		errs:    map[string]error{"y": errors.New("command not found")},
	}
	out := &syncBuffer{}
	s := New(runner, nil)
	require.NoError(t, s.Bind(out, []types.SequenceStep{{Index: 1, Echo: "y"}}, time.Millisecond))

	s.Trace("Continue? [y/n]\n")
	s.Wait()

	assert.Equal(t, []string{"y", "echo y"}, runner.Calls())
	assert.Equal(t, "y\r", out.String())
}

func TestReplayWithoutEchoPressesEnter(t *testing.T) {
	runner := &fakeRunner{}
	out := &syncBuffer{}
	s := New(runner, nil)
	require.NoError(t, s.Bind(out, []types.SequenceStep{{Index: 1}}, time.Millisecond))

	s.Trace("Press enter\n")
	s.Wait()

	assert.Empty(t, runner.Calls())
	assert.Equal(t, "\r", out.String())
}

func TestReplayWaitsForDelay(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"a": "a"}}
	out := &syncBuffer{}
	s := New(runner, nil)
	require.NoError(t, s.Bind(out, []types.SequenceStep{{Index: 1, Echo: "a"}}, 80*time.Millisecond))

	start := time.Now()
	s.Trace("prompt\n")
	assert.Empty(t, out.String())
	s.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, "a\r", out.String())
}

func TestResetDropsPendingReply(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"a": "a"}}
	out := &syncBuffer{}
	s := New(runner, nil)
	require.NoError(t, s.Bind(out, []types.SequenceStep{{Index: 1, Echo: "a"}}, 50*time.Millisecond))

	s.Trace("prompt\n")
	s.Reset()
	s.Wait()

	assert.Empty(t, out.String())
	assert.Equal(t, Unbound, s.State())
	assert.Equal(t, 0, s.Index())
	assert.Empty(t, s.Steps())
}

func TestRecordingRegistersSteps(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	require.NoError(t, s.Bind(&syncBuffer{}, nil, 0))

	s.Trace("\x1b[32mWhat is your name?\x1b[0m\n")
	s.Trace("> ")
	s.Register()
	s.Register()

	s.Trace("Hello!\n")
	s.Trace("an extremely long prompt line that keeps going and going\n")
	s.Trace("> ")
	s.Register()

	steps := s.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, types.SequenceStep{Index: 1, Message: "What is your name?"}, steps[0])
	assert.Equal(t, 3, steps[1].Index)
	assert.Equal(t, "s going and going", steps[1].Message[len(steps[1].Message)-17:])
	assert.Len(t, []rune(steps[1].Message), MessageLength)
}

func TestRegisterIgnoredWhileReplaying(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	require.NoError(t, s.Bind(&syncBuffer{}, []types.SequenceStep{{Index: 5}}, time.Millisecond))

	s.Trace("line\n")
	s.Register()

	assert.Equal(t, []types.SequenceStep{{Index: 5}}, s.Steps())
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello world", StripANSI("\x1b[1;31mhello\x1b[0m world"))
	assert.Equal(t, "plain", StripANSI("plain"))
	assert.Equal(t, "", StripANSI(""))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", Tail("abc", 5))
	assert.Equal(t, "bc", Tail("abc", 2))
	assert.Equal(t, "", Tail("abc", 0))
	assert.Equal(t, "ñé", Tail("añé", 2))
	assert.Equal(t, strings.Repeat("x", 30), Tail(strings.Repeat("x", 100), 30))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unbound", Unbound.String())
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "replaying", Replaying.String())
}
