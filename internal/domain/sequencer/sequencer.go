// Package sequencer records a human's answers to a program's prompts once and
// replays them on later runs, keyed by how many newline-terminated output
// chunks the program has printed so far.
package sequencer

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"go.uber.org/zap"
)

// ErrNoProcess is returned by Bind when there is nothing to write replies to
var ErrNoProcess = errors.New("sequencer: no process to bind")

// DefaultReplyDelay lets a prompt settle before a reply is typed in
const DefaultReplyDelay = 600 * time.Millisecond

// MessageLength bounds the captured context of a recorded step
const MessageLength = 30

// State of the automaton
type State int

const (
	Unbound State = iota
	Recording
	Replaying
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Replaying:
		return "replaying"
	default:
		return "unbound"
	}
}

// Runner executes echo commands
type Runner interface {
	Run(ctx context.Context, cmd string) (string, error)
}

// Sequencer follows one process's output. It is safe for concurrent use.
type Sequencer struct {
	mu         sync.Mutex
	state      State
	w          io.Writer
	steps      []types.SequenceStep
	index      int
	ring       [2]string
	played     map[int]struct{}
	delay      time.Duration
	generation uint64

	runner   Runner
	logger   *zap.Logger
	onReplay func(index int)
	wg       sync.WaitGroup
}

// New creates an unbound sequencer
func New(runner Runner, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		runner: runner,
		logger: logger,
		played: make(map[int]struct{}),
		delay:  DefaultReplyDelay,
	}
}

// OnReplay registers a callback fired for every step that is played
func (s *Sequencer) OnReplay(fn func(index int)) {
	s.mu.Lock()
	s.onReplay = fn
	s.mu.Unlock()
}

// Bind attaches the process input. With stored steps the sequencer replays
// them; with none it records. A delay of zero keeps the default.
func (s *Sequencer) Bind(w io.Writer, steps []types.SequenceStep, delay time.Duration) error {
	if w == nil {
		return ErrNoProcess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
	s.w = w
	if delay > 0 {
		s.delay = delay
	}
	if len(steps) > 0 {
		s.steps = make([]types.SequenceStep, len(steps))
		copy(s.steps, steps)
		s.state = Replaying
	} else {
		s.state = Recording
	}
	return nil
}

// State returns the current automaton state
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns how many newline-bearing chunks have been seen
func (s *Sequencer) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Trace feeds one output chunk
func (s *Sequencer) Trace(chunk string) {
	s.mu.Lock()
	if s.state == Unbound {
		s.mu.Unlock()
		return
	}
	if strings.Contains(chunk, "\n") {
		s.index++
	}
	s.ring[0], s.ring[1] = s.ring[1], chunk
	s.mu.Unlock()

	s.Play()
}

// Play replies to the current index if a step exists for it and it has not
// been played during this run
func (s *Sequencer) Play() {
	s.mu.Lock()
	if s.state != Replaying {
		s.mu.Unlock()
		return
	}
	if _, done := s.played[s.index]; done {
		s.mu.Unlock()
		return
	}
	step, ok := s.stepAt(s.index)
	if !ok {
		s.mu.Unlock()
		return
	}

	s.played[s.index] = struct{}{}
	w, delay, gen, notify := s.w, s.delay, s.generation, s.onReplay
	s.wg.Add(1)
	s.mu.Unlock()

	if notify != nil {
		notify(step.Index)
	}
	go s.reply(w, step, delay, gen)
}

// Register records a step for the current index from the buffered output.
// It does nothing unless recording or when the index already has a step.
func (s *Sequencer) Register() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return
	}
	if _, exists := s.stepAt(s.index); exists {
		return
	}

	message := Tail(strings.TrimSpace(StripANSI(s.ring[0])), MessageLength)
	s.steps = append(s.steps, types.SequenceStep{Index: s.index, Message: message})
}

// Steps returns a copy of the step table ordered by index
func (s *Sequencer) Steps() []types.SequenceStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.SequenceStep, len(s.steps))
	copy(out, s.steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset unbinds the process and forgets everything about the run. Replies
// still waiting on their delay are dropped.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

// Wait blocks until every pending reply has finished or been dropped
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

func (s *Sequencer) clear() {
	s.state = Unbound
	s.w = nil
	s.steps = nil
	s.index = 0
	s.ring = [2]string{}
	s.played = make(map[int]struct{})
	s.delay = DefaultReplyDelay
	s.generation++
}

func (s *Sequencer) stepAt(index int) (types.SequenceStep, bool) {
	for _, step := range s.steps {
		if step.Index == index {
			return step, true
		}
	}
	return types.SequenceStep{}, false
}

func (s *Sequencer) reply(w io.Writer, step types.SequenceStep, delay time.Duration, gen uint64) {
	defer s.wg.Done()

	output := s.echo(step.Echo)

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		s.logger.Debug("Dropping reply for finished run", zap.Int("index", step.Index))
		return
	}

	if _, err := io.WriteString(w, output+"\r"); err != nil {
		s.logger.Warn("Failed to write sequenced reply", zap.Int("index", step.Index), zap.Error(err))
	}
}

// echo runs value as a command, falling back to printing it literally when
// the command produced nothing
func (s *Sequencer) echo(value string) string {
	if strings.TrimSpace(value) == "" || s.runner == nil {
		return ""
	}

	out, err := s.runner.Run(context.Background(), value)
	if err == nil && out != "" {
		return out
	}
	if err != nil {
		s.logger.Debug("Echo command failed, retrying literally", zap.String("echo", value), zap.Error(err))
	}

	out, err = s.runner.Run(context.Background(), "echo "+value)
	if err != nil {
		s.logger.Warn("Echo fallback failed", zap.String("echo", value), zap.Error(err))
		return ""
	}
	return out
}
