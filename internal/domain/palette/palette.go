// Package palette groups the terminals of one stack: it materializes their
// sessions on demand, starts them through the scheduler and reports their
// aggregate state.
package palette

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/termstack/internal/domain/environment"
	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/scheduler"
	"github.com/GriffinCanCode/termstack/internal/domain/terminal"
	"github.com/GriffinCanCode/termstack/internal/realtime"
	"github.com/GriffinCanCode/termstack/internal/shared/id"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"go.uber.org/zap"
)

// ErrTerminalNotFound is returned for an id the palette does not own
var ErrTerminalNotFound = errors.New("terminal not found")

// DefaultCommand is the placeholder command of a new terminal
const DefaultCommand = `echo "hello from termstack"`

// Publisher delivers events to the observers of a topic
type Publisher interface {
	Publish(topic string, msg types.Outbound)
}

// Runner runs sequencer echoes and health checks
type Runner interface {
	Run(ctx context.Context, cmd string) (string, error)
	Check(ctx context.Context, target string) error
}

// Metrics records terminal and scheduler activity
type Metrics interface {
	terminal.Metrics
	scheduler.Metrics
}

// Config tunes the sessions and schedulers a palette creates
type Config struct {
	Rerun      terminal.RerunConfig
	ReplyDelay time.Duration
	Cols       int
	Rows       int
	Interval   time.Duration
	Limit      int
}

// Deps are the collaborators shared by every palette
type Deps struct {
	Env       *environment.Store
	History   *history.Store
	Runner    Runner
	Publisher Publisher
	Persist   func()
	Metrics   Metrics
	Config    Config
	Logger    *zap.Logger
}

// Palette is the live side of one stack
type Palette struct {
	id   string
	deps Deps

	mu        sync.RWMutex
	name      string
	terminals []*types.Terminal
	sessions  map[string]*terminal.Session
	sched     *scheduler.Scheduler
	logger    *zap.Logger
}

// New materializes a palette for stack and registers the stack's
// environment, including a host snapshot set
func New(stack *types.Stack, deps Deps) *Palette {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Env == nil {
		deps.Env = environment.NewStore()
	}
	if deps.History == nil {
		deps.History = history.NewMemory()
	}

	terminals := make([]*types.Terminal, len(stack.Terminals))
	for i, t := range stack.Terminals {
		terminals[i] = t.Clone()
	}

	deps.Env.Register(stack.ID, stack.EnvironmentSets, false)

	return &Palette{
		id:        stack.ID,
		deps:      deps,
		name:      stack.Name,
		terminals: terminals,
		sessions:  make(map[string]*terminal.Session),
		logger:    deps.Logger.With(zap.String("stack", stack.ID)),
	}
}

// ID returns the stack id
func (p *Palette) ID() string { return p.id }

// Name returns the stack name
func (p *Palette) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Rename changes the stack name
func (p *Palette) Rename(name string) error {
	name = utils.SanitizeTitle(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}

	p.mu.Lock()
	p.name = name
	p.mu.Unlock()

	p.publishSettings()
	p.persist()
	return nil
}

// CreateTerminal appends a terminal with a placeholder command. Its session
// is created when it is first used.
func (p *Palette) CreateTerminal(title string) (*types.Terminal, error) {
	title = utils.SanitizeTitle(title)
	if title == "" {
		title = "Terminal"
	}

	p.mu.Lock()
	next := 0
	for _, t := range p.terminals {
		if t.ExecutionOrder != nil && *t.ExecutionOrder >= next {
			next = *t.ExecutionOrder + 1
		}
	}
	record := &types.Terminal{
		ID:             id.NewTerminalID().String(),
		Title:          title,
		ExecutionOrder: &next,
		Command:        types.Command{Cmd: DefaultCommand},
	}
	p.terminals = append(p.terminals, record)
	p.mu.Unlock()

	p.logger.Info("Terminal created", zap.String("terminal", record.ID))
	p.PingState()
	p.persist()
	return record.Clone(), nil
}

// DeleteTerminal stops and forgets a terminal
func (p *Palette) DeleteTerminal(terminalID string) error {
	p.mu.Lock()
	idx := p.indexOf(terminalID)
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTerminalNotFound, terminalID)
	}
	session := p.sessions[terminalID]
	delete(p.sessions, terminalID)
	p.terminals = append(p.terminals[:idx:idx], p.terminals[idx+1:]...)
	p.mu.Unlock()

	if session != nil {
		session.Close()
	} else {
		p.deps.Env.Unregister(terminalID)
	}

	msg := types.Outbound{Event: types.EventTerminalDelete, Data: map[string]string{"id": terminalID}}
	p.publish(realtime.PaletteTopic(p.id), msg)
	p.publish(realtime.TerminalTopic(p.id, terminalID), msg)

	p.logger.Info("Terminal deleted", zap.String("terminal", terminalID))
	p.PingState()
	p.persist()
	return nil
}

// Has reports whether the palette owns a terminal
func (p *Palette) Has(terminalID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.indexOf(terminalID) >= 0
}

// Session returns the live session of a terminal, creating it on first use
func (p *Palette) Session(terminalID string) (*terminal.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionLocked(terminalID)
}

// Sessions materializes and returns every session in terminal order
func (p *Palette) Sessions() []*terminal.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*terminal.Session, 0, len(p.terminals))
	for _, t := range p.terminals {
		s, err := p.sessionLocked(t.ID)
		if err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (p *Palette) sessionLocked(terminalID string) (*terminal.Session, error) {
	if s, ok := p.sessions[terminalID]; ok {
		return s, nil
	}
	idx := p.indexOf(terminalID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTerminalNotFound, terminalID)
	}

	topic := realtime.TerminalTopic(p.id, terminalID)
	s := terminal.NewSession(p.terminals[idx], terminal.Options{
		StackID:    p.id,
		Env:        p.deps.Env,
		History:    p.deps.History,
		Runner:     p.deps.Runner,
		Rerun:      p.deps.Config.Rerun,
		ReplyDelay: p.deps.Config.ReplyDelay,
		Cols:       p.deps.Config.Cols,
		Rows:       p.deps.Config.Rows,
		Metrics:    p.deps.Metrics,
		Logger:     p.deps.Logger,
		Hooks: terminal.Hooks{
			Output: func(chunk string) {
				p.publish(topic, types.Outbound{Event: types.EventOutput, Data: chunk})
			},
			State: func(state types.TerminalState) {
				p.publish(topic, types.Outbound{Event: types.EventTerminalState, Data: state})
				p.PingState()
			},
			Persist: p.persist,
			Exit: func(int) {
				p.release(terminalID)
			},
		},
	})
	p.sessions[terminalID] = s
	return s, nil
}

// Terminal returns a copy of a terminal's record, live when its session exists
func (p *Palette) Terminal(terminalID string) (*types.Terminal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if s, ok := p.sessions[terminalID]; ok {
		return s.Record(), nil
	}
	idx := p.indexOf(terminalID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrTerminalNotFound, terminalID)
	}
	return p.terminals[idx].Clone(), nil
}

// RunningStates maps every terminal id to whether its process is live
func (p *Palette) RunningStates() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make(map[string]bool, len(p.terminals))
	for _, t := range p.terminals {
		s, ok := p.sessions[t.ID]
		states[t.ID] = ok && s.Running()
	}
	return states
}

// Running reports whether any terminal is live
func (p *Palette) Running() bool {
	for _, running := range p.RunningStates() {
		if running {
			return true
		}
	}
	return false
}

// PingState publishes the running flag of every terminal to palette observers
func (p *Palette) PingState() {
	p.publish(realtime.PaletteTopic(p.id), types.Outbound{Event: types.EventStackState, Data: p.RunningStates()})
}

// PingAll asks every live session to publish its full state
func (p *Palette) PingAll() {
	p.mu.RLock()
	sessions := make([]*terminal.Session, 0, len(p.sessions))
	for _, t := range p.terminals {
		if s, ok := p.sessions[t.ID]; ok {
			sessions = append(sessions, s)
		}
	}
	p.mu.RUnlock()

	for _, s := range sessions {
		s.PingState()
	}
}

// StartAll starts every terminal through a fresh scheduler, replacing a
// scheduler still running from an earlier start
func (p *Palette) StartAll(ctx context.Context) {
	sessions := p.Sessions()
	units := make([]scheduler.Unit, len(sessions))
	for i, s := range sessions {
		units[i] = s
	}

	sched := scheduler.New(units, scheduler.Options{
		Interval: p.deps.Config.Interval,
		Limit:    p.deps.Config.Limit,
		Checker:  p.deps.Runner,
		Metrics:  p.deps.Metrics,
		Logger:   p.logger,
		HaltBeat: func(beat types.HaltBeat) {
			p.publish(realtime.PaletteTopic(p.id), types.Outbound{Event: types.EventHaltBeat, Data: beat})
		},
	})

	p.mu.Lock()
	old := p.sched
	p.sched = sched
	p.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	p.logger.Info("Starting stack", zap.Int("terminals", len(units)))
	sched.Start(ctx)
}

// StopAll cancels pending starts and stops every live session
func (p *Palette) StopAll() {
	p.mu.Lock()
	sched := p.sched
	p.sched = nil
	sessions := make([]*terminal.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	for _, s := range sessions {
		s.Stop()
	}
	p.logger.Info("Stopped stack")
}

// Close stops everything and releases the palette's environment
func (p *Palette) Close() {
	p.StopAll()

	p.mu.Lock()
	sessions := p.sessions
	terminals := p.terminals
	p.sessions = make(map[string]*terminal.Session)
	p.mu.Unlock()

	for _, t := range terminals {
		if s, ok := sessions[t.ID]; ok {
			s.Close()
		} else {
			p.deps.Env.Unregister(t.ID)
		}
	}
	p.deps.Env.Unregister(p.id)
}

// Record returns the persisted form of the stack, pulling terminal records
// from live sessions and environment sets from the store
func (p *Palette) Record() *types.Stack {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stack := &types.Stack{
		ID:              p.id,
		Name:            p.name,
		Terminals:       make([]*types.Terminal, 0, len(p.terminals)),
		EnvironmentSets: p.deps.Env.Sets(p.id),
	}
	for _, t := range p.terminals {
		if s, ok := p.sessions[t.ID]; ok {
			stack.Terminals = append(stack.Terminals, s.Record())
			continue
		}
		stack.Terminals = append(stack.Terminals, t.Clone())
	}
	return stack
}

// Summary returns the control-surface view of the stack
func (p *Palette) Summary() types.StackSummary {
	states := p.RunningStates()
	running := false
	for _, r := range states {
		running = running || r
	}
	return types.StackSummary{ID: p.id, Name: p.Name(), Running: running, Terminals: states}
}

func (p *Palette) release(terminalID string) {
	p.mu.RLock()
	sched := p.sched
	p.mu.RUnlock()

	if sched != nil {
		sched.Release(terminalID)
	}
}

func (p *Palette) indexOf(terminalID string) int {
	for i, t := range p.terminals {
		if t.ID == terminalID {
			return i
		}
	}
	return -1
}

func (p *Palette) publish(topic string, msg types.Outbound) {
	if p.deps.Publisher != nil {
		p.deps.Publisher.Publish(topic, msg)
	}
}

func (p *Palette) publishSettings() {
	p.publish(realtime.PaletteTopic(p.id), types.Outbound{Event: types.EventSettings, Data: p.Record()})
}

func (p *Palette) persist() {
	if p.deps.Persist != nil {
		p.deps.Persist()
	}
}
