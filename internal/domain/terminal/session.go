// Package terminal runs one terminal's command on a PTY and owns its live
// settings, environment and output sequencer.
package terminal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/termstack/internal/domain/environment"
	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/sequencer"
	"github.com/GriffinCanCode/termstack/internal/domain/shell"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"go.uber.org/zap"
)

// Status of the terminal process
type Status int

const (
	Stopped Status = iota
	Starting
	Running
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

const (
	DefaultCols = 80
	DefaultRows = 24

	interruptByte = 0x03
	// interruptGrace is how long after a typed interrupt an exit still counts
	// as stopped
	interruptGrace = 2 * time.Second
)

// Hooks connect a session to its observers. Every hook is optional.
type Hooks struct {
	// Output receives raw process output and status lines
	Output func(chunk string)
	// State receives a fresh snapshot after every change
	State func(state types.TerminalState)
	// Persist is called after the persisted record changed
	Persist func()
	// Exit is called after the process exited and the session settled
	Exit func(code int)
}

// Metrics records process lifecycle counters
type Metrics interface {
	RecordSpawn(ok bool)
	RecordExit(code int)
	RecordRerun(suspended bool)
	RecordReplay()
}

type noopMetrics struct{}

func (noopMetrics) RecordSpawn(bool) {}
func (noopMetrics) RecordExit(int)   {}
func (noopMetrics) RecordRerun(bool) {}
func (noopMetrics) RecordReplay()    {}

// Options carries a session's collaborators
type Options struct {
	StackID    string
	Env        *environment.Store
	History    *history.Store
	Runner     sequencer.Runner
	Rerun      RerunConfig
	ReplyDelay time.Duration
	Cols       int
	Rows       int
	Hooks      Hooks
	Metrics    Metrics
	Logger     *zap.Logger
}

// Session is the live side of one terminal record
type Session struct {
	id      string
	stackID string

	env     *environment.Store
	history *history.Store
	seq     *sequencer.Sequencer
	rerun   *RerunPolicy
	delay   time.Duration
	hooks   Hooks
	metrics Metrics
	logger  *zap.Logger

	lifecycle sync.Mutex

	mu       sync.RWMutex
	record   *types.Terminal
	proc     *process
	status   Status
	reserved bool
	cols     int
	rows     int
}

// NewSession materializes a terminal. Its own environment sets are registered
// without a host set, since the stack layer already carries one.
func NewSession(record *types.Terminal, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("terminal", record.ID), zap.String("stack", opts.StackID))

	env := opts.Env
	if env == nil {
		env = environment.NewStore()
	}
	hist := opts.History
	if hist == nil {
		hist = history.NewMemory()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}

	s := &Session{
		id:      record.ID,
		stackID: opts.StackID,
		env:     env,
		history: hist,
		seq:     sequencer.New(opts.Runner, logger),
		rerun:   NewRerunPolicy(record.ID, opts.Rerun, logger),
		delay:   opts.ReplyDelay,
		hooks:   opts.Hooks,
		metrics: metrics,
		logger:  logger,
		record:  record.Clone(),
		cols:    cols,
		rows:    rows,
	}
	s.seq.OnReplay(func(int) { metrics.RecordReplay() })

	if !env.Has(record.ID) {
		env.Register(record.ID, record.Command.Env, true)
	}
	return s
}

// ID returns the terminal id
func (s *Session) ID() string { return s.id }

// StackID returns the owning stack id
func (s *Session) StackID() string { return s.stackID }

// Status returns the process status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Running reports whether a process is live
func (s *Session) Running() bool {
	return s.Status() == Running
}

// Start spawns the command. A live process is stopped first and its exit is
// ignored. A spawn failure is written to the output and leaves the session
// stopped.
func (s *Session) Start() error {
	s.rerun.Reset()
	return s.start()
}

func (s *Session) start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	old := s.proc
	s.proc = nil
	s.status = Starting
	record := s.record.Clone()
	cols, rows := s.cols, s.rows
	s.mu.Unlock()

	if old != nil {
		s.seq.Reset()
		s.signal(old, record)
	}
	s.emitState()

	program, args := shell.Resolve(record.Command.Shell, isLoose(record), record.Command.Cmd)
	baked := s.env.Bake([]string{s.stackID, s.id}, false)
	baked["TERM"] = "xterm-256color"

	proc, err := spawn(spawnSpec{
		program: program,
		args:    args,
		dir:     resolveDir(record.Command.Cwd),
		env:     environment.Environ(baked),
		cols:    cols,
		rows:    rows,
	})
	if err != nil {
		s.metrics.RecordSpawn(false)
		s.logger.Warn("Failed to spawn terminal process", zap.String("shell", program), zap.Error(err))
		s.emitOutput(fmt.Sprintf("\r\n%s\r\n", err.Error()))

		s.mu.Lock()
		s.status = Stopped
		s.mu.Unlock()
		s.emitState()
		return err
	}
	s.metrics.RecordSpawn(true)

	s.mu.Lock()
	s.proc = proc
	s.status = Running
	s.reserved = false
	s.mu.Unlock()

	if meta := record.MetaSettings; meta != nil && meta.Sequencing != nil {
		delay := s.delay
		if meta.Delay > 0 {
			delay = time.Duration(meta.Delay) * time.Millisecond
		}
		if err := s.seq.Bind(proc.input(), meta.Sequencing, delay); err != nil {
			s.logger.Warn("Failed to bind sequencer", zap.Error(err))
		}
	}

	s.logger.Info("Terminal started", zap.String("shell", program), zap.Int("pid", proc.cmd.Process.Pid))
	s.emitState()

	if len(args) == 0 && record.Command.Cmd != "" {
		if err := proc.write([]byte(record.Command.Cmd + "\r")); err != nil {
			s.logger.Warn("Failed to type command", zap.Error(err))
		}
	}

	go proc.pump(
		func(chunk string) { s.onOutput(proc, chunk) },
		func(code int) { s.onExit(proc, code) },
	)
	return nil
}

// Stop ends the process: with ctrlc set by typing an interrupt, otherwise by
// signal. A stopped process is never rerun. Failures are only logged.
func (s *Session) Stop() {
	s.rerun.Cancel()

	s.mu.RLock()
	proc := s.proc
	record := s.record.Clone()
	s.mu.RUnlock()

	if proc == nil {
		return
	}
	s.signal(proc, record)
}

func (s *Session) signal(proc *process, record *types.Terminal) {
	if record.MetaSettings != nil && record.MetaSettings.CtrlC {
		proc.markInterrupted(time.Now())
		if err := proc.write([]byte{interruptByte}); err != nil {
			s.logger.Warn("Failed to send interrupt", zap.Error(err))
		}
		return
	}
	proc.stopped.Store(true)
	if proc.cmd.Process == nil {
		return
	}
	if err := terminate(proc.cmd.Process); err != nil {
		s.logger.Warn("Failed to signal process", zap.Error(err))
	}
}

// Wait blocks until the current process, if any, has exited
func (s *Session) Wait() {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()
	if proc != nil {
		<-proc.done
	}
}

// Write types input into the process. While recording, it marks the current
// output position as needing a reply.
func (s *Session) Write(input string) {
	s.mu.RLock()
	proc := s.proc
	s.mu.RUnlock()

	if proc == nil {
		return
	}
	s.seq.Register()
	if err := proc.write([]byte(input)); err != nil {
		s.logger.Debug("Failed to write input", zap.Error(err))
	}
}

// Resize stores the dimensions and applies them to a live process
func (s *Session) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}

	s.mu.Lock()
	s.cols, s.rows = cols, rows
	proc := s.proc
	s.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.resize(cols, rows); err != nil {
		s.logger.Debug("Failed to resize terminal", zap.Error(err))
	}
}

// Reserve marks the terminal as about to start
func (s *Session) Reserve() {
	s.setReserved(true)
}

// UnReserve clears the about-to-start mark
func (s *Session) UnReserve() {
	s.setReserved(false)
}

func (s *Session) setReserved(v bool) {
	s.mu.Lock()
	s.reserved = v
	s.mu.Unlock()
	s.emitState()
}

// Reserved reports the about-to-start mark
func (s *Session) Reserved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserved
}

// State returns a snapshot with the effective shell and the current
// environment sets filled in
func (s *Session) State() types.TerminalState {
	s.mu.RLock()
	record := s.record.Clone()
	state := types.TerminalState{
		ID:             s.id,
		StackID:        s.stackID,
		Title:          record.Title,
		ExecutionOrder: record.ExecutionOrder,
		MetaSettings:   record.MetaSettings,
		Health:         record.Health,
		Running:        s.status == Running,
		Reserved:       s.reserved,
		Cols:           s.cols,
		Rows:           s.rows,
	}
	s.mu.RUnlock()

	state.Command = record.Command
	state.Command.Shell = shell.Effective(record.Command.Shell)
	state.Command.Env = s.env.Sets(s.id)
	if state.Command.Env == nil {
		state.Command.Env = []types.EnvironmentSet{}
	}
	return state
}

// Record returns the persisted form of the terminal with its environment
// pulled from the store
func (s *Session) Record() *types.Terminal {
	s.mu.RLock()
	record := s.record.Clone()
	s.mu.RUnlock()

	record.Command.Env = s.env.Sets(s.id)
	return record
}

// Health returns the startup gate
func (s *Session) Health() *types.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Clone().Health
}

// ExecutionOrder returns the scheduling position, nil when unordered
func (s *Session) ExecutionOrder() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Clone().ExecutionOrder
}

// Halts reports whether startup of later terminals waits for this one to exit
func (s *Session) Halts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.MetaSettings != nil && s.record.MetaSettings.Halt
}

// Title returns the display title
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Title
}

// Warn writes a notice into the terminal output
func (s *Session) Warn(message string) {
	s.emitOutput("\r\n\x1b[33m" + message + "\x1b[0m\r\n")
}

// PingState pushes a fresh snapshot to observers
func (s *Session) PingState() {
	s.emitState()
}

// Close stops the process and releases the terminal's environment
func (s *Session) Close() {
	s.Stop()
	s.seq.Reset()
	s.env.Unregister(s.id)
}

func (s *Session) onOutput(proc *process, chunk string) {
	if !s.current(proc) {
		return
	}
	s.emitOutput(chunk)
	s.seq.Trace(chunk)
}

func (s *Session) onExit(proc *process, code int) {
	s.metrics.RecordExit(code)

	s.mu.Lock()
	if s.proc != proc {
		s.mu.Unlock()
		s.logger.Debug("Ignoring exit of replaced process", zap.Int("code", code))
		return
	}
	s.proc = nil
	s.status = Stopped

	learned := false
	if meta := s.record.MetaSettings; meta != nil && meta.Sequencing != nil && len(meta.Sequencing) == 0 &&
		s.seq.State() == sequencer.Recording {
		if steps := s.seq.Steps(); len(steps) > 0 {
			meta.Sequencing = steps
			learned = true
		}
	}
	rerun := s.record.MetaSettings != nil && s.record.MetaSettings.Rerun && !proc.userStopped(time.Now())
	s.mu.Unlock()

	s.seq.Reset()
	s.logger.Info("Terminal exited", zap.Int("code", code), zap.Duration("uptime", proc.uptime()))
	s.emitOutput(fmt.Sprintf("\r\n[process exited with code %d]\r\n", code))
	s.emitState()

	if learned {
		s.persist()
	}
	if s.hooks.Exit != nil {
		s.hooks.Exit(code)
	}

	if rerun {
		wait, suspended := s.rerun.Decide(proc.uptime())
		s.metrics.RecordRerun(suspended)
		if suspended {
			s.Warn(fmt.Sprintf("[rerun suspended for %s after repeated quick exits]", wait))
		}
		s.rerun.Schedule(wait, func() {
			if err := s.start(); err != nil {
				s.logger.Warn("Rerun failed", zap.Error(err))
			}
		})
	}
}

func (s *Session) current(proc *process) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc == proc
}

func (s *Session) emitOutput(chunk string) {
	if s.hooks.Output != nil {
		s.hooks.Output(chunk)
	}
}

func (s *Session) emitState() {
	if s.hooks.State != nil {
		s.hooks.State(s.State())
	}
}

func (s *Session) persist() {
	if s.hooks.Persist != nil {
		s.hooks.Persist()
	}
}

func isLoose(record *types.Terminal) bool {
	return record.MetaSettings != nil && record.MetaSettings.Loose
}

// resolveDir expands a leading ~ and falls back to the home directory
func resolveDir(cwd string) string {
	cwd = strings.TrimSpace(cwd)
	home, _ := os.UserHomeDir()
	if cwd == "" {
		return home
	}
	if cwd == "~" {
		return home
	}
	if strings.HasPrefix(cwd, "~/") && home != "" {
		return filepath.Join(home, cwd[2:])
	}
	return cwd
}
