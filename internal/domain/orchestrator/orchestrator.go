// Package orchestrator owns every palette, routes connections to them and is
// the single path through which the stack list reaches durable storage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/termstack/internal/domain/environment"
	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/palette"
	"github.com/GriffinCanCode/termstack/internal/domain/terminal"
	"github.com/GriffinCanCode/termstack/internal/shared/id"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

var (
	// ErrStackNotFound is returned for an unknown stack id
	ErrStackNotFound = errors.New("stack not found")
	// ErrTerminalNotFound is returned for a terminal id the stack does not own
	ErrTerminalNotFound = palette.ErrTerminalNotFound
	// ErrClosed is returned once Shutdown has run
	ErrClosed = errors.New("orchestrator is shut down")
	// ErrInvalidPattern is returned for a malformed stack name glob
	ErrInvalidPattern = errors.New("invalid stack pattern")
)

// Store is the persistence collaborator
type Store interface {
	Load(ctx context.Context) ([]*types.Stack, error)
	Save(ctx context.Context, stacks []*types.Stack) error
	Export(ctx context.Context, path string, stacks []*types.Stack) error
}

// Metrics records palette activity and save outcomes
type Metrics interface {
	palette.Metrics
	RecordSave(ok bool)
}

// Options wires the orchestrator's collaborators
type Options struct {
	Store     Store
	Env       *environment.Store
	History   *history.Store
	Runner    palette.Runner
	Publisher palette.Publisher
	Metrics   Metrics
	Config    palette.Config
	Logger    *zap.Logger
}

// Orchestrator is the top-level registry of palettes
type Orchestrator struct {
	opts   Options
	logger *zap.Logger

	// base outlives any single request; schedulers run under it
	base   context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	loaded   []*types.Stack
	order    []string
	palettes map[string]*palette.Palette
	closed   bool

	saveMu sync.Mutex
}

// New creates an orchestrator with no palettes
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Env == nil {
		opts.Env = environment.NewStore()
	}
	if opts.History == nil {
		opts.History = history.NewMemory()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:     opts,
		logger:   opts.Logger,
		base:     base,
		cancel:   cancel,
		palettes: make(map[string]*palette.Palette),
	}
}

// Load reads the persisted stacks. Every stack and terminal receives a fresh
// id, so ids never survive a restart.
func (o *Orchestrator) Load(ctx context.Context) error {
	stacks, err := o.opts.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stacks: %w", err)
	}

	for _, stack := range stacks {
		stack.ID = id.NewStackID().String()
		for _, t := range stack.Terminals {
			t.ID = id.NewTerminalID().String()
		}
	}

	o.mu.Lock()
	o.loaded = stacks
	o.mu.Unlock()

	o.logger.Info("Stacks loaded", zap.Int("count", len(stacks)))
	return nil
}

// Init materializes a palette for every loaded stack and saves
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	for _, stack := range o.loaded {
		if _, ok := o.palettes[stack.ID]; ok {
			continue
		}
		o.addLocked(stack)
	}
	o.loaded = nil
	o.mu.Unlock()

	return o.Save(ctx)
}

// Save writes the full stack list. Failures are logged and returned.
func (o *Orchestrator) Save(ctx context.Context) error {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	err := o.opts.Store.Save(ctx, o.Records())
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordSave(err == nil)
	}
	if err != nil {
		o.logger.Error("Failed to save stacks", zap.Error(err))
		return fmt.Errorf("failed to save stacks: %w", err)
	}
	return nil
}

// Export writes a shareable copy of the stacks to path with host snapshot
// sets removed. Patterns, when given, select stacks by name glob.
func (o *Orchestrator) Export(ctx context.Context, path string, patterns ...string) error {
	if err := utils.ValidatePath(path, "path", true); err != nil {
		return err
	}
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
		}
	}

	stacks := []*types.Stack{}
	for _, stack := range o.Records() {
		if !matchesAny(stack.Name, patterns) {
			continue
		}
		stack.EnvironmentSets = withoutHostSets(stack.EnvironmentSets)
		for _, t := range stack.Terminals {
			t.Command.Env = withoutHostSets(t.Command.Env)
		}
		stacks = append(stacks, stack)
	}

	if err := o.opts.Store.Export(ctx, path, stacks); err != nil {
		return fmt.Errorf("failed to export stacks: %w", err)
	}
	o.logger.Info("Stacks exported", zap.String("path", path), zap.Int("count", len(stacks)))
	return nil
}

// matchesAny reports whether name matches one of the glob patterns; no
// patterns match everything
func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Records returns the persisted form of every stack in creation order
func (o *Orchestrator) Records() []*types.Stack {
	palettes := o.Palettes()
	out := make([]*types.Stack, len(palettes))
	for i, p := range palettes {
		out[i] = p.Record()
	}
	return out
}

// CreateStack adds an empty stack
func (o *Orchestrator) CreateStack(ctx context.Context, name string) (*types.Stack, error) {
	name = utils.SanitizeTitle(name)
	if name == "" {
		name = "Stack"
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	p := o.addLocked(&types.Stack{ID: id.NewStackID().String(), Name: name})
	o.mu.Unlock()

	o.logger.Info("Stack created", zap.String("stack", p.ID()), zap.String("name", name))
	if err := o.Save(ctx); err != nil {
		return p.Record(), err
	}
	return p.Record(), nil
}

// DeleteStack stops and removes a stack with all of its terminals
func (o *Orchestrator) DeleteStack(ctx context.Context, stackID string) error {
	o.mu.Lock()
	p, ok := o.palettes[stackID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStackNotFound, stackID)
	}
	delete(o.palettes, stackID)
	for i, pid := range o.order {
		if pid == stackID {
			o.order = append(o.order[:i:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	p.Close()
	o.logger.Info("Stack deleted", zap.String("stack", stackID))
	return o.Save(ctx)
}

// Palette returns the palette of a stack
func (o *Orchestrator) Palette(stackID string) (*palette.Palette, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	p, ok := o.palettes[stackID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStackNotFound, stackID)
	}
	return p, nil
}

// Palettes returns every palette in creation order
func (o *Orchestrator) Palettes() []*palette.Palette {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*palette.Palette, 0, len(o.order))
	for _, pid := range o.order {
		out = append(out, o.palettes[pid])
	}
	return out
}

// Summaries returns the control-surface view of every stack
func (o *Orchestrator) Summaries() []types.StackSummary {
	palettes := o.Palettes()
	out := make([]types.StackSummary, len(palettes))
	for i, p := range palettes {
		out[i] = p.Summary()
	}
	return out
}

// ToggleStack stops a running stack or starts a stopped one through its
// scheduler. It returns whether the stack is now starting.
func (o *Orchestrator) ToggleStack(stackID string) (bool, error) {
	p, err := o.Palette(stackID)
	if err != nil {
		return false, err
	}

	if p.Running() {
		p.StopAll()
		return false, nil
	}
	p.StartAll(o.base)
	return true, nil
}

// ToggleTerminal stops a running terminal or starts a stopped one. It
// returns whether the terminal is now running.
func (o *Orchestrator) ToggleTerminal(stackID, terminalID string) (bool, error) {
	_, s, err := o.Route(stackID, terminalID)
	if err != nil {
		return false, err
	}

	if s.Running() {
		s.Stop()
		return false, nil
	}
	if err := s.Start(); err != nil {
		return false, err
	}
	return s.Running(), nil
}

// CreateTerminal adds a terminal to a stack
func (o *Orchestrator) CreateTerminal(stackID, title string) (*types.Terminal, error) {
	p, err := o.Palette(stackID)
	if err != nil {
		return nil, err
	}
	return p.CreateTerminal(title)
}

// DeleteTerminal removes a terminal from a stack
func (o *Orchestrator) DeleteTerminal(stackID, terminalID string) error {
	p, err := o.Palette(stackID)
	if err != nil {
		return err
	}
	return p.DeleteTerminal(terminalID)
}

// Route resolves a connection tag. The session is nil when terminalID is empty.
func (o *Orchestrator) Route(paletteID, terminalID string) (*palette.Palette, *terminal.Session, error) {
	p, err := o.Palette(paletteID)
	if err != nil {
		return nil, nil, err
	}
	if terminalID == "" {
		return p, nil, nil
	}

	s, err := p.Session(terminalID)
	if err != nil {
		return nil, nil, err
	}
	return p, s, nil
}

// Shutdown saves a final time and stops every palette. Later persistence
// requests are ignored.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return nil
	}

	err := o.Save(ctx)

	o.mu.Lock()
	o.closed = true
	palettes := make([]*palette.Palette, 0, len(o.order))
	for _, pid := range o.order {
		palettes = append(palettes, o.palettes[pid])
	}
	o.mu.Unlock()

	o.cancel()
	for _, p := range palettes {
		p.Close()
	}
	o.logger.Info("Orchestrator shut down", zap.Int("stacks", len(palettes)))
	return err
}

func (o *Orchestrator) addLocked(stack *types.Stack) *palette.Palette {
	var metrics palette.Metrics
	if o.opts.Metrics != nil {
		metrics = o.opts.Metrics
	}

	p := palette.New(stack, palette.Deps{
		Env:       o.opts.Env,
		History:   o.opts.History,
		Runner:    o.opts.Runner,
		Publisher: o.opts.Publisher,
		Persist:   o.persist,
		Metrics:   metrics,
		Config:    o.opts.Config,
		Logger:    o.logger,
	})
	o.palettes[stack.ID] = p
	o.order = append(o.order, stack.ID)
	return p
}

func (o *Orchestrator) persist() {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return
	}
	_ = o.Save(o.base)
}

func withoutHostSets(sets []types.EnvironmentSet) []types.EnvironmentSet {
	if sets == nil {
		return nil
	}
	out := make([]types.EnvironmentSet, 0, len(sets))
	for _, set := range sets {
		if set.Title == environment.OSTitle {
			continue
		}
		out = append(out, set)
	}
	return out
}
