// Package scheduler starts the terminals of a palette once each, honoring
// their execution order, start delays, health checks and halts.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Second
	DefaultLimit    = 240

	// warnBelow is the remaining-attempts count under which failed health
	// checks are reported to the terminal
	warnBelow = 10
)

// Unit is a terminal the scheduler can start
type Unit interface {
	ID() string
	ExecutionOrder() *int
	Health() *types.Health
	Halts() bool
	Start() error
	Reserve()
	UnReserve()
	Warn(message string)
}

// Checker runs a health check
type Checker interface {
	Check(ctx context.Context, target string) error
}

// Metrics records health check outcomes
type Metrics interface {
	RecordHealthCheck(outcome string)
}

// Health check outcomes
const (
	OutcomeHealthy   = "ok"
	OutcomeUnhealthy = "fail"
	OutcomeForced    = "forced"
)

// Options tunes a scheduler
type Options struct {
	Interval time.Duration
	Limit    int
	Checker  Checker
	Metrics  Metrics
	// HaltBeat is called every interval while startup waits on a halting unit
	HaltBeat func(beat types.HaltBeat)
	Logger   *zap.Logger
}

// Scheduler owns the startup jobs of one palette run
type Scheduler struct {
	units []Unit
	opts  Options

	mu      sync.Mutex
	cancel  context.CancelFunc
	gates   map[string]chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New orders units by execution order. Units without one go last and ties
// keep their original order.
func New(units []Unit, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ExecutionOrder(), sorted[j].ExecutionOrder()
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})

	return &Scheduler{
		units: sorted,
		opts:  opts,
		gates: make(map[string]chan struct{}),
	}
}

// Units returns the units in scheduling order
func (s *Scheduler) Units() []Unit {
	out := make([]Unit, len(s.units))
	copy(out, s.units)
	return out
}

// Start launches one job per unit. Every unit after a halting unit waits for
// it to be released before its own policy begins.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)

	var gates []chan struct{}
	var gateIDs []string
	type job struct {
		unit   Unit
		waits  []chan struct{}
		haltOn []string
	}
	jobs := make([]job, 0, len(s.units))
	for _, u := range s.units {
		j := job{unit: u, waits: append([]chan struct{}(nil), gates...), haltOn: append([]string(nil), gateIDs...)}
		jobs = append(jobs, j)
		if u.Halts() {
			gate := make(chan struct{})
			s.gates[u.ID()] = gate
			gates = append(gates, gate)
			gateIDs = append(gateIDs, u.ID())
		}
	}
	s.mu.Unlock()

	for _, j := range jobs {
		j.unit.Reserve()
	}
	for _, j := range jobs {
		s.wg.Add(1)
		go s.run(ctx, j.unit, j.waits, j.haltOn)
	}
}

// Release opens the gate held by a halting unit. Unknown ids are ignored.
func (s *Scheduler) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gate, ok := s.gates[id]; ok {
		close(gate)
		delete(s.gates, id)
	}
}

// Stop cancels every job that has not started its unit yet. A health check
// already running completes and its result is discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every job has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, u Unit, waits []chan struct{}, haltOn []string) {
	defer s.wg.Done()

	if !s.awaitGates(ctx, u, waits, haltOn) {
		u.UnReserve()
		return
	}

	health := u.Health()
	switch {
	case health.IsEmpty():
		s.start(ctx, u)

	case health.Delay > 0:
		if health.HealthCheck != "" {
			u.Warn("[both a start delay and a health check are set, the delay wins]")
		}
		timer := time.NewTimer(time.Duration(health.Delay) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			u.UnReserve()
		case <-timer.C:
			s.start(ctx, u)
		}

	default:
		s.poll(ctx, u, health.HealthCheck)
	}
}

func (s *Scheduler) awaitGates(ctx context.Context, u Unit, waits []chan struct{}, haltOn []string) bool {
	if len(waits) == 0 {
		return true
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for i, gate := range waits {
		for {
			select {
			case <-ctx.Done():
				return false
			case <-gate:
			case <-ticker.C:
				if s.opts.HaltBeat != nil {
					s.opts.HaltBeat(types.HaltBeat{Terminal: haltOn[i], Waiting: s.waiting(waits[i:])})
				}
				continue
			}
			break
		}
	}
	s.opts.Logger.Debug("Halt released", zap.String("terminal", u.ID()))
	return true
}

func (s *Scheduler) waiting(gates []chan struct{}) int {
	n := 0
	for _, g := range gates {
		select {
		case <-g:
		default:
			n++
		}
	}
	return n
}

func (s *Scheduler) poll(ctx context.Context, u Unit, target string) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	remaining := s.opts.Limit
	for {
		select {
		case <-ctx.Done():
			u.UnReserve()
			return
		case <-ticker.C:
		}

		remaining--
		if remaining <= 0 {
			s.record(OutcomeForced)
			u.Warn(fmt.Sprintf("[health check %q never passed, starting anyway]", target))
			s.start(ctx, u)
			return
		}

		err := s.check(ctx, target)
		if ctx.Err() != nil {
			u.UnReserve()
			return
		}
		if err == nil {
			s.record(OutcomeHealthy)
			s.start(ctx, u)
			return
		}

		s.record(OutcomeUnhealthy)
		if remaining < warnBelow {
			u.Warn(fmt.Sprintf("[health check failed, %d attempts left before starting anyway]", remaining))
		}
	}
}

func (s *Scheduler) check(ctx context.Context, target string) error {
	if s.opts.Checker == nil {
		return fmt.Errorf("no health checker configured")
	}
	// the check itself is not cancelled by Stop
	return s.opts.Checker.Check(context.WithoutCancel(ctx), target)
}

func (s *Scheduler) start(ctx context.Context, u Unit) {
	if ctx.Err() != nil {
		u.UnReserve()
		return
	}
	u.UnReserve()
	if err := u.Start(); err != nil {
		s.opts.Logger.Warn("Scheduled start failed", zap.String("terminal", u.ID()), zap.Error(err))
		// a unit that never ran never exits, so it cannot hold later units
		s.Release(u.ID())
	}
}

func (s *Scheduler) record(outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordHealthCheck(outcome)
	}
}
