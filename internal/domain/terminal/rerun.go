package terminal

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/termstack/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// RerunConfig bounds automatic restarts of a terminal whose process exits
type RerunConfig struct {
	// Backoff separates an exit from the rerun it triggers
	Backoff time.Duration
	// MinUptime is the shortest run that does not count as a crash
	MinUptime time.Duration
	// MaxCrashes consecutive crashes suspend reruns
	MaxCrashes int
	// Cooldown is how long reruns stay suspended
	Cooldown time.Duration
}

// DefaultRerunConfig returns the production rerun bounds
func DefaultRerunConfig() RerunConfig {
	return RerunConfig{
		Backoff:    time.Second,
		MinUptime:  5 * time.Second,
		MaxCrashes: 5,
		Cooldown:   30 * time.Second,
	}
}

// RerunPolicy decides when an exited process may be started again. Quick
// exits count as crashes and trip a breaker that suspends reruns.
type RerunPolicy struct {
	cfg     RerunConfig
	breaker *resilience.Breaker
	logger  *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewRerunPolicy creates a policy for one terminal
func NewRerunPolicy(name string, cfg RerunConfig, logger *zap.Logger) *RerunPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCrashes <= 0 {
		cfg.MaxCrashes = DefaultRerunConfig().MaxCrashes
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultRerunConfig().Cooldown
	}

	maxCrashes := uint32(cfg.MaxCrashes)
	breaker := resilience.New(name, resilience.Settings{
		Cooldown: cfg.Cooldown,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= maxCrashes
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Info("Rerun breaker changed state",
				zap.String("terminal", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RerunPolicy{cfg: cfg, breaker: breaker, logger: logger}
}

// Decide records a finished run and returns how long to wait before the next
// one. suspended is set when the breaker is open and the wait is the cooldown.
func (p *RerunPolicy) Decide(uptime time.Duration) (wait time.Duration, suspended bool) {
	p.breaker.Record(uptime >= p.cfg.MinUptime)
	if p.breaker.Ready() {
		return p.cfg.Backoff, false
	}
	return p.cfg.Cooldown, true
}

// Schedule runs fn after wait unless cancelled first. If the breaker still
// refuses when the wait is over, fn is pushed back by another cooldown.
func (p *RerunPolicy) Schedule(wait time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(wait, func() {
		p.mu.Lock()
		if p.timer != timer {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()

		if err := p.breaker.Allow(); err != nil {
			p.Schedule(p.cfg.Cooldown, fn)
			return
		}
		fn()
	})
	p.timer = timer
}

// Pending reports whether a rerun is scheduled
func (p *RerunPolicy) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Cancel drops a scheduled rerun
func (p *RerunPolicy) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Reset forgets past crashes. Called when a user starts the terminal by hand.
func (p *RerunPolicy) Reset() {
	p.Cancel()
	p.breaker.Reset()
}

// State exposes the breaker state
func (p *RerunPolicy) State() resilience.State {
	return p.breaker.State()
}
