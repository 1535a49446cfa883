package ingest

import (
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

type State int32

const (
	StateRunning State = iota
	StateHalted
)

func (s State) String() string {
	if s == StateHalted {
		return "HALTED"
	}
	return "RUNNING"
}

// DefaultBudget keeps an attempt under common 120s proxy and platform limits.
const DefaultBudget = 110 * time.Second

// Lifecycle owns the wall-clock budget of one connection attempt. It starts RUNNING
// and moves to HALTED at the first slice boundary after the budget is spent.
// HALTED is final.
type Lifecycle struct {
	clock  clock.PassiveClock
	start  time.Time
	budget time.Duration
	halt   <-chan struct{}
	state  atomic.Int32
}

// NewLifecycle records the attempt start. budget <= 0 never halts.
func NewLifecycle(c clock.PassiveClock, budget time.Duration) *Lifecycle {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Lifecycle{clock: c, start: c.Now(), budget: budget}
}

// WithHalt makes the attempt halt at the next slice boundary once ch is closed,
// whatever budget is left. Used on server shutdown.
func (l *Lifecycle) WithHalt(ch <-chan struct{}) *Lifecycle {
	l.halt = ch
	return l
}

// Check is called at slice boundaries.
func (l *Lifecycle) Check() State {
	if State(l.state.Load()) == StateHalted {
		return StateHalted
	}
	if l.halted() || (l.budget > 0 && l.Elapsed() > l.budget) {
		l.state.Store(int32(StateHalted))
		return StateHalted
	}
	return StateRunning
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) Elapsed() time.Duration {
	return l.clock.Since(l.start)
}

func (l *Lifecycle) halted() bool {
	if l.halt == nil {
		return false
	}
	select {
	case <-l.halt:
		return true
	default:
		return false
	}
}
