// Package circuit tracks consecutive failures against a named dependency and
// trips once a threshold is reached.
//
// The client cache keeps one Breaker per cached backend client and invalidates
// the client when its breaker trips. The metadata REST client wraps its calls
// in a Breaker so an unreachable metadata service fails fast.
package circuit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// State represents the breaker state.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateOpen rejects requests until OpenTimeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trial requests through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpenState is returned by Do while the breaker is open.
	ErrOpenState = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned by Do when all half-open trials are in use.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config contains breaker configuration.
type Config struct {
	// Consecutive failures that trip the breaker.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Requests let through while half-open.
	HalfOpenRequests uint32 `yaml:"half_open_requests"`

	// How long the breaker stays open before probing.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// IsFailure decides whether an error counts against the breaker.
	// Defaults to err != nil.
	IsFailure func(err error) bool `yaml:"-"`

	// OnStateChange is called after a transition, outside the breaker lock.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	return c
}

// Counts holds the outcome counters since the last transition.
type Counts struct {
	Requests             uint32    `json:"requests"`
	Failures             uint32    `json:"failures"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure"`
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	trials   uint32
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

// Name returns the name of the breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Do runs fn unless the breaker is open and records its outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// Record counts the outcome of a request made outside Do. It reports whether
// this outcome tripped the breaker.
func (b *Breaker) Record(err error) bool {
	b.mu.Lock()
	from := b.refresh()
	failed := b.cfg.IsFailure(err)

	b.counts.Requests++
	if failed {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		b.counts.LastFailure = b.now()
	} else {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
	}

	to := from
	switch {
	case from == StateHalfOpen && failed:
		to = StateOpen
	case from == StateHalfOpen:
		to = StateClosed
	case from == StateClosed && b.counts.ConsecutiveFailures >= b.cfg.FailureThreshold:
		to = StateOpen
	}
	if to != from {
		b.transition(to)
	}
	b.mu.Unlock()

	if to != from {
		b.notify(from, to)
	}
	return to == StateOpen && from != StateOpen
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refresh()
}

// Counts returns a copy of the counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.transition(StateClosed)
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.refresh()
	var err error
	switch from {
	case StateOpen:
		err = ErrOpenState
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenRequests {
			err = ErrTooManyRequests
		} else {
			b.trials++
		}
	}
	b.mu.Unlock()
	return err
}

// refresh moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) refresh() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(StateHalfOpen)
		go b.notify(StateOpen, StateHalfOpen)
	}
	return b.state
}

// transition sets state and clears counters. Caller holds mu.
func (b *Breaker) transition(to State) {
	b.state = to
	b.counts = Counts{}
	b.trials = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Stats is a snapshot of one breaker.
type Stats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// Set holds breakers by name, sharing one Config.
type Set struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewSet creates an empty set.
func NewSet(cfg Config) *Set {
	return &Set{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (s *Set) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = New(name, s.cfg)
	s.breakers[name] = b
	return b
}

// Remove forgets the breaker for name.
func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, name)
}

// Stats returns a snapshot of every breaker ordered by name.
func (s *Set) Stats() []Stats {
	s.mu.RLock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.RUnlock()

	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, Stats{Name: b.name, State: b.State(), Counts: b.Counts()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
