package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"solardesk/internal/domain"
	"solardesk/internal/view"
)

const (
	DefaultInterval         = time.Hour
	DefaultLookahead        = 24 * time.Hour
	DefaultTitle            = "Task Deadline Approaching"
	DefaultNotifiedCapacity = 10000
	DefaultConsentCheck     = 5 * time.Second
)

var (
	ErrNotActive    = errors.New("scheduler not active")
	ErrCycleRunning = errors.New("cycle already running")
)

type Config struct {
	Interval         time.Duration
	Lookahead        time.Duration
	Title            string
	NotifiedCapacity int
	NotifiedTTL      time.Duration
	// ConsentCheck is how often an idle scheduler re-reads stored consent,
	// which picks up decisions recorded by another process.
	ConsentCheck time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.ConsentCheck <= 0 {
		c.ConsentCheck = DefaultConsentCheck
	}
	if c.NotifiedCapacity == 0 {
		c.NotifiedCapacity = DefaultNotifiedCapacity
	}
	return c
}

// CycleResult summarises one evaluation cycle.
type CycleResult struct {
	Evaluated int       `json:"evaluated"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State     State      `json:"state"`
	Interval  string     `json:"interval"`
	Lookahead string     `json:"lookahead"`
	Notified  int        `json:"notified"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}

// Scheduler polls Source on a fixed interval and dispatches one alert per
// task whose deadline falls inside (now, now+Lookahead]. Polling only runs
// while consent is granted. A nil Sink makes the scheduler inert.
type Scheduler struct {
	Source    TaskSource
	Sink      AlertSink
	Consent   ConsentSource
	Logger    *log.Logger
	Now       func() time.Time
	NewTicker func(time.Duration) Ticker

	cfg      Config
	notified *NotifiedSet
	consent  chan Consent

	cycleMu sync.Mutex

	mu        sync.Mutex
	state     State
	lastCycle time.Time
}

func New(cfg Config, src TaskSource, sink AlertSink, consent ConsentSource) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		Source:    src,
		Sink:      sink,
		Consent:   consent,
		NewTicker: NewRealTicker,
		cfg:       cfg,
		notified:  NewNotifiedSet(cfg.NotifiedCapacity, cfg.NotifiedTTL),
		consent:   make(chan Consent, 1),
		state:     StateUninitialized,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Notified exposes the set of tasks that already alerted.
func (s *Scheduler) Notified() *NotifiedSet {
	return s.notified
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logf("notify: state %s -> %s", prev, st)
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state,
		Interval:  s.cfg.Interval.String(),
		Lookahead: s.cfg.Lookahead.String(),
		Notified:  s.notified.Len(),
	}
	if !s.lastCycle.IsZero() {
		last := s.lastCycle
		st.LastCycle = &last
	}
	return st
}

// ConsentChanged delivers a consent decision made outside the scheduler.
// Only the most recent pending decision is kept.
func (s *Scheduler) ConsentChanged(c Consent) {
	for {
		select {
		case s.consent <- c:
			return
		default:
		}
		select {
		case <-s.consent:
		default:
		}
	}
}

// Run drives the scheduler until ctx is cancelled or consent is denied.
func (s *Scheduler) Run(ctx context.Context) error {
	state := s.initialState(ctx)
	for {
		s.setState(state)
		switch state {
		case StateDisabled:
			return nil
		case StateIdle:
			next, stopped := s.idle(ctx)
			if stopped {
				s.setState(StateStopped)
				return nil
			}
			state = next
		case StateActive:
			if s.poll(ctx) {
				s.setState(StateStopped)
				return nil
			}
			state = StateDisabled
		}
	}
}

// idle waits for a consent decision, either handed over through
// ConsentChanged or found in the consent source on the next check.
func (s *Scheduler) idle(ctx context.Context) (State, bool) {
	ticker := s.NewTicker(s.cfg.ConsentCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return StateStopped, true
		case c := <-s.consent:
			if st := stateFor(c); st != StateIdle {
				return st, false
			}
		case <-ticker.C():
			if st := s.storedState(ctx); st != StateIdle {
				return st, false
			}
		}
	}
}

// storedState maps the stored consent to a state. Read errors are logged
// and map to idle.
func (s *Scheduler) storedState(ctx context.Context) State {
	if s.Consent == nil {
		return StateIdle
	}
	c, err := s.Consent.CurrentConsent(ctx)
	if err != nil {
		s.logf("notify: read consent failed: %v", err)
		return StateIdle
	}
	return stateFor(c)
}

func stateFor(c Consent) State {
	switch c {
	case ConsentGranted:
		return StateActive
	case ConsentDenied:
		return StateDisabled
	}
	return StateIdle
}

func (s *Scheduler) initialState(ctx context.Context) State {
	if s.Sink == nil {
		s.logf("notify: no alert sink configured; deadline alerts disabled")
		return StateDisabled
	}
	return s.storedState(ctx)
}

// poll runs the active loop. It reports true when ctx ended and false when
// consent was revoked, either through ConsentChanged or in the consent
// source before a tick.
func (s *Scheduler) poll(ctx context.Context) bool {
	s.runCycle(ctx)
	ticker := s.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C():
			if s.storedState(ctx) == StateDisabled {
				return false
			}
			s.runCycle(ctx)
		case c := <-s.consent:
			if c == ConsentDenied {
				return false
			}
		}
	}
}

// Poll runs one cycle on demand. It fails when the scheduler is not active
// or another cycle is in flight.
func (s *Scheduler) Poll(ctx context.Context) (CycleResult, error) {
	if st := s.State(); st != StateActive {
		return CycleResult{}, fmt.Errorf("%w (state %s)", ErrNotActive, st)
	}
	res, ran := s.runCycle(ctx)
	if !ran {
		return CycleResult{}, ErrCycleRunning
	}
	return res, nil
}

// Due reports whether t should alert at now for the given lookahead.
func Due(t domain.Task, now time.Time, lookahead time.Duration) bool {
	return t.Deadline.After(now) && !t.Deadline.After(now.Add(lookahead))
}

func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, bool) {
	if !s.cycleMu.TryLock() {
		s.logf("notify: previous cycle still running; skipping")
		return CycleResult{}, false
	}
	defer s.cycleMu.Unlock()

	now := s.now()
	res := CycleResult{At: now}
	tasks, err := s.Source.ListTasks(ctx, domain.SortByDeadline)
	if err != nil {
		s.logf("notify: list tasks failed: %v", err)
		return res, true
	}
	for _, t := range view.SortTasks(tasks, domain.SortByDeadline) {
		if ctx.Err() != nil {
			break
		}
		res.Evaluated++
		if !Due(t, now, s.cfg.Lookahead) || s.notified.Contains(t.ID) {
			continue
		}
		if err := s.Sink.Dispatch(ctx, s.alertFor(t)); err != nil {
			s.logf("notify: dispatch %s failed: %v", t.ID, err)
			res.Failed++
			continue
		}
		s.notified.Add(t.ID, now)
		res.Sent++
	}
	s.mu.Lock()
	s.lastCycle = now
	s.mu.Unlock()
	return res, true
}

func (s *Scheduler) alertFor(t domain.Task) Alert {
	return Alert{
		Title:        s.cfg.Title,
		Body:         fmt.Sprintf("%q is due soon for %s", t.Title, t.CustomerName),
		Tag:          t.ID,
		TaskID:       t.ID,
		CustomerName: t.CustomerName,
		Deadline:     t.Deadline,
	}
}
