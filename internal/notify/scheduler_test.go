package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"solardesk/internal/domain"
)

var quiet = log.New(io.Discard, "", 0)

type fakeSource struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (f *fakeSource) ListTasks(context.Context, domain.SortKey) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Task(nil), f.tasks...), nil
}

type fakeSink struct {
	mu       sync.Mutex
	alerts   []Alert
	failures int
	sent     chan Alert
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: make(chan Alert, 64)}
}

func (f *fakeSink) Dispatch(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("alert surface unavailable")
	}
	f.alerts = append(f.alerts, a)
	f.sent <- a
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(src TaskSource, sink AlertSink, consent ConsentSource, clk *clock) (*Scheduler, *fakeTicker) {
	s := New(Config{}, src, sink, consent)
	s.Logger = quiet
	s.Now = clk.Now
	ticker := &fakeTicker{ch: make(chan time.Time, 8)}
	s.NewTicker = func(time.Duration) Ticker { return ticker }
	return s, ticker
}

func task(id string, deadline time.Time) domain.Task {
	return domain.Task{ID: id, Title: "Call " + id, CustomerName: "Rajesh Kumar", Deadline: deadline, Priority: domain.PriorityMedium}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCycleAlertsOncePerTask(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(12*time.Hour))}}
	sink := newFakeSink()
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)

	for i := 0; i < 3; i++ {
		s.runCycle(context.Background())
		clk.Advance(time.Hour)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", sink.count())
	}
	a := sink.alerts[0]
	if a.Tag != "t1" || a.Title != DefaultTitle {
		t.Fatalf("unexpected alert %+v", a)
	}
	if a.Body != `"Call t1" is due soon for Rajesh Kumar` {
		t.Fatalf("unexpected body %q", a.Body)
	}
}

func TestCycleWindowBoundaries(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	clk := &clock{now: now}
	src := &fakeSource{tasks: []domain.Task{
		task("past", now.Add(-time.Hour)),
		task("now", now),
		task("edge", now.Add(24*time.Hour)),
		task("far", now.Add(24*time.Hour+time.Second)),
	}}
	sink := newFakeSink()
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)

	res, _ := s.runCycle(context.Background())
	if res.Sent != 1 || sink.count() != 1 || sink.alerts[0].Tag != "edge" {
		t.Fatalf("expected only the horizon task to alert, got %+v", sink.alerts)
	}
}

func TestPastDeadlineNeverAlerts(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("late", clk.now.Add(-2*time.Hour))}}
	sink := newFakeSink()
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)
	for i := 0; i < 5; i++ {
		s.runCycle(context.Background())
		clk.Advance(time.Hour)
	}
	if sink.count() != 0 {
		t.Fatalf("overdue task alerted %d times", sink.count())
	}
}

func TestDispatchFailureRetriesNextCycle(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(6*time.Hour))}}
	sink := newFakeSink()
	sink.failures = 1
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)

	res, _ := s.runCycle(context.Background())
	if res.Failed != 1 || s.Notified().Contains("t1") {
		t.Fatalf("failed dispatch must not mark task: %+v", res)
	}
	clk.Advance(time.Hour)
	res, _ = s.runCycle(context.Background())
	if res.Sent != 1 || !s.Notified().Contains("t1") {
		t.Fatalf("expected retry to succeed: %+v", res)
	}
}

func TestListFailureIsLogged(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{err: errors.New("offline")}
	sink := newFakeSink()
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)
	res, ran := s.runCycle(context.Background())
	if !ran || res.Sent != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(time.Hour))}}
	sink := newFakeSink()
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)

	s.cycleMu.Lock()
	_, ran := s.runCycle(context.Background())
	s.cycleMu.Unlock()
	if ran || sink.count() != 0 {
		t.Fatalf("cycle ran while another was in flight")
	}
}

func TestPollRequiresActive(t *testing.T) {
	clk := &clock{now: time.Now()}
	s, _ := newTestScheduler(&fakeSource{}, newFakeSink(), nil, clk)
	if _, err := s.Poll(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(2*time.Hour))}}
	sink := newFakeSink()
	s, ticker := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-sink.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected immediate cycle on activation")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if !ticker.isStopped() {
		t.Fatalf("ticker not stopped")
	}

	src.mu.Lock()
	src.tasks = append(src.tasks, task("t2", clk.now.Add(3*time.Hour)))
	src.mu.Unlock()
	ticker.ch <- clk.Now()
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 1 {
		t.Fatalf("alert dispatched after cancel: %d", sink.count())
	}
	if s.State() != StateStopped {
		t.Fatalf("unexpected state %s", s.State())
	}
}

func TestRunTicksDriveCycles(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{}
	sink := newFakeSink()
	s, ticker := newTestScheduler(src, sink, StaticConsent(ConsentGranted), clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	src.mu.Lock()
	src.tasks = []domain.Task{task("t1", clk.now.Add(time.Hour))}
	src.mu.Unlock()
	ticker.ch <- clk.Now()
	select {
	case a := <-sink.sent:
		if a.Tag != "t1" {
			t.Fatalf("unexpected alert %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("tick did not trigger a cycle")
	}
}

func TestRunDisabledWithoutSink(t *testing.T) {
	clk := &clock{now: time.Now()}
	s, _ := newTestScheduler(&fakeSource{}, nil, StaticConsent(ConsentGranted), clk)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.State() != StateDisabled {
		t.Fatalf("expected disabled, got %s", s.State())
	}
}

func TestRunDisabledWhenDenied(t *testing.T) {
	clk := &clock{now: time.Now()}
	s, _ := newTestScheduler(&fakeSource{}, newFakeSink(), StaticConsent(ConsentDenied), clk)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.State() != StateDisabled {
		t.Fatalf("expected disabled, got %s", s.State())
	}
}

func TestIdleUntilConsentGranted(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(time.Hour))}}
	sink := newFakeSink()
	s, _ := newTestScheduler(src, sink, StaticConsent(ConsentUndetermined), clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitFor(t, "idle state", func() bool { return s.State() == StateIdle })
	if sink.count() != 0 {
		t.Fatalf("idle scheduler dispatched alerts")
	}

	s.ConsentChanged(ConsentGranted)
	select {
	case <-sink.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("grant did not activate the scheduler")
	}
	if s.State() != StateActive {
		t.Fatalf("expected active, got %s", s.State())
	}
}

func TestIdleSchedulerPicksUpStoredGrant(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(time.Hour))}}
	sink := newFakeSink()
	settings := &memSettings{}
	s, ticker := newTestScheduler(src, sink, StoreConsent{Store: settings}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitFor(t, "idle state", func() bool { return s.State() == StateIdle })

	ticker.ch <- clk.Now()
	waitFor(t, "idle check", func() bool { return len(ticker.ch) == 0 })
	if s.State() != StateIdle {
		t.Fatalf("undetermined consent must stay idle, got %s", s.State())
	}

	// A second process records the grant in the shared settings.
	other := StoreConsent{Store: settings}
	if _, err := other.Record(ctx, DecisionGranted); err != nil {
		t.Fatalf("record: %v", err)
	}
	ticker.ch <- clk.Now()
	select {
	case <-sink.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("stored grant did not activate the scheduler, state %s", s.State())
	}
	if s.State() != StateActive {
		t.Fatalf("expected active, got %s", s.State())
	}
}

func TestStoredDenialWhileActiveDisables(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	settings := &memSettings{}
	consent := StoreConsent{Store: settings, Default: ConsentGranted}
	sink := newFakeSink()
	s, ticker := newTestScheduler(&fakeSource{}, sink, consent, clk)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	if _, err := consent.Record(context.Background(), DecisionDenied); err != nil {
		t.Fatalf("record: %v", err)
	}
	ticker.ch <- clk.Now()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stored denial did not stop polling")
	}
	if s.State() != StateDisabled {
		t.Fatalf("expected disabled, got %s", s.State())
	}
}

func TestDenialWhileActiveDisables(t *testing.T) {
	clk := &clock{now: time.Now()}
	s, ticker := newTestScheduler(&fakeSource{}, newFakeSink(), StaticConsent(ConsentGranted), clk)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitFor(t, "active state", func() bool { return s.State() == StateActive })

	s.ConsentChanged(ConsentDenied)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("denial did not stop polling")
	}
	if s.State() != StateDisabled || !ticker.isStopped() {
		t.Fatalf("expected disabled with stopped ticker, got %s", s.State())
	}
}

func TestStatus(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	src := &fakeSource{tasks: []domain.Task{task("t1", clk.now.Add(time.Hour))}}
	s, _ := newTestScheduler(src, newFakeSink(), nil, clk)
	if st := s.Status(); st.State != StateUninitialized || st.LastCycle != nil {
		t.Fatalf("unexpected initial status %+v", st)
	}
	s.runCycle(context.Background())
	st := s.Status()
	if st.Notified != 1 || st.LastCycle == nil || !st.LastCycle.Equal(clk.now) {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Lookahead != "24h0m0s" || st.Interval != "1h0m0s" {
		t.Fatalf("unexpected durations %+v", st)
	}
}

func TestAtMostOnceProperty(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "tasks")
		tasks := make([]domain.Task, 0, n)
		for i := 0; i < n; i++ {
			offset := rapid.IntRange(-30, 80).Draw(t, fmt.Sprintf("offset_%d", i))
			tasks = append(tasks, task(fmt.Sprintf("t%d", i), start.Add(time.Duration(offset)*time.Hour)))
		}
		clk := &clock{now: start}
		sink := newFakeSink()
		sink.sent = make(chan Alert, n+1)
		s, _ := newTestScheduler(&fakeSource{tasks: tasks}, sink, StaticConsent(ConsentGranted), clk)

		due := map[string]bool{}
		cycles := rapid.IntRange(1, 12).Draw(t, "cycles")
		for c := 0; c < cycles; c++ {
			for _, task := range tasks {
				if Due(task, clk.Now(), DefaultLookahead) {
					due[task.ID] = true
				}
			}
			s.runCycle(context.Background())
			clk.Advance(time.Duration(rapid.IntRange(0, 6).Draw(t, fmt.Sprintf("step_%d", c))) * time.Hour)
		}

		seen := map[string]int{}
		for _, a := range sink.alerts {
			seen[a.Tag]++
			if seen[a.Tag] > 1 {
				t.Fatalf("task %s alerted twice", a.Tag)
			}
		}
		for id := range due {
			if seen[id] != 1 {
				t.Fatalf("task %s was due but alerted %d times", id, seen[id])
			}
		}
		if len(seen) != len(due) {
			t.Fatalf("alerted %d tasks, %d were due", len(seen), len(due))
		}
	})
}
