package notify

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

func newLogger(w io.Writer) *log.Logger {
	return log.New(w, "", 0)
}

type memSettings struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memSettings) PutSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals == nil {
		m.vals = map[string]string{}
	}
	m.vals[key] = value
	return nil
}

func TestStoreConsentRecord(t *testing.T) {
	ctx := context.Background()
	c := StoreConsent{Store: &memSettings{}, Default: ConsentUndetermined}
	if got, _ := c.CurrentConsent(ctx); got != ConsentUndetermined {
		t.Fatalf("expected undetermined, got %s", got)
	}
	got, err := c.Record(ctx, DecisionDismissed)
	if err != nil || got != ConsentUndetermined {
		t.Fatalf("dismiss: %s %v", got, err)
	}
	if seen, _ := c.PromptSeen(ctx); !seen {
		t.Fatalf("dismiss must mark the prompt seen")
	}
	if got, _ := c.Record(ctx, DecisionGranted); got != ConsentGranted {
		t.Fatalf("expected granted, got %s", got)
	}
	if got, _ := c.CurrentConsent(ctx); got != ConsentGranted {
		t.Fatalf("grant not persisted: %s", got)
	}
}

func TestStoreConsentDefault(t *testing.T) {
	c := StoreConsent{Store: &memSettings{}, Default: ConsentGranted}
	if got, _ := c.CurrentConsent(context.Background()); got != ConsentGranted {
		t.Fatalf("expected configured default, got %s", got)
	}
}

func TestParseDecision(t *testing.T) {
	if d, err := ParseDecision(" Granted "); err != nil || d != DecisionGranted {
		t.Fatalf("parse: %s %v", d, err)
	}
	if _, err := ParseDecision("maybe"); err == nil {
		t.Fatalf("expected error")
	}
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestPrompterAsksOnce(t *testing.T) {
	ctx := context.Background()
	store := &memSettings{}
	p := Prompter{Consent: StoreConsent{Store: store}, Logger: quiet, After: immediate}
	if !p.Run(ctx) {
		t.Fatalf("expected prompt for undetermined consent")
	}
	if _, err := p.Consent.Record(ctx, DecisionDismissed); err != nil {
		t.Fatalf("record: %v", err)
	}
	if p.Run(ctx) {
		t.Fatalf("dismissed prompt must not reappear")
	}
}

func TestPrompterSkipsDecided(t *testing.T) {
	p := Prompter{Consent: StoreConsent{Store: &memSettings{}, Default: ConsentDenied}, Logger: quiet, After: immediate}
	if p.Run(context.Background()) {
		t.Fatalf("prompt shown although consent was decided")
	}
}

func TestPrompterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Prompter{Consent: StoreConsent{Store: &memSettings{}}, Logger: quiet, Delay: time.Hour}
	if p.Run(ctx) {
		t.Fatalf("cancelled prompter must not prompt")
	}
}

func TestPrompterSkipsRunningScheduler(t *testing.T) {
	for _, st := range []State{StateActive, StateDisabled} {
		var buf strings.Builder
		s := New(Config{}, &fakeSource{}, newFakeSink(), StaticConsent(ConsentGranted))
		s.Logger = quiet
		s.setState(st)
		p := Prompter{Consent: StoreConsent{Store: &memSettings{}}, Scheduler: s, Logger: newLogger(&buf), After: immediate}
		if p.Run(context.Background()) {
			t.Fatalf("%s scheduler must not prompt", st)
		}
		if strings.Contains(buf.String(), "need consent") {
			t.Fatalf("%s scheduler logged a consent prompt: %q", st, buf.String())
		}
	}
}
