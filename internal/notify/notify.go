// Package notify raises one alert per task as its deadline approaches.
//
// The Scheduler polls a deadline-sorted task view on a fixed interval once
// the user has granted consent. Alert delivery, consent, task retrieval and
// timers are injected so the loop can be driven deterministically.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solardesk/internal/domain"
)

// Consent is the user's decision about deadline alerts.
type Consent string

const (
	ConsentUndetermined Consent = "undetermined"
	ConsentGranted      Consent = "granted"
	ConsentDenied       Consent = "denied"
)

func ParseConsent(v string) (Consent, error) {
	switch Consent(strings.ToLower(strings.TrimSpace(v))) {
	case ConsentGranted:
		return ConsentGranted, nil
	case ConsentDenied:
		return ConsentDenied, nil
	case ConsentUndetermined, "", "default", "ask":
		return ConsentUndetermined, nil
	}
	return "", fmt.Errorf("invalid consent %q", v)
}

// State is the scheduler lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateIdle          State = "idle"
	StateActive        State = "active"
	StateDisabled      State = "disabled"
	StateStopped       State = "stopped"
)

// Alert is a single deadline notification. Tag is the task id and lets the
// receiving surface collapse duplicates.
type Alert struct {
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Tag          string    `json:"tag"`
	TaskID       string    `json:"task_id"`
	CustomerName string    `json:"customer_name"`
	Deadline     time.Time `json:"deadline"`
}

// AlertSink delivers alerts to the outside world.
type AlertSink interface {
	Dispatch(ctx context.Context, a Alert) error
}

// ConsentSource answers whether alerts may be shown.
type ConsentSource interface {
	CurrentConsent(ctx context.Context) (Consent, error)
	// RequestConsent surfaces a consent request. It may return
	// ConsentUndetermined when the decision arrives later.
	RequestConsent(ctx context.Context) (Consent, error)
}

// TaskSource yields the current task list in the requested order.
type TaskSource interface {
	ListTasks(ctx context.Context, key domain.SortKey) ([]domain.Task, error)
}

// Ticker is the subset of time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}
