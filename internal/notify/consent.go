package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"solardesk/internal/events"
)

const (
	SettingConsent    = "notification_consent"
	SettingPromptSeen = "notification_prompt_seen"

	DefaultPromptDelay = 3 * time.Second
)

// Decision is a user answer to the consent prompt.
type Decision string

const (
	DecisionGranted   Decision = "granted"
	DecisionDenied    Decision = "denied"
	DecisionDismissed Decision = "dismissed"
)

func ParseDecision(v string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(v))); d {
	case DecisionGranted, DecisionDenied, DecisionDismissed:
		return d, nil
	}
	return "", fmt.Errorf("invalid decision %q (want granted, denied or dismissed)", v)
}

// StaticConsent always answers with the same value.
type StaticConsent Consent

func (c StaticConsent) CurrentConsent(context.Context) (Consent, error) { return Consent(c), nil }
func (c StaticConsent) RequestConsent(context.Context) (Consent, error) { return Consent(c), nil }

// SettingsStore is the key/value persistence StoreConsent relies on.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// StoreConsent keeps the consent decision in the settings table. Default is
// used until a decision is recorded.
type StoreConsent struct {
	Store   SettingsStore
	Default Consent
	Events  *events.Writer
}

func (c StoreConsent) CurrentConsent(ctx context.Context) (Consent, error) {
	v, ok, err := c.Store.GetSetting(ctx, SettingConsent)
	if err != nil {
		return ConsentUndetermined, err
	}
	if !ok {
		if c.Default == "" {
			return ConsentUndetermined, nil
		}
		return c.Default, nil
	}
	return ParseConsent(v)
}

// PromptSeen reports whether the prompt was already shown and dismissed.
func (c StoreConsent) PromptSeen(ctx context.Context) (bool, error) {
	v, ok, err := c.Store.GetSetting(ctx, SettingPromptSeen)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

// RequestConsent publishes a prompt event. The answer arrives later via
// Record, so the result is the current consent.
func (c StoreConsent) RequestConsent(ctx context.Context) (Consent, error) {
	if c.Events != nil {
		if err := c.Events.Append(ctx, nil, "notification.prompt", "settings", SettingConsent, "scheduler", nil); err != nil {
			return ConsentUndetermined, err
		}
	}
	return c.CurrentConsent(ctx)
}

// Record persists d and returns the resulting consent.
func (c StoreConsent) Record(ctx context.Context, d Decision) (Consent, error) {
	if err := c.Store.PutSetting(ctx, SettingPromptSeen, "true"); err != nil {
		return "", err
	}
	var next Consent
	switch d {
	case DecisionGranted:
		next = ConsentGranted
	case DecisionDenied:
		next = ConsentDenied
	default:
		return c.CurrentConsent(ctx)
	}
	if err := c.Store.PutSetting(ctx, SettingConsent, string(next)); err != nil {
		return "", err
	}
	if c.Events != nil {
		if err := c.Events.Append(ctx, nil, "notification.consent", "settings", SettingConsent, "user", events.EventPayload{"consent": string(next)}); err != nil {
			return "", err
		}
	}
	return next, nil
}

// Prompter asks for consent once, after Delay, when no decision exists yet
// and the prompt was never dismissed.
type Prompter struct {
	Consent   StoreConsent
	Scheduler *Scheduler
	Delay     time.Duration
	Logger    *log.Logger
	After     func(time.Duration) <-chan time.Time
}

func (p Prompter) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run blocks until the prompt fires or ctx ends. It reports whether the
// prompt was shown.
func (p Prompter) Run(ctx context.Context) bool {
	after := p.After
	if after == nil {
		after = time.After
	}
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultPromptDelay
	}
	select {
	case <-ctx.Done():
		return false
	case <-after(delay):
	}
	if p.Scheduler != nil {
		// Only a waiting scheduler needs an answer.
		if st := p.Scheduler.State(); st == StateActive || st == StateDisabled {
			return false
		}
	}
	current, err := p.Consent.CurrentConsent(ctx)
	if err != nil {
		p.logf("notify: read consent failed: %v", err)
		return false
	}
	if current != ConsentUndetermined {
		return false
	}
	seen, err := p.Consent.PromptSeen(ctx)
	if err != nil {
		p.logf("notify: read prompt state failed: %v", err)
		return false
	}
	if seen {
		return false
	}
	p.logf("notify: deadline alerts need consent; run `solardesk consent grant` or `solardesk consent deny`")
	answer, err := p.Consent.RequestConsent(ctx)
	if err != nil {
		p.logf("notify: consent request failed: %v", err)
		return true
	}
	if answer != ConsentUndetermined && p.Scheduler != nil {
		p.Scheduler.ConsentChanged(answer)
	}
	return true
}
