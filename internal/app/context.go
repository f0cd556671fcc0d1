package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"solardesk/internal/config"
	"solardesk/internal/db"
	"solardesk/internal/engine"
	"solardesk/internal/migrate"
	"solardesk/internal/notify"
)

// Env is an opened, migrated workspace.
type Env struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Open opens the workspace database, applies migrations and loads
// solardesk.yml, falling back to defaults when the file is absent.
func Open(ctx context.Context, workspace string) (*Env, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Env{Workspace: workspace, DB: conn, Config: cfg, Engine: engine.New(conn, cfg)}, nil
}

func (e *Env) Close() error {
	return e.DB.Close()
}

// Notifications bundles the deadline scheduler with its consent flow.
type Notifications struct {
	Scheduler *notify.Scheduler
	Consent   notify.StoreConsent
	Prompter  notify.Prompter
	// NoPrompt keeps Start from asking for consent, for runs where the
	// scheduler's consent is supplied some other way.
	NoPrompt bool
}

// BuildSink assembles the configured alert sinks. Webhooks and Slack are
// delivery sinks; the event log and log line only record alerts that were
// delivered. It returns nil when alerts are disabled, which leaves the
// scheduler inert.
func BuildSink(cfg *config.Config, eng engine.Engine, logger *log.Logger) notify.AlertSink {
	n := cfg.Notifications
	if !n.IsEnabled() {
		return nil
	}
	sinks := notify.MultiSink{
		Record: []notify.AlertSink{notify.EventSink{Events: eng.Events}},
		Logger: logger,
	}
	if n.LogEnabled() {
		sinks.Record = append(sinks.Record, notify.LogSink{Logger: logger, Now: eng.Now})
	}
	for _, hook := range n.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		sinks.Delivery = append(sinks.Delivery, notify.WebhookSink{
			URL:     hook.URL,
			Secret:  hook.Secret,
			Timeout: time.Duration(hook.TimeoutSeconds) * time.Second,
		})
	}
	if url := strings.TrimSpace(n.Slack.WebhookURL); url != "" {
		sinks.Delivery = append(sinks.Delivery, notify.SlackSink{WebhookURL: url})
	}
	return sinks
}

// NewNotifications wires a scheduler over src. A nil src reads tasks from
// the local engine.
func NewNotifications(env *Env, src notify.TaskSource, logger *log.Logger) (*Notifications, error) {
	n := env.Config.Notifications
	def, err := notify.ParseConsent(n.Consent)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = env.Engine
	}
	consent := notify.StoreConsent{Store: env.Engine.Repo, Default: def, Events: &env.Engine.Events}
	sched := notify.New(notify.Config{
		Interval:         n.Interval,
		Lookahead:        n.Lookahead,
		Title:            n.Title,
		NotifiedCapacity: n.NotifiedCapacity,
		NotifiedTTL:      n.NotifiedTTL,
		ConsentCheck:     n.ConsentCheck,
	}, src, BuildSink(env.Config, env.Engine, logger), consent)
	sched.Logger = logger
	sched.Now = env.Engine.Now
	return &Notifications{
		Scheduler: sched,
		Consent:   consent,
		Prompter: notify.Prompter{
			Consent:   consent,
			Scheduler: sched,
			Delay:     n.PromptDelay,
			Logger:    logger,
		},
	}, nil
}

// Start runs the scheduler and the one-shot consent prompt until ctx ends.
// The returned channel closes when the scheduler loop has exited.
func (n *Notifications) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := n.Scheduler.Run(ctx); err != nil {
			log.Printf("notify: scheduler stopped: %v", err)
		}
	}()
	if !n.NoPrompt {
		go n.Prompter.Run(ctx)
	}
	return done
}

// Decide records a consent decision and hands it to the scheduler.
func (n *Notifications) Decide(ctx context.Context, d notify.Decision) (notify.Consent, error) {
	c, err := n.Consent.Record(ctx, d)
	if err != nil {
		return "", err
	}
	if c != notify.ConsentUndetermined {
		n.Scheduler.ConsentChanged(c)
	}
	return c, nil
}
