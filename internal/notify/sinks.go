package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"solardesk/internal/events"
)

const defaultWebhookTimeout = 5 * time.Second

// LogSink writes alerts to a logger. It never fails.
type LogSink struct {
	Logger *log.Logger
	Now    func() time.Time
}

func (s LogSink) Dispatch(_ context.Context, a Alert) error {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	line := fmt.Sprintf("alert [%s] %s: %s (due %s)", a.Tag, a.Title, a.Body, humanize.RelTime(a.Deadline, now, "ago", "from now"))
	if s.Logger != nil {
		s.Logger.Print(line)
		return nil
	}
	log.Print(line)
	return nil
}

// WebhookSink posts each alert as JSON to URL.
type WebhookSink struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

type webhookAlert struct {
	Event string `json:"event"`
	Alert
}

func (s WebhookSink) Dispatch(ctx context.Context, a Alert) error {
	data, err := json.Marshal(webhookAlert{Event: "alert.deadline", Alert: a})
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Solardesk-Event", "alert.deadline")
	req.Header.Set("X-Solardesk-Delivery", a.Tag)
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set("X-Solardesk-Secret", s.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", s.URL, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// SlackSink posts alerts to a Slack incoming webhook.
type SlackSink struct {
	WebhookURL string
	Client     *http.Client
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func buildSlackMessage(a Alert) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: a.Title}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("%s\n*Due:* %s", a.Body, a.Deadline.Format(time.RFC1123))}},
		{Type: "context", Text: &slackText{Type: "mrkdwn", Text: "task " + a.Tag}},
	}}
}

func (s SlackSink) Dispatch(ctx context.Context, a Alert) error {
	body, err := json.Marshal(buildSlackMessage(a))
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EventSink records each alert in the event log.
type EventSink struct {
	Events events.Writer
}

func (s EventSink) Dispatch(ctx context.Context, a Alert) error {
	return s.Events.Append(ctx, nil, "alert.dispatched", "task", a.TaskID, "scheduler", events.EventPayload{
		"title":         a.Title,
		"body":          a.Body,
		"customer_name": a.CustomerName,
		"deadline":      a.Deadline.UTC().Format(time.RFC3339),
	})
}

// MultiSink fans an alert out to its delivery sinks and then writes it to
// the record sinks. Dispatch fails when any delivery sink fails, so the task
// stays un-notified and is retried next cycle. Record sinks (event log, log
// line) run only after delivery succeeded and their errors are logged, not
// returned. With no delivery sinks configured the record sinks are the
// delivery surface.
type MultiSink struct {
	Delivery []AlertSink
	Record   []AlertSink
	Logger   *log.Logger
}

func (m MultiSink) Dispatch(ctx context.Context, a Alert) error {
	delivery, record := m.Delivery, m.Record
	if len(delivery) == 0 {
		delivery, record = record, nil
	}
	if len(delivery) == 0 {
		return errors.New("no alert sinks")
	}
	var errs []error
	for _, sink := range delivery {
		if err := sink.Dispatch(ctx, a); err != nil {
			m.logf("notify: %T failed for %s: %v", sink, a.TaskID, err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, sink := range record {
		if err := sink.Dispatch(ctx, a); err != nil {
			m.logf("notify: %T failed for %s: %v", sink, a.TaskID, err)
		}
	}
	return nil
}

func (m MultiSink) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
