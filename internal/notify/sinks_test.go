package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func sampleAlert() Alert {
	return Alert{
		Title:        DefaultTitle,
		Body:         `"Site survey" is due soon for Priya Menon`,
		Tag:          "task-1",
		TaskID:       "task-1",
		CustomerName: "Priya Menon",
		Deadline:     time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSinkPostsAlert(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		got     map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := WebhookSink{URL: srv.URL, Secret: "s3cret"}
	if err := sink.Dispatch(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if headers.Get("X-Solardesk-Event") != "alert.deadline" || headers.Get("X-Solardesk-Delivery") != "task-1" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers.Get("X-Solardesk-Secret") != "s3cret" {
		t.Fatalf("missing secret header")
	}
	if got["tag"] != "task-1" || got["event"] != "alert.deadline" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestWebhookSinkNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := WebhookSink{URL: srv.URL}.Dispatch(context.Background(), sampleAlert())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSlackSinkMessage(t *testing.T) {
	var msg slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if err := (SlackSink{WebhookURL: srv.URL}).Dispatch(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(msg.Blocks) != 3 || msg.Blocks[0].Text.Text != DefaultTitle {
		t.Fatalf("unexpected slack message %+v", msg)
	}
	if !strings.Contains(msg.Blocks[1].Text.Text, "Priya Menon") {
		t.Fatalf("body missing customer: %q", msg.Blocks[1].Text.Text)
	}
}

type errSink struct{ err error }

func (e errSink) Dispatch(context.Context, Alert) error { return e.err }

func TestMultiSinkDeliveryFailureFails(t *testing.T) {
	var buf strings.Builder
	ok := newFakeSink()
	record := newFakeSink()
	m := MultiSink{
		Delivery: []AlertSink{errSink{errors.New("hook down")}, ok},
		Record:   []AlertSink{record},
		Logger:   newLogger(&buf),
	}
	err := m.Dispatch(context.Background(), sampleAlert())
	if err == nil || !strings.Contains(err.Error(), "hook down") {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if ok.count() != 1 {
		t.Fatalf("healthy delivery sink not called")
	}
	if record.count() != 0 {
		t.Fatalf("undelivered alert must not be recorded")
	}
	if !strings.Contains(buf.String(), "failed for task-1: hook down") {
		t.Fatalf("sink failure not logged: %q", buf.String())
	}
}

func TestMultiSinkRecordsAfterDelivery(t *testing.T) {
	var buf strings.Builder
	ok := newFakeSink()
	record := newFakeSink()
	m := MultiSink{
		Delivery: []AlertSink{ok},
		Record:   []AlertSink{errSink{errors.New("disk full")}, record},
		Logger:   newLogger(&buf),
	}
	if err := m.Dispatch(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("record failure must not fail delivery: %v", err)
	}
	if ok.count() != 1 || record.count() != 1 {
		t.Fatalf("expected delivery and record, got %d %d", ok.count(), record.count())
	}
	if !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("record failure not logged: %q", buf.String())
	}
}

func TestMultiSinkRecordOnly(t *testing.T) {
	quietLog := newLogger(io.Discard)
	if err := (MultiSink{Record: []AlertSink{errSink{errors.New("a down")}, errSink{errors.New("b down")}}, Logger: quietLog}).Dispatch(context.Background(), sampleAlert()); err == nil ||
		!strings.Contains(err.Error(), "a down") || !strings.Contains(err.Error(), "b down") {
		t.Fatalf("record sinks without delivery sinks must surface errors, got %v", err)
	}
	record := newFakeSink()
	if err := (MultiSink{Record: []AlertSink{record}}).Dispatch(context.Background(), sampleAlert()); err != nil || record.count() != 1 {
		t.Fatalf("record-only dispatch: %v", err)
	}
	if err := (MultiSink{}).Dispatch(context.Background(), sampleAlert()); err == nil {
		t.Fatalf("empty multi sink must fail")
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	var buf strings.Builder
	sink := LogSink{Logger: newLogger(&buf), Now: func() time.Time { return sampleAlert().Deadline.Add(-2 * time.Hour) }}
	if err := sink.Dispatch(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(buf.String(), "[task-1]") || !strings.Contains(buf.String(), "from now") {
		t.Fatalf("unexpected log line %q", buf.String())
	}
}

func TestNotifiedSetBounded(t *testing.T) {
	set := NewNotifiedSet(2, 0)
	now := time.Now()
	set.Add("a", now)
	set.Add("b", now)
	set.Add("c", now)
	if set.Len() != 2 || set.Contains("a") || !set.Contains("c") {
		t.Fatalf("expected oldest entry evicted, len=%d", set.Len())
	}
}
