package source

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"solardesk/internal/domain"
	solardesksdk "solardesk/sdk/go"
)

func TestRemoteServesSnapshotWhileOffline(t *testing.T) {
	var down atomic.Bool
	var calls atomic.Int32
	deadline := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v0/tasks" || r.URL.Query().Get("sort") != "deadline" {
			http.NotFound(w, r)
			return
		}
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		n := int(calls.Load())
		items := []map[string]any{}
		for i := 0; i < n; i++ {
			items = append(items, map[string]any{"id": "t" + string(rune('0'+i)), "title": "Visit", "deadline": deadline, "priority": "high", "customer_name": "Priya Menon"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	}))
	defer srv.Close()

	r := NewRemote(solardesksdk.New(srv.URL), log.New(io.Discard, "", 0))
	ctx := context.Background()

	first, err := r.ListTasks(ctx, domain.SortByDeadline)
	if err != nil || len(first) != 1 || first[0].Priority != domain.PriorityHigh || !first[0].Deadline.Equal(deadline) {
		t.Fatalf("first fetch: %+v %v", first, err)
	}

	down.Store(true)
	stale, err := r.ListTasks(ctx, domain.SortByDeadline)
	if err != nil || len(stale) != 1 || r.Online() {
		t.Fatalf("expected stale snapshot while offline: %+v %v online=%v", stale, err, r.Online())
	}

	down.Store(false)
	fresh, err := r.ListTasks(ctx, domain.SortByDeadline)
	if err != nil || len(fresh) != 3 || !r.Online() {
		t.Fatalf("expected refreshed list after reconnect: %d %v", len(fresh), err)
	}
}

func TestRemoteFailsWithoutSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	r := NewRemote(solardesksdk.New(srv.URL), log.New(io.Discard, "", 0))
	_, err := r.ListTasks(context.Background(), domain.SortByDeadline)
	apiErr, ok := err.(*solardesksdk.APIError)
	if !ok || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected api error, got %v", err)
	}
}
