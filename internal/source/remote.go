// Package source supplies task snapshots to the deadline scheduler from a
// remote SolarDesk server.
package source

import (
	"context"
	"log"
	"slices"
	"sync"

	"solardesk/internal/domain"
	solardesksdk "solardesk/sdk/go"
)

// Remote lists tasks through the HTTP API. While the server is unreachable
// it keeps serving the last good snapshot; the first successful fetch after
// an outage replaces the snapshot wholesale.
type Remote struct {
	Client *solardesksdk.Client
	Logger *log.Logger

	mu      sync.Mutex
	offline bool
	last    []domain.Task
	fetched bool
}

func NewRemote(client *solardesksdk.Client, logger *log.Logger) *Remote {
	return &Remote{Client: client, Logger: logger}
}

func (r *Remote) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Online reports whether the last fetch succeeded.
func (r *Remote) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.offline
}

func (r *Remote) ListTasks(ctx context.Context, key domain.SortKey) ([]domain.Task, error) {
	items, err := r.Client.Tasks(ctx, string(key))
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if !r.offline {
			r.offline = true
			r.logf("source: %s unreachable, serving last snapshot: %v", r.Client.BaseURL, err)
		}
		if !r.fetched {
			return nil, err
		}
		return slices.Clone(r.last), nil
	}
	if r.offline {
		r.offline = false
		r.logf("source: %s back online, refreshed %d tasks", r.Client.BaseURL, len(items))
	}
	tasks := make([]domain.Task, 0, len(items))
	for _, it := range items {
		tasks = append(tasks, fromSDK(it))
	}
	r.last = tasks
	r.fetched = true
	return slices.Clone(tasks), nil
}

func fromSDK(t solardesksdk.Task) domain.Task {
	return domain.Task{
		ID:           t.ID,
		CustomerID:   t.CustomerID,
		Title:        t.Title,
		Description:  t.Description,
		Deadline:     t.Deadline,
		Priority:     domain.Priority(t.Priority),
		CustomerName: t.CustomerName,
		IsOverdue:    t.IsOverdue,
		DaysOverdue:  t.DaysOverdue,
		Stage:        domain.Stage(t.Stage),
	}
}
