package notify

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NotifiedSet remembers which tasks already alerted. It is bounded by
// capacity (oldest entries evicted first) and, when ttl > 0, entries expire.
// A capacity or ttl <= 0 disables that bound.
type NotifiedSet struct {
	entries *expirable.LRU[string, time.Time]
}

// With ttl > 0 the underlying LRU runs a purge goroutine that cannot be
// stopped, so a set lives as long as the process. Keep one per scheduler.
func NewNotifiedSet(capacity int, ttl time.Duration) *NotifiedSet {
	if capacity < 0 {
		capacity = 0
	}
	return &NotifiedSet{entries: expirable.NewLRU[string, time.Time](capacity, nil, ttl)}
}

func (n *NotifiedSet) Contains(taskID string) bool {
	_, ok := n.entries.Peek(taskID)
	return ok
}

// Add records taskID as notified at ts.
func (n *NotifiedSet) Add(taskID string, ts time.Time) {
	n.entries.Add(taskID, ts)
}

func (n *NotifiedSet) Len() int {
	return n.entries.Len()
}
