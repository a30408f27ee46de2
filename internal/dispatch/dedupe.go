package dispatch

import (
	"sync"
	"time"
)

const (
	dedupeWindow  = 5 * time.Minute
	dedupeMaxSize = 10000
)

// recentJobs remembers settled job ids for a while, so a redelivered message
// whose commit was lost is not pushed twice
type recentJobs struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func newRecentJobs(window time.Duration) *recentJobs {
	return &recentJobs{seen: make(map[string]time.Time), window: window, now: time.Now}
}

// Seen reports whether id settled within the window
func (r *recentJobs) Seen(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.seen[id]
	return ok && r.now().Sub(at) < r.window
}

// Settle records id as done
func (r *recentJobs) Settle(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.seen[id] = now

	// Cleanup old entries if map gets too big
	if len(r.seen) > dedupeMaxSize {
		for k, v := range r.seen {
			if now.Sub(v) > 2*r.window {
				delete(r.seen, k)
			}
		}
	}
}
