// alerts.go - Operational alert throttling: an identical message is sent
// at most once per six hours, and one cycle carries at most three.
package pipeline

import (
	"sync"
	"time"
)

const (
	alertDedupWindow  = 6 * time.Hour
	alertsPerCycleCap = 3
)

type alertDedup struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

func newAlertDedup() *alertDedup {
	return &alertDedup{lastSent: make(map[string]time.Time)}
}

// Filter drops recently-sent duplicates, caps the batch, and records the
// survivors as sent.
func (a *alertDedup) Filter(now time.Time, messages []string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []string
	for _, msg := range messages {
		if len(out) >= alertsPerCycleCap {
			break
		}
		if sent, ok := a.lastSent[msg]; ok && now.Sub(sent) < alertDedupWindow {
			continue
		}
		a.lastSent[msg] = now
		out = append(out, msg)
	}

	// Drop stale entries so the map does not grow without bound.
	for msg, sent := range a.lastSent {
		if now.Sub(sent) > alertDedupWindow {
			delete(a.lastSent, msg)
		}
	}
	return out
}
