// Package unread derives badge state from already-subscribed snapshots.
// It performs no store access by design.
package unread

import (
	"sync"

	"teamdesk/pkg/models"
)

// Count returns the number of notifications whose read set does not contain
// uid. Recomputed after every feed delta; exact by construction.
func Count(list []models.Notification, uid string) int {
	n := 0
	for i := range list {
		if !list[i].ReadByContains(uid) {
			n++
		}
	}
	return n
}

// Tracker remembers when each conversation was last viewed, in memory only.
// Persistence is out of scope; a fresh process starts with no view history.
type Tracker struct {
	mu         sync.Mutex
	lastViewed map[string]int64
}

// NewTracker builds an empty view tracker.
func NewTracker() *Tracker {
	return &Tracker{lastViewed: map[string]int64{}}
}

// MarkViewed records that the conversation was open as of ts (ns).
func (t *Tracker) MarkViewed(conversationID string, ts int64) {
	t.mu.Lock()
	t.lastViewed[conversationID] = ts
	t.mu.Unlock()
}

// HasActivity reports whether the conversation's last message postdates the
// local last-viewed mark. A conversation never viewed counts as active as
// soon as it has any message.
func (t *Tracker) HasActivity(c *models.Conversation) bool {
	if c.LastMessage == nil {
		return false
	}
	t.mu.Lock()
	seen := t.lastViewed[c.ID]
	t.mu.Unlock()
	return c.LastMessage.CreatedAt > seen
}
