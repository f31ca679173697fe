package store

import "sync"

// The change hub is the store's subscription primitive: Watch returns a
// coalescing signal channel that fires after any commit touching the topic,
// plus a disposer. Subscribers re-query for a full snapshot on each signal;
// a single signal may collapse several commits, so deliveries are always
// authoritative snapshots, never incremental patches.

// Topics for the three logical feeds plus the account set.
const (
	TopicConversations = "conversations"
	TopicNotifications = "notifications"
	TopicAccounts      = "accounts"
)

// TopicMessages returns the per-conversation message topic.
func TopicMessages(convID string) string { return "messages:" + convID }

var (
	watchMu  sync.Mutex
	watchSeq int
	watchers = map[string]map[int]chan struct{}{}
)

// Watch registers interest in a topic. The returned channel receives a
// (possibly coalesced) signal after every relevant commit. The disposer
// must be called exactly once; calling it stops delivery and closes the
// channel.
func Watch(topic string) (<-chan struct{}, func()) {
	watchMu.Lock()
	defer watchMu.Unlock()
	watchSeq++
	id := watchSeq
	ch := make(chan struct{}, 1)
	if watchers[topic] == nil {
		watchers[topic] = map[int]chan struct{}{}
	}
	watchers[topic][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			watchMu.Lock()
			defer watchMu.Unlock()
			if subs, ok := watchers[topic]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
				if len(subs) == 0 {
					delete(watchers, topic)
				}
			}
		})
	}
	return ch, cancel
}

// notify signals all watchers of a topic without blocking: a pending
// undelivered signal already covers this commit.
func notify(topic string) {
	watchMu.Lock()
	defer watchMu.Unlock()
	for _, ch := range watchers[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// closeAllWatchers drops every registration; used on store close.
func closeAllWatchers() {
	watchMu.Lock()
	defer watchMu.Unlock()
	for topic, subs := range watchers {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(watchers, topic)
	}
}
