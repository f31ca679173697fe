// Package directory maintains the live set of conversations a user belongs
// to, sorted by recency, and exposes lookup/creation.
package directory

import (
	"sort"
	"strings"

	"teamdesk/pkg/identity"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/models"
	"teamdesk/pkg/session"
	"teamdesk/pkg/store"
)

// DirectID computes the canonical id for a two-party conversation: the
// sorted participant pair joined with "_". Symmetric by construction, so
// any client can derive it without a lookup.
func DirectID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, "_")
}

// Directory exposes the conversation list for one session.
type Directory struct {
	sess      *session.Session
	resolver  *identity.Resolver
	groupID   string
	groupName string
}

// New builds a directory bound to a session.
func New(sess *session.Session, resolver *identity.Resolver, groupID, groupName string) *Directory {
	return &Directory{sess: sess, resolver: resolver, groupID: groupID, groupName: groupName}
}

// Feed is a live conversation-list subscription. Every delivery on C is a
// full snapshot, re-sorted by updated_at descending. Close releases the
// underlying subscription; it must be called exactly once.
type Feed struct {
	C chan []models.Conversation

	done   chan struct{}
	cancel func()
}

// Close stops delivery and releases the store watch.
func (f *Feed) Close() {
	f.cancel()
	close(f.done)
}

// Subscribe issues the live "conversations containing me" subscription. The
// first snapshot is delivered immediately; subsequent snapshots follow every
// change to any matching document. Sorting happens client-side on each
// delta: correctness over query-side efficiency.
func (d *Directory) Subscribe() *Feed {
	ch, cancel := store.Watch(store.TopicConversations)
	f := &Feed{C: make(chan []models.Conversation, 1), done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(f.C)
		f.push(d.snapshot())
		for {
			select {
			case <-f.done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				f.push(d.snapshot())
			}
		}
	}()
	return f
}

// snapshot queries and sorts the current conversation list. On a store
// error the previous snapshot stays visible: transient failures must not
// destroy visible history.
func (d *Directory) snapshot() []models.Conversation {
	convs, err := store.ListConversationsFor(d.sess.Key)
	if err != nil {
		logger.Warn("directory_snapshot_failed", "participant", d.sess.Key, "error", err)
		return nil
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].UpdatedAt > convs[j].UpdatedAt })
	return convs
}

// push delivers latest-wins: a stale undelivered snapshot is replaced
// rather than queued behind.
func (f *Feed) push(snap []models.Conversation) {
	if snap == nil {
		return
	}
	for {
		select {
		case f.C <- snap:
			return
		default:
			select {
			case <-f.C:
			default:
			}
		}
	}
}

// EnsureWellKnownGroup lazily creates the well-known group conversation and
// joins the session's user to it. Idempotent: re-running never duplicates
// the document or the participant entry. Two near-simultaneous joiners may
// both append, which is safe because the append is a set union. Failure is
// logged, not fatal; the next mount retries.
func (d *Directory) EnsureWellKnownGroup() {
	c, err := store.GetConversation(d.groupID)
	if err == store.ErrNotFound {
		g := &models.Conversation{
			ID:           d.groupID,
			Type:         models.ConversationGroup,
			Name:         d.groupName,
			Participants: []string{d.sess.Key},
			ParticipantData: map[string]models.Identity{
				d.sess.Key: d.sess.Identity(),
			},
		}
		if _, err := store.CreateConversationIfAbsent(g); err != nil {
			logger.Warn("ensure_group_create_failed", "group", d.groupID, "error", err)
		}
		return
	}
	if err != nil {
		logger.Warn("ensure_group_load_failed", "group", d.groupID, "error", err)
		return
	}
	if !c.HasParticipant(d.sess.Key) {
		if err := store.AddParticipant(d.groupID, d.sess.Key, d.sess.Identity()); err != nil {
			logger.Warn("ensure_group_join_failed", "group", d.groupID, "error", err)
		}
	}
}

// ResolveOrCreate returns the conversation id for a direct conversation
// with targetKey. The id is computed, not looked up, and no document is
// written: opening a conversation view must not create a store-visible
// artifact until the first send.
func (d *Directory) ResolveOrCreate(targetKey string) string {
	return DirectID(d.sess.Key, targetKey)
}

// Select derives the id and display identity for an entry in the list: a
// group shows its own name/avatar, a direct conversation shows the other
// participant's resolved identity.
func (d *Directory) Select(c models.Conversation) (string, models.Identity) {
	if c.Type == models.ConversationGroup {
		return c.ID, models.Identity{Key: c.ID, Name: c.Name, Avatar: c.Avatar}
	}
	other := ""
	for _, p := range c.Participants {
		if p != d.sess.Key {
			other = p
			break
		}
	}
	return c.ID, d.resolver.Resolve(other)
}
