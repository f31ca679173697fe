// Package view owns UI-only state and translates user intents into calls on
// the directory, stream and notification components. It is the single
// reducer over the independent live-feed producers; none of the producers'
// business logic lives here.
package view

import (
	"sync"
	"time"

	"teamdesk/pkg/directory"
	"teamdesk/pkg/models"
	"teamdesk/pkg/notify"
	"teamdesk/pkg/session"
	"teamdesk/pkg/stream"
	"teamdesk/pkg/unread"
)

// State is the conversation-pane state machine.
type State string

const (
	NoConversationSelected State = "none"
	ConversationLoading    State = "loading"
	ConversationReady      State = "ready"
)

// scrollThreshold is the distance-from-bottom (px) within which the view
// still counts as pinned to the latest message.
const scrollThreshold = 48

// UIState is the immutable snapshot handed to the surrounding UI after
// every reduction.
type UIState struct {
	State           State                 `json:"state"`
	ConversationID  string                `json:"conversation_id,omitempty"`
	DisplayIdentity models.Identity       `json:"display_identity,omitempty"`
	Conversations   []models.Conversation `json:"conversations"`
	Messages        []models.Message      `json:"messages"`
	Notifications   []models.Notification `json:"notifications"`
	UnreadCount     int                   `json:"unread_count"`
	Composer        string                `json:"composer"`
	// AutoScroll is set on each message delivery while the user has not
	// scrolled away from the bottom.
	AutoScroll bool   `json:"auto_scroll"`
	LastError  string `json:"last_error,omitempty"`
}

// Coordinator wires one session's feeds into a single UIState.
type Coordinator struct {
	sess    *session.Session
	dir     *directory.Directory
	str     *stream.Stream
	ntf     *notify.Notifier
	tracker *unread.Tracker

	mu       sync.Mutex
	state    UIState
	dirFeed  *directory.Feed
	ntfFeed  *notify.Feed
	msgFeed  *stream.Feed
	pinned   bool
	onChange func(UIState)

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a coordinator. onChange receives a copy of the UIState after
// every reduction; it may be nil.
func New(sess *session.Session, dir *directory.Directory, str *stream.Stream, ntf *notify.Notifier, onChange func(UIState)) *Coordinator {
	return &Coordinator{
		sess:    sess,
		dir:     dir,
		str:     str,
		ntf:     ntf,
		tracker: unread.NewTracker(),
		state: UIState{
			State:         NoConversationSelected,
			Conversations: []models.Conversation{},
			Messages:      []models.Message{},
			Notifications: []models.Notification{},
		},
		pinned:   true,
		onChange: onChange,
	}
}

// Start ensures the well-known group exists, then opens the session-scoped
// subscriptions (directory + notifications). The message stream is opened
// per selection.
func (c *Coordinator) Start() {
	c.dir.EnsureWellKnownGroup()

	c.mu.Lock()
	c.dirFeed = c.dir.Subscribe()
	c.ntfFeed = c.ntf.Subscribe()
	dirC, ntfC := c.dirFeed.C, c.ntfFeed.C
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for snap := range dirC {
			c.applyConversations(snap)
		}
	}()
	go func() {
		defer c.wg.Done()
		for snap := range ntfC {
			c.applyNotifications(snap)
		}
	}()
}

// Stop releases every live subscription exactly once, including a message
// subscription still waiting for its first snapshot.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if c.msgFeed != nil {
			c.msgFeed.Close()
			c.msgFeed = nil
		}
		if c.dirFeed != nil {
			c.dirFeed.Close()
		}
		if c.ntfFeed != nil {
			c.ntfFeed.Close()
		}
		c.mu.Unlock()
		c.wg.Wait()
	})
}

// SelectConversation retargets the message stream. The prior subscription
// is released before the replacement is established, and late snapshots
// from it are discarded by conversation-id mismatch.
func (c *Coordinator) SelectConversation(conv models.Conversation) {
	id, ident := c.dir.Select(conv)

	c.mu.Lock()
	if c.msgFeed != nil {
		c.msgFeed.Close()
		c.msgFeed = nil
	}
	c.state.State = ConversationLoading
	c.state.ConversationID = id
	c.state.DisplayIdentity = ident
	c.state.Messages = []models.Message{}
	c.pinned = true
	feed := c.str.Subscribe(id)
	c.msgFeed = feed
	c.emitLocked()
	c.mu.Unlock()

	c.tracker.MarkViewed(id, time.Now().UTC().UnixNano())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for snap := range feed.C {
			c.applyMessages(snap)
		}
	}()
}

// StartDirect prepares a direct conversation with targetKey without writing
// anything to the store; the document appears on first send.
func (c *Coordinator) StartDirect(targetKey string, ident models.Identity) {
	id := c.dir.ResolveOrCreate(targetKey)
	c.SelectConversation(models.Conversation{
		ID:           id,
		Type:         models.ConversationDirect,
		Participants: []string{c.sess.Key, targetKey},
	})
	c.mu.Lock()
	c.state.DisplayIdentity = ident
	c.emitLocked()
	c.mu.Unlock()
}

// Deselect returns the pane to NoConversationSelected and releases the
// message subscription.
func (c *Coordinator) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgFeed != nil {
		c.msgFeed.Close()
		c.msgFeed = nil
	}
	c.state.State = NoConversationSelected
	c.state.ConversationID = ""
	c.state.DisplayIdentity = models.Identity{}
	c.state.Messages = []models.Message{}
	c.emitLocked()
}

// SetComposer mirrors the input field.
func (c *Coordinator) SetComposer(text string) {
	c.mu.Lock()
	c.state.Composer = text
	c.emitLocked()
	c.mu.Unlock()
}

// SetScrollOffset records the distance from the bottom of the message list;
// scrolling past the threshold suspends auto-scroll until the user returns.
func (c *Coordinator) SetScrollOffset(distanceFromBottom int) {
	c.mu.Lock()
	c.pinned = distanceFromBottom <= scrollThreshold
	c.mu.Unlock()
}

// Send submits the composer text to the selected conversation. The composer
// clears optimistically before the write resolves; on failure the error is
// surfaced and the text is not restored — resending is a manual action, so
// no duplicate sends can come from auto-retry.
func (c *Coordinator) Send() error {
	c.mu.Lock()
	if c.state.ConversationID == "" {
		c.mu.Unlock()
		return nil
	}
	id := c.state.ConversationID
	text := c.state.Composer
	target := c.state.DisplayIdentity
	c.state.Composer = ""
	c.state.LastError = ""
	c.emitLocked()
	c.mu.Unlock()

	_, err := c.str.Send(id, &target, text)
	if err != nil {
		c.mu.Lock()
		c.state.LastError = err.Error()
		c.emitLocked()
		c.mu.Unlock()
		return err
	}
	return nil
}

// MarkNotificationRead acknowledges one notification for this session.
func (c *Coordinator) MarkNotificationRead(id string) error {
	return c.ntf.MarkRead(id)
}

// ClearNotifications bulk-dismisses the session's addressed notifications
// from the current snapshot.
func (c *Coordinator) ClearNotifications() error {
	c.mu.Lock()
	snap := c.state.Notifications
	c.mu.Unlock()
	return c.ntf.ClearMine(snap)
}

// Snapshot returns a copy of the current UIState.
func (c *Coordinator) Snapshot() UIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) applyConversations(snap []models.Conversation) {
	c.mu.Lock()
	c.state.Conversations = snap
	c.emitLocked()
	c.mu.Unlock()
}

func (c *Coordinator) applyNotifications(snap []models.Notification) {
	c.mu.Lock()
	c.state.Notifications = snap
	c.state.UnreadCount = unread.Count(snap, c.sess.UID)
	c.emitLocked()
	c.mu.Unlock()
}

func (c *Coordinator) applyMessages(snap stream.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// a delta from a stream we already switched away from is stale
	if snap.ConversationID != c.state.ConversationID {
		return
	}
	c.state.Messages = snap.Messages
	if c.state.State == ConversationLoading {
		c.state.State = ConversationReady
	}
	c.state.AutoScroll = c.pinned
	c.tracker.MarkViewed(snap.ConversationID, time.Now().UTC().UnixNano())
	c.emitLocked()
}

// HasActivity reports the "activity since last open" indicator for a
// directory entry.
func (c *Coordinator) HasActivity(conv *models.Conversation) bool {
	return c.tracker.HasActivity(conv)
}

func (c *Coordinator) emitLocked() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}
