// Package stream maintains the live, time-ordered message view for one
// open conversation and owns the send path.
package stream

import (
	"errors"
	"fmt"
	"strings"

	"teamdesk/pkg/logger"
	"teamdesk/pkg/models"
	"teamdesk/pkg/session"
	"teamdesk/pkg/store"
)

// DefaultWindow bounds the live view to the most recent N messages. Older
// messages remain store-resident but are not subscribed.
const DefaultWindow = 100

// ErrEmptyMessage rejects sends with neither text nor attachment.
var ErrEmptyMessage = errors.New("message requires text or attachment")

// Stream issues message subscriptions and sends for one session.
type Stream struct {
	sess   *session.Session
	window int
}

// New builds a stream bound to a session. window <= 0 selects DefaultWindow.
func New(sess *session.Session, window int) *Stream {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stream{sess: sess, window: window}
}

// Snapshot is one full delivery of a conversation's bounded message window.
// ConversationID lets consumers discard deltas from a stream they have
// already switched away from.
type Snapshot struct {
	ConversationID string
	Messages       []models.Message
}

// Feed is a live message subscription for a single conversation.
type Feed struct {
	C chan Snapshot

	conversationID string
	done           chan struct{}
	cancel         func()
}

// ConversationID returns the id this feed is keyed on.
func (f *Feed) ConversationID() string { return f.conversationID }

// Close stops delivery and releases the store watch. Must be called exactly
// once, before establishing a replacement subscription.
func (f *Feed) Close() {
	f.cancel()
	close(f.done)
}

// Subscribe opens the live ascending message view for conversationID,
// bounded to the most recent window. Callers keep at most one message feed
// alive; switching conversations must Close the prior feed first.
func (s *Stream) Subscribe(conversationID string) *Feed {
	ch, cancel := store.Watch(store.TopicMessages(conversationID))
	f := &Feed{
		C:              make(chan Snapshot, 1),
		conversationID: conversationID,
		done:           make(chan struct{}),
		cancel:         cancel,
	}
	go func() {
		defer close(f.C)
		f.push(s.snapshot(conversationID))
		for {
			select {
			case <-f.done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				f.push(s.snapshot(conversationID))
			}
		}
	}()
	return f
}

func (s *Stream) snapshot(conversationID string) *Snapshot {
	msgs, err := store.ListMessages(conversationID, s.window)
	if err != nil {
		logger.Warn("stream_snapshot_failed", "conversation", conversationID, "error", err)
		return nil
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return &Snapshot{ConversationID: conversationID, Messages: msgs}
}

func (f *Feed) push(snap *Snapshot) {
	if snap == nil {
		return
	}
	for {
		select {
		case f.C <- *snap:
			return
		default:
			select {
			case <-f.C:
			default:
			}
		}
	}
}

// Send performs the two-phase write: upsert the conversation summary, then
// append the message. Phase one runs first so the conversation exists by
// the time its first message becomes visible in the directory. If phase two
// fails after phase one succeeded, last_message points at a message that is
// not (yet) stored; the next successful send corrects it. There is no
// automatic retry — resending is a user action.
func (s *Stream) Send(conversationID string, target *models.Identity, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	return s.send(conversationID, target, models.Message{
		Text:         text,
		SenderKey:    s.sess.Key,
		SenderName:   s.sess.Name,
		SenderAvatar: s.sess.Avatar,
	})
}

// SendAttachment sends a message carrying a file reference, with optional
// caption text.
func (s *Stream) SendAttachment(conversationID string, target *models.Identity, text, fileURL, fileType string) (models.Message, error) {
	return s.send(conversationID, target, models.Message{
		Text:         strings.TrimSpace(text),
		SenderKey:    s.sess.Key,
		SenderName:   s.sess.Name,
		SenderAvatar: s.sess.Avatar,
		FileURL:      fileURL,
		FileType:     fileType,
	})
}

func (s *Stream) send(conversationID string, target *models.Identity, m models.Message) (models.Message, error) {
	if m.Text == "" && m.FileURL == "" {
		return models.Message{}, ErrEmptyMessage
	}

	preview := m.Text
	if preview == "" {
		preview = "[attachment]"
	}

	// phase one: conversation upsert
	if _, err := store.GetConversation(conversationID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return models.Message{}, fmt.Errorf("load conversation: %w", err)
		}
		if target == nil {
			return models.Message{}, fmt.Errorf("conversation %s does not exist and no target identity was provided", conversationID)
		}
		c := &models.Conversation{
			ID:           conversationID,
			Type:         models.ConversationDirect,
			Participants: []string{s.sess.Key, target.Key},
			ParticipantData: map[string]models.Identity{
				s.sess.Key: s.sess.Identity(),
				target.Key: *target,
			},
		}
		if _, err := store.CreateConversationIfAbsent(c); err != nil {
			return models.Message{}, fmt.Errorf("create conversation: %w", err)
		}
	}
	lm := models.LastMessage{Text: preview, SenderKey: s.sess.Key, SenderName: s.sess.Name}
	if err := store.SetLastMessage(conversationID, lm); err != nil {
		return models.Message{}, fmt.Errorf("update conversation summary: %w", err)
	}

	// phase two: append
	stored, err := store.AppendMessage(conversationID, m)
	if err != nil {
		// accepted self-healing drift: summary updated, message missing
		logger.Error("send_append_failed", "conversation", conversationID, "error", err)
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return stored, nil
}
