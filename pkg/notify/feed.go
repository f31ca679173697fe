// Package notify maintains the live notification feed with per-user read
// tracking and bulk dismissal.
package notify

import (
	"teamdesk/pkg/logger"
	"teamdesk/pkg/models"
	"teamdesk/pkg/session"
	"teamdesk/pkg/store"
)

// Notifier exposes the notification feed for one session.
type Notifier struct {
	sess *session.Session
}

// New builds a notifier bound to a session.
func New(sess *session.Session) *Notifier {
	return &Notifier{sess: sess}
}

// Feed is a live notification subscription: newest first, filtered to the
// session's key or the broadcast sentinel. Each delivery is a full snapshot.
type Feed struct {
	C chan []models.Notification

	done   chan struct{}
	cancel func()
}

// Close stops delivery and releases the store watch.
func (f *Feed) Close() {
	f.cancel()
	close(f.done)
}

// Subscribe opens the live feed.
func (n *Notifier) Subscribe() *Feed {
	ch, cancel := store.Watch(store.TopicNotifications)
	f := &Feed{C: make(chan []models.Notification, 1), done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.C)
		f.push(n.snapshot())
		for {
			select {
			case <-f.done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				f.push(n.snapshot())
			}
		}
	}()
	return f
}

func (n *Notifier) snapshot() []models.Notification {
	list, err := store.ListNotificationsFor(n.sess.Key)
	if err != nil {
		logger.Warn("notify_snapshot_failed", "recipient", n.sess.Key, "error", err)
		return nil
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list
}

func (f *Feed) push(snap []models.Notification) {
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

// MarkRead records the session's uid in the notification's read set via the
// store's union-merge; already-read is a no-op. The transition is one-way.
func (n *Notifier) MarkRead(notificationID string) error {
	return store.MarkNotificationRead(notificationID, n.sess.UID)
}

// ClearMine deletes, in one atomic batch, every notification in the given
// snapshot addressed specifically to the session's key. Broadcast
// notifications are never dismissible by a single recipient and are
// skipped. The feed transitions directly from the full set to the cleared
// set, never through a partial state.
func (n *Notifier) ClearMine(snapshot []models.Notification) error {
	var ids []string
	for _, item := range snapshot {
		if item.Recipient == n.sess.Key {
			ids = append(ids, item.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := store.DeleteNotifications(ids); err != nil {
		logger.Error("clear_notifications_failed", "recipient", n.sess.Key, "error", err)
		return err
	}
	return nil
}

// Publish stores a new notification. Producers are external collaborators
// (task assignment, task completion...); this is the entry point they use.
func Publish(recipient, message, typ string) (models.Notification, error) {
	n := models.Notification{Recipient: recipient, Message: message, Type: typ}
	if err := store.SaveNotification(&n); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}
