package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"teamdesk/pkg/logger"
	"teamdesk/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string

	// seq reduces key collisions when multiple writes share the same
	// nanosecond timestamp; it also fixes insertion order for equal stamps.
	seq uint64

	// mergeMu serializes read-modify-write union updates so that
	// participants/read_by appends behave like atomic set unions. Blind
	// overwrites of those fields are the lost-update class this store
	// is required to eliminate.
	mergeMu sync.Mutex
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	closeAllWatchers()
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func convMetaKey(id string) []byte   { return []byte("conv:" + id + ":meta") }
func convMsgPrefix(id string) []byte { return []byte("conv:" + id + ":msg:") }
func notifKey(id string) []byte      { return []byte("notif:" + id) }
func accountKey(key string) []byte   { return []byte("account:" + key) }

// stamp returns a server timestamp (ns) plus a zero-padded sortable token
// that doubles as the store-assigned insertion-ordered id suffix.
func stamp() (int64, string) {
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	return ts, fmt.Sprintf("%020d-%06d", ts, s)
}

func get(key []byte, v interface{}) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	raw, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(raw, v)
}

func set(key []byte, v interface{}) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return db.Set(key, data, pebble.Sync)
}

// SaveConversation writes conversation metadata, stamping created_at on
// first write and bumping updated_at on every write.
func SaveConversation(c *models.Conversation) error {
	ts, _ := stamp()
	if c.CreatedAt == 0 {
		c.CreatedAt = ts
	}
	c.UpdatedAt = ts
	if err := set(convMetaKey(c.ID), c); err != nil {
		recordOp("save_conversation", err)
		logger.Error("save_conversation_failed", "conversation", c.ID, "error", err)
		return err
	}
	recordOp("save_conversation", nil)
	logger.Info("conversation_saved", "conversation", c.ID, "type", string(c.Type))
	notify(TopicConversations)
	return nil
}

// GetConversation returns the stored conversation document.
func GetConversation(id string) (models.Conversation, error) {
	var c models.Conversation
	err := get(convMetaKey(id), &c)
	recordOp("get_conversation", err)
	return c, err
}

// CreateConversationIfAbsent writes the conversation only when no document
// with its id exists yet, and returns the stored document either way.
// Under true simultaneity two writers may both observe "absent" and both
// write; last-writer-wins is acceptable because the created content is
// writer-invariant for a direct conversation.
func CreateConversationIfAbsent(c *models.Conversation) (models.Conversation, error) {
	mergeMu.Lock()
	defer mergeMu.Unlock()
	existing, err := GetConversation(c.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Conversation{}, err
	}
	if err := SaveConversation(c); err != nil {
		return models.Conversation{}, err
	}
	return *c, nil
}

// AddParticipant appends key to the conversation's participant set with
// union semantics: a no-op when already present, never an overwrite of
// concurrent appends. The display snapshot is refreshed alongside.
func AddParticipant(id, key string, ident models.Identity) error {
	mergeMu.Lock()
	defer mergeMu.Unlock()
	c, err := GetConversation(id)
	if err != nil {
		return err
	}
	if !c.HasParticipant(key) {
		c.Participants = append(c.Participants, key)
	}
	if c.ParticipantData == nil {
		c.ParticipantData = map[string]models.Identity{}
	}
	c.ParticipantData[key] = ident
	if err := SaveConversation(&c); err != nil {
		return err
	}
	logger.Info("participant_added", "conversation", id, "participant", key)
	return nil
}

// SetLastMessage merges the denormalized preview into the conversation and
// bumps updated_at, which drives the directory sort.
func SetLastMessage(id string, lm models.LastMessage) error {
	mergeMu.Lock()
	defer mergeMu.Unlock()
	c, err := GetConversation(id)
	if err != nil {
		return err
	}
	if lm.CreatedAt == 0 {
		lm.CreatedAt, _ = stamp()
	}
	c.LastMessage = &lm
	return SaveConversation(&c)
}

// UpdateGroupSettings merges name/avatar onto a group conversation as a
// single document write; empty values leave the current setting untouched.
func UpdateGroupSettings(id, name, avatar string) error {
	mergeMu.Lock()
	defer mergeMu.Unlock()
	c, err := GetConversation(id)
	if err != nil {
		return err
	}
	if c.Type != models.ConversationGroup {
		return fmt.Errorf("conversation %s is not a group", id)
	}
	if name != "" {
		c.Name = name
	}
	if avatar != "" {
		c.Avatar = avatar
	}
	return SaveConversation(&c)
}

// ListConversationsFor returns every conversation whose participant set
// includes key. Ordering is left to callers; the directory re-sorts by
// updated_at on each delivery.
func ListConversationsFor(key string) ([]models.Conversation, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.HasSuffix(iter.Key(), []byte(":meta")) {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			logger.Warn("list_conversations_bad_doc", "key", string(iter.Key()), "error", err)
			continue
		}
		if c.HasParticipant(key) {
			out = append(out, c)
		}
	}
	recordOp("list_conversations", iter.Error())
	return out, iter.Error()
}

// AppendMessage appends a message to a conversation. The store assigns the
// timestamp and an insertion-ordered id; messages are never mutated after
// this write.
func AppendMessage(convID string, m models.Message) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	ts, tok := stamp()
	m.ConversationID = convID
	m.CreatedAt = ts
	m.ID = tok
	key := append(convMsgPrefix(convID), tok...)
	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		recordOp("append_message", err)
		logger.Error("append_message_failed", "conversation", convID, "error", err)
		return models.Message{}, err
	}
	recordOp("append_message", nil)
	logger.Info("message_saved", "conversation", convID, "msg_id", m.ID)
	notify(TopicMessages(convID))
	return m, nil
}

// ListMessages returns messages for a conversation in insertion order,
// bounded to the most recent limit entries when limit > 0. Older messages
// stay store-resident; only the window is delivered to live views.
func ListMessages(convID string, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := convMsgPrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("list_messages_bad_doc", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	recordOp("list_messages", iter.Error())
	return out, iter.Error()
}

// TrimMessages deletes all but the most recent keep messages of a
// conversation in one batch. Administrative use only; live views never
// call this.
func TrimMessages(convID string, keep int) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := convMsgPrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var keys [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if len(keys) <= keep {
		return 0, iter.Error()
	}
	victims := keys[:len(keys)-keep]
	batch := db.NewBatch()
	for _, k := range victims {
		if err := batch.Delete(k, nil); err != nil {
			_ = batch.Close()
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		recordOp("trim_messages", err)
		return 0, err
	}
	recordOp("trim_messages", nil)
	logger.Info("messages_trimmed", "conversation", convID, "deleted", len(victims))
	notify(TopicMessages(convID))
	return len(victims), nil
}

// SaveNotification stores a notification, assigning its id and timestamp.
func SaveNotification(n *models.Notification) error {
	ts, tok := stamp()
	n.ID = tok
	n.CreatedAt = ts
	if err := set(notifKey(tok), n); err != nil {
		recordOp("save_notification", err)
		logger.Error("save_notification_failed", "recipient", n.Recipient, "error", err)
		return err
	}
	recordOp("save_notification", nil)
	logger.Info("notification_saved", "id", n.ID, "recipient", n.Recipient, "type", n.Type)
	notify(TopicNotifications)
	return nil
}

// ListNotificationsFor returns notifications addressed to key or broadcast,
// newest first.
func ListNotificationsFor(key string) ([]models.Notification, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("notif:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Notification
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var n models.Notification
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			logger.Warn("list_notifications_bad_doc", "key", string(iter.Key()), "error", err)
			continue
		}
		if n.Recipient == key || n.Recipient == models.Broadcast {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	recordOp("list_notifications", iter.Error())
	return out, iter.Error()
}

// MarkNotificationRead appends uid to the notification's read_by set with
// union semantics. Already-read is a successful no-op.
func MarkNotificationRead(id, uid string) error {
	mergeMu.Lock()
	defer mergeMu.Unlock()
	var n models.Notification
	if err := get(notifKey(id), &n); err != nil {
		recordOp("mark_read", err)
		return err
	}
	if n.ReadByContains(uid) {
		return nil
	}
	n.ReadBy = append(n.ReadBy, uid)
	if err := set(notifKey(id), &n); err != nil {
		recordOp("mark_read", err)
		return err
	}
	recordOp("mark_read", nil)
	logger.Debug("notification_read", "id", id, "uid", uid)
	notify(TopicNotifications)
	return nil
}

// DeleteNotifications removes the given notifications in a single atomic
// batch, so subscribers never observe a partial clear.
func DeleteNotifications(ids []string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if len(ids) == 0 {
		return nil
	}
	batch := db.NewBatch()
	for _, id := range ids {
		if err := batch.Delete(notifKey(id), nil); err != nil {
			_ = batch.Close()
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		recordOp("delete_notifications", err)
		logger.Error("delete_notifications_failed", "count", len(ids), "error", err)
		return err
	}
	recordOp("delete_notifications", nil)
	logger.Info("notifications_deleted", "count", len(ids))
	notify(TopicNotifications)
	return nil
}

// ListExpiredNotifications returns ids of notifications created before
// cutoff (ns). Used by the retention sweep.
func ListExpiredNotifications(cutoff int64) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("notif:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var n models.Notification
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			continue
		}
		if n.CreatedAt < cutoff {
			out = append(out, n.ID)
		}
	}
	return out, iter.Error()
}

// SaveAccount stores a dynamically registered account identity.
func SaveAccount(p models.Participant) error {
	if p.Key == "" {
		return fmt.Errorf("account key required")
	}
	if err := set(accountKey(p.Key), &p); err != nil {
		recordOp("save_account", err)
		return err
	}
	recordOp("save_account", nil)
	logger.Info("account_saved", "key", p.Key)
	notify(TopicAccounts)
	return nil
}

// ListAccounts returns all registered account identities.
func ListAccounts() ([]models.Participant, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("account:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Participant
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var p models.Participant
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, iter.Error()
}
