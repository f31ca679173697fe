package models

// ConversationType distinguishes two-party conversations from named groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Broadcast is the sentinel recipient meaning "every current participant".
const Broadcast = "All Agents"

// LastMessage is the denormalized preview stored on a conversation for list
// rendering. It is eventually consistent with the true last message in the
// stream: a failed append after a successful upsert leaves it briefly ahead,
// and the next successful send corrects it.
type LastMessage struct {
	Text       string `json:"text"`
	SenderKey  string `json:"sender_key"`
	SenderName string `json:"sender_name,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Conversation is the addressable container for a message stream. For a
// direct conversation the id is the sorted participant pair joined with "_",
// so any client can compute it without a lookup.
type Conversation struct {
	ID   string           `json:"id"`
	Type ConversationType `json:"type"`
	// Participants holds unique participant keys; exactly 2 for direct.
	// Entries are only ever added, never removed.
	Participants []string `json:"participants"`
	// ParticipantData caches display identity snapshots keyed by participant
	// key. It may go stale; the identity resolver is the source of truth.
	ParticipantData map[string]Identity `json:"participant_data,omitempty"`
	// Name and Avatar are present only for group conversations.
	Name        string       `json:"name,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	CreatedAt   int64        `json:"created_at,omitempty"`
	UpdatedAt   int64        `json:"updated_at,omitempty"`
}

// HasParticipant reports whether key is a member of the conversation.
func (c *Conversation) HasParticipant(key string) bool {
	for _, p := range c.Participants {
		if p == key {
			return true
		}
	}
	return false
}

// Message is an append-only document owned by exactly one conversation.
// Sender fields are a snapshot taken at send time and are not live-updated.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text,omitempty"`
	SenderKey      string `json:"sender_key"`
	SenderName     string `json:"sender_name,omitempty"`
	SenderAvatar   string `json:"sender_avatar,omitempty"`
	// CreatedAt is the server-assigned timestamp (ns); primary ascending
	// sort key, ties broken by store insertion order.
	CreatedAt int64  `json:"created_at"`
	FileURL   string `json:"file_url,omitempty"`
	FileType  string `json:"file_type,omitempty"`
}

// Notification is addressed to a specific participant key or to Broadcast.
type Notification struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	// Type is a free-form classification tag (task-assigned, task-completed...).
	Type      string `json:"type,omitempty"`
	CreatedAt int64  `json:"created_at"`
	// ReadBy grows monotonically; entries are added via union-merge and only
	// disappear when the notification itself is deleted.
	ReadBy []string `json:"read_by,omitempty"`
}

// ReadByContains reports whether uid has acknowledged the notification.
func (n *Notification) ReadByContains(uid string) bool {
	for _, r := range n.ReadBy {
		if r == uid {
			return true
		}
	}
	return false
}

// Identity is a resolved display identity.
type Identity struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Participant is a roster or registered-account identity record. Contact is
// the shared identifying attribute the static and dynamic sources merge on.
type Participant struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar,omitempty"`
	Role    string `json:"role,omitempty"`
	Contact string `json:"contact,omitempty"`
}
