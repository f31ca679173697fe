package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teamdesk/pkg/directory"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/notify"
	"teamdesk/pkg/session"
	"teamdesk/pkg/store"
	"teamdesk/pkg/stream"
	"teamdesk/pkg/utils"
	"teamdesk/pkg/view"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// origin policy is enforced by the auth gateway before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket and coordinates outbound writes via a buffered
// channel. Safe for concurrent senders; slow clients are disconnected to
// keep backpressure bounded.
type wsConn struct {
	id    string
	ws    *websocket.Conn
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: utils.GenID(), ws: ws, send: make(chan []byte, 128), close: make(chan struct{})}
}

func (c *wsConn) Send(payload []byte) {
	select {
	case <-c.close:
	case c.send <- payload:
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
	}
}

func (c *wsConn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// intent is one inbound client frame.
type intent struct {
	Op             string `json:"op"`
	ConversationID string `json:"conversation_id,omitempty"`
	TargetKey      string `json:"target_key,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	Text           string `json:"text,omitempty"`
	Distance       int    `json:"distance,omitempty"`
	Name           string `json:"name,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
}

type stateFrame struct {
	Kind  string       `json:"kind"`
	State view.UIState `json:"state"`
}

type errorFrame struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// wsHandler upgrades the connection and runs one coordinator for the
// session's lifetime. Every reducer emission is pushed as a full-state
// frame; teardown releases all subscriptions, including a message stream
// still waiting for its first snapshot.
func wsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if uid == "" {
			uid = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if uid == "" {
			utils.JSONError(w, http.StatusBadRequest, "user identity required")
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn := newWSConn(ws)
		go conn.writeLoop()

		d.Resolver.Refresh()
		sess := session.New(d.Resolver.Resolve(uid), uid)

		dir := directory.New(sess, d.Resolver, d.GroupID, d.GroupName)
		str := stream.New(sess, d.StreamWindow)
		ntf := notify.New(sess)

		coord := view.New(sess, dir, str, ntf, func(st view.UIState) {
			b, err := json.Marshal(stateFrame{Kind: "state", State: st})
			if err != nil {
				return
			}
			conn.Send(b)
		})
		coord.Start()
		logger.Info("ws_session_started", "conn", conn.id, "user", sess.Key, "remote", r.RemoteAddr)

		defer func() {
			coord.Stop()
			conn.Close(websocket.CloseNormalClosure, "session ended")
			logger.Info("ws_session_ended", "conn", conn.id, "user", sess.Key)
		}()

		if d.MaxSendBytes > 0 {
			ws.SetReadLimit(d.MaxSendBytes)
		}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var in intent
			if err := json.Unmarshal(data, &in); err != nil {
				continue
			}
			if err := dispatchIntent(coord, d, &in); err != nil {
				b, _ := json.Marshal(errorFrame{Kind: "error", Error: err.Error()})
				conn.Send(b)
			}
		}
	}
}

func dispatchIntent(coord *view.Coordinator, d Deps, in *intent) error {
	switch in.Op {
	case "select":
		c, err := store.GetConversation(in.ConversationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errors.New("conversation not found")
			}
			return err
		}
		coord.SelectConversation(c)
	case "start_direct":
		coord.StartDirect(in.TargetKey, d.Resolver.Resolve(in.TargetKey))
	case "deselect":
		coord.Deselect()
	case "composer":
		coord.SetComposer(in.Text)
	case "send":
		return coord.Send()
	case "scroll":
		coord.SetScrollOffset(in.Distance)
	case "mark_read":
		return coord.MarkNotificationRead(in.NotificationID)
	case "clear_notifications":
		return coord.ClearNotifications()
	case "group_settings":
		return store.UpdateGroupSettings(d.GroupID, in.Name, in.Avatar)
	default:
		logger.Debug("ws_unknown_intent", "op", in.Op)
	}
	return nil
}
