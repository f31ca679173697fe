package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"teamdesk/pkg/config"
	"teamdesk/pkg/identity"
	"teamdesk/pkg/store"
	"teamdesk/pkg/view"
)

func setupWS(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	resolver := identity.NewResolver([]config.RosterEntry{
		{Key: "u1", Name: "Ann"},
		{Key: "u2", Name: "Bob"},
	})
	srv := httptest.NewServer(NewRouter(Deps{
		Resolver:     resolver,
		GroupID:      "grp_all",
		GroupName:    "All Agents",
		StreamWindow: 100,
		MaxSendBytes: 1 << 20,
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readState reads frames until a state frame satisfying cond arrives.
func readState(t *testing.T, conn *websocket.Conn, what string, cond func(view.UIState) bool) view.UIState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", what, err)
		}
		var frame struct {
			Kind  string       `json:"kind"`
			State view.UIState `json:"state"`
		}
		if err := json.Unmarshal(data, &frame); err != nil || frame.Kind != "state" {
			continue
		}
		if cond(frame.State) {
			return frame.State
		}
	}
	t.Fatalf("timed out waiting for %s", what)
	return view.UIState{}
}

func TestWSRequiresIdentity(t *testing.T) {
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv := httptest.NewServer(NewRouter(Deps{
		Resolver: identity.NewResolver(nil), GroupID: "grp_all", GroupName: "All Agents",
	}))
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/v1/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without identity, got %d", res.StatusCode)
	}
}

func TestWSSessionFlow(t *testing.T) {
	conn := setupWS(t, "u1")

	// the session starts with the well-known group in the directory
	readState(t, conn, "initial directory", func(st view.UIState) bool {
		return len(st.Conversations) == 1 && st.Conversations[0].ID == "grp_all"
	})

	// start a direct conversation, type and send
	intents := []map[string]interface{}{
		{"op": "start_direct", "target_key": "u2"},
		{"op": "composer", "text": "hello bob"},
		{"op": "send"},
	}
	for _, in := range intents {
		if err := conn.WriteJSON(in); err != nil {
			t.Fatalf("write intent: %v", err)
		}
	}

	st := readState(t, conn, "message delivered", func(st view.UIState) bool {
		return st.ConversationID == "u1_u2" && len(st.Messages) == 1
	})
	if st.Messages[0].Text != "hello bob" || st.Messages[0].SenderName != "Ann" {
		t.Fatalf("unexpected message: %+v", st.Messages[0])
	}
	if st.State != view.ConversationReady {
		t.Fatalf("expected ready state, got %s", st.State)
	}
	if st.Composer != "" {
		t.Fatalf("composer not cleared: %q", st.Composer)
	}

	// deselect returns the pane to none
	if err := conn.WriteJSON(map[string]interface{}{"op": "deselect"}); err != nil {
		t.Fatalf("write intent: %v", err)
	}
	readState(t, conn, "deselected", func(st view.UIState) bool {
		return st.State == view.NoConversationSelected && st.ConversationID == ""
	})
}
