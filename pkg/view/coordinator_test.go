package view

import (
	"path/filepath"
	"testing"
	"time"

	"teamdesk/pkg/config"
	"teamdesk/pkg/directory"
	"teamdesk/pkg/identity"
	"teamdesk/pkg/models"
	"teamdesk/pkg/notify"
	"teamdesk/pkg/session"
	"teamdesk/pkg/store"
	"teamdesk/pkg/stream"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func testCoordinator(t *testing.T, key string) *Coordinator {
	t.Helper()
	sess := session.New(models.Identity{Key: key, Name: key}, "")
	resolver := identity.NewResolver([]config.RosterEntry{
		{Key: "u1", Name: "Ann"},
		{Key: "u2", Name: "Bob"},
		{Key: "u3", Name: "Cam"},
	})
	c := New(sess,
		directory.New(sess, resolver, "grp_all", "All Agents"),
		stream.New(sess, 0),
		notify.New(sess),
		nil)
	t.Cleanup(c.Stop)
	return c
}

// waitState polls the coordinator until cond holds or the deadline passes.
func waitState(t *testing.T, c *Coordinator, what string, cond func(UIState) bool) UIState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := c.Snapshot()
		if cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; state=%+v", what, c.Snapshot())
	return UIState{}
}

func TestStartEnsuresGroupAndSubscribes(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	st := waitState(t, c, "group in directory", func(st UIState) bool {
		return len(st.Conversations) == 1
	})
	if st.Conversations[0].ID != "grp_all" {
		t.Fatalf("expected the well-known group, got %+v", st.Conversations[0])
	}
	if st.State != NoConversationSelected {
		t.Fatalf("expected no selection on start, got %s", st.State)
	}
}

func TestSelectTransitionsLoadingToReady(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()
	waitState(t, c, "directory", func(st UIState) bool { return len(st.Conversations) == 1 })

	group, _ := store.GetConversation("grp_all")
	c.SelectConversation(group)

	st := waitState(t, c, "ready", func(st UIState) bool { return st.State == ConversationReady })
	if st.ConversationID != "grp_all" {
		t.Fatalf("selected wrong conversation: %s", st.ConversationID)
	}
	if st.DisplayIdentity.Name != "All Agents" {
		t.Fatalf("group display identity wrong: %+v", st.DisplayIdentity)
	}
	if len(st.Messages) != 0 {
		t.Fatalf("expected empty message view, got %d", len(st.Messages))
	}
}

func TestSwitchDiscardsStaleStream(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	// seed two direct conversations with distinct content
	seed := stream.New(session.New(models.Identity{Key: "u1", Name: "Ann"}, ""), 0)
	if _, err := seed.Send("u1_u2", &models.Identity{Key: "u2", Name: "Bob"}, "for bob"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := seed.Send("u1_u3", &models.Identity{Key: "u3", Name: "Cam"}, "for cam"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	convB, _ := store.GetConversation("u1_u2")
	convC, _ := store.GetConversation("u1_u3")

	// select B, then immediately switch to C before B settles
	c.SelectConversation(convB)
	c.SelectConversation(convC)

	st := waitState(t, c, "ready on C", func(st UIState) bool {
		return st.State == ConversationReady && st.ConversationID == "u1_u3"
	})
	if len(st.Messages) != 1 || st.Messages[0].Text != "for cam" {
		t.Fatalf("message view shows stale content: %+v", st.Messages)
	}

	// late activity on B must not leak into the C view
	if _, err := seed.Send("u1_u2", nil, "late for bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	st = c.Snapshot()
	if st.ConversationID != "u1_u3" || len(st.Messages) != 1 {
		t.Fatalf("stale stream leaked: %+v", st.Messages)
	}
}

func TestStartDirectWritesNothing(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	c.StartDirect("u2", models.Identity{Key: "u2", Name: "Bob"})
	st := c.Snapshot()
	if st.ConversationID != "u1_u2" {
		t.Fatalf("expected canonical direct id, got %s", st.ConversationID)
	}
	if st.DisplayIdentity.Name != "Bob" {
		t.Fatalf("display identity wrong: %+v", st.DisplayIdentity)
	}
	if _, err := store.GetConversation("u1_u2"); err != store.ErrNotFound {
		t.Fatalf("opening the view created a document: %v", err)
	}
}

func TestSendClearsComposerOptimistically(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	c.StartDirect("u2", models.Identity{Key: "u2", Name: "Bob"})
	c.SetComposer("hello bob")
	if err := c.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}
	st := c.Snapshot()
	if st.Composer != "" {
		t.Fatalf("composer not cleared: %q", st.Composer)
	}
	if st.LastError != "" {
		t.Fatalf("unexpected error: %s", st.LastError)
	}

	waitState(t, c, "message visible", func(st UIState) bool {
		return len(st.Messages) == 1 && st.Messages[0].Text == "hello bob"
	})
}

func TestSendFailureSurfacesWithoutRestoringText(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	c.StartDirect("u2", models.Identity{Key: "u2", Name: "Bob"})
	c.SetComposer("   ")
	if err := c.Send(); err == nil {
		t.Fatalf("expected empty-message failure")
	}
	st := c.Snapshot()
	if st.Composer != "" {
		t.Fatalf("failed send must not restore the composer: %q", st.Composer)
	}
	if st.LastError == "" {
		t.Fatalf("failure not surfaced")
	}
}

func TestDeselectReleasesSelection(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	c.StartDirect("u2", models.Identity{Key: "u2", Name: "Bob"})
	c.Deselect()
	st := c.Snapshot()
	if st.State != NoConversationSelected || st.ConversationID != "" || len(st.Messages) != 0 {
		t.Fatalf("deselect left residue: %+v", st)
	}
}

func TestNotificationFlowThroughCoordinator(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	if _, err := notify.Publish("u1", "task assigned", "task-assigned"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := notify.Publish(models.Broadcast, "deploy done", ""); err != nil {
		t.Fatalf("publish: %v", err)
	}

	st := waitState(t, c, "feed", func(st UIState) bool { return len(st.Notifications) == 2 })
	if st.UnreadCount != 2 {
		t.Fatalf("expected 2 unread, got %d", st.UnreadCount)
	}

	if err := c.MarkNotificationRead(st.Notifications[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	waitState(t, c, "unread drop", func(st UIState) bool { return st.UnreadCount == 1 })

	if err := c.ClearNotifications(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	st = waitState(t, c, "cleared", func(st UIState) bool { return len(st.Notifications) == 1 })
	if st.Notifications[0].Recipient != models.Broadcast {
		t.Fatalf("broadcast did not survive the clear: %+v", st.Notifications)
	}
}

func TestScrollPinning(t *testing.T) {
	openTestStore(t)
	c := testCoordinator(t, "u1")
	c.Start()

	c.StartDirect("u2", models.Identity{Key: "u2", Name: "Bob"})
	c.SetComposer("one")
	if err := c.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}
	st := waitState(t, c, "first message", func(st UIState) bool { return len(st.Messages) == 1 })
	if !st.AutoScroll {
		t.Fatalf("expected auto-scroll while pinned")
	}

	c.SetScrollOffset(500)
	c.SetComposer("two")
	if err := c.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}
	st = waitState(t, c, "second message", func(st UIState) bool { return len(st.Messages) == 2 })
	if st.AutoScroll {
		t.Fatalf("auto-scroll must suspend while scrolled away")
	}

	c.SetScrollOffset(0)
	c.SetComposer("three")
	if err := c.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}
	st = waitState(t, c, "third message", func(st UIState) bool { return len(st.Messages) == 3 })
	if !st.AutoScroll {
		t.Fatalf("returning to the bottom must resume auto-scroll")
	}
}
