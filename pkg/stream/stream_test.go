package stream

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"teamdesk/pkg/models"
	"teamdesk/pkg/session"
	"teamdesk/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func testStream(key, name string) *Stream {
	return New(session.New(models.Identity{Key: key, Name: name}, ""), 0)
}

func TestSendRejectsEmpty(t *testing.T) {
	openTestStore(t)
	s := testStream("u1", "Ann")

	if _, err := s.Send("u1_u2", &models.Identity{Key: "u2"}, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestFirstSendCreatesDirectConversation(t *testing.T) {
	openTestStore(t)
	s := testStream("u1", "Ann")

	target := models.Identity{Key: "u2", Name: "Bob"}
	msg, err := s.Send("u1_u2", &target, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt == 0 {
		t.Fatalf("store did not assign id/timestamp: %+v", msg)
	}
	if msg.ConversationID != "u1_u2" || msg.SenderKey != "u1" || msg.SenderName != "Ann" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	c, err := store.GetConversation("u1_u2")
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if c.Type != models.ConversationDirect {
		t.Fatalf("expected direct, got %s", c.Type)
	}
	if !c.HasParticipant("u1") || !c.HasParticipant("u2") {
		t.Fatalf("participants wrong: %v", c.Participants)
	}
	if c.ParticipantData["u2"].Name != "Bob" {
		t.Fatalf("target identity not cached: %+v", c.ParticipantData)
	}
	if c.LastMessage == nil || c.LastMessage.Text != "hello" || c.LastMessage.SenderKey != "u1" {
		t.Fatalf("last message preview wrong: %+v", c.LastMessage)
	}

	msgs, _ := store.ListMessages("u1_u2", 0)
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Fatalf("stored message wrong: %+v", msgs)
	}
}

func TestSendToUnknownConversationWithoutTarget(t *testing.T) {
	openTestStore(t)
	s := testStream("u1", "Ann")

	if _, err := s.Send("u1_u2", nil, "hello"); err == nil {
		t.Fatalf("expected error when the conversation does not exist and no target is given")
	}
}

func TestSendUpdatesPreviewOnExistingConversation(t *testing.T) {
	openTestStore(t)
	s1 := testStream("u1", "Ann")
	s2 := testStream("u2", "Bob")

	target := models.Identity{Key: "u2", Name: "Bob"}
	if _, err := s1.Send("u1_u2", &target, "first"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// the peer replies without a target; the conversation already exists
	if _, err := s2.Send("u1_u2", nil, "second"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	c, _ := store.GetConversation("u1_u2")
	if c.LastMessage.Text != "second" || c.LastMessage.SenderKey != "u2" {
		t.Fatalf("preview not updated: %+v", c.LastMessage)
	}
	msgs, _ := store.ListMessages("u1_u2", 0)
	if len(msgs) != 2 || msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestSendAttachmentPreview(t *testing.T) {
	openTestStore(t)
	s := testStream("u1", "Ann")

	target := models.Identity{Key: "u2", Name: "Bob"}
	msg, err := s.SendAttachment("u1_u2", &target, "", "https://files/x.png", "image/png")
	if err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	if msg.FileURL != "https://files/x.png" || msg.FileType != "image/png" {
		t.Fatalf("file fields lost: %+v", msg)
	}
	c, _ := store.GetConversation("u1_u2")
	if c.LastMessage.Text != "[attachment]" {
		t.Fatalf("expected attachment preview, got %q", c.LastMessage.Text)
	}
}

func TestSubscribeWindowAndLiveDelivery(t *testing.T) {
	openTestStore(t)
	s := New(session.New(models.Identity{Key: "u1", Name: "Ann"}, ""), 3)

	target := models.Identity{Key: "u2", Name: "Bob"}
	for _, text := range []string{"a", "b", "c", "d"} {
		if _, err := s.Send("u1_u2", &target, text); err != nil {
			t.Fatalf("send %s: %v", text, err)
		}
	}

	f := s.Subscribe("u1_u2")
	defer f.Close()
	if f.ConversationID() != "u1_u2" {
		t.Fatalf("feed keyed wrong: %s", f.ConversationID())
	}

	snap := waitSnapshot(t, f)
	if snap.ConversationID != "u1_u2" {
		t.Fatalf("snapshot keyed wrong: %s", snap.ConversationID)
	}
	if len(snap.Messages) != 3 {
		t.Fatalf("expected window of 3, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Text != "b" || snap.Messages[2].Text != "d" {
		t.Fatalf("window not the newest slice: %+v", snap.Messages)
	}

	if _, err := s.Send("u1_u2", nil, "e"); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		snap = waitSnapshotOr(t, f, deadline)
		if snap.Messages[len(snap.Messages)-1].Text == "e" {
			break
		}
	}
	if len(snap.Messages) != 3 {
		t.Fatalf("window grew past bound: %d", len(snap.Messages))
	}
}

func waitSnapshot(t *testing.T, f *Feed) Snapshot {
	t.Helper()
	return waitSnapshotOr(t, f, time.After(2*time.Second))
}

func waitSnapshotOr(t *testing.T, f *Feed, deadline <-chan time.Time) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-f.C:
		if !ok {
			t.Fatalf("feed closed unexpectedly")
		}
		return snap
	case <-deadline:
		t.Fatalf("no snapshot before deadline")
		return Snapshot{}
	}
}
