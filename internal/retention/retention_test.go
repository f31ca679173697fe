package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"teamdesk/pkg/config"
	"teamdesk/pkg/models"
	"teamdesk/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func TestStartDisabled(t *testing.T) {
	cancel, err := Start(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("disabled retention must not fail: %v", err)
	}
	cancel()
}

func TestStartRejectsInvalidCron(t *testing.T) {
	cfg := config.Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.Cron = "not a cron"
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestRunOncePurgesExpiredNotifications(t *testing.T) {
	openTestStore(t)

	old := &models.Notification{Recipient: "u1", Message: "old"}
	if err := store.SaveNotification(old); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	cfg := config.Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.Period = config.Duration(time.Millisecond)

	if err := RunOnce(cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	list, _ := store.ListNotificationsFor("u1")
	if len(list) != 0 {
		t.Fatalf("expired notification survived: %+v", list)
	}
}

func TestRunOnceDryRunKeepsEverything(t *testing.T) {
	openTestStore(t)

	if err := store.SaveNotification(&models.Notification{Recipient: "u1", Message: "old"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	cfg := config.Config{}
	cfg.Retention.Enabled = true
	cfg.Retention.Period = config.Duration(time.Millisecond)
	cfg.Retention.DryRun = true

	if err := RunOnce(cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	list, _ := store.ListNotificationsFor("u1")
	if len(list) != 1 {
		t.Fatalf("dry run deleted data: %+v", list)
	}
}

func TestRunOnceTrimsGroupBacklog(t *testing.T) {
	openTestStore(t)

	for i := 0; i < 10; i++ {
		if _, err := store.AppendMessage("grp_all", models.Message{Text: "m", SenderKey: "u1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cfg := config.Config{}
	cfg.Chat.GroupID = "grp_all"
	cfg.Retention.Enabled = true
	cfg.Retention.GroupBacklog = 4

	if err := RunOnce(cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	msgs, _ := store.ListMessages("grp_all", 0)
	if len(msgs) != 4 {
		t.Fatalf("expected backlog of 4, got %d", len(msgs))
	}
}
