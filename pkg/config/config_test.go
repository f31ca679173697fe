package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSizeBytesUnmarshal(t *testing.T) {
	var c ChatConfig
	require.NoError(t, yaml.Unmarshal([]byte("max_send_bytes: 2MB"), &c))
	require.Equal(t, int64(2_000_000), c.MaxSendBytes.Int64())

	require.NoError(t, yaml.Unmarshal([]byte("max_send_bytes: 4096"), &c))
	require.Equal(t, int64(4096), c.MaxSendBytes.Int64())

	require.Error(t, yaml.Unmarshal([]byte("max_send_bytes: nonsense"), &c))
}

func TestDurationUnmarshal(t *testing.T) {
	var r RetentionConfig
	require.NoError(t, yaml.Unmarshal([]byte("period: 720h"), &r))
	require.Equal(t, 720*time.Hour, r.Period.Std())

	require.NoError(t, yaml.Unmarshal([]byte("period: 90"), &r))
	require.Equal(t, 90*time.Second, r.Period.Std())
}

func TestAddrDefaults(t *testing.T) {
	c := &Config{}
	require.Equal(t, "0.0.0.0:8080", c.Addr())
	c.Server.Address = "127.0.0.1"
	c.Server.Port = 9090
	require.Equal(t, "127.0.0.1:9090", c.Addr())
}

func TestLoadFullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: "127.0.0.1"
  port: 8088
  db_path: "/tmp/teamdesk"
logging:
  level: debug
chat:
  stream_window: 50
  group_id: grp_all
  group_name: "All Agents"
  max_send_bytes: 1MB
roster:
  - key: u1
    name: Ann
    contact: ann@example.com
retention:
  enabled: true
  cron: "0 3 * * *"
  period: 168h
  group_backlog: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8088", cfg.Addr())
	require.Equal(t, "/tmp/teamdesk", cfg.Server.DBPath)
	require.Equal(t, 50, cfg.Chat.StreamWindow)
	require.Equal(t, int64(1_000_000), cfg.Chat.MaxSendBytes.Int64())
	require.Len(t, cfg.Roster, 1)
	require.Equal(t, "ann@example.com", cfg.Roster[0].Contact)
	require.True(t, cfg.Retention.Enabled)
	require.Equal(t, 168*time.Hour, cfg.Retention.Period.Std())
	require.Equal(t, 1000, cfg.Retention.GroupBacklog)
}

func TestLoadMissingPathYieldsZeroConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadEffectivePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n  db_path: /from/file\n"), 0o600))

	// file only
	eff, err := LoadEffective("", "./data", path, map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8088", eff.Addr)
	require.Equal(t, "/from/file", eff.DBPath)

	// env wins over file
	t.Setenv("TEAMDESK_ADDR", "127.0.0.1:7000")
	eff, err = LoadEffective("", "./data", path, map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", eff.Addr)
	require.Equal(t, "env", eff.Source)

	// flags win over env
	eff, err = LoadEffective("127.0.0.1:7500", "/from/flag", path, map[string]bool{"addr": true, "db": true})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7500", eff.Addr)
	require.Equal(t, "/from/flag", eff.DBPath)
	require.Equal(t, "flags", eff.Source)
}

func TestLoadEffectiveAppliesDefaults(t *testing.T) {
	eff, err := LoadEffective("", "./data", "", map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, 100, eff.Config.Chat.StreamWindow)
	require.Equal(t, "grp_all_agents", eff.Config.Chat.GroupID)
	require.Equal(t, "All Agents", eff.Config.Chat.GroupName)
	require.Equal(t, int64(1<<20), eff.Config.Chat.MaxSendBytes.Int64())
}

func TestRuntimeKeys(t *testing.T) {
	SetRuntime(&RuntimeConfig{
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
	})
	_, ok := GetBackendKeys()["bk"]
	require.True(t, ok)
	_, ok = GetFrontendKeys()["fk"]
	require.True(t, ok)
}
