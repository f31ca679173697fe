package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetFrontendKeys returns a copy of configured frontend keys.
func GetFrontendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.FrontendKeys == nil {
		return out
	}
	for k := range runtimeCfg.FrontendKeys {
		out[k] = struct{}{}
	}
	return out
}

// Load reads a YAML config file. A missing path yields a zero Config so
// env/flag defaults can still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Effective is the merged result of flags, environment and file config.
type Effective struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

// ParseCommandFlags registers and parses the process flags, returning raw
// values plus the set of flags the user explicitly provided.
func ParseCommandFlags() (addr, dbPath, cfgPath string, set map[string]bool) {
	a := flag.String("addr", "", "listen address (host:port)")
	d := flag.String("db", "./data", "path to the pebble database directory")
	c := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *a, *d, *c, set
}

// LoadEffective merges file, env and flag values. Flags win over env, env
// wins over file.
func LoadEffective(addrFlag, dbFlag, cfgFlag string, setFlags map[string]bool) (Effective, error) {
	cfgPath := cfgFlag
	if !setFlags["config"] {
		if p := os.Getenv("TEAMDESK_CONFIG"); p != "" {
			cfgPath = p
		}
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		return Effective{}, err
	}

	eff := Effective{Config: cfg, Source: "config"}

	eff.Addr = cfg.Addr()
	if env := os.Getenv("TEAMDESK_ADDR"); env != "" {
		eff.Addr = env
		eff.Source = "env"
	}
	if setFlags["addr"] && addrFlag != "" {
		eff.Addr = addrFlag
		eff.Source = "flags"
	}

	eff.DBPath = cfg.Server.DBPath
	if eff.DBPath == "" {
		eff.DBPath = dbFlag
	}
	if env := os.Getenv("TEAMDESK_DB_PATH"); env != "" {
		eff.DBPath = env
	}
	if setFlags["db"] {
		eff.DBPath = dbFlag
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return eff, nil
}

func applyEnvOverrides(cfg *Config) {
	if lvl := os.Getenv("TEAMDESK_LOG_LEVEL"); lvl != "" && cfg.Logging.Level == "" {
		cfg.Logging.Level = lvl
	}
	if rps := os.Getenv("TEAMDESK_RATE_RPS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.Security.RateLimit.RPS = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Chat.StreamWindow <= 0 {
		cfg.Chat.StreamWindow = 100
	}
	if cfg.Chat.GroupID == "" {
		cfg.Chat.GroupID = "grp_all_agents"
	}
	if cfg.Chat.GroupName == "" {
		cfg.Chat.GroupName = "All Agents"
	}
	if cfg.Chat.MaxSendBytes <= 0 {
		cfg.Chat.MaxSendBytes = 1 << 20
	}
}
