package app

import (
	"fmt"
	"os"

	"teamdesk/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.Effective) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, TEAMDESK_DB_PATH env, or server.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	for _, e := range eff.Config.Roster {
		if e.Key == "" {
			return fmt.Errorf("roster entry with empty key (name=%q)", e.Name)
		}
	}

	if ret := eff.Config.Retention; ret.Enabled {
		if ret.Period.Std() <= 0 && ret.GroupBacklog <= 0 {
			return fmt.Errorf("retention enabled but neither retention.period nor retention.group_backlog is set")
		}
	}
	return nil
}
