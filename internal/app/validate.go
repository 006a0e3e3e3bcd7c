package app

import (
	"fmt"
	"os"

	"github.com/adhocore/gronx"

	"parley/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, PARLEY_DB_PATH env, or server.db_path in config")
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

	if eff.Config.Retention.Enabled && eff.Config.Retention.Cron != "" {
		g := gronx.New()
		if !g.IsValid(eff.Config.Retention.Cron) {
			return fmt.Errorf("invalid retention.cron expression: %q", eff.Config.Retention.Cron)
		}
	}

	return nil
}
