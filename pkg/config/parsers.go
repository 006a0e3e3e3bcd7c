package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags
// struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. A
// missing file is not an error; an empty Config is returned instead.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ResolveConfigPath picks the config file path: an explicit flag wins,
// then PARLEY_CONFIG, then the flag default.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if v := os.Getenv("PARLEY_CONFIG"); v != "" {
		return v
	}
	return flagPath
}

// ApplyEnvOverrides mutates cfg with PARLEY_* environment values and
// reports whether any env var was used.
func ApplyEnvOverrides(cfg *Config) bool {
	used := false

	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		used = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PARLEY_SIGNING_KEYS"); v != "" {
		used = true
		cfg.Security.SigningKeys = splitList(v)
	}
	if v := os.Getenv("PARLEY_RATE_RPS"); v != "" {
		used = true
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("PARLEY_RATE_BURST"); v != "" {
		used = true
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("PARLEY_RECONCILE_WINDOW"); v != "" {
		used = true
		cfg.Sync.ReconcileWindow = v
	}
	if v := os.Getenv("PARLEY_MAX_ATTACHMENT_SIZE"); v != "" {
		used = true
		cfg.Sync.MaxAttachmentSize = v
	}
	if v := os.Getenv("PARLEY_RETENTION_ENABLED"); v != "" {
		used = true
		cfg.Retention.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PARLEY_RETENTION_CRON"); v != "" {
		used = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("PARLEY_RETENTION_PERIOD"); v != "" {
		used = true
		cfg.Retention.Period = v
	}
	return used
}

func splitList(v string) []string {
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
