package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may query
// at runtime (populated during startup after merging env+file).
type RuntimeConfig struct {
	SigningKeys map[string]struct{}
}

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

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EffectiveConfigResult is the merged view of flags, env and file config.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "env", or "config"
}

// LoadEffective resolves the effective configuration: file values first,
// env overrides on top, flags last (flags win). The returned result always
// carries a non-nil Config.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfg, present, err := ParseConfigFile(flags)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	envUsed := ApplyEnvOverrides(cfg)

	source := "flags"
	switch {
	case present:
		source = "config"
	case envUsed:
		source = "env"
	}

	addr := cfg.Addr()
	if flags.Set["addr"] {
		addr = flags.Addr
	}
	dbPath := cfg.Server.DBPath
	if dbPath == "" || flags.Set["db"] {
		dbPath = flags.DB
	}
	cfg.Server.DBPath = dbPath

	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: source}, nil
}
