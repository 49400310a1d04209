package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddress  = ":8080"
	defaultStorageBackend = "leveldb"
	defaultStoragePath    = "./poolsd-data"
	envPrefix             = "POOLSD_"
)

// Config is the poolsd daemon configuration.
type Config struct {
	Environment string `toml:"Environment" yaml:"environment"`
	// PositionLedger is the address the position ledger acts as when it
	// drives the pool engine.
	PositionLedger string `toml:"PositionLedger" yaml:"position_ledger"`

	Server    Server           `toml:"Server" yaml:"server"`
	Storage   Storage          `toml:"Storage" yaml:"storage"`
	Auth      Auth             `toml:"Auth" yaml:"auth"`
	RateLimit RateLimit        `toml:"RateLimit" yaml:"rate_limit"`
	Quota     Quota            `toml:"Quota" yaml:"quota"`
	Telemetry Telemetry        `toml:"Telemetry" yaml:"telemetry"`
	Logging   Logging          `toml:"Logging" yaml:"logging"`
	EventLog  EventLog         `toml:"EventLog" yaml:"event_log"`
	Vault     Vault            `toml:"Vault" yaml:"vault"`
	Pools     []PoolDefinition `toml:"Pools" yaml:"pools"`
}

// Load reads the configuration at path. YAML is used for .yaml and .yml
// files, TOML otherwise. A missing TOML file is created with defaults.
// POOLSD_* environment variables override file values.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if isYAML(path) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		if cfg, err = createDefault(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeFile(path string, cfg *Config) error {
	if isYAML(path) {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	return nil
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		Environment: "local",
		Server: Server{
			ListenAddress:         defaultListenAddress,
			ReadHeaderTimeoutSecs: 5,
			ShutdownTimeoutSecs:   10,
		},
		Storage:   Storage{Backend: defaultStorageBackend, Path: defaultStoragePath},
		Auth:      Auth{JWTSecretEnv: envPrefix + "JWT_SECRET", Issuer: "poolsd"},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		Quota:     Quota{MaxRequestsPerEpoch: 0, EpochSeconds: 3600},
		Logging:   Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// createDefault writes Default to path.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

type lookupFunc func(string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) {
	set := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("ENV", &cfg.Environment)
	set("LISTEN", &cfg.Server.ListenAddress)
	set("STORAGE_BACKEND", &cfg.Storage.Backend)
	set("STORAGE_PATH", &cfg.Storage.Path)
	set("POSITION_LEDGER", &cfg.PositionLedger)
	set("LOG_LEVEL", &cfg.Logging.Level)
	set("LOG_FILE", &cfg.Logging.File)
	set("EVENTLOG_DRIVER", &cfg.EventLog.Driver)
	set("EVENTLOG_DSN", &cfg.EventLog.DSN)
	set("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	set("OTEL_HEADERS", &cfg.Telemetry.Headers)
}

func (cfg *Config) normalize() {
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.PositionLedger = strings.TrimSpace(cfg.PositionLedger)
	cfg.Server.ListenAddress = strings.TrimSpace(cfg.Server.ListenAddress)
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = defaultListenAddress
	}
	if cfg.Server.ReadHeaderTimeoutSecs <= 0 {
		cfg.Server.ReadHeaderTimeoutSecs = 5
	}
	if cfg.Server.ShutdownTimeoutSecs <= 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultStorageBackend
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	if cfg.Storage.Path == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = defaultStoragePath
	}
	if strings.TrimSpace(cfg.Auth.JWTSecretEnv) == "" {
		cfg.Auth.JWTSecretEnv = envPrefix + "JWT_SECRET"
	}
	cfg.EventLog.Driver = strings.ToLower(strings.TrimSpace(cfg.EventLog.Driver))
	if cfg.RateLimit.Burst <= 0 && cfg.RateLimit.RequestsPerMinute > 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerMinute
	}
	for i := range cfg.Pools {
		cfg.Pools[i].Name = strings.TrimSpace(cfg.Pools[i].Name)
	}
}

// Secret resolves the signing secret, preferring the inline value.
func (a Auth) Secret() string {
	if secret := strings.TrimSpace(a.JWTSecret); secret != "" {
		return secret
	}
	if name := strings.TrimSpace(a.JWTSecretEnv); name != "" {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}
