// Package config loads gateway.toml (or gateway.yaml) into a Config.
// Precedence: defaults, then file, then environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wagate/internal/address"
	"gopkg.in/yaml.v3"
)

const (
	EnvOwnNumber  = "MY_NUMBER"
	EnvListenAddr = "WAGATE_LISTEN_ADDR"
	EnvAPIToken   = "WAGATE_API_TOKEN"
)

const (
	TransportWhatsApp = "whatsapp"
	TransportLoopback = "loopback"
)

type SessionConfig struct {
	ReconnectDelay  time.Duration
	SetupRetryDelay time.Duration
	SendTimeout     time.Duration
}

type CredentialsConfig struct {
	Path            string
	AgeIdentityFile string
}

type TransportConfig struct {
	Kind      string
	StorePath string
}

// Config is the resolved gateway configuration.
type Config struct {
	OwnNumber         string
	ListenAddr        string
	APIToken          string
	CorsOrigins       []string
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
	Session           SessionConfig
	Credentials       CredentialsConfig
	Transport         TransportConfig
}

func Default() Config {
	return Config{
		ListenAddr:        ":3000",
		CorsOrigins:       []string{"http://localhost:3000"},
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		Session: SessionConfig{
			ReconnectDelay:  3 * time.Second,
			SetupRetryDelay: 5 * time.Second,
			SendTimeout:     20 * time.Second,
		},
		Credentials: CredentialsConfig{
			Path: filepath.Join("data", "credentials.cbor"),
		},
		Transport: TransportConfig{
			Kind:      TransportWhatsApp,
			StorePath: filepath.Join("data", "whatsmeow.db"),
		},
	}
}

// fileConfig mirrors the on-disk layout. Durations are strings
// ("3s", "1m30s").
type fileConfig struct {
	OwnNumber         string   `toml:"own_number" yaml:"own_number"`
	ListenAddr        string   `toml:"listen_addr" yaml:"listen_addr"`
	APIToken          string   `toml:"api_token" yaml:"api_token"`
	CorsOrigins       []string `toml:"cors_origins" yaml:"cors_origins"`
	HeartbeatInterval string   `toml:"heartbeat_interval" yaml:"heartbeat_interval"`
	ShutdownTimeout   string   `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string   `toml:"log_level" yaml:"log_level"`

	Session struct {
		ReconnectDelay  string `toml:"reconnect_delay" yaml:"reconnect_delay"`
		SetupRetryDelay string `toml:"setup_retry_delay" yaml:"setup_retry_delay"`
		SendTimeout     string `toml:"send_timeout" yaml:"send_timeout"`
	} `toml:"session" yaml:"session"`

	Credentials struct {
		Path            string `toml:"path" yaml:"path"`
		AgeIdentityFile string `toml:"age_identity_file" yaml:"age_identity_file"`
	} `toml:"credentials" yaml:"credentials"`

	Transport struct {
		Kind      string `toml:"kind" yaml:"kind"`
		StorePath string `toml:"store_path" yaml:"store_path"`
	} `toml:"transport" yaml:"transport"`
}

// definedFunc reports whether a key path was present in the file.
type definedFunc func(key ...string) bool

// Load resolves the config at path. An empty path yields defaults plus
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, defined, err := decodeFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := apply(&cfg, raw, defined); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string) (fileConfig, definedFunc, error) {
	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return raw, nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return raw, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return raw, nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return raw, yamlDefined(tree), nil
	default:
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return raw, nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return raw, nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
		}
		return raw, meta.IsDefined, nil
	}
}

func yamlDefined(tree map[string]any) definedFunc {
	return func(key ...string) bool {
		var node any = tree
		for _, k := range key {
			m, ok := node.(map[string]any)
			if !ok {
				return false
			}
			node, ok = m[k]
			if !ok {
				return false
			}
		}
		return true
	}
}

func apply(cfg *Config, raw fileConfig, defined definedFunc) error {
	if defined("own_number") {
		cfg.OwnNumber = strings.TrimSpace(raw.OwnNumber)
	}
	if defined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if defined("api_token") {
		cfg.APIToken = strings.TrimSpace(raw.APIToken)
	}
	if defined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if defined("credentials", "path") {
		cfg.Credentials.Path = strings.TrimSpace(raw.Credentials.Path)
	}
	if defined("credentials", "age_identity_file") {
		cfg.Credentials.AgeIdentityFile = strings.TrimSpace(raw.Credentials.AgeIdentityFile)
	}
	if defined("transport", "kind") {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if defined("transport", "store_path") {
		cfg.Transport.StorePath = strings.TrimSpace(raw.Transport.StorePath)
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"heartbeat_interval"}, raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{[]string{"shutdown_timeout"}, raw.ShutdownTimeout, &cfg.ShutdownTimeout},
		{[]string{"session", "reconnect_delay"}, raw.Session.ReconnectDelay, &cfg.Session.ReconnectDelay},
		{[]string{"session", "setup_retry_delay"}, raw.Session.SetupRetryDelay, &cfg.Session.SetupRetryDelay},
		{[]string{"session", "send_timeout"}, raw.Session.SendTimeout, &cfg.Session.SendTimeout},
	}
	for _, d := range durations {
		if !defined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvOwnNumber); ok && strings.TrimSpace(v) != "" {
		cfg.OwnNumber = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvListenAddr); ok && strings.TrimSpace(v) != "" {
		cfg.ListenAddr = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAPIToken); ok {
		cfg.APIToken = strings.TrimSpace(v)
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("config missing listen_addr")
	}
	if cfg.OwnNumber != "" {
		if _, ok := address.NormalizePhone(cfg.OwnNumber); !ok {
			return fmt.Errorf("own_number %q is not a phone number", cfg.OwnNumber)
		}
	}
	positive := map[string]time.Duration{
		"heartbeat_interval":        cfg.HeartbeatInterval,
		"shutdown_timeout":          cfg.ShutdownTimeout,
		"session.reconnect_delay":   cfg.Session.ReconnectDelay,
		"session.setup_retry_delay": cfg.Session.SetupRetryDelay,
		"session.send_timeout":      cfg.Session.SendTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if strings.TrimSpace(cfg.Credentials.Path) == "" {
		return fmt.Errorf("config missing credentials.path")
	}
	switch cfg.Transport.Kind {
	case TransportWhatsApp:
		if strings.TrimSpace(cfg.Transport.StorePath) == "" {
			return fmt.Errorf("transport.store_path required for %s transport", TransportWhatsApp)
		}
	case TransportLoopback:
	default:
		return fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
