package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gotoml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Template renders the default config in the format implied by path's
// extension (.yaml/.yml, otherwise TOML).
func Template(path string) ([]byte, error) {
	raw := toFile(Default())
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(raw)
	default:
		return gotoml.Marshal(raw)
	}
}

func WriteTemplate(path string, overwrite bool) error {
	data, err := Template(path)
	if err != nil {
		return fmt.Errorf("render config template: %w", err)
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func toFile(cfg Config) fileConfig {
	var raw fileConfig
	raw.OwnNumber = cfg.OwnNumber
	raw.ListenAddr = cfg.ListenAddr
	raw.APIToken = cfg.APIToken
	raw.CorsOrigins = cfg.CorsOrigins
	raw.HeartbeatInterval = cfg.HeartbeatInterval.String()
	raw.ShutdownTimeout = cfg.ShutdownTimeout.String()
	raw.LogLevel = cfg.LogLevel
	raw.Session.ReconnectDelay = cfg.Session.ReconnectDelay.String()
	raw.Session.SetupRetryDelay = cfg.Session.SetupRetryDelay.String()
	raw.Session.SendTimeout = cfg.Session.SendTimeout.String()
	raw.Credentials.Path = cfg.Credentials.Path
	raw.Credentials.AgeIdentityFile = cfg.Credentials.AgeIdentityFile
	raw.Transport.Kind = cfg.Transport.Kind
	raw.Transport.StorePath = cfg.Transport.StorePath
	return raw
}
