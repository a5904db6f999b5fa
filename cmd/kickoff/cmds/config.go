package cmds

import (
	"fmt"
	"kickoff/internal/types"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

const (
	ConfigFileEnvKey = "CONFIG_FILE"
	LogLevelEnvKey   = "LOG_LEVEL"
	LogFormatEnvKey  = "LOG_FORMAT"
)

// LoadConfig builds the service config: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func LoadConfig(path string) (types.Config, error) {
	cfg := types.DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, types.Err(types.ErrInvalidConfig, err, "parse %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "")
	}
	return cfg, nil
}

// LoadConfigFromEnv loads the file named by CONFIG_FILE, if any.
func LoadConfigFromEnv() (types.Config, error) {
	return LoadConfig(os.Getenv(ConfigFileEnvKey))
}

// SetupLogging applies LOG_LEVEL and LOG_FORMAT to the standard logger.
func SetupLogging() {
	if strings.EqualFold(os.Getenv(LogFormatEnvKey), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
	lvl := os.Getenv(LogLevelEnvKey)
	if lvl == "" {
		return
	}
	level, err := log.ParseLevel(lvl)
	if err != nil {
		log.WithError(err).Warnf("unknown %s %q, keeping %s", LogLevelEnvKey, lvl, log.GetLevel())
		return
	}
	log.SetLevel(level)
}
