package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"kaijutsu/kernel"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is kaijutsu's local configuration file structure (spec §4.4's
// ambient parameters: lease lifetime, default consent mode, and which
// tools start equipped).
type Config struct {
	LeaseTTLSeconds int      `koanf:"leaseTtlSeconds,omitempty"`
	DefaultConsent  string   `koanf:"defaultConsent,omitempty"`
	EquippedTools   []string `koanf:"equippedTools,omitempty"`
	NatsPort        int      `koanf:"natsPort,omitempty"`
}

// NatsServerPort returns the configured embedded JetStream server port,
// overridable with KAIJUTSU_NATS_PORT, defaulting to 4222.
func (c Config) NatsServerPort() int {
	if v := os.Getenv("KAIJUTSU_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			return port
		}
	}
	if c.NatsPort != 0 {
		return c.NatsPort
	}
	return 4222
}

func (c Config) LeaseTTL() time.Duration {
	if c.LeaseTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

func (c Config) ConsentMode() kernel.ConsentMode {
	if c.DefaultConsent == string(kernel.ConsentAutonomous) {
		return kernel.ConsentAutonomous
	}
	return kernel.ConsentCollaborative
}

// Load reads kaijutsu's YAML config file, returning a zero-value Config if
// it doesn't exist. It also loads a sibling .env file, if present, into
// the process environment — the same two-source precedence (file config,
// then .env-populated env vars) the teacher corpus uses for local
// overrides.
func Load(configPath string) (Config, error) {
	envPath := configPath + ".env"
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Config{}, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: loading %s: %w", configPath, err)
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshaling %s: %w", configPath, err)
	}
	return c, nil
}

// LogLevelFromEnv mirrors the teacher's SIDE_LOG_LEVEL convention, renamed
// to KAIJUTSU_LOG_LEVEL, returning the zerolog level ordinal (defaulting
// to info, 1, if unset or unparseable).
func LogLevelFromEnv() int {
	level, err := strconv.Atoi(os.Getenv("KAIJUTSU_LOG_LEVEL"))
	if err != nil {
		return 1
	}
	return level
}
