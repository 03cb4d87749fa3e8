package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// CODECOLLAB_SERVER_URL overrides server.url.
const EnvPrefix = "CODECOLLAB_"

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "codecollab.toml"

// Config represents the application configuration
type Config struct {
	Server struct {
		URL     string `koanf:"url"`
		HTTPURL string `koanf:"http_url"`
	} `koanf:"server"`

	Transport struct {
		ReconnectDelay    time.Duration `koanf:"reconnect_delay"`
		MaxReconnectDelay time.Duration `koanf:"max_reconnect_delay"`
		Backoff           string        `koanf:"backoff"`
		HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
		WriteTimeout      time.Duration `koanf:"write_timeout"`
		DialTimeout       time.Duration `koanf:"dial_timeout"`
	} `koanf:"transport"`

	Chat struct {
		RatePerSecond float64 `koanf:"rate_per_second"`
		Burst         int     `koanf:"burst"`
	} `koanf:"chat"`

	Analysis struct {
		PathPrefix string        `koanf:"path_prefix"`
		Timeout    time.Duration `koanf:"timeout"`
	} `koanf:"analysis"`

	Store struct {
		Driver    string `koanf:"driver"`
		Path      string `koanf:"path"`
		RedisAddr string `koanf:"redis_addr"`
		RedisDB   int    `koanf:"redis_db"`
	} `koanf:"store"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Backend struct {
		Addr         string        `koanf:"addr"`
		WorkDir      string        `koanf:"work_dir"`
		GracePeriod  time.Duration `koanf:"grace_period"`
		InputIdle    time.Duration `koanf:"input_idle"`
		ChatHistory  int           `koanf:"chat_history"`
		MaxExecution time.Duration `koanf:"max_execution"`
	} `koanf:"backend"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.url":                    "ws://localhost:8080/execute-ws",
		"server.http_url":               "http://localhost:8080",
		"transport.reconnect_delay":     "5s",
		"transport.max_reconnect_delay": "60s",
		"transport.backoff":             "constant",
		"transport.heartbeat_interval":  "30s",
		"transport.write_timeout":       "10s",
		"transport.dial_timeout":        "10s",
		"chat.rate_per_second":          0,
		"chat.burst":                    5,
		"analysis.path_prefix":          "/gemini",
		"analysis.timeout":              "60s",
		"store.driver":                  "bolt",
		"store.path":                    "codecollab.db",
		"store.redis_addr":              "localhost:6379",
		"store.redis_db":                0,
		"log.level":                     "info",
		"log.format":                    "console",
		"backend.addr":                  ":8080",
		"backend.work_dir":              "",
		"backend.grace_period":          "5s",
		"backend.input_idle":            "400ms",
		"backend.chat_history":          100,
		"backend.max_execution":         "2m",
	}
}

// Load loads the configuration: defaults, then the TOML file (if present),
// then CODECOLLAB_ environment variables. An explicitly named file must
// exist; the default path is optional.
func Load(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else if _, err := os.Stat(DefaultPath); err == nil {
		if err := k.Load(file.Provider(DefaultPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	// CODECOLLAB_TRANSPORT_RECONNECT_DELAY -> transport.reconnect_delay
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		section, rest, found := strings.Cut(key, "_")
		if !found {
			return key
		}
		return section + "." + rest
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	u, err := url.Parse(cfg.Server.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("server.url must be a ws:// or wss:// URL, got %q", cfg.Server.URL)
	}

	if cfg.Transport.ReconnectDelay <= 0 {
		return fmt.Errorf("transport.reconnect_delay must be positive")
	}

	switch cfg.Transport.Backoff {
	case "constant", "exponential":
	default:
		return fmt.Errorf("transport.backoff must be constant or exponential, got %q", cfg.Transport.Backoff)
	}

	switch cfg.Store.Driver {
	case "bolt":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the bolt driver")
		}
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
	case "none":
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}

	if cfg.Chat.RatePerSecond < 0 {
		return fmt.Errorf("chat.rate_per_second must not be negative")
	}

	return nil
}

// Init writes a sample configuration file.
func Init(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# codecollab configuration

[server]
url = "ws://localhost:8080/execute-ws"
http_url = "http://localhost:8080"

[transport]
reconnect_delay = "5s"
backoff = "constant"        # or "exponential"
heartbeat_interval = "30s"

[chat]
rate_per_second = 0         # 0 disables the limit

[store]
driver = "bolt"             # bolt, redis or none
path = "codecollab.db"
redis_addr = "localhost:6379"

[log]
level = "info"
format = "console"

[backend]
addr = ":8080"
grace_period = "5s"
chat_history = 100
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}
