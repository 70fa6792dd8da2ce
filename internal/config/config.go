package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"classwatch/internal/logger"
)

// Config is the full runtime configuration. Precedence is
// defaults < environment < file; see LoadWithPrecedence.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Directory *DirectoryConfig `json:"directory"`
	Database  *DatabaseConfig  `json:"database"`
	Log       *logger.Config   `json:"log"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	WriteBuffer    int           `json:"write_buffer"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// DirectoryConfig configures the upstream device-management API and the
// cache in front of it. An empty BaseURL disables enrichment entirely; the
// relay still runs.
type DirectoryConfig struct {
	BaseURL      string        `json:"base_url"`
	Token        string        `json:"token"`
	OrgUnitPath  string        `json:"org_unit_path"`
	FetchTimeout time.Duration `json:"fetch_timeout"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	CacheSize    int           `json:"cache_size"`
}

// DatabaseConfig configures the device snapshot store. An empty Path
// disables persistence; the directory cache then starts cold.
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// Default sets sized for a single classroom: tens of connections, one
// screen frame per participant per few seconds.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			WriteBuffer:    100,
			MaxMessageSize: 8 << 20,
		},
		Directory: &DirectoryConfig{
			FetchTimeout: 10 * time.Second,
			CacheTTL:     30 * time.Minute,
			CacheSize:    512,
		},
		Database: &DatabaseConfig{
			Path:    "./classwatch.db",
			Timeout: 30 * time.Second,
		},
		Log: &logger.Config{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("http configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("websocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.WriteBuffer <= 0 {
		return fmt.Errorf("websocket write buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("websocket max message size must be positive")
	}

	if c.Directory == nil {
		return fmt.Errorf("directory configuration is required")
	}
	if c.Directory.BaseURL != "" && c.Directory.OrgUnitPath == "" {
		return fmt.Errorf("directory org unit path is required when a base URL is set")
	}
	if c.Directory.FetchTimeout <= 0 {
		return fmt.Errorf("directory fetch timeout must be positive")
	}
	if c.Directory.CacheTTL <= 0 {
		return fmt.Errorf("directory cache TTL must be positive")
	}
	if c.Directory.CacheSize <= 0 {
		return fmt.Errorf("directory cache size must be positive")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path != "" && c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	return nil
}

// LoadFromEnv overlays CLASSWATCH_* environment variables on top of the
// defaults. Unparseable values fall back silently, matching the file loader.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("CLASSWATCH_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if port := os.Getenv("CLASSWATCH_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	overlayDuration(&cfg.HTTP.ReadTimeout, "CLASSWATCH_HTTP_READ_TIMEOUT")
	overlayDuration(&cfg.HTTP.WriteTimeout, "CLASSWATCH_HTTP_WRITE_TIMEOUT")

	overlayDuration(&cfg.WebSocket.PingInterval, "CLASSWATCH_WEBSOCKET_PING_INTERVAL")
	overlayDuration(&cfg.WebSocket.ReadTimeout, "CLASSWATCH_WEBSOCKET_READ_TIMEOUT")
	overlayDuration(&cfg.WebSocket.WriteTimeout, "CLASSWATCH_WEBSOCKET_WRITE_TIMEOUT")
	if buf := os.Getenv("CLASSWATCH_WEBSOCKET_WRITE_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil {
			cfg.WebSocket.WriteBuffer = n
		}
	}
	if max := os.Getenv("CLASSWATCH_WEBSOCKET_MAX_MESSAGE_SIZE"); max != "" {
		if n, err := strconv.ParseInt(max, 10, 64); err == nil {
			cfg.WebSocket.MaxMessageSize = n
		}
	}

	if base := os.Getenv("CLASSWATCH_DIRECTORY_BASE_URL"); base != "" {
		cfg.Directory.BaseURL = base
	}
	if token := os.Getenv("CLASSWATCH_DIRECTORY_TOKEN"); token != "" {
		cfg.Directory.Token = token
	}
	if ou := os.Getenv("CLASSWATCH_DIRECTORY_ORG_UNIT"); ou != "" {
		cfg.Directory.OrgUnitPath = ou
	}
	overlayDuration(&cfg.Directory.FetchTimeout, "CLASSWATCH_DIRECTORY_FETCH_TIMEOUT")
	overlayDuration(&cfg.Directory.CacheTTL, "CLASSWATCH_DIRECTORY_CACHE_TTL")
	if size := os.Getenv("CLASSWATCH_DIRECTORY_CACHE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.Directory.CacheSize = n
		}
	}

	if path, ok := os.LookupEnv("CLASSWATCH_DATABASE_PATH"); ok {
		cfg.Database.Path = path
	}
	overlayDuration(&cfg.Database.Timeout, "CLASSWATCH_DATABASE_TIMEOUT")

	if level := os.Getenv("CLASSWATCH_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if debug := os.Getenv("CLASSWATCH_LOG_DEBUG"); debug == "true" || debug == "1" {
		cfg.Log.Debug = true
	}
	if out := os.Getenv("CLASSWATCH_LOG_OUTPUT"); out != "" {
		cfg.Log.Output = out
	}

	return cfg
}

func overlayDuration(dst *time.Duration, key string) {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			*dst = d
		}
	}
}

// configFile mirrors Config with durations as strings so JSON files can say
// "30s" instead of nanosecond counts.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		WriteBuffer    int    `json:"write_buffer"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Directory *struct {
		BaseURL      string `json:"base_url"`
		Token        string `json:"token"`
		OrgUnitPath  string `json:"org_unit_path"`
		FetchTimeout string `json:"fetch_timeout"`
		CacheTTL     string `json:"cache_ttl"`
		CacheSize    int    `json:"cache_size"`
	} `json:"directory"`
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	Log *logger.Config `json:"log"`
}

// LoadFromFile overlays a JSON config file on top of a base config.
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			cfg.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			cfg.HTTP.Port = file.HTTP.Port
		}
		parseDuration(&cfg.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		parseDuration(&cfg.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		parseDuration(&cfg.WebSocket.PingInterval, file.WebSocket.PingInterval)
		parseDuration(&cfg.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		parseDuration(&cfg.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		if file.WebSocket.WriteBuffer > 0 {
			cfg.WebSocket.WriteBuffer = file.WebSocket.WriteBuffer
		}
		if file.WebSocket.MaxMessageSize > 0 {
			cfg.WebSocket.MaxMessageSize = file.WebSocket.MaxMessageSize
		}
	}
	if file.Directory != nil {
		if file.Directory.BaseURL != "" {
			cfg.Directory.BaseURL = file.Directory.BaseURL
		}
		if file.Directory.Token != "" {
			cfg.Directory.Token = file.Directory.Token
		}
		if file.Directory.OrgUnitPath != "" {
			cfg.Directory.OrgUnitPath = file.Directory.OrgUnitPath
		}
		parseDuration(&cfg.Directory.FetchTimeout, file.Directory.FetchTimeout)
		parseDuration(&cfg.Directory.CacheTTL, file.Directory.CacheTTL)
		if file.Directory.CacheSize > 0 {
			cfg.Directory.CacheSize = file.Directory.CacheSize
		}
	}
	if file.Database != nil {
		cfg.Database.Path = file.Database.Path
		parseDuration(&cfg.Database.Timeout, file.Database.Timeout)
	}
	if file.Log != nil {
		cfg.Log = file.Log
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func parseDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// LoadWithPrecedence builds the effective config: defaults, then
// environment, then the file if one is given and readable.
func LoadWithPrecedence(path string) *Config {
	cfg := LoadFromEnv()
	if path != "" {
		if fileCfg, err := LoadFromFile(path, cfg); err == nil {
			cfg = fileCfg
		}
	}
	return cfg
}
