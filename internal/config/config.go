package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const envPrefix = "LECTERN_"

// Ark variables are read without the LECTERN_ prefix so the
// same .env works for any Ark client.
const (
	EnvArkAPIKey      = "ARK_API_KEY"
	EnvArkAccessKey   = "ARK_ACCESS_KEY"
	EnvArkSecretKey   = "ARK_SECRET_KEY"
	EnvArkModel       = "ARK_MODEL"
	EnvArkBaseURL     = "ARK_BASE_URL"
	EnvArkRegion      = "ARK_REGION"
	EnvArkTemperature = "ARK_TEMPERATURE"
	EnvArkTopP        = "ARK_TOP_P"
	EnvArkMaxTokens   = "ARK_MAX_TOKENS"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Generation *GenerationConfig `json:"generation"`
	AI         *AIConfig         `json:"ai"`
}

type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	WriteQueueSize int           `json:"write_queue_size"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// Addr is the listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// FUNCTIONAL DISCOVERY: WebSocket configuration sized for one classroom per session
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BufferSize      int           `json:"buffer_size"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	RateLimit       int           `json:"rate_limit"`
}

// GenerationConfig drives the transcript trigger.
type GenerationConfig struct {
	Interval      time.Duration `json:"interval"`
	MinLength     int           `json:"min_length"`
	CheckInterval time.Duration `json:"check_interval"`
	Timeout       time.Duration `json:"timeout"`
}

// AIConfig describes the Ark chat model. Credentials only come from the
// environment.
type AIConfig struct {
	APIKey      string   `json:"-"`
	AccessKey   string   `json:"-"`
	SecretKey   string   `json:"-"`
	Model       string   `json:"model"`
	BaseURL     string   `json:"base_url"`
	Region      string   `json:"region"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Enabled reports whether a model and usable credentials are present.
func (c *AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the Ark chat model.
func (c *AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark model config missing: need ARK_MODEL plus ARK_API_KEY or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

// FUNCTIONAL DISCOVERY: Defaults match a single lecture hall: 30s idle debounce,
// 150 characters of transcript, a sweep every 5s
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/lectern.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
			WriteQueueSize: 100,
		},
		HTTP: &HTTPConfig{
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 128 * 1024,
			RateLimit:       120,
		},
		Generation: &GenerationConfig{
			Interval:      30 * time.Second,
			MinLength:     150,
			CheckInterval: 5 * time.Second,
			Timeout:       60 * time.Second,
		},
		AI: &AIConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteQueueSize <= 0 {
		return fmt.Errorf("database write queue size must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	// Port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.RateLimit <= 0 {
		return fmt.Errorf("WebSocket rate limit must be positive")
	}

	if c.Generation == nil {
		return fmt.Errorf("generation configuration is required")
	}
	if c.Generation.Interval <= 0 || c.Generation.CheckInterval <= 0 || c.Generation.Timeout <= 0 {
		return fmt.Errorf("generation intervals and timeout must be positive")
	}
	if c.Generation.MinLength <= 0 {
		return fmt.Errorf("generation min length must be positive")
	}

	if c.AI == nil {
		return fmt.Errorf("AI configuration is required")
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults; unparsable
// values are logged and ignored
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envInt("HTTP_PORT", &config.HTTP.Port)
	envString("HTTP_HOST", &config.HTTP.Host)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	envInt("WEBSOCKET_RATE_LIMIT", &config.WebSocket.RateLimit)

	envDuration("GENERATION_INTERVAL", &config.Generation.Interval)
	envInt("MIN_TRANSCRIPT_LENGTH", &config.Generation.MinLength)
	envDuration("GENERATION_CHECK_INTERVAL", &config.Generation.CheckInterval)
	envDuration("GENERATION_TIMEOUT", &config.Generation.Timeout)

	loadAIFromEnv(config.AI)
	return config
}

func loadAIFromEnv(ai *AIConfig) {
	ai.APIKey = strings.TrimSpace(os.Getenv(EnvArkAPIKey))
	ai.AccessKey = strings.TrimSpace(os.Getenv(EnvArkAccessKey))
	ai.SecretKey = strings.TrimSpace(os.Getenv(EnvArkSecretKey))
	if v := strings.TrimSpace(os.Getenv(EnvArkModel)); v != "" {
		ai.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvArkBaseURL)); v != "" {
		ai.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvArkRegion)); v != "" {
		ai.Region = v
	}
	if v, ok := lookupFloat(EnvArkTemperature); ok {
		ai.Temperature = &v
	}
	if v, ok := lookupFloat(EnvArkTopP); ok {
		ai.TopP = &v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvArkMaxTokens)); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			ai.MaxTokens = &n
		} else {
			log.Printf("[config] ignoring %s=%q: %v", EnvArkMaxTokens, raw, err)
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[config] ignoring %s%s=%q: %v", envPrefix, key, raw, err)
		return
	}
	*dst = n
}

func envDuration(key string, dst *time.Duration) {
	raw := os.Getenv(envPrefix + key)
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("[config] ignoring %s%s=%q: %v", envPrefix, key, raw, err)
		return
	}
	*dst = d
}

func lookupFloat(key string) (float64, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("[config] ignoring %s=%q: %v", key, raw, err)
		return 0, false
	}
	return v, true
}

// ConfigFile mirrors Config with durations as strings.
type ConfigFile struct {
	Database   *DatabaseConfigFile   `json:"database"`
	HTTP       *HTTPConfigFile       `json:"http"`
	WebSocket  *WebSocketConfigFile  `json:"websocket"`
	Generation *GenerationConfigFile `json:"generation"`
	AI         *AIConfig             `json:"ai"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
	RateLimit    int    `json:"rate_limit"`
}

type GenerationConfigFile struct {
	Interval      string `json:"interval"`
	MinLength     int    `json:"min_length"`
	CheckInterval string `json:"check_interval"`
	Timeout       string `json:"timeout"`
}

// LoadFromFile reads a JSON config over the defaults.
func LoadFromFile(path string) (*Config, error) {
	return loadFileOver(path, DefaultConfig())
}

func loadFileOver(path string, config *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var durErr error
	parse := func(raw string, dst *time.Duration) {
		if raw == "" || durErr != nil {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			durErr = fmt.Errorf("invalid duration %q in %s: %w", raw, path, err)
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		if f.MaxConnections > 0 {
			config.Database.MaxConnections = f.MaxConnections
		}
		parse(f.Timeout, &config.Database.Timeout)
	}

	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		parse(f.ReadTimeout, &config.HTTP.ReadTimeout)
		parse(f.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.RateLimit > 0 {
			config.WebSocket.RateLimit = f.RateLimit
		}
		parse(f.PingInterval, &config.WebSocket.PingInterval)
		parse(f.ReadTimeout, &config.WebSocket.ReadTimeout)
		parse(f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if f := file.Generation; f != nil {
		if f.MinLength > 0 {
			config.Generation.MinLength = f.MinLength
		}
		parse(f.Interval, &config.Generation.Interval)
		parse(f.CheckInterval, &config.Generation.CheckInterval)
		parse(f.Timeout, &config.Generation.Timeout)
	}

	if f := file.AI; f != nil {
		if f.Model != "" {
			config.AI.Model = f.Model
		}
		if f.BaseURL != "" {
			config.AI.BaseURL = f.BaseURL
		}
		if f.Region != "" {
			config.AI.Region = f.Region
		}
		if f.Temperature != nil {
			config.AI.Temperature = f.Temperature
		}
		if f.TopP != nil {
			config.AI.TopP = f.TopP
		}
		if f.MaxTokens != nil {
			config.AI.MaxTokens = f.MaxTokens
		}
	}

	if durErr != nil {
		return nil, durErr
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence layers file over environment over defaults. A
// missing file is not an error; a broken one is.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		fileConfig, err := loadFileOver(path, config)
		switch {
		case err == nil:
			config = fileConfig
		case errors.Is(err, os.ErrNotExist):
			log.Printf("[config] %s not found, using environment and defaults", path)
		default:
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
