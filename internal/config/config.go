package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Telegram TelegramConfig
	Slack    SlackConfig
	Memory   MemoryConfig
	Agents   AgentsConfig
	Projects ProjectsConfig
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory". The memory backend keeps all state
	// in-process and is meant for development only.
	Backend string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. Pub/sub is disabled when
// Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	APIToken     string //nolint:gosec // G117: static API token config
}

// TelegramConfig holds the operator chat settings.
type TelegramConfig struct {
	BotToken      string
	ChatID        string
	EnablePolling bool
}

// SlackConfig holds Slack integration settings.
type SlackConfig struct {
	BotToken  string
	ChannelID string
}

// MemoryConfig holds OpenMemory settings. The client is disabled when
// BaseURL is empty.
type MemoryConfig struct {
	BaseURL string
	UserID  string
	APIKey  string
}

// AgentsConfig holds the CLI agent binaries and runtime limits.
type AgentsConfig struct {
	ClaudeFlowBin     string
	GeminiBin         string
	CursorAgentBin    string
	ClaudeCLIBin      string
	CursorWrapper     []string
	SystemPromptPath  string
	InactivityTimeout time.Duration
	StopGrace         time.Duration
	FastWait          time.Duration
}

// ProjectsConfig holds the base directories scanned for projects.
type ProjectsConfig struct {
	Dirs []string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("BM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("BM_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("BM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("BM_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("BM_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	inactivity, err := getEnvDuration("BM_AGENT_INACTIVITY_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	stopGrace, err := getEnvDuration("BM_AGENT_STOP_GRACE", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	fastWait, err := getEnvDuration("BM_AGENT_FAST_WAIT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	polling, err := getEnvBool("BM_TELEGRAM_POLLING", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Store: StoreConfig{
			Backend: getEnv("BM_STORE", "postgres"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("BM_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("BM_DB_USER", "botmaster"),
			Password: getEnv("BM_DB_PASSWORD", ""),
			DBName:   getEnv("BM_DB_NAME", "botmaster"),
			SSLMode:  getEnv("BM_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("BM_REDIS_ADDR", ""),
			Password: getEnv("BM_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("BM_SERVER_ADDR", ":8765"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("BM_CORS_ORIGINS", []string{"http://localhost:5173"}),
			APIToken:     getEnv("BM_API_TOKEN", ""),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("BM_TELEGRAM_BOT_TOKEN", ""),
			ChatID:        getEnv("BM_TELEGRAM_CHAT_ID", ""),
			EnablePolling: polling,
		},
		Slack: SlackConfig{
			BotToken:  getEnv("BM_SLACK_BOT_TOKEN", ""),
			ChannelID: getEnv("BM_SLACK_CHANNEL_ID", ""),
		},
		Memory: MemoryConfig{
			BaseURL: getEnv("BM_MEMORY_URL", ""),
			UserID:  getEnv("BM_MEMORY_USER", "operator"),
			APIKey:  getEnv("BM_MEMORY_API_KEY", "local-dev-key"),
		},
		Agents: AgentsConfig{
			ClaudeFlowBin:     getEnv("BM_CLAUDE_FLOW_BIN", "claude-flow"),
			GeminiBin:         getEnv("BM_GEMINI_BIN", "gemini"),
			CursorAgentBin:    getEnv("BM_CURSOR_AGENT_BIN", "cursor-agent"),
			ClaudeCLIBin:      getEnv("BM_CLAUDE_CLI_BIN", "claude"),
			CursorWrapper:     getEnvList("BM_CURSOR_WRAPPER", nil),
			SystemPromptPath:  getEnv("BM_SYSTEM_PROMPT_PATH", ""),
			InactivityTimeout: inactivity,
			StopGrace:         stopGrace,
			FastWait:          fastWait,
		},
		Projects: ProjectsConfig{
			Dirs: getEnvList("BM_PROJECT_DIRS", nil),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Store.Backend != "postgres" && c.Store.Backend != "memory" {
		return fmt.Errorf("BM_STORE must be 'postgres' or 'memory', got %q", c.Store.Backend)
	}

	if c.Store.Backend == "memory" {
		log.Warn().Msg("BM_STORE=memory keeps all state in-process; sessions do not survive restarts")
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return errors.New("BM_TELEGRAM_CHAT_ID is required when BM_TELEGRAM_BOT_TOKEN is set")
	}
	if c.Slack.BotToken != "" && c.Slack.ChannelID == "" {
		return errors.New("BM_SLACK_CHANNEL_ID is required when BM_SLACK_BOT_TOKEN is set")
	}

	if c.Server.APIToken == "" {
		log.Warn().Msg("BM_API_TOKEN is empty; the HTTP API accepts unauthenticated requests")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("BM_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("BM_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BM_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("BM_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Agents.InactivityTimeout <= 0 {
		return fmt.Errorf("BM_AGENT_INACTIVITY_TIMEOUT must be positive, got %s", c.Agents.InactivityTimeout)
	}
	if c.Agents.StopGrace <= 0 {
		return fmt.Errorf("BM_AGENT_STOP_GRACE must be positive, got %s", c.Agents.StopGrace)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
