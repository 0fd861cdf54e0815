// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port   string
	DBPath string

	OpenAIToken    string
	OpenAIBaseURL  string
	OpenAIProxyURL string
	Model          string
	MaxTokens      int

	AdminUserIDs     []string
	WhiteListUserIDs []string
	AdminEmail       string
	CommandToken     string
	WechatToken      string

	DefaultDailyLimit  int
	SessionWindow      time.Duration
	PolicySaveInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./data/relay.db"),

		OpenAIToken:    getEnv("OPENAI_TOKEN", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OpenAIProxyURL: getEnv("OPENAI_PROXY_URL", ""),
		Model:          getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		MaxTokens:      getEnvInt("OPENAI_MAX_TOKENS", 0),

		AdminUserIDs:     splitIDs(getEnv("ADMIN_USER_IDS", "")),
		WhiteListUserIDs: splitIDs(getEnv("WHITE_LIST_USER_IDS", "")),
		AdminEmail:       getEnv("ADMIN_EMAIL", ""),
		CommandToken:     getEnv("COMMAND_TOKEN", ""),
		WechatToken:      getEnv("WECHAT_TOKEN", ""),

		DefaultDailyLimit:  getEnvInt("DEFAULT_DAILY_LIMIT", 20),
		SessionWindow:      time.Duration(getEnvInt("SESSION_MINUTES", 30)) * time.Minute,
		PolicySaveInterval: time.Duration(getEnvInt("POLICY_SAVE_MINUTES", 10)) * time.Minute,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OpenAIToken == "" {
		return fmt.Errorf("OPENAI_TOKEN cannot be empty")
	}
	if c.DefaultDailyLimit <= 0 {
		return fmt.Errorf("DEFAULT_DAILY_LIMIT must be > 0")
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("SESSION_MINUTES must be > 0")
	}
	if c.PolicySaveInterval <= 0 {
		return fmt.Errorf("POLICY_SAVE_MINUTES must be > 0")
	}
	if len(c.AdminUserIDs) > 0 && c.CommandToken == "" {
		return fmt.Errorf("COMMAND_TOKEN cannot be empty when admin users are configured")
	}
	return nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
