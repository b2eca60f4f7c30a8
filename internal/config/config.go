package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "SYNCDESK"
	defaultHTTPAddress       = "0.0.0.0:8090"
	defaultDatabasePath      = "syncdesk.db"
	defaultLogLevel          = "info"
	defaultTokenIssuer       = "syncdesk-auth"
	defaultTokenAudience     = "syncdesk-api"
	defaultHeartbeatSeconds  = 30
	defaultLockMinutes       = 5
	defaultActivityFeedLimit = 50
)

// AppConfig captures runtime configuration for the collaboration server.
type AppConfig struct {
	HTTPAddress       string
	SigningSecret     string
	TokenIssuer       string
	TokenAudience     string
	DatabasePath      string
	LogLevel          string
	HeartbeatInterval time.Duration
	DefaultLockTTL    time.Duration
	ActivityFeedLimit int
	AllowedOrigins    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("collab.heartbeat_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("collab.default_lock_minutes", defaultLockMinutes)
	configViper.SetDefault("collab.activity_feed_limit", defaultActivityFeedLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenIssuer:       configViper.GetString("auth.issuer"),
		TokenAudience:     configViper.GetString("auth.audience"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		HeartbeatInterval: time.Duration(configViper.GetInt("collab.heartbeat_seconds")) * time.Second,
		DefaultLockTTL:    time.Duration(configViper.GetInt("collab.default_lock_minutes")) * time.Minute,
		ActivityFeedLimit: configViper.GetInt("collab.activity_feed_limit"),
		AllowedOrigins:    configViper.GetStringSlice("http.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("collab.heartbeat_seconds must be positive")
	}
	if c.DefaultLockTTL <= 0 {
		return fmt.Errorf("collab.default_lock_minutes must be positive")
	}
	return nil
}
