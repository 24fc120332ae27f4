// Package config loads Proteeti's runtime configuration.
//
// LAYERING (lowest to highest priority):
//  1. Defaults set in setDefaults
//  2. An optional YAML file (proteeti.yaml in ., ./config or /etc/proteeti)
//  3. PROTEETI_* environment variables (server.port → PROTEETI_SERVER_PORT)
//  4. A handful of legacy variable names still used by existing deployments
//     (GMAIL_SENDER, GMAIL_APP_PASSWORD, MAILBOXLAYER_API_KEY, DEV_MODE, ...)
//
// Every integration except SQLite is optional. An empty Redis address, SMTP
// username, VAPID key, MQTT broker or S3 bucket simply turns that feature off.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	EmailCheck EmailCheckConfig `mapstructure:"emailcheck"`
	Push       PushConfig       `mapstructure:"push"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	S3         S3Config         `mapstructure:"s3"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	CORSOrigins   []string      `mapstructure:"cors_origins"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
	DevMode       bool          `mapstructure:"dev_mode"`
}

// DatabaseConfig holds the SQLite file location.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AuthConfig holds session and OAuth configuration.
type AuthConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTTTL             time.Duration `mapstructure:"jwt_ttl"`
	SessionSecret      string        `mapstructure:"session_secret"`
	PendingTTL         time.Duration `mapstructure:"pending_ttl"`
	GoogleClientID     string        `mapstructure:"google_client_id"`
	GoogleClientSecret string        `mapstructure:"google_client_secret"`
	GitHubClientID     string        `mapstructure:"github_client_id"`
	GitHubClientSecret string        `mapstructure:"github_client_secret"`
	CallbackBaseURL    string        `mapstructure:"callback_base_url"`
}

// SMTPConfig holds outbound mail configuration.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	FromName string        `mapstructure:"from_name"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether SMTP credentials were configured.
func (c SMTPConfig) Enabled() bool { return c.Username != "" && c.Password != "" }

// NotifyConfig controls how SOS notifications are dispatched.
type NotifyConfig struct {
	Async          bool          `mapstructure:"async"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// EmailCheckConfig configures the mailboxlayer deliverability check.
type EmailCheckConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PushConfig holds the VAPID key pair used for Web Push.
type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
}

// Enabled reports whether both VAPID keys are present.
func (c PushConfig) Enabled() bool { return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != "" }

// MQTTConfig holds the broker used to fan SOS events out to responders.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// S3Config holds the bucket used for SOS audio.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

// RateLimitConfig defines rate limiting parameters for the credential endpoints.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file and the environment.
// An empty path searches the default locations; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("proteeti")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/proteeti")
	}

	v.SetEnvPrefix("PROTEETI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.SessionSecret == "" {
		return errors.New("config: auth.session_secret must be set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Notify.Workers <= 0 {
		return fmt.Errorf("config: notify.workers must be positive, got %d", c.Notify.Workers)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{"http://localhost:*"})
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.dev_mode", false)

	v.SetDefault("database.path", "data/proteeti.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_ttl", "24h")
	v.SetDefault("auth.pending_ttl", "10m")
	v.SetDefault("auth.callback_base_url", "http://localhost:8080")

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from_name", "Proteeti")
	v.SetDefault("smtp.timeout", "10s")

	v.SetDefault("notify.async", true)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 64)
	v.SetDefault("notify.attempt_timeout", "10s")

	v.SetDefault("emailcheck.base_url", "http://apilayer.net")
	v.SetDefault("emailcheck.timeout", "8s")

	v.SetDefault("push.subscriber", "mailto:admin@proteeti.local")

	v.SetDefault("mqtt.client_id", "proteeti-server")
	v.SetDefault("mqtt.topic_prefix", "proteeti")

	v.SetDefault("s3.prefix", "sos-audio")

	v.SetDefault("ratelimit.requests_per_minute", 20)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnv maps keys to both the prefixed variable and the legacy names.
// viper.BindEnv takes the first variable that is set.
func bindEnv(v *viper.Viper) {
	binds := map[string][]string{
		"server.port":               {"PROTEETI_SERVER_PORT", "PORT"},
		"server.dev_mode":           {"PROTEETI_SERVER_DEV_MODE", "DEV_MODE"},
		"database.path":             {"PROTEETI_DATABASE_PATH", "DB_PATH"},
		"redis.addr":                {"PROTEETI_REDIS_ADDR", "REDIS_ADDR"},
		"auth.jwt_secret":           {"PROTEETI_AUTH_JWT_SECRET", "JWT_SECRET"},
		"auth.session_secret":       {"PROTEETI_AUTH_SESSION_SECRET", "SECRET_KEY"},
		"auth.google_client_id":     {"PROTEETI_AUTH_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID"},
		"auth.google_client_secret": {"PROTEETI_AUTH_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET"},
		"auth.github_client_id":     {"PROTEETI_AUTH_GITHUB_CLIENT_ID", "GITHUB_CLIENT_ID"},
		"auth.github_client_secret": {"PROTEETI_AUTH_GITHUB_CLIENT_SECRET", "GITHUB_CLIENT_SECRET"},
		"smtp.username":             {"PROTEETI_SMTP_USERNAME", "GMAIL_SENDER"},
		"smtp.password":             {"PROTEETI_SMTP_PASSWORD", "GMAIL_APP_PASSWORD"},
		"emailcheck.api_key":        {"PROTEETI_EMAILCHECK_API_KEY", "MAILBOXLAYER_API_KEY"},
		"push.vapid_public_key":     {"PROTEETI_PUSH_VAPID_PUBLIC_KEY", "VAPID_PUBLIC_KEY"},
		"push.vapid_private_key":    {"PROTEETI_PUSH_VAPID_PRIVATE_KEY", "VAPID_PRIVATE_KEY"},
	}
	for key, envs := range binds {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}
