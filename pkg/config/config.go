package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Server      ServerConfig
	TLS         TLSConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	SendGrid    SendGridConfig
	CORS        CORSConfig
	Chat        ChatConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type TLSConfig struct {
	Enabled         bool
	CertPath        string
	KeyPath         string
	CertPEM         string
	KeyPEM          string
	AllowSelfSigned bool
}

type DatabaseConfig struct {
	DSN            string
	MaxConns       int
	MinConns       int
	MaxIdleTime    time.Duration
	ApplySchema    bool
	SchemaPath     string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

type SendGridConfig struct {
	APIKey      string
	SenderEmail string
	SenderName  string
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

type ChatConfig struct {
	// Store is "postgres" or "memory".
	Store           string
	PresencePolicy  string
	StrictRooms     bool
	BroadcastAllow  []string
	SendBuffer      int
	MaxMessageBytes int64
	PongWait        time.Duration
	PingPeriod      time.Duration
	WriteWait       time.Duration
	StoreTimeout    time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	AllowAnyOrigin  bool
	DefaultPageSize int
	MaximumPageSize int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := strings.ToLower(getEnv("APP_ENV", getEnv("ENV", "development")))

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		TLS: TLSConfig{
			Enabled:         getEnvAsBool("ENABLE_TLS", false) || env == "production",
			CertPath:        getEnv("TLS_CERT_PATH", ""),
			KeyPath:         getEnv("TLS_KEY_PATH", ""),
			CertPEM:         getEnv("TLS_CERT", ""),
			KeyPEM:          getEnv("TLS_KEY", ""),
			AllowSelfSigned: getEnvAsBool("TLS_SELF_SIGNED", true),
		},
		Database: DatabaseConfig{
			DSN:            getEnv("DATABASE_URL", ""),
			MaxConns:       getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:       getEnvAsInt("DB_MIN_CONNS", 2),
			MaxIdleTime:    getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			ApplySchema:    getEnvAsBool("APPLY_SCHEMA_ON_START", true),
			SchemaPath:     getEnv("SCHEMA_PATH", "pkg/db/schema.sql"),
			ConnectTimeout: getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:       getEnvAsBool("REDIS_ENABLED", false),
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "chat"),
		},
		SendGrid: SendGridConfig{
			APIKey:      getEnv("SENDGRID_API_KEY", ""),
			SenderEmail: getEnv("SENDGRID_SENDER_EMAIL", ""),
			SenderName:  getEnv("SENDGRID_SENDER_NAME", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
		},
		Chat: ChatConfig{
			Store:           strings.ToLower(getEnv("CHAT_STORE", "postgres")),
			PresencePolicy:  strings.ToLower(getEnv("CHAT_PRESENCE_POLICY", "transition")),
			StrictRooms:     getEnvAsBool("CHAT_STRICT_ROOMS", true),
			BroadcastAllow:  getEnvAsList("CHAT_BROADCAST_ALLOWLIST", nil),
			SendBuffer:      getEnvAsInt("CHAT_SEND_BUFFER", 64),
			MaxMessageBytes: int64(getEnvAsInt("CHAT_MAX_MESSAGE_BYTES", 64*1024)),
			PongWait:        getEnvAsDuration("CHAT_PONG_WAIT", 60*time.Second),
			PingPeriod:      getEnvAsDuration("CHAT_PING_PERIOD", 30*time.Second),
			WriteWait:       getEnvAsDuration("CHAT_WRITE_WAIT", 10*time.Second),
			StoreTimeout:    getEnvAsDuration("CHAT_STORE_TIMEOUT", 5*time.Second),
			RateLimitRPS:    getEnvAsFloat("CHAT_RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getEnvAsInt("CHAT_RATE_LIMIT_BURST", 40),
			AllowAnyOrigin:  getEnvAsBool("CHAT_ALLOW_ANY_ORIGIN", true),
			DefaultPageSize: getEnvAsInt("CHAT_DEFAULT_PAGE_SIZE", 15),
			MaximumPageSize: getEnvAsInt("CHAT_MAX_PAGE_SIZE", 100),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if cfg.Server.Port == "" {
		if cfg.TLS.Enabled {
			cfg.Server.Port = "8443"
		} else {
			cfg.Server.Port = "8080"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Chat.Store {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_URL must be set when CHAT_STORE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown CHAT_STORE %q (want postgres or memory)", c.Chat.Store)
	}
	switch c.Chat.PresencePolicy {
	case "transition", "per_connection":
	default:
		return fmt.Errorf("unknown CHAT_PRESENCE_POLICY %q (want transition or per_connection)", c.Chat.PresencePolicy)
	}
	if c.Chat.SendBuffer <= 0 {
		return fmt.Errorf("CHAT_SEND_BUFFER must be positive")
	}
	if c.Chat.PingPeriod >= c.Chat.PongWait {
		return fmt.Errorf("CHAT_PING_PERIOD must be shorter than CHAT_PONG_WAIT")
	}
	if c.Environment == "production" && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		return fmt.Errorf("TLS_CERT_PATH and TLS_KEY_PATH are required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
