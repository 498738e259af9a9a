package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"

	SessionsMemory = "memory"
	SessionsRedis  = "redis"

	GeneratorGemini  = "gemini"
	GeneratorOffline = "offline"
)

type Config struct {
	HTTP         HTTPConfig      `yaml:"http"`
	DatabaseURL  string          `yaml:"database_url"`
	Storage      StorageConfig   `yaml:"storage"`
	Auth         AuthConfig      `yaml:"auth"`
	Generator    GeneratorConfig `yaml:"generator"`
	AuditLogFile string          `yaml:"audit_log_file"`
	LogLevel     string          `yaml:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SecureCookies marks the session cookie Secure; enable behind TLS.
	SecureCookies   bool          `yaml:"secure_cookies"`
}

// StorageConfig selects where accounts and stories live. An empty Backend
// means postgres when DatabaseURL is set and file otherwise.
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	AccountStateFile string `yaml:"account_state_file"`
	StoryStateFile   string `yaml:"story_state_file"`
}

type AuthConfig struct {
	SessionTTL           time.Duration `yaml:"session_ttl"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`
	SessionBackend       string        `yaml:"session_backend"`
	SessionStateFile     string        `yaml:"session_state_file"`
	RedisURL             string        `yaml:"redis_url"`
	PBKDF2Algorithm      string        `yaml:"pbkdf2_algorithm"`
	PBKDF2Iterations     int           `yaml:"pbkdf2_iterations"`
	PBKDF2KeyLength      int           `yaml:"pbkdf2_key_length"`
	MinUsernameLength    int           `yaml:"min_username_length"`
	MinPasswordLength    int           `yaml:"min_password_length"`
}

// GeneratorConfig selects the story provider. An empty Provider means gemini
// when an API key is configured and offline otherwise.
type GeneratorConfig struct {
	Provider     string        `yaml:"provider"`
	GeminiAPIKey string        `yaml:"gemini_api_key"`
	GeminiModel  string        `yaml:"gemini_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

func defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Storage: StorageConfig{
			AccountStateFile: "./data/users.json",
			StoryStateFile:   "./data/stories.json",
		},
		Auth: AuthConfig{
			SessionTTL:           24 * time.Hour,
			SessionSweepInterval: time.Minute,
			SessionBackend:       SessionsMemory,
			SessionStateFile:     "./data/sessions.json",
			PBKDF2Algorithm:      "sha256",
			PBKDF2Iterations:     150000,
			PBKDF2KeyLength:      32,
			MinUsernameLength:    1,
			MinPasswordLength:    1,
		},
		Generator: GeneratorConfig{
			GeminiModel: "gemini-2.0-flash",
			Timeout:     60 * time.Second,
		},
		AuditLogFile: "./data/audit.log",
		LogLevel:     "info",
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	return LoadFile(getEnv("CONFIG_FILE", ""))
}

// LoadFile layers defaults, the YAML file at path (if any) and the
// environment, in that order.
func LoadFile(path string) (Config, error) {
	cfg := defaults()

	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ReadTimeout = getEnvSeconds("HTTP_READ_TIMEOUT_SEC", cfg.HTTP.ReadTimeout)
	cfg.HTTP.WriteTimeout = getEnvSeconds("HTTP_WRITE_TIMEOUT_SEC", cfg.HTTP.WriteTimeout)
	cfg.HTTP.ShutdownTimeout = getEnvSeconds("HTTP_SHUTDOWN_TIMEOUT_SEC", cfg.HTTP.ShutdownTimeout)
	cfg.HTTP.SecureCookies = getEnvBool("HTTP_SECURE_COOKIES", cfg.HTTP.SecureCookies)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.AccountStateFile = getEnv("AUTH_USER_STATE_FILE", cfg.Storage.AccountStateFile)
	cfg.Storage.StoryStateFile = getEnv("STORY_STATE_FILE", cfg.Storage.StoryStateFile)

	cfg.Auth.SessionTTL = getEnvSeconds("AUTH_SESSION_TTL_SEC", cfg.Auth.SessionTTL)
	cfg.Auth.SessionSweepInterval = getEnvSeconds("AUTH_SESSION_SWEEP_SEC", cfg.Auth.SessionSweepInterval)
	cfg.Auth.SessionBackend = getEnv("SESSION_BACKEND", cfg.Auth.SessionBackend)
	cfg.Auth.SessionStateFile = getEnv("AUTH_SESSION_STATE_FILE", cfg.Auth.SessionStateFile)
	cfg.Auth.RedisURL = getEnv("REDIS_URL", cfg.Auth.RedisURL)
	cfg.Auth.PBKDF2Algorithm = getEnv("AUTH_PBKDF2_ALGORITHM", cfg.Auth.PBKDF2Algorithm)
	cfg.Auth.PBKDF2Iterations = getEnvInt("AUTH_PBKDF2_ITERATIONS", cfg.Auth.PBKDF2Iterations)
	cfg.Auth.PBKDF2KeyLength = getEnvInt("AUTH_PBKDF2_KEYLEN", cfg.Auth.PBKDF2KeyLength)
	cfg.Auth.MinUsernameLength = getEnvInt("AUTH_MIN_USERNAME_LENGTH", cfg.Auth.MinUsernameLength)
	cfg.Auth.MinPasswordLength = getEnvInt("AUTH_MIN_PASSWORD_LENGTH", cfg.Auth.MinPasswordLength)

	cfg.Generator.Provider = getEnv("GENERATOR_PROVIDER", cfg.Generator.Provider)
	cfg.Generator.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.Generator.GeminiAPIKey)
	cfg.Generator.GeminiModel = getEnv("GEMINI_MODEL", cfg.Generator.GeminiModel)
	cfg.Generator.Timeout = getEnvSeconds("GENERATE_TIMEOUT_SEC", cfg.Generator.Timeout)

	cfg.AuditLogFile = getEnv("AUDIT_LOG_FILE", cfg.AuditLogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageFile
		if cfg.DatabaseURL != "" {
			cfg.Storage.Backend = StoragePostgres
		}
	}
	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = GeneratorOffline
		if cfg.Generator.GeminiAPIKey != "" {
			cfg.Generator.Provider = GeneratorGemini
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}

	switch cfg.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if cfg.Storage.AccountStateFile == "" {
			return fmt.Errorf("AUTH_USER_STATE_FILE must not be empty")
		}
		if cfg.Storage.StoryStateFile == "" {
			return fmt.Errorf("STORY_STATE_FILE must not be empty")
		}
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, file, postgres; got %q", cfg.Storage.Backend)
	}

	if cfg.Auth.SessionTTL <= 0 {
		return fmt.Errorf("AUTH_SESSION_TTL_SEC must be > 0")
	}
	if cfg.Auth.SessionSweepInterval <= 0 {
		return fmt.Errorf("AUTH_SESSION_SWEEP_SEC must be > 0")
	}
	switch cfg.Auth.SessionBackend {
	case SessionsMemory:
	case SessionsRedis:
		if cfg.Auth.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis session backend")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be one of memory, redis; got %q", cfg.Auth.SessionBackend)
	}
	if cfg.Auth.PBKDF2Iterations <= 0 {
		return fmt.Errorf("AUTH_PBKDF2_ITERATIONS must be > 0")
	}
	if cfg.Auth.PBKDF2KeyLength < 16 {
		return fmt.Errorf("AUTH_PBKDF2_KEYLEN must be >= 16")
	}
	if cfg.Auth.MinUsernameLength < 1 || cfg.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("minimum username and password lengths must be >= 1")
	}

	switch cfg.Generator.Provider {
	case GeneratorOffline:
	case GeneratorGemini:
		if cfg.Generator.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini generator")
		}
	default:
		return fmt.Errorf("GENERATOR_PROVIDER must be one of gemini, offline; got %q", cfg.Generator.Provider)
	}
	if cfg.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATE_TIMEOUT_SEC must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
