package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

const (
	StoreDriverMySQL  = "mysql"
	StoreDriverMemory = "memory"
)

// Config aggregates runtime configuration for the gateway and supporting services.
type Config struct {
	ListenAddr      string
	LogLevel        string
	StoreDriver     string
	MySQLDSN        string
	UpstreamAPIKey  string
	UpstreamBaseURL string
	UpstreamPath    string
	UpstreamModel   string
	UpstreamTimeout time.Duration

	DefaultMaxTokens   int
	DefaultTemperature float64

	StartingCredits int
	FreeDailyCap    int
	CharsPerToken   int
	TokensPerCredit int
	CommitAttempts  int
	UsageLocation   *time.Location

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	S3Prefix       string

	TelegramBotToken    string
	TelegramAlertChatID int64

	AdminUsername string
	AdminPassword string
}

// ArchiveEnabled reports whether billing gaps are archived to S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// AdminEnabled reports whether the operator routes are mounted.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

// AlertsEnabled reports whether billing gaps are announced to an operator chat.
func (c Config) AlertsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultUpstreamBaseURL = "https://api.deepseek.com"

	cfg := Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":10000"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMySQL)),
		UpstreamBaseURL:    normalizeBaseURL(getEnv("UPSTREAM_BASE_URL", defaultUpstreamBaseURL), defaultUpstreamBaseURL),
		UpstreamPath:       getEnv("UPSTREAM_PATH", "/v1/chat/completions"),
		UpstreamModel:      getEnv("UPSTREAM_MODEL", "deepseek-coder"),
		UpstreamTimeout:    time.Second * time.Duration(getInt("UPSTREAM_TIMEOUT_SECONDS", 60)),
		DefaultMaxTokens:   getInt("DEFAULT_MAX_TOKENS", 8000),
		DefaultTemperature: getFloat("DEFAULT_TEMPERATURE", 0.3),
		StartingCredits:    getInt("STARTING_CREDITS", 100),
		FreeDailyCap:       getInt("FREE_DAILY_CREDIT_CAP", 100),
		CharsPerToken:      getInt("ESTIMATOR_CHARS_PER_TOKEN", 4),
		TokensPerCredit:    getInt("ESTIMATOR_TOKENS_PER_CREDIT", 100),
		CommitAttempts:     getInt("LEDGER_COMMIT_ATTEMPTS", 5),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           os.Getenv("S3_REGION"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3UsePathStyle:     getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:           getEnv("S3_PREFIX", "billing-gaps"),
	}

	cfg.UpstreamAPIKey = os.Getenv("DEEPSEEK_API_KEY")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramAlertChatID = getInt64("TELEGRAM_ALERT_CHAT_ID", 0)
	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	loc, err := time.LoadLocation(getEnv("USAGE_TIMEZONE", "UTC"))
	if err != nil {
		return Config{}, fmt.Errorf("usage timezone: %w", err)
	}
	cfg.UsageLocation = loc

	var missing []string
	if cfg.UpstreamAPIKey == "" {
		missing = append(missing, "DEEPSEEK_API_KEY")
	}
	switch cfg.StoreDriver {
	case StoreDriverMySQL:
		dsn := os.Getenv("MYSQL_DSN")
		if dsn == "" {
			missing = append(missing, "MYSQL_DSN")
			break
		}
		normalized, err := normalizeDSN(dsn)
		if err != nil {
			return Config{}, err
		}
		cfg.MySQLDSN = normalized
	case StoreDriverMemory:
	default:
		return Config{}, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
	if cfg.ArchiveEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.UpstreamTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUT_SECONDS must be positive")
	}
	if cfg.StartingCredits < 0 {
		return Config{}, fmt.Errorf("STARTING_CREDITS must not be negative")
	}

	return cfg, nil
}

// normalizeDSN forces time parsing in UTC so usage timestamps compare
// correctly against the start of the day.
func normalizeDSN(dsn string) (string, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse MYSQL_DSN: %w", err)
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile overlays the first env file found. Running without one is
// fine; containers usually pass plain environment variables.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
