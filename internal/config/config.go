package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	DBDriver          string
	DBDSN             string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	MigrationsDir     string

	TrustProxy         bool
	CORSAllowedOrigins []string
	WebDir             string

	SessionCookieName      string
	ClerkJWTKey            string
	ClerkJWKSURL           string
	ClerkIssuer            string
	ClerkAuthorizedParties []string
	AuthHS256Secret        string
	AdminRole              string

	QueryDefaultLimit    int
	QueryMaxLimit        int
	QueryMaxSearchLength int

	CacheTTL          time.Duration
	CacheMaxEntries   int
	CertIDMaxAttempts int

	RateLimitRPS         float64
	RateLimitBurst       int
	VerifyRateLimitRPS   float64
	VerifyRateLimitBurst int

	CaptchaEnabled   bool
	CaptchaProvider  string
	CaptchaVerifyURL string
	CaptchaSecret    string

	NotifySender           string
	SMTPHost               string
	SMTPPort               int
	SMTPFrom               string
	SMTPTLS                bool
	SMTPStartTLS           bool
	SMTPInsecureSkipVerify bool
	VerifyBaseURL          string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	LogLevel  string
	LogFormat string
}

// Load reads the environment, preloading an optional .env file (ENV_FILE, default
// ".env"). Variables already set in the process win over the file.
func Load() (Config, error) {
	envFile := env("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		DBDriver:                 strings.ToLower(env("DB_DRIVER", "sqlite")),
		DBDSN:                    env("DB_DSN", ""),
		DBPath:                   env("APP_DB_PATH", "./data/verifyaura.db"),
		DBMaxOpenConns:           envInt("DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		MigrationsDir:            env("MIGRATIONS_DIR", "migrations"),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		WebDir:                   env("WEB_DIR", ""),
		SessionCookieName:        env("AUTH_SESSION_COOKIE", "__session"),
		ClerkJWTKey:              env("CLERK_JWT_KEY", ""),
		ClerkJWKSURL:             env("CLERK_JWKS_URL", ""),
		ClerkIssuer:              env("CLERK_ISSUER", ""),
		ClerkAuthorizedParties:   envCSV("CLERK_AUTHORIZED_PARTIES"),
		AuthHS256Secret:          env("AUTH_HS256_SECRET", ""),
		AdminRole:                env("ADMIN_ROLE", "admin"),
		QueryDefaultLimit:        envInt("QUERY_DEFAULT_LIMIT", 10),
		QueryMaxLimit:            envInt("QUERY_MAX_LIMIT", 100),
		QueryMaxSearchLength:     envInt("QUERY_MAX_SEARCH_LENGTH", 100),
		CacheTTL:                 time.Duration(envInt("CACHE_TTL_SEC", 30)) * time.Second,
		CacheMaxEntries:          envInt("CACHE_MAX_ENTRIES", 500),
		CertIDMaxAttempts:        envInt("CERT_ID_MAX_ATTEMPTS", 5),
		RateLimitRPS:             envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:           envInt("RATE_LIMIT_BURST", 20),
		VerifyRateLimitRPS:       envFloat("VERIFY_RATE_LIMIT_RPS", 1),
		VerifyRateLimitBurst:     envInt("VERIFY_RATE_LIMIT_BURST", 10),
		CaptchaEnabled:           envBool("CAPTCHA_ENABLED", false),
		CaptchaProvider:          strings.ToLower(env("CAPTCHA_PROVIDER", "turnstile")),
		CaptchaVerifyURL:         env("CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
		CaptchaSecret:            env("CAPTCHA_SECRET", ""),
		NotifySender:             strings.ToLower(env("NOTIFY_SENDER", "log")),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPFrom:                 env("SMTP_FROM", "certificates@example.com"),
		SMTPTLS:                  envBool("SMTP_TLS", false),
		SMTPStartTLS:             envBool("SMTP_STARTTLS", true),
		SMTPInsecureSkipVerify:   envBool("SMTP_INSECURE_SKIP_VERIFY", false),
		VerifyBaseURL:            env("VERIFY_BASE_URL", ""),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		LogLevel:                 strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(env("LOG_FORMAT", "json")),
	}

	switch cfg.DBDriver {
	case "sqlite":
	case "pgx", "mysql":
		if strings.TrimSpace(cfg.DBDSN) == "" {
			return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=%s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("DB_DRIVER must be one of: sqlite, pgx, mysql")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.QueryMaxLimit <= 0 || cfg.QueryDefaultLimit <= 0 || cfg.QueryDefaultLimit > cfg.QueryMaxLimit {
		return Config{}, fmt.Errorf("QUERY_DEFAULT_LIMIT must be between 1 and QUERY_MAX_LIMIT")
	}
	if cfg.QueryMaxSearchLength <= 0 {
		return Config{}, fmt.Errorf("QUERY_MAX_SEARCH_LENGTH must be positive")
	}
	if cfg.CacheTTL < 0 || cfg.CacheMaxEntries < 0 {
		return Config{}, fmt.Errorf("cache settings must not be negative")
	}
	if cfg.CertIDMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("CERT_ID_MAX_ATTEMPTS must be positive")
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 || cfg.VerifyRateLimitRPS <= 0 || cfg.VerifyRateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("rate limits must be positive")
	}
	if cfg.ClerkJWTKey == "" && cfg.ClerkJWKSURL == "" && cfg.AuthHS256Secret == "" {
		return Config{}, fmt.Errorf("one of CLERK_JWT_KEY, CLERK_JWKS_URL or AUTH_HS256_SECRET is required")
	}
	if cfg.AuthHS256Secret != "" && len(cfg.AuthHS256Secret) < 32 {
		return Config{}, fmt.Errorf("AUTH_HS256_SECRET must be at least 32 chars")
	}
	if cfg.CaptchaEnabled {
		switch cfg.CaptchaProvider {
		case "turnstile", "hcaptcha", "cap":
		default:
			return Config{}, fmt.Errorf("CAPTCHA_PROVIDER must be one of: turnstile, hcaptcha, cap")
		}
		if strings.TrimSpace(cfg.CaptchaSecret) == "" || strings.TrimSpace(cfg.CaptchaVerifyURL) == "" {
			return Config{}, fmt.Errorf("CAPTCHA_SECRET and CAPTCHA_VERIFY_URL are required when CAPTCHA_ENABLED=true")
		}
	}
	switch cfg.NotifySender {
	case "log":
	case "smtp":
		if cfg.SMTPPort <= 0 || strings.TrimSpace(cfg.SMTPHost) == "" {
			return Config{}, fmt.Errorf("invalid SMTP host or port")
		}
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return cfg, nil
}

func (c Config) CacheCleanupInterval() time.Duration {
	if c.CacheTTL <= 0 {
		return 0
	}
	return 2 * c.CacheTTL
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envFloat(k string, d float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
