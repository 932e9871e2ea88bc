// Package config loads docgate settings from the environment.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const (
	defaultListenAddr  = ":9090"
	defaultDatabaseURL = "data/docgate.db"
	defaultJWTSecret   = "data/.sk"
)

type Config struct {
	ListenAddr    string
	DatabaseURL   string
	JWTSecret     string
	JWTSecretFile string
	JWTTTL        time.Duration
	CORSOrigins   []string
	GinMode       string

	MayanURL      string
	MayanUser     string
	MayanPassword string
	MayanTimeout  time.Duration
	MayanCacheTTL time.Duration

	LogLevel  zerolog.Level
	LogFormat string

	DashboardPushInterval time.Duration

	BotToken  string
	WebAppURL string
}

// IsPostgres reports whether DatabaseURL names a postgres database rather
// than a sqlite file.
func (c Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when there is one.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		ListenAddr:    orDefault(getenv("DOCGATE_LISTEN_ADDR"), defaultListenAddr),
		DatabaseURL:   orDefault(getenv("DATABASE_URL"), defaultDatabaseURL),
		JWTSecret:     getenv("JWT_SECRET"),
		JWTSecretFile: orDefault(getenv("JWT_SECRET_FILE"), defaultJWTSecret),
		GinMode:       getenv("GIN_MODE"),
		MayanURL:      getenv("MAYAN_URL"),
		MayanUser:     getenv("MAYAN_ADMIN_USER"),
		MayanPassword: getenv("MAYAN_ADMIN_PASSWORD"),
		LogFormat:     orDefault(getenv("LOG_FORMAT"), "json"),
		BotToken:      getenv("TELEGRAM_BOT_TOKEN"),
		WebAppURL:     getenv("TELEGRAM_WEB_APP_URL"),
	}

	var err error
	durations := []struct {
		name string
		def  time.Duration
		dst  *time.Duration
	}{
		{"JWT_TTL", time.Hour, &cfg.JWTTTL},
		{"MAYAN_TIMEOUT", 10 * time.Second, &cfg.MayanTimeout},
		{"MAYAN_CACHE_TTL", 30 * time.Second, &cfg.MayanCacheTTL},
		{"DASHBOARD_PUSH_INTERVAL", 30 * time.Second, &cfg.DashboardPushInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(getenv(d.name), d.def); err != nil {
			return Config{}, errors.Annotatef(err, "parsing %s", d.name)
		}
	}

	cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(orDefault(getenv("LOG_LEVEL"), "info")))
	if err != nil {
		return Config{}, errors.NewNotValid(err, "parsing LOG_LEVEL")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return Config{}, errors.NotValidf("LOG_FORMAT %q", cfg.LogFormat)
	}

	if origins := getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseDuration(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.NewNotValid(err, "")
	}
	if d <= 0 {
		return 0, errors.NotValidf("non-positive duration %q", v)
	}
	return d, nil
}

// ResolveJWTSecret returns JWTSecret when set. Otherwise it reads the secret
// file, generating and persisting a new random secret on first start.
func (c *Config) ResolveJWTSecret(logger zerolog.Logger) error {
	if c.JWTSecret != "" {
		return nil
	}
	secret, err := os.ReadFile(c.JWTSecretFile)
	if err == nil {
		logger.Info().Str("file", c.JWTSecretFile).Msg("loaded JWT secret")
		c.JWTSecret = strings.TrimSpace(string(secret))
		return nil
	}
	if !os.IsNotExist(err) {
		return errors.Annotate(err, "reading JWT secret file")
	}

	logger.Info().Msg("JWT secret file not found, generating a new one")
	newSecret, err := generateRandomString(32)
	if err != nil {
		return errors.Annotate(err, "generating JWT secret")
	}
	if err := os.MkdirAll(filepath.Dir(c.JWTSecretFile), 0o700); err != nil {
		return errors.Annotate(err, "creating JWT secret directory")
	}
	if err := os.WriteFile(c.JWTSecretFile, []byte(newSecret), 0o600); err != nil {
		return errors.Annotate(err, "writing JWT secret file")
	}
	logger.Info().Str("file", c.JWTSecretFile).Msg("generated and saved new JWT secret")
	c.JWTSecret = newSecret
	return nil
}

func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
