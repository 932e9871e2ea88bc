package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docgate/internal/access"
	"docgate/internal/api"
	"docgate/internal/api/handler"
	"docgate/internal/bot"
	"docgate/internal/config"
	"docgate/internal/mayan"
	"docgate/internal/model"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

// gormLogger forwards gorm warnings and slow queries to zerolog.
type gormLogger struct {
	logger zerolog.Logger
}

func (l gormLogger) Printf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func initDB(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	dbLogger := logger.New(
		gormLogger{log.With().Str("component", "gorm").Logger()},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	if cfg.IsPostgres() {
		dialector = postgres.Open(cfg.DatabaseURL)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.User{}, &model.AccessGrant{}, &model.Config{}); err != nil {
		return nil, err
	}

	var count int64
	db.Model(&model.User{}).Count(&count)
	if count == 0 {
		admin := model.User{
			Username: "admin",
			Email:    "admin@localhost",
			Password: "admin123",
			Role:     model.RoleAdmin,
		}
		if err := db.Create(&admin).Error; err != nil {
			return nil, err
		}
		log.Warn().Msg("created initial admin user with password 'admin123', change it now")
	}

	return db, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger depends on the configuration.
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	log := cfg.NewLogger(os.Stdout)
	log.Info().Str("version", version).Msg("starting docgate")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("docgate stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	if err := cfg.ResolveJWTSecret(log); err != nil {
		return err
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	db, err := initDB(cfg, log)
	if err != nil {
		return err
	}

	clk := clock.WallClock
	store := access.NewGormStore(db)
	users := access.NewGormUserDirectory(db)

	var (
		docs      access.DocumentRepository
		documents handler.DocumentSource
	)
	if cfg.MayanURL != "" {
		client := mayan.NewClient(mayan.Config{
			BaseURL:  cfg.MayanURL,
			Username: cfg.MayanUser,
			Password: cfg.MayanPassword,
			Timeout:  cfg.MayanTimeout,
			CacheTTL: cfg.MayanCacheTTL,
		}, clk, log)
		docs, documents = client, client
	} else {
		log.Warn().Msg("MAYAN_URL is not set, cabinet grants will never match")
	}

	authorizer := access.NewAuthorizer(store, docs, clk, log)
	dashboards := access.NewDashboards(store, clk)
	manager := access.NewManager(store, users, clk, log)

	botToken := func() string {
		return handler.ConfigValue(db, model.ConfigKeyTelegramBotToken, cfg.BotToken)
	}

	if token := botToken(); token != "" {
		webAppURL := handler.ConfigValue(db, model.ConfigKeyTelegramWebAppURL, cfg.WebAppURL)
		botHandler, err := bot.NewBotHandler(token, webAppURL, bot.NewService(db, authorizer, dashboards), log)
		if err != nil {
			return err
		}
		go botHandler.Start()
		defer botHandler.Stop()
		log.Info().Msg("telegram bot started")
	} else {
		log.Info().Msg("telegram bot token not configured, skipping bot")
	}

	router := api.NewRouter(api.Deps{
		DB:           db,
		Manager:      manager,
		Authorizer:   authorizer,
		Dashboards:   dashboards,
		Profiles:     users,
		Documents:    documents,
		JWTSecret:    cfg.JWTSecret,
		JWTTTL:       cfg.JWTTTL,
		CORSOrigins:  cfg.CORSOrigins,
		PushInterval: cfg.DashboardPushInterval,
		BotToken:     botToken,
		Clock:        clk,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
