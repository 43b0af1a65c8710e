package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"verifyaura/internal/api"
	"verifyaura/internal/auth"
	"verifyaura/internal/cache"
	"verifyaura/internal/captcha"
	"verifyaura/internal/certid"
	"verifyaura/internal/config"
	"verifyaura/internal/db"
	"verifyaura/internal/notify"
	"verifyaura/internal/rate"
	"verifyaura/internal/service"
	"verifyaura/internal/store"
	"verifyaura/internal/version"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "verifyaura").Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg)
	zerolog.DefaultContextLogger = &log

	sqdb, err := db.Open(db.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		Path:        cfg.DBPath,
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open db")
	}
	defer sqdb.Close()
	if err := db.ApplyMigrations(sqdb, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.MigrationsDir).Msg("migrations")
	}

	verifier, err := auth.NewJWTVerifier(auth.Config{
		PEMKey:            cfg.ClerkJWTKey,
		JWKSURL:           cfg.ClerkJWKSURL,
		HS256Secret:       cfg.AuthHS256Secret,
		Issuer:            cfg.ClerkIssuer,
		AuthorizedParties: cfg.ClerkAuthorizedParties,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("auth verifier")
	}
	defer verifier.Close()

	memo := cache.New(cache.Config{
		TTL:             cfg.CacheTTL,
		MaxEntries:      cfg.CacheMaxEntries,
		CleanupInterval: cfg.CacheCleanupInterval(),
	}, log)
	defer memo.Close()

	adminLimiter := rate.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterIdleTTL)
	defer adminLimiter.Close()
	verifyLimiter := rate.NewLimiter(cfg.VerifyRateLimitRPS, cfg.VerifyRateLimitBurst, limiterIdleTTL)
	defer verifyLimiter.Close()

	human := captcha.NewVerifier(captcha.Config{
		Enabled:   cfg.CaptchaEnabled,
		Provider:  cfg.CaptchaProvider,
		VerifyURL: cfg.CaptchaVerifyURL,
		Secret:    cfg.CaptchaSecret,
	}, log)

	svc := service.New(cfg, store.New(sqdb), certid.New(log), memo, notify.NewSender(cfg, log), log)
	r := api.NewRouter(cfg, svc, api.Options{
		Verifier:      verifier,
		Captcha:       human,
		AdminLimiter:  adminLimiter,
		VerifyLimiter: verifyLimiter,
		Log:           log,
	})

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		v := version.Current()
		log.Info().Str("addr", cfg.ListenAddr).Str("db_driver", cfg.DBDriver).
			Str("version", v.Version).Str("commit", v.Commit).Msg("listening")
		errCh <- hsrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}
}
