package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/iliyamo/filevault/internal/config"
	"github.com/iliyamo/filevault/internal/handler"
	"github.com/iliyamo/filevault/internal/middleware"
	"github.com/iliyamo/filevault/internal/queue"
	"github.com/iliyamo/filevault/internal/router"
	"github.com/iliyamo/filevault/internal/service"
	"github.com/iliyamo/filevault/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	c, err := newCore(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, log := c.cfg, c.log

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if cl, ok := store.(io.Closer); ok {
		defer cl.Close()
	}

	auth, err := service.NewAuthService(c.userRepo, c.ledger, c.issuer, c.hasher,
		service.AuthConfig{AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL}, log, c.metrics, c.events)
	if err != nil {
		return err
	}
	files := service.NewFileService(c.fileRepo, c.userRepo, store,
		service.FileConfig{PresignDefaultTTL: cfg.PresignDefaultTTL, PresignMaxTTL: cfg.PresignMaxTTL}, log, c.metrics, c.events)

	// redis is optional; without it the auth limiter is a pass-through
	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil && cfg.RateLimit.Enabled {
		log.Warn().Str("addr", cfg.Redis.Addr).Msg("redis unreachable, rate limiting disabled")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log, c.metrics))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowCredentials: true,
	}))
	// multipart framing on top of the largest accepted file
	e.Use(echomw.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes+1<<20, 10)))

	router.RegisterRoutes(e, c.db, c.metrics)
	router.RegisterAuth(e, handler.NewAuthHandler(auth, c.users, *cfg, log), middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	router.RegisterUsers(e, handler.NewUserHandler(c.users, auth, log), auth)
	router.RegisterFiles(e, handler.NewFileHandler(files, cfg.MaxUploadBytes, log), auth)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		service.NewSweeper(c.ledger, cfg.PurgeEvery, log, c.metrics).Run(ctx)
	}()
	if cfg.AMQP.Enabled {
		consumer := &queue.AuditConsumer{URL: cfg.AMQP.URL, Queue: cfg.AMQP.Queue, LogPath: cfg.AMQP.AuditLog, Log: log}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("audit consumer stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("storage", cfg.Storage.Provider).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	return nil
}
