package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pwardo/nextjs-threads/internal/app"
	"github.com/pwardo/nextjs-threads/internal/auth"
	"github.com/pwardo/nextjs-threads/internal/config"
	"github.com/pwardo/nextjs-threads/internal/logging"
	"github.com/pwardo/nextjs-threads/internal/media"
	"github.com/pwardo/nextjs-threads/internal/revalidate"
	"github.com/pwardo/nextjs-threads/internal/search"
	"github.com/pwardo/nextjs-threads/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat, cfg.IsProduction())
	log := logging.Log
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	dataStore := store.NewSQLStore(db)

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, dataStore)
	if index != nil {
		go searchService.ReindexAll(context.Background())
	}

	var publisher revalidate.Publisher = revalidate.Noop{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisPublisher, err := revalidate.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
		log.Info("publishing revalidation signals over redis")
	}

	var uploads *media.Uploader
	if strings.TrimSpace(cfg.MediaEndpoint) != "" {
		objects, err := media.NewMinioStore(ctx, cfg.MediaEndpoint, cfg.MediaAccessKey, cfg.MediaSecretKey, cfg.MediaBucket, cfg.MediaUseSSL)
		if err != nil {
			log.WithError(err).Fatal("object storage connection failed")
		}
		uploads = media.NewUploader(objects, mediaPublicURL(cfg))
	}

	service := app.New(cfg, dataStore, searchService, publisher, uploads)
	httpServer := app.NewHTTPServer(service, auth.NewVerifier(cfg.IdentitySecret, cfg.IdentityIssuer), cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("threads API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
}

// mediaPublicURL falls back to path-style bucket URLs on the storage endpoint.
func mediaPublicURL(cfg config.Config) string {
	if cfg.MediaPublicURL != "" {
		return cfg.MediaPublicURL
	}
	scheme := "http"
	if cfg.MediaUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cfg.MediaEndpoint, cfg.MediaBucket)
}
