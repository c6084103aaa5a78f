package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"workhub/collab/internal/app"
	"workhub/collab/internal/attachments"
	"workhub/collab/internal/auth"
	"workhub/collab/internal/channel"
	"workhub/collab/internal/config"
	"workhub/collab/internal/gitrepo"
	"workhub/collab/internal/logging"
	"workhub/collab/internal/rest"
	"workhub/collab/internal/search"
	"workhub/collab/internal/session"
	"workhub/collab/internal/store"
	"workhub/collab/internal/versions"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	if cfg.APIToken != "" {
		id, err := auth.IdentityFromToken(cfg.APIToken, time.Now())
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			logger.Warn("api token expired", zap.Time("expires_at", id.ExpiresAt))
		case err != nil:
			logger.Warn("api token unreadable", zap.Error(err))
		}
		if cfg.UserID == "" {
			cfg.UserID = id.UserID
		}
		if cfg.TenantID == "" {
			cfg.TenantID = id.TenantID
		}
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		logger.Fatal("COLLAB_USER_ID is required when the api token carries no subject")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state := store.New(cfg.UserID)
	api := rest.New(cfg.APIURL, cfg.APIToken, cfg.TenantID, cfg.RequestTimeout)
	events := channel.New(channel.Options{
		URL:      cfg.ChannelURL,
		Token:    cfg.APIToken,
		TenantID: cfg.TenantID,
		OnStatus: app.ObserveConnection(state),
		Logger:   logger,
	})

	var history versions.Store = versions.NewREST(api)
	if strings.TrimSpace(cfg.VersionsDir) != "" {
		if err := os.MkdirAll(cfg.VersionsDir, 0o755); err != nil {
			logger.Fatal("failed to create versions dir", zap.Error(err))
		}
		content := func(documentID string) json.RawMessage {
			doc, _ := state.Document(documentID)
			return doc.State.Content
		}
		mirror := versions.NewGit(gitrepo.New(cfg.VersionsDir), content, cfg.UserID)
		history = versions.NewMirrored(versions.NewREST(api), mirror, logger)
		logger.Info("mirroring versions to git", zap.String("dir", cfg.VersionsDir))
	}

	deps := app.Deps{
		State:    state,
		Channel:  events,
		API:      api,
		Versions: history,
		Logger:   logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := session.NewRedisStore(cfg.RedisURL, cfg.TenantID, cfg.UserID)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer cache.Close()
		deps.Cache = cache
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		uploader, err := attachments.NewMinio(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			logger.Fatal("attachment storage setup failed", zap.Error(err))
		}
		if err := uploader.EnsureBucket(ctx); err != nil {
			logger.Warn("attachment bucket not ready", zap.String("bucket", cfg.S3Bucket), zap.Error(err))
		}
		deps.Uploader = uploader
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, search.NewLocal(state), logger)

	service := app.New(cfg, deps)

	if err := events.Connect(ctx); err != nil {
		logger.Warn("event channel unavailable, running on REST only", zap.Error(err))
	}
	if cfg.DocumentID != "" {
		if err := service.JoinDocument(ctx, cfg.DocumentID); err != nil {
			logger.Warn("initial join failed", zap.String("document_id", cfg.DocumentID), zap.Error(err))
		}
	}
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error", zap.Error(err))
	}

	go func() {
		if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event loop stopped", zap.Error(err))
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("collab listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := service.SaveSession(shutdownCtx); err != nil {
		logger.Warn("session not saved", zap.Error(err))
	}
	if err := events.Close(); err != nil {
		logger.Warn("channel close error", zap.Error(err))
	}
}
