package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"resolutionbingo/api/internal/app"
	"resolutionbingo/api/internal/authpw"
	"resolutionbingo/api/internal/config"
	"resolutionbingo/api/internal/email"
	"resolutionbingo/api/internal/realtime"
	"resolutionbingo/api/internal/search"
	"resolutionbingo/api/internal/session"
	"resolutionbingo/api/internal/storage"
	"resolutionbingo/api/internal/store"
)

func main() {
	// A local .env is a dev convenience; deployments configure through the
	// environment.
	_ = godotenv.Load()

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	passwords := authpw.NewService(dataStore, cfg.JWTSecret)
	mailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	var backend storage.Backend
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Storing proof uploads in MinIO bucket %q at %s", cfg.MinioBucket, cfg.MinioEndpoint)
		backend, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	} else {
		log.Printf("Storing proof uploads under %s", cfg.UploadsDir)
		backend, err = storage.NewDiskStore(cfg.UploadsDir)
		if err != nil {
			log.Fatalf("uploads dir failed: %v", err)
		}
	}
	files := storage.NewService(backend, cfg.MaxUploadBytes)

	pgIndex := search.NewPg(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgIndex)
	searchService.ReindexAllFromPG(ctx)

	hub := realtime.NewHub()
	var notify *realtime.Notifier
	if strings.TrimSpace(cfg.RedisURL) != "" {
		notify, err = realtime.NewRedisNotifier(hub, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
	} else {
		notify = realtime.NewNotifier(hub)
	}
	defer notify.Close()

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, passwords, mailService, files, searchService, notify)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, passwords, mailService, files, searchService, notify)
	}

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Resolution Bingo API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
