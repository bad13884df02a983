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
	"github.com/redis/go-redis/v9"

	"fieldqa/api/internal/app"
	"fieldqa/api/internal/attach"
	"fieldqa/api/internal/auth"
	"fieldqa/api/internal/authpw"
	"fieldqa/api/internal/config"
	"fieldqa/api/internal/enrich"
	"fieldqa/api/internal/feed"
	"fieldqa/api/internal/search"
	"fieldqa/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var broker app.Broker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("bad REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer rdb.Close()
		broker = feed.NewBroker(rdb)
		log.Printf("Live change feed enabled via Redis")
	} else {
		log.Printf("REDIS_URL unset, live feed disabled; clients fall back to backfill")
	}

	pgSearch := search.NewPgSearch(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgSearch)

	var attachments *attach.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		attachments, err = attach.NewService(ctx, attach.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
	} else {
		log.Printf("MINIO_ENDPOINT unset, attachment uploads disabled")
	}

	service := app.NewService(app.ServiceOptions{
		Store:       dataStore,
		Tokens:      auth.NewTokens(cfg.JWTSecret, cfg.AccessTTL),
		Passwords:   authpw.NewService(dataStore),
		Broker:      broker,
		Resolver:    enrich.NewResolver(dataStore),
		Search:      searchService,
		Attachments: attachments,
	})

	if meiliClient != nil {
		go func() {
			if err := service.Reindex(ctx); err != nil {
				log.Printf("search: startup reindex: %v", err)
			}
		}()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /api/activity/stream holds the connection open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("FieldQA API listening on %s", cfg.Addr)
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
