package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tessera/api/internal/app"
	"tessera/api/internal/cache"
	"tessera/api/internal/config"
	"tessera/api/internal/docstore"
	"tessera/api/internal/graph"
	"tessera/api/internal/imagestore"
	"tessera/api/internal/search"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := docstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := docstore.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}
	store := docstore.NewPostgresStore(db)

	resolveCache, err := cache.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer resolveCache.Close()

	var images graph.ImageStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := imagestore.NewMinio(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		images = minioStore
	} else {
		log.Printf("WARNING: no MINIO_ENDPOINT configured, preview images are kept in memory")
		images = imagestore.NewMemory()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	index := search.NewService(meiliClient)

	service := app.NewService(store, resolveCache, images, index)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: index bootstrap error (will retry on next restart): %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status": "ok",
			"redis":  resolveCache.Ping(r.Context()) == nil,
			"search": index.Healthy(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Tessera API listening on %s", cfg.Addr)
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
