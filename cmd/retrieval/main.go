package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chatlift/retrieval/internal/config"
	dbRedis "github.com/chatlift/retrieval/internal/db/redis"
	logpkg "github.com/chatlift/retrieval/internal/logger"
	"github.com/chatlift/retrieval/internal/metrics"
	searchrepo "github.com/chatlift/retrieval/internal/repository/search"
	"github.com/chatlift/retrieval/internal/resilience"
	chiTransport "github.com/chatlift/retrieval/internal/transport/chi"
	ollamaEmb "github.com/chatlift/retrieval/internal/transport/ollama"
	openaiEmb "github.com/chatlift/retrieval/internal/transport/openai"
	embeddinguc "github.com/chatlift/retrieval/internal/usecase/embedding"
	healthuc "github.com/chatlift/retrieval/internal/usecase/health"
	hybriduc "github.com/chatlift/retrieval/internal/usecase/hybrid"
	keyworduc "github.com/chatlift/retrieval/internal/usecase/keyword"
	vectoruc "github.com/chatlift/retrieval/internal/usecase/vector"
	"github.com/chatlift/retrieval/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting retrieval API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("fusion_algorithm", cfg.Search.Fusion.Algorithm),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.Register()
	metrics.RegisterHTTP()

	// The provider is resolved once here; nothing downstream switches on it.
	provider := buildProvider(cfg.Embedding, logger)

	exec := resilience.New("embedding", resilience.Config{
		MaxAttempts:     cfg.Embedding.Retry.MaxAttempts,
		InitialBackoff:  time.Duration(cfg.Embedding.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:      time.Duration(cfg.Embedding.Retry.MaxBackoffMS) * time.Millisecond,
		BreakerEnabled:  cfg.Embedding.Retry.BreakerEnabled,
		BreakerFailures: uint32(cfg.Embedding.Retry.BreakerFailures),
		BreakerTimeout:  time.Duration(cfg.Embedding.Retry.BreakerTimeoutMS) * time.Millisecond,
	}, logger)

	embeddingSvc := embeddinguc.New(provider, store, exec, embeddinguc.Config{
		Dimensions:        cfg.Embedding.Dimensions,
		MaxInputChars:     cfg.Embedding.MaxInputChars,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		ChunkDelay:        time.Duration(cfg.Embedding.ChunkDelayMS) * time.Millisecond,
		CacheSize:         cfg.Embedding.CacheSize,
		CacheTTL:          time.Duration(cfg.Embedding.CacheTTLSec) * time.Second,
		StoreTTL:          time.Duration(cfg.Embedding.StoreTTLSec) * time.Second,
		KeyPrefix:         cfg.Storage.KeyPrefix,
	}, logger)
	defer embeddingSvc.Close()
	logger.Info("Embedding service created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	repo := searchrepo.New(store, cfg.Storage.KeyPrefix)

	vectorSvc := vectoruc.New(repo, vectoruc.Config{
		DefaultThreshold:    cfg.Search.DefaultThreshold,
		DefaultLimit:        cfg.Search.DefaultLimit,
		Rerank:              cfg.Search.Rerank.Enabled,
		RerankSimWeight:     cfg.Search.Rerank.SimWeight,
		RerankOverlapWeight: cfg.Search.Rerank.OverlapWeight,
		CacheSize:           cfg.Search.Rerank.CacheSize,
		CacheTTL:            time.Duration(cfg.Search.Rerank.CacheTTLSec) * time.Second,
	}, logger)
	defer vectorSvc.Close()

	keywordSvc := keyworduc.New(repo, logger)

	engine := hybriduc.New(embeddingSvc, vectorSvc, keywordSvc, hybriduc.Config{
		Fusion: hybriduc.FusionConfig{
			Algorithm:     hybriduc.Algorithm(cfg.Search.Fusion.Algorithm),
			RRFK:          cfg.Search.Fusion.RRFK,
			VectorWeight:  cfg.Search.Fusion.VectorWeight,
			KeywordWeight: cfg.Search.Fusion.KeywordWeight,
			AdaptiveBlend: cfg.Search.Fusion.AdaptiveBlend,
		},
		SearchTimeout: time.Duration(cfg.Search.TimeoutMS) * time.Millisecond,
		CacheSize:     cfg.Search.CacheSize,
		CacheTTL:      time.Duration(cfg.Search.CacheTTLSec) * time.Second,
	}, logger)
	defer engine.Close()

	healthSvc := healthuc.New(store, embeddingSvc, engine)

	server := chiTransport.NewServer(engine, embeddingSvc, vectorSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildProvider resolves the configured embedding backend.
func buildProvider(cfg config.EmbeddingConfig, logger *zap.Logger) embeddinguc.Provider {
	switch cfg.Provider {
	case "ollama":
		return ollamaEmb.NewEmbedder(&ollamaEmb.Config{
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			MaxBatchSize: cfg.MaxBatchSize,
		})
	case "openai":
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			Dimensions:   cfg.Dimensions,
			MaxBatchSize: cfg.MaxBatchSize,
		})
	default:
		logger.Fatal("Unknown embedding provider", zap.String("provider", cfg.Provider))
		return nil
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request.
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
