package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"identity-bridge/internal/config"
	"identity-bridge/internal/db"
	apihttp "identity-bridge/internal/http"
	"identity-bridge/internal/idp"
	"identity-bridge/internal/repository"
	"identity-bridge/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	profileRepo := repository.NewPgProfileRepository(pool)

	// Barrido único al arrancar: filas base huérfanas que quedaron de una
	// creación parcial cuyo delete compensatorio también falló.
	if removed, err := profileRepo.DeleteOrphans(ctx, time.Hour); err != nil {
		logger.Warn("orphan sweep failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info("orphan sweep removed rows", zap.Int64("count", removed))
	}

	var (
		certCache   idp.CertCache
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			redisClient = nil
		} else {
			certCache = idp.NewRedisCertCache(redisClient)
		}
		cancel()
	}

	keys := idp.NewKeySource(cfg.AuthCertsURL, certCache)
	verifier := idp.NewTokenVerifier(logger, keys, cfg.AuthIssuer, cfg.AuthProjectID)
	identitySvc := service.NewIdentityService(logger, profileRepo)

	identityHandler := apihttp.NewIdentityHandler(logger, identitySvc)

	checks := map[string]apihttp.CheckFunc{
		"database": func(ctx context.Context) error {
			return db.Ping(ctx, pool)
		},
		"identity_provider": keys.Healthy,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	healthHandler := apihttp.NewHealthHandler(logger, checks)

	router := apihttp.NewRouter(logger, identityHandler, healthHandler, apihttp.RequireAuth(logger, verifier))

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
