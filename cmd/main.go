package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhizomelab/rhizome-backend/internal/clients/redis"
	"github.com/rhizomelab/rhizome-backend/internal/data/repos"
	"github.com/rhizomelab/rhizome-backend/internal/db"
	"github.com/rhizomelab/rhizome-backend/internal/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/handlers"
	"github.com/rhizomelab/rhizome-backend/internal/match"
	"github.com/rhizomelab/rhizome-backend/internal/middleware"
	"github.com/rhizomelab/rhizome-backend/internal/observability"
	"github.com/rhizomelab/rhizome-backend/internal/platform/envutil"
	"github.com/rhizomelab/rhizome-backend/internal/platform/logger"
	"github.com/rhizomelab/rhizome-backend/internal/recovery"
	"github.com/rhizomelab/rhizome-backend/internal/server"
	"github.com/rhizomelab/rhizome-backend/internal/services"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.String("OTEL_SERVICE_NAME", "rhizome-backend"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})

	// Env
	jwtSecret := envutil.String("JWT_SECRET_KEY", "defaultsecret")
	accessTTL := envutil.Duration("ACCESS_TOKEN_TTL", time.Hour)
	refreshTTL := envutil.Duration("REFRESH_TOKEN_TTL", 24*time.Hour)
	matchCfg := match.LoadConfigFromEnv()

	// Database
	dbService, err := db.NewService(log)
	if err != nil {
		log.Fatal("database init failed", "error", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Fatal("database migration failed", "error", err)
	}
	gdb := dbService.DB()

	// Repos
	userRepo := repos.NewUserRepo(gdb, log)
	userTokenRepo := repos.NewUserTokenRepo(gdb, log)
	componentRepo := repos.NewComponentRepo(gdb, log)

	// Core
	store := ecs.NewStore(gdb, log)
	engine := match.NewEngine(matchCfg, log)
	queue := recovery.NewQueue(gdb, log)

	var notifier recovery.Notifier = recovery.NewNopNotifier()
	if envutil.String("REDIS_ADDR", "") != "" {
		bus, err := redis.NewBus(log)
		if err != nil {
			log.Warn("redis bus init failed, recovery events disabled", "error", err)
		} else {
			defer bus.Close()
			notifier = bus
		}
	}

	// Services
	authService := services.NewAuthService(gdb, log, userRepo, userTokenRepo, jwtSecret, accessTTL, refreshTTL)
	annotationService := services.NewAnnotationService(store, log, matchCfg.ContextRadius)
	sparkService := services.NewSparkService(store, log, matchCfg.ContextRadius)
	flashcardService := services.NewFlashcardService(store, log)
	importService := services.NewImportService(store, log, engine, matchCfg)

	// HTTP
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:       handlers.NewAuthHandler(authService),
		AuthMiddleware:    middleware.NewAuthMiddleware(log, authService),
		AnnotationHandler: handlers.NewAnnotationHandler(annotationService),
		SparkHandler:      handlers.NewSparkHandler(sparkService),
		FlashcardHandler:  handlers.NewFlashcardHandler(flashcardService),
		RecoveryHandler:   handlers.NewRecoveryHandler(gdb, componentRepo, engine, matchCfg, notifier, queue, log),
		ImportHandler:     handlers.NewImportHandler(importService),
	})

	srv := &http.Server{
		Addr:    ":" + envutil.String("PORT", "8080"),
		Handler: router,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}
}
