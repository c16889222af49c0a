package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/repository"
	"github.com/noah-isme/approvals-api/internal/service"
	"github.com/noah-isme/approvals-api/migrations"
	"github.com/noah-isme/approvals-api/pkg/cache"
	"github.com/noah-isme/approvals-api/pkg/config"
	"github.com/noah-isme/approvals-api/pkg/database"
	"github.com/noah-isme/approvals-api/pkg/logger"
)

// @title Approvals API
// @version 1.0.0
// @description Moderated registration and account change workflow
// @BasePath /api/v1
// @schemes http

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.RunMigrations {
		if err := database.Migrate(db, migrations.FS); err != nil {
			logr.Sugar().Fatalw("failed to migrate database", "error", err)
		}
	}

	metrics := service.NewMetricsService()

	var redisClient redis.UniversalClient
	if cfg.Idempotency.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, idempotency keys disabled", zap.Error(err))
		} else {
			redisClient = client
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck
	idempotency := service.NewIdempotencyService(cacheRepo, metrics, cfg.Idempotency.TTL, logr, redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	audit := service.NewAuditService(userRepo, service.AuditConfig{
		Workers:    cfg.Audit.Workers,
		Retries:    cfg.Audit.Retries,
		BufferSize: cfg.Audit.BufferSize,
	}, metrics, logr)
	audit.Start(ctx)
	defer audit.Stop()

	studentApplier := service.NewStudentApplier(studentRepo, logr)
	workflow := service.NewWorkflowService(requestRepo, userRepo, repository.NewTransactor(db), logr,
		service.WithEntityApplier(models.RequestKindRegistration, service.NewRegistrationApplier(userRepo, logr)),
		service.WithEntityApplier(models.RequestKindChange, service.NewChangeApplier(userRepo, logr)),
		service.WithRequestTypeApplier(models.ChangeTypeCreateStudent, studentApplier),
		service.WithRequestTypeApplier(models.ChangeTypeUpdateStudent, studentApplier),
		service.WithRequestTypeApplier(models.ChangeTypeDeleteStudent, studentApplier),
		service.WithAuditRecorder(audit),
		service.WithIdempotency(idempotency),
		service.WithWorkflowMetrics(metrics),
	)
	queue := service.NewQueueService(workflow, metrics, logr)

	authSvc := service.NewAuthService(userRepo, validator.New(), audit, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	if created, err := authSvc.EnsureAdmin(ctx, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword); err != nil {
		logr.Warn("bootstrap admin not created", zap.Error(err))
	} else if created {
		logr.Info("bootstrap admin ready", zap.String("username", cfg.Bootstrap.AdminUsername))
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:     authSvc,
		workflow: workflow,
		queue:    queue,
		students: service.NewStudentService(studentRepo, logr),
		audit:    audit,
		metrics:  metrics,
		db:       db,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
