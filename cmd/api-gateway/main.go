package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-timetable/api/swagger"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/models"
	"github.com/noah-isme/sma-timetable/internal/repository"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/cache"
	"github.com/noah-isme/sma-timetable/pkg/config"
	"github.com/noah-isme/sma-timetable/pkg/database"
	"github.com/noah-isme/sma-timetable/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
)

// @title SMA Timetable API
// @version 1.0.0
// @description Generates conflict-free weekly timetables for every stream of a school.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "timetable", logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	schoolData := repository.NewSchoolDataRepository(db)
	prefRepo := repository.NewTeacherPreferenceRepository(db)
	engineOpts := engineOptions(cfg.Scheduler)

	timetableSvc := service.NewTimetableService(
		schoolData,
		prefRepo,
		repository.NewTimetableRepository(db),
		db,
		cacheSvc,
		metrics,
		validate,
		logr.Named("timetable"),
		service.TimetableServiceConfig{
			Engine:      engineOpts,
			ProposalTTL: cfg.Scheduler.ProposalTTL,
			CacheTTL:    cfg.Cache.TTL,
			Calendar:    calendarConfig(cfg.Scheduler.Calendar, logr),
		},
	)

	var jobSvc *service.TimetableJobService
	if cfg.Jobs.Workers > 0 {
		jobSvc = service.NewTimetableJobService(timetableSvc, metrics, logr.Named("jobs"), service.TimetableJobConfig{
			Workers:    cfg.Jobs.Workers,
			Retries:    cfg.Jobs.Retries,
			RetryDelay: time.Second,
		})
		jobSvc.Start(ctx)
	}

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	r := newRouter(cfg, logr, metrics, service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer),
		handler.NewTimetableHandler(timetableSvc, jobSvc, cfg.APIPrefix),
		handler.NewTeacherPreferenceHandler(service.NewTeacherPreferenceService(schoolData, prefRepo, engineOpts, validate, logr.Named("preferences"))),
		handler.NewHealthHandler(metrics, deps, logr))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	if jobSvc != nil {
		jobSvc.Stop()
	}
}

func newRouter(
	cfg *config.Config,
	logr *zap.Logger,
	metrics *service.MetricsService,
	tokens *service.TokenService,
	timetables *handler.TimetableHandler,
	preferences *handler.TeacherPreferenceHandler,
	health *handler.HealthHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, cfg.Log.SlowRequest))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix,
		internalmiddleware.WithResponseMeta(),
		internalmiddleware.JWT(tokens),
		internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin),
		internalmiddleware.SchoolScope(),
	)
	api.POST("/schools/:schoolId/timetables/generate", timetables.Generate)
	api.GET("/schools/:schoolId/timetables", timetables.List)
	api.GET("/schools/:schoolId/timetables/export", timetables.Export)
	api.POST("/schools/:schoolId/timetables/jobs", timetables.SubmitJob)
	api.POST("/timetables/proposals/:proposalId/save", timetables.SaveProposal)
	api.GET("/timetable-jobs/:id", timetables.GetJob)
	api.GET("/schools/:schoolId/teachers/:teacherId/preferences", preferences.Get)
	api.PUT("/schools/:schoolId/teachers/:teacherId/preferences", preferences.Upsert)

	return r
}

func engineOptions(cfg config.SchedulerConfig) engine.Options {
	return engine.Options{
		PeriodsByType:      cfg.PeriodsByType,
		DefaultSchoolType:  cfg.DefaultSchoolType,
		MaxSteps:           cfg.MaxSteps,
		TimeBudget:         cfg.TimeBudget,
		ImprovementSteps:   cfg.ImprovementSteps,
		Seed:               cfg.Seed,
		Parallel:           cfg.Parallel,
		DifficultThreshold: cfg.DifficultThreshold,
		Weights: &engine.Weights{
			DifficultAdjacency: cfg.Weights.DifficultAdjacency,
			SameDayRepeat:      cfg.Weights.SameDayRepeat,
			Balance:            cfg.Weights.Balance,
			Workload:           cfg.Weights.Workload,
		},
	}
}

func calendarConfig(cfg config.CalendarConfig, logr *zap.Logger) service.CalendarConfig {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logr.Warn("unknown scheduler timezone, using UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}
	return service.CalendarConfig{DayStart: cfg.DayStart, PeriodLength: cfg.PeriodLength, Location: loc}
}
