package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"examplanner/internal/ai"
	appsvc "examplanner/internal/app"
	"examplanner/internal/bootstrap"
	"examplanner/internal/cache"
	"examplanner/internal/pkg/pdfextract"
	"examplanner/internal/planner"
	"examplanner/internal/platform/rabbitmq"
	"examplanner/internal/repository"
	"examplanner/internal/transport/http/handler"
	"examplanner/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	authHandler := handler.NewAuthHandler(authService)

	plannerService := buildPlannerService(app)
	plannerHandler := handler.NewPlannerHandler(plannerService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	plannerGroup := v1.Group("/planner")
	plannerGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	plannerGroup.POST("/sessions", plannerHandler.CreateSession)
	plannerGroup.GET("/sessions/:id", plannerHandler.GetSession)
	plannerGroup.GET("/sessions/:id/events", plannerHandler.ListEvents)
	plannerGroup.POST("/sessions/:id/courses", plannerHandler.RegisterCourses)
	plannerGroup.POST("/sessions/:id/files", plannerHandler.UploadFiles)
	plannerGroup.POST("/sessions/:id/links", plannerHandler.LinkFiles)
	plannerGroup.POST("/sessions/:id/ingest", plannerHandler.RunIngestion)
	plannerGroup.POST("/sessions/:id/estimate", plannerHandler.RunEstimation)
	plannerGroup.POST("/sessions/:id/plan", plannerHandler.RunPlanning)
	plannerGroup.POST("/sessions/:id/review", plannerHandler.RunReview)
	plannerGroup.POST("/sessions/:id/export", plannerHandler.RunExport)

	return router
}

func buildPlannerService(app *bootstrap.App) *appsvc.PlannerService {
	cfg := app.Config.Planner

	store := repository.NewSessionRepository(app.MySQL)
	eventRepo := repository.NewCollabEventRepository(app.MySQL)

	chatCfg := ai.ChatConfig{
		BaseURL: app.Config.LLM.BaseURL,
		APIKey:  app.Config.LLM.APIKey,
		Model:   app.Config.LLM.Model,
	}
	retryCfg := ai.RetryConfig{
		MaxRetries: cfg.CapabilityMaxRetries,
		BaseDelay:  time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
	}
	llmClient := ai.NewOpenAICompatibleClient()
	topics := ai.NewTopicExtractorLLM(llmClient, chatCfg, retryCfg)
	estimator := ai.NewWorkloadEstimatorLLM(llmClient, chatCfg, retryCfg)

	extractor := planner.NewChunkedExtractor(
		store,
		pdfextract.New(),
		topics,
		planner.ExtractorConfig{
			MaxPagesPerChunk: cfg.MaxChunkPages,
			MaxCharsPerChunk: cfg.MaxChunkChars,
			Pacing:           time.Duration(cfg.PacingMillis) * time.Millisecond,
		},
	)
	estimation := planner.NewEstimationStage(store, estimator, planner.EstimationConfig{
		MinMinutes: cfg.MinTopicMinutes,
		MaxMinutes: cfg.MaxTopicMinutes,
	})
	scheduler := planner.NewScheduler(store)
	review := planner.NewReviewLoop(store, scheduler, planner.ReviewConfig{
		CapIncrementMinutes: cfg.CapIncrementMinutes,
		CapUpperMinutes:     cfg.CapUpperMinutes,
		MaxRevisionRounds:   cfg.MaxRevisionRounds,
		MinBlockMinutes:     cfg.MinBlockMinutes,
		MaxBlockMinutes:     cfg.MaxBlockMinutes,
	})

	return appsvc.NewPlannerService(appsvc.PlannerServiceDeps{
		Store:      store,
		Registry:   planner.NewFileRegistry(store, cfg.ArtifactsDir),
		Extractor:  extractor,
		Estimation: estimation,
		Scheduler:  scheduler,
		Review:     review,
		Exporter:   planner.NewExporter(store, cfg.ArtifactsDir),
		Lock:       cache.NewSessionLock(app.Redis, time.Duration(cfg.LockTTLSeconds)*time.Second),
		Events:     rabbitmq.NewEventPublisher(app.MQConn, app.Config.RabbitMQ.CollabEventQueue),
		EventRepo:  eventRepo,
		Config:     cfg,
		Logger:     app.Logger,
	})
}
