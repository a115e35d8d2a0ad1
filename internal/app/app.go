package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fixwork_backend/internal/cache"
	"fixwork_backend/internal/config"
	"fixwork_backend/internal/handlers"
	"fixwork_backend/internal/logger"
	"fixwork_backend/internal/models"
	"fixwork_backend/internal/moderation"
	"fixwork_backend/internal/push"
	"fixwork_backend/internal/repositories"
	repoChat "fixwork_backend/internal/repositories/chat"
	"fixwork_backend/internal/routes"
	"fixwork_backend/internal/scheduler"
	"fixwork_backend/internal/services"
	chatservice "fixwork_backend/internal/services/chat"
	"fixwork_backend/internal/templates"
	"fixwork_backend/internal/transport"
	"fixwork_backend/internal/workers"
	"fixwork_backend/ws"
)

func Run() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)

	// a malformed template descriptor is a boot failure
	if err := templates.ValidateRegistry(); err != nil {
		logger.Fatal("Template registry invalid", "error", err)
	}

	logger.Info("Connecting to database...")
	gormDB, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to GORM", "error", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal("Failed to get *sql.DB from GORM", "error", err)
	}
	if err = sqlDB.Ping(); err != nil {
		logger.Fatal("Database unavailable", "error", err)
	}
	logger.Info("Database connected")

	if err := gormDB.AutoMigrate(
		&models.User{},
		&models.PushSubscription{},
		&models.Job{},
		&models.JobStatusChange{},
		&models.JobApplication{},
		&models.Notification{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.MessageReadReceipt{},
	); err != nil {
		logger.Fatal("Migration failed", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Redis unavailable", "error", err)
	}
	logger.Info("Redis connected", "addr", cfg.Redis.Addr)

	adapter := transport.New(rdb)
	defer adapter.Cleanup()

	sched := scheduler.NewAsynqScheduler(cfg.Redis.Addr, cfg.Redis.AsynqDB)
	defer sched.Close()

	container := buildServices(cfg, gormDB, rdb, adapter, sched)

	// asynq consumer for delayed automated messages
	autoWorker := workers.NewAutoMessageWorker(container.JobRepo, container.ChatService)
	asynqServer := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.AsynqDB},
		asynq.Config{Concurrency: cfg.Workers.AsynqConcurrency},
	)
	go func() {
		if err := asynqServer.Run(autoWorker.Mux()); err != nil {
			logger.Fatal("Asynq server failed", "error", err)
		}
	}()
	defer asynqServer.Shutdown()

	reminderWorker := workers.NewReminderWorker(
		container.JobRepo, container.JobService, container.NotificationService,
		sched, container.Store,
	)
	reminderWorker.Start(ctx)

	wsManager := ws.NewWebSocketManager()
	go wsManager.Run(ctx)
	wsHandler := ws.NewWebSocketHandler(wsManager, container.ChatService, adapter)

	ginRouter := setupRouter(cfg, container, wsHandler)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: ginRouter,
	}

	go func() {
		logger.Info(fmt.Sprintf("Server starting on %s", cfg.Addr()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server startup error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
}

// ServiceContainer holds the wired services and the shared
// infrastructure the workers also need.
type ServiceContainer struct {
	NotificationService services.NotificationService
	ChatService         chatservice.ChatService
	JobService          services.JobService
	JobRepo             repositories.JobRepository
	Store               cache.Store
}

func buildServices(cfg *config.Config, gormDB *gorm.DB, rdb *redis.Client, adapter *transport.Adapter, sched scheduler.Scheduler) *ServiceContainer {
	userRepo := repositories.NewUserRepository(gormDB)
	jobRepo := repositories.NewJobRepository(gormDB)
	notificationRepo := repositories.NewNotificationRepository(gormDB)
	conversationRepo := repoChat.NewConversationRepository(gormDB)
	messageRepo := repoChat.NewMessageRepository(gormDB)

	store := cache.NewRedisStore(rdb)
	notifyLimiter := cache.NewRateLimiter(rdb, cfg.RateLimits.NotificationsPerMinute, time.Minute)
	messageLimiter := cache.NewRateLimiter(rdb, cfg.RateLimits.MessagesPerMinute, time.Minute)

	validator := moderation.NewRuleValidator(cfg.Moderation.BannedPhrases, cfg.Moderation.ScreenContactInfo)

	var pushSender push.Sender = push.Noop{}
	if cfg.Push.RelayURL != "" {
		pushSender = push.NewRelaySender(cfg.Push.RelayURL, cfg.Push.APIKey)
	}

	notificationService := services.NewNotificationService(
		notificationRepo, userRepo, store, notifyLimiter, adapter, pushSender, validator)
	chatService := chatservice.NewChatService(
		conversationRepo, messageRepo, userRepo, jobRepo, store, messageLimiter, adapter, validator)
	jobService := services.NewJobService(
		jobRepo, userRepo, notificationService, chatService, sched, adapter)

	return &ServiceContainer{
		NotificationService: notificationService,
		ChatService:         chatService,
		JobService:          jobService,
		JobRepo:             jobRepo,
		Store:               store,
	}
}

func setupRouter(cfg *config.Config, container *ServiceContainer, wsHandler *ws.WebSocketHandler) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())

	base := handlers.NewBaseHandler()
	appHandlers := &routes.AppHandlers{
		NotificationHandler: handlers.NewNotificationHandler(base, container.NotificationService),
		ChatHandler:         handlers.NewChatHandler(base, container.ChatService),
		JobHandler:          handlers.NewJobHandler(base, container.JobService),
	}

	routes.RegisterRoutes(ginRouter, appHandlers, wsHandler)
	return ginRouter
}
