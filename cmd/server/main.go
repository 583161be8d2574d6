package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dakael7/gravitylabs/internal/cache"
	"github.com/dakael7/gravitylabs/internal/config"
	"github.com/dakael7/gravitylabs/internal/feed"
	"github.com/dakael7/gravitylabs/internal/handlers"
	"github.com/dakael7/gravitylabs/internal/handlers/ws"
	"github.com/dakael7/gravitylabs/internal/metrics"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/notify"
	"github.com/dakael7/gravitylabs/internal/presence"
	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/dakael7/gravitylabs/internal/retention"
	"github.com/dakael7/gravitylabs/internal/router"
	"github.com/dakael7/gravitylabs/internal/service"
	"github.com/dakael7/gravitylabs/internal/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	// Initialize database connection
	db, err := repository.InitDB(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis cache (optional; everything works from the database without it)
	redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisCache.Ping(ctx); err != nil {
		log.Printf("WARNING: Redis connection failed: %v. Running without cache.", err)
		redisCache = nil
	} else {
		log.Println("Redis cache connected successfully")
	}

	// Initialize repositories
	messageRepo := repository.NewMessageRepository(db)
	cursorRepo := repository.NewReadCursorRepository(db)
	projectRepo := repository.NewProjectRequestRepository(db)
	logRepo := repository.NewSystemLogRepository(db)

	// Realtime core
	changeFeed := feed.New()
	rt := router.New(cfg.Router.QueueSize)
	registry := presence.NewRegistry(cfg.PresenceRegistryConfig())
	registry.OnTransition(rt.PublishPresence)

	// Initialize services
	messageService := service.NewMessageService(messageRepo, cursorRepo, changeFeed, cfg.MessageLimits())
	activityService := service.NewActivityService(logRepo, changeFeed)
	projectService := service.NewProjectService(projectRepo, activityService, changeFeed)
	if redisCache != nil {
		messageService.SetConversationCache(cache.NewConversationListCache(redisCache))
		registry.SetMirror(cache.NewPresenceCache(redisCache))
	}

	var senders []notify.Sender
	if cfg.Notify.EmailEnabled() {
		senders = append(senders, &notify.EmailSender{
			APIKey: cfg.Notify.ResendAPIKey,
			From:   cfg.Notify.EmailFrom,
			To:     cfg.Notify.EmailRecipients(),
		})
	}
	if cfg.Notify.SMSEnabled() {
		senders = append(senders, &notify.SMSSender{
			AccountSID: cfg.Notify.TwilioAccountSID,
			AuthToken:  cfg.Notify.TwilioAuthToken,
			From:       cfg.Notify.TwilioFrom,
			To:         cfg.Notify.SMSTo,
		})
	}
	notifier := notify.New(registry, time.Duration(cfg.Notify.Cooldown), cfg.Notify.Burst, cfg.Notify.DashboardURL, senders...)

	changeFeed.Attach(rt)
	changeFeed.Attach(activityService)
	changeFeed.Attach(notifier)

	go registry.Run(ctx)
	go activityService.Run(ctx)
	if notifier.Enabled() {
		go notifier.Run(ctx)
		log.Printf("Offline notifications enabled (%d channels)", len(senders))
	}

	if cfg.Retention.Enabled {
		manager, err := retention.NewManager(cfg.Retention.Cron, time.Duration(cfg.Retention.MaxAge), activityService)
		if err != nil {
			log.Fatal("Invalid retention settings: ", err)
		}
		manager.Start(ctx)
	}

	// Initialize S3/MinIO storage (best-effort; attachment endpoints return 503 if missing)
	var (
		attachments handlers.AttachmentUploader
		objects     handlers.ObjectReader
		storeCheck  handlers.Check
	)
	if !cfg.Storage.Enabled() {
		log.Println("WARNING: S3 storage not configured, attachments disabled")
	} else if st, err := storage.NewS3Storage(cfg.Storage); err != nil {
		log.Printf("WARNING: Failed to initialize S3 storage: %v", err)
	} else {
		if err := st.EnsureBucket(ctx, cfg.Storage.Region); err != nil {
			log.Printf("WARNING: S3 bucket check failed: %v", err)
		}
		attachments = service.NewAttachmentService(st, messageService, int64(cfg.Limits.MaxAttachmentSize), cfg.Server.PublicBaseURL)
		objects = st
		storeCheck = func(ctx context.Context) error { return st.EnsureBucket(ctx, cfg.Storage.Region) }
		log.Printf("S3 storage initialized successfully (bucket=%s)", cfg.Storage.Bucket)
	}

	checks := map[string]handlers.Check{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisCache != nil {
		checks["redis"] = redisCache.Ping
	}
	if storeCheck != nil {
		checks["storage"] = storeCheck
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	// Initialize handlers
	wsHandler := handlers.NewWebSocketHandler(hub, rt, registry, messageService)
	conversationHandler := handlers.NewConversationHandler(messageService, attachments)
	presenceHandler := handlers.NewPresenceHandler(registry)
	mediaHandler := handlers.NewMediaHandler(objects)
	projectHandler := handlers.NewProjectHandler(projectService)
	activityHandler := handlers.NewActivityHandler(activityService)
	healthHandler := handlers.NewHealthHandler(checks)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "GravityLabs Support",
		BodyLimit: int(cfg.Server.BodyLimit),
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, " + middleware.CSRFHeader,
		AllowMethods:     "GET, POST, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	app.Get("/health", healthHandler.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	auth := middleware.AuthRequired(cfg.Auth.JWTSecret)
	api := app.Group("/api",
		middleware.OriginAllowed(cfg.Server.AllowedOrigins),
		auth,
		middleware.CSRFRequired(cfg.Server.CSRFMode, cfg.Server.AllowedOrigins),
	)

	perActor := func(prefix string, max int, window time.Duration) fiber.Handler {
		return limiter.New(limiter.Config{
			Max:        max,
			Expiration: window,
			KeyGenerator: func(c *fiber.Ctx) string {
				if actor, err := middleware.ActorFrom(c); err == nil {
					return prefix + ":" + actor.ID
				}
				return c.IP()
			},
		})
	}

	api.Get("/conversations", middleware.RequireStaff(), conversationHandler.ListConversations)
	api.Post("/conversations/:key/messages", perActor("send", 60, time.Minute), conversationHandler.SendMessage)
	api.Get("/conversations/:key/messages", conversationHandler.GetMessages)
	api.Post("/conversations/:key/read", conversationHandler.MarkConversationRead)
	api.Post("/conversations/:key/attachments", perActor("upload", 10, 10*time.Minute), conversationHandler.UploadAttachment)
	api.Post("/messages/:id/read", conversationHandler.MarkMessageRead)
	api.Get("/media/attachments/*", mediaHandler.GetAttachment)

	api.Post("/presence/heartbeat", presenceHandler.Heartbeat)
	api.Delete("/presence/sessions/:token", presenceHandler.EndSession)
	api.Get("/presence", presenceHandler.ListScope)
	api.Get("/presence/:actor", presenceHandler.GetActor)

	api.Post("/projects", perActor("project", 5, time.Hour), projectHandler.Create)
	api.Get("/projects", projectHandler.List)
	api.Patch("/projects/:id/status", middleware.RequireStaff(), projectHandler.UpdateStatus)

	api.Get("/system/logs", middleware.RequireStaff(), activityHandler.ListLogs)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.OriginAllowed(cfg.Server.AllowedOrigins),
		auth,
		wsHandler.Upgrade,
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}

	rt.Close()
	if redisCache != nil {
		redisCache.Close()
	}
}
