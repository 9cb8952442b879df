package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/time/rate"

	"chatcore/docs"
	"chatcore/pkg/chat"
	"chatcore/pkg/config"
	"chatcore/pkg/db"
	"chatcore/pkg/logger"
	"chatcore/pkg/messages"
	"chatcore/pkg/metrics"
	"chatcore/pkg/response"
	"chatcore/pkg/sendemail"
	"chatcore/pkg/users"
)

// @title           Chat Core API
// @version         1.0
// @description     Realtime messaging: websocket gateway plus message history over REST

// @BasePath  /

// @schemes   http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		panic(err)
	}

	appLogger, err := logger.New(cfg.Log.Level, cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer appLogger.Sync()

	appLogger.Info("starting chat core", "env", cfg.Environment, "store", cfg.Chat.Store, "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		usersRepo    users.UserRepository
		messagesRepo messages.MessageRepository
	)
	switch cfg.Chat.Store {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Database, appLogger)
		if err != nil {
			appLogger.Fatal("failed to connect to database", "error", err)
		}
		defer pool.Close()
		usersRepo = users.NewPostgresUserRepository(pool)
		messagesRepo = messages.NewPostgresMessageRepository(pool, cfg.Chat.StoreTimeout)
	default:
		appLogger.Warn("using in-memory store; messages are lost on restart")
		usersRepo = users.NewMemoryUserRepository()
		messagesRepo = messages.NewMemoryMessageRepository()
	}

	usersService := users.NewUserService(usersRepo)
	usersHandler := users.NewUserHandler(usersService)

	messagesService := messages.NewMessageService(messagesRepo, usersService, appLogger, messages.ServiceConfig{
		DefaultPageSize: cfg.Chat.DefaultPageSize,
		MaxPageSize:     cfg.Chat.MaximumPageSize,
	})
	messagesHandler := messages.NewMessageHandler(messagesService)

	appMetrics := metrics.New()

	policy, err := chat.ParsePresencePolicy(cfg.Chat.PresencePolicy)
	if err != nil {
		appLogger.Fatal("invalid presence policy", "error", err)
	}
	routerOpts := []chat.RouterOption{chat.WithPresencePolicy(policy), chat.WithMetrics(appMetrics)}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("failed to connect to redis", "error", err, "addr", cfg.Redis.Addr)
		}
		relay := chat.NewRedisRelay(rdb, cfg.Redis.ChannelPrefix, appLogger.With("component", "relay"))
		defer relay.Close()
		routerOpts = append(routerOpts, chat.WithRelay(relay))
		appLogger.Info("redis relay enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
	}

	chatRouter := chat.NewRouter(appLogger.With("component", "router"), routerOpts...)
	chatRouter.StartRelay(ctx)

	chatHandler := chat.NewHandler(chatRouter, messagesService, appLogger, chat.HandlerConfig{
		StrictRooms:     cfg.Chat.StrictRooms,
		BroadcastAllow:  cfg.Chat.BroadcastAllow,
		SendBuffer:      cfg.Chat.SendBuffer,
		MaxMessageBytes: cfg.Chat.MaxMessageBytes,
		PongWait:        cfg.Chat.PongWait,
		PingPeriod:      cfg.Chat.PingPeriod,
		WriteWait:       cfg.Chat.WriteWait,
		StoreTimeout:    cfg.Chat.StoreTimeout,
		RateLimit:       rate.Limit(cfg.Chat.RateLimitRPS),
		RateBurst:       cfg.Chat.RateLimitBurst,
		AllowAnyOrigin:  cfg.Chat.AllowAnyOrigin,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	})
	chatHandler.SetDirectory(usersService)
	chatHandler.SetMetrics(appMetrics)
	if cfg.SendGrid.APIKey != "" {
		chatHandler.SetNotifier(sendemail.NewOfflineNotifier(sendemail.NewEmailService(cfg.SendGrid), usersService))
	} else {
		appLogger.Info("SENDGRID_API_KEY not set; offline notices disabled")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logger.GinMiddleware(appLogger), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	usersHandler.RegisterRoutes(router)
	messagesHandler.RegisterRoutes(router)

	router.GET("/ws/chat", chatHandler.HandleWebSocketGin)
	router.GET("/chat/status", chatHandler.GetStatusGin)
	router.GET("/chat/status/:username", chatHandler.IsUserOnlineGin)

	router.GET("/health", func(c *gin.Context) {
		response.SendAPIResponse(c, http.StatusOK, true, "ok", gin.H{"env": cfg.Environment})
	})
	router.GET("/metrics", appMetrics.Handler())

	docs.SwaggerInfo.Title = "Chat Core API"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		var err error
		if !cfg.TLS.Enabled {
			appLogger.Info("listening", "addr", srv.Addr, "tls", false)
			err = srv.ListenAndServe()
		} else {
			tlsConfig, certFile, keyFile, tlsErr := buildTLSConfig(cfg.TLS, cfg.Environment)
			if tlsErr != nil {
				appLogger.Fatal("TLS setup error", "error", tlsErr)
			}
			srv.TLSConfig = tlsConfig
			appLogger.Info("listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("listen failed", "error", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
	}
	appLogger.Info("server exiting")
}
